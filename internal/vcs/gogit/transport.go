package gogit

import (
	"errors"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	gitssh "github.com/go-git/go-git/v5/plumbing/transport/ssh"
	cryptossh "golang.org/x/crypto/ssh"

	"github.com/anonydog/anonydog/internal/vcs"
)

const (
	sshProtocolConstant             = "ssh"
	httpProtocolConstant            = "http"
	httpsProtocolConstant           = "https"
	tokenUsernameConstant           = "x-access-token"
	defaultSSHUsernameConstant      = "git"
	rejectionCommandMarkerConstant  = "command error on"
	rejectionUnpackMarkerConstant   = "unpack error"
	rejectionRejectedMarkerConstant = "rejected"
	rejectionDeclinedMarkerConstant = "declined"
	authenticationHandshakeMarker   = "unable to authenticate"
	authenticationMethodsMarker     = "no supported methods remain"
	authenticationHostKeyMarker     = "knownhosts"
)

// buildAuthMethod selects the transport authentication for remoteURL.
// ssh endpoints with key material get public key authentication and http(s) endpoints with a token get
// basic authentication; everything else pushes unauthenticated.
func buildAuthMethod(remoteURL string, authentication vcs.PushAuthentication) (transport.AuthMethod, error) {
	endpoint, endpointError := transport.NewEndpoint(remoteURL)
	if endpointError != nil {
		return nil, vcs.NewOperationError(vcs.ErrorKindResolution, vcs.OperationPush, remoteURL, endpointError)
	}
	switch endpoint.Protocol {
	case httpProtocolConstant, httpsProtocolConstant:
		token := strings.TrimSpace(authentication.Token)
		if len(token) == 0 {
			return nil, nil
		}
		return &githttp.BasicAuth{Username: tokenUsernameConstant, Password: token}, nil
	case sshProtocolConstant:
	default:
		return nil, nil
	}
	if len(authentication.PrivateKey) == 0 {
		return nil, nil
	}

	username := strings.TrimSpace(authentication.Username)
	if len(username) == 0 {
		username = endpoint.User
	}
	if len(username) == 0 {
		username = defaultSSHUsernameConstant
	}

	publicKeys, keyError := gitssh.NewPublicKeys(username, authentication.PrivateKey, authentication.Passphrase)
	if keyError != nil {
		return nil, vcs.NewOperationError(vcs.ErrorKindAuthentication, vcs.OperationPush, remoteURL, keyError)
	}

	switch {
	case authentication.InsecureIgnoreHostKey:
		publicKeys.HostKeyCallback = cryptossh.InsecureIgnoreHostKey()
	case len(strings.TrimSpace(authentication.KnownHostsFile)) > 0:
		callback, callbackError := gitssh.NewKnownHostsCallback(authentication.KnownHostsFile)
		if callbackError != nil {
			return nil, vcs.NewOperationError(vcs.ErrorKindAuthentication, vcs.OperationPush, authentication.KnownHostsFile, callbackError)
		}
		publicKeys.HostKeyCallback = callback
	}

	return publicKeys, nil
}

func classifyTransportError(operation vcs.OperationName, subject string, cause error) error {
	return vcs.NewOperationError(transportErrorKind(cause), operation, subject, cause)
}

func classifyPushError(remoteURL string, cause error) error {
	if isRejection(cause) {
		return vcs.NewOperationError(vcs.ErrorKindRejected, vcs.OperationPush, remoteURL, cause)
	}
	return classifyTransportError(vcs.OperationPush, remoteURL, cause)
}

func transportErrorKind(cause error) vcs.ErrorKind {
	switch {
	case errors.Is(cause, transport.ErrAuthenticationRequired),
		errors.Is(cause, transport.ErrAuthorizationFailed),
		errors.Is(cause, transport.ErrInvalidAuthMethod):
		return vcs.ErrorKindAuthentication
	case errors.Is(cause, transport.ErrRepositoryNotFound),
		errors.Is(cause, transport.ErrEmptyRemoteRepository):
		return vcs.ErrorKindResolution
	}

	loweredMessage := strings.ToLower(cause.Error())
	for _, marker := range []string{authenticationHandshakeMarker, authenticationMethodsMarker, authenticationHostKeyMarker} {
		if strings.Contains(loweredMessage, marker) {
			return vcs.ErrorKindAuthentication
		}
	}
	return vcs.ErrorKindNetwork
}

func isRejection(cause error) bool {
	if errors.Is(cause, git.ErrNonFastForwardUpdate) || errors.Is(cause, git.ErrForceNeeded) {
		return true
	}
	loweredMessage := strings.ToLower(cause.Error())
	for _, marker := range []string{rejectionCommandMarkerConstant, rejectionUnpackMarkerConstant, rejectionRejectedMarkerConstant, rejectionDeclinedMarkerConstant} {
		if strings.Contains(loweredMessage, marker) {
			return true
		}
	}
	return false
}
