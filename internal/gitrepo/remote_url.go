package gitrepo

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	sshProtocolPrefixConstant           = "ssh://"
	sshUserDelimiterConstant            = "@"
	sshPathDelimiterConstant            = ":"
	httpsProtocolPrefixConstant         = "https://"
	pathSeparatorConstant               = "/"
	gitSuffixConstant                   = ".git"
	remoteURLParseErrorTemplateConstant = "%s: %s"
	remoteDescriptionTemplateConstant   = "%s/%s/%s"
	invalidRemoteURLMessageConstant     = "invalid remote url"
	requiredValueMessageConstant        = "value required"
	redactedPasswordConstant            = "redacted"
)

// RemoteProtocol enumerates recognized git remote protocols.
type RemoteProtocol string

// Recognized remote protocols.
const (
	RemoteProtocolSSH   RemoteProtocol = RemoteProtocol("ssh")
	RemoteProtocolHTTPS RemoteProtocol = RemoteProtocol("https")
)

// RemoteURL represents a hosted repository remote.
type RemoteURL struct {
	Protocol   RemoteProtocol
	User       string
	Host       string
	Owner      string
	Repository string
}

// String renders host/owner/repository.
func (remote RemoteURL) String() string {
	return fmt.Sprintf(remoteDescriptionTemplateConstant, remote.Host, remote.Owner, remote.Repository)
}

// RemoteURLParseError indicates a remote string could not be parsed.
type RemoteURLParseError struct {
	Input   string
	Message string
}

// Error describes the parse failure.
func (parseError RemoteURLParseError) Error() string {
	return fmt.Sprintf(remoteURLParseErrorTemplateConstant, parseError.Input, parseError.Message)
}

// ParseRemoteURL converts an ssh (scp-like or ssh://) or https remote of the form
// <host>/<owner>/<repository> into a structured representation.
func ParseRemoteURL(remote string) (RemoteURL, error) {
	trimmedRemote := strings.TrimSpace(remote)
	if len(trimmedRemote) == 0 {
		return RemoteURL{}, RemoteURLParseError{Input: remote, Message: requiredValueMessageConstant}
	}

	if strings.HasPrefix(trimmedRemote, sshProtocolPrefixConstant) {
		return parseSSHRemote(strings.TrimPrefix(trimmedRemote, sshProtocolPrefixConstant))
	}
	if strings.HasPrefix(trimmedRemote, httpsProtocolPrefixConstant) {
		return parseHTTPSRemote(strings.TrimPrefix(trimmedRemote, httpsProtocolPrefixConstant))
	}
	if strings.Contains(trimmedRemote, sshUserDelimiterConstant) && !strings.Contains(trimmedRemote, "://") {
		return parseSSHRemote(trimmedRemote)
	}

	return RemoteURL{}, RemoteURLParseError{Input: remote, Message: invalidRemoteURLMessageConstant}
}

// IsSSH reports whether the remote is reached over ssh.
func IsSSH(remote string) bool {
	parsed, parseError := ParseRemoteURL(remote)
	return parseError == nil && parsed.Protocol == RemoteProtocolSSH
}

// Describe returns a log-safe label for a remote: host/owner/repository when recognized,
// otherwise the input with any embedded password redacted.
func Describe(remote string) string {
	if parsed, parseError := ParseRemoteURL(remote); parseError == nil {
		return parsed.String()
	}

	parsedURL, urlError := url.Parse(strings.TrimSpace(remote))
	if urlError != nil || parsedURL.User == nil {
		return strings.TrimSpace(remote)
	}
	if _, hasPassword := parsedURL.User.Password(); hasPassword {
		parsedURL.User = url.UserPassword(parsedURL.User.Username(), redactedPasswordConstant)
	}
	return parsedURL.String()
}

func parseSSHRemote(remote string) (RemoteURL, error) {
	userSplitIndex := strings.Index(remote, sshUserDelimiterConstant)
	if userSplitIndex == -1 {
		return RemoteURL{}, RemoteURLParseError{Input: remote, Message: invalidRemoteURLMessageConstant}
	}
	user := remote[:userSplitIndex]
	hostAndPath := remote[userSplitIndex+1:]

	var host string
	var path string
	if slashIndex := strings.Index(hostAndPath, pathSeparatorConstant); slashIndex != -1 && !strings.Contains(hostAndPath[:slashIndex], sshPathDelimiterConstant) {
		host = hostAndPath[:slashIndex]
		path = hostAndPath[slashIndex+1:]
	} else {
		pathSplitIndex := strings.Index(hostAndPath, sshPathDelimiterConstant)
		if pathSplitIndex == -1 {
			return RemoteURL{}, RemoteURLParseError{Input: remote, Message: invalidRemoteURLMessageConstant}
		}
		host = hostAndPath[:pathSplitIndex]
		path = hostAndPath[pathSplitIndex+1:]
	}

	owner, repository, parseError := splitOwnerAndRepository(path)
	if parseError != nil {
		return RemoteURL{}, parseError
	}
	return RemoteURL{Protocol: RemoteProtocolSSH, User: user, Host: host, Owner: owner, Repository: repository}, nil
}

func parseHTTPSRemote(remote string) (RemoteURL, error) {
	user := ""
	if userSplitIndex := strings.Index(remote, sshUserDelimiterConstant); userSplitIndex != -1 && userSplitIndex < strings.Index(remote+pathSeparatorConstant, pathSeparatorConstant) {
		user, _, _ = strings.Cut(remote[:userSplitIndex], sshPathDelimiterConstant)
		remote = remote[userSplitIndex+1:]
	}

	pathComponents := strings.Split(remote, pathSeparatorConstant)
	if len(pathComponents) != 3 {
		return RemoteURL{}, RemoteURLParseError{Input: remote, Message: invalidRemoteURLMessageConstant}
	}
	repository, parseError := normalizeRepositoryName(pathComponents[2])
	if parseError != nil {
		return RemoteURL{}, parseError
	}
	if len(pathComponents[0]) == 0 || len(pathComponents[1]) == 0 {
		return RemoteURL{}, RemoteURLParseError{Input: remote, Message: invalidRemoteURLMessageConstant}
	}
	return RemoteURL{Protocol: RemoteProtocolHTTPS, User: user, Host: pathComponents[0], Owner: pathComponents[1], Repository: repository}, nil
}

func splitOwnerAndRepository(path string) (string, string, error) {
	segments := strings.Split(strings.TrimPrefix(path, pathSeparatorConstant), pathSeparatorConstant)
	if len(segments) != 2 || len(segments[0]) == 0 {
		return "", "", RemoteURLParseError{Input: path, Message: invalidRemoteURLMessageConstant}
	}
	repository, parseError := normalizeRepositoryName(segments[1])
	if parseError != nil {
		return "", "", parseError
	}
	return segments[0], repository, nil
}

func normalizeRepositoryName(repository string) (string, error) {
	trimmed := strings.TrimSuffix(repository, gitSuffixConstant)
	if len(trimmed) == 0 {
		return "", RemoteURLParseError{Input: repository, Message: invalidRemoteURLMessageConstant}
	}
	return trimmed, nil
}
