package publish

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/ssh"

	"github.com/anonydog/anonydog/internal/vcs"
)

const (
	defaultUsernameConstant                = "git"
	privateKeyRequiredMessageConstant      = "public key supplied without a private key"
	passphraseRequiredMessageConstant      = "private key is encrypted and no passphrase was supplied"
	keyPairMismatchMessageConstant         = "public key does not match private key"
	conflictingHostKeyOptionsMessage       = "known hosts file and insecure host key acceptance are mutually exclusive"
	invalidPrivateKeyErrorTemplateConstant = "invalid private key: %w"
	invalidPublicKeyErrorTemplateConstant  = "invalid public key: %w"
)

var (
	// ErrPrivateKeyRequired indicates a public key was configured without its private half.
	ErrPrivateKeyRequired = errors.New(privateKeyRequiredMessageConstant)
	// ErrPassphraseRequired indicates an encrypted private key without a passphrase.
	ErrPassphraseRequired = errors.New(passphraseRequiredMessageConstant)
	// ErrKeyPairMismatch indicates the configured public key belongs to a different private key.
	ErrKeyPairMismatch = errors.New(keyPairMismatchMessageConstant)
	// ErrConflictingHostKeyOptions indicates both a known hosts file and insecure acceptance were requested.
	ErrConflictingHostKeyOptions = errors.New(conflictingHostKeyOptionsMessage)
)

// Credentials carry the key material used for one push. They are passed by value and never stored globally.
// PrivateKey authenticates ssh destinations and Token authenticates http(s) destinations.
type Credentials struct {
	Username              string
	PrivateKey            []byte
	PublicKey             []byte
	Passphrase            string
	KnownHostsFile        string
	InsecureIgnoreHostKey bool
	Token                 string
	KeyDirectory          string
}

// InDirectory returns a copy whose key material may be staged in keyDirectory during the push.
func (credentials Credentials) InDirectory(keyDirectory string) Credentials {
	credentials.KeyDirectory = keyDirectory
	return credentials
}

// HasToken reports whether an http(s) token is present.
func (credentials Credentials) HasToken() bool {
	return len(strings.TrimSpace(credentials.Token)) > 0
}

// HasPrivateKey reports whether key material is present.
func (credentials Credentials) HasPrivateKey() bool {
	return len(bytes.TrimSpace(credentials.PrivateKey)) > 0
}

// Validate parses the key material and checks the public key matches the private key.
func (credentials Credentials) Validate() error {
	if credentials.InsecureIgnoreHostKey && len(strings.TrimSpace(credentials.KnownHostsFile)) > 0 {
		return ErrConflictingHostKeyOptions
	}
	if !credentials.HasPrivateKey() {
		if len(bytes.TrimSpace(credentials.PublicKey)) > 0 {
			return ErrPrivateKeyRequired
		}
		return nil
	}

	signer, signerError := credentials.signer()
	if signerError != nil {
		return signerError
	}

	if len(bytes.TrimSpace(credentials.PublicKey)) == 0 {
		return nil
	}
	publicKey, _, _, _, parseError := ssh.ParseAuthorizedKey(credentials.PublicKey)
	if parseError != nil {
		return fmt.Errorf(invalidPublicKeyErrorTemplateConstant, parseError)
	}
	if !bytes.Equal(publicKey.Marshal(), signer.PublicKey().Marshal()) {
		return ErrKeyPairMismatch
	}
	return nil
}

// Fingerprint returns the SHA256 fingerprint of the private key's public half, or an empty string.
func (credentials Credentials) Fingerprint() string {
	if !credentials.HasPrivateKey() {
		return ""
	}
	signer, signerError := credentials.signer()
	if signerError != nil {
		return ""
	}
	return ssh.FingerprintSHA256(signer.PublicKey())
}

func (credentials Credentials) signer() (ssh.Signer, error) {
	if len(credentials.Passphrase) > 0 {
		signer, parseError := ssh.ParsePrivateKeyWithPassphrase(credentials.PrivateKey, []byte(credentials.Passphrase))
		if parseError != nil {
			return nil, fmt.Errorf(invalidPrivateKeyErrorTemplateConstant, parseError)
		}
		return signer, nil
	}

	signer, parseError := ssh.ParsePrivateKey(credentials.PrivateKey)
	if parseError != nil {
		var passphraseMissing *ssh.PassphraseMissingError
		if errors.As(parseError, &passphraseMissing) {
			return nil, ErrPassphraseRequired
		}
		return nil, fmt.Errorf(invalidPrivateKeyErrorTemplateConstant, parseError)
	}
	return signer, nil
}

func (credentials Credentials) pushAuthentication() vcs.PushAuthentication {
	username := strings.TrimSpace(credentials.Username)
	if len(username) == 0 {
		username = defaultUsernameConstant
	}
	return vcs.PushAuthentication{
		Username:              username,
		PrivateKey:            credentials.PrivateKey,
		Passphrase:            credentials.Passphrase,
		KnownHostsFile:        strings.TrimSpace(credentials.KnownHostsFile),
		InsecureIgnoreHostKey: credentials.InsecureIgnoreHostKey,
		Token:                 strings.TrimSpace(credentials.Token),
		KeyDirectory:          credentials.KeyDirectory,
	}
}
