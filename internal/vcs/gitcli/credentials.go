package gitcli

import (
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/afero"
	"golang.org/x/crypto/ssh"

	"github.com/anonydog/anonydog/internal/vcs"
)

const (
	keyFilePatternConstant             = "push-key-*"
	credentialsDirectoryModeConstant   = os.FileMode(0o700)
	keyFileModeConstant                = os.FileMode(0o600)
	sshCommandEnvironmentConstant      = "GIT_SSH_COMMAND"
	sshBaseCommandTemplateConstant     = "ssh -i %s -o IdentitiesOnly=yes -o BatchMode=yes"
	sshLoginTemplateConstant           = " -l %s"
	sshStrictKnownHostsTemplate        = " -o StrictHostKeyChecking=yes -o UserKnownHostsFile=%s"
	sshInsecureHostKeyOptionsConstant  = " -o StrictHostKeyChecking=no -o UserKnownHostsFile=/dev/null"
	shellSingleQuoteConstant           = "'"
	httpURLPrefixConstant              = "http://"
	httpsURLPrefixConstant             = "https://"
	tokenUsernameConstant              = "x-access-token"
	configCountEnvironmentConstant     = "GIT_CONFIG_COUNT"
	configKeyEnvironmentConstant       = "GIT_CONFIG_KEY_0"
	configValueEnvironmentConstant     = "GIT_CONFIG_VALUE_0"
	extraHeaderConfigKeyConstant       = "http.extraHeader"
	basicAuthorizationHeaderTemplate   = "Authorization: Basic %s"
	shellEscapedSingleQuoteConstant    = `'\''`
	keyRemovalFailedMessageConstant    = "failed to remove transient push key"
	decryptKeyErrorTemplateConstant    = "failed to decrypt private key: %w"
	reencodeKeyErrorTemplateConstant   = "failed to re-encode private key: %w"
	prepareKeyDirErrorTemplateConstant = "failed to prepare credentials directory: %w"
	writeKeyErrorTemplateConstant      = "failed to write private key: %w"
	keyDirectoryRequiredMessage        = "no credentials directory supplied for the private key"
)

// ErrKeyDirectoryRequired indicates a private key push without a directory to stage the key in.
var ErrKeyDirectoryRequired = errors.New(keyDirectoryRequiredMessage)

type transientKeyFile struct {
	fileSystem afero.Fs
	path       string
}

func (keyFile transientKeyFile) remove() error {
	return keyFile.fileSystem.Remove(keyFile.path)
}

// writeKeyFile stores the private key with owner-only permissions in the caller's key directory.
// ssh cannot prompt for a passphrase here, so encrypted keys are decrypted before writing.
func writeKeyFile(fileSystem afero.Fs, authentication vcs.PushAuthentication) (transientKeyFile, error) {
	credentialsDirectory := strings.TrimSpace(authentication.KeyDirectory)
	if len(credentialsDirectory) == 0 {
		return transientKeyFile{}, ErrKeyDirectoryRequired
	}

	keyMaterial := authentication.PrivateKey
	if len(authentication.Passphrase) > 0 {
		decrypted, decryptError := decryptPrivateKey(keyMaterial, authentication.Passphrase)
		if decryptError != nil {
			return transientKeyFile{}, decryptError
		}
		keyMaterial = decrypted
	}

	if mkdirError := fileSystem.MkdirAll(credentialsDirectory, credentialsDirectoryModeConstant); mkdirError != nil {
		return transientKeyFile{}, fmt.Errorf(prepareKeyDirErrorTemplateConstant, mkdirError)
	}

	file, createError := afero.TempFile(fileSystem, credentialsDirectory, keyFilePatternConstant)
	if createError != nil {
		return transientKeyFile{}, fmt.Errorf(writeKeyErrorTemplateConstant, createError)
	}
	keyFile := transientKeyFile{fileSystem: fileSystem, path: file.Name()}

	_, writeError := file.Write(keyMaterial)
	closeError := file.Close()
	chmodError := fileSystem.Chmod(keyFile.path, keyFileModeConstant)
	for _, failure := range []error{writeError, closeError, chmodError} {
		if failure != nil {
			_ = keyFile.remove()
			return transientKeyFile{}, fmt.Errorf(writeKeyErrorTemplateConstant, failure)
		}
	}
	return keyFile, nil
}

func decryptPrivateKey(encrypted []byte, passphrase string) ([]byte, error) {
	rawKey, parseError := ssh.ParseRawPrivateKeyWithPassphrase(encrypted, []byte(passphrase))
	if parseError != nil {
		return nil, fmt.Errorf(decryptKeyErrorTemplateConstant, parseError)
	}
	block, marshalError := ssh.MarshalPrivateKey(rawKey, "")
	if marshalError != nil {
		return nil, fmt.Errorf(reencodeKeyErrorTemplateConstant, marshalError)
	}
	return pem.EncodeToMemory(block), nil
}

func sshCommand(keyPath string, authentication vcs.PushAuthentication) string {
	command := fmt.Sprintf(sshBaseCommandTemplateConstant, shellQuote(keyPath))
	if username := strings.TrimSpace(authentication.Username); len(username) > 0 {
		command += fmt.Sprintf(sshLoginTemplateConstant, shellQuote(username))
	}
	switch {
	case authentication.InsecureIgnoreHostKey:
		command += sshInsecureHostKeyOptionsConstant
	case len(strings.TrimSpace(authentication.KnownHostsFile)) > 0:
		command += fmt.Sprintf(sshStrictKnownHostsTemplate, shellQuote(authentication.KnownHostsFile))
	}
	return command
}

func shellQuote(value string) string {
	return shellSingleQuoteConstant + strings.ReplaceAll(value, shellSingleQuoteConstant, shellEscapedSingleQuoteConstant) + shellSingleQuoteConstant
}

// tokenEnvironment passes the token as an http.extraHeader through GIT_CONFIG_* variables so it never
// appears in the command line. Only http(s) remotes receive it.
func tokenEnvironment(remoteURL string, authentication vcs.PushAuthentication) map[string]string {
	token := strings.TrimSpace(authentication.Token)
	if len(token) == 0 {
		return nil
	}
	lowerURL := strings.ToLower(strings.TrimSpace(remoteURL))
	if !strings.HasPrefix(lowerURL, httpsURLPrefixConstant) && !strings.HasPrefix(lowerURL, httpURLPrefixConstant) {
		return nil
	}
	encodedCredentials := base64.StdEncoding.EncodeToString([]byte(tokenUsernameConstant + ":" + token))
	return map[string]string{
		configCountEnvironmentConstant: "1",
		configKeyEnvironmentConstant:   extraHeaderConfigKeyConstant,
		configValueEnvironmentConstant: fmt.Sprintf(basicAuthorizationHeaderTemplate, encodedCredentials),
	}
}
