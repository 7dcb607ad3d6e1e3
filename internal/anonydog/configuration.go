package anonydog

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/afero"

	"github.com/anonydog/anonydog/internal/githubauth"
	"github.com/anonydog/anonydog/internal/publish"
	"github.com/anonydog/anonydog/internal/rewrite"
)

const (
	unknownBackendErrorTemplateConstant = "%w %q (expected gogit or git)"
	keyFileReadErrorTemplateConstant    = "failed to read %s: %w"
	defaultUpstreamRemoteConstant       = "upstream"
	defaultPublishUsernameConstant      = "git"
	privateKeyDescriptionConstant       = "private key file"
	publicKeyDescriptionConstant        = "public key file"
)

// ErrUnknownBackend indicates a backend name other than gogit or git.
var ErrUnknownBackend = errors.New("unknown backend")

// BackendKind selects the vcs implementation.
type BackendKind string

// Supported backends.
const (
	BackendGoGit  BackendKind = "gogit"
	BackendGitCLI BackendKind = "git"
)

// ParseBackendKind normalizes a backend name; empty selects gogit.
func ParseBackendKind(value string) (BackendKind, error) {
	switch BackendKind(strings.ToLower(strings.TrimSpace(value))) {
	case "", BackendGoGit:
		return BackendGoGit, nil
	case BackendGitCLI:
		return BackendGitCLI, nil
	default:
		return "", fmt.Errorf(unknownBackendErrorTemplateConstant, ErrUnknownBackend, value)
	}
}

// UnmarshalText parses a configured backend name.
func (kind *BackendKind) UnmarshalText(text []byte) error {
	parsed, parseError := ParseBackendKind(string(text))
	if parseError != nil {
		return parseError
	}
	*kind = parsed
	return nil
}

// AnonymizeConfiguration controls how contributions are rewritten.
type AnonymizeConfiguration struct {
	Backend        BackendKind            `mapstructure:"backend"`
	WorkspaceRoot  string                 `mapstructure:"workspace_root"`
	UpstreamRemote string                 `mapstructure:"upstream_remote"`
	TopologyPolicy rewrite.TopologyPolicy `mapstructure:"topology_policy"`
	Identity       rewrite.Identity       `mapstructure:"identity"`
}

// PublishConfiguration carries push credentials. Inline key material takes precedence over key files.
// Token authenticates https destinations and falls back to the GitHub token environment variables.
type PublishConfiguration struct {
	Username              string `mapstructure:"username"`
	PrivateKey            string `mapstructure:"private_key"`
	PrivateKeyFile        string `mapstructure:"private_key_file"`
	PublicKey             string `mapstructure:"public_key"`
	PublicKeyFile         string `mapstructure:"public_key_file"`
	Passphrase            string `mapstructure:"passphrase"`
	KnownHostsFile        string `mapstructure:"known_hosts_file"`
	InsecureIgnoreHostKey bool   `mapstructure:"insecure_ignore_host_key"`
	Token                 string `mapstructure:"token"`
}

// BatchConfiguration controls manifest processing.
type BatchConfiguration struct {
	Manifest    string `mapstructure:"manifest"`
	Parallelism int    `mapstructure:"parallelism"`
}

// Configuration aggregates the service settings.
type Configuration struct {
	Anonymize AnonymizeConfiguration `mapstructure:"anonymize"`
	Publish   PublishConfiguration   `mapstructure:"publish"`
	Batch     BatchConfiguration     `mapstructure:"batch"`
}

// DefaultConfiguration returns the built-in settings.
func DefaultConfiguration() Configuration {
	return Configuration{
		Anonymize: AnonymizeConfiguration{
			Backend:        BackendGoGit,
			UpstreamRemote: defaultUpstreamRemoteConstant,
			TopologyPolicy: rewrite.TopologyPolicyReject,
			Identity:       rewrite.DefaultIdentity(),
		},
		Publish: PublishConfiguration{Username: defaultPublishUsernameConstant},
		Batch:   BatchConfiguration{Parallelism: defaultBatchParallelismConstant},
	}
}

// DefaultConfigurationValues flattens DefaultConfiguration into viper default keys.
func DefaultConfigurationValues() map[string]any {
	defaults := DefaultConfiguration()
	return map[string]any{
		"anonymize.backend":                string(defaults.Anonymize.Backend),
		"anonymize.workspace_root":         defaults.Anonymize.WorkspaceRoot,
		"anonymize.upstream_remote":        defaults.Anonymize.UpstreamRemote,
		"anonymize.topology_policy":        string(defaults.Anonymize.TopologyPolicy),
		"anonymize.identity.name":          defaults.Anonymize.Identity.Name,
		"anonymize.identity.email":         defaults.Anonymize.Identity.Email,
		"publish.username":                 defaults.Publish.Username,
		"publish.private_key":              "",
		"publish.private_key_file":         "",
		"publish.public_key":               "",
		"publish.public_key_file":          "",
		"publish.passphrase":               "",
		"publish.known_hosts_file":         "",
		"publish.insecure_ignore_host_key": false,
		"publish.token":                    "",
		"batch.manifest":                   "",
		"batch.parallelism":                defaults.Batch.Parallelism,
	}
}

// RewriteOptions converts the anonymize settings into rewriter options.
func (configuration AnonymizeConfiguration) RewriteOptions() rewrite.Options {
	return rewrite.Options{
		UpstreamRemote: configuration.UpstreamRemote,
		Identity: rewrite.Identity{
			Name:  strings.TrimSpace(configuration.Identity.Name),
			Email: strings.TrimSpace(configuration.Identity.Email),
		},
		TopologyPolicy: configuration.TopologyPolicy,
	}
}

// Credentials resolves the configured key material, reading key files from fileSystem when no
// inline key is set, and the https token through tokens.
func (configuration PublishConfiguration) Credentials(fileSystem afero.Fs, tokens githubauth.TokenResolver) (publish.Credentials, error) {
	privateKey, privateError := resolveKeyMaterial(fileSystem, configuration.PrivateKey, configuration.PrivateKeyFile, privateKeyDescriptionConstant)
	if privateError != nil {
		return publish.Credentials{}, privateError
	}
	publicKey, publicError := resolveKeyMaterial(fileSystem, configuration.PublicKey, configuration.PublicKeyFile, publicKeyDescriptionConstant)
	if publicError != nil {
		return publish.Credentials{}, publicError
	}
	token, _ := tokens.Resolve(configuration.Token)
	return publish.Credentials{
		Username:              strings.TrimSpace(configuration.Username),
		PrivateKey:            privateKey,
		PublicKey:             publicKey,
		Passphrase:            configuration.Passphrase,
		KnownHostsFile:        strings.TrimSpace(configuration.KnownHostsFile),
		InsecureIgnoreHostKey: configuration.InsecureIgnoreHostKey,
		Token:                 token,
	}, nil
}

func resolveKeyMaterial(fileSystem afero.Fs, inline string, filePath string, description string) ([]byte, error) {
	if len(strings.TrimSpace(inline)) > 0 {
		return []byte(inline), nil
	}
	trimmedPath := strings.TrimSpace(filePath)
	if len(trimmedPath) == 0 {
		return nil, nil
	}
	contents, readError := afero.ReadFile(fileSystem, trimmedPath)
	if readError != nil {
		return nil, fmt.Errorf(keyFileReadErrorTemplateConstant, description, readError)
	}
	return contents, nil
}

// PathExpander rewrites user supplied paths, for example expanding a leading tilde.
type PathExpander interface {
	ExpandAll(candidatePaths ...*string)
}

// ExpandPaths applies expander to every filesystem path in the configuration.
func (configuration Configuration) ExpandPaths(expander PathExpander) Configuration {
	if expander == nil {
		return configuration
	}
	expanded := configuration
	expander.ExpandAll(
		&expanded.Anonymize.WorkspaceRoot,
		&expanded.Publish.PrivateKeyFile,
		&expanded.Publish.PublicKeyFile,
		&expanded.Publish.KnownHostsFile,
		&expanded.Batch.Manifest,
	)
	return expanded
}
