package anonydog

import (
	"fmt"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/anonydog/anonydog/internal/execshell"
	"github.com/anonydog/anonydog/internal/githubauth"
	"github.com/anonydog/anonydog/internal/publish"
	"github.com/anonydog/anonydog/internal/rewrite"
	"github.com/anonydog/anonydog/internal/vcs"
	"github.com/anonydog/anonydog/internal/vcs/gitcli"
	"github.com/anonydog/anonydog/internal/vcs/gogit"
	"github.com/anonydog/anonydog/internal/workspace"
)

const (
	invalidCredentialsErrorTemplateConstant = "invalid publish credentials: %w"
	backendSelectedMessageConstant          = "vcs backend selected"
	logFieldBackendConstant                 = "backend"
)

// ServiceFactory builds a Service from configuration.
type ServiceFactory func(configuration Configuration, logger *zap.Logger) (*Service, error)

// NewServiceFromConfiguration wires the workspace manager, backend, rewriter, publisher and
// credentials described by configuration. Workspaces live on the operating system filesystem
// because both backends address repositories by path.
func NewServiceFromConfiguration(configuration Configuration, logger *zap.Logger) (*Service, error) {
	return newServiceWithFileSystem(afero.NewOsFs(), nil, configuration, logger)
}

func newServiceWithFileSystem(fileSystem afero.Fs, gitExecutor gitcli.GitExecutor, configuration Configuration, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	credentials, credentialsError := configuration.Publish.Credentials(fileSystem, githubauth.NewTokenResolver(nil))
	if credentialsError != nil {
		return nil, credentialsError
	}
	if validationError := credentials.Validate(); validationError != nil {
		return nil, fmt.Errorf(invalidCredentialsErrorTemplateConstant, validationError)
	}

	backend, backendError := resolveBackend(configuration.Anonymize.Backend, fileSystem, gitExecutor, logger)
	if backendError != nil {
		return nil, backendError
	}

	workspaces, workspaceError := workspace.NewManager(fileSystem, configuration.Anonymize.WorkspaceRoot, logger)
	if workspaceError != nil {
		return nil, workspaceError
	}

	rewriter, rewriterError := rewrite.NewRewriter(rewrite.Dependencies{Backend: backend, Logger: logger}, configuration.Anonymize.RewriteOptions())
	if rewriterError != nil {
		return nil, rewriterError
	}

	return NewService(Dependencies{
		Workspaces:  workspaces,
		Rewriter:    rewriter,
		Publisher:   publish.NewPublisher(logger),
		Credentials: credentials,
		Logger:      logger,
	})
}

func resolveBackend(kind BackendKind, fileSystem afero.Fs, gitExecutor gitcli.GitExecutor, logger *zap.Logger) (vcs.Backend, error) {
	parsedKind, parseError := ParseBackendKind(string(kind))
	if parseError != nil {
		return nil, parseError
	}
	logger.Debug(backendSelectedMessageConstant, zap.String(logFieldBackendConstant, string(parsedKind)))

	if parsedKind == BackendGoGit {
		return gogit.NewBackend(logger), nil
	}

	if gitExecutor == nil {
		shellExecutor, executorError := execshell.NewShellExecutor(logger, execshell.NewOSCommandRunner())
		if executorError != nil {
			return nil, executorError
		}
		gitExecutor = shellExecutor
	}
	return gitcli.NewBackend(gitExecutor, fileSystem, logger), nil
}
