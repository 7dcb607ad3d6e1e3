// Package workspace manages the exclusively owned scratch directories that
// hold a repository while its commits are being anonymized.
//
// Workspaces contain original, non-anonymized history, so every acquisition
// is paired with a release that removes the directory tree on all exit paths.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/afero"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/anonydog/anonydog/internal/vcs"
)

const (
	workspaceDirectoryPatternConstant        = "anonydog-*"
	repositoryDirectoryNameConstant          = "repository.git"
	credentialsDirectoryNameConstant         = "credentials"
	credentialsDirectoryPermissionsConstant  = 0o700
	filesystemMissingMessageConstant         = "workspace filesystem not configured"
	workspaceCreationErrorTemplateConstant   = "failed to create workspace under %s: %w"
	credentialsCreationErrorTemplateConstant = "failed to create credentials directory in %s: %w"
	workspaceAcquiredMessageConstant         = "workspace acquired"
	workspaceReleasedMessageConstant         = "deleting workspace"
	workspaceReleaseFailedMessageConstant    = "workspace deletion failed"
	logFieldWorkspacePathConstant            = "workspace_path"
)

// ErrFileSystemNotConfigured indicates the manager was built without a filesystem.
var ErrFileSystemNotConfigured = errors.New(filesystemMissingMessageConstant)

// Manager hands out uniquely named workspaces beneath a root directory.
type Manager struct {
	fileSystem    afero.Fs
	rootDirectory string
	logger        *zap.Logger
}

// Workspace is a single acquired scratch directory.
type Workspace struct {
	fileSystem  afero.Fs
	path        string
	logger      *zap.Logger
	releaseOnce sync.Once
	releaseErr  error
}

// NewManager constructs a Manager. An empty rootDirectory selects the operating system temporary directory.
func NewManager(fileSystem afero.Fs, rootDirectory string, logger *zap.Logger) (*Manager, error) {
	if fileSystem == nil {
		return nil, ErrFileSystemNotConfigured
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	trimmedRoot := strings.TrimSpace(rootDirectory)
	if len(trimmedRoot) == 0 {
		trimmedRoot = os.TempDir()
	}
	return &Manager{fileSystem: fileSystem, rootDirectory: trimmedRoot, logger: logger}, nil
}

// Acquire creates a fresh workspace directory. Callers must Release it.
func (manager *Manager) Acquire(executionContext context.Context) (*Workspace, error) {
	if contextError := executionContext.Err(); contextError != nil {
		return nil, contextError
	}

	if mkdirError := manager.fileSystem.MkdirAll(manager.rootDirectory, credentialsDirectoryPermissionsConstant); mkdirError != nil {
		return nil, fmt.Errorf(workspaceCreationErrorTemplateConstant, manager.rootDirectory, mkdirError)
	}

	workspacePath, creationError := afero.TempDir(manager.fileSystem, manager.rootDirectory, workspaceDirectoryPatternConstant)
	if creationError != nil {
		return nil, fmt.Errorf(workspaceCreationErrorTemplateConstant, manager.rootDirectory, creationError)
	}

	acquired := &Workspace{fileSystem: manager.fileSystem, path: workspacePath, logger: manager.logger}

	credentialsPath := acquired.CredentialsPath()
	if mkdirError := manager.fileSystem.MkdirAll(credentialsPath, credentialsDirectoryPermissionsConstant); mkdirError != nil {
		creationFailure := fmt.Errorf(credentialsCreationErrorTemplateConstant, workspacePath, mkdirError)
		return nil, multierr.Append(creationFailure, acquired.Release())
	}

	manager.logger.Debug(workspaceAcquiredMessageConstant, zap.String(logFieldWorkspacePathConstant, workspacePath))
	return acquired, nil
}

// Run acquires a workspace, invokes operation, and releases the workspace on every exit path.
// A release failure is appended to, never substituted for, the operation's error.
func (manager *Manager) Run(executionContext context.Context, operation func(*Workspace) error) (resultError error) {
	acquired, acquisitionError := manager.Acquire(executionContext)
	if acquisitionError != nil {
		return acquisitionError
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			_ = acquired.Release()
			panic(recovered)
		}
		resultError = multierr.Append(resultError, acquired.Release())
	}()

	return operation(acquired)
}

// Path returns the workspace root directory.
func (workspace *Workspace) Path() string {
	return workspace.path
}

// RepositoryPath returns where the working repository is cloned.
func (workspace *Workspace) RepositoryPath() string {
	return filepath.Join(workspace.path, repositoryDirectoryNameConstant)
}

// CredentialsPath returns the directory reserved for short-lived key material.
func (workspace *Workspace) CredentialsPath() string {
	return filepath.Join(workspace.path, credentialsDirectoryNameConstant)
}

// Release removes the workspace tree. Subsequent calls return the first result.
func (workspace *Workspace) Release() error {
	workspace.releaseOnce.Do(func() {
		workspace.logger.Info(workspaceReleasedMessageConstant, zap.String(logFieldWorkspacePathConstant, workspace.path))
		if removalError := workspace.fileSystem.RemoveAll(workspace.path); removalError != nil {
			workspace.logger.Error(workspaceReleaseFailedMessageConstant, zap.String(logFieldWorkspacePathConstant, workspace.path), zap.Error(removalError))
			workspace.releaseErr = vcs.NewOperationError(vcs.ErrorKindCleanup, vcs.OperationReleaseWorkspace, workspace.path, removalError)
		}
	})
	return workspace.releaseErr
}

// Released reports whether the workspace directory no longer exists.
func (workspace *Workspace) Released() bool {
	exists, existsError := afero.DirExists(workspace.fileSystem, workspace.path)
	return existsError == nil && !exists
}
