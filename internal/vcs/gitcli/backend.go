// Package gitcli implements the vcs contract by running the git executable.
package gitcli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/anonydog/anonydog/internal/execshell"
	"github.com/anonydog/anonydog/internal/gitrepo"
	"github.com/anonydog/anonydog/internal/vcs"
)

const (
	gitInitSubcommandConstant        = "init"
	gitLsRemoteSubcommandConstant    = "ls-remote"
	gitRemoteSubcommandConstant      = "remote"
	gitRemoteAddSubcommandConstant   = "add"
	gitFetchSubcommandConstant       = "fetch"
	gitRevParseSubcommandConstant    = "rev-parse"
	gitMergeBaseSubcommandConstant   = "merge-base"
	gitLogSubcommandConstant         = "log"
	gitCommitTreeSubcommandConstant  = "commit-tree"
	gitShowRefSubcommandConstant     = "show-ref"
	gitBranchSubcommandConstant      = "branch"
	gitSymbolicRefSubcommandConstant = "symbolic-ref"
	gitPushSubcommandConstant        = "push"
	gitBareFlagConstant              = "--bare"
	gitSymrefFlagConstant            = "--symref"
	gitQuietFlagConstant             = "--quiet"
	gitVerifyFlagConstant            = "--verify"
	gitShortFlagConstant             = "--short"
	gitNoTrackFlagConstant           = "--no-track"
	gitForceFlagConstant             = "--force"
	gitParentFlagConstant            = "-p"
	gitMessageFileFlagConstant       = "-F"
	gitStandardInputConstant         = "-"
	gitNoSignFlagConstant            = "--no-gpg-sign"
	gitTopoOrderFlagConstant         = "--topo-order"
	gitReverseFlagConstant           = "--reverse"
	gitNullTerminatorFlagConstant    = "-z"
	gitRawDateFlagConstant           = "--date=raw"
	gitLogFormatFlagConstant         = "--format=%H%x1f%P%x1f%T%x1f%an%x1f%ae%x1f%ad%x1f%cn%x1f%ce%x1f%cd%x1f%B"
	gitExcludePrefixConstant         = "^"
	gitCommitPeelSuffixConstant      = "^{commit}"
	headReferenceConstant            = "HEAD"
	cloneRemoteNameConstant          = "origin"
	symbolicReferencePrefixConstant  = "ref: "
	localBranchPrefixConstant        = "refs/heads/"
	logFieldSeparatorConstant        = "\x1f"
	logRecordSeparatorConstant       = "\x00"
	logFieldCountConstant            = 10
	rawDateFieldCountConstant        = 2
	zoneOffsetLengthConstant         = 5
	gitDateTemplateConstant          = "@%d %s"
	authorNameEnvironmentConstant    = "GIT_AUTHOR_NAME"
	authorEmailEnvironmentConstant   = "GIT_AUTHOR_EMAIL"
	authorDateEnvironmentConstant    = "GIT_AUTHOR_DATE"
	committerNameEnvironmentConstant = "GIT_COMMITTER_NAME"
	committerEmailEnvironment        = "GIT_COMMITTER_EMAIL"
	committerDateEnvironmentConstant = "GIT_COMMITTER_DATE"
	terminalPromptEnvironment        = "GIT_TERMINAL_PROMPT"
	terminalPromptDisabledConstant   = "0"
	malformedLogRecordTemplate       = "malformed log record %q"
	malformedDateTemplateConstant    = "malformed date %q"
	headNotBranchTemplateConstant    = "HEAD does not name a branch: %s"
	mergeBaseNotFoundExitCode        = 1
	missingReferenceExitCode         = 1
	logFieldRemoteConstant           = "remote"
	logFieldPathConstant             = "path"
	cloningMessageConstant           = "cloning repository"
	fetchingMessageConstant          = "fetching remote"
)

// GitExecutor runs git commands.
type GitExecutor interface {
	ExecuteGit(executionContext context.Context, details execshell.CommandDetails) (execshell.ExecutionResult, error)
}

// Backend clones repositories by running git.
type Backend struct {
	executor   GitExecutor
	fileSystem afero.Fs
	logger     *zap.Logger
}

// NewBackend constructs a git CLI backed vcs.Backend. The file system holds transient push keys.
func NewBackend(executor GitExecutor, fileSystem afero.Fs, logger *zap.Logger) *Backend {
	if logger == nil {
		logger = zap.NewNop()
	}
	if fileSystem == nil {
		fileSystem = afero.NewOsFs()
	}
	return &Backend{executor: executor, fileSystem: fileSystem, logger: logger}
}

// Repository is a bare repository manipulated through git commands.
type Repository struct {
	executor   GitExecutor
	fileSystem afero.Fs
	path       string
	logger     *zap.Logger
}

// Clone copies the full history at remoteURL into a bare repository at localPath. Remote branches land
// under refs/remotes/origin and only the remote's default branch gets a local branch, matching go-git.
func (backend *Backend) Clone(executionContext context.Context, remoteURL string, localPath string) (vcs.Repository, error) {
	backend.logger.Info(cloningMessageConstant, zap.String(logFieldRemoteConstant, gitrepo.Describe(remoteURL)), zap.String(logFieldPathConstant, localPath))

	_, initError := backend.executor.ExecuteGit(executionContext, execshell.CommandDetails{
		Arguments:        []string{gitInitSubcommandConstant, gitBareFlagConstant, gitQuietFlagConstant, localPath},
		WorkingDirectory: filepath.Dir(localPath),
	})
	if initError != nil {
		return nil, vcs.NewOperationError(vcs.ErrorKindResolution, vcs.OperationClone, localPath, initError)
	}

	repository := Open(backend.executor, backend.fileSystem, localPath, backend.logger)
	if _, remoteError := repository.git(executionContext, nil, gitRemoteSubcommandConstant, gitRemoteAddSubcommandConstant, cloneRemoteNameConstant, remoteURL); remoteError != nil {
		return nil, vcs.NewOperationError(vcs.ErrorKindResolution, vcs.OperationClone, cloneRemoteNameConstant, remoteError)
	}

	promptEnvironment := map[string]string{terminalPromptEnvironment: terminalPromptDisabledConstant}
	if _, fetchError := repository.gitWithEnvironment(executionContext, promptEnvironment, nil, gitFetchSubcommandConstant, gitQuietFlagConstant, cloneRemoteNameConstant); fetchError != nil {
		return nil, classifyCommandError(vcs.OperationClone, remoteURL, fetchError)
	}

	headResult, headError := repository.gitWithEnvironment(executionContext, promptEnvironment, nil, gitLsRemoteSubcommandConstant, gitSymrefFlagConstant, cloneRemoteNameConstant, headReferenceConstant)
	if headError != nil {
		return nil, classifyCommandError(vcs.OperationClone, remoteURL, headError)
	}
	defaultBranch := parseSymbolicHead(headResult.StandardOutput)
	if len(defaultBranch) == 0 {
		return repository, nil
	}

	if _, branchError := repository.git(executionContext, nil, gitBranchSubcommandConstant, gitNoTrackFlagConstant, defaultBranch, vcs.RemoteReferenceName(cloneRemoteNameConstant, defaultBranch)); branchError != nil {
		return nil, vcs.NewOperationError(vcs.ErrorKindResolution, vcs.OperationClone, defaultBranch, branchError)
	}
	if setHeadError := repository.SetHeadBranch(executionContext, defaultBranch); setHeadError != nil {
		return nil, setHeadError
	}
	return repository, nil
}

// parseSymbolicHead extracts the branch from "ref: refs/heads/<branch>\tHEAD" in ls-remote --symref output.
func parseSymbolicHead(output string) string {
	for _, line := range strings.Split(output, "\n") {
		if !strings.HasPrefix(line, symbolicReferencePrefixConstant) {
			continue
		}
		fields := strings.Fields(strings.TrimPrefix(line, symbolicReferencePrefixConstant))
		if len(fields) == 0 {
			continue
		}
		branchReference := fields[0]
		if !strings.HasPrefix(branchReference, localBranchPrefixConstant) {
			continue
		}
		return strings.TrimPrefix(branchReference, localBranchPrefixConstant)
	}
	return ""
}

// Open wraps an existing repository directory.
func Open(executor GitExecutor, fileSystem afero.Fs, path string, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	if fileSystem == nil {
		fileSystem = afero.NewOsFs()
	}
	return &Repository{executor: executor, fileSystem: fileSystem, path: path, logger: logger}
}

// Path returns the on-disk location of the repository.
func (repository *Repository) Path() string {
	return repository.path
}

// AddRemote registers a named remote with the default fetch refspec.
func (repository *Repository) AddRemote(executionContext context.Context, remoteName string, remoteURL string) error {
	_, addError := repository.git(executionContext, nil, gitRemoteSubcommandConstant, gitRemoteAddSubcommandConstant, remoteName, remoteURL)
	if addError != nil {
		return vcs.NewOperationError(vcs.ErrorKindResolution, vcs.OperationAddRemote, remoteName, addError)
	}
	return nil
}

// Fetch retrieves all branches of the named remote.
func (repository *Repository) Fetch(executionContext context.Context, remoteName string) error {
	repository.logger.Info(fetchingMessageConstant, zap.String(logFieldRemoteConstant, remoteName))

	_, fetchError := repository.gitWithEnvironment(executionContext, map[string]string{terminalPromptEnvironment: terminalPromptDisabledConstant}, nil, gitFetchSubcommandConstant, gitQuietFlagConstant, remoteName)
	if fetchError != nil {
		return classifyCommandError(vcs.OperationFetch, remoteName, fetchError)
	}
	return nil
}

// ResolveCommit resolves a revision to a commit reference.
func (repository *Repository) ResolveCommit(executionContext context.Context, revision string) (vcs.CommitRef, error) {
	trimmedRevision := strings.TrimSpace(revision)
	resolved, resolveError := repository.revParseCommit(executionContext, trimmedRevision)
	if resolveError != nil {
		return "", vcs.NewOperationError(vcs.ErrorKindResolution, vcs.OperationResolve, trimmedRevision, resolveError)
	}
	return resolved, nil
}

// ResolveRemoteBranch resolves <remote>/<branch> to a commit reference.
func (repository *Repository) ResolveRemoteBranch(executionContext context.Context, remoteName string, branchName string) (vcs.CommitRef, error) {
	resolved, resolveError := repository.revParseCommit(executionContext, vcs.RemoteReferenceName(remoteName, branchName))
	if resolveError != nil {
		return "", vcs.NewOperationError(vcs.ErrorKindResolution, vcs.OperationResolve, vcs.RemoteBranchName(remoteName, branchName), resolveError)
	}
	return resolved, nil
}

// MergeBase returns the best common ancestor of the commits.
func (repository *Repository) MergeBase(executionContext context.Context, first vcs.CommitRef, second vcs.CommitRef) (vcs.CommitRef, bool, error) {
	result, mergeBaseError := repository.git(executionContext, nil, gitMergeBaseSubcommandConstant, first.String(), second.String())
	if mergeBaseError != nil {
		var failure execshell.CommandFailedError
		if errors.As(mergeBaseError, &failure) && failure.Result.ExitCode == mergeBaseNotFoundExitCode && len(strings.TrimSpace(failure.Result.StandardError)) == 0 {
			return "", false, nil
		}
		return "", false, vcs.NewOperationError(vcs.ErrorKindResolution, vcs.OperationMergeBase, first.String(), mergeBaseError)
	}
	return vcs.CommitRef(strings.TrimSpace(result.StandardOutput)), true, nil
}

// WalkCommits lists commits reachable from head but not from exclude, parents before children.
func (repository *Repository) WalkCommits(executionContext context.Context, head vcs.CommitRef, exclude vcs.CommitRef) ([]vcs.Commit, error) {
	arguments := []string{gitLogSubcommandConstant, gitTopoOrderFlagConstant, gitReverseFlagConstant, gitNullTerminatorFlagConstant, gitRawDateFlagConstant, gitLogFormatFlagConstant, head.String()}
	if !exclude.IsZero() {
		arguments = append(arguments, gitExcludePrefixConstant+exclude.String())
	}

	result, logError := repository.git(executionContext, nil, arguments...)
	if logError != nil {
		return nil, vcs.NewOperationError(vcs.ErrorKindResolution, vcs.OperationWalk, head.String(), logError)
	}

	commits, parseError := parseLog(result.StandardOutput)
	if parseError != nil {
		return nil, vcs.NewOperationError(vcs.ErrorKindResolution, vcs.OperationWalk, head.String(), parseError)
	}
	return commits, nil
}

// CreateCommit writes a commit object with commit-tree.
func (repository *Repository) CreateCommit(executionContext context.Context, specification vcs.CommitSpec) (vcs.CommitRef, error) {
	arguments := []string{gitCommitTreeSubcommandConstant, gitNoSignFlagConstant, string(specification.Tree)}
	for _, parent := range specification.Parents {
		arguments = append(arguments, gitParentFlagConstant, parent.String())
	}
	arguments = append(arguments, gitMessageFileFlagConstant, gitStandardInputConstant)

	environment := map[string]string{
		authorNameEnvironmentConstant:    specification.Author.Name,
		authorEmailEnvironmentConstant:   specification.Author.Email,
		authorDateEnvironmentConstant:    formatGitDate(specification.Author.When),
		committerNameEnvironmentConstant: specification.Committer.Name,
		committerEmailEnvironment:        specification.Committer.Email,
		committerDateEnvironmentConstant: formatGitDate(specification.Committer.When),
	}

	result, commitError := repository.gitWithEnvironment(executionContext, environment, []byte(specification.Message), arguments...)
	if commitError != nil {
		return "", vcs.NewOperationError(vcs.ErrorKindResolution, vcs.OperationCreateCommit, string(specification.Tree), commitError)
	}
	return vcs.CommitRef(strings.TrimSpace(result.StandardOutput)), nil
}

// BranchExists reports whether a local branch with the name exists.
func (repository *Repository) BranchExists(executionContext context.Context, branchName string) (bool, error) {
	_, showError := repository.git(executionContext, nil, gitShowRefSubcommandConstant, gitVerifyFlagConstant, gitQuietFlagConstant, vcs.BranchReferenceName(branchName))
	if showError == nil {
		return true, nil
	}
	var failure execshell.CommandFailedError
	if errors.As(showError, &failure) && failure.Result.ExitCode == missingReferenceExitCode {
		return false, nil
	}
	return false, vcs.NewOperationError(vcs.ErrorKindResolution, vcs.OperationResolve, branchName, showError)
}

// CreateBranch creates a local branch pointing at target; an existing branch is a naming conflict.
func (repository *Repository) CreateBranch(executionContext context.Context, branchName string, target vcs.CommitRef) error {
	exists, existsError := repository.BranchExists(executionContext, branchName)
	if existsError != nil {
		return existsError
	}
	if exists {
		return vcs.NewOperationError(vcs.ErrorKindNamingConflict, vcs.OperationCreateBranch, branchName, nil)
	}

	_, branchError := repository.git(executionContext, nil, gitBranchSubcommandConstant, gitNoTrackFlagConstant, branchName, target.String())
	if branchError != nil {
		return vcs.NewOperationError(vcs.ErrorKindResolution, vcs.OperationCreateBranch, branchName, branchError)
	}
	return nil
}

// SetHeadBranch points HEAD at the local branch.
func (repository *Repository) SetHeadBranch(executionContext context.Context, branchName string) error {
	_, symbolicError := repository.git(executionContext, nil, gitSymbolicRefSubcommandConstant, headReferenceConstant, vcs.BranchReferenceName(branchName))
	if symbolicError != nil {
		return vcs.NewOperationError(vcs.ErrorKindResolution, vcs.OperationSetHead, branchName, symbolicError)
	}
	return nil
}

// HeadBranch returns the branch HEAD points at.
func (repository *Repository) HeadBranch(executionContext context.Context) (string, error) {
	result, symbolicError := repository.git(executionContext, nil, gitSymbolicRefSubcommandConstant, gitShortFlagConstant, headReferenceConstant)
	if symbolicError != nil {
		return "", vcs.NewOperationError(vcs.ErrorKindResolution, vcs.OperationResolve, headReferenceConstant, symbolicError)
	}
	branchName := strings.TrimSpace(result.StandardOutput)
	if len(branchName) == 0 {
		return "", vcs.NewOperationError(vcs.ErrorKindResolution, vcs.OperationResolve, headReferenceConstant, fmt.Errorf(headNotBranchTemplateConstant, result.StandardOutput))
	}
	return branchName, nil
}

// Push force-sends refSpec to remoteURL, authenticating ssh with a transient key file and http(s) with a token header.
func (repository *Repository) Push(executionContext context.Context, remoteURL string, refSpec string, authentication vcs.PushAuthentication) (pushResult error) {
	environment := map[string]string{terminalPromptEnvironment: terminalPromptDisabledConstant}
	for environmentName, environmentValue := range tokenEnvironment(remoteURL, authentication) {
		environment[environmentName] = environmentValue
	}

	if len(authentication.PrivateKey) > 0 {
		keyFile, keyError := writeKeyFile(repository.fileSystem, authentication)
		if keyError != nil {
			return vcs.NewOperationError(vcs.ErrorKindAuthentication, vcs.OperationPush, remoteURL, keyError)
		}
		defer func() {
			if removalError := keyFile.remove(); removalError != nil {
				repository.logger.Warn(keyRemovalFailedMessageConstant, zap.Error(removalError))
			}
		}()
		environment[sshCommandEnvironmentConstant] = sshCommand(keyFile.path, authentication)
	}

	_, pushError := repository.gitWithEnvironment(executionContext, environment, nil, gitPushSubcommandConstant, gitForceFlagConstant, remoteURL, refSpec)
	if pushError != nil {
		return classifyCommandError(vcs.OperationPush, remoteURL, pushError)
	}
	return nil
}

func (repository *Repository) revParseCommit(executionContext context.Context, revision string) (vcs.CommitRef, error) {
	result, parseError := repository.git(executionContext, nil, gitRevParseSubcommandConstant, gitVerifyFlagConstant, gitQuietFlagConstant, revision+gitCommitPeelSuffixConstant)
	if parseError != nil {
		return "", parseError
	}
	return vcs.CommitRef(strings.TrimSpace(result.StandardOutput)), nil
}

func (repository *Repository) git(executionContext context.Context, standardInput []byte, arguments ...string) (execshell.ExecutionResult, error) {
	return repository.gitWithEnvironment(executionContext, nil, standardInput, arguments...)
}

func (repository *Repository) gitWithEnvironment(executionContext context.Context, environment map[string]string, standardInput []byte, arguments ...string) (execshell.ExecutionResult, error) {
	return repository.executor.ExecuteGit(executionContext, execshell.CommandDetails{
		Arguments:            arguments,
		WorkingDirectory:     repository.path,
		EnvironmentVariables: environment,
		StandardInput:        standardInput,
	})
}

// parseLog decodes NUL terminated records produced by gitLogFormatFlagConstant.
func parseLog(output string) ([]vcs.Commit, error) {
	commits := []vcs.Commit{}
	for _, record := range strings.Split(output, logRecordSeparatorConstant) {
		record = strings.TrimLeft(record, "\n")
		if len(record) == 0 {
			continue
		}

		fields := strings.SplitN(record, logFieldSeparatorConstant, logFieldCountConstant)
		if len(fields) != logFieldCountConstant {
			return nil, fmt.Errorf(malformedLogRecordTemplate, record)
		}

		authorTime, authorTimeError := parseRawDate(fields[5])
		if authorTimeError != nil {
			return nil, authorTimeError
		}
		committerTime, committerTimeError := parseRawDate(fields[8])
		if committerTimeError != nil {
			return nil, committerTimeError
		}

		parents := []vcs.CommitRef{}
		for _, parent := range strings.Fields(fields[1]) {
			parents = append(parents, vcs.CommitRef(parent))
		}

		commits = append(commits, vcs.Commit{
			Ref:       vcs.CommitRef(fields[0]),
			Parents:   parents,
			Tree:      vcs.TreeRef(fields[2]),
			Author:    vcs.Signature{Name: fields[3], Email: fields[4], When: authorTime},
			Committer: vcs.Signature{Name: fields[6], Email: fields[7], When: committerTime},
			Message:   fields[9],
		})
	}
	return commits, nil
}

// parseRawDate decodes "<unix seconds> <+hhmm>" into a time carrying the recorded offset.
func parseRawDate(rawDate string) (time.Time, error) {
	parts := strings.Fields(rawDate)
	if len(parts) != rawDateFieldCountConstant || len(parts[1]) != zoneOffsetLengthConstant {
		return time.Time{}, fmt.Errorf(malformedDateTemplateConstant, rawDate)
	}

	unixSeconds, secondsError := strconv.ParseInt(parts[0], 10, 64)
	if secondsError != nil {
		return time.Time{}, fmt.Errorf(malformedDateTemplateConstant, rawDate)
	}
	hours, hoursError := strconv.Atoi(parts[1][1:3])
	minutes, minutesError := strconv.Atoi(parts[1][3:5])
	if hoursError != nil || minutesError != nil {
		return time.Time{}, fmt.Errorf(malformedDateTemplateConstant, rawDate)
	}

	offsetSeconds := hours*60*60 + minutes*60
	if parts[1][0] == '-' {
		offsetSeconds = -offsetSeconds
	}
	return time.Unix(unixSeconds, 0).In(time.FixedZone("", offsetSeconds)), nil
}

// formatGitDate renders a time as "@<unix seconds> <+hhmm>".
func formatGitDate(when time.Time) string {
	return fmt.Sprintf(gitDateTemplateConstant, when.Unix(), when.Format("-0700"))
}
