// Package gogit implements the vcs contract in-process on top of go-git.
package gogit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"go.uber.org/zap"

	"github.com/anonydog/anonydog/internal/gitrepo"
	"github.com/anonydog/anonydog/internal/vcs"
)

const (
	anonymousRemoteNameConstant          = "anonymous"
	headRevisionConstant                 = "HEAD"
	headNotSymbolicTemplateConstant      = "HEAD is not a symbolic reference: %s"
	commitLookupErrorTemplateConstant    = "failed to load commit %s: %w"
	excludedHistoryErrorTemplateConstant = "failed to enumerate history of %s: %w"
	parentLookupErrorTemplateConstant    = "cannot get parent %d for %s: %w"
	encodeCommitErrorTemplateConstant    = "failed to encode commit: %w"
	logFieldRemoteConstant               = "remote"
	logFieldPathConstant                 = "path"
	logFieldCommitCountConstant          = "commit_count"
	cloningMessageConstant               = "cloning repository"
	fetchingMessageConstant              = "fetching remote"
	walkedMessageConstant                = "walked commit range"
)

// Backend clones repositories with go-git.
type Backend struct {
	logger *zap.Logger
}

// NewBackend constructs a go-git backed vcs.Backend.
func NewBackend(logger *zap.Logger) *Backend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backend{logger: logger}
}

// Repository is a go-git repository opened on disk.
type Repository struct {
	repository *git.Repository
	path       string
	logger     *zap.Logger
}

// Clone copies the full history at remoteURL into a bare repository at localPath.
func (backend *Backend) Clone(executionContext context.Context, remoteURL string, localPath string) (vcs.Repository, error) {
	backend.logger.Info(cloningMessageConstant, zap.String(logFieldRemoteConstant, gitrepo.Describe(remoteURL)), zap.String(logFieldPathConstant, localPath))

	cloned, cloneError := git.PlainCloneContext(executionContext, localPath, true, &git.CloneOptions{URL: remoteURL})
	if cloneError != nil {
		return nil, classifyTransportError(vcs.OperationClone, remoteURL, cloneError)
	}
	return &Repository{repository: cloned, path: localPath, logger: backend.logger}, nil
}

// Open wraps an existing go-git repository.
func Open(repository *git.Repository, path string, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{repository: repository, path: path, logger: logger}
}

// Path returns the on-disk location of the repository.
func (repository *Repository) Path() string {
	return repository.path
}

// AddRemote registers a named remote with the default fetch refspec.
func (repository *Repository) AddRemote(_ context.Context, remoteName string, remoteURL string) error {
	_, creationError := repository.repository.CreateRemote(&config.RemoteConfig{
		Name: remoteName,
		URLs: []string{remoteURL},
	})
	if creationError != nil {
		return vcs.NewOperationError(vcs.ErrorKindResolution, vcs.OperationAddRemote, remoteName, creationError)
	}
	return nil
}

// Fetch retrieves all branches of the named remote.
func (repository *Repository) Fetch(executionContext context.Context, remoteName string) error {
	repository.logger.Info(fetchingMessageConstant, zap.String(logFieldRemoteConstant, remoteName))

	fetchError := repository.repository.FetchContext(executionContext, &git.FetchOptions{RemoteName: remoteName})
	if fetchError != nil && !errors.Is(fetchError, git.NoErrAlreadyUpToDate) {
		return classifyTransportError(vcs.OperationFetch, remoteName, fetchError)
	}
	return nil
}

// ResolveCommit resolves a revision to a commit reference.
func (repository *Repository) ResolveCommit(_ context.Context, revision string) (vcs.CommitRef, error) {
	trimmedRevision := strings.TrimSpace(revision)
	resolvedHash, resolveError := repository.repository.ResolveRevision(plumbing.Revision(trimmedRevision))
	if resolveError != nil {
		return "", vcs.NewOperationError(vcs.ErrorKindResolution, vcs.OperationResolve, trimmedRevision, resolveError)
	}
	if _, commitError := repository.repository.CommitObject(*resolvedHash); commitError != nil {
		return "", vcs.NewOperationError(vcs.ErrorKindResolution, vcs.OperationResolve, trimmedRevision, commitError)
	}
	return vcs.CommitRef(resolvedHash.String()), nil
}

// ResolveRemoteBranch resolves <remote>/<branch> to a commit reference.
func (repository *Repository) ResolveRemoteBranch(_ context.Context, remoteName string, branchName string) (vcs.CommitRef, error) {
	referenceName := plumbing.NewRemoteReferenceName(remoteName, branchName)
	reference, referenceError := repository.repository.Reference(referenceName, true)
	if referenceError != nil {
		return "", vcs.NewOperationError(vcs.ErrorKindResolution, vcs.OperationResolve, vcs.RemoteBranchName(remoteName, branchName), referenceError)
	}
	if _, commitError := repository.repository.CommitObject(reference.Hash()); commitError != nil {
		return "", vcs.NewOperationError(vcs.ErrorKindResolution, vcs.OperationResolve, vcs.RemoteBranchName(remoteName, branchName), commitError)
	}
	return vcs.CommitRef(reference.Hash().String()), nil
}

// MergeBase returns the best common ancestor of the commits.
// When several best ancestors exist the lowest hash is chosen so results are stable.
func (repository *Repository) MergeBase(_ context.Context, first vcs.CommitRef, second vcs.CommitRef) (vcs.CommitRef, bool, error) {
	firstCommit, firstError := repository.commitObject(first)
	if firstError != nil {
		return "", false, vcs.NewOperationError(vcs.ErrorKindResolution, vcs.OperationMergeBase, first.String(), firstError)
	}
	secondCommit, secondError := repository.commitObject(second)
	if secondError != nil {
		return "", false, vcs.NewOperationError(vcs.ErrorKindResolution, vcs.OperationMergeBase, second.String(), secondError)
	}

	bases, mergeBaseError := firstCommit.MergeBase(secondCommit)
	if mergeBaseError != nil {
		return "", false, vcs.NewOperationError(vcs.ErrorKindResolution, vcs.OperationMergeBase, first.String(), mergeBaseError)
	}
	if len(bases) == 0 {
		return "", false, nil
	}

	sort.Slice(bases, func(left int, right int) bool {
		return bases[left].Hash.String() < bases[right].Hash.String()
	})
	return vcs.CommitRef(bases[0].Hash.String()), true, nil
}

// WalkCommits lists commits reachable from head but not from exclude, parents before children.
func (repository *Repository) WalkCommits(executionContext context.Context, head vcs.CommitRef, exclude vcs.CommitRef) ([]vcs.Commit, error) {
	headCommit, headError := repository.commitObject(head)
	if headError != nil {
		return nil, vcs.NewOperationError(vcs.ErrorKindResolution, vcs.OperationWalk, head.String(), headError)
	}

	hidden := newHashSet()
	if !exclude.IsZero() {
		excludedCommit, excludedError := repository.commitObject(exclude)
		if excludedError != nil {
			return nil, vcs.NewOperationError(vcs.ErrorKindResolution, vcs.OperationWalk, exclude.String(), excludedError)
		}
		if collectError := collectAncestors(executionContext, excludedCommit, hidden); collectError != nil {
			return nil, fmt.Errorf(excludedHistoryErrorTemplateConstant, exclude, collectError)
		}
	}

	path, walkError := parentsFirstPath(executionContext, headCommit, hidden)
	if walkError != nil {
		return nil, walkError
	}

	commits := make([]vcs.Commit, 0, len(path))
	for _, commit := range path {
		commits = append(commits, toCommit(commit))
	}

	repository.logger.Debug(walkedMessageConstant, zap.Int(logFieldCommitCountConstant, len(commits)))
	return commits, nil
}

// CreateCommit encodes a new commit object into the repository storage.
func (repository *Repository) CreateCommit(_ context.Context, specification vcs.CommitSpec) (vcs.CommitRef, error) {
	treeHash := plumbing.NewHash(string(specification.Tree))
	if _, treeError := repository.repository.TreeObject(treeHash); treeError != nil {
		return "", vcs.NewOperationError(vcs.ErrorKindResolution, vcs.OperationCreateCommit, string(specification.Tree), treeError)
	}

	parentHashes := make([]plumbing.Hash, 0, len(specification.Parents))
	for _, parent := range specification.Parents {
		parentHashes = append(parentHashes, plumbing.NewHash(parent.String()))
	}

	newCommit := &object.Commit{
		Author:       toObjectSignature(specification.Author),
		Committer:    toObjectSignature(specification.Committer),
		Message:      specification.Message,
		TreeHash:     treeHash,
		ParentHashes: parentHashes,
	}

	newHash, saveError := updateHashAndSave(repository.repository, newCommit)
	if saveError != nil {
		return "", vcs.NewOperationError(vcs.ErrorKindResolution, vcs.OperationCreateCommit, string(specification.Tree), saveError)
	}
	return vcs.CommitRef(newHash.String()), nil
}

// BranchExists reports whether a local branch with the name exists.
func (repository *Repository) BranchExists(_ context.Context, branchName string) (bool, error) {
	_, referenceError := repository.repository.Storer.Reference(plumbing.NewBranchReferenceName(branchName))
	switch {
	case referenceError == nil:
		return true, nil
	case errors.Is(referenceError, plumbing.ErrReferenceNotFound):
		return false, nil
	default:
		return false, vcs.NewOperationError(vcs.ErrorKindResolution, vcs.OperationResolve, branchName, referenceError)
	}
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

	if _, commitError := repository.commitObject(target); commitError != nil {
		return vcs.NewOperationError(vcs.ErrorKindResolution, vcs.OperationCreateBranch, target.String(), commitError)
	}

	reference := plumbing.NewHashReference(plumbing.NewBranchReferenceName(branchName), plumbing.NewHash(target.String()))
	if setError := repository.repository.Storer.SetReference(reference); setError != nil {
		return vcs.NewOperationError(vcs.ErrorKindResolution, vcs.OperationCreateBranch, branchName, setError)
	}
	return nil
}

// SetHeadBranch points HEAD at the local branch.
func (repository *Repository) SetHeadBranch(_ context.Context, branchName string) error {
	headReference := plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(branchName))
	if setError := repository.repository.Storer.SetReference(headReference); setError != nil {
		return vcs.NewOperationError(vcs.ErrorKindResolution, vcs.OperationSetHead, branchName, setError)
	}
	return nil
}

// HeadBranch returns the branch HEAD points at.
func (repository *Repository) HeadBranch(_ context.Context) (string, error) {
	headReference, referenceError := repository.repository.Storer.Reference(plumbing.HEAD)
	if referenceError != nil {
		return "", vcs.NewOperationError(vcs.ErrorKindResolution, vcs.OperationResolve, headRevisionConstant, referenceError)
	}
	if headReference.Type() != plumbing.SymbolicReference || !headReference.Target().IsBranch() {
		return "", vcs.NewOperationError(vcs.ErrorKindResolution, vcs.OperationResolve, headRevisionConstant, fmt.Errorf(headNotSymbolicTemplateConstant, headReference.String()))
	}
	return headReference.Target().Short(), nil
}

// Push sends refSpec to remoteURL through an anonymous remote.
func (repository *Repository) Push(executionContext context.Context, remoteURL string, refSpec string, authentication vcs.PushAuthentication) error {
	authMethod, authError := buildAuthMethod(remoteURL, authentication)
	if authError != nil {
		return authError
	}

	anonymousRemote := git.NewRemote(repository.repository.Storer, &config.RemoteConfig{
		Name: anonymousRemoteNameConstant,
		URLs: []string{remoteURL},
	})

	pushError := anonymousRemote.PushContext(executionContext, &git.PushOptions{
		RemoteName: anonymousRemoteNameConstant,
		RefSpecs:   []config.RefSpec{config.RefSpec(refSpec)},
		Auth:       authMethod,
		Force:      true,
	})
	if pushError == nil || errors.Is(pushError, git.NoErrAlreadyUpToDate) {
		return nil
	}
	return classifyPushError(remoteURL, pushError)
}

func (repository *Repository) commitObject(reference vcs.CommitRef) (*object.Commit, error) {
	commit, commitError := repository.repository.CommitObject(plumbing.NewHash(reference.String()))
	if commitError != nil {
		return nil, fmt.Errorf(commitLookupErrorTemplateConstant, reference, commitError)
	}
	return commit, nil
}

// updateHashAndSave encodes the commit into storage and records the resulting hash on it.
func updateHashAndSave(repository *git.Repository, commit *object.Commit) (plumbing.Hash, error) {
	encoded := repository.Storer.NewEncodedObject()
	if encodeError := commit.Encode(encoded); encodeError != nil {
		return plumbing.ZeroHash, fmt.Errorf(encodeCommitErrorTemplateConstant, encodeError)
	}
	savedHash, saveError := repository.Storer.SetEncodedObject(encoded)
	if saveError != nil {
		return plumbing.ZeroHash, saveError
	}
	commit.Hash = savedHash
	return savedHash, nil
}

func toCommit(commit *object.Commit) vcs.Commit {
	parents := make([]vcs.CommitRef, 0, len(commit.ParentHashes))
	for _, parentHash := range commit.ParentHashes {
		parents = append(parents, vcs.CommitRef(parentHash.String()))
	}
	return vcs.Commit{
		Ref:       vcs.CommitRef(commit.Hash.String()),
		Parents:   parents,
		Tree:      vcs.TreeRef(commit.TreeHash.String()),
		Message:   commit.Message,
		Author:    vcs.Signature{Name: commit.Author.Name, Email: commit.Author.Email, When: commit.Author.When},
		Committer: vcs.Signature{Name: commit.Committer.Name, Email: commit.Committer.Email, When: commit.Committer.When},
	}
}

func toObjectSignature(signature vcs.Signature) object.Signature {
	return object.Signature{Name: signature.Name, Email: signature.Email, When: signature.When}
}
