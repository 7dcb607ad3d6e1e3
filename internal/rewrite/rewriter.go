// Package rewrite replays a contribution's commits onto a fresh chain under a synthetic identity.
package rewrite

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/anonydog/anonydog/internal/vcs"
)

const (
	backendNotConfiguredMessageConstant   = "rewriter backend not configured"
	workspaceNotConfiguredMessageConstant = "rewriter workspace not configured"
	rangeSubjectTemplateConstant          = "%s..%s"
	anonymizingMessageConstant            = "anonymizing commit range"
	rewroteCommitMessageConstant          = "rewrote commit"
	emptyRangeMessageConstant             = "head is already contained in base; creating branch at merge base"
	linearizingMergeMessageConstant       = "linearizing merge commit"
	branchCreatedMessageConstant          = "anonymized branch created"
	logFieldBranchConstant                = "branch"
	logFieldBaseRefConstant               = "base_ref"
	logFieldCommitCountConstant           = "commit_count"
	logFieldMergeBaseConstant             = "merge_base"
	logFieldOriginalConstant              = "original"
	logFieldRewrittenConstant             = "rewritten"
	logFieldParentCountConstant           = "parent_count"
	logFieldTipConstant                   = "tip"
)

var (
	// ErrBackendNotConfigured indicates the rewriter was built without a backend.
	ErrBackendNotConfigured = errors.New(backendNotConfiguredMessageConstant)
	// ErrWorkspaceNotConfigured indicates Anonymize was called without a workspace.
	ErrWorkspaceNotConfigured = errors.New(workspaceNotConfiguredMessageConstant)
)

// Workspace supplies the directory the head repository is cloned into.
type Workspace interface {
	RepositoryPath() string
}

// Dependencies enumerates collaborators required by the rewriter.
type Dependencies struct {
	Backend vcs.Backend
	Logger  *zap.Logger
}

// Rewriter anonymizes commit ranges.
type Rewriter struct {
	backend vcs.Backend
	logger  *zap.Logger
	options Options
}

// NewRewriter validates dependencies and options and constructs a Rewriter.
func NewRewriter(dependencies Dependencies, options Options) (*Rewriter, error) {
	if dependencies.Backend == nil {
		return nil, ErrBackendNotConfigured
	}
	sanitizedOptions, optionsError := options.sanitize()
	if optionsError != nil {
		return nil, optionsError
	}
	logger := dependencies.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Rewriter{backend: dependencies.Backend, logger: logger, options: sanitizedOptions}, nil
}

// Options returns the sanitized options in effect.
func (rewriter *Rewriter) Options() Options {
	return rewriter.options
}

// Anonymize clones the head repository into the workspace and creates request.BranchName holding
// the commits between the merge base and the head commit, re-authored as the synthetic identity.
func (rewriter *Rewriter) Anonymize(executionContext context.Context, workspace Workspace, request Request) (Chain, error) {
	if workspace == nil {
		return Chain{}, ErrWorkspaceNotConfigured
	}
	if validationError := request.Validate(); validationError != nil {
		return Chain{}, validationError
	}

	repository, cloneError := rewriter.backend.Clone(executionContext, strings.TrimSpace(request.Head.URL), workspace.RepositoryPath())
	if cloneError != nil {
		return Chain{}, cloneError
	}

	upstreamRemote := rewriter.options.UpstreamRemote
	if remoteError := repository.AddRemote(executionContext, upstreamRemote, strings.TrimSpace(request.Base.URL)); remoteError != nil {
		return Chain{}, remoteError
	}
	if fetchError := repository.Fetch(executionContext, upstreamRemote); fetchError != nil {
		return Chain{}, fetchError
	}

	headReference, headError := repository.ResolveCommit(executionContext, request.Head.Commit)
	if headError != nil {
		return Chain{}, headError
	}
	baseReference, baseError := repository.ResolveRemoteBranch(executionContext, upstreamRemote, strings.TrimSpace(request.Base.Ref))
	if baseError != nil {
		return Chain{}, baseError
	}

	branchName := strings.TrimSpace(request.BranchName)
	exists, existsError := repository.BranchExists(executionContext, branchName)
	if existsError != nil {
		return Chain{}, existsError
	}
	if exists {
		return Chain{}, vcs.NewOperationError(vcs.ErrorKindNamingConflict, vcs.OperationCreateBranch, branchName, nil)
	}

	mergeBase, found, mergeBaseError := repository.MergeBase(executionContext, headReference, baseReference)
	if mergeBaseError != nil {
		return Chain{}, mergeBaseError
	}
	if !found {
		rangeSubject := fmt.Sprintf(rangeSubjectTemplateConstant, vcs.RemoteBranchName(upstreamRemote, request.Base.Ref), headReference.Short())
		return Chain{}, vcs.NewOperationError(vcs.ErrorKindDivergence, vcs.OperationMergeBase, rangeSubject, nil)
	}

	originals, walkError := repository.WalkCommits(executionContext, headReference, mergeBase)
	if walkError != nil {
		return Chain{}, walkError
	}
	if topologyError := rewriter.checkTopology(originals); topologyError != nil {
		return Chain{}, topologyError
	}

	rewriter.logger.Info(
		anonymizingMessageConstant,
		zap.String(logFieldBranchConstant, branchName),
		zap.String(logFieldBaseRefConstant, request.Base.Ref),
		zap.Int(logFieldCommitCountConstant, len(originals)),
	)

	chain := Chain{Repository: repository, BranchName: branchName, MergeBase: mergeBase, Commits: make([]RewrittenCommit, 0, len(originals))}
	if len(originals) == 0 {
		rewriter.logger.Info(emptyRangeMessageConstant, zap.String(logFieldBranchConstant, branchName))
	}

	parent := mergeBase
	for _, original := range originals {
		if contextError := executionContext.Err(); contextError != nil {
			return Chain{}, contextError
		}

		rewritten, createError := repository.CreateCommit(executionContext, rewriter.anonymizedSpecification(original, parent))
		if createError != nil {
			return Chain{}, createError
		}
		rewriter.logger.Debug(rewroteCommitMessageConstant, zap.String(logFieldOriginalConstant, original.Ref.String()), zap.String(logFieldRewrittenConstant, rewritten.String()))

		chain.Commits = append(chain.Commits, RewrittenCommit{Original: original, Rewritten: rewritten})
		parent = rewritten
	}

	if branchError := repository.CreateBranch(executionContext, branchName, chain.Tip()); branchError != nil {
		return Chain{}, branchError
	}
	if headBranchError := repository.SetHeadBranch(executionContext, branchName); headBranchError != nil {
		return Chain{}, headBranchError
	}

	rewriter.logger.Info(branchCreatedMessageConstant, zap.String(logFieldBranchConstant, branchName), zap.String(logFieldTipConstant, chain.Tip().String()))
	return chain, nil
}

// checkTopology applies the topology policy to merge commits in the range before anything is written.
func (rewriter *Rewriter) checkTopology(originals []vcs.Commit) error {
	for _, original := range originals {
		if original.NumParents() <= 1 {
			continue
		}
		if rewriter.options.TopologyPolicy == TopologyPolicyReject {
			return vcs.NewOperationError(vcs.ErrorKindUnsupportedTopology, vcs.OperationWalk, original.Ref.String(), nil)
		}
		rewriter.logger.Warn(linearizingMergeMessageConstant, zap.String(logFieldOriginalConstant, original.Ref.Short()), zap.Int(logFieldParentCountConstant, original.NumParents()))
	}
	return nil
}

// anonymizedSpecification keeps the message and tree and stamps the synthetic identity at the
// original author time, so rewriting the same range twice yields the same commits.
func (rewriter *Rewriter) anonymizedSpecification(original vcs.Commit, parent vcs.CommitRef) vcs.CommitSpec {
	signature := vcs.Signature{
		Name:  rewriter.options.Identity.Name,
		Email: rewriter.options.Identity.Email,
		When:  original.Author.When,
	}
	return vcs.CommitSpec{
		Message:   original.Message,
		Tree:      original.Tree,
		Parents:   []vcs.CommitRef{parent},
		Author:    signature,
		Committer: signature,
	}
}
