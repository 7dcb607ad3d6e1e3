package anonydog

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/anonydog/anonydog/internal/gitrepo"
	"github.com/anonydog/anonydog/internal/publish"
	"github.com/anonydog/anonydog/internal/rewrite"
	"github.com/anonydog/anonydog/internal/vcs"
	"github.com/anonydog/anonydog/internal/workspace"
)

const (
	branchNamePrefixConstant              = "pullrequest-"
	branchNameRandomBytesConstant         = 4
	branchNameGenerationErrorTemplate     = "failed to generate branch name: %w"
	workspacesMissingMessageConstant      = "anonydog workspace manager not configured"
	rewriterMissingMessageConstant        = "anonydog rewriter not configured"
	publisherMissingMessageConstant       = "anonydog publisher not configured"
	destinationRequiredMessageConstant    = "destination url required"
	anonymizationStartedMessageConstant   = "anonymizing contribution"
	anonymizationPublishedMessageConstant = "anonymized contribution published"
	anonymizationPreviewedMessageConstant = "anonymized contribution previewed"
	logFieldBranchConstant                = "branch"
	logFieldHeadConstant                  = "head"
	logFieldBaseConstant                  = "base"
	logFieldBaseRefConstant               = "base_ref"
	logFieldCommitCountConstant           = "commits"
)

var (
	// ErrWorkspacesNotConfigured indicates the service was built without a workspace manager.
	ErrWorkspacesNotConfigured = errors.New(workspacesMissingMessageConstant)
	// ErrRewriterNotConfigured indicates the service was built without a rewriter.
	ErrRewriterNotConfigured = errors.New(rewriterMissingMessageConstant)
	// ErrPublisherNotConfigured indicates the service was built without a publisher.
	ErrPublisherNotConfigured = errors.New(publisherMissingMessageConstant)
	// ErrDestinationRequired indicates a publish request without a destination.
	ErrDestinationRequired = errors.New(destinationRequiredMessageConstant)
)

// WorkspaceRunner scopes an operation to a freshly acquired workspace.
type WorkspaceRunner interface {
	Run(executionContext context.Context, operation func(*workspace.Workspace) error) error
}

// ChainRewriter anonymizes a contribution inside a workspace.
type ChainRewriter interface {
	Anonymize(executionContext context.Context, workspace rewrite.Workspace, request rewrite.Request) (rewrite.Chain, error)
}

// BranchPublisher force-pushes the active branch of a repository.
type BranchPublisher interface {
	Publish(executionContext context.Context, repository vcs.Repository, destinationURL string, credentials publish.Credentials) error
}

// BranchNameGenerator produces branch names for requests that omit one.
type BranchNameGenerator func() (string, error)

// Dependencies wires the collaborators of a Service.
type Dependencies struct {
	Workspaces          WorkspaceRunner
	Rewriter            ChainRewriter
	Publisher           BranchPublisher
	Credentials         publish.Credentials
	BranchNameGenerator BranchNameGenerator
	Logger              *zap.Logger
}

// PublishRequest names a contribution, the branch it targets, and where the anonymized copy goes.
type PublishRequest struct {
	BaseURL        string `yaml:"base_url"`
	BaseRef        string `yaml:"base_ref"`
	HeadURL        string `yaml:"head_url"`
	HeadCommit     string `yaml:"head_commit"`
	DestinationURL string `yaml:"destination"`
	BranchName     string `yaml:"branch"`
}

// SummaryCommit describes one rewritten commit for display.
type SummaryCommit struct {
	Rewritten  vcs.CommitRef
	AuthorTime time.Time
	Subject    string
}

// Summary reports the chain a preview produced.
type Summary struct {
	BranchName string
	MergeBase  vcs.CommitRef
	Commits    []SummaryCommit
}

// Service anonymizes contributions and publishes them.
type Service struct {
	workspaces          WorkspaceRunner
	rewriter            ChainRewriter
	publisher           BranchPublisher
	credentials         publish.Credentials
	branchNameGenerator BranchNameGenerator
	logger              *zap.Logger
}

// NewService validates dependencies and constructs a Service.
func NewService(dependencies Dependencies) (*Service, error) {
	if dependencies.Workspaces == nil {
		return nil, ErrWorkspacesNotConfigured
	}
	if dependencies.Rewriter == nil {
		return nil, ErrRewriterNotConfigured
	}
	if dependencies.Publisher == nil {
		return nil, ErrPublisherNotConfigured
	}
	logger := dependencies.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	generator := dependencies.BranchNameGenerator
	if generator == nil {
		generator = GenerateBranchName
	}
	return &Service{
		workspaces:          dependencies.Workspaces,
		rewriter:            dependencies.Rewriter,
		publisher:           dependencies.Publisher,
		credentials:         dependencies.Credentials,
		branchNameGenerator: generator,
		logger:              logger,
	}, nil
}

// PublishAnonymized anonymizes the contribution in a private workspace, force-pushes the result,
// and returns the branch name. The workspace is removed on every exit path; a removal failure is
// combined with the primary error.
func (service *Service) PublishAnonymized(executionContext context.Context, request PublishRequest) (string, error) {
	destinationURL := strings.TrimSpace(request.DestinationURL)
	if len(destinationURL) == 0 {
		return "", ErrDestinationRequired
	}
	rewriteRequest, requestError := service.rewriteRequest(request)
	if requestError != nil {
		return "", requestError
	}

	service.logStart(rewriteRequest)
	runError := service.workspaces.Run(executionContext, func(acquired *workspace.Workspace) error {
		chain, anonymizeError := service.rewriter.Anonymize(executionContext, acquired, rewriteRequest)
		if anonymizeError != nil {
			return anonymizeError
		}
		if publishError := service.publisher.Publish(executionContext, chain.Repository, destinationURL, service.credentials.InDirectory(acquired.CredentialsPath())); publishError != nil {
			return publishError
		}
		service.logger.Info(
			anonymizationPublishedMessageConstant,
			zap.String(logFieldBranchConstant, chain.BranchName),
			zap.Int(logFieldCommitCountConstant, len(chain.Commits)),
		)
		return nil
	})
	if runError != nil {
		return "", runError
	}
	return rewriteRequest.BranchName, nil
}

// Preview anonymizes the contribution without pushing and reports the rewritten chain.
// DestinationURL is ignored.
func (service *Service) Preview(executionContext context.Context, request PublishRequest) (Summary, error) {
	rewriteRequest, requestError := service.rewriteRequest(request)
	if requestError != nil {
		return Summary{}, requestError
	}

	service.logStart(rewriteRequest)
	var summary Summary
	runError := service.workspaces.Run(executionContext, func(acquired *workspace.Workspace) error {
		chain, anonymizeError := service.rewriter.Anonymize(executionContext, acquired, rewriteRequest)
		if anonymizeError != nil {
			return anonymizeError
		}
		summary = summarize(chain)
		return nil
	})
	if runError != nil {
		return Summary{}, runError
	}

	service.logger.Info(
		anonymizationPreviewedMessageConstant,
		zap.String(logFieldBranchConstant, summary.BranchName),
		zap.Int(logFieldCommitCountConstant, len(summary.Commits)),
	)
	return summary, nil
}

func (service *Service) rewriteRequest(request PublishRequest) (rewrite.Request, error) {
	branchName := strings.TrimSpace(request.BranchName)
	if len(branchName) == 0 {
		generatedName, generationError := service.branchNameGenerator()
		if generationError != nil {
			return rewrite.Request{}, generationError
		}
		branchName = generatedName
	}

	rewriteRequest := rewrite.Request{
		Head:       rewrite.HeadSource{URL: strings.TrimSpace(request.HeadURL), Commit: strings.TrimSpace(request.HeadCommit)},
		Base:       rewrite.BaseTarget{URL: strings.TrimSpace(request.BaseURL), Ref: strings.TrimSpace(request.BaseRef)},
		BranchName: branchName,
	}
	if validationError := rewriteRequest.Validate(); validationError != nil {
		return rewrite.Request{}, validationError
	}
	return rewriteRequest, nil
}

func (service *Service) logStart(request rewrite.Request) {
	service.logger.Info(
		anonymizationStartedMessageConstant,
		zap.String(logFieldHeadConstant, gitrepo.Describe(request.Head.URL)),
		zap.String(logFieldBaseConstant, gitrepo.Describe(request.Base.URL)),
		zap.String(logFieldBaseRefConstant, request.Base.Ref),
		zap.String(logFieldBranchConstant, request.BranchName),
	)
}

func summarize(chain rewrite.Chain) Summary {
	summary := Summary{BranchName: chain.BranchName, MergeBase: chain.MergeBase}
	for _, rewritten := range chain.Commits {
		summary.Commits = append(summary.Commits, SummaryCommit{
			Rewritten:  rewritten.Rewritten,
			AuthorTime: rewritten.Original.Author.When,
			Subject:    rewritten.Original.Subject(),
		})
	}
	return summary
}

// GenerateBranchName returns a random name of the form pullrequest-xxxxxxxx.
func GenerateBranchName() (string, error) {
	randomBytes := make([]byte, branchNameRandomBytesConstant)
	if _, readError := rand.Read(randomBytes); readError != nil {
		return "", fmt.Errorf(branchNameGenerationErrorTemplate, readError)
	}
	return branchNamePrefixConstant + hex.EncodeToString(randomBytes), nil
}
