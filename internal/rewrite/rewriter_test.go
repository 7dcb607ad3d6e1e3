package rewrite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/anonydog/anonydog/internal/rewrite"
	"github.com/anonydog/anonydog/internal/vcs"
	"github.com/anonydog/anonydog/internal/vcs/gogit"
	"github.com/anonydog/anonydog/internal/vcs/testsupport"
)

const (
	testBranchNameConstant     = "pullrequest-0a1b2c3d"
	testRepositoryDirectory    = "repository.git"
	testSyntheticNameConstant  = "Anonydog"
	testSyntheticEmailConstant = "me@anonydog.org"
)

type directoryWorkspace struct {
	root string
}

func (workspace directoryWorkspace) RepositoryPath() string {
	return filepath.Join(workspace.root, testRepositoryDirectory)
}

func newWorkspace(testInstance *testing.T) directoryWorkspace {
	return directoryWorkspace{root: testInstance.TempDir()}
}

func newGoGitRewriter(testInstance *testing.T, options rewrite.Options) *rewrite.Rewriter {
	testInstance.Helper()
	testsupport.InstallInProcessFileTransport()
	rewriter, rewriterError := rewrite.NewRewriter(rewrite.Dependencies{Backend: gogit.NewBackend(zap.NewNop()), Logger: zap.NewNop()}, options)
	require.NoError(testInstance, rewriterError)
	return rewriter
}

func scenarioRequest(scenario testsupport.ContributionScenario, headCommit string) rewrite.Request {
	return rewrite.Request{
		Head:       rewrite.HeadSource{URL: scenario.Head.Path, Commit: headCommit},
		Base:       rewrite.BaseTarget{URL: scenario.Upstream.Path, Ref: scenario.BaseBranch},
		BranchName: testBranchNameConstant,
	}
}

type chainSummary struct {
	Message     string
	Tree        string
	AuthorName  string
	AuthorEmail string
	AuthorTime  int64
}

func TestAnonymizeRewritesContributionRange(testInstance *testing.T) {
	scenario := testsupport.NewContributionScenario(testInstance)
	rewriter := newGoGitRewriter(testInstance, rewrite.Options{})
	executionContext := context.Background()

	chain, anonymizeError := rewriter.Anonymize(executionContext, newWorkspace(testInstance), scenarioRequest(scenario, scenario.HeadCommit().String()))
	require.NoError(testInstance, anonymizeError)
	require.Equal(testInstance, testBranchNameConstant, chain.BranchName)
	require.Equal(testInstance, scenario.BaseCommit.String(), chain.MergeBase.String())
	require.Len(testInstance, chain.Commits, len(scenario.HeadCommits))

	rewritten, walkError := chain.Repository.WalkCommits(executionContext, chain.Tip(), chain.MergeBase)
	require.NoError(testInstance, walkError)

	expected := []chainSummary{}
	for commitIndex, originalHash := range scenario.HeadCommits {
		original := scenario.Head.CommitObject(originalHash)
		expected = append(expected, chainSummary{
			Message:     original.Message,
			Tree:        original.TreeHash.String(),
			AuthorName:  testSyntheticNameConstant,
			AuthorEmail: testSyntheticEmailConstant,
			AuthorTime:  scenario.AuthorTimes[commitIndex].Unix(),
		})
	}

	actual := []chainSummary{}
	for _, commit := range rewritten {
		actual = append(actual, chainSummary{
			Message:     commit.Message,
			Tree:        string(commit.Tree),
			AuthorName:  commit.Author.Name,
			AuthorEmail: commit.Author.Email,
			AuthorTime:  commit.Author.When.Unix(),
		})
		require.Equal(testInstance, commit.Author.Name, commit.Committer.Name)
		require.Equal(testInstance, commit.Author.Email, commit.Committer.Email)
		require.Equal(testInstance, commit.Author.When.Unix(), commit.Committer.When.Unix())
	}
	require.Empty(testInstance, cmp.Diff(expected, actual))

	originalReferences := map[string]bool{}
	for _, originalHash := range scenario.HeadCommits {
		originalReferences[originalHash.String()] = true
	}
	expectedParent := chain.MergeBase
	for commitIndex, commit := range rewritten {
		require.False(testInstance, originalReferences[commit.Ref.String()])
		require.Equal(testInstance, []vcs.CommitRef{expectedParent}, commit.Parents)
		require.Equal(testInstance, chain.Commits[commitIndex].Rewritten, commit.Ref)
		require.Equal(testInstance, scenario.HeadCommits[commitIndex].String(), chain.Commits[commitIndex].Original.Ref.String())
		_, offset := commit.Author.When.Zone()
		require.Equal(testInstance, -3*60*60, offset)
		expectedParent = commit.Ref
	}

	headBranch, headError := chain.Repository.HeadBranch(executionContext)
	require.NoError(testInstance, headError)
	require.Equal(testInstance, testBranchNameConstant, headBranch)

	branchTip, tipError := chain.Repository.ResolveCommit(executionContext, vcs.BranchReferenceName(testBranchNameConstant))
	require.NoError(testInstance, tipError)
	require.Equal(testInstance, chain.Tip(), branchTip)
}

func TestAnonymizeIsDeterministicAcrossWorkspaces(testInstance *testing.T) {
	scenario := testsupport.NewContributionScenario(testInstance)
	rewriter := newGoGitRewriter(testInstance, rewrite.Options{})
	request := scenarioRequest(scenario, scenario.HeadCommit().String())

	firstChain, firstError := rewriter.Anonymize(context.Background(), newWorkspace(testInstance), request)
	require.NoError(testInstance, firstError)
	secondChain, secondError := rewriter.Anonymize(context.Background(), newWorkspace(testInstance), request)
	require.NoError(testInstance, secondError)

	require.Equal(testInstance, firstChain.Tip(), secondChain.Tip())
}

func TestAnonymizeEmptyRangePointsBranchAtMergeBase(testInstance *testing.T) {
	scenario := testsupport.NewContributionScenario(testInstance)
	rewriter := newGoGitRewriter(testInstance, rewrite.Options{})

	chain, anonymizeError := rewriter.Anonymize(context.Background(), newWorkspace(testInstance), scenarioRequest(scenario, scenario.BaseCommit.String()))
	require.NoError(testInstance, anonymizeError)
	require.Empty(testInstance, chain.Commits)
	require.Equal(testInstance, scenario.BaseCommit.String(), chain.Tip().String())

	branchTip, tipError := chain.Repository.ResolveCommit(context.Background(), vcs.BranchReferenceName(testBranchNameConstant))
	require.NoError(testInstance, tipError)
	require.Equal(testInstance, scenario.BaseCommit.String(), branchTip.String())
}

func TestAnonymizeUnrelatedHistoriesFailWithoutBranch(testInstance *testing.T) {
	testsupport.InstallInProcessFileTransport()
	scenario := testsupport.NewContributionScenario(testInstance)

	unrelated := testsupport.NewBareRepository(testInstance)
	stranger := testsupport.Signature("Mallory", "mallory@example.com", 1600000000, 0)
	unrelatedRoot := unrelated.Commit("unrelated root\n", stranger, map[string]string{"other.txt": "other"})
	unrelated.SetBranch("main", unrelatedRoot)
	unrelated.SetHead("main")

	backend := &recordingBackend{delegate: gogit.NewBackend(zap.NewNop())}
	rewriter, rewriterError := rewrite.NewRewriter(rewrite.Dependencies{Backend: backend}, rewrite.Options{})
	require.NoError(testInstance, rewriterError)

	request := rewrite.Request{
		Head:       rewrite.HeadSource{URL: unrelated.Path, Commit: unrelatedRoot.String()},
		Base:       rewrite.BaseTarget{URL: scenario.Upstream.Path, Ref: scenario.BaseBranch},
		BranchName: testBranchNameConstant,
	}
	_, anonymizeError := rewriter.Anonymize(context.Background(), newWorkspace(testInstance), request)
	require.ErrorIs(testInstance, anonymizeError, vcs.ErrDivergence)
	require.Contains(testInstance, anonymizeError.Error(), "upstream/main")

	require.Equal(testInstance, "upstream", rewriter.Options().UpstreamRemote)
	require.Len(testInstance, backend.repositories, 1)
	exists, existsError := backend.repositories[0].BranchExists(context.Background(), testBranchNameConstant)
	require.NoError(testInstance, existsError)
	require.False(testInstance, exists)
}

func TestAnonymizeRejectsExistingBranch(testInstance *testing.T) {
	scenario := testsupport.NewContributionScenario(testInstance)
	rewriter := newGoGitRewriter(testInstance, rewrite.Options{})

	request := scenarioRequest(scenario, scenario.HeadCommit().String())
	request.BranchName = scenario.BaseBranch

	_, anonymizeError := rewriter.Anonymize(context.Background(), newWorkspace(testInstance), request)
	require.ErrorIs(testInstance, anonymizeError, vcs.ErrNamingConflict)
}

func TestAnonymizeReportsUnknownHeadCommit(testInstance *testing.T) {
	scenario := testsupport.NewContributionScenario(testInstance)
	rewriter := newGoGitRewriter(testInstance, rewrite.Options{})

	_, anonymizeError := rewriter.Anonymize(context.Background(), newWorkspace(testInstance), scenarioRequest(scenario, "0123456789abcdef0123456789abcdef01234567"))
	require.ErrorIs(testInstance, anonymizeError, vcs.ErrResolution)
}

func TestAnonymizeReportsUnknownBaseRef(testInstance *testing.T) {
	scenario := testsupport.NewContributionScenario(testInstance)
	rewriter := newGoGitRewriter(testInstance, rewrite.Options{})

	request := scenarioRequest(scenario, scenario.HeadCommit().String())
	request.Base.Ref = "release"
	_, anonymizeError := rewriter.Anonymize(context.Background(), newWorkspace(testInstance), request)
	require.ErrorIs(testInstance, anonymizeError, vcs.ErrResolution)
	require.Contains(testInstance, anonymizeError.Error(), "upstream/release")
}

func TestAnonymizeUsesConfiguredIdentity(testInstance *testing.T) {
	scenario := testsupport.NewContributionScenario(testInstance)
	rewriter := newGoGitRewriter(testInstance, rewrite.Options{Identity: rewrite.Identity{Name: "Ghost", Email: "ghost@example.org"}, UpstreamRemote: "base"})

	chain, anonymizeError := rewriter.Anonymize(context.Background(), newWorkspace(testInstance), scenarioRequest(scenario, scenario.HeadCommit().String()))
	require.NoError(testInstance, anonymizeError)

	rewritten, walkError := chain.Repository.WalkCommits(context.Background(), chain.Tip(), chain.MergeBase)
	require.NoError(testInstance, walkError)
	for _, commit := range rewritten {
		require.Equal(testInstance, "Ghost", commit.Author.Name)
		require.Equal(testInstance, "ghost@example.org", commit.Committer.Email)
	}
}
