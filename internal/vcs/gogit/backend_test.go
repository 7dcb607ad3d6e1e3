package gogit_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/anonydog/anonydog/internal/vcs"
	"github.com/anonydog/anonydog/internal/vcs/gogit"
	"github.com/anonydog/anonydog/internal/vcs/testsupport"
)

const (
	upstreamRemoteNameConstant = "upstream"
	clonedRepositoryDirectory  = "repository.git"
	anonymizedBranchConstant   = "pullrequest-0a1b2c3d"
)

func cloneScenario(testInstance *testing.T) (testsupport.ContributionScenario, vcs.Repository) {
	testInstance.Helper()
	testsupport.InstallInProcessFileTransport()

	scenario := testsupport.NewContributionScenario(testInstance)
	backend := gogit.NewBackend(zap.NewNop())
	executionContext := context.Background()

	repository, cloneError := backend.Clone(executionContext, scenario.Head.Path, filepath.Join(testInstance.TempDir(), clonedRepositoryDirectory))
	require.NoError(testInstance, cloneError)
	require.NoError(testInstance, repository.AddRemote(executionContext, upstreamRemoteNameConstant, scenario.Upstream.Path))
	require.NoError(testInstance, repository.Fetch(executionContext, upstreamRemoteNameConstant))
	return scenario, repository
}

func TestRepositoryResolvesCommitsAndMergeBase(testInstance *testing.T) {
	scenario, repository := cloneScenario(testInstance)
	executionContext := context.Background()

	headReference, headError := repository.ResolveCommit(executionContext, scenario.HeadCommit().String())
	require.NoError(testInstance, headError)
	require.Equal(testInstance, scenario.HeadCommit().String(), headReference.String())

	baseReference, baseError := repository.ResolveRemoteBranch(executionContext, upstreamRemoteNameConstant, scenario.BaseBranch)
	require.NoError(testInstance, baseError)
	require.Equal(testInstance, scenario.BaseCommit.String(), baseReference.String())

	mergeBase, found, mergeBaseError := repository.MergeBase(executionContext, headReference, baseReference)
	require.NoError(testInstance, mergeBaseError)
	require.True(testInstance, found)
	require.Equal(testInstance, scenario.BaseCommit.String(), mergeBase.String())
}

func TestRepositoryResolutionFailuresAreClassified(testInstance *testing.T) {
	_, repository := cloneScenario(testInstance)
	executionContext := context.Background()

	_, missingCommitError := repository.ResolveCommit(executionContext, "0123456789abcdef0123456789abcdef01234567")
	require.ErrorIs(testInstance, missingCommitError, vcs.ErrResolution)

	_, missingBranchError := repository.ResolveRemoteBranch(executionContext, upstreamRemoteNameConstant, "does-not-exist")
	require.ErrorIs(testInstance, missingBranchError, vcs.ErrResolution)
	require.Contains(testInstance, missingBranchError.Error(), "upstream/does-not-exist")
}

func TestRepositoryWalkListsParentsFirstExcludingBaseHistory(testInstance *testing.T) {
	scenario, repository := cloneScenario(testInstance)

	commits, walkError := repository.WalkCommits(context.Background(), vcs.CommitRef(scenario.HeadCommit().String()), vcs.CommitRef(scenario.BaseCommit.String()))
	require.NoError(testInstance, walkError)
	require.Len(testInstance, commits, len(scenario.HeadCommits))

	for commitIndex, commit := range commits {
		require.Equal(testInstance, scenario.HeadCommits[commitIndex].String(), commit.Ref.String())
		require.Equal(testInstance, "Alice Contributor", commit.Author.Name)
		require.Equal(testInstance, scenario.AuthorTimes[commitIndex].Unix(), commit.Author.When.Unix())
		require.Len(testInstance, commit.Parents, 1)
	}
	require.Equal(testInstance, scenario.BaseCommit.String(), commits[0].Parents[0].String())
}

func TestRepositoryWalkWithoutExclusionReachesRoot(testInstance *testing.T) {
	scenario, repository := cloneScenario(testInstance)

	commits, walkError := repository.WalkCommits(context.Background(), vcs.CommitRef(scenario.HeadCommit().String()), "")
	require.NoError(testInstance, walkError)
	require.Len(testInstance, commits, len(scenario.HeadCommits)+1)
	require.Equal(testInstance, scenario.BaseCommit.String(), commits[0].Ref.String())
	require.Empty(testInstance, commits[0].Parents)
}

func TestRepositoryWalkVisitsMergeParentsBeforeMerge(testInstance *testing.T) {
	fixture := testsupport.NewBareRepository(testInstance)
	signature := testsupport.Signature("Alice", "alice@example.com", 1600000000, 0)

	root := fixture.Commit("root\n", signature, map[string]string{"a.txt": "a"})
	left := fixture.Commit("left\n", signature, map[string]string{"a.txt": "left"}, root)
	right := fixture.Commit("right\n", signature, map[string]string{"a.txt": "right"}, root)
	merge := fixture.Commit("merge\n", signature, map[string]string{"a.txt": "merged"}, left, right)

	repository := gogit.Open(fixture.Repository, fixture.Path, zap.NewNop())
	commits, walkError := repository.WalkCommits(context.Background(), vcs.CommitRef(merge.String()), vcs.CommitRef(root.String()))
	require.NoError(testInstance, walkError)

	walkedReferences := []string{}
	for _, commit := range commits {
		walkedReferences = append(walkedReferences, commit.Ref.String())
	}
	require.Equal(testInstance, []string{left.String(), right.String(), merge.String()}, walkedReferences)
	require.Equal(testInstance, 2, commits[2].NumParents())
}

func TestRepositoryMergeBaseReportsUnrelatedHistories(testInstance *testing.T) {
	fixture := testsupport.NewBareRepository(testInstance)
	signature := testsupport.Signature("Alice", "alice@example.com", 1600000000, 0)

	first := fixture.Commit("first root\n", signature, map[string]string{"a.txt": "a"})
	second := fixture.Commit("second root\n", signature, map[string]string{"b.txt": "b"})

	repository := gogit.Open(fixture.Repository, fixture.Path, nil)
	_, found, mergeBaseError := repository.MergeBase(context.Background(), vcs.CommitRef(first.String()), vcs.CommitRef(second.String()))
	require.NoError(testInstance, mergeBaseError)
	require.False(testInstance, found)
}

func TestRepositoryCreateCommitIsDeterministic(testInstance *testing.T) {
	scenario, repository := cloneScenario(testInstance)
	executionContext := context.Background()

	original := scenario.Head.CommitObject(scenario.HeadCommits[0])
	identityTime := time.Unix(1500001000, 0).In(time.FixedZone("", -3*60*60))
	specification := vcs.CommitSpec{
		Message:   original.Message,
		Tree:      vcs.TreeRef(original.TreeHash.String()),
		Parents:   []vcs.CommitRef{vcs.CommitRef(scenario.BaseCommit.String())},
		Author:    vcs.Signature{Name: "Anonydog", Email: "me@anonydog.org", When: identityTime},
		Committer: vcs.Signature{Name: "Anonydog", Email: "me@anonydog.org", When: identityTime},
	}

	firstReference, firstError := repository.CreateCommit(executionContext, specification)
	require.NoError(testInstance, firstError)
	secondReference, secondError := repository.CreateCommit(executionContext, specification)
	require.NoError(testInstance, secondError)
	require.Equal(testInstance, firstReference, secondReference)
	require.NotEqual(testInstance, scenario.HeadCommits[0].String(), firstReference.String())

	walked, walkError := repository.WalkCommits(executionContext, firstReference, vcs.CommitRef(scenario.BaseCommit.String()))
	require.NoError(testInstance, walkError)
	require.Len(testInstance, walked, 1)
	require.Equal(testInstance, "Anonydog", walked[0].Author.Name)
	require.Equal(testInstance, "me@anonydog.org", walked[0].Committer.Email)
	require.Equal(testInstance, original.TreeHash.String(), string(walked[0].Tree))
	require.Equal(testInstance, original.Message, walked[0].Message)
}

func TestRepositoryCreateCommitRejectsUnknownTree(testInstance *testing.T) {
	_, repository := cloneScenario(testInstance)

	_, createError := repository.CreateCommit(context.Background(), vcs.CommitSpec{
		Message: "orphan\n",
		Tree:    vcs.TreeRef(plumbing.ZeroHash.String()),
	})
	require.ErrorIs(testInstance, createError, vcs.ErrResolution)
}

func TestRepositoryBranchLifecycle(testInstance *testing.T) {
	scenario, repository := cloneScenario(testInstance)
	executionContext := context.Background()
	target := vcs.CommitRef(scenario.HeadCommit().String())

	exists, existsError := repository.BranchExists(executionContext, anonymizedBranchConstant)
	require.NoError(testInstance, existsError)
	require.False(testInstance, exists)

	require.NoError(testInstance, repository.CreateBranch(executionContext, anonymizedBranchConstant, target))
	require.NoError(testInstance, repository.SetHeadBranch(executionContext, anonymizedBranchConstant))

	headBranch, headError := repository.HeadBranch(executionContext)
	require.NoError(testInstance, headError)
	require.Equal(testInstance, anonymizedBranchConstant, headBranch)

	conflictError := repository.CreateBranch(executionContext, anonymizedBranchConstant, target)
	require.ErrorIs(testInstance, conflictError, vcs.ErrNamingConflict)
}

func TestRepositoryPushForceUpdatesDestination(testInstance *testing.T) {
	scenario, repository := cloneScenario(testInstance)
	executionContext := context.Background()
	destination := testsupport.NewBareRepository(testInstance)

	require.NoError(testInstance, repository.CreateBranch(executionContext, anonymizedBranchConstant, vcs.CommitRef(scenario.HeadCommit().String())))
	refSpec := vcs.ForcePushRefSpec(anonymizedBranchConstant)

	require.NoError(testInstance, repository.Push(executionContext, destination.Path, refSpec, vcs.PushAuthentication{}))
	require.Equal(testInstance, scenario.HeadCommit(), destination.BranchHash(anonymizedBranchConstant))

	require.NoError(testInstance, repository.Push(executionContext, destination.Path, refSpec, vcs.PushAuthentication{}))

	unrelated := destination.Commit("unrelated\n", testsupport.Signature("Eve", "eve@example.com", 1700000000, 0), map[string]string{"x.txt": "x"})
	destination.SetBranch(anonymizedBranchConstant, unrelated)

	require.NoError(testInstance, repository.Push(executionContext, destination.Path, refSpec, vcs.PushAuthentication{}))
	require.Equal(testInstance, scenario.HeadCommit(), destination.BranchHash(anonymizedBranchConstant))
}

func TestRepositoryPushToMissingDestinationFails(testInstance *testing.T) {
	scenario, repository := cloneScenario(testInstance)
	executionContext := context.Background()

	require.NoError(testInstance, repository.CreateBranch(executionContext, anonymizedBranchConstant, vcs.CommitRef(scenario.HeadCommit().String())))
	pushError := repository.Push(executionContext, filepath.Join(testInstance.TempDir(), "missing.git"), vcs.ForcePushRefSpec(anonymizedBranchConstant), vcs.PushAuthentication{})
	require.Error(testInstance, pushError)

	kind, classified := vcs.KindOf(pushError)
	require.True(testInstance, classified)
	require.Equal(testInstance, vcs.ErrorKindResolution, kind)
}

func TestBackendCloneOfMissingRepositoryFails(testInstance *testing.T) {
	testsupport.InstallInProcessFileTransport()
	backend := gogit.NewBackend(nil)

	_, cloneError := backend.Clone(context.Background(), filepath.Join(testInstance.TempDir(), "missing.git"), filepath.Join(testInstance.TempDir(), clonedRepositoryDirectory))
	require.ErrorIs(testInstance, cloneError, vcs.ErrResolution)
}
