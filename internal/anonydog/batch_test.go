package anonydog_test

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/anonydog/anonydog/internal/anonydog"
	"github.com/anonydog/anonydog/internal/publish"
	"github.com/anonydog/anonydog/internal/rewrite"
	"github.com/anonydog/anonydog/internal/vcs"
	"github.com/anonydog/anonydog/internal/vcs/testsupport"
)

const (
	testManifestPathConstant = "/manifests/requests.yaml"
	testManifestContent      = `requests:
  - base_url: https://github.com/maintainer/project.git
    base_ref: main
    head_url: https://github.com/contributor/project.git
    head_commit: 0123456789abcdef0123456789abcdef01234567
    destination: git@github.com:anonydog/project.git
    branch: pullrequest-00000001
  - base_url: https://github.com/maintainer/other.git
    base_ref: develop
    head_url: https://github.com/contributor/other.git
    head_commit: fedcba9876543210fedcba9876543210fedcba98
    destination: git@github.com:anonydog/other.git
`
)

func TestLoadManifest(testInstance *testing.T) {
	testCases := []struct {
		name            string
		content         string
		expectError     bool
		expectedEntries int
	}{
		{name: "valid", content: testManifestContent, expectedEntries: 2},
		{name: "unknown_field", content: "requests:\n  - base_url: a\n    unexpected: b\n", expectError: true},
		{name: "empty_document", content: "", expectError: true},
		{name: "no_requests", content: "requests: []\n", expectError: true},
		{name: "malformed", content: "requests: [\n", expectError: true},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(testInstance *testing.T) {
			fileSystem := afero.NewMemMapFs()
			require.NoError(testInstance, afero.WriteFile(fileSystem, testManifestPathConstant, []byte(testCase.content), 0o600))

			manifest, loadError := anonydog.LoadManifest(fileSystem, testManifestPathConstant)
			if testCase.expectError {
				require.Error(testInstance, loadError)
				return
			}
			require.NoError(testInstance, loadError)
			require.Len(testInstance, manifest.Requests, testCase.expectedEntries)
		})
	}

	manifest, loadError := anonydog.LoadManifest(func() afero.Fs {
		fileSystem := afero.NewMemMapFs()
		require.NoError(testInstance, afero.WriteFile(fileSystem, testManifestPathConstant, []byte(testManifestContent), 0o600))
		return fileSystem
	}(), testManifestPathConstant)
	require.NoError(testInstance, loadError)
	require.Equal(testInstance, anonydog.PublishRequest{
		BaseURL:        "https://github.com/maintainer/project.git",
		BaseRef:        "main",
		HeadURL:        "https://github.com/contributor/project.git",
		HeadCommit:     "0123456789abcdef0123456789abcdef01234567",
		DestinationURL: "git@github.com:anonydog/project.git",
		BranchName:     "pullrequest-00000001",
	}, manifest.Requests[0])

	_, missingError := anonydog.LoadManifest(afero.NewMemMapFs(), testManifestPathConstant)
	require.Error(testInstance, missingError)
	_, fileSystemError := anonydog.LoadManifest(nil, testManifestPathConstant)
	require.ErrorIs(testInstance, fileSystemError, anonydog.ErrManifestFileSystemNotConfigured)
}

func TestPublishBatchPublishesIndependentRequests(testInstance *testing.T) {
	environment := newGoGitService(testInstance)
	scenario := testsupport.NewContributionScenario(testInstance)
	firstDestination := testsupport.NewBareRepository(testInstance)
	secondDestination := testsupport.NewBareRepository(testInstance)

	firstRequest := scenarioPublishRequest(scenario, firstDestination.Path)
	firstRequest.BranchName = "pullrequest-00000001"
	invalidRequest := scenarioPublishRequest(scenario, secondDestination.Path)
	invalidRequest.HeadCommit = ""
	secondRequest := scenarioPublishRequest(scenario, secondDestination.Path)
	secondRequest.BranchName = "pullrequest-00000002"

	results, batchError := environment.service.PublishBatch(context.Background(), []anonydog.PublishRequest{firstRequest, invalidRequest, secondRequest}, 2)
	require.Error(testInstance, batchError)
	require.ErrorIs(testInstance, batchError, rewrite.ErrHeadCommitRequired)
	require.Contains(testInstance, batchError.Error(), "request 1")

	require.Len(testInstance, results, 3)
	require.NoError(testInstance, results[0].Err)
	require.Equal(testInstance, "pullrequest-00000001", results[0].BranchName)
	require.ErrorIs(testInstance, results[1].Err, rewrite.ErrHeadCommitRequired)
	require.Empty(testInstance, results[1].BranchName)
	require.NoError(testInstance, results[2].Err)
	require.Equal(testInstance, "pullrequest-00000002", results[2].BranchName)

	require.Equal(testInstance, firstDestination.BranchHash("pullrequest-00000001"), secondDestination.BranchHash("pullrequest-00000002"))
	requireWorkspacesRemoved(testInstance, environment.workspaceRoot)
}

func TestPublishBatchWithoutFailuresReturnsNil(testInstance *testing.T) {
	service := newStubService(testInstance, afero.NewMemMapFs(), &stubRewriter{}, &stubPublisher{}, publish.Credentials{})
	requests := []anonydog.PublishRequest{stubRequest(), stubRequest(), stubRequest()}

	results, batchError := service.PublishBatch(context.Background(), requests, 0)
	require.NoError(testInstance, batchError)
	require.Len(testInstance, results, len(requests))
	for _, result := range results {
		require.Equal(testInstance, testGeneratedBranchConstant, result.BranchName)
	}
}

func TestPublishBatchFailuresDoNotStopRemainingRequests(testInstance *testing.T) {
	rewriter := &stubRewriter{err: vcs.NewOperationError(vcs.ErrorKindDivergence, vcs.OperationMergeBase, "upstream/main..01234567", nil)}
	publisher := &stubPublisher{}
	service := newStubService(testInstance, afero.NewMemMapFs(), rewriter, publisher, publish.Credentials{})
	requests := []anonydog.PublishRequest{stubRequest(), stubRequest(), stubRequest()}

	results, batchError := service.PublishBatch(context.Background(), requests, 1)
	require.ErrorIs(testInstance, batchError, vcs.ErrDivergence)
	require.Len(testInstance, rewriter.requests, len(requests))
	require.Empty(testInstance, publisher.calls)
	for requestIndex, result := range results {
		require.ErrorIs(testInstance, result.Err, vcs.ErrDivergence, requestIndex)
	}
	require.Contains(testInstance, batchError.Error(), "request 0")
	require.Contains(testInstance, batchError.Error(), "request 2")
}
