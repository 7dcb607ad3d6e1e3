// Package testsupport builds on-disk git repositories for tests.
package testsupport

import (
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport/client"
	"github.com/go-git/go-git/v5/plumbing/transport/server"
	"github.com/stretchr/testify/require"
)

const (
	fileProtocolConstant      = "file"
	defaultBranchNameConstant = "main"
	featureBranchNameConstant = "feature"
	baseFileNameConstant      = "README.md"
	featureFileNameConstant   = "feature.txt"
)

var installTransportOnce sync.Once

// InstallInProcessFileTransport serves local repositories through go-git's in-process server
// so tests do not depend on git-upload-pack and git-receive-pack binaries.
func InstallInProcessFileTransport() {
	installTransportOnce.Do(func() {
		client.InstallProtocol(fileProtocolConstant, server.NewClient(server.DefaultLoader))
	})
}

// RepositoryFixture is a bare repository written directly through the object store.
type RepositoryFixture struct {
	testInstance testing.TB
	Path         string
	Repository   *git.Repository
}

// NewBareRepository initializes an empty bare repository in a temporary directory.
func NewBareRepository(testInstance testing.TB) *RepositoryFixture {
	testInstance.Helper()
	repositoryPath := testInstance.TempDir()
	repository, initError := git.PlainInit(repositoryPath, true)
	require.NoError(testInstance, initError)
	return &RepositoryFixture{testInstance: testInstance, Path: repositoryPath, Repository: repository}
}

// Commit writes a commit with the files as a flat tree and returns its hash.
func (fixture *RepositoryFixture) Commit(message string, author object.Signature, files map[string]string, parents ...plumbing.Hash) plumbing.Hash {
	fixture.testInstance.Helper()

	fileNames := make([]string, 0, len(files))
	for fileName := range files {
		fileNames = append(fileNames, fileName)
	}
	sort.Strings(fileNames)

	tree := &object.Tree{}
	for _, fileName := range fileNames {
		tree.Entries = append(tree.Entries, object.TreeEntry{
			Name: fileName,
			Mode: filemode.Regular,
			Hash: fixture.storeBlob(files[fileName]),
		})
	}

	encodedTree := fixture.Repository.Storer.NewEncodedObject()
	require.NoError(fixture.testInstance, tree.Encode(encodedTree))
	treeHash, treeError := fixture.Repository.Storer.SetEncodedObject(encodedTree)
	require.NoError(fixture.testInstance, treeError)

	commit := &object.Commit{
		Author:       author,
		Committer:    author,
		Message:      message,
		TreeHash:     treeHash,
		ParentHashes: parents,
	}
	encodedCommit := fixture.Repository.Storer.NewEncodedObject()
	require.NoError(fixture.testInstance, commit.Encode(encodedCommit))
	commitHash, commitError := fixture.Repository.Storer.SetEncodedObject(encodedCommit)
	require.NoError(fixture.testInstance, commitError)
	return commitHash
}

// SetBranch points refs/heads/<branchName> at target.
func (fixture *RepositoryFixture) SetBranch(branchName string, target plumbing.Hash) {
	fixture.testInstance.Helper()
	reference := plumbing.NewHashReference(plumbing.NewBranchReferenceName(branchName), target)
	require.NoError(fixture.testInstance, fixture.Repository.Storer.SetReference(reference))
}

// SetHead points HEAD at the branch.
func (fixture *RepositoryFixture) SetHead(branchName string) {
	fixture.testInstance.Helper()
	reference := plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(branchName))
	require.NoError(fixture.testInstance, fixture.Repository.Storer.SetReference(reference))
}

// BranchHash returns the commit refs/heads/<branchName> points at.
func (fixture *RepositoryFixture) BranchHash(branchName string) plumbing.Hash {
	fixture.testInstance.Helper()
	reference, referenceError := fixture.Repository.Reference(plumbing.NewBranchReferenceName(branchName), true)
	require.NoError(fixture.testInstance, referenceError)
	return reference.Hash()
}

// HasBranch reports whether refs/heads/<branchName> exists.
func (fixture *RepositoryFixture) HasBranch(branchName string) bool {
	_, referenceError := fixture.Repository.Reference(plumbing.NewBranchReferenceName(branchName), true)
	return referenceError == nil
}

// CommitObject loads a commit by hash.
func (fixture *RepositoryFixture) CommitObject(hash plumbing.Hash) *object.Commit {
	fixture.testInstance.Helper()
	commit, commitError := fixture.Repository.CommitObject(hash)
	require.NoError(fixture.testInstance, commitError)
	return commit
}

func (fixture *RepositoryFixture) storeBlob(content string) plumbing.Hash {
	encodedBlob := fixture.Repository.Storer.NewEncodedObject()
	encodedBlob.SetType(plumbing.BlobObject)
	writer, writerError := encodedBlob.Writer()
	require.NoError(fixture.testInstance, writerError)
	_, writeError := writer.Write([]byte(content))
	require.NoError(fixture.testInstance, writeError)
	require.NoError(fixture.testInstance, writer.Close())

	blobHash, storeError := fixture.Repository.Storer.SetEncodedObject(encodedBlob)
	require.NoError(fixture.testInstance, storeError)
	return blobHash
}

// Signature builds a commit signature at the given unix time in the named zone offset.
func Signature(name string, email string, unixSeconds int64, offsetSeconds int) object.Signature {
	location := time.FixedZone("", offsetSeconds)
	return object.Signature{Name: name, Email: email, When: time.Unix(unixSeconds, 0).In(location)}
}

// ContributionScenario is an upstream repository with one commit on main and a head repository that
// extends it with three commits on a feature branch.
type ContributionScenario struct {
	Upstream      *RepositoryFixture
	Head          *RepositoryFixture
	BaseBranch    string
	FeatureBranch string
	BaseCommit    plumbing.Hash
	HeadCommits   []plumbing.Hash
	AuthorTimes   []time.Time
}

// NewContributionScenario builds C0 on upstream main and C1..C3 by a contributor on the head feature branch.
func NewContributionScenario(testInstance testing.TB) ContributionScenario {
	testInstance.Helper()

	maintainer := Signature("Bob Maintainer", "bob@example.com", 1500000000, 0)
	baseFiles := map[string]string{baseFileNameConstant: "upstream project\n"}

	upstream := NewBareRepository(testInstance)
	baseCommit := upstream.Commit("initial import\n", maintainer, baseFiles)
	upstream.SetBranch(defaultBranchNameConstant, baseCommit)
	upstream.SetHead(defaultBranchNameConstant)

	head := NewBareRepository(testInstance)
	headBaseCommit := head.Commit("initial import\n", maintainer, baseFiles)
	require.Equal(testInstance, baseCommit, headBaseCommit)

	contributorTimes := []time.Time{}
	headCommits := []plumbing.Hash{}
	parent := headBaseCommit
	messages := []string{"add feature skeleton\n", "implement feature\n\nWith a body paragraph.\n", "fix typo\n"}
	for commitIndex, message := range messages {
		contributor := Signature("Alice Contributor", "alice@example.com", 1500001000+int64(commitIndex)*60, -3*60*60)
		files := map[string]string{
			baseFileNameConstant:    "upstream project\n",
			featureFileNameConstant: message,
		}
		parent = head.Commit(message, contributor, files, parent)
		headCommits = append(headCommits, parent)
		contributorTimes = append(contributorTimes, contributor.When)
	}

	head.SetBranch(defaultBranchNameConstant, headBaseCommit)
	head.SetBranch(featureBranchNameConstant, parent)
	head.SetHead(defaultBranchNameConstant)

	return ContributionScenario{
		Upstream:      upstream,
		Head:          head,
		BaseBranch:    defaultBranchNameConstant,
		FeatureBranch: featureBranchNameConstant,
		BaseCommit:    baseCommit,
		HeadCommits:   headCommits,
		AuthorTimes:   contributorTimes,
	}
}

// HeadCommit returns the tip of the feature branch.
func (scenario ContributionScenario) HeadCommit() plumbing.Hash {
	return scenario.HeadCommits[len(scenario.HeadCommits)-1]
}
