package vcs

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	branchReferencePrefixConstant        = "refs/heads/"
	remoteReferencePrefixConstant        = "refs/remotes/"
	forcePushRefSpecTemplateConstant     = "+%s:%s"
	remoteBranchNameTemplateConstant     = "%s/%s"
	signatureDescriptionTemplateConstant = "%s <%s>"
	shortReferenceLengthConstant         = 8
)

// CommitRef is the hex content hash naming a commit.
type CommitRef string

// TreeRef is the hex content hash naming a tree snapshot.
type TreeRef string

// String returns the hex form of the reference.
func (reference CommitRef) String() string {
	return string(reference)
}

// Short returns an abbreviated form of the reference suitable for display.
func (reference CommitRef) Short() string {
	if len(reference) <= shortReferenceLengthConstant {
		return string(reference)
	}
	return string(reference[:shortReferenceLengthConstant])
}

// IsZero reports whether the reference is empty.
func (reference CommitRef) IsZero() bool {
	return len(strings.TrimSpace(string(reference))) == 0
}

// Signature captures an author or committer identity at a point in time.
type Signature struct {
	Name  string
	Email string
	When  time.Time
}

// String formats the signature as "Name <email>".
func (signature Signature) String() string {
	return fmt.Sprintf(signatureDescriptionTemplateConstant, signature.Name, signature.Email)
}

// Commit describes a commit as read from a repository.
type Commit struct {
	Ref       CommitRef
	Parents   []CommitRef
	Tree      TreeRef
	Message   string
	Author    Signature
	Committer Signature
}

// NumParents returns the number of parent references.
func (commit Commit) NumParents() int {
	return len(commit.Parents)
}

// Subject returns the first line of the commit message.
func (commit Commit) Subject() string {
	subject, _, _ := strings.Cut(strings.TrimSpace(commit.Message), "\n")
	return strings.TrimSpace(subject)
}

// CommitSpec describes a commit to be written into a repository.
type CommitSpec struct {
	Message   string
	Tree      TreeRef
	Parents   []CommitRef
	Author    Signature
	Committer Signature
}

// Backend materializes repositories from remote locations.
type Backend interface {
	// Clone copies the full history at remoteURL into a bare repository at localPath.
	Clone(executionContext context.Context, remoteURL string, localPath string) (Repository, error)
}

// Repository exposes the repository operations used by the rewriter and publisher.
type Repository interface {
	// Path returns the on-disk location of the repository.
	Path() string
	// AddRemote registers a named remote.
	AddRemote(executionContext context.Context, remoteName string, remoteURL string) error
	// Fetch retrieves all branches of the named remote.
	Fetch(executionContext context.Context, remoteName string) error
	// ResolveCommit resolves a revision to a commit reference.
	ResolveCommit(executionContext context.Context, revision string) (CommitRef, error)
	// ResolveRemoteBranch resolves <remote>/<branch> to a commit reference.
	ResolveRemoteBranch(executionContext context.Context, remoteName string, branchName string) (CommitRef, error)
	// MergeBase returns the best common ancestor, reporting false when the histories are unrelated.
	MergeBase(executionContext context.Context, first CommitRef, second CommitRef) (CommitRef, bool, error)
	// WalkCommits lists commits reachable from head but not from exclude, parents before children.
	WalkCommits(executionContext context.Context, head CommitRef, exclude CommitRef) ([]Commit, error)
	// CreateCommit writes a new commit object and returns its reference.
	CreateCommit(executionContext context.Context, specification CommitSpec) (CommitRef, error)
	// BranchExists reports whether a local branch with the name exists.
	BranchExists(executionContext context.Context, branchName string) (bool, error)
	// CreateBranch creates a local branch pointing at target.
	CreateBranch(executionContext context.Context, branchName string, target CommitRef) error
	// SetHeadBranch points HEAD at the local branch.
	SetHeadBranch(executionContext context.Context, branchName string) error
	// HeadBranch returns the branch HEAD points at.
	HeadBranch(executionContext context.Context) (string, error)
	// Push sends refSpec to remoteURL.
	Push(executionContext context.Context, remoteURL string, refSpec string, authentication PushAuthentication) error
}

// PushAuthentication carries the key material used to authenticate a push.
// PrivateKey serves ssh destinations and Token serves http(s) destinations.
// KeyDirectory is the owner-only directory where a backend may stage key material for the push.
type PushAuthentication struct {
	Username              string
	PrivateKey            []byte
	Passphrase            string
	KnownHostsFile        string
	InsecureIgnoreHostKey bool
	Token                 string
	KeyDirectory          string
}

// BranchReferenceName returns the fully qualified reference for a local branch.
func BranchReferenceName(branchName string) string {
	return branchReferencePrefixConstant + branchName
}

// RemoteBranchName returns the short <remote>/<branch> form.
func RemoteBranchName(remoteName string, branchName string) string {
	return fmt.Sprintf(remoteBranchNameTemplateConstant, remoteName, branchName)
}

// RemoteReferenceName returns the fully qualified reference for a remote-tracking branch.
func RemoteReferenceName(remoteName string, branchName string) string {
	return remoteReferencePrefixConstant + RemoteBranchName(remoteName, branchName)
}

// ForcePushRefSpec builds a refspec that unconditionally overwrites the same branch on the remote.
func ForcePushRefSpec(branchName string) string {
	reference := BranchReferenceName(branchName)
	return fmt.Sprintf(forcePushRefSpecTemplateConstant, reference, reference)
}
