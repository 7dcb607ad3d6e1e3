package rewrite

import (
	"errors"
	"fmt"
	"strings"

	"github.com/anonydog/anonydog/internal/vcs"
)

const (
	defaultIdentityNameConstant       = "Anonydog"
	defaultIdentityEmailConstant      = "me@anonydog.org"
	defaultUpstreamRemoteNameConstant = "upstream"
	headURLRequiredMessageConstant    = "head repository url required"
	headCommitRequiredMessageConstant = "head commit required"
	baseURLRequiredMessageConstant    = "base repository url required"
	baseRefRequiredMessageConstant    = "base ref required"
	branchNameRequiredMessageConstant = "branch name required"
	identityRequiredMessageConstant   = "synthetic identity requires name and email"
	unknownTopologyPolicyTemplate     = "unknown topology policy %q"
	invalidBranchNameTemplateConstant = "invalid branch name %q"
	branchNameForbiddenCharacters     = " ~^:?*[\\"
	branchNameForbiddenSequence       = ".."
	branchNameLockSuffixConstant      = ".lock"
	branchNameSeparatorConstant       = "/"
	branchNameReflogSequenceConstant  = "@{"
)

// TopologyPolicy controls how merge commits inside the rewritten range are handled.
type TopologyPolicy string

// Supported topology policies.
const (
	TopologyPolicyReject    TopologyPolicy = "reject"
	TopologyPolicyLinearize TopologyPolicy = "linearize"
)

var (
	// ErrHeadURLRequired indicates the request omitted the head repository.
	ErrHeadURLRequired = errors.New(headURLRequiredMessageConstant)
	// ErrHeadCommitRequired indicates the request omitted the head commit.
	ErrHeadCommitRequired = errors.New(headCommitRequiredMessageConstant)
	// ErrBaseURLRequired indicates the request omitted the base repository.
	ErrBaseURLRequired = errors.New(baseURLRequiredMessageConstant)
	// ErrBaseRefRequired indicates the request omitted the base ref.
	ErrBaseRefRequired = errors.New(baseRefRequiredMessageConstant)
	// ErrBranchNameRequired indicates the request omitted the branch name.
	ErrBranchNameRequired = errors.New(branchNameRequiredMessageConstant)
	// ErrIdentityRequired indicates the synthetic identity is incomplete.
	ErrIdentityRequired = errors.New(identityRequiredMessageConstant)
)

// Identity is the synthetic author written into every rewritten commit.
type Identity struct {
	Name  string `mapstructure:"name"`
	Email string `mapstructure:"email"`
}

// DefaultIdentity returns the Anonydog identity.
func DefaultIdentity() Identity {
	return Identity{Name: defaultIdentityNameConstant, Email: defaultIdentityEmailConstant}
}

// HeadSource names the contribution to anonymize.
type HeadSource struct {
	URL    string
	Commit string
}

// BaseTarget names the branch the contribution is proposed against.
type BaseTarget struct {
	URL string
	Ref string
}

// Request describes one anonymization.
type Request struct {
	Head       HeadSource
	Base       BaseTarget
	BranchName string
}

// Validate reports the first missing or malformed field.
func (request Request) Validate() error {
	switch {
	case len(strings.TrimSpace(request.Head.URL)) == 0:
		return ErrHeadURLRequired
	case len(strings.TrimSpace(request.Head.Commit)) == 0:
		return ErrHeadCommitRequired
	case len(strings.TrimSpace(request.Base.URL)) == 0:
		return ErrBaseURLRequired
	case len(strings.TrimSpace(request.Base.Ref)) == 0:
		return ErrBaseRefRequired
	case len(strings.TrimSpace(request.BranchName)) == 0:
		return ErrBranchNameRequired
	}
	return ValidateBranchName(request.BranchName)
}

// ValidateBranchName rejects names git would refuse as a branch.
func ValidateBranchName(branchName string) error {
	invalid := strings.ContainsAny(branchName, branchNameForbiddenCharacters) ||
		strings.Contains(branchName, branchNameForbiddenSequence) ||
		strings.Contains(branchName, branchNameReflogSequenceConstant) ||
		strings.HasSuffix(branchName, branchNameLockSuffixConstant) ||
		strings.HasPrefix(branchName, branchNameSeparatorConstant) ||
		strings.HasSuffix(branchName, branchNameSeparatorConstant) ||
		strings.HasPrefix(branchName, "-")
	for _, character := range branchName {
		if character < 0x20 || character == 0x7f {
			invalid = true
		}
	}
	if invalid {
		return fmt.Errorf(invalidBranchNameTemplateConstant, branchName)
	}
	return nil
}

// RewrittenCommit pairs an original commit with its anonymized replacement.
type RewrittenCommit struct {
	Original  vcs.Commit
	Rewritten vcs.CommitRef
}

// Chain is the result of an anonymization, owned by the workspace that produced it.
type Chain struct {
	Repository vcs.Repository
	BranchName string
	MergeBase  vcs.CommitRef
	Commits    []RewrittenCommit
}

// Tip returns the commit the new branch points at.
func (chain Chain) Tip() vcs.CommitRef {
	if len(chain.Commits) == 0 {
		return chain.MergeBase
	}
	return chain.Commits[len(chain.Commits)-1].Rewritten
}

// Options configures the rewriter.
type Options struct {
	UpstreamRemote string
	Identity       Identity
	TopologyPolicy TopologyPolicy
}

func (options Options) sanitize() (Options, error) {
	sanitized := options
	sanitized.UpstreamRemote = strings.TrimSpace(sanitized.UpstreamRemote)
	if len(sanitized.UpstreamRemote) == 0 {
		sanitized.UpstreamRemote = defaultUpstreamRemoteNameConstant
	}

	if sanitized.Identity == (Identity{}) {
		sanitized.Identity = DefaultIdentity()
	}
	if len(strings.TrimSpace(sanitized.Identity.Name)) == 0 || len(strings.TrimSpace(sanitized.Identity.Email)) == 0 {
		return Options{}, ErrIdentityRequired
	}

	policy, policyError := ParseTopologyPolicy(string(sanitized.TopologyPolicy))
	if policyError != nil {
		return Options{}, policyError
	}
	sanitized.TopologyPolicy = policy
	return sanitized, nil
}

// ParseTopologyPolicy normalizes a policy name; empty selects reject.
func ParseTopologyPolicy(value string) (TopologyPolicy, error) {
	switch TopologyPolicy(strings.ToLower(strings.TrimSpace(value))) {
	case "", TopologyPolicyReject:
		return TopologyPolicyReject, nil
	case TopologyPolicyLinearize:
		return TopologyPolicyLinearize, nil
	default:
		return "", fmt.Errorf(unknownTopologyPolicyTemplate, value)
	}
}

// UnmarshalText parses a configured policy name.
func (policy *TopologyPolicy) UnmarshalText(text []byte) error {
	parsed, parseError := ParseTopologyPolicy(string(text))
	if parseError != nil {
		return parseError
	}
	*policy = parsed
	return nil
}
