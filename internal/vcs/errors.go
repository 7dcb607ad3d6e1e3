package vcs

import (
	"errors"
	"fmt"
	"strings"
)

const (
	resolutionKindMessageConstant           = "resolution failed"
	divergenceKindMessageConstant           = "histories have no common ancestor"
	namingConflictKindMessageConstant       = "branch already exists"
	unsupportedTopologyKindMessageConstant  = "unsupported commit topology"
	authenticationKindMessageConstant       = "authentication failed"
	networkKindMessageConstant              = "network failure"
	rejectedKindMessageConstant             = "remote rejected update"
	cleanupKindMessageConstant              = "workspace cleanup failed"
	operationErrorTemplateConstant          = "%s %s: %s"
	operationErrorWithCauseTemplateConstant = "%s %s: %s: %v"
	operationErrorWithoutSubjectTemplate    = "%s: %s"
	operationErrorCauseOnlyTemplate         = "%s: %s: %v"
)

// ErrorKind categorizes failures surfaced to callers.
type ErrorKind string

// Supported error kinds.
const (
	ErrorKindResolution          ErrorKind = "resolution"
	ErrorKindDivergence          ErrorKind = "divergence"
	ErrorKindNamingConflict      ErrorKind = "naming_conflict"
	ErrorKindUnsupportedTopology ErrorKind = "unsupported_topology"
	ErrorKindAuthentication      ErrorKind = "authentication"
	ErrorKindNetwork             ErrorKind = "network"
	ErrorKindRejected            ErrorKind = "rejected"
	ErrorKindCleanup             ErrorKind = "cleanup"
)

var (
	// ErrResolution matches failures to resolve a commit, reference, or URL.
	ErrResolution = errors.New(resolutionKindMessageConstant)
	// ErrDivergence matches head and base histories without a common ancestor.
	ErrDivergence = errors.New(divergenceKindMessageConstant)
	// ErrNamingConflict matches attempts to create a branch that already exists.
	ErrNamingConflict = errors.New(namingConflictKindMessageConstant)
	// ErrUnsupportedTopology matches multi-parent commits inside the rewritten range.
	ErrUnsupportedTopology = errors.New(unsupportedTopologyKindMessageConstant)
	// ErrAuthentication matches credentials rejected by a remote.
	ErrAuthentication = errors.New(authenticationKindMessageConstant)
	// ErrNetwork matches transport failures.
	ErrNetwork = errors.New(networkKindMessageConstant)
	// ErrRejected matches remotes refusing a ref update.
	ErrRejected = errors.New(rejectedKindMessageConstant)
	// ErrCleanup matches failures to remove a workspace.
	ErrCleanup = errors.New(cleanupKindMessageConstant)
)

var kindSentinels = map[ErrorKind]error{
	ErrorKindResolution:          ErrResolution,
	ErrorKindDivergence:          ErrDivergence,
	ErrorKindNamingConflict:      ErrNamingConflict,
	ErrorKindUnsupportedTopology: ErrUnsupportedTopology,
	ErrorKindAuthentication:      ErrAuthentication,
	ErrorKindNetwork:             ErrNetwork,
	ErrorKindRejected:            ErrRejected,
	ErrorKindCleanup:             ErrCleanup,
}

// OperationName identifies the repository operation that failed.
type OperationName string

// Operation names reported in OperationError.
const (
	OperationClone            OperationName = "clone"
	OperationAddRemote        OperationName = "add-remote"
	OperationFetch            OperationName = "fetch"
	OperationResolve          OperationName = "resolve"
	OperationMergeBase        OperationName = "merge-base"
	OperationWalk             OperationName = "walk"
	OperationCreateCommit     OperationName = "create-commit"
	OperationCreateBranch     OperationName = "create-branch"
	OperationSetHead          OperationName = "set-head"
	OperationPush             OperationName = "push"
	OperationReleaseWorkspace OperationName = "release-workspace"
)

// OperationError reports a categorized failure of a repository operation.
type OperationError struct {
	Kind      ErrorKind
	Operation OperationName
	Subject   string
	Cause     error
}

// NewOperationError constructs an OperationError.
func NewOperationError(kind ErrorKind, operation OperationName, subject string, cause error) OperationError {
	return OperationError{Kind: kind, Operation: operation, Subject: subject, Cause: cause}
}

// Error describes the failure.
func (operationError OperationError) Error() string {
	kindMessage := operationError.kindMessage()
	trimmedSubject := strings.TrimSpace(operationError.Subject)
	switch {
	case len(trimmedSubject) == 0 && operationError.Cause == nil:
		return fmt.Sprintf(operationErrorWithoutSubjectTemplate, operationError.Operation, kindMessage)
	case len(trimmedSubject) == 0:
		return fmt.Sprintf(operationErrorCauseOnlyTemplate, operationError.Operation, kindMessage, operationError.Cause)
	case operationError.Cause == nil:
		return fmt.Sprintf(operationErrorTemplateConstant, operationError.Operation, trimmedSubject, kindMessage)
	default:
		return fmt.Sprintf(operationErrorWithCauseTemplateConstant, operationError.Operation, trimmedSubject, kindMessage, operationError.Cause)
	}
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (operationError OperationError) Unwrap() []error {
	unwrapped := make([]error, 0, 2)
	if sentinel, known := kindSentinels[operationError.Kind]; known {
		unwrapped = append(unwrapped, sentinel)
	}
	if operationError.Cause != nil {
		unwrapped = append(unwrapped, operationError.Cause)
	}
	return unwrapped
}

func (operationError OperationError) kindMessage() string {
	if sentinel, known := kindSentinels[operationError.Kind]; known {
		return sentinel.Error()
	}
	return string(operationError.Kind)
}

// KindOf returns the kind of the first OperationError in the chain.
func KindOf(err error) (ErrorKind, bool) {
	var operationError OperationError
	if !errors.As(err, &operationError) {
		return "", false
	}
	return operationError.Kind, true
}
