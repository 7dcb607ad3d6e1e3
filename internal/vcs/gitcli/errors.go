package gitcli

import (
	"errors"
	"strings"

	"github.com/anonydog/anonydog/internal/execshell"
	"github.com/anonydog/anonydog/internal/vcs"
)

var authenticationMarkers = []string{
	"permission denied",
	"authentication failed",
	"could not read username",
	"host key verification failed",
	"invalid username or password",
}

var rejectionMarkers = []string{
	"[rejected]",
	"[remote rejected]",
	"pre-receive hook declined",
	"protected branch",
}

var resolutionMarkers = []string{
	"repository not found",
	"does not appear to be a git repository",
	"not a git repository",
	"couldn't find remote ref",
}

// classifyCommandError maps git stderr onto the vcs error kinds.
func classifyCommandError(operation vcs.OperationName, subject string, cause error) error {
	var failure execshell.CommandFailedError
	if !errors.As(cause, &failure) {
		return vcs.NewOperationError(vcs.ErrorKindNetwork, operation, subject, cause)
	}

	standardError := strings.ToLower(failure.Result.StandardError)
	switch {
	case containsAny(standardError, authenticationMarkers):
		return vcs.NewOperationError(vcs.ErrorKindAuthentication, operation, subject, cause)
	case operation == vcs.OperationPush && containsAny(standardError, rejectionMarkers):
		return vcs.NewOperationError(vcs.ErrorKindRejected, operation, subject, cause)
	case containsAny(standardError, resolutionMarkers):
		return vcs.NewOperationError(vcs.ErrorKindResolution, operation, subject, cause)
	default:
		return vcs.NewOperationError(vcs.ErrorKindNetwork, operation, subject, cause)
	}
}

func containsAny(text string, markers []string) bool {
	for _, marker := range markers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}
