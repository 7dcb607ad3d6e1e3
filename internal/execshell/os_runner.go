package execshell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
)

const (
	environmentAssignmentSeparatorConstant = "="
	environmentAssignmentTemplateConstant  = "%s%s%s"
)

// OSCommandRunner executes commands using the operating system facilities.
type OSCommandRunner struct {
	baseEnvironment func() []string
}

// NewOSCommandRunner constructs a runner backed by os/exec that inherits the process environment.
func NewOSCommandRunner() *OSCommandRunner {
	return &OSCommandRunner{baseEnvironment: os.Environ}
}

// Run executes the supplied command using os/exec.
// A non-zero exit status is reported through ExecutionResult, not as an error.
func (runner *OSCommandRunner) Run(executionContext context.Context, command ShellCommand) (ExecutionResult, error) {
	commandArguments := append([]string{}, command.Details.Arguments...)
	executable := exec.CommandContext(executionContext, string(command.Name), commandArguments...)

	if len(command.Details.WorkingDirectory) > 0 {
		executable.Dir = command.Details.WorkingDirectory
	}

	if len(command.Details.EnvironmentVariables) > 0 {
		executable.Env = runner.mergeEnvironment(command.Details.EnvironmentVariables)
	}

	var standardOutputBuffer bytes.Buffer
	var standardErrorBuffer bytes.Buffer
	executable.Stdout = &standardOutputBuffer
	executable.Stderr = &standardErrorBuffer

	if len(command.Details.StandardInput) > 0 {
		executable.Stdin = bytes.NewReader(command.Details.StandardInput)
	}

	runError := executable.Run()
	result := ExecutionResult{
		StandardOutput: standardOutputBuffer.String(),
		StandardError:  standardErrorBuffer.String(),
	}
	if runError == nil {
		return result, nil
	}

	exitError := &exec.ExitError{}
	if errors.As(runError, &exitError) {
		result.ExitCode = exitError.ExitCode()
		return result, nil
	}
	return ExecutionResult{}, runError
}

// mergeEnvironment overlays overrides on the inherited environment, replacing existing keys.
func (runner *OSCommandRunner) mergeEnvironment(overrides map[string]string) []string {
	inherited := []string{}
	if runner.baseEnvironment != nil {
		inherited = runner.baseEnvironment()
	}

	mergedEnvironment := make([]string, 0, len(inherited)+len(overrides))
	for _, assignment := range inherited {
		environmentKey, _, _ := strings.Cut(assignment, environmentAssignmentSeparatorConstant)
		if _, overridden := overrides[environmentKey]; overridden {
			continue
		}
		mergedEnvironment = append(mergedEnvironment, assignment)
	}

	overrideKeys := make([]string, 0, len(overrides))
	for environmentKey := range overrides {
		overrideKeys = append(overrideKeys, environmentKey)
	}
	sort.Strings(overrideKeys)

	for _, environmentKey := range overrideKeys {
		mergedEnvironment = append(mergedEnvironment, fmt.Sprintf(environmentAssignmentTemplateConstant, environmentKey, environmentAssignmentSeparatorConstant, overrides[environmentKey]))
	}
	return mergedEnvironment
}
