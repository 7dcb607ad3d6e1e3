package execshell

import (
	"fmt"
	"net/url"
	"strings"
)

type messageStage int

const (
	messageStageStart messageStage = iota
	messageStageSuccess
	messageStageFailure
	messageStageExecutionFailure
)

const (
	genericStartTemplateConstant            = "Running %s"
	genericSuccessTemplateConstant          = "Completed %s"
	genericFailureTemplateConstant          = "%s failed with exit code %d%s"
	genericExecutionFailureTemplateConstant = "%s failed: %s"
	workingDirectorySuffixTemplateConstant  = " (in %s)"
	standardErrorSuffixTemplateConstant     = ": %s"
	commandArgumentsJoinSeparatorConstant   = " "
	unknownFailureMessageConstant           = "unknown error"
	redactedUserInfoConstant                = "redacted"
)

const (
	gitCloneSubcommandNameConstant       = "clone"
	gitRemoteSubcommandNameConstant      = "remote"
	gitFetchSubcommandNameConstant       = "fetch"
	gitMergeBaseSubcommandNameConstant   = "merge-base"
	gitCommitTreeSubcommandNameConstant  = "commit-tree"
	gitPushSubcommandNameConstant        = "push"
	gitBranchSubcommandNameConstant      = "branch"
	gitSymbolicRefSubcommandNameConstant = "symbolic-ref"
	gitOptionPrefixConstant              = "-"
)

const (
	gitCloneStartTemplateConstant       = "Cloning %s into %s"
	gitCloneSuccessTemplateConstant     = "Cloned %s into %s"
	gitCloneFailureTemplateConstant     = "Failed to clone %s into %s (exit code %d%s)"
	gitRemoteStartTemplateConstant      = "Configuring remotes in %s"
	gitRemoteSuccessTemplateConstant    = "Configured remotes in %s"
	gitRemoteFailureTemplateConstant    = "Failed to configure remotes in %s (exit code %d%s)"
	gitFetchStartTemplateConstant       = "Fetching %s in %s"
	gitFetchSuccessTemplateConstant     = "Fetched %s in %s"
	gitFetchFailureTemplateConstant     = "Failed to fetch %s in %s (exit code %d%s)"
	gitMergeBaseStartTemplateConstant   = "Computing merge base in %s"
	gitMergeBaseSuccessTemplateConstant = "Computed merge base in %s"
	gitMergeBaseFailureTemplateConstant = "No merge base found in %s (exit code %d%s)"
	gitCommitStartTemplateConstant      = "Writing commit in %s"
	gitCommitSuccessTemplateConstant    = "Wrote commit in %s"
	gitCommitFailureTemplateConstant    = "Failed to write commit in %s (exit code %d%s)"
	gitBranchStartTemplateConstant      = "Updating branches in %s"
	gitBranchSuccessTemplateConstant    = "Updated branches in %s"
	gitBranchFailureTemplateConstant    = "Failed to update branches in %s (exit code %d%s)"
	gitPushStartTemplateConstant        = "Pushing to %s from %s"
	gitPushSuccessTemplateConstant      = "Pushed to %s from %s"
	gitPushFailureTemplateConstant      = "Failed to push to %s from %s (exit code %d%s)"
)

// CommandMessageFormatter builds human-readable messages for command lifecycle events.
type CommandMessageFormatter struct{}

// BuildStartedMessage formats the message describing a command about to run.
func (formatter CommandMessageFormatter) BuildStartedMessage(command ShellCommand) string {
	return formatter.buildMessage(command, ExecutionResult{}, nil, messageStageStart)
}

// BuildSuccessMessage formats the message describing a completed command.
func (formatter CommandMessageFormatter) BuildSuccessMessage(command ShellCommand) string {
	return formatter.buildMessage(command, ExecutionResult{}, nil, messageStageSuccess)
}

// BuildFailureMessage formats the message describing a command that returned a non-zero exit code.
func (formatter CommandMessageFormatter) BuildFailureMessage(command ShellCommand, result ExecutionResult) string {
	return formatter.buildMessage(command, result, nil, messageStageFailure)
}

// BuildExecutionFailureMessage formats the message describing an unexpected execution failure.
func (formatter CommandMessageFormatter) BuildExecutionFailureMessage(command ShellCommand, failure error) string {
	return formatter.buildMessage(command, ExecutionResult{}, failure, messageStageExecutionFailure)
}

func (formatter CommandMessageFormatter) buildMessage(command ShellCommand, result ExecutionResult, failure error, stage messageStage) string {
	if stage == messageStageExecutionFailure {
		failureMessage := unknownFailureMessageConstant
		if failure != nil {
			failureMessage = failure.Error()
		}
		return fmt.Sprintf(genericExecutionFailureTemplateConstant, describeCommandLabel(command), failureMessage)
	}

	if command.Name == CommandGit {
		if message, described := formatter.describeGitMessage(command, result, stage); described {
			return message
		}
	}

	switch stage {
	case messageStageStart:
		return fmt.Sprintf(genericStartTemplateConstant, describeCommandLabel(command))
	case messageStageSuccess:
		return fmt.Sprintf(genericSuccessTemplateConstant, describeCommandLabel(command))
	default:
		return fmt.Sprintf(genericFailureTemplateConstant, describeCommandLabel(command), result.ExitCode, standardErrorSuffix(result.StandardError))
	}
}

func (formatter CommandMessageFormatter) describeGitMessage(command ShellCommand, result ExecutionResult, stage messageStage) (string, bool) {
	arguments := command.Details.Arguments
	if len(arguments) == 0 {
		return "", false
	}

	workingDirectory := command.Details.WorkingDirectory
	positional := positionalArguments(arguments[1:])
	errorSuffix := standardErrorSuffix(result.StandardError)

	var templates [3]string
	var values []any

	switch arguments[0] {
	case gitCloneSubcommandNameConstant:
		if len(positional) < 2 {
			return "", false
		}
		templates = [3]string{gitCloneStartTemplateConstant, gitCloneSuccessTemplateConstant, gitCloneFailureTemplateConstant}
		values = []any{redactURL(positional[0]), positional[1]}
	case gitRemoteSubcommandNameConstant:
		templates = [3]string{gitRemoteStartTemplateConstant, gitRemoteSuccessTemplateConstant, gitRemoteFailureTemplateConstant}
		values = []any{workingDirectory}
	case gitFetchSubcommandNameConstant:
		if len(positional) == 0 {
			return "", false
		}
		templates = [3]string{gitFetchStartTemplateConstant, gitFetchSuccessTemplateConstant, gitFetchFailureTemplateConstant}
		values = []any{positional[0], workingDirectory}
	case gitMergeBaseSubcommandNameConstant:
		templates = [3]string{gitMergeBaseStartTemplateConstant, gitMergeBaseSuccessTemplateConstant, gitMergeBaseFailureTemplateConstant}
		values = []any{workingDirectory}
	case gitCommitTreeSubcommandNameConstant:
		templates = [3]string{gitCommitStartTemplateConstant, gitCommitSuccessTemplateConstant, gitCommitFailureTemplateConstant}
		values = []any{workingDirectory}
	case gitBranchSubcommandNameConstant, gitSymbolicRefSubcommandNameConstant:
		templates = [3]string{gitBranchStartTemplateConstant, gitBranchSuccessTemplateConstant, gitBranchFailureTemplateConstant}
		values = []any{workingDirectory}
	case gitPushSubcommandNameConstant:
		if len(positional) == 0 {
			return "", false
		}
		templates = [3]string{gitPushStartTemplateConstant, gitPushSuccessTemplateConstant, gitPushFailureTemplateConstant}
		values = []any{redactURL(positional[0]), workingDirectory}
	default:
		return "", false
	}

	switch stage {
	case messageStageStart:
		return fmt.Sprintf(templates[0], values...), true
	case messageStageSuccess:
		return fmt.Sprintf(templates[1], values...), true
	default:
		return fmt.Sprintf(templates[2], append(values, result.ExitCode, errorSuffix)...), true
	}
}

func describeCommandLabel(command ShellCommand) string {
	commandParts := []string{string(command.Name)}
	for _, argument := range command.Details.Arguments {
		commandParts = append(commandParts, redactURL(argument))
	}
	label := strings.Join(commandParts, commandArgumentsJoinSeparatorConstant)
	if len(command.Details.WorkingDirectory) > 0 {
		label += fmt.Sprintf(workingDirectorySuffixTemplateConstant, command.Details.WorkingDirectory)
	}
	return label
}

func positionalArguments(arguments []string) []string {
	positional := make([]string, 0, len(arguments))
	for _, argument := range arguments {
		if strings.HasPrefix(argument, gitOptionPrefixConstant) {
			continue
		}
		positional = append(positional, argument)
	}
	return positional
}

func standardErrorSuffix(standardError string) string {
	trimmed := strings.TrimSpace(standardError)
	if len(trimmed) == 0 {
		return ""
	}
	return fmt.Sprintf(standardErrorSuffixTemplateConstant, trimmed)
}

// redactURL hides user information such as tokens embedded in remote URLs.
func redactURL(candidate string) string {
	parsed, parseError := url.Parse(candidate)
	if parseError != nil || parsed.User == nil || len(parsed.Scheme) == 0 {
		return candidate
	}
	if _, hasPassword := parsed.User.Password(); !hasPassword {
		return candidate
	}
	parsed.User = url.UserPassword(parsed.User.Username(), redactedUserInfoConstant)
	return parsed.String()
}
