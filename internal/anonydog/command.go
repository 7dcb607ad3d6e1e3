package anonydog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/anonydog/anonydog/internal/utils"
)

const (
	publishCommandUseConstant              = "publish"
	publishCommandShortDescriptionConstant = "Anonymize a contribution and force-push it to a destination"
	publishCommandLongDescriptionConstant  = "publish clones the head repository, replays every commit the base ref lacks under the synthetic identity, and force-pushes the resulting branch to the destination. It prints the branch name."
	previewCommandUseConstant              = "preview"
	previewCommandShortDescriptionConstant = "Anonymize a contribution without pushing"
	previewCommandLongDescriptionConstant  = "preview performs the same rewrite as publish inside a temporary workspace and prints the anonymized chain instead of pushing it."
	batchCommandUseConstant                = "batch"
	batchCommandShortDescriptionConstant   = "Publish every request listed in a YAML manifest"
	batchCommandLongDescriptionConstant    = "batch publishes independent requests in parallel, each in its own workspace, and prints one line per request."
	flagBaseURLNameConstant                = "base-url"
	flagBaseURLUsageConstant               = "Repository the contribution is proposed against."
	flagBaseRefNameConstant                = "base-ref"
	flagBaseRefUsageConstant               = "Branch of the base repository."
	flagHeadURLNameConstant                = "head-url"
	flagHeadURLUsageConstant               = "Repository holding the contribution."
	flagHeadCommitNameConstant             = "head-commit"
	flagHeadCommitUsageConstant            = "Tip commit of the contribution."
	flagDestinationNameConstant            = "destination"
	flagDestinationUsageConstant           = "Repository receiving the anonymized branch."
	flagBranchNameConstant                 = "branch"
	flagBranchUsageConstant                = "Anonymized branch name (defaults to pullrequest-<random>)."
	flagManifestNameConstant               = "file"
	flagManifestUsageConstant              = "YAML manifest listing requests (defaults to batch.manifest)."
	flagParallelismNameConstant            = "parallelism"
	flagParallelismUsageConstant           = "Maximum number of requests processed at once (defaults to batch.parallelism)."
	manifestRequiredMessageConstant        = "manifest path required: pass --file or set batch.manifest"
	previewHeaderTemplateConstant          = "%s (merge base %s, %d commits)\n"
	previewCommitTemplateConstant          = "%s %s %s\n"
	batchResultTemplateConstant            = "%d\t%s\t%s\n"
	batchStatusPublishedConstant           = "published"
	batchStatusFailedTemplateConstant      = "failed: %v"
	branchOutputTemplateConstant           = "%s\n"
	logFieldManifestConstant               = "manifest"
	manifestLoadedMessageConstant          = "request manifest loaded"
)

// ErrManifestRequired indicates the batch command has no manifest to read.
var ErrManifestRequired = errors.New(manifestRequiredMessageConstant)

// LoggerProvider supplies a zap logger for command execution.
type LoggerProvider func() *zap.Logger

// ConfigurationProvider supplies the resolved configuration for command execution.
type ConfigurationProvider func() Configuration

// CommandDependencies are shared by the anonydog command builders.
type CommandDependencies struct {
	LoggerProvider        LoggerProvider
	ConfigurationProvider ConfigurationProvider
	ServiceFactory        ServiceFactory
	FileSystem            afero.Fs
}

// PublishCommandBuilder assembles the publish command.
type PublishCommandBuilder struct {
	CommandDependencies
}

// PreviewCommandBuilder assembles the preview command.
type PreviewCommandBuilder struct {
	CommandDependencies
}

// BatchCommandBuilder assembles the batch command.
type BatchCommandBuilder struct {
	CommandDependencies
}

// Build constructs the publish command.
func (builder *PublishCommandBuilder) Build() (*cobra.Command, error) {
	command := &cobra.Command{
		Use:   publishCommandUseConstant,
		Short: publishCommandShortDescriptionConstant,
		Long:  publishCommandLongDescriptionConstant,
		Args:  cobra.NoArgs,
		RunE:  builder.run,
	}
	registerRequestFlags(command, true)
	return command, nil
}

func (builder *PublishCommandBuilder) run(command *cobra.Command, _ []string) error {
	service, serviceError := builder.resolveService()
	if serviceError != nil {
		return serviceError
	}
	branchName, publishError := service.PublishAnonymized(commandContext(command), parseRequestFlags(command))
	if publishError != nil {
		return publishError
	}
	_, writeError := fmt.Fprintf(command.OutOrStdout(), branchOutputTemplateConstant, branchName)
	return writeError
}

// Build constructs the preview command.
func (builder *PreviewCommandBuilder) Build() (*cobra.Command, error) {
	command := &cobra.Command{
		Use:   previewCommandUseConstant,
		Short: previewCommandShortDescriptionConstant,
		Long:  previewCommandLongDescriptionConstant,
		Args:  cobra.NoArgs,
		RunE:  builder.run,
	}
	registerRequestFlags(command, false)
	return command, nil
}

func (builder *PreviewCommandBuilder) run(command *cobra.Command, _ []string) error {
	service, serviceError := builder.resolveService()
	if serviceError != nil {
		return serviceError
	}
	summary, previewError := service.Preview(commandContext(command), parseRequestFlags(command))
	if previewError != nil {
		return previewError
	}
	return writeSummary(command.OutOrStdout(), summary)
}

// Build constructs the batch command.
func (builder *BatchCommandBuilder) Build() (*cobra.Command, error) {
	command := &cobra.Command{
		Use:   batchCommandUseConstant,
		Short: batchCommandShortDescriptionConstant,
		Long:  batchCommandLongDescriptionConstant,
		Args:  cobra.NoArgs,
		RunE:  builder.run,
	}
	command.Flags().String(flagManifestNameConstant, "", flagManifestUsageConstant)
	command.Flags().Int(flagParallelismNameConstant, 0, flagParallelismUsageConstant)
	return command, nil
}

func (builder *BatchCommandBuilder) run(command *cobra.Command, _ []string) error {
	configuration := builder.resolveConfiguration()
	executionContext := commandContext(command)

	manifestPath := builder.resolveManifestPath(executionContext, command, configuration)
	if len(manifestPath) == 0 {
		return ErrManifestRequired
	}
	parallelism := configuration.Batch.Parallelism
	if command.Flags().Changed(flagParallelismNameConstant) {
		parallelism, _ = command.Flags().GetInt(flagParallelismNameConstant)
	}

	manifest, manifestError := LoadManifest(builder.resolveFileSystem(), manifestPath)
	if manifestError != nil {
		return manifestError
	}
	builder.resolveLogger().Info(manifestLoadedMessageConstant, zap.String(logFieldManifestConstant, manifestPath), zap.Int(logFieldRequestCountConstant, len(manifest.Requests)))

	service, serviceError := builder.resolveService()
	if serviceError != nil {
		return serviceError
	}
	results, batchError := service.PublishBatch(executionContext, manifest.Requests, parallelism)
	for resultIndex, result := range results {
		status := batchStatusPublishedConstant
		if result.Err != nil {
			status = fmt.Sprintf(batchStatusFailedTemplateConstant, result.Err)
		}
		if _, writeError := fmt.Fprintf(command.OutOrStdout(), batchResultTemplateConstant, resultIndex, result.BranchName, status); writeError != nil {
			return writeError
		}
	}
	return batchError
}

// resolveManifestPath prefers the flag; a configured manifest path is relative to the configuration file.
func (builder *BatchCommandBuilder) resolveManifestPath(executionContext context.Context, command *cobra.Command, configuration Configuration) string {
	flagValue, _ := command.Flags().GetString(flagManifestNameConstant)
	if trimmedFlag := strings.TrimSpace(flagValue); len(trimmedFlag) > 0 {
		return trimmedFlag
	}
	return utils.NewCommandContextAccessor().ResolveConfiguredPath(executionContext, configuration.Batch.Manifest)
}

func (dependencies CommandDependencies) resolveLogger() *zap.Logger {
	if dependencies.LoggerProvider == nil {
		return zap.NewNop()
	}
	logger := dependencies.LoggerProvider()
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}

func (dependencies CommandDependencies) resolveConfiguration() Configuration {
	if dependencies.ConfigurationProvider == nil {
		return DefaultConfiguration()
	}
	return dependencies.ConfigurationProvider()
}

func (dependencies CommandDependencies) resolveFileSystem() afero.Fs {
	if dependencies.FileSystem == nil {
		return afero.NewOsFs()
	}
	return dependencies.FileSystem
}

func (dependencies CommandDependencies) resolveService() (*Service, error) {
	factory := dependencies.ServiceFactory
	if factory == nil {
		factory = NewServiceFromConfiguration
	}
	return factory(dependencies.resolveConfiguration(), dependencies.resolveLogger())
}

func registerRequestFlags(command *cobra.Command, includeDestination bool) {
	command.Flags().String(flagBaseURLNameConstant, "", flagBaseURLUsageConstant)
	command.Flags().String(flagBaseRefNameConstant, "", flagBaseRefUsageConstant)
	command.Flags().String(flagHeadURLNameConstant, "", flagHeadURLUsageConstant)
	command.Flags().String(flagHeadCommitNameConstant, "", flagHeadCommitUsageConstant)
	command.Flags().String(flagBranchNameConstant, "", flagBranchUsageConstant)
	if includeDestination {
		command.Flags().String(flagDestinationNameConstant, "", flagDestinationUsageConstant)
	}
}

func parseRequestFlags(command *cobra.Command) PublishRequest {
	baseURL, _ := command.Flags().GetString(flagBaseURLNameConstant)
	baseRef, _ := command.Flags().GetString(flagBaseRefNameConstant)
	headURL, _ := command.Flags().GetString(flagHeadURLNameConstant)
	headCommit, _ := command.Flags().GetString(flagHeadCommitNameConstant)
	branchName, _ := command.Flags().GetString(flagBranchNameConstant)
	destinationURL, _ := command.Flags().GetString(flagDestinationNameConstant)
	return PublishRequest{
		BaseURL:        baseURL,
		BaseRef:        baseRef,
		HeadURL:        headURL,
		HeadCommit:     headCommit,
		DestinationURL: destinationURL,
		BranchName:     branchName,
	}
}

func commandContext(command *cobra.Command) context.Context {
	if executionContext := command.Context(); executionContext != nil {
		return executionContext
	}
	return context.Background()
}

func writeSummary(writer io.Writer, summary Summary) error {
	if _, headerError := fmt.Fprintf(writer, previewHeaderTemplateConstant, summary.BranchName, summary.MergeBase.Short(), len(summary.Commits)); headerError != nil {
		return headerError
	}
	for _, commit := range summary.Commits {
		if _, lineError := fmt.Fprintf(writer, previewCommitTemplateConstant, commit.Rewritten.Short(), commit.AuthorTime.Format(time.RFC3339), commit.Subject); lineError != nil {
			return lineError
		}
	}
	return nil
}
