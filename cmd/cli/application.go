package cli

import (
	"context"
	"errors"
	"fmt"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/anonydog/anonydog/internal/anonydog"
	"github.com/anonydog/anonydog/internal/utils"
	pathutils "github.com/anonydog/anonydog/internal/utils/path"
)

const (
	applicationNameConstant                 = "anonydog"
	applicationShortDescriptionConstant     = "Publish contributions under a synthetic identity"
	applicationLongDescriptionConstant      = "anonydog rewrites the commits of a contribution so that every author and committer is replaced by a synthetic identity, then force-pushes the rewritten branch to a destination repository."
	configFileFlagNameConstant              = "config"
	configFileFlagUsageConstant             = "Optional path to a configuration file (YAML or JSON)."
	logLevelFlagNameConstant                = "log-level"
	logLevelFlagUsageConstant               = "Override the configured log level (debug, info, warn, error)."
	logFormatFlagNameConstant               = "log-format"
	logFormatFlagUsageConstant              = "Override the configured log format (structured or console)."
	backendFlagNameConstant                 = "backend"
	backendFlagUsageConstant                = "Override the configured vcs backend (gogit or git)."
	commonConfigurationKeyConstant          = "common"
	commonLogLevelConfigKeyConstant         = commonConfigurationKeyConstant + ".log_level"
	commonLogFormatConfigKeyConstant        = commonConfigurationKeyConstant + ".log_format"
	commonLogFileConfigKeyConstant          = commonConfigurationKeyConstant + ".log_file"
	publishPrivateKeyConfigKeyConstant      = "publish.private_key"
	publishPublicKeyConfigKeyConstant       = "publish.public_key"
	legacyPrivateKeyEnvironmentConstant     = "GITHUB_SSH_KEY"
	legacyPublicKeyEnvironmentConstant      = "GITHUB_SSH_KEY_PUB"
	environmentPrefixConstant               = "ANONYDOG"
	configurationNameConstant               = "config"
	configurationTypeConstant               = "yaml"
	configurationInitializedMessageConstant = "configuration initialized"
	configurationLogLevelFieldConstant      = "log_level"
	configurationLogFormatFieldConstant     = "log_format"
	configurationFileFieldConstant          = "config_file"
	configurationBackendFieldConstant       = "backend"
	configurationLoadErrorTemplateConstant  = "unable to load configuration: %w"
	loggerCreationErrorTemplateConstant     = "unable to create logger: %w"
	loggerSyncErrorTemplateConstant         = "unable to flush logger: %w"
	backendOverrideErrorTemplateConstant    = "invalid --backend: %w"
	defaultConfigurationSearchPathConstant  = "."
	userConfigurationSearchPathConstant     = "$HOME/.anonydog"
)

// Version is the release identifier reported by --version. It is set at build time.
var Version = "dev"

// ApplicationConfiguration describes the persisted configuration for the CLI entrypoint.
type ApplicationConfiguration struct {
	Common    ApplicationCommonConfiguration   `mapstructure:"common"`
	Anonymize anonydog.AnonymizeConfiguration `mapstructure:"anonymize"`
	Publish   anonydog.PublishConfiguration   `mapstructure:"publish"`
	Batch     anonydog.BatchConfiguration     `mapstructure:"batch"`
}

// ApplicationCommonConfiguration stores logging configuration shared across commands.
type ApplicationCommonConfiguration struct {
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
	LogFile   string `mapstructure:"log_file"`
}

// ServiceConfiguration returns the settings consumed by the anonydog service.
func (configuration ApplicationConfiguration) ServiceConfiguration() anonydog.Configuration {
	return anonydog.Configuration{
		Anonymize: configuration.Anonymize,
		Publish:   configuration.Publish,
		Batch:     configuration.Batch,
	}
}

// Application wires the Cobra root command, configuration loader, and structured logger.
type Application struct {
	rootCommand            *cobra.Command
	configurationLoader    *utils.ConfigurationLoader
	loggerFactory          *utils.LoggerFactory
	homeExpander           *pathutils.HomeExpander
	logger                 *zap.Logger
	configuration          ApplicationConfiguration
	configurationMetadata  utils.LoadedConfiguration
	configurationFilePath  string
	logLevelFlagValue      string
	logFormatFlagValue     string
	backendFlagValue       string
	commandContextAccessor utils.CommandContextAccessor
	serviceFactory         anonydog.ServiceFactory
}

// NewApplication assembles a fully wired CLI application instance.
func NewApplication() *Application {
	configurationLoader := utils.NewConfigurationLoader(
		configurationNameConstant,
		configurationTypeConstant,
		environmentPrefixConstant,
		[]string{defaultConfigurationSearchPathConstant, userConfigurationSearchPathConstant},
	)
	configurationLoader.SetEmbeddedConfiguration(EmbeddedDefaultConfiguration())
	configurationLoader.BindEnvironmentAliases(publishPrivateKeyConfigKeyConstant, legacyPrivateKeyEnvironmentConstant)
	configurationLoader.BindEnvironmentAliases(publishPublicKeyConfigKeyConstant, legacyPublicKeyEnvironmentConstant)

	application := &Application{
		configurationLoader:    configurationLoader,
		loggerFactory:          utils.NewLoggerFactory(),
		homeExpander:           pathutils.NewHomeExpander(),
		logger:                 zap.NewNop(),
		commandContextAccessor: utils.NewCommandContextAccessor(),
		serviceFactory:         anonydog.NewServiceFromConfiguration,
	}

	cobraCommand := &cobra.Command{
		Use:           applicationNameConstant,
		Short:         applicationShortDescriptionConstant,
		Long:          applicationLongDescriptionConstant,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(command *cobra.Command, arguments []string) error {
			return application.initializeConfiguration(command)
		},
		RunE: func(command *cobra.Command, arguments []string) error {
			return command.Help()
		},
	}

	cobraCommand.SetContext(context.Background())
	cobraCommand.PersistentFlags().StringVar(&application.configurationFilePath, configFileFlagNameConstant, "", configFileFlagUsageConstant)
	cobraCommand.PersistentFlags().StringVar(&application.logLevelFlagValue, logLevelFlagNameConstant, "", logLevelFlagUsageConstant)
	cobraCommand.PersistentFlags().StringVar(&application.logFormatFlagValue, logFormatFlagNameConstant, "", logFormatFlagUsageConstant)
	cobraCommand.PersistentFlags().StringVar(&application.backendFlagValue, backendFlagNameConstant, "", backendFlagUsageConstant)

	commandDependencies := anonydog.CommandDependencies{
		LoggerProvider: func() *zap.Logger {
			return application.logger
		},
		ConfigurationProvider: func() anonydog.Configuration {
			return application.configuration.ServiceConfiguration()
		},
		ServiceFactory: func(configuration anonydog.Configuration, logger *zap.Logger) (*anonydog.Service, error) {
			return application.serviceFactory(configuration, logger)
		},
	}

	publishBuilder := anonydog.PublishCommandBuilder{CommandDependencies: commandDependencies}
	publishCommand, publishBuildError := publishBuilder.Build()
	if publishBuildError == nil {
		cobraCommand.AddCommand(publishCommand)
	}

	previewBuilder := anonydog.PreviewCommandBuilder{CommandDependencies: commandDependencies}
	previewCommand, previewBuildError := previewBuilder.Build()
	if previewBuildError == nil {
		cobraCommand.AddCommand(previewCommand)
	}

	batchBuilder := anonydog.BatchCommandBuilder{CommandDependencies: commandDependencies}
	batchCommand, batchBuildError := batchBuilder.Build()
	if batchBuildError == nil {
		cobraCommand.AddCommand(batchCommand)
	}

	application.rootCommand = cobraCommand

	return application
}

// Execute runs the configured Cobra command hierarchy and ensures logger flushing.
func (application *Application) Execute() error {
	executionError := application.rootCommand.Execute()
	if syncError := application.flushLogger(); syncError != nil {
		return errors.Join(executionError, fmt.Errorf(loggerSyncErrorTemplateConstant, syncError))
	}
	return executionError
}

// Execute builds a fresh application instance and executes the root command hierarchy.
func Execute() error {
	return NewApplication().Execute()
}

func (application *Application) initializeConfiguration(command *cobra.Command) error {
	defaultValues := map[string]any{
		commonLogLevelConfigKeyConstant:  string(utils.LogLevelInfo),
		commonLogFormatConfigKeyConstant: string(utils.LogFormatStructured),
		commonLogFileConfigKeyConstant:   "",
	}
	for configurationKey, configurationValue := range anonydog.DefaultConfigurationValues() {
		defaultValues[configurationKey] = configurationValue
	}

	loadedConfiguration, loadError := application.configurationLoader.LoadConfiguration(application.configurationFilePath, defaultValues, &application.configuration)
	if loadError != nil {
		return fmt.Errorf(configurationLoadErrorTemplateConstant, loadError)
	}

	application.configurationMetadata = loadedConfiguration

	if application.persistentFlagChanged(command, logLevelFlagNameConstant) {
		application.configuration.Common.LogLevel = application.logLevelFlagValue
	}

	if application.persistentFlagChanged(command, logFormatFlagNameConstant) {
		application.configuration.Common.LogFormat = application.logFormatFlagValue
	}

	if application.persistentFlagChanged(command, backendFlagNameConstant) {
		backendKind, parseError := anonydog.ParseBackendKind(application.backendFlagValue)
		if parseError != nil {
			return fmt.Errorf(backendOverrideErrorTemplateConstant, parseError)
		}
		application.configuration.Anonymize.Backend = backendKind
	}

	application.homeExpander.ExpandAll(&application.configuration.Common.LogFile)
	expandedServiceConfiguration := application.configuration.ServiceConfiguration().ExpandPaths(application.homeExpander)
	application.configuration.Anonymize = expandedServiceConfiguration.Anonymize
	application.configuration.Publish = expandedServiceConfiguration.Publish
	application.configuration.Batch = expandedServiceConfiguration.Batch

	logger, loggerCreationError := application.loggerFactory.CreateLoggerWithOutput(
		utils.LogLevel(application.configuration.Common.LogLevel),
		utils.LogFormat(application.configuration.Common.LogFormat),
		application.configuration.Common.LogFile,
	)
	if loggerCreationError != nil {
		return fmt.Errorf(loggerCreationErrorTemplateConstant, loggerCreationError)
	}

	application.logger = logger

	application.logger.Info(
		configurationInitializedMessageConstant,
		zap.String(configurationLogLevelFieldConstant, application.configuration.Common.LogLevel),
		zap.String(configurationLogFormatFieldConstant, application.configuration.Common.LogFormat),
		zap.String(configurationFileFieldConstant, application.configurationMetadata.ConfigFileUsed),
		zap.String(configurationBackendFieldConstant, string(application.configuration.Anonymize.Backend)),
	)

	if command != nil {
		updatedContext := application.commandContextAccessor.WithConfigurationFilePath(
			command.Context(),
			application.configurationMetadata.ConfigFileUsed,
		)
		command.SetContext(updatedContext)
		if rootCommand := command.Root(); rootCommand != nil {
			rootCommand.SetContext(updatedContext)
		}
	}

	return nil
}

func (application *Application) flushLogger() error {
	return application.syncLoggerInstance(application.logger)
}

func (application *Application) syncLoggerInstance(logger *zap.Logger) error {
	if logger == nil {
		return nil
	}

	syncError := logger.Sync()
	switch {
	case syncError == nil:
		return nil
	case errors.Is(syncError, syscall.ENOTSUP):
		return nil
	case errors.Is(syncError, syscall.EINVAL):
		return nil
	default:
		return syncError
	}
}

func (application *Application) persistentFlagChanged(command *cobra.Command, flagName string) bool {
	if command == nil {
		return false
	}

	flagSetsToInspect := []*pflag.FlagSet{
		command.PersistentFlags(),
		command.InheritedFlags(),
	}

	rootCommand := command.Root()
	if rootCommand != nil {
		flagSetsToInspect = append(flagSetsToInspect, rootCommand.PersistentFlags())
	}

	for _, flagSet := range flagSetsToInspect {
		if flagSet == nil {
			continue
		}

		if flagSet.Changed(flagName) {
			return true
		}
	}

	return false
}
