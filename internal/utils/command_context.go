package utils

import (
	"context"
	"path/filepath"
	"strings"
)

const (
	configurationFilePathContextKeyConstant = commandContextKey("configurationFilePath")
)

type commandContextKey string

// CommandContextAccessor manages values stored in command execution contexts.
type CommandContextAccessor struct{}

// NewCommandContextAccessor constructs a CommandContextAccessor instance.
func NewCommandContextAccessor() CommandContextAccessor {
	return CommandContextAccessor{}
}

// WithConfigurationFilePath attaches the configuration file path to the provided context.
func (accessor CommandContextAccessor) WithConfigurationFilePath(parentContext context.Context, configurationFilePath string) context.Context {
	if parentContext == nil {
		parentContext = context.Background()
	}
	return context.WithValue(parentContext, configurationFilePathContextKeyConstant, configurationFilePath)
}

// ConfigurationFilePath extracts the configuration file path from the provided context.
func (accessor CommandContextAccessor) ConfigurationFilePath(executionContext context.Context) (string, bool) {
	if executionContext == nil {
		return "", false
	}
	configurationFilePath, available := executionContext.Value(configurationFilePathContextKeyConstant).(string)
	if !available || len(configurationFilePath) == 0 {
		return "", false
	}
	return configurationFilePath, true
}

// ResolveConfiguredPath interprets a relative path taken from configuration as relative to the
// configuration file's directory. Absolute paths and paths without a known configuration file are returned as given.
func (accessor CommandContextAccessor) ResolveConfiguredPath(executionContext context.Context, configuredPath string) string {
	trimmedPath := strings.TrimSpace(configuredPath)
	if len(trimmedPath) == 0 || filepath.IsAbs(trimmedPath) {
		return trimmedPath
	}
	configurationFilePath, available := accessor.ConfigurationFilePath(executionContext)
	if !available {
		return trimmedPath
	}
	return filepath.Join(filepath.Dir(configurationFilePath), trimmedPath)
}
