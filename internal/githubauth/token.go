// Package githubauth locates GitHub access tokens used to push to https destinations.
package githubauth

import (
	"os"
	"strings"
)

// Environment variable names consulted for a GitHub token, in order of preference.
const (
	EnvGitHubCLIToken = "GH_TOKEN"
	EnvGitHubToken    = "GITHUB_TOKEN"
	EnvGitHubAPIToken = "GITHUB_API_TOKEN"
)

var tokenPreference = []string{
	EnvGitHubCLIToken,
	EnvGitHubToken,
	EnvGitHubAPIToken,
}

// EnvironmentLookup reads one environment variable.
type EnvironmentLookup func(key string) (string, bool)

// TokenResolver picks the push token from explicit configuration or the environment.
type TokenResolver struct {
	lookup EnvironmentLookup
}

// NewTokenResolver builds a resolver over lookup; nil reads the process environment.
func NewTokenResolver(lookup EnvironmentLookup) TokenResolver {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	return TokenResolver{lookup: lookup}
}

// Resolve returns the configured token when set, otherwise the first non-empty preferred variable.
func (resolver TokenResolver) Resolve(configuredToken string) (string, bool) {
	if trimmedToken := strings.TrimSpace(configuredToken); len(trimmedToken) > 0 {
		return trimmedToken, true
	}
	lookup := resolver.lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	for _, key := range tokenPreference {
		value, exists := lookup(key)
		if !exists {
			continue
		}
		if trimmedValue := strings.TrimSpace(value); len(trimmedValue) > 0 {
			return trimmedValue, true
		}
	}
	return "", false
}

// MapLookup adapts a fixed environment map.
func MapLookup(environment map[string]string) EnvironmentLookup {
	return func(key string) (string, bool) {
		value, exists := environment[key]
		return value, exists
	}
}
