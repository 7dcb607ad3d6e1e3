package docs_test

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/anonydog/anonydog/cmd/cli"
	"github.com/anonydog/anonydog/internal/anonydog"
	"github.com/anonydog/anonydog/internal/rewrite"
	"github.com/anonydog/anonydog/internal/utils"
)

const (
	readmeFileNameConstant           = "README.md"
	yamlFenceStartConstant           = "```yaml"
	yamlFenceEndConstant             = "```"
	configHeaderMarkerConstant       = "# config.yaml"
	readmeSnippetFileNameConstant    = "config.yaml"
	parentDirectoryReferenceConstant = ".."
	missingHeaderMessageConstant     = "README example missing config header marker"
	missingStartFenceMessageConstant = "README example missing yaml fence start"
	missingEndFenceMessageConstant   = "README example missing yaml fence end"
	readmeEnvironmentPrefixConstant  = "READMEANONYDOG"
)

var expectedConfigurationSections = []string{"anonymize", "batch", "common", "publish"}

func extractConfigurationSnippet(testInstance *testing.T) string {
	testInstance.Helper()
	workingDirectory, workingDirectoryError := os.Getwd()
	require.NoError(testInstance, workingDirectoryError)

	readmePath := filepath.Join(workingDirectory, parentDirectoryReferenceConstant, readmeFileNameConstant)
	contentBytes, readError := os.ReadFile(readmePath)
	require.NoError(testInstance, readError)

	contentText := string(contentBytes)
	headerIndex := strings.Index(contentText, configHeaderMarkerConstant)
	require.NotEqual(testInstance, -1, headerIndex, missingHeaderMessageConstant)

	fenceStartIndex := strings.LastIndex(contentText[:headerIndex], yamlFenceStartConstant)
	require.NotEqual(testInstance, -1, fenceStartIndex, missingStartFenceMessageConstant)

	remainingText := contentText[headerIndex:]
	fenceEndRelativeIndex := strings.Index(remainingText, yamlFenceEndConstant)
	require.NotEqual(testInstance, -1, fenceEndRelativeIndex, missingEndFenceMessageConstant)
	fenceEndIndex := headerIndex + fenceEndRelativeIndex

	return strings.TrimSpace(contentText[fenceStartIndex+len(yamlFenceStartConstant) : fenceEndIndex])
}

func TestReadmeConfigurationParses(testInstance *testing.T) {
	snippetContent := extractConfigurationSnippet(testInstance)

	var rawSections map[string]any
	require.NoError(testInstance, yaml.Unmarshal([]byte(snippetContent), &rawSections))
	sectionNames := make([]string, 0, len(rawSections))
	for sectionName := range rawSections {
		sectionNames = append(sectionNames, sectionName)
	}
	sort.Strings(sectionNames)
	require.Equal(testInstance, expectedConfigurationSections, sectionNames)

	snippetPath := filepath.Join(testInstance.TempDir(), readmeSnippetFileNameConstant)
	require.NoError(testInstance, os.WriteFile(snippetPath, []byte(snippetContent), 0o600))

	loader := utils.NewConfigurationLoader("config", "yaml", readmeEnvironmentPrefixConstant, nil)
	var applicationConfiguration cli.ApplicationConfiguration
	_, loadError := loader.LoadConfiguration(snippetPath, anonydog.DefaultConfigurationValues(), &applicationConfiguration)
	require.NoError(testInstance, loadError)

	serviceConfiguration := applicationConfiguration.ServiceConfiguration()
	require.Equal(testInstance, anonydog.BackendGoGit, serviceConfiguration.Anonymize.Backend)
	require.Equal(testInstance, rewrite.TopologyPolicyReject, serviceConfiguration.Anonymize.TopologyPolicy)
	require.Equal(testInstance, rewrite.DefaultIdentity(), serviceConfiguration.Anonymize.Identity)
	require.Equal(testInstance, "requests.yaml", serviceConfiguration.Batch.Manifest)
	require.Equal(testInstance, 4, serviceConfiguration.Batch.Parallelism)
	require.Equal(testInstance, "info", applicationConfiguration.Common.LogLevel)
}
