package gogit

import (
	"testing"

	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/stretchr/testify/require"

	"github.com/anonydog/anonydog/internal/vcs"
)

func TestBuildAuthMethodSelectsTransportAuthentication(testInstance *testing.T) {
	testCases := []struct {
		name           string
		remoteURL      string
		authentication vcs.PushAuthentication
		expectedAuth   *githttp.BasicAuth
	}{
		{
			name:           "https_token",
			remoteURL:      "https://github.com/anonydog/project.git",
			authentication: vcs.PushAuthentication{Token: " ghp_example "},
			expectedAuth:   &githttp.BasicAuth{Username: "x-access-token", Password: "ghp_example"},
		},
		{
			name:      "https_without_token",
			remoteURL: "https://github.com/anonydog/project.git",
		},
		{
			name:           "local_path_ignores_credentials",
			remoteURL:      "/srv/git/project.git",
			authentication: vcs.PushAuthentication{Token: "ghp_example", PrivateKey: []byte("unused")},
		},
		{
			name:      "ssh_without_key",
			remoteURL: "git@github.com:anonydog/project.git",
		},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(testInstance *testing.T) {
			authMethod, buildError := buildAuthMethod(testCase.remoteURL, testCase.authentication)
			require.NoError(testInstance, buildError)
			if testCase.expectedAuth == nil {
				require.Nil(testInstance, authMethod)
				return
			}
			require.Equal(testInstance, testCase.expectedAuth, authMethod)
		})
	}
}

func TestBuildAuthMethodRejectsUnparsableKey(testInstance *testing.T) {
	_, buildError := buildAuthMethod("git@github.com:anonydog/project.git", vcs.PushAuthentication{PrivateKey: []byte("not a key")})
	require.ErrorIs(testInstance, buildError, vcs.ErrAuthentication)
}
