// Package publish force-pushes an anonymized branch to its destination.
package publish

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/anonydog/anonydog/internal/gitrepo"
	"github.com/anonydog/anonydog/internal/vcs"
)

const (
	repositoryNotConfiguredMessage  = "publisher repository not configured"
	destinationRequiredMessage      = "destination url required"
	publishingMessageConstant       = "publishing branch"
	publishedMessageConstant        = "branch published"
	publishFailedMessageConstant    = "publish failed"
	missingKeyForSSHMessageConstant = "no private key configured for ssh destination"
	logFieldBranchConstant          = "branch"
	logFieldDestinationConstant     = "destination"
	logFieldKeyFingerprintConstant  = "key_fingerprint"
	logFieldTokenSuppliedConstant   = "token_supplied"
	logFieldErrorKindConstant       = "error_kind"
)

var (
	// ErrRepositoryNotConfigured indicates Publish was called without a repository.
	ErrRepositoryNotConfigured = errors.New(repositoryNotConfiguredMessage)
	// ErrDestinationRequired indicates an empty destination URL.
	ErrDestinationRequired = errors.New(destinationRequiredMessage)
)

// Publisher pushes the active branch of a repository.
type Publisher struct {
	logger *zap.Logger
}

// NewPublisher constructs a Publisher.
func NewPublisher(logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{logger: logger}
}

// Publish force-pushes the branch HEAD points at to the same branch name at destinationURL.
// Failures are reported once with their kind (authentication, network, rejected) and never retried.
func (publisher *Publisher) Publish(executionContext context.Context, repository vcs.Repository, destinationURL string, credentials Credentials) error {
	if repository == nil {
		return ErrRepositoryNotConfigured
	}
	trimmedDestination := strings.TrimSpace(destinationURL)
	if len(trimmedDestination) == 0 {
		return ErrDestinationRequired
	}
	if validationError := credentials.Validate(); validationError != nil {
		return vcs.NewOperationError(vcs.ErrorKindAuthentication, vcs.OperationPush, gitrepo.Describe(trimmedDestination), validationError)
	}

	branchName, headError := repository.HeadBranch(executionContext)
	if headError != nil {
		return headError
	}

	destinationLabel := gitrepo.Describe(trimmedDestination)
	if gitrepo.IsSSH(trimmedDestination) && !credentials.HasPrivateKey() {
		publisher.logger.Warn(missingKeyForSSHMessageConstant, zap.String(logFieldDestinationConstant, destinationLabel))
	}

	publisher.logger.Info(
		publishingMessageConstant,
		zap.String(logFieldBranchConstant, branchName),
		zap.String(logFieldDestinationConstant, destinationLabel),
		zap.String(logFieldKeyFingerprintConstant, credentials.Fingerprint()),
		zap.Bool(logFieldTokenSuppliedConstant, credentials.HasToken()),
	)

	pushError := repository.Push(executionContext, trimmedDestination, vcs.ForcePushRefSpec(branchName), credentials.pushAuthentication())
	if pushError != nil {
		kind, _ := vcs.KindOf(pushError)
		publisher.logger.Warn(
			publishFailedMessageConstant,
			zap.String(logFieldBranchConstant, branchName),
			zap.String(logFieldDestinationConstant, destinationLabel),
			zap.String(logFieldErrorKindConstant, string(kind)),
		)
		return pushError
	}

	publisher.logger.Info(publishedMessageConstant, zap.String(logFieldBranchConstant, branchName), zap.String(logFieldDestinationConstant, destinationLabel))
	return nil
}
