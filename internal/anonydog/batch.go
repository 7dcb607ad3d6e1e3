package anonydog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/afero"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

const (
	defaultBatchParallelismConstant          = 4
	manifestReadErrorTemplateConstant        = "failed to read request manifest %s: %w"
	manifestDecodeErrorTemplateConstant      = "failed to decode request manifest %s: %w"
	manifestEmptyErrorTemplateConstant       = "request manifest %s lists no requests"
	batchRequestErrorTemplateConstant        = "request %d: %w"
	batchRequestFailedMessageConstant        = "batch request failed"
	batchCompletedMessageConstant            = "batch completed"
	logFieldRequestIndexConstant             = "request_index"
	logFieldFailureCountConstant             = "failures"
	logFieldRequestCountConstant             = "requests"
	manifestFileSystemMissingMessageConstant = "manifest filesystem not configured"
)

// ErrManifestFileSystemNotConfigured indicates LoadManifest was called without a filesystem.
var ErrManifestFileSystemNotConfigured = errors.New(manifestFileSystemMissingMessageConstant)

// Manifest lists independent publish requests.
type Manifest struct {
	Requests []PublishRequest `yaml:"requests"`
}

// BatchResult records the outcome of one manifest entry.
type BatchResult struct {
	Request    PublishRequest
	BranchName string
	Err        error
}

// LoadManifest reads a YAML manifest from the filesystem.
func LoadManifest(fileSystem afero.Fs, manifestPath string) (Manifest, error) {
	if fileSystem == nil {
		return Manifest{}, ErrManifestFileSystemNotConfigured
	}
	contents, readError := afero.ReadFile(fileSystem, manifestPath)
	if readError != nil {
		return Manifest{}, fmt.Errorf(manifestReadErrorTemplateConstant, manifestPath, readError)
	}

	var manifest Manifest
	decoder := yaml.NewDecoder(bytes.NewReader(contents))
	decoder.KnownFields(true)
	if decodeError := decoder.Decode(&manifest); decodeError != nil && !errors.Is(decodeError, io.EOF) {
		return Manifest{}, fmt.Errorf(manifestDecodeErrorTemplateConstant, manifestPath, decodeError)
	}
	if len(manifest.Requests) == 0 {
		return Manifest{}, fmt.Errorf(manifestEmptyErrorTemplateConstant, manifestPath)
	}
	return manifest, nil
}

// PublishBatch publishes every request with at most parallelism running at once. Each request uses
// its own workspace. Results keep manifest order; the returned error combines every failure.
func (service *Service) PublishBatch(executionContext context.Context, requests []PublishRequest, parallelism int) ([]BatchResult, error) {
	if parallelism <= 0 {
		parallelism = defaultBatchParallelismConstant
	}

	results := make([]BatchResult, len(requests))
	var group errgroup.Group
	group.SetLimit(parallelism)

	for requestIndex, request := range requests {
		requestIndex, request := requestIndex, request
		group.Go(func() error {
			branchName, publishError := service.PublishAnonymized(executionContext, request)
			results[requestIndex] = BatchResult{Request: request, BranchName: branchName, Err: publishError}
			if publishError != nil {
				service.logger.Warn(batchRequestFailedMessageConstant, zap.Int(logFieldRequestIndexConstant, requestIndex), zap.Error(publishError))
			}
			return nil
		})
	}
	// Workers record failures in results and always return nil, so Wait has nothing to report.
	_ = group.Wait()

	var combinedError error
	failureCount := 0
	for requestIndex, result := range results {
		if result.Err != nil {
			failureCount++
			combinedError = multierr.Append(combinedError, fmt.Errorf(batchRequestErrorTemplateConstant, requestIndex, result.Err))
		}
	}
	service.logger.Info(batchCompletedMessageConstant, zap.Int(logFieldRequestCountConstant, len(requests)), zap.Int(logFieldFailureCountConstant, failureCount))
	return results, combinedError
}
