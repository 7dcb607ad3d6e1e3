// Package vcs defines the version-control contract consumed by the chain
// rewriter and the publisher.
//
// It declares the commit data model (CommitRef, Commit, Signature), the
// Backend and Repository interfaces implemented by the go-git and git CLI
// backends, and the categorized OperationError used to surface resolution,
// divergence, naming, topology, authentication, network, rejection, and
// cleanup failures to callers.
package vcs
