// Package cli constructs the anonydog command-line interface, wiring the
// Cobra command hierarchy, configuration loader, and structured logging
// primitives around the anonymize-and-publish service.
package cli
