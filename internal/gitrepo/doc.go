// Package gitrepo parses hosted git remote URLs.
//
// Parsed remotes give the publisher a protocol check for key usage and give
// logs a label that never carries embedded passwords.
package gitrepo
