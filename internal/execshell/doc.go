// Package execshell provides structured helpers for invoking the git executable.
//
// It wraps os/exec with zap logging via ShellExecutor, exposes OSCommandRunner
// for default process execution, and defines the CommandRunner abstraction the
// git CLI backend uses so that command construction can be tested without
// spawning processes.
package execshell
