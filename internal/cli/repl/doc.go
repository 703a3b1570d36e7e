// Package repl provides interactive mode for quiescectl.
//
// This package implements the Read-Eval-Print Loop for interactive
// sessions:
//
//   - repl.go: Main REPL loop and command dispatch
//   - completer.go: Completion for command prefixes
//   - history.go: Command history persistence
//
// Commands typed at the prompt are dispatched to the same handlers as
// single-shot invocations, so the two modes cannot drift apart.
package repl
