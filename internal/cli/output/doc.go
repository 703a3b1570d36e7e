// Package output provides output formatting for quiescectl.
//
// This package handles all CLI output formatting:
//
//   - formatter.go: Formatter interface and factory
//   - table.go: Table rendering with wide mode support
//   - json.go: JSON output formatting
//   - yaml.go: YAML output formatting
//   - spinner.go: Progress animation for long operations
//
// Table output derives column names from json struct tags so the
// human-readable view and the machine-readable formats stay aligned.
package output
