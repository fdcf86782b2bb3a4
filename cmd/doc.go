// Package cmd implements the command-line interface for terminly.
//
// This package provides the following commands:
//   - serve: Start the MCP booking server (stdio or streamable-http)
//   - keygen: Generate a base64 AES-256 key for token storage at rest
//   - version: Display version information
//   - generate-docs: Generate markdown documentation for all MCP tools
//
// The serve command is the default command when no subcommand is specified.
package cmd
