// Package logging provides structured logging utilities for the terminly application.
//
// This package centralizes logging patterns to ensure consistent, structured logging
// throughout the codebase using the standard library's slog package.
//
// # Key Features
//
//   - Structured logging with slog
//   - PII sanitization (email anonymization, token masking)
//   - Consistent attribute naming across the codebase
//
// # Usage Patterns
//
// Create a logger with standard attributes:
//
//	logger := logging.WithOperation(slog.Default(), "credentials.refresh")
//	logger.Info("token refreshed",
//	    logging.Provider("google"),
//	    logging.Status("success"))
//
// Sanitize sensitive data before logging:
//
//	logger.Info("appointment created",
//	    logging.UserHash(attendee))
//
// # Security Considerations
//
// This package is designed with security in mind:
//   - Attendee emails are hashed to prevent PII leakage while allowing correlation
//   - Tokens are never logged directly
package logging
