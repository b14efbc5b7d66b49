// Package logger provides a lightweight, variadic-field logging
// interface used by extraction and provider code that wants structured
// logging without depending on core.Logger's context-aware, map-based
// contract. The two interfaces are intentionally different shapes —
// see telemetry.TelemetryLogger for the core.Logger implementation.
//
// # Logger Interface
//
//	type Logger interface {
//	    Debug(msg string, fields ...interface{})
//	    Info(msg string, fields ...interface{})
//	    Warn(msg string, fields ...interface{})
//	    Error(msg string, fields ...interface{})
//	    SetLevel(level string)
//	    WithField(key string, value interface{}) Logger
//	    WithFields(fields map[string]interface{}) Logger
//	    With(fields ...Field) Logger
//	}
//
// # Log Levels
//
// Supported log levels in order of severity:
//   - DEBUG: Detailed information for debugging
//   - INFO: General informational messages
//   - WARN: Warning messages for potentially harmful situations
//   - ERROR: Error messages for serious problems
//
// # Structured Logging
//
// Fields are passed as alternating key/value pairs:
//
//	log.Info("extraction strategy succeeded", "strategy", "readability", "url", url, "chars", n)
//
// # Contextual Logging
//
// Create child loggers carrying persistent fields:
//
//	reqLog := log.WithField("request_id", "abc-123")
//	reqLog.Info("starting extraction")
//
// # Simple Logger Implementation
//
// SimpleLogger is the package's production implementation:
//   - Plain-text lines written through the standard log package
//   - Configurable log levels (SetLevel), INFO by default
//   - Timestamp from the standard log package's prefix
//
// There is no JSON output format.
//
// # Configuration
//
// NewSimpleLogger reads no environment variables. GetLogLevel returns
// the LOG_LEVEL environment variable (INFO when unset) for callers that
// want to pass it to SetLevel.
//
// # Best Practices
//
//   - Use appropriate log levels to control verbosity
//   - Include relevant context through structured fields
//   - Avoid logging sensitive information (passwords, tokens, PII)
//   - Use child loggers for request-scoped logging
//   - Keep log messages concise and actionable
package logger
