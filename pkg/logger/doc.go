// Package logger provides the structured logging interface used across igpulse.
//
// It wraps zerolog behind a small Logger interface so components can take a
// logger in their constructor and tests can swap in a TestLogger that
// captures messages.
//
//	cfg := &config.LoggingConfig{Level: "info"}
//	if err := logger.Initialize(cfg); err != nil {
//	    return err
//	}
//
//	log := logger.GetLogger().WithField("component", "crawler")
//	log.InfoWithFields("Page processed", map[string]interface{}{
//	    "items": 12,
//	    "cursor": "QVFE...",
//	})
//
// Without a log file, output is a colored console on stderr. With a file
// configured, the same lines are also appended to it as JSON.
package logger
