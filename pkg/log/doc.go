/*
Package log provides structured logging for adlb-go using zerolog.

The log package wraps zerolog to provide JSON-structured logging with
component-specific child loggers, configurable log levels, and helper
functions for common logging patterns. All logs include timestamps and
support filtering by severity level for production debugging.

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Accessible from every server package
  - Thread-safe concurrent writes

Log Levels:
  - Debug: Detailed debugging information
  - Info: General informational messages
  - Warn: Warning messages (potential issues)
  - Error: Error messages (operation failed)
  - Fatal: Critical errors (process exits)

Configuration:
  - Level: filter messages below threshold
  - JSONOutput: JSON vs human-readable console
  - Output: io.Writer for log destination (stdout, file)

Context Loggers:
  - WithComponent: tag logs with a subsystem name (store, depengine, workqueue)
  - WithServer: tag logs with this process's server rank
  - WithDatum: tag logs with a datum id
  - WithTask: tag logs with a pending task id

# Usage

Initializing the logger:

	import "github.com/cuemby/adlb-go/pkg/log"

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

Simple logging:

	log.Info("server started")
	log.Debug("checking datum refcount")
	log.Warn("closed-data cache eviction rate high")
	log.Error("checkpoint write failed")
	log.Fatal("cannot bind rpc listener") // exits process

Component and entity loggers:

	storeLog := log.WithComponent("store")
	storeLog.Debug().Msg("inserting datum")

	datumLog := log.WithComponent("depengine").
		With().Int64("datum_id", id).Logger()
	datumLog.Info().Msg("datum closed, notifying subscribers")

	rankLog := log.WithServer(rank)
	rankLog.Info().Msg("accepting connections")

# Design Patterns

Global Logger Pattern:
  - Single package-level Logger instance initialized once at startup
  - Accessible from all packages without being passed down call chains

Context Logger Pattern:
  - Create child loggers carrying structured fields (component, server
    rank, datum id, task id)
  - Pass the child logger into the call, not the global one, once a
    request or datum identity is known

Structured Logging Pattern:
  - Typed fields (.Str, .Int64, .Err) instead of string concatenation
  - Parseable by log aggregation tooling

# Best Practices

Do:
  - Use Info level for production
  - Tag every log line touching a datum with WithDatum
  - Log errors with .Err() to preserve the wrapped chain

Don't:
  - Log datum payload contents (may be large or sensitive)
  - Use Debug level in production
  - Log inside the per-shard server's hot match loop without rate limiting
*/
package log
