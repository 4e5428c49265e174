/*
Package log provides structured logging for dnsrest using zerolog.

The package wraps a single global zerolog.Logger. It is initialized once by the
CLI through Init and then shared by every component. Until Init runs, the logger
discards everything, which keeps package tests quiet.

# Configuration

	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: true,
		Output:     os.Stderr,
	})

Levels map directly onto zerolog levels. Console output uses
zerolog.ConsoleWriter with RFC3339 timestamps; JSON output is one object per
line, suitable for log shippers.

# Component Loggers

Components tag their entries so they can be filtered:

	logger := log.WithComponent("registry")
	logger.Info().Str("name", "app.example.com").Msg("name published")

	log.WithContainer(c.ID).Debug().Msg("container inspected")

Most call sites instead add the field inline:

	log.Logger.Debug().
		Str("component", "dns").
		Str("query", name).
		Msg("DNS query received")

# Level Guidance

  - debug: per-query resolution, upstream failures, dropped packets
  - info: names published or retracted, servers started and stopped
  - warn: containers without an address, supervisor restarts
  - error: failures to pack or send a reply
*/
package log
