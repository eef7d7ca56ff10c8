package rudp

import (
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// defaultLogger is the package-wide fallback sink, overridable per
// Multiplexer via WithLogger. Mirrors the corpus's zerolog/log default
// sink convention (Patrick-DE-proxyblob's cmd/agent, cmd/proxy).
var (
	defaultLoggerOnce sync.Once
	defaultLogger     zerolog.Logger
)

func getDefaultLogger() zerolog.Logger {
	defaultLoggerOnce.Do(func() {
		defaultLogger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
			With().Timestamp().Logger().
			Level(zerolog.InfoLevel)
	})
	return defaultLogger
}
