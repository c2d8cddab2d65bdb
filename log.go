package nostrcache

import "github.com/rs/zerolog"

// nopLogger is the default for every component that wasn't given a logger.
var nopLogger = zerolog.Nop()

func loggerOrNop(l *zerolog.Logger) zerolog.Logger {
	if l == nil {
		return nopLogger
	}
	return *l
}
