package log

import "github.com/rs/zerolog"

// OnError calls the function f, and if it's not nil, logs the error returned.
func OnError(logger zerolog.Logger, f func() error) {
	if err := f(); err != nil {
		Error(logger, err)
	}
}

// Error logs an error message.
func Error(logger zerolog.Logger, e error) {
	logger.Error().Err(e).Msg("")
}
