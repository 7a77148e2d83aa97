// Package logger provides the process-wide structured logger shared by every
// proslam component (triangulation, tracking, worldmap, graphopt).
package logger

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	logger "github.com/rs/zerolog/log"
)

// Log is the shared logger. Components log through it rather than
// constructing their own so that a single PROSLAM_LOG_FORMAT/PROSLAM_LOG_LEVEL
// pair controls the whole pipeline's verbosity.
var Log = logger.With().Caller().Logger().Output(consoleOrJSON())

func init() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if lvl, err := zerolog.ParseLevel(strings.ToLower(os.Getenv("PROSLAM_LOG_LEVEL"))); err == nil {
		zerolog.SetGlobalLevel(lvl)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

func consoleOrJSON() zerolog.LevelWriter {
	if strings.EqualFold(os.Getenv("PROSLAM_LOG_FORMAT"), "json") {
		return zerolog.MultiLevelWriter(os.Stderr)
	}
	return zerolog.MultiLevelWriter(zerolog.ConsoleWriter{Out: os.Stderr})
}
