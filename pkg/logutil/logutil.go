// Package logutil configures the process-wide structured logger.
package logutil

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Configure builds the root logger writing JSON lines to stderr at the given
// level.
func Configure(levelRaw string) (zerolog.Logger, error) {
	level, err := parseLevel(levelRaw)
	if err != nil {
		return zerolog.Nop(), err
	}
	zerolog.TimeFieldFormat = time.RFC3339
	logger := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
	return logger, nil
}

func parseLevel(levelRaw string) (zerolog.Level, error) {
	levelRaw = strings.ToLower(strings.TrimSpace(levelRaw))
	if levelRaw == "" {
		levelRaw = "info"
	}
	level, err := zerolog.ParseLevel(levelRaw)
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("invalid loglevel %q", levelRaw)
	}
	return level, nil
}
