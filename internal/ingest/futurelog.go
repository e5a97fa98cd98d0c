package ingest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// NewFutureLog opens the dedicated sink for rejected future-timestamp
// readings. The returned closer releases the file.
func NewFutureLog(path string) (zerolog.Logger, func() error, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("create future-timestamp log dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("open future-timestamp log: %w", err)
	}
	logger := zerolog.New(f).With().Timestamp().Logger()
	return logger, f.Close, nil
}
