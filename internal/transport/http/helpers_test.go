package http

import (
	"io"
	"log/slog"
)

// testLogger discards output; handler tests assert on responses, not logs
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
