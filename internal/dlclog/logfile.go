package dlclog

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

// OpenLogFile opens (creating if needed) an append-only file at path,
// mirroring the original engine's single dlc_manager.log stream
// configured via hints.log_file_path. The manager's default logger writes
// every record at debug level and above to this file, in place of stderr.
func OpenLogFile(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("dlclog: open log file %s: %w", path, err)
	}
	return f, nil
}

// NewHandler builds the manager's standard slog.Handler: a text handler
// writing to w (typically the log file opened by OpenLogFile, or
// io.MultiWriter'd with os.Stderr for interactive use), wrapped with
// WrapHandler so context-scoped attrs attach automatically.
func NewHandler(w io.Writer, level slog.Leveler) slog.Handler {
	return WrapHandler(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
