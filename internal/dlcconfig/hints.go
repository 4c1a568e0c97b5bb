// Package dlcconfig loads the manager's Hints configuration from a TOML
// file, mirroring holo-build's PackageDefinition: a plain exported struct
// whose field names double as the error messages the TOML decoder
// produces for malformed input.
package dlcconfig

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Hints holds every option consumed at Initialize (§6).
type Hints struct {
	LogFilePath              string   `toml:"log_file_path"`
	PreloadedPacks           []string `toml:"preloaded_packs"`
	RetryConnectMS           int      `toml:"retry_connect_ms"`
	MaxFilesToDownload       int      `toml:"max_files_to_download"`
	TimeoutForDownload       int      `toml:"timeout_for_download"`
	TimeoutForInitialization int      `toml:"timeout_for_initialization"`
	SkipCDNAfterAttempts     int      `toml:"skip_cdn_after_attempts"`
	DownloaderMaxHandles     int      `toml:"downloader_max_handles"`
	DownloaderChunkBufSize   int      `toml:"downloader_chunk_buf_size"`
	FireSignalsInBackground  bool     `toml:"fire_signals_in_background"`
}

// Defaults returns the Hints a manager should use when the caller
// supplies no configuration file at all.
func Defaults() Hints {
	return Hints{
		RetryConnectMS:           3000,
		MaxFilesToDownload:       32,
		TimeoutForDownload:       30,
		TimeoutForInitialization: 60,
		SkipCDNAfterAttempts:     3,
		DownloaderMaxHandles:     4,
		DownloaderChunkBufSize:   64 * 1024,
	}
}

// RetryConnectInterval returns RetryConnectMS as a time.Duration.
func (h Hints) RetryConnectInterval() time.Duration {
	return time.Duration(h.RetryConnectMS) * time.Millisecond
}

// DownloadTimeout returns TimeoutForDownload as a time.Duration.
func (h Hints) DownloadTimeout() time.Duration {
	return time.Duration(h.TimeoutForDownload) * time.Second
}

// InitializationTimeout returns TimeoutForInitialization as a
// time.Duration.
func (h Hints) InitializationTimeout() time.Duration {
	return time.Duration(h.TimeoutForInitialization) * time.Second
}

// Load reads Hints from a TOML file at path, starting from Defaults so
// that a partial file only overrides what it mentions.
func Load(path string) (Hints, error) {
	f, err := os.Open(path)
	if err != nil {
		return Hints{}, fmt.Errorf("dlcconfig: open %s: %w", path, err)
	}
	defer f.Close()
	return Decode(f)
}

// Decode reads Hints from r in TOML form, starting from Defaults.
func Decode(r io.Reader) (Hints, error) {
	h := Defaults()
	if _, err := toml.DecodeReader(r, &h); err != nil {
		return Hints{}, fmt.Errorf("dlcconfig: decode: %w", err)
	}
	if err := h.Validate(); err != nil {
		return Hints{}, err
	}
	return h, nil
}

// Validate checks the invariants Initialize depends on: an absolute log
// path, no whitespace in preloaded pack names, and non-negative
// retry_connect_ms, timeout_for_initialization and skip_cdn_after_attempts.
// Other numeric fields are not checked.
func (h Hints) Validate() error {
	if h.LogFilePath != "" && !strings.HasPrefix(h.LogFilePath, "/") {
		return fmt.Errorf("dlcconfig: log_file_path must be absolute, got %q", h.LogFilePath)
	}
	for _, name := range h.PreloadedPacks {
		if strings.ContainsAny(name, " \t\r\n") {
			return fmt.Errorf("dlcconfig: preloaded_packs entry %q contains whitespace", name)
		}
	}
	if h.RetryConnectMS < 0 {
		return fmt.Errorf("dlcconfig: retry_connect_ms must be non-negative, got %d", h.RetryConnectMS)
	}
	if h.TimeoutForInitialization < 0 {
		return fmt.Errorf("dlcconfig: timeout_for_initialization must be non-negative, got %d", h.TimeoutForInitialization)
	}
	if h.SkipCDNAfterAttempts < 0 {
		return fmt.Errorf("dlcconfig: skip_cdn_after_attempts must be non-negative, got %d", h.SkipCDNAfterAttempts)
	}
	return nil
}
