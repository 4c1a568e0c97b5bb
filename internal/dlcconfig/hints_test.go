package dlcconfig

import (
	"strings"
	"testing"
)

func TestDecodeAppliesDefaultsForOmittedFields(t *testing.T) {
	h, err := Decode(strings.NewReader(`log_file_path = "/var/log/dlc_manager.log"`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if h.LogFilePath != "/var/log/dlc_manager.log" {
		t.Errorf("log_file_path = %q", h.LogFilePath)
	}
	if h.RetryConnectMS != Defaults().RetryConnectMS {
		t.Errorf("retry_connect_ms = %d, want default %d", h.RetryConnectMS, Defaults().RetryConnectMS)
	}
}

func TestDecodeOverridesDefaults(t *testing.T) {
	h, err := Decode(strings.NewReader(`
log_file_path = "/var/log/dlc_manager.log"
preloaded_packs = ["base", "ui"]
retry_connect_ms = 500
skip_cdn_after_attempts = 10
`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if h.RetryConnectMS != 500 {
		t.Errorf("retry_connect_ms = %d, want 500", h.RetryConnectMS)
	}
	if len(h.PreloadedPacks) != 2 || h.PreloadedPacks[1] != "ui" {
		t.Errorf("preloaded_packs = %v", h.PreloadedPacks)
	}
	if h.SkipCDNAfterAttempts != 10 {
		t.Errorf("skip_cdn_after_attempts = %d, want 10", h.SkipCDNAfterAttempts)
	}
}

func TestDecodeRejectsRelativeLogPath(t *testing.T) {
	_, err := Decode(strings.NewReader(`log_file_path = "relative/dlc.log"`))
	if err == nil {
		t.Error("expected error for relative log_file_path")
	}
}

func TestDecodeRejectsWhitespaceInPreloadedPackName(t *testing.T) {
	_, err := Decode(strings.NewReader(`preloaded_packs = ["bad name"]`))
	if err == nil {
		t.Error("expected error for whitespace in preloaded pack name")
	}
}

func TestRetryConnectIntervalConversion(t *testing.T) {
	h := Hints{RetryConnectMS: 1500}
	if h.RetryConnectInterval().Seconds() != 1.5 {
		t.Errorf("RetryConnectInterval() = %v, want 1.5s", h.RetryConnectInterval())
	}
}
