// Package dlcmanager implements the DLC pack manager state machine: the
// multi-phase initialization protocol against a remote superpack, the
// request queue that serializes pack downloads, and the public façade
// applications call into. See the package-level design in the repository
// root for the full data model.
package dlcmanager

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/davaengine/dlcmanager/internal/dlcconfig"
	"github.com/davaengine/dlcmanager/internal/dlclog"
	"github.com/davaengine/dlcmanager/pkg/dlcdownload"
	"github.com/davaengine/dlcmanager/pkg/localscan"
	"github.com/davaengine/dlcmanager/pkg/metaindex"
	"github.com/davaengine/dlcmanager/pkg/superpack"
)

const (
	localFooterName    = "local_copy_server_footer.footer"
	localFileTableName = "local_copy_server_file_table.block"
	localMetaName      = "local_copy_server_meta.meta"
)

// Option configures a Manager at construction (functional options,
// following the rest of the module's ambient style).
type Option func(*Manager)

// WithSignals registers the callbacks the manager invokes for emitted
// signals.
func WithSignals(s Signals) Option {
	return func(m *Manager) { m.signals = s }
}

// WithLogger overrides the manager's structured logger. The default
// writes to hints.LogFilePath if set, else os.Stderr.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithClock overrides the manager's stored time source. Nothing in the
// manager reads it: log timestamps come from the slog handler, and frame
// pacing is driven by the dt argument to ContinueInitialization.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager drives the init state machine (C4), owns the request manager
// (C5/C6), and exposes the public façade (C7). Every exported method
// that touches m.idx, m.handles, m.queue, or the downloader task table
// is confined to a single goroutine by convention, matching §5; the
// Manager does not provide its own internal locking.
type Manager struct {
	downloadDir  string
	superpackURL string
	hints        dlcconfig.Hints
	downloader   dlcdownload.Downloader
	signals      Signals
	logger       *slog.Logger
	logFile      *os.File
	now          func() time.Time

	state              InitState
	retryCount         int
	retryWaitRemaining time.Duration
	elapsedSinceStart  time.Duration
	initTimeoutEmitted bool
	lastNetworkReady   *bool
	errorCounter       int

	hasLocalFooter    bool
	hasLocalFileTable bool
	hasLocalMeta      bool

	remoteTotalSize int64
	fileTableBytes  []byte
	metaBytes       []byte

	footer    superpack.Footer
	fileTable superpack.FileTable
	meta      superpack.Meta
	idx       *metaindex.Index

	scanner      *localscan.Scanner
	scanResultCh <-chan localscan.Reconciliation
	scanSignaled bool
	scanDone     bool
	scanResult   localscan.Reconciliation

	pendingTask   *pendingInitTask
	preloaded     map[string]bool
	openTempFiles map[dlcdownload.TaskID]*os.File

	handles    map[HandleID]*packRequest
	nextHandle HandleID
	queue      []HandleID
	delayed    []HandleID

	initializedFileCount uint32
	totalFileCount       uint32
}

// pendingInitTask tracks the single in-flight Downloader task an init
// phase may have outstanding, enforcing the at-most-one-init-download
// invariant (§8 property 6).
type pendingInitTask struct {
	taskID dlcdownload.TaskID
	sink   *memSink
}

// New constructs a Manager. downloadDir is created if missing; url is
// the remote superpack's base URL, fetched with byte-range GETs.
func New(downloadDir, superpackURL string, downloader dlcdownload.Downloader, hints dlcconfig.Hints, opts ...Option) (*Manager, error) {
	if err := os.MkdirAll(downloadDir, 0o755); err != nil {
		return nil, fmt.Errorf("dlcmanager: create download dir: %w", err)
	}

	m := &Manager{
		downloadDir:  downloadDir,
		superpackURL: superpackURL,
		hints:        hints,
		downloader:   downloader,
		state:         Starting,
		now:           time.Now,
		preloaded:     make(map[string]bool),
		handles:       make(map[HandleID]*packRequest),
		openTempFiles: make(map[dlcdownload.TaskID]*os.File),
	}
	for _, name := range hints.PreloadedPacks {
		m.preloaded[name] = true
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.logger == nil {
		if err := m.openDefaultLogger(); err != nil {
			return nil, err
		}
	}

	if err := m.checkWriteAccess(); err != nil {
		return nil, err
	}

	m.scanner = localscan.NewScanner(downloadDir, hints.MaxFilesToDownload, m.logger)

	return m, nil
}

// openDefaultLogger builds the manager's slog.Logger using
// internal/dlclog's handler wrapper, so context-scoped attrs attached via
// dlclog.With (pack and file name) show up on every record without
// every call site building its own *slog.Logger.With(...) chain. When
// hints.LogFilePath is set it backs the original engine's single
// append-only dlc_manager.log stream (§5 "the log file is append-only,
// opened once, and owned by the state machine").
func (m *Manager) openDefaultLogger() error {
	if m.hints.LogFilePath != "" {
		f, err := dlclog.OpenLogFile(m.hints.LogFilePath)
		if err != nil {
			return fmt.Errorf("dlcmanager: %w", err)
		}
		m.logFile = f
		m.logger = slog.New(dlclog.NewHandler(f, slog.LevelDebug))
		return nil
	}
	m.logger = slog.New(dlclog.NewHandler(os.Stderr, slog.LevelInfo))
	return nil
}

// checkWriteAccess proves the download directory is writable (§5
// "Shared resources") by writing and deleting a temp file.
func (m *Manager) checkWriteAccess() error {
	probe := filepath.Join(m.downloadDir, ".dlcmanager_write_probe")
	if err := os.WriteFile(probe, []byte("probe"), 0o644); err != nil {
		return fmt.Errorf("dlcmanager: download dir %s is not writable: %w", m.downloadDir, err)
	}
	return os.Remove(probe)
}

// Initialize starts the protocol. The first call to
// ContinueInitialization drives the Starting -> AskFooter transition.
// Initialize itself does one piece of I/O up front: loading whatever
// complete, CRC-valid footer/file-table/meta snapshot survives from a
// prior run, so that the degrade policy (§4.4) can fall back to it the
// moment remote attempts are exhausted, even on a process's very first
// AskFooter call after a restart with no network at all.
func (m *Manager) Initialize() {
	m.state = Starting
	m.loadLocalSnapshot()
	m.scanResultCh = m.scanner.Run(context.Background())
}

// State returns the current init state.
func (m *Manager) State() InitState { return m.state }

// IsInitialized reports whether the manager has reached Ready or
// Offline.
func (m *Manager) IsInitialized() bool { return m.state.IsTerminal() }

// Close implements Deinitialize (§5): releases the scanner's wait so its
// goroutine exits without reconciling, cancels every outstanding download
// task, releases all requests, and closes the log.
func (m *Manager) Close() error {
	m.scanner.SignalMetaReady(nil)
	for _, rec := range m.handles {
		for _, ref := range rec.inFlight {
			m.downloader.RemoveTask(dlcdownload.TaskID(ref.taskID))
		}
	}
	for _, f := range m.openTempFiles {
		f.Close()
		os.Remove(f.Name())
	}
	m.openTempFiles = make(map[dlcdownload.TaskID]*os.File)
	m.handles = make(map[HandleID]*packRequest)
	m.queue = nil
	m.delayed = nil

	if m.pendingTask != nil {
		m.downloader.RemoveTask(m.pendingTask.taskID)
		m.pendingTask = nil
	}

	if m.logFile != nil {
		return m.logFile.Close()
	}
	return nil
}

func (m *Manager) lookupRecord(id HandleID) (*packRequest, bool) {
	rec, ok := m.handles[id]
	return rec, ok
}

func (m *Manager) setState(s InitState) {
	if m.logger != nil {
		m.logger.Debug("dlcmanager: state transition", "from", m.state.String(), "to", s.String())
	}
	m.state = s
}

func (m *Manager) emitNetworkReadyEdge(ready bool) {
	if m.lastNetworkReady != nil && *m.lastNetworkReady == ready {
		return
	}
	val := ready
	m.lastNetworkReady = &val
	m.signals.emitNetworkReady(ready)
}

// degrade applies the retry/degrade policy shared by every remote-attempt
// state (§4.4): increment retryCount, emit InitTimeout at most once if
// the overall deadline has passed, and either fall back to the
// local-only branch (when enough local data exists and attempts are
// exhausted) or schedule a retry of retryState.
func (m *Manager) degrade(retryState InitState) {
	m.retryCount++
	m.emitNetworkReadyEdge(false)

	if m.hints.InitializationTimeout() > 0 && m.elapsedSinceStart > m.hints.InitializationTimeout() && !m.initTimeoutEmitted {
		m.signals.emitError(ErrorInfo{Origin: OriginInitTimeout, Detail: "initialization timed out"})
		m.initTimeoutEmitted = true
	}

	if m.retryCount > m.hints.SkipCDNAfterAttempts && m.hasLocalFileTable && m.hasLocalMeta {
		m.setState(LoadPacksDataFromLocalMeta)
		return
	}

	m.retryWaitRemaining = m.hints.RetryConnectInterval()
	m.setState(retryState)
}
