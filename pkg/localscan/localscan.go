// Package localscan walks a download directory looking for existing
// ".dvpl" artifacts and reconciles them against a loaded meta index,
// mirroring the original engine's scan thread: a single background
// goroutine that runs once, waits for the remote meta to become
// available, and hands its result back to the main thread.
package localscan

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/davaengine/dlcmanager/pkg/litepack"
	"github.com/davaengine/dlcmanager/pkg/metaindex"
)

// LocalFileInfo describes one ".dvpl" artifact found on disk.
type LocalFileInfo struct {
	// Name is the relative name with the litepack.Ext suffix stripped,
	// matching the names recorded in the superpack file table.
	Name    string
	Path    string
	Trailer litepack.Trailer
}

// ScanDirectory walks root looking for litepack.Ext files. A file whose
// trailer cannot be read (too short, truncated mid-write) is treated as
// incomplete and removed on the spot rather than reported, since a
// half-written artifact can never validate against any file table entry.
// maxFiles sizes the result slice's initial capacity (hints.max_files_to_download,
// §6); it is advisory only, a directory holding more than maxFiles
// artifacts is still scanned completely. maxFiles <= 0 leaves sizing to
// append's own growth.
func ScanDirectory(root string, maxFiles int, logger *slog.Logger) ([]LocalFileInfo, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var found []LocalFileInfo
	if maxFiles > 0 {
		found = make([]LocalFileInfo, 0, maxFiles)
	}
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		if filepath.Ext(path) != litepack.Ext {
			return nil
		}

		f, openErr := os.Open(path)
		if openErr != nil {
			logger.Warn("local scan: cannot open artifact, removing", "path", path, "error", openErr)
			os.Remove(path)
			return nil
		}
		defer f.Close()

		trailer, trErr := litepack.ReadTrailer(f, info.Size())
		if trErr != nil {
			logger.Warn("local scan: incomplete artifact, removing", "path", path, "error", trErr)
			f.Close()
			os.Remove(path)
			return nil
		}

		relPath, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return fmt.Errorf("local scan: relative path: %w", relErr)
		}
		name := filepath.ToSlash(relPath)
		name = name[:len(name)-len(litepack.Ext)]

		found = append(found, LocalFileInfo{Name: name, Path: path, Trailer: trailer})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("local scan: walk %s: %w", root, err)
	}
	return found, nil
}

// Reconciliation is the outcome of matching scanned local files against a
// loaded meta index.
type Reconciliation struct {
	// ReadyFiles are index file indices whose on-disk trailer already
	// matches the server's recorded CRC32/size; they need no download.
	ReadyFiles []uint32
	// Stray are local paths with no corresponding entry in the index at
	// all; they belong to a meta the server has since superseded.
	Stray []string
	// Mismatched are local paths whose name matches an index entry but
	// whose trailer does not validate; left alone for the request
	// manager to resume or redownload, never deleted by the scanner.
	Mismatched []string
}

// Reconcile compares local files against idx, the shape §4.3 of the
// original scan thread performs once CompareLocalMetaWithRemoteHash has
// confirmed (or replaced) the local meta.
func Reconcile(idx *metaindex.Index, local []LocalFileInfo) Reconciliation {
	var result Reconciliation

	byName := make(map[string]LocalFileInfo, len(local))
	for _, lf := range local {
		byName[lf.Name] = lf
	}

	matched := make(map[string]bool, len(local))
	for i := 0; i < idx.FileCount(); i++ {
		fi, ok := idx.FileInfo(uint32(i))
		if !ok {
			continue
		}
		lf, found := byName[fi.Name]
		if !found {
			continue
		}
		matched[fi.Name] = true

		if err := lf.Trailer.Validate(fi.CompressedCRC32, fi.CompressedSize); err != nil {
			result.Mismatched = append(result.Mismatched, lf.Path)
			continue
		}
		result.ReadyFiles = append(result.ReadyFiles, uint32(i))
	}

	for _, lf := range local {
		if !matched[lf.Name] {
			result.Stray = append(result.Stray, lf.Path)
		}
	}

	return result
}

// Scanner runs the scan-and-reconcile sequence on a single background
// goroutine, gated by a one-shot latch the main thread signals once the
// meta index has loaded. This is the Go equivalent of the original's
// ThreadScanFunc paired with its "scan finished" semaphore.
type Scanner struct {
	root     string
	maxFiles int
	logger   *slog.Logger

	ready   chan struct{}
	closeIt sync.Once
	idx     *metaindex.Index
	idxMu   sync.Mutex
}

// NewScanner returns a Scanner rooted at dir. maxFiles is forwarded to
// ScanDirectory as its result-slice capacity hint (hints.max_files_to_download,
// §6). Logger may be nil.
func NewScanner(dir string, maxFiles int, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		root:     dir,
		maxFiles: maxFiles,
		logger:   logger,
		ready:    make(chan struct{}),
	}
}

// SignalMetaReady releases the scanner's latch and hands it the index to
// reconcile against. The latch is released only by the first call; a
// later call does not release it again but does replace the index, which
// matters only if Run has not yet picked it up. A nil index makes Run
// return an empty Reconciliation.
func (s *Scanner) SignalMetaReady(idx *metaindex.Index) {
	s.idxMu.Lock()
	s.idx = idx
	s.idxMu.Unlock()
	s.closeIt.Do(func() { close(s.ready) })
}

// Run scans the directory, waits for SignalMetaReady (or ctx
// cancellation), and returns the reconciliation. Run returns at once: the
// work happens on a goroutine it starts, and the caller receives the
// result over the returned channel, which is closed without a value if
// ctx is cancelled first. Call it once per Scanner.
func (s *Scanner) Run(ctx context.Context) <-chan Reconciliation {
	out := make(chan Reconciliation, 1)
	go func() {
		defer close(out)

		local, err := ScanDirectory(s.root, s.maxFiles, s.logger)
		if err != nil {
			s.logger.Error("local scan failed", "error", err)
			out <- Reconciliation{}
			return
		}

		select {
		case <-s.ready:
		case <-ctx.Done():
			return
		}

		s.idxMu.Lock()
		idx := s.idx
		s.idxMu.Unlock()
		if idx == nil {
			out <- Reconciliation{}
			return
		}

		out <- Reconcile(idx, local)
	}()
	return out
}
