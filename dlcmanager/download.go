package dlcmanager

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/davaengine/dlcmanager/internal/dlclog"
	"github.com/davaengine/dlcmanager/pkg/dlcdownload"
	"github.com/davaengine/dlcmanager/pkg/litepack"
	"github.com/davaengine/dlcmanager/pkg/metaindex"
)

func dlcTaskID(id uint64) dlcdownload.TaskID { return dlcdownload.TaskID(id) }

// Update drives the request-manager loop (C5): for every request in the
// queue, front to back, it starts any file downloads the manager still
// has spare download-handle budget for, and commits or retries any that
// have finished since the last call. When inBackground is true and
// hints.FireSignalsInBackground is false, finished downloads are still
// collected and committed (emitting RequestUpdated for each), but no new
// downloads start and request states are not recomputed.
func (m *Manager) Update(inBackground bool) {
	if m.idx == nil || !m.IsInitialized() {
		return
	}

	m.collectFinishedDownloads()

	if inBackground && !m.hints.FireSignalsInBackground {
		return
	}

	budget := m.hints.DownloaderMaxHandles
	if budget <= 0 {
		budget = 1
	}

	for _, id := range m.queue {
		if m.totalInFlight() >= budget {
			break
		}
		rec, ok := m.handles[id]
		if !ok || rec.State == Done || rec.State == Errored {
			continue
		}
		for m.totalInFlight() < budget {
			fi, ok := m.nextUnstartedFile(rec)
			if !ok {
				break
			}
			m.startFileDownload(id, rec, fi)
		}
	}

	m.recomputeQueueStates()
}

func (m *Manager) totalInFlight() int {
	var n int
	for _, rec := range m.handles {
		n += len(rec.inFlight)
	}
	return n
}

func (m *Manager) nextUnstartedFile(rec *packRequest) (uint32, bool) {
	for _, fi := range rec.FileIndices {
		if _, started := rec.inFlight[fi]; started {
			continue
		}
		if info, ok := m.idx.FileInfo(fi); ok && info.Ready {
			continue
		}
		return fi, true
	}
	return 0, false
}

func (m *Manager) startFileDownload(id HandleID, rec *packRequest, fi uint32) {
	info, ok := m.idx.FileInfo(fi)
	if !ok {
		return
	}

	tmpPath := m.tempArtifactPath(info.Name)
	if err := os.MkdirAll(filepath.Dir(tmpPath), 0o755); err != nil {
		m.signals.emitError(ErrorInfo{Origin: OriginFileIO, Detail: err.Error()})
		m.applyFileError(rec, err)
		return
	}
	f, err := os.Create(tmpPath)
	if err != nil {
		m.signals.emitError(ErrorInfo{Origin: OriginFileIO, Detail: err.Error()})
		m.applyFileError(rec, err)
		return
	}

	logCtx := dlclog.With(m.ctx(), "pack", rec.Name, "file", info.Name)

	rangeSize := int64(info.CompressedSize)
	taskID, err := m.downloader.Start(logCtx, m.superpackURL, int64(info.StartPosition), rangeSize, f)
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		m.logger.WarnContext(logCtx, "start file download failed", "error", err)
		m.applyFileError(rec, err)
		return
	}

	rec.inFlight[fi] = downloadTaskRef{taskID: uint64(taskID), fileIndex: fi}
	m.openTempFiles[taskID] = f

	if rec.State != Downloading {
		rec.State = Downloading
		m.signals.emitRequestStartLoading(&Request{id: id, mgr: m})
	}
}

// collectFinishedDownloads polls every in-flight task across every
// request and commits or retries the ones that have finished.
func (m *Manager) collectFinishedDownloads() {
	for id, rec := range m.handles {
		for fi, ref := range rec.inFlight {
			status, err := m.downloader.TaskStatus(dlcTaskID(ref.taskID))
			if err != nil {
				delete(rec.inFlight, fi)
				continue
			}
			if !status.Done {
				continue
			}
			m.finishFileDownload(id, rec, fi, ref, status.Err)
		}
	}
}

func (m *Manager) finishFileDownload(id HandleID, rec *packRequest, fi uint32, ref downloadTaskRef, downloadErr error) {
	taskID := dlcTaskID(ref.taskID)
	f := m.openTempFiles[taskID]
	delete(m.openTempFiles, taskID)
	delete(rec.inFlight, fi)
	m.downloader.RemoveTask(taskID)

	info, ok := m.idx.FileInfo(fi)
	if !ok {
		if f != nil {
			f.Close()
			os.Remove(f.Name())
		}
		return
	}

	logCtx := dlclog.With(m.ctx(), "pack", rec.Name, "file", info.Name)

	if downloadErr != nil {
		if f != nil {
			f.Close()
			os.Remove(f.Name())
		}
		m.logger.WarnContext(logCtx, "file download failed", "error", downloadErr)
		m.applyFileError(rec, downloadErr)
		return
	}

	if f == nil {
		m.applyFileError(rec, fmt.Errorf("dlcmanager: missing temp file for %q", info.Name))
		return
	}

	tmpName := f.Name()
	body, readErr := os.ReadFile(tmpName)
	f.Close()
	os.Remove(tmpName)
	if readErr != nil {
		m.applyFileError(rec, readErr)
		return
	}

	gotCRC := litepack.CRC32(body)
	if gotCRC != info.CompressedCRC32 || uint32(len(body)) != info.CompressedSize {
		err := fmt.Errorf("dlcmanager: %s: downloaded body mismatch: crc32 %08x want %08x, size %d want %d",
			info.Name, gotCRC, info.CompressedCRC32, len(body), info.CompressedSize)
		m.logger.WarnContext(logCtx, "file body validation failed", "error", err)
		m.applyFileError(rec, err)
		return
	}

	finalPath := m.localPath(info.Name + litepack.Ext)
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		m.signals.emitError(ErrorInfo{Origin: OriginFileIO, Detail: err.Error()})
		m.applyFileError(rec, err)
		return
	}
	out, err := os.Create(finalPath)
	if err != nil {
		m.signals.emitError(ErrorInfo{Origin: OriginFileIO, Detail: err.Error()})
		m.applyFileError(rec, err)
		return
	}
	if err := litepack.WriteArtifact(out, body, uint32(info.Compression)); err != nil {
		out.Close()
		os.Remove(finalPath)
		m.applyFileError(rec, err)
		return
	}
	if err := out.Close(); err != nil {
		m.applyFileError(rec, err)
		return
	}

	m.idx.SetFileReady(fi, true)
	rec.DownloadedBytes += uint64(info.CompressedSize)
	m.errorCounter = 0
	m.signals.emitRequestUpdated(&Request{id: id, mgr: m})
}

// applyFileError implements the error-counter policy (§7): a handle
// exhaustion error counts as maxSameErrorCounter ordinary errors, since
// retrying immediately cannot help either case.
func (m *Manager) applyFileError(rec *packRequest, err error) {
	m.errorCounter++
	if isExternalHandleExhaustion(err) {
		m.errorCounter += maxSameErrorCounter - 1
	}
	if m.errorCounter >= maxSameErrorCounter {
		rec.State = Errored
		m.signals.emitError(ErrorInfo{Origin: OriginDownload, Detail: fmt.Sprintf("pack %q: too many consecutive errors", rec.Name)})
	}
}

func (m *Manager) recomputeQueueStates() {
	out := m.queue[:0]
	for _, id := range m.queue {
		rec, ok := m.handles[id]
		if !ok {
			continue
		}
		if allFilesReady(m.idx, rec.FileIndices) && allPacksReady(m.idx, rec.DependencyPackIndices) {
			if rec.State != Done {
				rec.State = Done
				m.signals.emitRequestUpdated(&Request{id: id, mgr: m})
			}
			continue
		}
		if rec.State != Errored {
			out = append(out, id)
		}
	}
	m.queue = out
}

func allFilesReady(idx *metaindex.Index, indices []uint32) bool {
	for _, fi := range indices {
		if info, ok := idx.FileInfo(fi); !ok || !info.Ready {
			return false
		}
	}
	return true
}

// tempArtifactPath is where a file's raw compressed body lands while its
// download is in flight, before CRC validation and WriteArtifact produce
// the final .dvpl artifact at localPath(name + litepack.Ext).
func (m *Manager) tempArtifactPath(name string) string {
	return filepath.Join(m.downloadDir, name+".download")
}
