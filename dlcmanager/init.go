package dlcmanager

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"time"

	"github.com/davaengine/dlcmanager/pkg/metaindex"
	"github.com/davaengine/dlcmanager/pkg/superpack"
)

// ContinueInitialization advances the init state machine by at most one
// step, honoring per-state retry delays (§4.4). dt is the caller's frame
// delta; callers typically invoke this once per frame until
// IsInitialized() is true.
func (m *Manager) ContinueInitialization(dt time.Duration) {
	m.elapsedSinceStart += dt

	if m.retryWaitRemaining > 0 {
		m.retryWaitRemaining -= dt
		return
	}

	switch m.state {
	case Starting:
		m.setState(AskFooter)
	case AskFooter:
		m.doAskFooter()
	case GetFooter:
		m.doGetFooter()
	case AskFileTable:
		m.doAskFileTable()
	case GetFileTable:
		m.doGetFileTable()
	case CalculateLocalDBHashAndCompare:
		m.doCalculateLocalDBHashAndCompare()
	case AskMeta:
		m.doAskMeta()
	case GetMeta:
		m.doGetMeta()
	case UnpackingDB:
		m.doUnpackingDB()
	case LoadPacksDataFromLocalMeta:
		m.doLoadPacksDataFromLocalMeta()
	case WaitScanThreadToFinish:
		m.doWaitScanThreadToFinish()
	case MoveDelayedRequestsToQueue:
		m.doMoveDelayedRequestsToQueue()
	case Ready, Offline:
		// terminal; nothing to do.
	}
}

func (m *Manager) ctx() context.Context { return context.Background() }

func (m *Manager) doAskFooter() {
	size, err := m.downloader.ContentSize(m.ctx(), m.superpackURL)
	if err != nil {
		m.logger.Warn("ask footer: content size failed", "error", err)
		m.degrade(AskFooter)
		return
	}
	m.remoteTotalSize = size

	offset := size - superpack.FooterSize
	sink := newMemSink(superpack.FooterSize)
	taskID, err := m.downloader.Start(m.ctx(), m.superpackURL, offset, superpack.FooterSize, sink)
	if err != nil {
		m.logger.Warn("ask footer: start download failed", "error", err)
		m.degrade(AskFooter)
		return
	}
	m.pendingTask = &pendingInitTask{taskID: taskID, sink: sink}
	m.setState(GetFooter)
}

func (m *Manager) doGetFooter() {
	done, data, err := m.pollPendingTask()
	if !done {
		return
	}
	if err != nil {
		m.logger.Warn("get footer: download failed", "error", err)
		m.degrade(AskFooter)
		return
	}

	footer, err := superpack.ParseFooter(data)
	if err != nil {
		m.logger.Warn("get footer: parse failed", "error", err)
		m.degrade(AskFooter)
		return
	}

	if err := os.WriteFile(m.localPath(localFooterName), data, 0o644); err != nil {
		m.signals.emitError(ErrorInfo{Origin: OriginFileIO, Detail: err.Error()})
		m.degrade(AskFooter)
		return
	}

	m.footer = footer
	m.hasLocalFooter = true
	m.emitNetworkReadyEdge(true)
	m.setState(AskFileTable)
}

func (m *Manager) doAskFileTable() {
	path := m.localPath(localFileTableName)
	if data, ok := m.readLocalIfCRCMatches(path, m.footer.Info.FilesTableCRC32); ok {
		m.fileTableBytes = data
		m.hasLocalFileTable = true
		m.setState(GetFileTable)
		return
	}

	offset := m.remoteTotalSize - superpack.FooterSize - int64(m.footer.Info.MetaDataSize) - int64(m.footer.Info.FilesTableSize)
	sink := newMemSink(int64(m.footer.Info.FilesTableSize))
	taskID, err := m.downloader.Start(m.ctx(), m.superpackURL, offset, int64(m.footer.Info.FilesTableSize), sink)
	if err != nil {
		m.logger.Warn("ask file table: start download failed", "error", err)
		m.degrade(AskFileTable)
		return
	}
	m.pendingTask = &pendingInitTask{taskID: taskID, sink: sink}
	m.setState(GetFileTable)
}

func (m *Manager) doGetFileTable() {
	var data []byte
	fromNetwork := m.pendingTask != nil
	if fromNetwork {
		done, d, err := m.pollPendingTask()
		if !done {
			return
		}
		if err != nil {
			m.logger.Warn("get file table: download failed", "error", err)
			m.degrade(AskFileTable)
			return
		}
		data = d
	} else {
		data = m.fileTableBytes
	}

	table, err := superpack.ParseFileTable(data, m.footer)
	if err != nil {
		m.logger.Warn("get file table: parse failed", "error", err)
		os.Remove(m.localPath(localFileTableName))
		m.hasLocalFileTable = false
		m.degrade(AskFileTable)
		return
	}

	if err := os.WriteFile(m.localPath(localFileTableName), data, 0o644); err != nil {
		m.signals.emitError(ErrorInfo{Origin: OriginFileIO, Detail: err.Error()})
		m.degrade(AskFileTable)
		return
	}

	m.fileTable = table
	m.hasLocalFileTable = true
	if fromNetwork {
		m.emitNetworkReadyEdge(true)
	}
	m.setState(CalculateLocalDBHashAndCompare)
}

func (m *Manager) doCalculateLocalDBHashAndCompare() {
	path := m.localPath(localMetaName)
	if data, ok := m.readLocalIfCRCMatches(path, m.footer.Info.MetaDataCRC32); ok {
		m.metaBytes = data
		m.hasLocalMeta = true
		m.setState(LoadPacksDataFromLocalMeta)
		return
	}
	os.Remove(path)
	m.hasLocalMeta = false
	m.setState(AskMeta)
}

func (m *Manager) doAskMeta() {
	offset := m.remoteTotalSize - superpack.FooterSize - int64(m.footer.Info.MetaDataSize)
	sink := newMemSink(int64(m.footer.Info.MetaDataSize))
	taskID, err := m.downloader.Start(m.ctx(), m.superpackURL, offset, int64(m.footer.Info.MetaDataSize), sink)
	if err != nil {
		m.logger.Warn("ask meta: start download failed", "error", err)
		m.degrade(AskMeta)
		return
	}
	m.pendingTask = &pendingInitTask{taskID: taskID, sink: sink}
	m.setState(GetMeta)
}

func (m *Manager) doGetMeta() {
	done, data, err := m.pollPendingTask()
	if !done {
		return
	}
	if err != nil {
		m.logger.Warn("get meta: download failed", "error", err)
		m.degrade(AskMeta)
		return
	}
	m.metaBytes = data
	m.emitNetworkReadyEdge(true)
	m.setState(UnpackingDB)
}

func (m *Manager) doUnpackingDB() {
	meta, err := superpack.ParseMeta(m.metaBytes, m.footer)
	if err != nil {
		m.logger.Warn("unpacking db: parse meta failed", "error", err)
		if errors.Is(err, superpack.ErrMetaCycle) {
			m.signals.emitError(ErrorInfo{Origin: OriginCodec, Detail: err.Error()})
			m.setState(Offline)
			return
		}
		m.degrade(AskFooter)
		return
	}
	if err := os.WriteFile(m.localPath(localMetaName), m.metaBytes, 0o644); err != nil {
		m.signals.emitError(ErrorInfo{Origin: OriginFileIO, Detail: err.Error()})
		m.degrade(AskFooter)
		return
	}
	m.meta = meta
	m.hasLocalMeta = true
	m.setState(LoadPacksDataFromLocalMeta)
}

func (m *Manager) doLoadPacksDataFromLocalMeta() {
	if len(m.meta.Packs) == 0 && len(m.metaBytes) > 0 {
		meta, err := superpack.ParseMeta(m.metaBytes, m.footer)
		if err != nil {
			m.logger.Warn("load packs from local meta: parse failed", "error", err)
			os.Remove(m.localPath(localMetaName))
			m.hasLocalMeta = false
			if errors.Is(err, superpack.ErrMetaCycle) {
				m.signals.emitError(ErrorInfo{Origin: OriginCodec, Detail: err.Error()})
				m.setState(Offline)
				return
			}
			m.degrade(AskFooter)
			return
		}
		m.meta = meta
	}

	idx, err := metaindex.Build(m.fileTable, m.meta)
	if err != nil {
		m.logger.Warn("load packs from local meta: build index failed", "error", err)
		m.degrade(AskFooter)
		return
	}
	m.idx = idx
	m.setState(WaitScanThreadToFinish)
}

func (m *Manager) doWaitScanThreadToFinish() {
	if !m.scanSignaled {
		m.scanner.SignalMetaReady(m.idx)
		m.scanSignaled = true
	}

	if !m.scanDone {
		select {
		case result, ok := <-m.scanResultCh:
			if ok {
				m.scanResult = result
				m.scanDone = true
			}
		default:
			return
		}
	}

	for _, fi := range m.scanResult.ReadyFiles {
		m.idx.SetFileReady(fi, true)
	}
	for _, path := range m.scanResult.Stray {
		os.Remove(path)
	}

	var downloaded, total uint32
	for i := 0; i < m.idx.FileCount(); i++ {
		total++
		if fi, ok := m.idx.FileInfo(uint32(i)); ok && fi.Ready {
			downloaded++
		}
	}
	m.initializedFileCount = downloaded
	m.totalFileCount = total
	m.signals.emitInitializeFinished(downloaded, total)

	m.setState(MoveDelayedRequestsToQueue)
}

func (m *Manager) doMoveDelayedRequestsToQueue() {
	for _, id := range m.delayed {
		rec, ok := m.handles[id]
		if !ok {
			continue
		}
		m.materializeRequest(rec, rec.Name)
		rec.Delayed = false
		m.queue = append(m.queue, id)
	}
	m.delayed = nil
	m.setState(Ready)
}

// pollPendingTask checks the single outstanding init-phase download task.
// Returns done=false while still in flight.
func (m *Manager) pollPendingTask() (done bool, data []byte, err error) {
	if m.pendingTask == nil {
		return true, nil, fmt.Errorf("dlcmanager: no pending task")
	}
	status, statusErr := m.downloader.TaskStatus(m.pendingTask.taskID)
	if statusErr != nil {
		m.pendingTask = nil
		return true, nil, statusErr
	}
	if !status.Done {
		return false, nil, nil
	}
	data = append([]byte(nil), m.pendingTask.sink.Bytes()...)
	taskErr := status.Err
	m.downloader.RemoveTask(m.pendingTask.taskID)
	m.pendingTask = nil
	return true, data, taskErr
}

// loadLocalSnapshot attempts to restore a complete, CRC-valid
// footer/file-table/meta triple from disk before any network activity
// happens. Without this, a restart with no reachable origin at all would
// never have a footer to validate the local file table and meta against,
// and degrade's local-only fallback (§4.4) would have nothing to jump to
// even though skip_cdn_after_attempts says it should. The footer comes
// first: if it is missing or fails its CRC check, nothing else is loaded.
// The file table and the meta are then each checked against that footer
// independently; a piece that is missing or fails its CRC check or parse
// leaves the corresponding hasLocal* flag false, same as if this method
// had never run.
func (m *Manager) loadLocalSnapshot() {
	footerData, err := os.ReadFile(m.localPath(localFooterName))
	if err != nil {
		return
	}
	footer, err := superpack.ParseFooter(footerData)
	if err != nil {
		return
	}
	m.footer = footer
	m.hasLocalFooter = true

	if data, ok := m.readLocalIfCRCMatches(m.localPath(localFileTableName), footer.Info.FilesTableCRC32); ok {
		table, err := superpack.ParseFileTable(data, footer)
		if err == nil {
			m.fileTableBytes = data
			m.fileTable = table
			m.hasLocalFileTable = true
		}
	}

	if data, ok := m.readLocalIfCRCMatches(m.localPath(localMetaName), footer.Info.MetaDataCRC32); ok {
		meta, err := superpack.ParseMeta(data, footer)
		if err == nil {
			m.metaBytes = data
			m.meta = meta
			m.hasLocalMeta = true
		}
	}
}

func (m *Manager) localPath(name string) string {
	return filepath.Join(m.downloadDir, name)
}

func (m *Manager) readLocalIfCRCMatches(path string, wantCRC uint32) ([]byte, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	if crc32.ChecksumIEEE(data) != wantCRC {
		return nil, false
	}
	return data, true
}
