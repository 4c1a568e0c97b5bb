package dlcmanager

import (
	"os"

	"github.com/davaengine/dlcmanager/pkg/dlcdownload"
	"github.com/davaengine/dlcmanager/pkg/litepack"
	"github.com/davaengine/dlcmanager/pkg/metaindex"
)

// RequestPack implements request_pack (§4.5 point 1): returns a stable
// handle to the named pack's download request, creating one if needed.
// It never fails; an unknown or not-yet-initialized name still returns a
// usable (if initially empty) request.
func (m *Manager) RequestPack(name string) *Request {
	if m.preloaded[name] {
		id := m.internOrCreate(name, func() *packRequest {
			rec := newPackRequest(name, nil, nil, 0)
			rec.Preloaded = true
			rec.State = Done
			return rec
		})
		return &Request{id: id, mgr: m}
	}

	if id, ok := m.byNameID(name); ok {
		return &Request{id: id, mgr: m}
	}

	// Offline never builds an index (the init protocol halted before
	// LoadPacksDataFromLocalMeta), so it is handled the same as
	// not-yet-initialized: the request sits delayed forever, matching the
	// "empty delayed request" contract for a manager that never recovers.
	if !m.IsInitialized() || m.idx == nil {
		id := m.addHandle(newPackRequest(name, nil, nil, 0))
		m.handles[id].Delayed = true
		m.delayed = append(m.delayed, id)
		return &Request{id: id, mgr: m}
	}

	id := m.addHandle(newPackRequest(name, nil, nil, 0))
	m.materializeRequest(m.handles[id], name)
	m.queue = append(m.queue, id)
	return &Request{id: id, mgr: m}
}

// SetPriority implements set_priority: moves the request to the front of
// the queue. An in-flight download of a lower-priority request is not
// cancelled.
func (m *Manager) SetPriority(r *Request) {
	m.removeFromQueueSlice(r.id)
	m.queue = append([]HandleID{r.id}, m.queue...)
}

// RemovePack implements remove: drops the request from the queue,
// cancels any in-flight tasks for its files, and reverts the pack's own
// files back to not-ready — deleting their on-disk .dvpl artifacts so
// the space is actually freed. Per the resolved open question in the
// design notes, dependency packs (and files belonging only to them) are
// left untouched even if this was their only requester; only rec's own
// FileIndices are reset here.
func (m *Manager) RemovePack(r *Request) {
	rec, ok := m.handles[r.id]
	if !ok {
		return
	}
	for _, ref := range rec.inFlight {
		taskID := dlcdownload.TaskID(ref.taskID)
		m.downloader.RemoveTask(taskID)
		if f, ok := m.openTempFiles[taskID]; ok {
			f.Close()
			os.Remove(f.Name())
			delete(m.openTempFiles, taskID)
		}
	}
	rec.inFlight = make(map[uint32]downloadTaskRef)

	if m.idx != nil && !rec.Preloaded {
		if packIdx, ok := m.idx.PackByName(rec.Name); ok {
			for _, fi := range m.idx.FilesOf(packIdx) {
				info, ok := m.idx.FileInfo(fi)
				if !ok || !info.Ready {
					continue
				}
				m.idx.SetFileReady(fi, false)
				os.Remove(m.localPath(info.Name + litepack.Ext))
			}
		}
	}

	m.removeFromQueueSlice(r.id)
	delete(m.handles, r.id)
}

// Progress returns the manager-wide byte progress across every known
// file, mirroring the overall InitializeFinished counters as downloads
// continue after Ready.
func (m *Manager) Progress() Progress {
	if m.idx == nil {
		return Progress{}
	}
	var downloaded, total uint64
	for i := 0; i < m.idx.FileCount(); i++ {
		fi, ok := m.idx.FileInfo(uint32(i))
		if !ok {
			continue
		}
		total += uint64(fi.CompressedSize)
		if fi.Ready {
			downloaded += uint64(fi.CompressedSize)
		}
	}
	return Progress{AlreadyDownloaded: downloaded, Total: total}
}

// IsInQueue implements is_in_queue.
func (m *Manager) IsInQueue(name string) bool {
	id, ok := m.byNameID(name)
	if !ok {
		return false
	}
	for _, qid := range m.queue {
		if qid == id {
			return true
		}
	}
	return false
}

// Empty implements empty().
func (m *Manager) Empty() bool { return len(m.queue) == 0 }

func (m *Manager) byNameID(name string) (HandleID, bool) {
	for id, rec := range m.handles {
		if rec.Name == name && !rec.Preloaded {
			return id, true
		}
	}
	return 0, false
}

func (m *Manager) internOrCreate(name string, build func() *packRequest) HandleID {
	if id, ok := m.byNamePreloaded(name); ok {
		return id
	}
	return m.addHandle(build())
}

func (m *Manager) byNamePreloaded(name string) (HandleID, bool) {
	for id, rec := range m.handles {
		if rec.Name == name && rec.Preloaded {
			return id, true
		}
	}
	return 0, false
}

func (m *Manager) addHandle(rec *packRequest) HandleID {
	m.nextHandle++
	id := m.nextHandle
	m.handles[id] = rec
	return id
}

func (m *Manager) removeFromQueueSlice(id HandleID) {
	out := m.queue[:0]
	for _, qid := range m.queue {
		if qid != id {
			out = append(out, qid)
		}
	}
	m.queue = out
}

// materializeRequest fills rec in place with the live file/dependency
// sets for name (§4.5 point 2/3), pushing any missing dependency packs as
// sibling requests. Mutating rec in place rather than replacing it is
// what makes the handle-indirection design (§9) work: callers holding a
// *Request for rec's id see the live data the next time they ask.
func (m *Manager) materializeRequest(rec *packRequest, name string) {
	packIdx, ok := m.idx.PackByName(name)
	if !ok {
		// Unknown pack name: empty request, immediately Done (§7).
		rec.FileIndices = nil
		rec.DependencyPackIndices = nil
		rec.TotalBytes = 0
		rec.State = Done
		return
	}

	var unready []uint32
	var totalAll uint64
	for _, fi := range m.idx.FilesOf(packIdx) {
		info, ok := m.idx.FileInfo(fi)
		if !ok {
			continue
		}
		totalAll += uint64(info.CompressedSize)
		if !info.Ready {
			unready = append(unready, fi)
		}
	}

	children := m.idx.ChildrenOf(packIdx)
	for _, child := range children {
		if childInfo, ok := m.idx.PackInfo(child); ok && !childInfo.Ready {
			m.RequestPack(childInfo.Name)
		}
	}

	rec.FileIndices = unready
	rec.DependencyPackIndices = m.idx.TransitiveChildrenOf(packIdx)
	rec.TotalBytes = totalAll
	rec.DownloadedBytes = totalAll - sumCompressedSizes(m.idx, unready)
	if len(unready) == 0 && allPacksReady(m.idx, rec.DependencyPackIndices) {
		rec.State = Done
	} else {
		rec.State = Queued
	}
}

func sumCompressedSizes(idx *metaindex.Index, indices []uint32) uint64 {
	var total uint64
	for _, i := range indices {
		if fi, ok := idx.FileInfo(i); ok {
			total += uint64(fi.CompressedSize)
		}
	}
	return total
}

func allPacksReady(idx *metaindex.Index, packIndices []uint32) bool {
	for _, p := range packIndices {
		info, ok := idx.PackInfo(p)
		if !ok || !info.Ready {
			return false
		}
	}
	return true
}
