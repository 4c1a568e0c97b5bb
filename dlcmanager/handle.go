package dlcmanager

// HandleID is an opaque, stable identifier for a pack request. Callers
// hold a *Request value, which is just (id, manager) — the manager owns
// the mutable record a HandleID maps to. This is the indirection §9
// recommends in place of the original implementation's pointer-swap:
// when a delayed request is materialized into a live one, the record the
// id maps to is filled in place, and the value the caller is holding
// never changes.
type HandleID uint64

// Request is the stable external handle for one pack request. Its
// identity never changes across initialization, satisfying the pointer
// stability invariant: when a delayed request goes live, the record it
// refers to is filled in place with the live file and dependency sets.
type Request struct {
	id  HandleID
	mgr *Manager
}

// ID returns the handle's opaque identifier, stable for the life of the
// request.
func (r *Request) ID() HandleID { return r.id }

// Name returns the pack name this request refers to.
func (r *Request) Name() string {
	rec, ok := r.mgr.lookupRecord(r.id)
	if !ok {
		return ""
	}
	return rec.Name
}

// State returns the request's current lifecycle state.
func (r *Request) State() RequestState {
	rec, ok := r.mgr.lookupRecord(r.id)
	if !ok {
		return Errored
	}
	return rec.State
}

// Progress returns the request's current byte progress.
func (r *Request) Progress() Progress {
	rec, ok := r.mgr.lookupRecord(r.id)
	if !ok {
		return Progress{}
	}
	return Progress{
		AlreadyDownloaded: rec.DownloadedBytes,
		Total:             rec.TotalBytes,
	}
}
