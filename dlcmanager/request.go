package dlcmanager

// RequestState is the lifecycle state of a PackRequest.
type RequestState int

const (
	Queued RequestState = iota
	Downloading
	Done
	Errored
)

func (s RequestState) String() string {
	switch s {
	case Queued:
		return "Queued"
	case Downloading:
		return "Downloading"
	case Done:
		return "Done"
	case Errored:
		return "Errored"
	default:
		return "Unknown"
	}
}

// packRequest is the mutable record a HandleID maps to (C6). It is never
// referenced directly by callers; they hold a *Request instead.
type packRequest struct {
	Name                  string
	FileIndices           []uint32
	DependencyPackIndices []uint32
	DownloadedBytes       uint64
	TotalBytes            uint64
	State                 RequestState
	Preloaded             bool
	Delayed               bool

	inFlight map[uint32]downloadTaskRef
}

type downloadTaskRef struct {
	taskID    uint64
	fileIndex uint32
}

// Progress is the byte-level progress of a request or of the manager as
// a whole.
type Progress struct {
	AlreadyDownloaded uint64
	Total             uint64
}

// newPackRequest builds a fresh request record for name, with
// fileIndices already filtered down to the files that are not yet ready
// (§4.5 "create_new_request pre-filters already-ready files"). The record
// starts Queued, or Done when fileIndices is empty.
func newPackRequest(name string, fileIndices, depPacks []uint32, totalBytes uint64) *packRequest {
	rec := &packRequest{
		Name:                  name,
		FileIndices:           fileIndices,
		DependencyPackIndices: depPacks,
		TotalBytes:            totalBytes,
		State:                 Queued,
		inFlight:              make(map[uint32]downloadTaskRef),
	}
	if len(fileIndices) == 0 {
		rec.State = Done
	}
	return rec
}
