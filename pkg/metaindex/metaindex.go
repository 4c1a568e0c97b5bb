// Package metaindex holds the in-memory index built from a parsed
// superpack Meta and FileTable: the packs catalog, the file-to-pack
// mapping, and a memoized transitive dependency closure. It has no
// synchronization of its own; callers confined to the manager's single
// main thread (the only thread allowed to mutate manager state, per the
// init state machine) may call it without locking.
package metaindex

import (
	"fmt"

	"github.com/davaengine/dlcmanager/pkg/superpack"
)

// FileInfo is what the index knows about one file.
type FileInfo struct {
	Name            string
	PackIndex       uint32
	OriginalSize    uint32
	OriginalCRC32   uint32
	CompressedSize  uint32
	CompressedCRC32 uint32
	Compression     superpack.CompressionType
	StartPosition   uint64
	Ready           bool
}

// PackState is the mutable readiness state the index tracks for a pack,
// separate from the immutable PackInfo the catalog carries.
type PackState struct {
	Name         string
	Children     []uint32
	Ready        bool
	TotalBytes   uint64
	DownloadedBy uint64
}

// Index is the queryable view over a parsed Meta + FileTable: files_of,
// children_of, pack_info, file_info and set_ready from component C2.
type Index struct {
	packs   []PackState
	byName  map[string]uint32
	files   []FileInfo
	filesOf map[uint32][]uint32 // pack index -> file indices

	closureCache map[uint32][]uint32
}

// Build constructs an Index from a parsed FileTable and Meta. The Meta is
// assumed to have already passed cycle detection in superpack.ParseMeta.
func Build(table superpack.FileTable, meta superpack.Meta) (*Index, error) {
	idx := &Index{
		packs:        make([]PackState, len(meta.Packs)),
		byName:       make(map[string]uint32, len(meta.Packs)),
		files:        make([]FileInfo, len(table.Entries)),
		filesOf:      make(map[uint32][]uint32),
		closureCache: make(map[uint32][]uint32),
	}

	for i, p := range meta.Packs {
		idx.packs[i] = PackState{Name: p.Name, Children: p.Children}
		if _, dup := idx.byName[p.Name]; dup {
			return nil, fmt.Errorf("metaindex: duplicate pack name %q", p.Name)
		}
		idx.byName[p.Name] = uint32(i)
	}

	for i, e := range table.Entries {
		if int(e.MetaIndex) >= len(idx.packs) {
			return nil, fmt.Errorf("metaindex: file %q references out-of-range pack %d", table.Names[i], e.MetaIndex)
		}
		idx.files[i] = FileInfo{
			Name:            table.Names[i],
			PackIndex:       e.MetaIndex,
			OriginalSize:    e.OriginalSize,
			OriginalCRC32:   e.OriginalCRC32,
			CompressedSize:  e.CompressedSize,
			CompressedCRC32: e.CompressedCRC32,
			Compression:     e.Compression,
			StartPosition:   e.StartPosition,
		}
		idx.filesOf[e.MetaIndex] = append(idx.filesOf[e.MetaIndex], uint32(i))
		idx.packs[e.MetaIndex].TotalBytes += uint64(e.CompressedSize)
	}

	// A pack with no files of its own has nothing left to download.
	for i := range idx.packs {
		idx.recomputePackReady(uint32(i))
	}

	return idx, nil
}

// PackInfo returns the pack at index i, or false if it does not exist.
func (idx *Index) PackInfo(i uint32) (PackState, bool) {
	if int(i) >= len(idx.packs) {
		return PackState{}, false
	}
	return idx.packs[i], true
}

// PackByName resolves a pack name to its index.
func (idx *Index) PackByName(name string) (uint32, bool) {
	i, ok := idx.byName[name]
	return i, ok
}

// FileInfo returns the file at index i, or false if it does not exist.
func (idx *Index) FileInfo(i uint32) (FileInfo, bool) {
	if int(i) >= len(idx.files) {
		return FileInfo{}, false
	}
	return idx.files[i], true
}

// FilesOf returns the indices of the files directly belonging to pack i
// (not including dependency children's files).
func (idx *Index) FilesOf(i uint32) []uint32 {
	return idx.filesOf[i]
}

// ChildrenOf returns the direct dependency children of pack i.
func (idx *Index) ChildrenOf(i uint32) []uint32 {
	if int(i) >= len(idx.packs) {
		return nil
	}
	return idx.packs[i].Children
}

// TransitiveChildrenOf returns the full transitive dependency closure of
// pack i (not including i itself), memoized per index instance since the
// dependency DAG never changes after Build. This relies on C2's
// single-main-thread confinement: no lock guards closureCache.
func (idx *Index) TransitiveChildrenOf(i uint32) []uint32 {
	if cached, ok := idx.closureCache[i]; ok {
		return cached
	}

	visited := make(map[uint32]bool)
	var walk func(uint32)
	walk = func(n uint32) {
		for _, child := range idx.ChildrenOf(n) {
			if visited[child] {
				continue
			}
			visited[child] = true
			walk(child)
		}
	}
	walk(i)

	closure := make([]uint32, 0, len(visited))
	for n := range visited {
		closure = append(closure, n)
	}
	idx.closureCache[i] = closure
	return closure
}

// SetFileReady marks a file as fully downloaded and verified. A pack
// becomes ready only once every one of its own files (not its
// dependencies' files) is ready.
func (idx *Index) SetFileReady(i uint32, ready bool) {
	if int(i) >= len(idx.files) {
		return
	}
	idx.files[i].Ready = ready

	pack := idx.files[i].PackIndex
	idx.recomputePackReady(pack)
}

func (idx *Index) recomputePackReady(pack uint32) {
	if int(pack) >= len(idx.packs) {
		return
	}
	allReady := true
	for _, fi := range idx.filesOf[pack] {
		if !idx.files[fi].Ready {
			allReady = false
			break
		}
	}
	idx.packs[pack].Ready = allReady
}

// PackCount returns the number of packs in the catalog.
func (idx *Index) PackCount() int { return len(idx.packs) }

// FileCount returns the number of files in the catalog.
func (idx *Index) FileCount() int { return len(idx.files) }
