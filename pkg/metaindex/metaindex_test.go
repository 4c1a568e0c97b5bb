package metaindex

import (
	"testing"

	"github.com/davaengine/dlcmanager/pkg/superpack"
)

func sampleIndex(t *testing.T) *Index {
	t.Helper()
	table := superpack.FileTable{
		Entries: []superpack.FileTableEntry{
			{MetaIndex: 0, CompressedSize: 10},
			{MetaIndex: 1, CompressedSize: 20},
			{MetaIndex: 1, CompressedSize: 5},
		},
		Names: []string{"base/a.tex", "forest/b.tex", "forest/c.tex"},
	}
	meta := superpack.Meta{
		Packs: []superpack.PackInfo{
			{Name: "base"},
			{Name: "forest", Children: []uint32{0}},
			{Name: "mountains", Children: []uint32{1}},
		},
	}
	idx, err := Build(table, meta)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return idx
}

func TestFilesOf(t *testing.T) {
	idx := sampleIndex(t)
	files := idx.FilesOf(1)
	if len(files) != 2 {
		t.Fatalf("files_of(forest) = %v, want 2 entries", files)
	}
}

func TestTransitiveChildrenOf(t *testing.T) {
	idx := sampleIndex(t)
	closure := idx.TransitiveChildrenOf(2)
	if len(closure) != 2 {
		t.Fatalf("closure(mountains) = %v, want [base forest] indices", closure)
	}
	seen := map[uint32]bool{}
	for _, c := range closure {
		seen[c] = true
	}
	if !seen[0] || !seen[1] {
		t.Errorf("closure(mountains) = %v, want {0,1}", closure)
	}
}

func TestTransitiveChildrenOfCached(t *testing.T) {
	idx := sampleIndex(t)
	first := idx.TransitiveChildrenOf(2)
	second := idx.TransitiveChildrenOf(2)
	if len(first) != len(second) {
		t.Fatalf("cached closure differs: %v vs %v", first, second)
	}
}

func TestSetFileReadyPropagatesToPack(t *testing.T) {
	idx := sampleIndex(t)

	state, _ := idx.PackInfo(1)
	if state.Ready {
		t.Fatal("pack should start not ready")
	}

	for _, fi := range idx.FilesOf(1) {
		idx.SetFileReady(fi, true)
	}

	state, _ = idx.PackInfo(1)
	if !state.Ready {
		t.Error("pack should be ready once all its own files are ready")
	}
}

func TestSetFileReadyDoesNotReadyDependents(t *testing.T) {
	idx := sampleIndex(t)
	for _, fi := range idx.FilesOf(0) {
		idx.SetFileReady(fi, true)
	}
	forestState, _ := idx.PackInfo(1)
	if forestState.Ready {
		t.Error("forest must not be ready just because its dependency base is ready")
	}
}

func TestPackByName(t *testing.T) {
	idx := sampleIndex(t)
	i, ok := idx.PackByName("forest")
	if !ok || i != 1 {
		t.Errorf("PackByName(forest) = (%d, %v), want (1, true)", i, ok)
	}
	if _, ok := idx.PackByName("nonexistent"); ok {
		t.Error("expected PackByName to fail for unknown name")
	}
}

func TestBuildRejectsOutOfRangePackReference(t *testing.T) {
	table := superpack.FileTable{
		Entries: []superpack.FileTableEntry{{MetaIndex: 5}},
		Names:   []string{"x"},
	}
	meta := superpack.Meta{Packs: []superpack.PackInfo{{Name: "only"}}}
	if _, err := Build(table, meta); err == nil {
		t.Error("expected error for out-of-range MetaIndex")
	}
}

func TestBuildRejectsDuplicatePackNames(t *testing.T) {
	table := superpack.FileTable{}
	meta := superpack.Meta{Packs: []superpack.PackInfo{{Name: "dup"}, {Name: "dup"}}}
	if _, err := Build(table, meta); err == nil {
		t.Error("expected error for duplicate pack names")
	}
}
