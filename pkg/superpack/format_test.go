package superpack

import (
	"bytes"
	"errors"
	"hash/crc32"
	"testing"
)

func buildSample(t *testing.T) []byte {
	t.Helper()
	blob, err := NewBuilder().
		AddPack("base").
		AddPack("dlc_forest", 0).
		AddFile("textures/grass.tex", []byte("grass original"), []byte("grass compressed"), CompressionNone, 0).
		AddFile("textures/tree.tex", []byte("tree original"), []byte("tree compressed"), CompressionNone, 1).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return blob
}

func parseBlob(t *testing.T, blob []byte) (Footer, FileTable, Meta) {
	t.Helper()
	footerBytes := blob[len(blob)-FooterSize:]
	footer, err := ParseFooter(footerBytes)
	if err != nil {
		t.Fatalf("parse footer: %v", err)
	}

	metaStart := len(blob) - FooterSize - int(footer.Info.MetaDataSize)
	metaBytes := blob[metaStart : metaStart+int(footer.Info.MetaDataSize)]
	meta, err := ParseMeta(metaBytes, footer)
	if err != nil {
		t.Fatalf("parse meta: %v", err)
	}

	tableStart := metaStart - int(footer.Info.FilesTableSize)
	tableBytes := blob[tableStart:metaStart]
	table, err := ParseFileTable(tableBytes, footer)
	if err != nil {
		t.Fatalf("parse file table: %v", err)
	}

	return footer, table, meta
}

func TestBuildAndParseRoundTrip(t *testing.T) {
	blob := buildSample(t)
	_, table, meta := parseBlob(t, blob)

	if len(table.Entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(table.Entries))
	}
	if table.Names[0] != "textures/grass.tex" || table.Names[1] != "textures/tree.tex" {
		t.Errorf("names mismatch: %v", table.Names)
	}
	if len(meta.Packs) != 2 || meta.Packs[1].Name != "dlc_forest" {
		t.Fatalf("packs mismatch: %+v", meta.Packs)
	}
	if len(meta.Packs[1].Children) != 1 || meta.Packs[1].Children[0] != 0 {
		t.Errorf("dependency children mismatch: %+v", meta.Packs[1])
	}
}

func TestParseFooterCRCMutation(t *testing.T) {
	blob := buildSample(t)
	footerBytes := append([]byte(nil), blob[len(blob)-FooterSize:]...)
	footerBytes[8] ^= 0xFF

	if _, err := ParseFooter(footerBytes); !errors.Is(err, ErrBadFooter) {
		t.Errorf("expected ErrBadFooter, got %v", err)
	}
}

func TestParseFileTableCRCMutation(t *testing.T) {
	blob := buildSample(t)
	footer, _, _ := parseBlob(t, blob)

	metaStart := len(blob) - FooterSize - int(footer.Info.MetaDataSize)
	tableStart := metaStart - int(footer.Info.FilesTableSize)
	tableBytes := append([]byte(nil), blob[tableStart:metaStart]...)
	tableBytes[len(tableBytes)-1] ^= 0xFF

	if _, err := ParseFileTable(tableBytes, footer); !errors.Is(err, ErrBadFileTable) {
		t.Errorf("expected ErrBadFileTable, got %v", err)
	}
}

func TestParseMetaCRCMutation(t *testing.T) {
	blob := buildSample(t)
	footer, _, _ := parseBlob(t, blob)

	metaStart := len(blob) - FooterSize - int(footer.Info.MetaDataSize)
	metaBytes := append([]byte(nil), blob[metaStart:metaStart+int(footer.Info.MetaDataSize)]...)
	metaBytes[0] ^= 0xFF

	if _, err := ParseMeta(metaBytes, footer); !errors.Is(err, ErrBadMeta) {
		t.Errorf("expected ErrBadMeta, got %v", err)
	}
}

func TestParseMetaRejectsCycle(t *testing.T) {
	packs := []PackInfo{
		{Name: "a", Children: []uint32{1}},
		{Name: "b", Children: []uint32{0}},
	}
	metaData, err := MarshalMeta(packs)
	if err != nil {
		t.Fatalf("marshal meta: %v", err)
	}
	footer := Footer{Info: FooterInfo{MetaDataCRC32: crc32.ChecksumIEEE(metaData)}}

	if _, err := ParseMeta(metaData, footer); !errors.Is(err, ErrBadMeta) {
		t.Errorf("expected ErrBadMeta for dependency cycle, got %v", err)
	}
}

func TestBuilderRejectsCycleAtBuildTime(t *testing.T) {
	_, err := NewBuilder().
		AddPack("a", 1).
		AddPack("b", 0).
		Build()
	if !errors.Is(err, ErrBadMeta) {
		t.Errorf("expected ErrBadMeta for dependency cycle, got %v", err)
	}
}

func TestFooterIsEmpty(t *testing.T) {
	var f Footer
	if !f.IsEmpty() {
		t.Error("zero-value footer should report IsEmpty")
	}
	blob := buildSample(t)
	footer, err := ParseFooter(blob[len(blob)-FooterSize:])
	if err != nil {
		t.Fatalf("parse footer: %v", err)
	}
	if footer.IsEmpty() {
		t.Error("built footer should not report IsEmpty")
	}
}

func TestSplitNamesExactCount(t *testing.T) {
	blob := bytes.Join([][]byte{[]byte("a"), []byte("b"), []byte("c")}, []byte{0})
	blob = append(blob, 0)
	names := splitNames(blob, 3)
	if len(names) != 3 || names[0] != "a" || names[2] != "c" {
		t.Errorf("unexpected split: %v", names)
	}
}
