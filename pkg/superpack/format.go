// Package superpack implements the append-structured "superpack" container
// format: a remote blob holding concatenated file bodies followed by a
// FileTable, a Meta section, and a fixed-size Footer. All three trailing
// sections are individually authenticated with IEEE CRC-32, matching the
// on-disk codec conventions of pkg/litepack.
package superpack

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
)

// Sentinel errors identifying which section of the format failed to parse,
// so callers (the init state machine) can uniformly translate any of them
// into the Offline/degrade branch without caring which section misbehaved.
var (
	ErrBadFooter    = errors.New("superpack: bad footer")
	ErrBadFileTable = errors.New("superpack: bad file table")
	ErrBadMeta      = errors.New("superpack: bad meta")

	// ErrMetaCycle additionally marks a ErrBadMeta caused by a dependency
	// cycle rather than a CRC mismatch. Unlike a CRC mismatch, which a
	// retry against the same URL can plausibly route around (transient
	// corruption in transit), a cycle is baked into the declared data and
	// every retry will reproduce it identically, so callers treat it as
	// terminal instead of degrading and retrying.
	ErrMetaCycle = errors.New("superpack: dependency cycle in meta")
)

// Marker identifies the start of a Footer's fixed region.
var Marker = [4]byte{'P', 'A', 'C', 'K'}

// CompressionType identifies how a file body or the file table itself was
// compressed before being appended to the superpack.
type CompressionType uint32

const (
	CompressionNone CompressionType = iota
	CompressionLZ4
	CompressionLZ4HC
	CompressionZstd
)

// FooterInfo is the CRC-authenticated payload of a Footer.
type FooterInfo struct {
	FilesTableSize        uint32
	FilesTableCRC32       uint32
	MetaDataSize          uint32
	MetaDataCRC32         uint32
	FilesTableCompression CompressionType
}

// FooterInfoSize is the binary size in bytes of FooterInfo.
const FooterInfoSize = 20

// Footer is the fixed-size trailer at the very end of a superpack blob.
type Footer struct {
	Marker    [4]byte
	Info      FooterInfo
	InfoCRC32 uint32
}

// FooterSize is the binary size in bytes of Footer.
const FooterSize = 4 + FooterInfoSize + 4

// MarshalBinary encodes the footer to its wire form, recomputing InfoCRC32.
func (f *Footer) MarshalBinary() ([]byte, error) {
	infoBuf := new(bytes.Buffer)
	if err := binary.Write(infoBuf, binary.LittleEndian, f.Info); err != nil {
		return nil, fmt.Errorf("marshal footer info: %w", err)
	}
	f.InfoCRC32 = crc32.ChecksumIEEE(infoBuf.Bytes())

	buf := new(bytes.Buffer)
	buf.Grow(FooterSize)
	buf.Write(f.Marker[:])
	buf.Write(infoBuf.Bytes())
	if err := binary.Write(buf, binary.LittleEndian, f.InfoCRC32); err != nil {
		return nil, fmt.Errorf("marshal footer: %w", err)
	}
	return buf.Bytes(), nil
}

// ParseFooter decodes and validates a Footer from its fixed-size wire form.
// The only validation C1 performs here is info_crc32; the marker is not
// compared against Marker.
func ParseFooter(buf []byte) (Footer, error) {
	var f Footer
	if len(buf) != FooterSize {
		return f, fmt.Errorf("%w: want %d bytes, got %d", ErrBadFooter, FooterSize, len(buf))
	}

	r := bytes.NewReader(buf)
	if _, err := r.Read(f.Marker[:]); err != nil {
		return f, fmt.Errorf("%w: read marker: %v", ErrBadFooter, err)
	}
	infoStart := 4
	infoBytes := buf[infoStart : infoStart+FooterInfoSize]
	if err := binary.Read(bytes.NewReader(infoBytes), binary.LittleEndian, &f.Info); err != nil {
		return f, fmt.Errorf("%w: read info: %v", ErrBadFooter, err)
	}
	if err := binary.Read(bytes.NewReader(buf[infoStart+FooterInfoSize:]), binary.LittleEndian, &f.InfoCRC32); err != nil {
		return f, fmt.Errorf("%w: read crc: %v", ErrBadFooter, err)
	}

	gotCRC := crc32.ChecksumIEEE(infoBytes)
	if gotCRC != f.InfoCRC32 {
		return f, fmt.Errorf("%w: info_crc32 mismatch: got %08x want %08x", ErrBadFooter, gotCRC, f.InfoCRC32)
	}
	return f, nil
}

// IsEmpty reports whether the footer carries no remote data yet (all-zero
// marker, as in a zero-value Footer).
func (f Footer) IsEmpty() bool {
	return f.Marker == [4]byte{}
}

// FileTableEntrySize is the binary size in bytes of a single FileTableEntry.
const FileTableEntrySize = 4 + 4 + 8 + 4 + 4 + 4 + 4

// FileTableEntry describes one file stored in the superpack.
type FileTableEntry struct {
	OriginalCRC32   uint32
	OriginalSize    uint32
	StartPosition   uint64
	CompressedSize  uint32
	CompressedCRC32 uint32
	Compression     CompressionType
	MetaIndex       uint32
}

// FileTable is the parsed file directory: entries plus their relative
// names, in matching order.
type FileTable struct {
	Entries []FileTableEntry
	Names   []string
}

// MarshalFileTable encodes entries and their relative names (in the same
// order) into the wire form authenticated by FooterInfo.FilesTableCRC32.
// A leading entry count makes the encoding self-delimiting; everything
// after the fixed-size entry array is a '\0'-separated name blob.
func MarshalFileTable(entries []FileTableEntry, names []string) ([]byte, error) {
	if len(entries) != len(names) {
		return nil, fmt.Errorf("marshal file table: %d entries but %d names", len(entries), len(names))
	}

	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, uint32(len(entries))); err != nil {
		return nil, fmt.Errorf("marshal file table: write count: %w", err)
	}
	for i, e := range entries {
		if err := binary.Write(buf, binary.LittleEndian, e); err != nil {
			return nil, fmt.Errorf("marshal file table: write entry %d: %w", i, err)
		}
	}
	for _, name := range names {
		buf.WriteString(name)
		buf.WriteByte(0)
	}
	return buf.Bytes(), nil
}

// ParseFileTable decodes and validates a FileTable given the parent footer.
func ParseFileTable(buf []byte, footer Footer) (FileTable, error) {
	var table FileTable

	gotCRC := crc32.ChecksumIEEE(buf)
	if gotCRC != footer.Info.FilesTableCRC32 {
		return table, fmt.Errorf("%w: files_table_crc32 mismatch: got %08x want %08x", ErrBadFileTable, gotCRC, footer.Info.FilesTableCRC32)
	}

	r := bytes.NewReader(buf)
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return table, fmt.Errorf("%w: read count: %v", ErrBadFileTable, err)
	}

	entries := make([]FileTableEntry, count)
	if err := binary.Read(r, binary.LittleEndian, &entries); err != nil {
		return table, fmt.Errorf("%w: read entries: %v", ErrBadFileTable, err)
	}

	namesBlobStart := len(buf) - r.Len()
	namesBlob := buf[namesBlobStart:]
	names := splitNames(namesBlob, int(count))
	if len(names) != int(count) {
		return table, fmt.Errorf("%w: expected %d names, found %d", ErrBadFileTable, count, len(names))
	}

	table.Entries = entries
	table.Names = names
	return table, nil
}

func splitNames(blob []byte, want int) []string {
	names := make([]string, 0, want)
	start := 0
	for i, b := range blob {
		if b == 0 {
			names = append(names, string(blob[start:i]))
			start = i + 1
			if len(names) == want {
				break
			}
		}
	}
	return names
}

// PackInfo describes one logical pack: its name and the indices of packs it
// directly depends on (children in the dependency DAG, §3).
type PackInfo struct {
	Name     string
	Children []uint32
}

// Meta is the parsed packs catalog.
type Meta struct {
	Packs []PackInfo
}

// MarshalMeta encodes the packs catalog into the wire form authenticated by
// FooterInfo.MetaDataCRC32.
func MarshalMeta(packs []PackInfo) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, uint32(len(packs))); err != nil {
		return nil, fmt.Errorf("marshal meta: write count: %w", err)
	}
	for _, p := range packs {
		if err := binary.Write(buf, binary.LittleEndian, uint32(len(p.Name))); err != nil {
			return nil, fmt.Errorf("marshal meta: write name len: %w", err)
		}
		buf.WriteString(p.Name)
		if err := binary.Write(buf, binary.LittleEndian, uint32(len(p.Children))); err != nil {
			return nil, fmt.Errorf("marshal meta: write children count: %w", err)
		}
		if err := binary.Write(buf, binary.LittleEndian, p.Children); err != nil {
			return nil, fmt.Errorf("marshal meta: write children: %w", err)
		}
	}
	return buf.Bytes(), nil
}

// ParseMeta decodes and validates a Meta given the parent footer, and
// rejects dependency cycles at load time (invariant 4, §3).
func ParseMeta(buf []byte, footer Footer) (Meta, error) {
	var meta Meta

	gotCRC := crc32.ChecksumIEEE(buf)
	if gotCRC != footer.Info.MetaDataCRC32 {
		return meta, fmt.Errorf("%w: meta_data_crc32 mismatch: got %08x want %08x", ErrBadMeta, gotCRC, footer.Info.MetaDataCRC32)
	}

	r := bytes.NewReader(buf)
	var packCount uint32
	if err := binary.Read(r, binary.LittleEndian, &packCount); err != nil {
		return meta, fmt.Errorf("%w: read pack count: %v", ErrBadMeta, err)
	}

	packs := make([]PackInfo, packCount)
	for i := range packs {
		var nameLen uint32
		if err := binary.Read(r, binary.LittleEndian, &nameLen); err != nil {
			return meta, fmt.Errorf("%w: read name len for pack %d: %v", ErrBadMeta, i, err)
		}
		nameBuf := make([]byte, nameLen)
		if _, err := r.Read(nameBuf); err != nil {
			return meta, fmt.Errorf("%w: read name for pack %d: %v", ErrBadMeta, i, err)
		}

		var childCount uint32
		if err := binary.Read(r, binary.LittleEndian, &childCount); err != nil {
			return meta, fmt.Errorf("%w: read children count for pack %d: %v", ErrBadMeta, i, err)
		}
		children := make([]uint32, childCount)
		if err := binary.Read(r, binary.LittleEndian, &children); err != nil {
			return meta, fmt.Errorf("%w: read children for pack %d: %v", ErrBadMeta, i, err)
		}

		packs[i] = PackInfo{Name: string(nameBuf), Children: children}
	}

	if err := detectCycle(packs); err != nil {
		return meta, fmt.Errorf("%w: %w: %v", ErrBadMeta, ErrMetaCycle, err)
	}

	meta.Packs = packs
	return meta, nil
}

// detectCycle runs a standard three-color DFS over the dependency DAG and
// fails closed on the first back-edge found.
func detectCycle(packs []PackInfo) error {
	const (
		white = iota
		gray
		black
	)
	color := make([]int, len(packs))

	var visit func(i uint32) error
	visit = func(i uint32) error {
		if int(i) >= len(packs) {
			return fmt.Errorf("dependency index %d out of range", i)
		}
		switch color[i] {
		case black:
			return nil
		case gray:
			return fmt.Errorf("dependency cycle detected at pack %q", packs[i].Name)
		}
		color[i] = gray
		for _, child := range packs[i].Children {
			if err := visit(child); err != nil {
				return err
			}
		}
		color[i] = black
		return nil
	}

	for i := range packs {
		if color[i] == white {
			if err := visit(uint32(i)); err != nil {
				return err
			}
		}
	}
	return nil
}
