package superpack

import (
	"bytes"
	"fmt"
	"hash/crc32"
)

// FileSpec is one file to place in a superpack under construction.
type FileSpec struct {
	Name           string
	Body           []byte
	CompressedBody []byte
	Compression    CompressionType
	PackIndex      uint32
}

// Builder assembles a well-formed superpack blob from a set of files and a
// pack catalog. It exists for fixture construction: every codec test that
// needs a real blob, and cmd/dlcpack build, go through a Builder rather
// than hand-assembling byte slices.
type Builder struct {
	files []FileSpec
	packs []PackInfo
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// AddFile stages a file for inclusion. originalBody is the uncompressed
// content (used only to compute OriginalCRC32/OriginalSize); compressedBody
// is the bytes actually written to the superpack's data region, already
// compressed by the caller since the manager never compresses or
// decompresses on the fly.
func (b *Builder) AddFile(name string, originalBody, compressedBody []byte, compression CompressionType, packIndex uint32) *Builder {
	b.files = append(b.files, FileSpec{
		Name:           name,
		Body:           originalBody,
		CompressedBody: compressedBody,
		Compression:    compression,
		PackIndex:      packIndex,
	})
	return b
}

// AddPack stages a pack with its direct dependency children (indices into
// the eventual Meta.Packs slice, assigned in AddPack call order).
func (b *Builder) AddPack(name string, children ...uint32) *Builder {
	b.packs = append(b.packs, PackInfo{Name: name, Children: children})
	return b
}

// Build serializes the staged files and packs into a complete superpack
// blob: concatenated file bodies, then FileTable, then Meta, then Footer.
func (b *Builder) Build() ([]byte, error) {
	if err := detectCycle(b.packs); err != nil {
		return nil, fmt.Errorf("superpack builder: %w: %v", ErrBadMeta, err)
	}

	out := new(bytes.Buffer)

	entries := make([]FileTableEntry, len(b.files))
	names := make([]string, len(b.files))
	for i, f := range b.files {
		start := uint64(out.Len())
		if _, err := out.Write(f.CompressedBody); err != nil {
			return nil, fmt.Errorf("superpack builder: write file %q: %w", f.Name, err)
		}
		entries[i] = FileTableEntry{
			OriginalCRC32:   crc32.ChecksumIEEE(f.Body),
			OriginalSize:    uint32(len(f.Body)),
			StartPosition:   start,
			CompressedSize:  uint32(len(f.CompressedBody)),
			CompressedCRC32: crc32.ChecksumIEEE(f.CompressedBody),
			Compression:     f.Compression,
			MetaIndex:       f.PackIndex,
		}
		names[i] = f.Name
	}

	fileTable, err := MarshalFileTable(entries, names)
	if err != nil {
		return nil, fmt.Errorf("superpack builder: %w", err)
	}
	if _, err := out.Write(fileTable); err != nil {
		return nil, fmt.Errorf("superpack builder: write file table: %w", err)
	}

	metaData, err := MarshalMeta(b.packs)
	if err != nil {
		return nil, fmt.Errorf("superpack builder: %w", err)
	}
	if _, err := out.Write(metaData); err != nil {
		return nil, fmt.Errorf("superpack builder: write meta: %w", err)
	}

	footer := Footer{
		Marker: Marker,
		Info: FooterInfo{
			FilesTableSize:        uint32(len(fileTable)),
			FilesTableCRC32:       crc32.ChecksumIEEE(fileTable),
			MetaDataSize:          uint32(len(metaData)),
			MetaDataCRC32:         crc32.ChecksumIEEE(metaData),
			FilesTableCompression: CompressionNone,
		},
	}
	footerBytes, err := footer.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("superpack builder: %w", err)
	}
	if _, err := out.Write(footerBytes); err != nil {
		return nil, fmt.Errorf("superpack builder: write footer: %w", err)
	}

	return out.Bytes(), nil
}
