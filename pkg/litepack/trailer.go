// Package litepack implements the on-disk "LitePack" artifact format: a
// compressed file body followed by a fixed-size trailer describing it.
// Every pack file the manager downloads is stored on disk in this shape,
// suffixed ".dvpl".
package litepack

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
)

// Ext is the on-disk suffix used for LitePack artifacts.
const Ext = ".dvpl"

// TrailerSize is the binary size in bytes of Trailer.
const TrailerSize = 16

// Trailer is the 16-byte footer appended after a compressed file body.
// All fields are little-endian, matching the rest of the superpack format.
type Trailer struct {
	SizeCompressed  uint32
	CRC32Compressed uint32
	Type            uint32
	Padding         uint32
}

// MarshalBinary encodes the trailer to its 16-byte wire form.
func (t Trailer) MarshalBinary() ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Grow(TrailerSize)
	if err := binary.Write(buf, binary.LittleEndian, t); err != nil {
		return nil, fmt.Errorf("marshal litepack trailer: %w", err)
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes a trailer from its 16-byte wire form.
func (t *Trailer) UnmarshalBinary(data []byte) error {
	if len(data) != TrailerSize {
		return fmt.Errorf("unmarshal litepack trailer: want %d bytes, got %d", TrailerSize, len(data))
	}
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, t); err != nil {
		return fmt.Errorf("unmarshal litepack trailer: %w", err)
	}
	return nil
}

// Validate checks that the trailer matches the expected CRC-32 and
// compressed size recorded in the server's file table (invariant 3, §3).
func (t Trailer) Validate(wantCRC32, wantSize uint32) error {
	if t.CRC32Compressed != wantCRC32 {
		return fmt.Errorf("litepack trailer: crc32 mismatch: got %08x want %08x", t.CRC32Compressed, wantCRC32)
	}
	if t.SizeCompressed != wantSize {
		return fmt.Errorf("litepack trailer: size mismatch: got %d want %d", t.SizeCompressed, wantSize)
	}
	return nil
}

// ReadTrailer reads and decodes the trailer from the end of an artifact.
// fileSize is the total size of the artifact on disk; the trailer occupies
// its final TrailerSize bytes.
func ReadTrailer(r io.ReaderAt, fileSize int64) (Trailer, error) {
	var t Trailer
	if fileSize < TrailerSize {
		return t, fmt.Errorf("read litepack trailer: file too small (%d bytes)", fileSize)
	}
	buf := make([]byte, TrailerSize)
	if _, err := r.ReadAt(buf, fileSize-TrailerSize); err != nil {
		return t, fmt.Errorf("read litepack trailer: %w", err)
	}
	if err := t.UnmarshalBinary(buf); err != nil {
		return t, err
	}
	return t, nil
}

// WriteArtifact writes a complete LitePack artifact (compressed body plus
// trailer) to w. The trailer's CRC32Compressed is computed here as the
// IEEE CRC-32 of body, matching the rest of the superpack format, and
// fileType is stored in its Type field.
func WriteArtifact(w io.Writer, body []byte, fileType uint32) error {
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("write litepack body: %w", err)
	}
	trailer := Trailer{
		SizeCompressed:  uint32(len(body)),
		CRC32Compressed: crc32.ChecksumIEEE(body),
		Type:            fileType,
	}
	trailerBytes, err := trailer.MarshalBinary()
	if err != nil {
		return err
	}
	if _, err := w.Write(trailerBytes); err != nil {
		return fmt.Errorf("write litepack trailer: %w", err)
	}
	return nil
}

// CRC32 computes the standard IEEE CRC-32 used to authenticate every
// section of the superpack format and every LitePack body.
func CRC32(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}
