package litepack

import (
	"bytes"
	"testing"
)

func TestTrailerMarshalRoundTrip(t *testing.T) {
	original := Trailer{
		SizeCompressed:  1024,
		CRC32Compressed: 0xdeadbeef,
		Type:            1,
		Padding:         0,
	}

	data, err := original.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if len(data) != TrailerSize {
		t.Fatalf("marshaled size = %d, want %d", len(data), TrailerSize)
	}

	var decoded Trailer
	if err := decoded.UnmarshalBinary(data); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded != original {
		t.Errorf("mismatch: got %+v, want %+v", decoded, original)
	}
}

func TestTrailerUnmarshalWrongSize(t *testing.T) {
	var tr Trailer
	if err := tr.UnmarshalBinary(make([]byte, TrailerSize-1)); err == nil {
		t.Error("expected error for short buffer")
	}
}

func TestTrailerValidate(t *testing.T) {
	tr := Trailer{SizeCompressed: 100, CRC32Compressed: 42}

	t.Run("match", func(t *testing.T) {
		if err := tr.Validate(42, 100); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
	t.Run("bad crc", func(t *testing.T) {
		if err := tr.Validate(43, 100); err == nil {
			t.Error("expected crc mismatch error")
		}
	})
	t.Run("bad size", func(t *testing.T) {
		if err := tr.Validate(42, 101); err == nil {
			t.Error("expected size mismatch error")
		}
	})
}

func TestReadTrailer(t *testing.T) {
	body := []byte("compressed file body bytes")
	buf := new(bytes.Buffer)
	if err := WriteArtifact(buf, body, 3); err != nil {
		t.Fatalf("write artifact: %v", err)
	}

	r := bytes.NewReader(buf.Bytes())
	tr, err := ReadTrailer(r, int64(r.Len()))
	if err != nil {
		t.Fatalf("read trailer: %v", err)
	}
	if err := tr.Validate(CRC32(body), uint32(len(body))); err != nil {
		t.Errorf("trailer did not validate against written body: %v", err)
	}
	if tr.Type != 3 {
		t.Errorf("type = %d, want 3", tr.Type)
	}
}

func TestReadTrailerTooSmall(t *testing.T) {
	r := bytes.NewReader(make([]byte, 4))
	if _, err := ReadTrailer(r, 4); err == nil {
		t.Error("expected error for file smaller than trailer")
	}
}
