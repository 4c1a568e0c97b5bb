package dlcdownload

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func testServer(t *testing.T, body []byte) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", strconv.Itoa(len(body)))
			w.WriteHeader(http.StatusOK)
			return
		}
		http.ServeContent(w, r, "object", time.Time{}, bytes.NewReader(body))
	}))
}

func TestContentSize(t *testing.T) {
	body := []byte("hello content world")
	srv := testServer(t, body)
	defer srv.Close()

	d := New()
	size, err := d.ContentSize(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("ContentSize: %v", err)
	}
	if size != int64(len(body)) {
		t.Errorf("size = %d, want %d", size, len(body))
	}
}

type memSink struct {
	mu  chan struct{}
	buf []byte
}

func newMemSink(size int) *memSink {
	return &memSink{buf: make([]byte, size)}
}

func (s *memSink) WriteAt(p []byte, off int64) (int, error) {
	copy(s.buf[off:], p)
	return len(p), nil
}

func TestStartDownloadsFullBody(t *testing.T) {
	body := []byte("the quick brown fox jumps over the lazy dog")
	srv := testServer(t, body)
	defer srv.Close()

	d := New()
	sink := newMemSink(len(body))
	id, err := d.Start(context.Background(), srv.URL, 0, int64(len(body)), sink)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitDone(t, d, id)

	status, err := d.TaskStatus(id)
	if err != nil {
		t.Fatalf("TaskStatus: %v", err)
	}
	if status.Err != nil {
		t.Fatalf("task failed: %v", status.Err)
	}
	if !bytes.Equal(sink.buf, body) {
		t.Errorf("downloaded = %q, want %q", sink.buf, body)
	}
}

func TestWithChunkBufSizeStillDownloadsFullBody(t *testing.T) {
	body := bytes.Repeat([]byte("abcdefgh"), 1000) // larger than a tiny chunk size
	srv := testServer(t, body)
	defer srv.Close()

	d := New(WithChunkBufSize(7)) // deliberately smaller than any single write
	sink := newMemSink(len(body))
	id, err := d.Start(context.Background(), srv.URL, 0, int64(len(body)), sink)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, d, id)

	status, err := d.TaskStatus(id)
	if err != nil {
		t.Fatalf("TaskStatus: %v", err)
	}
	if status.Err != nil {
		t.Fatalf("task failed: %v", status.Err)
	}
	if !bytes.Equal(sink.buf, body) {
		t.Errorf("downloaded body did not match with a small chunk buffer size")
	}
}

func TestRemoveTaskCancelsAndForgets(t *testing.T) {
	body := bytes.Repeat([]byte("x"), 1<<20)
	srv := testServer(t, body)
	defer srv.Close()

	d := New()
	sink := newMemSink(len(body))
	id, err := d.Start(context.Background(), srv.URL, 0, int64(len(body)), sink)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := d.RemoveTask(id); err != nil {
		t.Fatalf("RemoveTask: %v", err)
	}
	if _, err := d.TaskStatus(id); err != ErrTaskNotFound {
		t.Errorf("TaskStatus after remove = %v, want ErrTaskNotFound", err)
	}
	if err := d.RemoveTask(id); err != ErrTaskNotFound {
		t.Errorf("RemoveTask twice = %v, want ErrTaskNotFound", err)
	}
}

func waitDone(t *testing.T, d *HTTPDownloader, id TaskID) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		status, err := d.TaskStatus(id)
		if err != nil {
			t.Fatalf("TaskStatus: %v", err)
		}
		if status.Done {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for task to finish")
}
