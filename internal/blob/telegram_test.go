package blob

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"log/slog"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := New("test-token", "chat-1", slog.New(slog.NewJSONHandler(io.Discard, nil)))
	c.baseURL = srv.URL
	return c
}

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestClient_Enabled(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	if New("", "", logger).Enabled() {
		t.Fatal("client without credentials reports enabled")
	}
	if New("tok", "", logger).Enabled() {
		t.Fatal("client without chat id reports enabled")
	}
	if !New("tok", "chat", logger).Enabled() {
		t.Fatal("configured client reports disabled")
	}
	var nilClient *Client
	if nilClient.Enabled() {
		t.Fatal("nil client reports enabled")
	}
}

func TestUpload_Photo(t *testing.T) {
	var gotChatID, gotField string
	mux := http.NewServeMux()
	mux.HandleFunc("/bottest-token/sendPhoto", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm() error = %v", err)
		}
		gotChatID = r.FormValue("chat_id")
		if _, _, err := r.FormFile("photo"); err == nil {
			gotField = "photo"
		}
		io.WriteString(w, `{"ok":true,"result":{"photo":[{"file_id":"small"},{"file_id":"big"}]}}`)
	})
	mux.HandleFunc("/bottest-token/getFile", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("file_id") != "big" {
			t.Errorf("getFile file_id = %q, want big", r.URL.Query().Get("file_id"))
		}
		io.WriteString(w, `{"ok":true,"result":{"file_id":"big","file_path":"photos/big.jpg"}}`)
	})

	c := newTestClient(t, mux)
	path := writeTempFile(t, "pic.jpg", "jpeg-bytes")

	fileID, fileURL, err := c.Upload(context.Background(), path, "image")
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if fileID != "big" {
		t.Fatalf("fileID = %q, want the largest photo variant", fileID)
	}
	if !strings.HasSuffix(fileURL, "/file/bottest-token/photos/big.jpg") {
		t.Fatalf("fileURL = %q, want download path suffix", fileURL)
	}
	if gotChatID != "chat-1" {
		t.Fatalf("chat_id = %q, want chat-1", gotChatID)
	}
	if gotField != "photo" {
		t.Fatal("image upload did not use the photo field")
	}
}

func TestUpload_DocumentFallbackForUnknownKind(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/bottest-token/sendDocument", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"ok":true,"result":{"document":{"file_id":"doc-1"}}}`)
	})
	mux.HandleFunc("/bottest-token/getFile", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"ok":true,"result":{"file_id":"doc-1","file_path":"documents/doc-1.bin"}}`)
	})

	c := newTestClient(t, mux)
	path := writeTempFile(t, "notes.bin", "data")

	fileID, _, err := c.Upload(context.Background(), path, "audio")
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if fileID != "doc-1" {
		t.Fatalf("fileID = %q, want doc-1", fileID)
	}
}

func TestUpload_APIError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"ok":false,"description":"chat not found"}`)
	}))
	path := writeTempFile(t, "pic.jpg", "jpeg-bytes")

	if _, _, err := c.Upload(context.Background(), path, "image"); err == nil || !strings.Contains(err.Error(), "chat not found") {
		t.Fatalf("Upload() error = %v, want api description surfaced", err)
	}
}

func TestUpload_Disabled(t *testing.T) {
	c := New("", "", slog.New(slog.NewJSONHandler(io.Discard, nil)))
	if _, _, err := c.Upload(context.Background(), "whatever", "image"); err == nil {
		t.Fatal("disabled client accepted an upload")
	}
}
