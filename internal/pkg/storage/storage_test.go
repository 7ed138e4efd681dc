package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/aws/smithy-go"
)

type memoryBackend struct {
	mu       sync.Mutex
	objects  map[string][]byte
	failKey  string
	failPuts bool
	failData string
	deleted  []string
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{objects: map[string][]byte{}}
}

func (m *memoryBackend) Put(_ context.Context, key string, data []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPuts || (m.failData != "" && string(data) == m.failData) {
		return errors.New("bucket unavailable")
	}
	m.objects[key] = data
	return nil
}

func (m *memoryBackend) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if key == m.failKey {
		return errors.New("access denied")
	}
	m.deleted = append(m.deleted, key)
	delete(m.objects, key)
	return nil
}

func (m *memoryBackend) URL(key string) string { return "https://cdn.test/" + key }

func (m *memoryBackend) KeyFromURL(rawURL string) (string, bool) {
	return trimBase("https://cdn.test", rawURL)
}

func TestUploadFilesPreservesOrder(t *testing.T) {
	backend := newMemoryBackend()
	store := NewBlobStore(backend, 2)

	payloads := []Payload{
		{Data: []byte("first"), ContentType: "image/jpeg", Ext: ".jpg"},
		{Data: []byte("second"), ContentType: "image/png", Ext: "png"},
		{Data: []byte("third"), ContentType: "image/jpeg", Ext: ".jpg"},
	}
	urls, err := store.UploadFiles(context.Background(), payloads, "/album/7/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(urls) != 3 {
		t.Fatalf("expected 3 urls, got %d", len(urls))
	}

	for i, u := range urls {
		key, ok := backend.KeyFromURL(u)
		if !ok {
			t.Fatalf("url %q not issued by backend", u)
		}
		if !strings.HasPrefix(key, "album/7/") {
			t.Fatalf("expected key under album/7/, got %q", key)
		}
		if string(backend.objects[key]) != string(payloads[i].Data) {
			t.Fatalf("url %d points at wrong payload", i)
		}
	}
	if !strings.HasSuffix(urls[1], ".png") {
		t.Fatalf("expected .png extension, got %q", urls[1])
	}
}

func TestUploadFilesFailure(t *testing.T) {
	backend := newMemoryBackend()
	backend.failPuts = true

	_, err := NewBlobStore(backend, 0).UploadFiles(context.Background(), []Payload{{Data: []byte("x")}}, "p")
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestUploadFilesReturnsStoredURLsOnFailure(t *testing.T) {
	backend := newMemoryBackend()
	backend.failData = "second"
	store := NewBlobStore(backend, 1)

	payloads := []Payload{
		{Data: []byte("first"), Ext: ".jpg"},
		{Data: []byte("second"), Ext: ".jpg"},
		{Data: []byte("third"), Ext: ".jpg"},
	}
	urls, err := store.UploadFiles(context.Background(), payloads, "album/7")
	if err == nil {
		t.Fatal("expected error")
	}
	if len(urls) == 0 || len(urls) != len(backend.objects) {
		t.Fatalf("expected every stored object to be reported, got %v for %d objects", urls, len(backend.objects))
	}
	for _, u := range urls {
		key, ok := backend.KeyFromURL(u)
		if !ok {
			t.Fatalf("url %q not issued by backend", u)
		}
		if _, ok := backend.objects[key]; !ok {
			t.Fatalf("url %q reported but not stored", u)
		}
	}
	if string(backend.objects[mustKey(t, backend, urls[0])]) != "first" {
		t.Fatalf("expected the first payload to be stored, got %v", urls)
	}
}

func mustKey(t *testing.T, b *memoryBackend, u string) string {
	t.Helper()
	key, ok := b.KeyFromURL(u)
	if !ok {
		t.Fatalf("url %q not issued by backend", u)
	}
	return key
}

func TestDeleteFilesAttemptsEveryURL(t *testing.T) {
	backend := newMemoryBackend()
	backend.failKey = "a/2.jpg"
	store := NewBlobStore(backend, 1)

	err := store.DeleteFiles(context.Background(), []string{
		"https://cdn.test/a/1.jpg",
		"https://cdn.test/a/2.jpg",
		"https://elsewhere.test/a/3.jpg",
		"https://cdn.test/a/4.jpg",
	})
	if err == nil || !strings.Contains(err.Error(), "a/2.jpg") {
		t.Fatalf("expected joined error for a/2.jpg, got %v", err)
	}
	if len(backend.deleted) != 2 || backend.deleted[0] != "a/1.jpg" || backend.deleted[1] != "a/4.jpg" {
		t.Fatalf("unexpected deletions: %v", backend.deleted)
	}
}

func TestLocalStorageRoundTrip(t *testing.T) {
	dir := t.TempDir()
	local, err := NewLocalStorage(dir, "http://localhost:8080/uploads/")
	if err != nil {
		t.Fatalf("new local storage: %v", err)
	}

	store := NewBlobStore(local, 1)
	urls, err := store.UploadFiles(context.Background(), []Payload{{Data: []byte("img"), Ext: ".jpg"}}, "album/3")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	key, ok := local.KeyFromURL(urls[0])
	if !ok {
		t.Fatalf("url %q not recognised", urls[0])
	}
	if _, err := os.Stat(filepath.Join(dir, key)); err != nil {
		t.Fatalf("expected file on disk: %v", err)
	}

	if err := store.DeleteFiles(context.Background(), urls); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, key)); !os.IsNotExist(err) {
		t.Fatalf("expected file removed, got %v", err)
	}
	// Deleting twice is not an error.
	if err := store.DeleteFiles(context.Background(), urls); err != nil {
		t.Fatalf("second delete: %v", err)
	}
}

func TestKeyFromURLRejectsTraversal(t *testing.T) {
	if _, ok := trimBase("https://cdn.test", "https://cdn.test/../etc/passwd"); ok {
		t.Fatal("expected traversal to be rejected")
	}
	if _, ok := trimBase("https://cdn.test", "https://cdn.test.evil/a.jpg"); ok {
		t.Fatal("expected foreign host to be rejected")
	}
}

func TestIsNotFound(t *testing.T) {
	if !isNotFound(&smithy.GenericAPIError{Code: "NoSuchKey"}) {
		t.Fatal("expected NoSuchKey to count as not found")
	}
	if isNotFound(&smithy.GenericAPIError{Code: "AccessDenied"}) {
		t.Fatal("AccessDenied must not count as not found")
	}
	if isNotFound(errors.New("boom")) {
		t.Fatal("plain errors must not count as not found")
	}
}

func TestPublicBaseURL(t *testing.T) {
	cases := []struct {
		cfg  S3Config
		want string
	}{
		{S3Config{Bucket: "b", PublicURL: "https://cdn.example.com/"}, "https://cdn.example.com"},
		{S3Config{Bucket: "b", Endpoint: "http://minio:9000"}, "http://minio:9000/b"},
		{S3Config{Bucket: "b"}, "https://b.s3.amazonaws.com"},
	}
	for _, c := range cases {
		if got := publicBaseURL(c.cfg); got != c.want {
			t.Errorf("publicBaseURL(%+v) = %q, want %q", c.cfg, got, c.want)
		}
	}
}

func TestValidatePhoto(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n0000")
	if mime, err := ValidatePhoto(png, 1024); err != nil || mime != "image/png" {
		t.Fatalf("expected image/png, got %q, %v", mime, err)
	}
	if _, err := ValidatePhoto(nil, 1024); !errors.Is(err, ErrEmptyFile) {
		t.Fatalf("expected ErrEmptyFile, got %v", err)
	}
	if _, err := ValidatePhoto(png, 4); !errors.Is(err, ErrFileTooLarge) {
		t.Fatalf("expected ErrFileTooLarge, got %v", err)
	}
	if _, err := ValidatePhoto([]byte("plain text"), 1024); !errors.Is(err, ErrInvalidMimeType) {
		t.Fatalf("expected ErrInvalidMimeType, got %v", err)
	}
}
