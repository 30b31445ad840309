package migrate

import (
	"io"
	"io/fs"
	"log/slog"
	"strings"
	"testing"
)

func TestNewRequiresDSN(t *testing.T) {
	if _, err := New("", "", nil); err == nil {
		t.Fatalf("expected error for empty dsn")
	}
}

func TestNewFallsBackToEmbeddedMigrations(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	r, err := New("postgres://localhost/bugradar", "/does/not/exist", log)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if r.src != "embedded" {
		t.Fatalf("expected embedded source, got %q", r.src)
	}
	names, err := fs.Glob(r.fsys, "*.sql")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(names) == 0 {
		t.Fatalf("expected embedded migrations")
	}
	for _, name := range names {
		body, err := fs.ReadFile(r.fsys, name)
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		if !strings.Contains(string(body), "-- +goose Up") || !strings.Contains(string(body), "-- +goose Down") {
			t.Fatalf("%s lacks goose annotations", name)
		}
	}
}

func TestNewUsesDirectoryWhenPresent(t *testing.T) {
	dir := t.TempDir()
	r, err := New("postgres://localhost/bugradar", dir, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if r.src != dir {
		t.Fatalf("expected %s, got %s", dir, r.src)
	}
}
