package probe

import (
	"bytes"
	"context"
	"errors"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/macrolog/macrolog/internal/cache"
)

func TestOpenAutoPrefersSQLite(t *testing.T) {
	dir := t.TempDir()
	store, name, err := Open(context.Background(), Options{Dir: dir})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	if name != BackendSQLite {
		t.Errorf("backend = %q, want %q", name, BackendSQLite)
	}
	if _, err := os.Stat(filepath.Join(dir, "cache.db")); err != nil {
		t.Errorf("cache.db not created: %v", err)
	}
}

func TestOpenAutoFallsBackToFile(t *testing.T) {
	orig := openSQLite
	openSQLite = func(ctx context.Context, path string) (cache.Backend, error) {
		return nil, cache.Wrap("open database", errors.New("engine not available"))
	}
	defer func() { openSQLite = orig }()

	var buf bytes.Buffer
	dir := t.TempDir()
	store, name, err := Open(context.Background(), Options{
		Backend: BackendAuto,
		Dir:     dir,
		Logger:  log.New(&buf, "", 0),
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	if name != BackendFile {
		t.Errorf("backend = %q, want %q", name, BackendFile)
	}
	if !strings.Contains(buf.String(), "engine not available") {
		t.Errorf("fallback not logged, got %q", buf.String())
	}
}

func TestOpenForcedBackends(t *testing.T) {
	tests := []struct {
		backend string
		wantErr bool
	}{
		{BackendSQLite, false},
		{BackendFile, false},
		{BackendMemory, false},
		{BackendRedis, true}, // no url configured
		{"etcd", true},
	}

	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			store, name, err := Open(context.Background(), Options{Backend: tt.backend, Dir: t.TempDir()})
			if tt.wantErr {
				if err == nil {
					store.Close()
					t.Fatalf("Open(%q) succeeded, want error", tt.backend)
				}
				return
			}
			if err != nil {
				t.Fatalf("Open(%q): %v", tt.backend, err)
			}
			defer store.Close()
			if name != tt.backend {
				t.Errorf("backend = %q, want %q", name, tt.backend)
			}
		})
	}
}
