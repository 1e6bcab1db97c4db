package session_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/bdobrica/glum/internal/glum/session"
	"github.com/bdobrica/glum/internal/glum/store"
)

func backends(t *testing.T) map[string]session.Backend {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "glum.db"), nil)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	return map[string]session.Backend{
		"file":   session.NewFileBackend(filepath.Join(t.TempDir(), "state", "session.json")),
		"sqlite": session.NewSQLiteBackend(s.DB()),
	}
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := session.New(backend, nil)
			if err := s.Load(ctx); err != nil {
				t.Fatalf("Load on empty backend: %v", err)
			}
			s.Set(session.KeyNextBatch, "s72594_4483_1934")
			s.Set(session.KeyFilterID, "3")
			s.Set("stale", "x")
			if err := s.Save(ctx); err != nil {
				t.Fatalf("Save: %v", err)
			}
			s.Delete("stale")
			s.Set(session.KeyNextBatch, "s72595_4483_1934")
			if err := s.Save(ctx); err != nil {
				t.Fatalf("Save: %v", err)
			}

			reloaded := session.New(backend, nil)
			if err := reloaded.Load(ctx); err != nil {
				t.Fatalf("Load: %v", err)
			}
			want := []string{session.KeyFilterID, session.KeyNextBatch}
			if diff := cmp.Diff(want, reloaded.Keys()); diff != "" {
				t.Errorf("keys (-want +got):\n%s", diff)
			}
			if v, _ := reloaded.Get(session.KeyNextBatch); v != "s72595_4483_1934" {
				t.Errorf("next batch = %q", v)
			}
		})
	}
}

func TestCorruptFileIsAnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	s := session.New(session.NewFileBackend(path), nil)
	if err := s.Load(context.Background()); err == nil {
		t.Fatal("expected error for corrupt session file")
	}
}

type countingBackend struct {
	saves int
	fail  error
}

func (b *countingBackend) Load(context.Context) (map[string]string, error) { return nil, nil }

func (b *countingBackend) Save(context.Context, map[string]string) error {
	b.saves++
	return b.fail
}

func TestSaveSkipsUnchanged(t *testing.T) {
	ctx := context.Background()
	b := &countingBackend{}
	s := session.New(b, nil)
	if err := s.Load(ctx); err != nil {
		t.Fatal(err)
	}

	s.Save(ctx)
	s.Set("k", "v")
	s.Save(ctx)
	s.Set("k", "v")
	s.Save(ctx)
	if b.saves != 1 {
		t.Errorf("saves = %d, want 1", b.saves)
	}
}

func TestFailedSaveIsRetried(t *testing.T) {
	ctx := context.Background()
	b := &countingBackend{fail: errors.New("disk full")}
	s := session.New(b, nil)
	s.Set("k", "v")

	if err := s.Save(ctx); err == nil {
		t.Fatal("expected save error")
	}
	b.fail = nil
	if err := s.Save(ctx); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if b.saves != 2 {
		t.Errorf("saves = %d, want 2", b.saves)
	}
}
