package settings

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/flock"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "settings.json"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_CurrentCartRoundTrip(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	got, err := s.CurrentCart(ctx, "/users/u1/")
	if err != nil || got != "" {
		t.Fatalf("CurrentCart() on empty file = (%q, %v)", got, err)
	}

	if err := s.SetCurrentCart(ctx, "/users/u1/", "/carts/c1/"); err != nil {
		t.Fatalf("SetCurrentCart() error = %v", err)
	}
	if got, _ := s.CurrentCart(ctx, "/users/u1/"); got != "/carts/c1/" {
		t.Errorf("CurrentCart() = %q, want /carts/c1/", got)
	}
	if got, _ := s.CurrentCart(ctx, "/users/u2/"); got != "" {
		t.Errorf("other user CurrentCart() = %q, want empty", got)
	}

	if err := s.ClearCurrentCart(ctx, "/users/u1/"); err != nil {
		t.Fatalf("ClearCurrentCart() error = %v", err)
	}
	if got, _ := s.CurrentCart(ctx, "/users/u1/"); got != "" {
		t.Errorf("CurrentCart() after clear = %q", got)
	}
}

func TestStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	ctx := context.Background()

	first, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := first.SetCurrentCart(ctx, "u", "/carts/c1/"); err != nil {
		t.Fatal(err)
	}
	first.Close()

	second, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer second.Close()
	if got, _ := second.CurrentCart(ctx, "u"); got != "/carts/c1/" {
		t.Errorf("CurrentCart() after reopen = %q", got)
	}
}

func TestStore_ConcurrentWriters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	ctx := context.Background()

	// Two Stores on one file behave like two processes.
	a, _ := Open(path)
	b, _ := Open(path)
	users := []string{"u0", "u1", "u2", "u3", "u4", "u5", "u6", "u7"}

	var wg sync.WaitGroup
	for i, u := range users {
		s := a
		if i%2 == 1 {
			s = b
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.SetCurrentCart(ctx, u, "/carts/"+u+"/"); err != nil {
				t.Errorf("SetCurrentCart(%s) error = %v", u, err)
			}
		}()
	}
	wg.Wait()

	for _, u := range users {
		if got, _ := a.CurrentCart(ctx, u); got != "/carts/"+u+"/" {
			t.Errorf("CurrentCart(%s) = %q", u, got)
		}
	}
}

func TestStore_CloseKeepsLockFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	ctx := context.Background()

	a, _ := Open(path)
	b, _ := Open(path)
	defer b.Close()
	if err := a.SetCurrentCart(ctx, "u", "/carts/c1/"); err != nil {
		t.Fatal(err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := os.Stat(path + ".lock"); err != nil {
		t.Fatalf("lock file after Close: %v", err)
	}

	// Another process holding the lock still excludes the remaining Store.
	other := flock.New(path + ".lock")
	if ok, err := other.TryLock(); !ok || err != nil {
		t.Fatalf("TryLock() = %v, %v", ok, err)
	}
	shortCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	if err := b.SetCurrentCart(shortCtx, "u", "/carts/c2/"); err == nil {
		t.Error("SetCurrentCart() while another holder has the lock error = nil")
	}

	other.Unlock()
	if err := b.SetCurrentCart(ctx, "u", "/carts/c2/"); err != nil {
		t.Fatalf("SetCurrentCart() after release error = %v", err)
	}
	if got, _ := b.CurrentCart(ctx, "u"); got != "/carts/c2/" {
		t.Errorf("CurrentCart() = %q, want /carts/c2/", got)
	}
}

func TestStore_CorruptFile(t *testing.T) {
	s := openTemp(t)
	if err := os.WriteFile(s.Path(), []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := s.CurrentCart(context.Background(), "u"); err == nil {
		t.Error("CurrentCart() on corrupt file error = nil")
	}
}

func TestStore_RequiresUser(t *testing.T) {
	s := openTemp(t)
	if err := s.SetCurrentCart(context.Background(), "", "/carts/c1/"); err == nil {
		t.Error("SetCurrentCart(\"\") error = nil")
	}
}

func TestDefaultPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	got, err := DefaultPath()
	if err != nil {
		t.Fatal(err)
	}
	if got != "/tmp/xdg/portal-cart/settings.json" {
		t.Errorf("DefaultPath() = %q", got)
	}
}
