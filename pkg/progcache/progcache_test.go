package progcache

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/zurustar/missionscript/pkg/logger"
)

func openCache(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "cache", "programs.db"), WithLogger(logger.Discard()))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestBusyTimeoutOnEveryConnection(t *testing.T) {
	c := openCache(t)
	if n := c.db.Stats().MaxOpenConnections; n != 1 {
		t.Errorf("MaxOpenConnections = %d, want 1", n)
	}

	ctx := context.Background()
	done := make(chan error, 4)
	for i := 0; i < 4; i++ {
		go func(i int) {
			done <- c.Put(ctx, fmt.Sprintf("k%d", i), "p", []byte{byte(i)})
		}(i)
	}
	for i := 0; i < 4; i++ {
		if err := <-done; err != nil {
			t.Errorf("Put() error: %v", err)
		}
	}

	var ms int
	if err := c.db.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&ms); err != nil {
		t.Fatalf("reading busy_timeout: %v", err)
	}
	if ms != busyTimeout {
		t.Errorf("busy_timeout = %d, want %d", ms, busyTimeout)
	}
}

func TestKey(t *testing.T) {
	var fp, other [32]byte
	other[0] = 1
	src := []byte("event e(init) { }")

	k := Key(src, fp)
	if len(k) != 64 {
		t.Errorf("len(Key) = %d, want 64", len(k))
	}
	if Key(src, fp) != k {
		t.Error("Key is not deterministic")
	}
	if Key(src, other) == k {
		t.Error("Key ignores the fingerprint")
	}
	if Key([]byte("event e(init) { } "), fp) == k {
		t.Error("Key ignores the source")
	}
}

func TestPutGetDelete(t *testing.T) {
	c := openCache(t)
	ctx := context.Background()

	if _, err := c.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(missing) error = %v, want ErrNotFound", err)
	}

	if err := c.Put(ctx, "k1", "cam1", []byte{1, 2, 3}); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	e, err := c.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if e.Name != "cam1" || string(e.Blob) != "\x01\x02\x03" {
		t.Errorf("Get() = %+v", e)
	}

	if err := c.Put(ctx, "k1", "cam1", []byte{4}); err != nil {
		t.Fatalf("Put() replace error: %v", err)
	}
	if e, _ := c.Get(ctx, "k1"); e == nil || string(e.Blob) != "\x04" {
		t.Errorf("Put() did not replace the blob: %+v", e)
	}

	if err := c.Delete(ctx, "k1"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if _, err := c.Get(ctx, "k1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after Delete error = %v", err)
	}
	if err := c.Delete(ctx, "k1"); err != nil {
		t.Errorf("Delete() of missing key error: %v", err)
	}
}

func TestPurge(t *testing.T) {
	c := openCache(t)
	ctx := context.Background()
	for _, k := range []string{"a", "b", "c"} {
		if err := c.Put(ctx, k, k, []byte(k)); err != nil {
			t.Fatalf("Put(%s) error: %v", k, err)
		}
	}

	n, err := c.Purge(ctx, time.Now().Add(-time.Hour))
	if err != nil || n != 0 {
		t.Fatalf("Purge(old) = %d, %v, want 0", n, err)
	}
	n, err = c.Purge(ctx, time.Time{})
	if err != nil || n != 3 {
		t.Fatalf("Purge(all) = %d, %v, want 3", n, err)
	}
	if size, _ := c.Len(ctx); size != 0 {
		t.Errorf("Len() = %d after Purge", size)
	}
}

func TestReopenKeepsEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "programs.db")
	ctx := context.Background()

	c, err := Open(path, WithLogger(logger.Discard()))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if err := c.Put(ctx, "k", "cam2", []byte("blob")); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	c.Close()

	c, err = Open(path, WithLogger(logger.Discard()))
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer c.Close()
	if e, err := c.Get(ctx, "k"); err != nil || e.Name != "cam2" {
		t.Errorf("Get() after reopen = %+v, %v", e, err)
	}
}
