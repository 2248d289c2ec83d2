package memory

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"offsetcore/internal/archive"
)

func TestStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := New()
	if store.Driver() != archive.DriverMemory {
		t.Fatalf("driver = %s", store.Driver())
	}

	info, err := store.Put(ctx, "snapshots/a.json", strings.NewReader(`{"x":1}`), archive.PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"listings": "1"},
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size != 7 || info.ContentType != "application/json" {
		t.Fatalf("info = %+v", info)
	}

	if _, err := store.Put(ctx, "snapshots/a.json", strings.NewReader("dup"), archive.PutOptions{}); err == nil {
		t.Fatal("put should refuse an existing key")
	}

	got, rc, err := store.Get(ctx, "snapshots/a.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != `{"x":1}` || got.Metadata["listings"] != "1" {
		t.Fatalf("get returned %q %+v", body, got)
	}

	if _, err := store.Head(ctx, "missing"); err == nil {
		t.Fatal("head should fail for a missing key")
	}

	if _, err := store.Put(ctx, "other/b.json", strings.NewReader("{}"), archive.PutOptions{}); err != nil {
		t.Fatalf("put b: %v", err)
	}
	infos, err := store.List(ctx, "snapshots/")
	if err != nil || len(infos) != 1 || infos[0].Key != "snapshots/a.json" {
		t.Fatalf("list = %v (%v)", infos, err)
	}

	if _, err := store.PresignURL(ctx, "snapshots/a.json", archive.SignedURLOptions{}); !errors.Is(err, archive.ErrUnsupported) {
		t.Fatalf("presign err = %v, want ErrUnsupported", err)
	}

	ok, err := store.Delete(ctx, "snapshots/a.json")
	if err != nil || !ok {
		t.Fatalf("delete = %v %v", ok, err)
	}
	ok, err = store.Delete(ctx, "snapshots/a.json")
	if err != nil || ok {
		t.Fatalf("second delete = %v %v", ok, err)
	}
}
