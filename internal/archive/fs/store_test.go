package fs

import (
	"context"
	"io"
	"strings"
	"testing"

	"offsetcore/internal/archive"
)

func TestStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if store.Driver() != archive.DriverFilesystem {
		t.Fatalf("driver = %s", store.Driver())
	}

	info, err := store.Put(ctx, "snapshots/20260301T120000Z.json", strings.NewReader(`{"listings":{}}`), archive.PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"listings": "0"},
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.ETag == "" || info.Size == 0 {
		t.Fatalf("info = %+v", info)
	}

	if _, err := store.Put(ctx, "snapshots/20260301T120000Z.json", strings.NewReader("dup"), archive.PutOptions{}); err == nil {
		t.Fatal("put should refuse an existing key")
	}

	head, err := store.Head(ctx, "snapshots/20260301T120000Z.json")
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if head.ETag != info.ETag || head.Metadata["listings"] != "0" {
		t.Fatalf("head = %+v", head)
	}

	_, rc, err := store.Get(ctx, "snapshots/20260301T120000Z.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != `{"listings":{}}` {
		t.Fatalf("body = %q", body)
	}

	infos, err := store.List(ctx, "snapshots/")
	if err != nil || len(infos) != 1 {
		t.Fatalf("list = %v (%v)", infos, err)
	}

	ok, err := store.Delete(ctx, "snapshots/20260301T120000Z.json")
	if err != nil || !ok {
		t.Fatalf("delete = %v %v", ok, err)
	}
	if infos, _ := store.List(ctx, ""); len(infos) != 0 {
		t.Fatalf("list after delete = %v", infos)
	}
}

func TestSanitizeKeyRejectsTraversal(t *testing.T) {
	ctx := context.Background()
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	for _, key := range []string{"", "../escape", "/absolute", "a/../../b"} {
		if _, err := store.Put(ctx, key, strings.NewReader("x"), archive.PutOptions{}); err == nil {
			t.Fatalf("put accepted invalid key %q", key)
		}
	}
}
