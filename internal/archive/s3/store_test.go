package s3

import (
	"context"
	"io"
	"strings"
	"testing"

	"offsetcore/internal/archive"
)

func TestMockedStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMockForTests()
	if store.Driver() != archive.DriverS3 {
		t.Fatalf("driver = %s", store.Driver())
	}

	if _, err := store.Put(ctx, "snapshots/a.json", strings.NewReader(`{"x":1}`), archive.PutOptions{ContentType: "application/json"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := store.Put(ctx, "snapshots/a.json", strings.NewReader("dup"), archive.PutOptions{}); err == nil {
		t.Fatal("put should refuse an existing key")
	}

	info, rc, err := store.Get(ctx, "snapshots/a.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != `{"x":1}` {
		t.Fatalf("body = %q", body)
	}
	if info.ContentType != "application/json" {
		t.Fatalf("info = %+v", info)
	}

	infos, err := store.List(ctx, "snapshots/")
	if err != nil || len(infos) != 1 || infos[0].Key != "snapshots/a.json" {
		t.Fatalf("list = %v (%v)", infos, err)
	}

	url, err := store.PresignURL(ctx, "snapshots/a.json", archive.SignedURLOptions{})
	if err != nil || !strings.Contains(url, "snapshots/a.json") {
		t.Fatalf("presign = %q (%v)", url, err)
	}

	if ok, err := store.Delete(ctx, "snapshots/a.json"); err != nil || !ok {
		t.Fatalf("delete = %v %v", ok, err)
	}
	if _, err := store.Head(ctx, "snapshots/a.json"); err == nil {
		t.Fatal("head should fail after delete")
	}
}

func TestNewRequiresBucket(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatal("expected error without bucket")
	}
}
