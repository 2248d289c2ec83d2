package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"offsetcore/internal/infra/persistence/memory"
)

// SnapshotPrefix groups marketplace state snapshots under one key namespace.
const SnapshotPrefix = "snapshots/"

// snapshotTimeLayout names snapshot objects sortably by capture instant.
const snapshotTimeLayout = "20060102T150405Z"

// StateSource exposes the marketplace state for archival and restore.
// The persistence stores satisfy it.
type StateSource interface {
	ExportState() memory.Snapshot
	ImportState(memory.Snapshot)
}

// Archiver serializes marketplace state snapshots into an archive store and
// restores them.
type Archiver struct {
	blobs  Store
	source StateSource
	nowFn  func() time.Time
}

// NewArchiver constructs an archiver writing snapshots of source into blobs.
func NewArchiver(blobs Store, source StateSource) *Archiver {
	return &Archiver{
		blobs:  blobs,
		source: source,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

// SetNowFunc replaces the time provider, primarily for tests.
func (a *Archiver) SetNowFunc(fn func() time.Time) { a.nowFn = fn }

// Snapshot captures the current marketplace state as a timestamped JSON
// object and stores it under SnapshotPrefix.
func (a *Archiver) Snapshot(ctx context.Context) (Info, error) {
	state := a.source.ExportState()
	payload, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return Info{}, fmt.Errorf("encode snapshot: %w", err)
	}
	key := SnapshotPrefix + a.nowFn().Format(snapshotTimeLayout) + ".json"
	info, err := a.blobs.Put(ctx, key, bytes.NewReader(payload), PutOptions{
		ContentType: "application/json",
		Metadata: map[string]string{
			"listings": strconv.Itoa(len(state.Listings)),
			"demands":  strconv.Itoa(len(state.Demands)),
			"matches":  strconv.Itoa(len(state.Matches)),
		},
	})
	if err != nil {
		return Info{}, fmt.Errorf("store snapshot: %w", err)
	}
	return info, nil
}

// List returns all stored snapshots ordered oldest first.
func (a *Archiver) List(ctx context.Context) ([]Info, error) {
	return a.blobs.List(ctx, SnapshotPrefix)
}

// Latest returns the most recent snapshot, or false when none exist.
func (a *Archiver) Latest(ctx context.Context) (Info, bool, error) {
	infos, err := a.List(ctx)
	if err != nil {
		return Info{}, false, err
	}
	if len(infos) == 0 {
		return Info{}, false, nil
	}
	return infos[len(infos)-1], true, nil
}

// Restore replaces the marketplace state with the named snapshot's contents.
func (a *Archiver) Restore(ctx context.Context, key string) error {
	_, rc, err := a.blobs.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("load snapshot %s: %w", key, err)
	}
	defer func() { _ = rc.Close() }()
	payload, err := io.ReadAll(rc)
	if err != nil {
		return err
	}
	var state memory.Snapshot
	if err := json.Unmarshal(payload, &state); err != nil {
		return fmt.Errorf("decode snapshot %s: %w", key, err)
	}
	a.source.ImportState(state)
	return nil
}

// Prune deletes the oldest snapshots beyond keep. It returns the number of
// snapshots removed.
func (a *Archiver) Prune(ctx context.Context, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}
	infos, err := a.List(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for i := 0; i < len(infos)-keep; i++ {
		ok, err := a.blobs.Delete(ctx, infos[i].Key)
		if err != nil {
			return removed, err
		}
		if ok {
			removed++
		}
	}
	return removed, nil
}
