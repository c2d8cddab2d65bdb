// Package filestore is the durable flat-file backend. It keeps the working
// set in memory through a memstore and rewrites a JSON snapshot of the whole
// set after every mutation, so a restart recovers exactly what was last
// persisted. The snapshot is written to a temp file and renamed into place;
// a crash mid-write never corrupts the previous snapshot.
package filestore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"

	"github.com/offlinehq/nostrcache"
	"github.com/offlinehq/nostrcache/store"
	"github.com/offlinehq/nostrcache/store/memstore"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var _ store.Store = (*Backend)(nil)

const snapshotName = "events.json"

type Backend struct {
	// Dir is the directory holding the snapshot file. Created if missing.
	Dir string

	// MaxEvents caps the in-memory working set, same semantics as memstore.
	MaxEvents int

	// OnEvict, when given, is told how many events an eviction dropped.
	OnEvict func(evicted int)

	Logger *zerolog.Logger

	mem  *memstore.Backend
	path string
	log  zerolog.Logger
}

// Init probes that Dir is writable before anything else touches the backend.
// A probe failure comes back as *store.InitError so the caller can fall back
// to a pure in-memory store.
func (b *Backend) Init(ctx context.Context) error {
	if b.Logger != nil {
		b.log = *b.Logger
	} else {
		b.log = zerolog.Nop()
	}

	if b.mem != nil {
		return nil
	}

	if err := os.MkdirAll(b.Dir, 0o755); err != nil {
		return &store.InitError{Backend: "file", Err: err}
	}

	probe := filepath.Join(b.Dir, ".probe")
	if err := os.WriteFile(probe, []byte{}, 0o644); err != nil {
		return &store.InitError{Backend: "file", Err: fmt.Errorf("directory not writable: %w", err)}
	}
	os.Remove(probe)

	mem := &memstore.Backend{MaxEvents: b.MaxEvents, OnEvict: b.OnEvict, Logger: b.Logger}
	if err := mem.Init(ctx); err != nil {
		return &store.InitError{Backend: "file", Err: err}
	}

	b.path = filepath.Join(b.Dir, snapshotName)
	if err := b.load(ctx, mem); err != nil {
		return &store.InitError{Backend: "file", Err: err}
	}

	b.mem = mem
	return nil
}

// load replays the snapshot into the memory index. Individual records that
// fail to decode are skipped and logged; the rest of the snapshot survives.
func (b *Backend) load(ctx context.Context, mem *memstore.Backend) error {
	data, err := os.ReadFile(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read snapshot: %w", err)
	}

	var records []jsoniter.RawMessage
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("failed to parse snapshot: %w", err)
	}

	events := make([]nostrcache.Event, 0, len(records))
	for i, record := range records {
		var evt nostrcache.Event
		if err := json.Unmarshal(record, &evt); err != nil {
			b.log.Warn().Int("record", i).Err(err).Msg("skipping corrupt snapshot record")
			continue
		}
		events = append(events, evt)
	}

	_, err = mem.SaveEvents(ctx, events)
	return err
}

// snapshot rewrites the whole file from the current in-memory set.
func (b *Backend) snapshot() error {
	data, err := json.Marshal(b.mem.All())
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	tmp := b.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp, b.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}

func (b *Backend) Close() {
	if b.mem != nil {
		b.mem.Close()
	}
}

func (b *Backend) SaveEvents(ctx context.Context, events []nostrcache.Event) (int, error) {
	saved, err := b.mem.SaveEvents(ctx, events)
	if err != nil {
		return saved, err
	}
	if saved > 0 {
		if err := b.snapshot(); err != nil {
			return saved, err
		}
	}
	return saved, nil
}

func (b *Backend) QueryEvents(ctx context.Context, filters nostrcache.Filters) ([]nostrcache.Event, error) {
	return b.mem.QueryEvents(ctx, filters)
}

func (b *Backend) DeleteEvents(ctx context.Context, ids []string) (int, error) {
	removed, err := b.mem.DeleteEvents(ctx, ids)
	if err != nil {
		return removed, err
	}
	if removed > 0 {
		if err := b.snapshot(); err != nil {
			return removed, err
		}
	}
	return removed, nil
}

func (b *Backend) Clear(ctx context.Context) error {
	if err := b.mem.Clear(ctx); err != nil {
		return err
	}
	return b.snapshot()
}

func (b *Backend) Stats(ctx context.Context) (store.Stats, error) {
	st, err := b.mem.Stats(ctx)
	if err != nil {
		return st, err
	}

	if info, statErr := os.Stat(b.path); statErr == nil {
		st.ApproxSizeBytes = info.Size()
	}
	return st, nil
}
