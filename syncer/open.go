package syncer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/offlinehq/nostrcache"
	"github.com/offlinehq/nostrcache/bus"
	"github.com/offlinehq/nostrcache/store"
	"github.com/offlinehq/nostrcache/store/filestore"
	"github.com/offlinehq/nostrcache/store/memstore"
	"github.com/offlinehq/nostrcache/store/sqlstore"
)

// OpenStore builds and initializes the store the config selects. When the
// chosen backend's medium is unavailable (its Init returns *store.InitError),
// it falls back to the in-memory backend instead of failing, so the engine
// still comes up in a degraded but working state. Evictions of the capped
// backends are reported on the bus.
func OpenStore(ctx context.Context, cfg nostrcache.Config, logger *zerolog.Logger, b *bus.Bus) (store.Store, error) {
	onEvict := func(evicted int) {
		b.Emit(bus.TopicStoreEvicted, bus.StoreEvicted{Evicted: evicted})
	}

	var s store.Store
	switch cfg.Backend {
	case "memory", "":
		s = &memstore.Backend{MaxEvents: cfg.MaxEvents, OnEvict: onEvict, Logger: logger}
	case "sqlite":
		s = &sqlstore.Backend{Path: filepath.Join(cfg.DataDir, "events.db"), Logger: logger}
	case "file":
		s = &filestore.Backend{Dir: cfg.DataDir, MaxEvents: cfg.MaxEvents, OnEvict: onEvict, Logger: logger}
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}

	err := s.Init(ctx)
	if err == nil {
		return s, nil
	}

	var initErr *store.InitError
	if !errors.As(err, &initErr) {
		return nil, err
	}

	if logger != nil {
		logger.Warn().Str("backend", initErr.Backend).Err(initErr.Err).
			Msg("store backend unavailable, falling back to memory")
	}

	s = &memstore.Backend{MaxEvents: cfg.MaxEvents, OnEvict: onEvict, Logger: logger}
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	return s, nil
}
