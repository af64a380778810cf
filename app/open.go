package app

import (
	"errors"
	"fmt"

	"github.com/kilianp07/trackpilot/config"
	"github.com/kilianp07/trackpilot/core/autopilot/journal"
	core "github.com/kilianp07/trackpilot/core/commandstation"
	corelayout "github.com/kilianp07/trackpilot/core/layout"
	"github.com/kilianp07/trackpilot/infra/commandstation"
	"github.com/kilianp07/trackpilot/infra/layout"
	"github.com/kilianp07/trackpilot/infra/logger"
)

// OpenLayout opens the configured layout store and seeds the fixture into
// it. A SQLite store is only seeded while it holds no blocks, so state
// persisted by a previous run wins over the fixture.
func OpenLayout(cfg config.LayoutConfig) (corelayout.Store, error) {
	var store corelayout.Store
	switch cfg.Backend {
	case "memory":
		store = layout.NewMemoryStore()
	case "sqlite":
		s, err := layout.NewSQLiteStore(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open layout: %w", err)
		}
		store = s
	default:
		return nil, fmt.Errorf("unknown layout backend %s", cfg.Backend)
	}
	if cfg.Fixture == "" {
		return store, nil
	}
	blocks, err := store.Blocks()
	if err != nil {
		return nil, closeOnError(store, fmt.Errorf("list blocks: %w", err))
	}
	if len(blocks) > 0 {
		return store, nil
	}
	f, err := layout.LoadFixture(cfg.Fixture)
	if err != nil {
		return nil, closeOnError(store, err)
	}
	if err := layout.Seed(store, f); err != nil {
		return nil, closeOnError(store, fmt.Errorf("seed layout: %w", err))
	}
	return store, nil
}

// OpenStation connects the configured command station.
func OpenStation(cfg config.CommandStationConfig) (core.CommandStation, error) {
	switch cfg.Type {
	case "virtual":
		return commandstation.NewVirtualStation(), nil
	case "mqtt":
		s, err := commandstation.NewMQTTStation(cfg.MQTT, logger.New(logger.ComponentCommandStation))
		if err != nil {
			return nil, fmt.Errorf("mqtt command station: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown command station type %s", cfg.Type)
	}
}

// OpenJournal opens the configured journal store.
func OpenJournal(cfg config.JournalConfig) (journal.Store, error) {
	switch cfg.Backend {
	case "none":
		return journal.NopStore{}, nil
	case "jsonl":
		return journal.NewJSONLStore(cfg.Path)
	case "rotating":
		return journal.NewRotatingJSONLStore(cfg.Path, cfg.MaxSizeMB, cfg.MaxBackups, cfg.MaxAgeDays)
	case "sqlite":
		return journal.NewSQLiteStore(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown journal backend %s", cfg.Backend)
	}
}

type closer interface{ Close() error }

func closeOnError(v any, err error) error {
	if c, ok := v.(closer); ok {
		if cerr := c.Close(); cerr != nil {
			return errors.Join(err, cerr)
		}
	}
	return err
}
