package storage

import (
	"context"
	"fmt"
	"strings"

	logx "taskloop/pkg/logx"
)

// Store is the journal API used by the daemon.
type Store interface {
	AppendFire(ctx context.Context, r FireRecord) error
	// RecentFires returns up to limit records, newest first.
	RecentFires(ctx context.Context, limit int) ([]FireRecord, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if the journal is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("driver", driver))

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, fmt.Errorf("unknown journal driver: %q", driver)
	}
}
