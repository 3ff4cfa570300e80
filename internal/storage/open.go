package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/spf13/afero"

	logx "covidboard/pkg/logx"
)

// Store is the persistence API used by the dashboard and the web layer.
type Store interface {
	AppendAudit(ctx context.Context, e AuditEntry) error

	PutSnapshot(ctx context.Context, s Snapshot) error
	GetSnapshot(ctx context.Context, key string) (Snapshot, bool, error)

	// Dismiss hides a news title until the given time.
	Dismiss(ctx context.Context, title string, until time.Time) error
	// Dismissed returns the titles whose dismissal has not expired.
	Dismissed(ctx context.Context) (map[string]time.Time, error)

	Close() error
}

// Open initializes the configured store on the OS filesystem.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	return OpenFS(afero.NewOsFs(), cfg, log)
}

// OpenFS is Open with an explicit filesystem for the file driver.
func OpenFS(fs afero.Fs, cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(fs, cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
