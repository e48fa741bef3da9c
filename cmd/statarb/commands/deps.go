package commands

import (
	"fmt"
	"sync"

	"github.com/jmlee/statarb/internal/audit"
	"github.com/jmlee/statarb/internal/decision"
	"github.com/jmlee/statarb/internal/lifecycle"
	"github.com/jmlee/statarb/internal/strategy"
	"github.com/jmlee/statarb/internal/universe"
	"github.com/jmlee/statarb/pkg/config"
	"github.com/jmlee/statarb/pkg/database"
	"github.com/jmlee/statarb/pkg/logger"
	"github.com/jmlee/statarb/pkg/redis"
)

// appDeps is the shared process wiring every command starts from.
type appDeps struct {
	cfg      *config.Config
	log      *logger.Logger
	db       *database.DB
	rdb      *redis.Client
	strategy *strategy.Config
	universe *universe.Universe

	lockMu   sync.Mutex
	runLocks map[string]*redis.RunLock
}

// initDeps loads config and connects the shared infrastructure.
func initDeps() (*appDeps, error) {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if verbose {
		cfg.LogLevel = "debug"
	}

	// 2. Initialize logger
	log := logger.New(cfg)

	// 3. Connect to database
	db, err := database.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	// 4. Connect to Redis
	rdb, err := redis.New(cfg)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	// 5. Load and validate the strategy contract
	strategyCfg, _, err := strategy.Load(cfg.StrategyConfigPath)
	if err != nil {
		db.Close()
		rdb.Close()
		return nil, fmt.Errorf("load strategy config: %w", err)
	}

	// 6. Load and validate the universe contract
	uni, err := universe.Load(cfg.UniverseConfigPath)
	if err != nil {
		db.Close()
		rdb.Close()
		return nil, fmt.Errorf("load universe config: %w", err)
	}

	return &appDeps{
		cfg:      cfg,
		log:      log,
		db:       db,
		rdb:      rdb,
		strategy: strategyCfg,
		universe: uni,
	}, nil
}

// close releases the shared connections.
func (d *appDeps) close() {
	d.rdb.Close()
	d.db.Close()
}

// lockFactory hands out the Redis run lock for a universe. One lock
// instance per universe and process: the retrain job and the lifecycle
// manager nest acquires on the same instance, so a cycle that already
// holds the lock can deploy under it instead of conflicting with
// itself.
func (d *appDeps) lockFactory() lifecycle.LockFactory {
	ttl := d.strategy.Lifecycle.RunLockTTL
	return func(universeID string) lifecycle.Locker {
		d.lockMu.Lock()
		defer d.lockMu.Unlock()
		if d.runLocks == nil {
			d.runLocks = make(map[string]*redis.RunLock)
		}
		lock, ok := d.runLocks[universeID]
		if !ok {
			lock = redis.NewRunLock(d.rdb, universeID, ttl)
			d.runLocks[universeID] = lock
		}
		return lock
	}
}

// newManager wires the lifecycle manager against the given holder.
// Commands that never deploy pass a throwaway holder.
func (d *appDeps) newManager(holder *decision.Holder) (*lifecycle.Manager, lifecycle.Registry) {
	registry := lifecycle.NewRepository(d.db.Pool, d.log)
	recorder := audit.NewRepository(d.db.Pool, d.log)
	manager := lifecycle.NewManager(registry, holder, recorder,
		d.lockFactory(), nil, d.strategy.Lifecycle, d.log)
	return manager, registry
}
