package postgres

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolManager keeps one small pgx pool per datasource. A datasource whose DSN
// changed gets a fresh pool.
type PoolManager struct {
	mu    sync.Mutex
	pools map[string]*managedPool
}

type managedPool struct {
	dsn  string
	pool *pgxpool.Pool
}

// NewPoolManager creates an empty PoolManager.
func NewPoolManager() *PoolManager {
	return &PoolManager{pools: make(map[string]*managedPool)}
}

// Get returns the pool for datasourceID, creating it on first use.
func (m *PoolManager) Get(ctx context.Context, datasourceID, dsn string) (*pgxpool.Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.pools[datasourceID]; ok {
		if p.dsn == dsn {
			return p.pool, nil
		}
		p.pool.Close()
		delete(m.pools, datasourceID)
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid postgres dsn for datasource %s: %w", datasourceID, err)
	}
	// Source reads are sequential per job; keep idle footprint low.
	cfg.MaxConns = 4
	cfg.MinConns = 0
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	m.pools[datasourceID] = &managedPool{dsn: dsn, pool: pool}
	return pool, nil
}

// Close closes every pool.
func (m *PoolManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, p := range m.pools {
		p.pool.Close()
		delete(m.pools, id)
	}
}
