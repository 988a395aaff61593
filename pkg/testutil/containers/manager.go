//go:build integration

// Package containers starts the throwaway infrastructure used by integration suites.
// Each container is started at most once per test binary and shared across suites.
package containers

import (
	"sync"
	"testing"
)

// Manager lazily starts and caches containers.
type Manager struct {
	pgOnce sync.Once
	pg     *PostgresContainer
	pgErr  error

	redisOnce sync.Once
	redis     *RedisContainer

	rpOnce sync.Once
	rp     *RedpandaContainer
	rpErr  error
}

var (
	managerOnce sync.Once
	manager     *Manager
)

// GetManager returns the process-wide container manager.
func GetManager() *Manager {
	managerOnce.Do(func() {
		manager = &Manager{}
	})
	return manager
}

// GetPostgres returns a migrated PostgreSQL instance.
func (m *Manager) GetPostgres(t *testing.T) *PostgresContainer {
	t.Helper()
	m.pgOnce.Do(func() {
		m.pg, m.pgErr = startPostgres()
	})
	if m.pgErr != nil {
		t.Fatalf("postgres container: %v", m.pgErr)
	}
	return m.pg
}

// GetRedis returns a Redis instance.
func (m *Manager) GetRedis(t *testing.T) *RedisContainer {
	t.Helper()
	m.redisOnce.Do(func() {
		m.redis = NewRedisContainer(t)
	})
	if m.redis == nil {
		t.Fatal("redis container failed to start in an earlier test")
	}
	return m.redis
}

// GetRedpanda returns a Kafka-compatible broker.
func (m *Manager) GetRedpanda(t *testing.T) *RedpandaContainer {
	t.Helper()
	m.rpOnce.Do(func() {
		m.rp, m.rpErr = startRedpanda()
	})
	if m.rpErr != nil {
		t.Fatalf("redpanda container: %v", m.rpErr)
	}
	return m.rp
}
