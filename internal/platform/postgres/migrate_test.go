package postgres

import (
	"errors"
	"fmt"
	"testing"
	"testing/fstest"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEmbeddedMigrations(t *testing.T) {
	all, err := NewMigrator(nil).Load()
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(all), 2)
	assert.Equal(t, 1, all[0].Version)
	assert.Contains(t, all[0].SQL, "CREATE TABLE IF NOT EXISTS clients")
	assert.Contains(t, all[1].SQL, "UNIQUE (client_id, policy_id, hospital_id)")
}

func TestLoadSortsAndSkips(t *testing.T) {
	fsys := fstest.MapFS{
		"010_late.sql":  {Data: []byte("SELECT 10;")},
		"002_mid.sql":   {Data: []byte("SELECT 2;")},
		"001_first.sql": {Data: []byte("SELECT 1;")},
		"README.md":     {Data: []byte("ignored")},
		"notes.sql":     {Data: []byte("ignored: no version prefix")},
		"abc_bad.sql":   {Data: []byte("ignored: non-numeric prefix")},
	}
	all, err := NewMigratorFS(nil, fsys).Load()
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []int{1, 2, 10}, []int{all[0].Version, all[1].Version, all[2].Version})
}

func TestLoadRejectsDuplicateVersions(t *testing.T) {
	fsys := fstest.MapFS{
		"001_a.sql": {Data: []byte("SELECT 1;")},
		"001_b.sql": {Data: []byte("SELECT 1;")},
	}
	_, err := NewMigratorFS(nil, fsys).Load()
	assert.ErrorContains(t, err, "duplicate migration version 1")
}

func TestIsUniqueViolation(t *testing.T) {
	err := &pq.Error{Code: "23505", Constraint: "claims_claim_number_key"}
	assert.True(t, IsUniqueViolation(err, ""))
	assert.True(t, IsUniqueViolation(err, "claims_claim_number_key"))
	assert.False(t, IsUniqueViolation(err, "users_email_key"))
	assert.False(t, IsUniqueViolation(&pq.Error{Code: "23503"}, ""))
	assert.False(t, IsUniqueViolation(errors.New("boom"), ""))
}

func TestIsForeignKeyViolation(t *testing.T) {
	assert.True(t, IsForeignKeyViolation(fmt.Errorf("delete insured person: %w", &pq.Error{Code: "23503"})))
	assert.False(t, IsForeignKeyViolation(&pq.Error{Code: "23505"}))
	assert.False(t, IsForeignKeyViolation(nil))
}
