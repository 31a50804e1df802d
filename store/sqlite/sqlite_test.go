package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/pto-engine/generic"
	"github.com/warp/pto-engine/leave"
	"github.com/warp/pto-engine/store/sqlite"
	"github.com/warp/pto-engine/store/storetest"
)

// newTestStore returns an in-memory database closed at cleanup.
func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) leave.Store { return newTestStore(t) })
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	// GIVEN: A file database with one employee
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "pto.db")
	s, err := sqlite.New(path)
	require.NoError(t, err)
	require.NoError(t, s.SaveEmployee(ctx, leave.Employee{
		ID: "amy", Name: "Amy", Role: leave.RoleAdmin, HireDate: generic.MustParseDate("2020-01-01"), Active: true,
	}))
	require.NoError(t, s.Close())

	// WHEN: Reopening, which re-runs the migration
	s, err = sqlite.New(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	// THEN: The row is still there
	got, err := s.GetEmployee(ctx, "amy")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, leave.RoleAdmin, got.Role)
}

func TestStore_UnassignedDepartmentIsEmpty(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.SaveEmployee(ctx, leave.Employee{
		ID: "amy", Name: "Amy", Role: leave.RoleEmployee, HireDate: generic.MustParseDate("2020-01-01"), Active: true,
	}))

	got, err := s.GetEmployee(ctx, "amy")
	require.NoError(t, err)
	assert.Empty(t, got.DepartmentID)
}
