package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/warp/pto-engine/leave"
	"github.com/warp/pto-engine/store/postgres"
	"github.com/warp/pto-engine/store/storetest"
)

// newTestStore connects to PTO_TEST_DATABASE_URL or skips. The suite uses
// unique ids, so a shared database is fine.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	url := os.Getenv("PTO_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("PTO_TEST_DATABASE_URL not set")
	}
	s, err := postgres.Connect(context.Background(), postgres.Config{URL: url, MaxConns: 4})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) leave.Store { return newTestStore(t) })
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))
}
