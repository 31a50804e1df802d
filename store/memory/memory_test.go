package memory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/pto-engine/generic"
	"github.com/warp/pto-engine/leave"
	"github.com/warp/pto-engine/store/memory"
	"github.com/warp/pto-engine/store/storetest"
)

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) leave.Store { return memory.New() })
}

func TestStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	require.NoError(t, s.SaveEmployee(ctx, leave.Employee{
		ID: "amy", Name: "Amy", Role: leave.RoleEmployee, HireDate: generic.MustParseDate("2020-01-01"), Active: true,
	}))

	got, err := s.GetEmployee(ctx, "amy")
	require.NoError(t, err)
	got.Name = "changed"

	again, err := s.GetEmployee(ctx, "amy")
	require.NoError(t, err)
	assert.Equal(t, "Amy", again.Name)
}

func TestStore_CancelledContextSkipsTx(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := memory.New().WithTx(ctx, func(tx leave.Tx) error {
		called = true
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}
