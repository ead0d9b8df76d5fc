package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/stablemint/internal/domain"
)

type yieldFixture struct {
	positions *fakePositionStore
	txs       *fakeTransactionStore
	vault     *fakeVault
	bus       *fakeEventBus
	locks     *memLockManager
	svc       *YieldService
}

func newYieldFixture() *yieldFixture {
	f := &yieldFixture{
		positions: newFakePositionStore(),
		txs:       newFakeTransactionStore(),
		vault:     &fakeVault{},
		bus:       &fakeEventBus{},
		locks:     newMemLockManager(),
	}
	f.svc = NewYieldService(YieldDeps{
		Positions:    f.positions,
		Transactions: f.txs,
		Vault:        f.vault,
		Locks:        f.locks,
		Events:       f.bus,
	}, YieldConfig{}, testLogger())
	return f
}

func (f *yieldFixture) seedPosition(id string, lastYieldUpdate time.Time) domain.Position {
	now := time.Now().UTC().Add(-2 * time.Hour)
	pos := domain.Position{
		ID:                id,
		AccountID:         "acct-1",
		CollateralAddress: "coll-addr",
		StablecoinAddress: "stab-addr",
		CollateralAmount:  dec("100"),
		LockRef:           "lock-0",
		LockedAt:          now,
		StablecoinDebt:    dec("600"),
		StablecoinBalance: dec("600"),
		HealthStatus:      domain.HealthHealthy,
		LastHealthCheck:   now,
		YieldRate:         dec("5"),
		YieldStrategy:     domain.YieldStrategyLending,
		LastYieldUpdate:   lastYieldUpdate,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	f.positions.positions[id] = pos
	return pos
}

func TestGenerateYieldAccruesOverElapsedTime(t *testing.T) {
	f := newYieldFixture()
	// One full 365-day year elapsed: yield = 100 * (5/100) * 1 = 5.
	f.seedPosition("pos-1", time.Now().UTC().Add(-365*24*time.Hour))

	amount, err := f.svc.GenerateYield(context.Background(), "pos-1")
	require.NoError(t, err)

	want := dec("5")
	assert.True(t, amount.Sub(want).Abs().LessThan(dec("0.001")),
		"yield %s not within tolerance of %s", amount, want)

	require.Len(t, f.vault.deploys, 1)
	assert.Equal(t, "pos-1", f.vault.deploys[0].positionID)
	assert.Equal(t, domain.YieldStrategyLending, f.vault.deploys[0].strategy)

	pos, _ := f.positions.GetByID(context.Background(), "pos-1")
	assert.True(t, pos.YieldEarned.Equal(amount))
	assert.WithinDuration(t, time.Now().UTC(), pos.LastYieldUpdate, 5*time.Second)

	yields := f.txs.byType(domain.TxYieldGenerate)
	require.Len(t, yields, 1)
	assert.Equal(t, domain.TxCompleted, yields[0].Status)
	assert.True(t, yields[0].Amount.Equal(amount))
	assert.Len(t, f.bus.byType(domain.EventYieldGenerated), 1)
}

func TestGenerateYieldZeroElapsedIsNoOp(t *testing.T) {
	f := newYieldFixture()
	before := f.seedPosition("pos-1", time.Now().UTC())

	amount, err := f.svc.GenerateYield(context.Background(), "pos-1")
	require.NoError(t, err)
	assert.True(t, amount.IsZero())

	// No mutation, no vault call, no transaction.
	pos, _ := f.positions.GetByID(context.Background(), "pos-1")
	assert.True(t, pos.YieldEarned.Equal(before.YieldEarned))
	assert.True(t, pos.LastYieldUpdate.Equal(before.LastYieldUpdate))
	assert.Empty(t, f.vault.deploys)
	assert.Empty(t, f.txs.byType(domain.TxYieldGenerate))
}

func TestGenerateYieldTwiceBackToBack(t *testing.T) {
	f := newYieldFixture()
	f.seedPosition("pos-1", time.Now().UTC().Add(-365*24*time.Hour))

	first, err := f.svc.GenerateYield(context.Background(), "pos-1")
	require.NoError(t, err)
	require.True(t, first.IsPositive())

	// Immediately re-running accrues nothing: the elapsed window is empty.
	second, err := f.svc.GenerateYield(context.Background(), "pos-1")
	require.NoError(t, err)
	assert.True(t, second.IsZero())

	pos, _ := f.positions.GetByID(context.Background(), "pos-1")
	assert.True(t, pos.YieldEarned.Equal(first), "second call changed yieldEarned")
	assert.Len(t, f.vault.deploys, 1)
}

func TestGenerateYieldRejectsLiquidated(t *testing.T) {
	f := newYieldFixture()
	pos := f.seedPosition("pos-1", time.Now().UTC().Add(-24*time.Hour))
	pos.Liquidated = true
	f.positions.positions[pos.ID] = pos

	_, err := f.svc.GenerateYield(context.Background(), "pos-1")
	assert.ErrorIs(t, err, domain.ErrPositionLiquidated)
	assert.Empty(t, f.vault.deploys)
}

func TestGenerateYieldDeployFailureLeavesStateUnchanged(t *testing.T) {
	f := newYieldFixture()
	before := f.seedPosition("pos-1", time.Now().UTC().Add(-365*24*time.Hour))
	f.vault.deployErr = errors.New("vault rejected")

	_, err := f.svc.GenerateYield(context.Background(), "pos-1")
	require.Error(t, err)

	pos, _ := f.positions.GetByID(context.Background(), "pos-1")
	assert.True(t, pos.YieldEarned.Equal(before.YieldEarned))
	assert.True(t, pos.LastYieldUpdate.Equal(before.LastYieldUpdate))
	assert.Empty(t, f.txs.byType(domain.TxYieldGenerate))
}

func TestDistributeYieldToleratesPerPositionFailure(t *testing.T) {
	f := newYieldFixture()
	f.seedPosition("pos-1", time.Now().UTC().Add(-365*24*time.Hour))
	f.seedPosition("pos-2", time.Now().UTC().Add(-365*24*time.Hour))

	// Simulate another instance holding pos-1's lock.
	unlock, err := f.locks.Acquire(context.Background(), "pos-1", time.Minute)
	require.NoError(t, err)
	defer unlock()

	err = f.svc.DistributeYield(context.Background())
	require.NoError(t, err)

	require.Len(t, f.vault.deploys, 1, "only the unlocked position accrues")
	assert.Equal(t, "pos-2", f.vault.deploys[0].positionID)
}
