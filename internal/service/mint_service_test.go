package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/stablemint/internal/domain"
	"github.com/alanyoungcy/stablemint/internal/saga"
)

type mintFixture struct {
	positions  *fakePositionStore
	txs        *fakeTransactionStore
	params     *fakeParamsStore
	oracle     *fakeOracle
	collateral *fakeCollateralLedger
	stablecoin *fakeStablecoinLedger
	bus        *fakeEventBus
	escalated  []string
	svc        *MintService
}

func newMintFixture(price string) *mintFixture {
	f := &mintFixture{
		positions:  newFakePositionStore(),
		txs:        newFakeTransactionStore(),
		oracle:     &fakeOracle{price: dec(price)},
		collateral: &fakeCollateralLedger{},
		stablecoin: &fakeStablecoinLedger{},
		bus:        &fakeEventBus{},
	}
	f.params = newFakeParamsStore(domain.SystemParameters{
		TargetRatio:          dec("150"),
		LiquidationThreshold: dec("120"),
		MinCollateralRatio:   dec("130"),
		MaxCollateralRatio:   dec("500"),
		BaseYieldRate:        dec("5"),
		YieldStrategy:        domain.YieldStrategyLending,
	})

	escalate := func(_ context.Context, op, stage string, _ error) {
		f.escalated = append(f.escalated, op+"/"+stage)
	}
	f.svc = NewMintService(MintDeps{
		Positions:    f.positions,
		Transactions: f.txs,
		Params:       f.params,
		Oracle:       f.oracle,
		Collateral:   f.collateral,
		Stablecoin:   f.stablecoin,
		Locks:        newMemLockManager(),
		Events:       f.bus,
		Sagas:        saga.NewExecutor(time.Second, escalate, testLogger()),
	}, MintConfig{CollateralAsset: "WCHAIN", DestinationChain: "stable-chain"}, testLogger())
	return f
}

func validOpenRequest() OpenPositionRequest {
	return OpenPositionRequest{
		AccountID:         "acct-1",
		CollateralAmount:  dec("10"),
		StablecoinAmount:  dec("600"),
		CollateralAddress: "coll-addr",
		StablecoinAddress: "stab-addr",
	}
}

func TestOpenPositionSuccess(t *testing.T) {
	f := newMintFixture("100")

	pos, err := f.svc.OpenPosition(context.Background(), validOpenRequest())
	require.NoError(t, err)

	wantRatio := domain.CollateralRatio(dec("10"), dec("100"), dec("600"))
	assert.True(t, pos.CollateralRatio.Equal(wantRatio), "ratio %s != %s", pos.CollateralRatio, wantRatio)
	assert.Equal(t, domain.HealthHealthy, pos.HealthStatus)
	assert.Equal(t, "lock-1", pos.LockRef)
	assert.True(t, pos.StablecoinDebt.Equal(dec("600")))
	assert.True(t, pos.StablecoinBalance.Equal(dec("600")))
	assert.True(t, pos.YieldRate.Equal(dec("5")))
	assert.Equal(t, domain.YieldStrategyLending, pos.YieldStrategy)

	stored, err := f.positions.GetByID(context.Background(), pos.ID)
	require.NoError(t, err)
	assert.True(t, stored.CollateralRatio.Equal(wantRatio))

	require.Len(t, f.collateral.locks, 1)
	require.Len(t, f.stablecoin.mints, 1)
	assert.Equal(t, "lock-1", f.stablecoin.mints[0].collateralRef)

	assert.True(t, f.params.params.TotalCollateralLocked.Equal(dec("10")))
	assert.True(t, f.params.params.TotalStablecoinSupply.Equal(dec("600")))
	assert.True(t, f.params.params.TotalDebt.Equal(dec("600")))

	mints := f.txs.byType(domain.TxMint)
	require.Len(t, mints, 1)
	assert.Equal(t, domain.TxCompleted, mints[0].Status)
	assert.Equal(t, "lock-1", mints[0].CollateralRef)
	assert.Equal(t, "mint-1", mints[0].StablecoinRef)

	assert.Len(t, f.bus.byType(domain.EventPositionOpened), 1)
}

func TestOpenPositionRejectsInvalidInput(t *testing.T) {
	f := newMintFixture("100")

	cases := map[string]func(*OpenPositionRequest){
		"empty account":       func(r *OpenPositionRequest) { r.AccountID = "" },
		"zero collateral":     func(r *OpenPositionRequest) { r.CollateralAmount = dec("0") },
		"negative stablecoin": func(r *OpenPositionRequest) { r.StablecoinAmount = dec("-1") },
		"empty coll address":  func(r *OpenPositionRequest) { r.CollateralAddress = "" },
		"empty stab address":  func(r *OpenPositionRequest) { r.StablecoinAddress = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := validOpenRequest()
			mutate(&req)
			_, err := f.svc.OpenPosition(context.Background(), req)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}

	assert.Zero(t, f.oracle.calls, "validation failures must not reach the oracle")
	assert.Empty(t, f.collateral.locks)
}

func TestOpenPositionBelowMinRatioMakesNoLedgerCalls(t *testing.T) {
	f := newMintFixture("100")

	req := validOpenRequest()
	req.StablecoinAmount = dec("800") // ratio 125 < min 130

	_, err := f.svc.OpenPosition(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrInsufficientCollateral)
	assert.Empty(t, f.collateral.locks)
	assert.Empty(t, f.stablecoin.mints)
	assert.Empty(t, f.positions.positions)
	assert.Empty(t, f.params.deltas)
}

func TestOpenPositionOracleFailureAborts(t *testing.T) {
	f := newMintFixture("100")
	f.oracle.err = errors.New("oracle down")

	_, err := f.svc.OpenPosition(context.Background(), validOpenRequest())
	require.Error(t, err)
	assert.Empty(t, f.collateral.locks)
	assert.Empty(t, f.positions.positions)
}

func TestOpenPositionMintFailureCompensatesLock(t *testing.T) {
	f := newMintFixture("100")
	f.stablecoin.mintErr = errors.New("mint rejected")

	_, err := f.svc.OpenPosition(context.Background(), validOpenRequest())
	require.Error(t, err)

	// The lock must be released exactly once, with the same ref and amount.
	require.Len(t, f.collateral.releases, 1)
	assert.Equal(t, "lock-1", f.collateral.releases[0].lockRef)
	assert.True(t, f.collateral.releases[0].amount.Equal(dec("10")))
	assert.Equal(t, "coll-addr", f.collateral.releases[0].address)

	// No position persisted, no totals adjusted, transaction marked failed.
	assert.Empty(t, f.positions.positions)
	assert.Empty(t, f.params.deltas)
	mints := f.txs.byType(domain.TxMint)
	require.Len(t, mints, 1)
	assert.Equal(t, domain.TxFailed, mints[0].Status)
	assert.Empty(t, f.escalated)
}

func TestOpenPositionCompensationFailureEscalates(t *testing.T) {
	f := newMintFixture("100")
	f.stablecoin.mintErr = errors.New("mint rejected")
	f.collateral.releaseErr = errors.New("release rejected")

	_, err := f.svc.OpenPosition(context.Background(), validOpenRequest())
	require.Error(t, err)

	var compErr *saga.CompensationError
	require.ErrorAs(t, err, &compErr)
	assert.Equal(t, "open_position", compErr.Op)
	assert.Equal(t, []string{"open_position/lock_collateral"}, f.escalated)
	assert.Empty(t, f.positions.positions)
}

func TestOpenPositionCancellationStillCompensates(t *testing.T) {
	f := newMintFixture("100")
	ctx, cancel := context.WithCancel(context.Background())
	f.stablecoin.mintErr = context.Canceled
	cancel()

	_, err := f.svc.OpenPosition(ctx, validOpenRequest())
	require.Error(t, err)
	require.Len(t, f.collateral.releases, 1, "compensation must run despite cancellation")
}

func seedClosablePosition(f *mintFixture, collateral, debt, balance string) domain.Position {
	now := time.Now().UTC().Add(-time.Hour)
	pos := domain.Position{
		ID:                "pos-1",
		AccountID:         "acct-1",
		CollateralAddress: "coll-addr",
		StablecoinAddress: "stab-addr",
		CollateralAmount:  dec(collateral),
		LockRef:           "lock-0",
		LockedAt:          now,
		StablecoinDebt:    dec(debt),
		StablecoinBalance: dec(balance),
		HealthStatus:      domain.HealthHealthy,
		LastHealthCheck:   now,
		YieldRate:         dec("5"),
		YieldStrategy:     domain.YieldStrategyLending,
		LastYieldUpdate:   now,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	f.positions.positions[pos.ID] = pos
	return pos
}

func TestClosePositionSuccess(t *testing.T) {
	f := newMintFixture("100")
	seedClosablePosition(f, "10", "600", "600")

	releaseRef, err := f.svc.ClosePosition(context.Background(), "pos-1", dec("100"), "dest-addr")
	require.NoError(t, err)
	assert.Equal(t, "release-1", releaseRef)

	// collateralToReturn = (100/100) * (100/166.67) = 0.6
	require.Len(t, f.collateral.releases, 1)
	assert.True(t, f.collateral.releases[0].amount.Round(6).Equal(dec("0.6")),
		"collateral returned %s", f.collateral.releases[0].amount)
	assert.Equal(t, "lock-0", f.collateral.releases[0].lockRef)
	assert.Equal(t, "dest-addr", f.collateral.releases[0].address)

	require.Len(t, f.stablecoin.burns, 1)
	assert.True(t, f.stablecoin.burns[0].amount.Equal(dec("100")))

	pos, err := f.positions.GetByID(context.Background(), "pos-1")
	require.NoError(t, err)
	assert.True(t, pos.StablecoinDebt.Equal(dec("500")))
	assert.True(t, pos.StablecoinBalance.Equal(dec("500")))
	assert.True(t, pos.CollateralAmount.Round(6).Equal(dec("9.4")))

	assert.True(t, f.params.params.TotalDebt.Equal(dec("-100")))
	assert.True(t, f.params.params.TotalStablecoinSupply.Equal(dec("-100")))

	redeems := f.txs.byType(domain.TxRedeem)
	require.Len(t, redeems, 1)
	assert.Equal(t, domain.TxCompleted, redeems[0].Status)
	assert.Len(t, f.bus.byType(domain.EventPositionClosed), 1)
}

func TestClosePositionNotFound(t *testing.T) {
	f := newMintFixture("100")
	_, err := f.svc.ClosePosition(context.Background(), "missing", dec("100"), "dest")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestClosePositionRejectsAmountOverBalance(t *testing.T) {
	f := newMintFixture("100")
	seedClosablePosition(f, "10", "600", "600")

	_, err := f.svc.ClosePosition(context.Background(), "pos-1", dec("700"), "dest")
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
	assert.Empty(t, f.stablecoin.burns)
}

func TestClosePositionRejectsUnsafeRedemption(t *testing.T) {
	// At price 50 the position is under-collateralized (ratio 83.3); redeeming
	// at its own ratio pushes the projected ratio even lower.
	f := newMintFixture("50")
	seedClosablePosition(f, "10", "600", "600")

	_, err := f.svc.ClosePosition(context.Background(), "pos-1", dec("100"), "dest")
	assert.ErrorIs(t, err, domain.ErrRedemptionUnsafe)
	assert.Empty(t, f.stablecoin.burns, "no ledger calls after a safety rejection")
	assert.Empty(t, f.collateral.releases)

	pos, _ := f.positions.GetByID(context.Background(), "pos-1")
	assert.True(t, pos.StablecoinBalance.Equal(dec("600")), "position unchanged")
}

func TestClosePositionReleaseFailureRollsBackEverything(t *testing.T) {
	f := newMintFixture("100")
	seedClosablePosition(f, "10", "600", "600")
	f.collateral.releaseErr = errors.New("release rejected")

	_, err := f.svc.ClosePosition(context.Background(), "pos-1", dec("100"), "dest")
	require.Error(t, err)

	// The burn committed, so compensation re-mints the burned amount once.
	require.Len(t, f.stablecoin.burns, 1)
	require.Len(t, f.stablecoin.mints, 1)
	assert.True(t, f.stablecoin.mints[0].amount.Equal(dec("100")))
	assert.Equal(t, "stab-addr", f.stablecoin.mints[0].address)

	// Record and totals restored to their pre-close values.
	pos, _ := f.positions.GetByID(context.Background(), "pos-1")
	assert.True(t, pos.StablecoinDebt.Equal(dec("600")))
	assert.True(t, pos.CollateralAmount.Equal(dec("10")))
	assert.True(t, f.params.params.TotalDebt.IsZero())
	assert.True(t, f.params.params.TotalStablecoinSupply.IsZero())

	redeems := f.txs.byType(domain.TxRedeem)
	require.Len(t, redeems, 1)
	assert.Equal(t, domain.TxFailed, redeems[0].Status)
	assert.Empty(t, f.escalated)
}

func TestClosePositionPersistFailureNeverReleasesCollateral(t *testing.T) {
	f := newMintFixture("100")
	seedClosablePosition(f, "10", "600", "600")
	f.positions.updateErr = errors.New("db down")
	f.positions.failUpdateAt = 1

	_, err := f.svc.ClosePosition(context.Background(), "pos-1", dec("100"), "dest")
	require.Error(t, err)

	// Collateral must stay locked: the caller can never end up holding both
	// the released collateral and the re-minted tokens.
	assert.Empty(t, f.collateral.releases)
	require.Len(t, f.stablecoin.burns, 1)
	require.Len(t, f.stablecoin.mints, 1, "burned amount re-minted")
	assert.True(t, f.params.params.TotalDebt.IsZero(), "totals restored")

	pos, _ := f.positions.GetByID(context.Background(), "pos-1")
	assert.True(t, pos.CollateralAmount.Equal(dec("10")))
	assert.True(t, pos.StablecoinBalance.Equal(dec("600")))

	redeems := f.txs.byType(domain.TxRedeem)
	require.Len(t, redeems, 1)
	assert.Equal(t, domain.TxFailed, redeems[0].Status)
	assert.Empty(t, f.escalated)
}

func TestClosePositionLiquidatedRejected(t *testing.T) {
	f := newMintFixture("100")
	pos := seedClosablePosition(f, "10", "600", "600")
	pos.Liquidated = true
	f.positions.positions[pos.ID] = pos

	_, err := f.svc.ClosePosition(context.Background(), "pos-1", dec("100"), "dest")
	assert.ErrorIs(t, err, domain.ErrPositionLiquidated)
}
