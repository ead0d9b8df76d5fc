package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/stablemint/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// ---------------------------------------------------------------------------
// Stores
// ---------------------------------------------------------------------------

type fakePositionStore struct {
	mu        sync.Mutex
	positions map[string]domain.Position
	createErr error
	updateErr error
	// failUpdateAt is the 1-based Update call that returns updateErr; zero
	// makes every call fail.
	failUpdateAt int
	updateCalls  int
}

func newFakePositionStore() *fakePositionStore {
	return &fakePositionStore{positions: make(map[string]domain.Position)}
}

func (f *fakePositionStore) Create(_ context.Context, pos domain.Position) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	if _, ok := f.positions[pos.ID]; ok {
		return domain.ErrAlreadyExists
	}
	f.positions[pos.ID] = pos
	return nil
}

func (f *fakePositionStore) Update(_ context.Context, pos domain.Position) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateCalls++
	if f.updateErr != nil && (f.failUpdateAt == 0 || f.updateCalls == f.failUpdateAt) {
		return f.updateErr
	}
	if _, ok := f.positions[pos.ID]; !ok {
		return domain.ErrNotFound
	}
	f.positions[pos.ID] = pos
	return nil
}

func (f *fakePositionStore) GetByID(_ context.Context, id string) (domain.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pos, ok := f.positions[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return pos, nil
}

func (f *fakePositionStore) ListActive(_ context.Context) ([]domain.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Position
	for _, pos := range f.positions {
		p := pos
		if p.Active() {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakePositionStore) ListByAccount(_ context.Context, accountID string, _ domain.ListOpts) ([]domain.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Position
	for _, pos := range f.positions {
		if pos.AccountID == accountID {
			out = append(out, pos)
		}
	}
	return out, nil
}

type fakeTransactionStore struct {
	mu           sync.Mutex
	transactions map[string]domain.Transaction
}

func newFakeTransactionStore() *fakeTransactionStore {
	return &fakeTransactionStore{transactions: make(map[string]domain.Transaction)}
}

func (f *fakeTransactionStore) Create(_ context.Context, tx domain.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transactions[tx.ID] = tx
	return nil
}

func (f *fakeTransactionStore) Complete(_ context.Context, id string, status domain.TransactionStatus, collateralRef, stablecoinRef, errDetail string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx, ok := f.transactions[id]
	if !ok {
		return domain.ErrNotFound
	}
	now := time.Now().UTC()
	tx.Status = status
	tx.CollateralRef = collateralRef
	tx.StablecoinRef = stablecoinRef
	tx.ErrorDetail = errDetail
	tx.CompletedAt = &now
	f.transactions[id] = tx
	return nil
}

func (f *fakeTransactionStore) GetByID(_ context.Context, id string) (domain.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx, ok := f.transactions[id]
	if !ok {
		return domain.Transaction{}, domain.ErrNotFound
	}
	return tx, nil
}

func (f *fakeTransactionStore) ListByPosition(_ context.Context, positionID string, _ domain.ListOpts) ([]domain.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Transaction
	for _, tx := range f.transactions {
		if tx.PositionID == positionID {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (f *fakeTransactionStore) ListCompletedBefore(_ context.Context, before time.Time) ([]domain.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Transaction
	for _, tx := range f.transactions {
		if tx.Status != domain.TxPending && tx.CreatedAt.Before(before) {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (f *fakeTransactionStore) DeleteCompletedBefore(_ context.Context, before time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, tx := range f.transactions {
		if tx.Status != domain.TxPending && tx.CreatedAt.Before(before) {
			delete(f.transactions, id)
			n++
		}
	}
	return n, nil
}

// byType returns all recorded transactions of the given type.
func (f *fakeTransactionStore) byType(t domain.TransactionType) []domain.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Transaction
	for _, tx := range f.transactions {
		if tx.Type == t {
			out = append(out, tx)
		}
	}
	return out
}

type fakeParamsStore struct {
	mu     sync.Mutex
	params domain.SystemParameters
	deltas []domain.TotalsDelta
	getErr error
	adjErr error
}

func newFakeParamsStore(params domain.SystemParameters) *fakeParamsStore {
	return &fakeParamsStore{params: params}
}

func (f *fakeParamsStore) Get(_ context.Context) (domain.SystemParameters, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return domain.SystemParameters{}, f.getErr
	}
	return f.params, nil
}

func (f *fakeParamsStore) EnsureDefaults(_ context.Context, params domain.SystemParameters) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.params = params
	return nil
}

func (f *fakeParamsStore) AdjustTotals(_ context.Context, delta domain.TotalsDelta) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.adjErr != nil {
		return f.adjErr
	}
	f.deltas = append(f.deltas, delta)
	f.params.TotalCollateralLocked = f.params.TotalCollateralLocked.Add(delta.CollateralLocked)
	f.params.TotalStablecoinSupply = f.params.TotalStablecoinSupply.Add(delta.StablecoinSupply)
	f.params.TotalDebt = f.params.TotalDebt.Add(delta.Debt)
	return nil
}

// ---------------------------------------------------------------------------
// Ledgers, oracle, vault
// ---------------------------------------------------------------------------

type fakeOracle struct {
	price decimal.Decimal
	err   error
	calls int
}

func (f *fakeOracle) GetPrice(_ context.Context, _ string) (decimal.Decimal, error) {
	f.calls++
	if f.err != nil {
		return decimal.Zero, f.err
	}
	return f.price, nil
}

type lockCall struct {
	amount  decimal.Decimal
	address string
}

type releaseCall struct {
	lockRef string
	amount  decimal.Decimal
	address string
}

type seizeCall struct {
	address string
	amount  decimal.Decimal
}

type fakeCollateralLedger struct {
	locks    []lockCall
	releases []releaseCall
	seizes   []seizeCall

	lockErr    error
	releaseErr error
	seizeErr   error
	confirmErr error
}

func (f *fakeCollateralLedger) Lock(_ context.Context, amount decimal.Decimal, _ string, address string) (string, error) {
	if f.lockErr != nil {
		return "", f.lockErr
	}
	f.locks = append(f.locks, lockCall{amount: amount, address: address})
	return fmt.Sprintf("lock-%d", len(f.locks)), nil
}

func (f *fakeCollateralLedger) Release(_ context.Context, lockRef string, amount decimal.Decimal, address string) (string, error) {
	if f.releaseErr != nil {
		return "", f.releaseErr
	}
	f.releases = append(f.releases, releaseCall{lockRef: lockRef, amount: amount, address: address})
	return fmt.Sprintf("release-%d", len(f.releases)), nil
}

func (f *fakeCollateralLedger) Seize(_ context.Context, address string, amount decimal.Decimal) (string, error) {
	if f.seizeErr != nil {
		return "", f.seizeErr
	}
	f.seizes = append(f.seizes, seizeCall{address: address, amount: amount})
	return fmt.Sprintf("seize-%d", len(f.seizes)), nil
}

func (f *fakeCollateralLedger) WaitConfirmation(_ context.Context, _ string) error {
	return f.confirmErr
}

type mintCall struct {
	address       string
	amount        decimal.Decimal
	collateralRef string
	auditKey      string
}

type burnCall struct {
	address    string
	amount     decimal.Decimal
	positionID string
}

type fakeStablecoinLedger struct {
	mints []mintCall
	burns []burnCall

	mintErr error
	burnErr error
}

func (f *fakeStablecoinLedger) Mint(_ context.Context, address string, amount decimal.Decimal, collateralRef, auditKey string) (string, error) {
	if f.mintErr != nil {
		return "", f.mintErr
	}
	f.mints = append(f.mints, mintCall{address: address, amount: amount, collateralRef: collateralRef, auditKey: auditKey})
	return fmt.Sprintf("mint-%d", len(f.mints)), nil
}

func (f *fakeStablecoinLedger) Burn(_ context.Context, address string, amount decimal.Decimal, positionID string) (string, error) {
	if f.burnErr != nil {
		return "", f.burnErr
	}
	f.burns = append(f.burns, burnCall{address: address, amount: amount, positionID: positionID})
	return fmt.Sprintf("burn-%d", len(f.burns)), nil
}

type deployCall struct {
	positionID string
	amount     decimal.Decimal
	strategy   domain.YieldStrategy
}

type fakeVault struct {
	deploys   []deployCall
	deployErr error
}

func (f *fakeVault) Deploy(_ context.Context, positionID string, amount decimal.Decimal, strategy domain.YieldStrategy) (string, error) {
	if f.deployErr != nil {
		return "", f.deployErr
	}
	f.deploys = append(f.deploys, deployCall{positionID: positionID, amount: amount, strategy: strategy})
	return fmt.Sprintf("deploy-%d", len(f.deploys)), nil
}

// ---------------------------------------------------------------------------
// Locks, events
// ---------------------------------------------------------------------------

// memLockManager is an in-process domain.LockManager for tests.
type memLockManager struct {
	mu   sync.Mutex
	held map[string]bool
}

func newMemLockManager() *memLockManager {
	return &memLockManager{held: make(map[string]bool)}
}

func (m *memLockManager) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[key] {
		return nil, domain.ErrLockHeld
	}
	m.held[key] = true
	released := false
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if released {
			return
		}
		released = true
		delete(m.held, key)
	}, nil
}

type fakeEventBus struct {
	mu     sync.Mutex
	events []domain.Event
}

func (f *fakeEventBus) Publish(_ context.Context, event domain.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeEventBus) byType(t string) []domain.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Event
	for _, e := range f.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
