package lending

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

// mockAccountStore returns deep copies on load, matching the isolation the
// real JSON-backed store provides: nothing leaks until SaveBank/SavePosition.
type mockAccountStore struct {
	banks     map[AssetID]*Bank
	positions map[AccountRef]*Position
}

func newMockAccountStore() *mockAccountStore {
	return &mockAccountStore{
		banks:     make(map[AssetID]*Bank),
		positions: make(map[AccountRef]*Position),
	}
}

func (m *mockAccountStore) LoadBank(asset AssetID) (*Bank, error) {
	bank, ok := m.banks[asset]
	if !ok {
		return nil, nil
	}
	clone := *bank
	return &clone, nil
}

func (m *mockAccountStore) SaveBank(bank *Bank) error {
	clone := *bank
	m.banks[bank.Asset] = &clone
	return nil
}

func (m *mockAccountStore) LoadPosition(owner AccountRef) (*Position, error) {
	position, ok := m.positions[owner]
	if !ok {
		return nil, nil
	}
	clone := *position
	clone.Holdings = append([]Holding(nil), position.Holdings...)
	return &clone, nil
}

func (m *mockAccountStore) SavePosition(position *Position) error {
	clone := *position
	clone.Holdings = append([]Holding(nil), position.Holdings...)
	m.positions[position.Owner] = &clone
	return nil
}

func (m *mockAccountStore) Commit(position *Position, banks ...*Bank) error {
	for _, bank := range banks {
		if err := m.SaveBank(bank); err != nil {
			return err
		}
	}
	return m.SavePosition(position)
}

type transferCall struct {
	from, to AccountRef
	asset    AssetID
	amount   uint64
}

type mockTransferService struct {
	calls   []transferCall
	failErr error
}

func (m *mockTransferService) Transfer(from, to AccountRef, asset AssetID, amount uint64) error {
	if m.failErr != nil {
		return m.failErr
	}
	m.calls = append(m.calls, transferCall{from: from, to: to, asset: asset, amount: amount})
	return nil
}

type mockOracle struct {
	prices map[AssetID]Price
}

func (m *mockOracle) GetPrice(asset AssetID, _ time.Duration) (Price, error) {
	price, ok := m.prices[asset]
	if !ok {
		return Price{}, fmt.Errorf("no price for %s", asset)
	}
	return price, nil
}

type manualClock struct {
	now int64
}

func (c *manualClock) Now() int64 { return c.now }

const (
	assetSOL  = AssetID("SOL")
	assetUSDC = AssetID("USDC")
)

type engineFixture struct {
	engine    *Engine
	store     *mockAccountStore
	transfers *mockTransferService
	oracle    *mockOracle
	clock     *manualClock
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	store := newMockAccountStore()
	transfers := &mockTransferService{}
	prices := &mockOracle{prices: map[AssetID]Price{
		assetSOL:  {Value: 100, AsOf: 0},
		assetUSDC: {Value: 1, AsOf: 0},
	}}
	clock := &manualClock{now: 1_700_000_000}
	engine := NewEngine(store, transfers, prices, clock)
	return &engineFixture{engine: engine, store: store, transfers: transfers, oracle: prices, clock: clock}
}

func (f *engineFixture) initBank(t *testing.T, asset AssetID, params BankParams) *Bank {
	t.Helper()
	bank, err := f.engine.InitBank(asset, params)
	if err != nil {
		t.Fatalf("init bank %s: %v", asset, err)
	}
	return bank
}

func zeroRateParams() BankParams {
	return BankParams{
		LiquidationThresholdBps:   8000,
		MaxLTVBps:                 7500,
		LiquidationBonusBps:       1000,
		LiquidationCloseFactorBps: 5000,
	}
}

func TestInitBankRejectsDuplicate(t *testing.T) {
	f := newEngineFixture(t)
	f.initBank(t, assetSOL, zeroRateParams())
	if _, err := f.engine.InitBank(assetSOL, zeroRateParams()); !errors.Is(err, ErrBankExists) {
		t.Fatalf("expected ErrBankExists, got %v", err)
	}
}

func TestDepositBootstrapMintsOneToOne(t *testing.T) {
	f := newEngineFixture(t)
	f.initBank(t, assetSOL, zeroRateParams())

	shares, err := f.engine.Deposit("alice", assetSOL, 1000)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if shares != 1000 {
		t.Fatalf("bootstrap shares: got %d want 1000", shares)
	}
	bank := f.store.banks[assetSOL]
	if bank.TotalDeposits != 1000 || bank.TotalDepositShares != 1000 {
		t.Fatalf("bank totals: got %d/%d want 1000/1000", bank.TotalDeposits, bank.TotalDepositShares)
	}
	if len(f.transfers.calls) != 1 {
		t.Fatalf("expected one transfer, got %d", len(f.transfers.calls))
	}
	call := f.transfers.calls[0]
	if call.from != "alice" || call.to != bank.Custody || call.amount != 1000 {
		t.Fatalf("unexpected transfer %+v", call)
	}
}

func TestDepositRejectsZeroAmount(t *testing.T) {
	f := newEngineFixture(t)
	f.initBank(t, assetSOL, zeroRateParams())
	if _, err := f.engine.Deposit("alice", assetSOL, 0); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestDepositUnknownBank(t *testing.T) {
	f := newEngineFixture(t)
	if _, err := f.engine.Deposit("alice", assetSOL, 100); !errors.Is(err, ErrBankNotFound) {
		t.Fatalf("expected ErrBankNotFound, got %v", err)
	}
}

func TestDepositTransferFailureLeavesStateUntouched(t *testing.T) {
	f := newEngineFixture(t)
	f.initBank(t, assetSOL, zeroRateParams())
	before := *f.store.banks[assetSOL]

	f.transfers.failErr = errors.New("vault: insufficient balance")
	_, err := f.engine.Deposit("alice", assetSOL, 500)
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
	after := *f.store.banks[assetSOL]
	if after != before {
		t.Fatalf("bank mutated on failed transfer: %+v != %+v", after, before)
	}
	if _, ok := f.store.positions["alice"]; ok {
		t.Fatalf("position created despite failed transfer")
	}
}

// The canonical two-depositor scenario: bootstrap, pro-rata second deposit,
// then a full first-depositor withdrawal leaving the second depositor whole.
func TestDepositWithdrawScenario(t *testing.T) {
	f := newEngineFixture(t)
	f.initBank(t, assetSOL, zeroRateParams())

	shares, err := f.engine.Deposit("alice", assetSOL, 1_000_000)
	if err != nil {
		t.Fatalf("first deposit: %v", err)
	}
	if shares != 1_000_000 {
		t.Fatalf("first deposit shares: got %d want 1000000", shares)
	}

	shares, err = f.engine.Deposit("bob", assetSOL, 500_000)
	if err != nil {
		t.Fatalf("second deposit: %v", err)
	}
	if shares != 500_000 {
		t.Fatalf("second deposit shares: got %d want 500000", shares)
	}

	burned, err := f.engine.Withdraw("alice", assetSOL, 1_000_000)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if burned != 1_000_000 {
		t.Fatalf("burned shares: got %d want 1000000", burned)
	}

	bank := f.store.banks[assetSOL]
	if bank.TotalDeposits != 500_000 || bank.TotalDepositShares != 500_000 {
		t.Fatalf("bank totals after withdraw: got %d/%d want 500000/500000", bank.TotalDeposits, bank.TotalDepositShares)
	}
	alice := f.store.positions["alice"].Holding(assetSOL)
	if alice.DepositedAmount != 0 || alice.DepositedShares != 0 {
		t.Fatalf("alice holding not cleared: %+v", alice)
	}
}

func TestWithdrawBound(t *testing.T) {
	f := newEngineFixture(t)
	f.initBank(t, assetSOL, zeroRateParams())
	if _, err := f.engine.Deposit("alice", assetSOL, 1000); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	if _, err := f.engine.Withdraw("alice", assetSOL, 1001); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	bank := f.store.banks[assetSOL]
	if bank.TotalDeposits != 1000 || bank.TotalDepositShares != 1000 {
		t.Fatalf("failed withdraw mutated bank: %+v", bank)
	}
}

func TestWithdrawNoDeposit(t *testing.T) {
	f := newEngineFixture(t)
	f.initBank(t, assetSOL, zeroRateParams())
	if _, err := f.engine.Withdraw("alice", assetSOL, 1); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

// Share conservation: user share balances never sum above the bank's share
// total, and the difference only ever favours the pool.
func TestShareConservationUnderAccrual(t *testing.T) {
	f := newEngineFixture(t)
	params := zeroRateParams()
	params.InterestRateBps = 500 // 5% annual
	f.initBank(t, assetSOL, params)

	users := []AccountRef{"u1", "u2", "u3"}
	amounts := []uint64{1_000_000, 333_333, 777_777}
	for i, user := range users {
		if _, err := f.engine.Deposit(user, assetSOL, amounts[i]); err != nil {
			t.Fatalf("deposit %s: %v", user, err)
		}
		f.clock.now += 90 * 24 * 3600
	}
	if _, err := f.engine.Withdraw("u2", assetSOL, 100_000); err != nil {
		t.Fatalf("withdraw u2: %v", err)
	}

	bank := f.store.banks[assetSOL]
	var sum uint64
	for _, user := range users {
		sum += f.store.positions[user].Holding(assetSOL).DepositedShares
	}
	if sum > bank.TotalDepositShares {
		t.Fatalf("user shares %d exceed bank total %d", sum, bank.TotalDepositShares)
	}
}

// After positive accrual the value of a fixed share count must not decrease.
func TestExchangeRateMonotonicity(t *testing.T) {
	f := newEngineFixture(t)
	params := zeroRateParams()
	params.InterestRateBps = 500
	f.initBank(t, assetSOL, params)
	if _, err := f.engine.Deposit("alice", assetSOL, 1_000_000); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	bank := f.store.banks[assetSOL]
	before, err := sharesToAmount(1_000_000, bank.TotalDeposits, bank.TotalDepositShares)
	if err != nil {
		t.Fatalf("shares to amount: %v", err)
	}

	f.clock.now += 365 * 24 * 3600
	// Trigger accrual with a minimal touch.
	if _, err := f.engine.Deposit("bob", assetSOL, 1); err != nil {
		t.Fatalf("second deposit: %v", err)
	}

	bank = f.store.banks[assetSOL]
	after, err := sharesToAmount(1_000_000, bank.TotalDeposits, bank.TotalDepositShares)
	if err != nil {
		t.Fatalf("shares to amount: %v", err)
	}
	if after <= before {
		t.Fatalf("expected positive accrual over a year at 5%%: %d -> %d", before, after)
	}
}

func TestBorrowAgainstCollateral(t *testing.T) {
	f := newEngineFixture(t)
	f.initBank(t, assetSOL, zeroRateParams())
	f.initBank(t, assetUSDC, zeroRateParams())
	if _, err := f.engine.Deposit("alice", assetSOL, 1000); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	// 1000 SOL at price 100 weighted by the 80% threshold caps borrow value
	// at 80_000 USDC-equivalent.
	shares, err := f.engine.Borrow("alice", assetUSDC, assetSOL, 50_000)
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if shares != 50_000 {
		t.Fatalf("borrow bootstrap shares: got %d want 50000", shares)
	}
	bank := f.store.banks[assetUSDC]
	if bank.TotalBorrows != 50_000 || bank.TotalBorrowShares != 50_000 {
		t.Fatalf("borrow totals: got %d/%d", bank.TotalBorrows, bank.TotalBorrowShares)
	}
	holding := f.store.positions["alice"].Holding(assetUSDC)
	if holding.BorrowedAmount != 50_000 || holding.BorrowedShares != 50_000 {
		t.Fatalf("borrowed holding: %+v", holding)
	}
}

// Interest earned on the collateral between operations must survive the
// borrow: the holding is re-based on the accrued value when LastUpdated moves.
func TestBorrowRebasesCollateralAccrual(t *testing.T) {
	f := newEngineFixture(t)
	params := zeroRateParams()
	params.InterestRateBps = 500
	f.initBank(t, assetSOL, params)
	f.initBank(t, assetUSDC, zeroRateParams())
	if _, err := f.engine.Deposit("alice", assetSOL, 1000); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	f.clock.now += secondsPerYear
	if _, err := f.engine.Borrow("alice", assetUSDC, assetSOL, 100); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	// floor(1000 * e^0.05) = 1051.
	holding := f.store.positions["alice"].Holding(assetSOL)
	if holding.DepositedAmount != 1051 {
		t.Fatalf("collateral not re-based: got %d want 1051", holding.DepositedAmount)
	}

	// A follow-up valuation from the stored amount must see the interest.
	report, err := f.engine.PositionHealth("alice", assetSOL, assetUSDC)
	if err != nil {
		t.Fatalf("position health: %v", err)
	}
	if report.CollateralValue != 1051*100 {
		t.Fatalf("collateral value: got %d want %d", report.CollateralValue, 1051*100)
	}
}

func TestBorrowOverBorrowableAmount(t *testing.T) {
	f := newEngineFixture(t)
	f.initBank(t, assetSOL, zeroRateParams())
	f.initBank(t, assetUSDC, zeroRateParams())
	if _, err := f.engine.Deposit("alice", assetSOL, 1000); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	if _, err := f.engine.Borrow("alice", assetUSDC, assetSOL, 80_001); !errors.Is(err, ErrOverBorrowableAmount) {
		t.Fatalf("expected ErrOverBorrowableAmount, got %v", err)
	}
}

func TestBorrowRequiresFreshPrices(t *testing.T) {
	f := newEngineFixture(t)
	f.initBank(t, assetSOL, zeroRateParams())
	f.initBank(t, assetUSDC, zeroRateParams())
	delete(f.oracle.prices, assetUSDC)

	if _, err := f.engine.Borrow("alice", assetUSDC, assetSOL, 1); !errors.Is(err, ErrStalePriceFeed) {
		t.Fatalf("expected ErrStalePriceFeed, got %v", err)
	}
}

func TestRepayBound(t *testing.T) {
	f := newEngineFixture(t)
	f.initBank(t, assetSOL, zeroRateParams())
	f.initBank(t, assetUSDC, zeroRateParams())
	if _, err := f.engine.Deposit("alice", assetSOL, 1000); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := f.engine.Borrow("alice", assetUSDC, assetSOL, 10_000); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	if _, err := f.engine.Repay("alice", assetUSDC, 10_001); !errors.Is(err, ErrOverRepay) {
		t.Fatalf("expected ErrOverRepay, got %v", err)
	}

	burned, err := f.engine.Repay("alice", assetUSDC, 10_000)
	if err != nil {
		t.Fatalf("repay: %v", err)
	}
	if burned != 10_000 {
		t.Fatalf("repaid shares: got %d want 10000", burned)
	}
	bank := f.store.banks[assetUSDC]
	if bank.TotalBorrows != 0 || bank.TotalBorrowShares != 0 {
		t.Fatalf("borrow totals not cleared: %d/%d", bank.TotalBorrows, bank.TotalBorrowShares)
	}
	holding := f.store.positions["alice"].Holding(assetUSDC)
	if holding.BorrowedAmount != 0 || holding.BorrowedShares != 0 {
		t.Fatalf("borrowed holding not cleared: %+v", holding)
	}
}

type pauseAll struct{}

func (pauseAll) IsPaused(string) bool { return true }

func TestPauseGuardBlocksOperations(t *testing.T) {
	f := newEngineFixture(t)
	f.initBank(t, assetSOL, zeroRateParams())
	f.engine.SetPauses(pauseAll{})

	if _, err := f.engine.Deposit("alice", assetSOL, 100); err == nil {
		t.Fatalf("expected pause guard to reject deposit")
	}
}

func TestNegativeElapsedTimeFailsFast(t *testing.T) {
	f := newEngineFixture(t)
	f.initBank(t, assetSOL, zeroRateParams())
	if _, err := f.engine.Deposit("alice", assetSOL, 100); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	f.clock.now -= 3600
	if _, err := f.engine.Deposit("alice", assetSOL, 100); !errors.Is(err, ErrInvalidElapsedTime) {
		t.Fatalf("expected ErrInvalidElapsedTime, got %v", err)
	}
}
