// Package account implements the sandbox cash account a backtest trades
// against. Cash is tracked as an append-only ledger of signed entries so the
// full funding and trading history of a run stays auditable.
package account

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opentradelab/turtle-backtest/pkg/errors"
)

// EntryKind classifies a ledger entry by where the cash movement came from.
type EntryKind string

const (
	EntryKindDeposit    EntryKind = "deposit"
	EntryKindWithdrawal EntryKind = "withdrawal"
	EntryKindTrade      EntryKind = "trade"
)

// Entry is one immutable cash movement. Amount is signed: positive entries
// add cash, negative entries remove it.
type Entry struct {
	Kind      EntryKind
	Amount    decimal.Decimal
	Reason    string
	CreatedAt time.Time
}

// Account is a cash account backed by an append-only ledger. The balance is
// derived from the ledger and cached until the next entry is appended.
type Account struct {
	mu sync.Mutex

	id       string
	currency string
	entries  []Entry

	balance      decimal.Decimal
	balanceValid bool
}

// NewAccount creates an empty account holding the given currency.
func NewAccount(id, currency string) *Account {
	return &Account{
		id:       id,
		currency: currency,
	}
}

// ID returns the account identifier.
func (a *Account) ID() string {
	return a.id
}

// Currency returns the currency the account is denominated in.
func (a *Account) Currency() string {
	return a.currency
}

// Deposit adds funds to the account.
func (a *Account) Deposit(amount float64, at time.Time) error {
	if amount <= 0 {
		return errors.Newf(errors.ErrCodeInvalidParameter, "deposit amount must be positive, got %f", amount)
	}

	a.append(Entry{
		Kind:      EntryKindDeposit,
		Amount:    decimal.NewFromFloat(amount),
		Reason:    "deposit",
		CreatedAt: at,
	})

	return nil
}

// Withdraw removes funds from the account. The withdrawal is rejected when it
// would take the balance below zero.
func (a *Account) Withdraw(amount float64, at time.Time) error {
	if amount <= 0 {
		return errors.Newf(errors.ErrCodeInvalidParameter, "withdrawal amount must be positive, got %f", amount)
	}

	withdrawal := decimal.NewFromFloat(amount)
	if withdrawal.GreaterThan(a.balanceDecimal()) {
		return errors.Newf(errors.ErrCodeInvalidTrade, "withdrawal of %f exceeds balance of %s", amount, a.balanceDecimal())
	}

	a.append(Entry{
		Kind:      EntryKindWithdrawal,
		Amount:    withdrawal.Neg(),
		Reason:    "withdrawal",
		CreatedAt: at,
	})

	return nil
}

// Debit removes cash paid out by a trade. Unlike Withdraw it allows the
// balance to go negative; refusing trades for lack of cash is the trading
// engine's call, not the ledger's.
func (a *Account) Debit(amount float64, reason string, at time.Time) {
	a.append(Entry{
		Kind:      EntryKindTrade,
		Amount:    decimal.NewFromFloat(amount).Neg(),
		Reason:    reason,
		CreatedAt: at,
	})
}

// Credit adds cash received from a trade.
func (a *Account) Credit(amount float64, reason string, at time.Time) {
	a.append(Entry{
		Kind:      EntryKindTrade,
		Amount:    decimal.NewFromFloat(amount),
		Reason:    reason,
		CreatedAt: at,
	})
}

// Balance returns the current cash balance.
func (a *Account) Balance() float64 {
	balance, _ := a.balanceDecimal().Float64()

	return balance
}

// TotalDeposited returns the sum of all deposits made into the account.
func (a *Account) TotalDeposited() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	total := decimal.Zero
	for _, entry := range a.entries {
		if entry.Kind == EntryKindDeposit {
			total = total.Add(entry.Amount)
		}
	}

	deposited, _ := total.Float64()

	return deposited
}

// Entries returns a copy of the ledger in append order.
func (a *Account) Entries() []Entry {
	a.mu.Lock()
	defer a.mu.Unlock()

	entries := make([]Entry, len(a.entries))
	copy(entries, a.entries)

	return entries
}

func (a *Account) append(entry Entry) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.entries = append(a.entries, entry)
	a.balanceValid = false
}

func (a *Account) balanceDecimal() decimal.Decimal {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.balanceValid {
		balance := decimal.Zero
		for _, entry := range a.entries {
			balance = balance.Add(entry.Amount)
		}
		a.balance = balance
		a.balanceValid = true
	}

	return a.balance
}
