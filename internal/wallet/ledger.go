// Package wallet implements the ledger that is the single source of truth
// for spendable balance. It pairs atomic debit/credit operations with an
// append-only transaction log; the two are tied together by the engine,
// which never mutates the balance without appending a matching record.
package wallet

import (
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cdex/paper-engine/internal/model"
)

// ErrInsufficientBalance is returned by Debit when the requested amount
// exceeds the current balance. The balance is left unchanged.
var ErrInsufficientBalance = errors.New("wallet: insufficient balance")

// DefaultSettlementDelay models network confirmation latency before a
// pending transaction completes.
const DefaultSettlementDelay = 1500 * time.Millisecond

// Settler schedules the asynchronous pending → completed transition.
// The default uses a real timer; tests substitute SyncSettler.
type Settler interface {
	Schedule(d time.Duration, fn func())
}

type timerSettler struct{}

func (timerSettler) Schedule(d time.Duration, fn func()) { time.AfterFunc(d, fn) }

// SyncSettler runs settlement callbacks immediately, letting tests observe
// completed transactions without waiting on timers.
type SyncSettler struct{}

func (SyncSettler) Schedule(_ time.Duration, fn func()) { fn() }

// Draft is the caller-supplied part of a transaction. ID, hash, timestamp
// and status are assigned by the ledger.
type Draft struct {
	Type        model.TxType
	Amount      decimal.Decimal
	Description string
	Details     *model.TxDetails
}

// Ledger holds the balance and the ordered transaction log.
// All operations are serialized under a single mutex so a later
// affordability check always observes the immediately prior balance.
type Ledger struct {
	mu          sync.Mutex
	balance     decimal.Decimal
	txs         []model.Transaction // chronological order
	token       string
	settleDelay time.Duration
	settler     Settler
	now         func() time.Time
	rng         *rand.Rand
	onChange    func()
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithSettlementDelay overrides the pending → completed delay.
func WithSettlementDelay(d time.Duration) Option {
	return func(l *Ledger) { l.settleDelay = d }
}

// WithSettler substitutes the settlement scheduler.
func WithSettler(s Settler) Option {
	return func(l *Ledger) { l.settler = s }
}

// WithClock substitutes the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithRand substitutes the randomness source used for settlement hashes.
func WithRand(rng *rand.Rand) Option {
	return func(l *Ledger) { l.rng = rng }
}

// SetOnChange registers a hook invoked after every state change,
// including asynchronous settlement. Used for write-through persistence.
// Must be set before the ledger is shared across goroutines.
func (l *Ledger) SetOnChange(fn func()) { l.onChange = fn }

// NewLedger creates a ledger with the given starting balance and token.
func NewLedger(initial decimal.Decimal, token string, opts ...Option) *Ledger {
	l := &Ledger{
		balance:     initial,
		token:       token,
		settleDelay: DefaultSettlementDelay,
		settler:     timerSettler{},
		now:         time.Now,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Balance returns the current spendable balance.
func (l *Ledger) Balance() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balance
}

// Debit atomically decreases the balance. It fails without any state
// change when the amount exceeds the balance — the balance can never
// go negative.
func (l *Ledger) Debit(amount decimal.Decimal) error {
	l.mu.Lock()
	if amount.GreaterThan(l.balance) {
		l.mu.Unlock()
		return ErrInsufficientBalance
	}
	l.balance = l.balance.Sub(amount)
	l.mu.Unlock()

	l.notify()
	return nil
}

// Credit atomically increases the balance. Always succeeds.
func (l *Ledger) Credit(amount decimal.Decimal) {
	l.mu.Lock()
	l.balance = l.balance.Add(amount)
	l.mu.Unlock()

	l.notify()
}

// Append records a transaction in pending status, assigning its id,
// settlement hash and timestamp synchronously. The status transitions
// to completed after the settlement delay; callers must not treat the
// transaction as final until then. Once accepted it always settles.
func (l *Ledger) Append(draft Draft) model.Transaction {
	l.mu.Lock()
	tx := model.Transaction{
		ID:          uuid.New().String(),
		Type:        draft.Type,
		Amount:      draft.Amount,
		Token:       l.token,
		Status:      model.TxPending,
		Timestamp:   l.now().UTC(),
		Hash:        l.genHash(),
		Description: draft.Description,
		Details:     draft.Details,
	}
	l.txs = append(l.txs, tx)
	l.mu.Unlock()

	l.notify()
	l.settler.Schedule(l.settleDelay, func() { l.settle(tx.ID) })
	return tx
}

// settle marks a pending transaction completed. Status transitions are
// monotonic; a transaction that is already terminal is left alone.
func (l *Ledger) settle(id string) {
	l.mu.Lock()
	for i := range l.txs {
		if l.txs[i].ID == id && l.txs[i].Status == model.TxPending {
			l.txs[i].Status = model.TxCompleted
			break
		}
	}
	l.mu.Unlock()

	l.notify()
}

// Transaction returns the record with the given id.
func (l *Ledger) Transaction(id string) (model.Transaction, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, tx := range l.txs {
		if tx.ID == id {
			return tx, true
		}
	}
	return model.Transaction{}, false
}

// Transactions returns the log newest-first.
func (l *Ledger) Transactions() []model.Transaction {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]model.Transaction, len(l.txs))
	for i, tx := range l.txs {
		out[len(l.txs)-1-i] = tx
	}
	return out
}

// Snapshot returns the persistable wallet state in chronological order.
func (l *Ledger) Snapshot() model.WalletState {
	l.mu.Lock()
	defer l.mu.Unlock()

	txs := make([]model.Transaction, len(l.txs))
	copy(txs, l.txs)
	return model.WalletState{Balance: l.balance, Transactions: txs}
}

// Restore replaces the ledger state, typically at startup from the
// persistence adapter. Pending transactions from a previous session are
// considered confirmed: once accepted they always eventually settle.
func (l *Ledger) Restore(state model.WalletState) {
	l.mu.Lock()
	l.balance = state.Balance
	l.txs = make([]model.Transaction, len(state.Transactions))
	copy(l.txs, state.Transactions)
	for i := range l.txs {
		if l.txs[i].Status == model.TxPending {
			l.txs[i].Status = model.TxCompleted
		}
	}
	l.mu.Unlock()
}

func (l *Ledger) notify() {
	if l.onChange != nil {
		l.onChange()
	}
}

const hashChars = "0123456789abcdef"

// genHash produces an opaque 0x-prefixed settlement hash. Caller must
// hold l.mu (the rng is not safe for concurrent use).
func (l *Ledger) genHash() string {
	buf := make([]byte, 0, 66)
	buf = append(buf, '0', 'x')
	for i := 0; i < 64; i++ {
		buf = append(buf, hashChars[l.rng.Intn(len(hashChars))])
	}
	return string(buf)
}
