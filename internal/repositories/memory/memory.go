// Package memory is an in-memory WalletRepository. It backs the service and
// concurrency tests and honors the same contract as the Postgres
// implementation: ExecuteInTransaction is atomic (all-or-nothing) and
// transactions are fully serialized, so per-wallet operations linearize.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	domain "payvault/internal/errors"
	"payvault/internal/models"
	"payvault/internal/repositories"

	"github.com/shopspring/decimal"
)

type state struct {
	wallets      map[uint]models.Wallet
	walletOwners map[uint]uint // ownerID -> walletID
	entries      map[uint]models.WalletTransaction
	entryTxIDs   map[string]uint // transactionID -> entryID
	nextWalletID uint
	nextEntryID  uint
}

func newState() *state {
	return &state{
		wallets:      make(map[uint]models.Wallet),
		walletOwners: make(map[uint]uint),
		entries:      make(map[uint]models.WalletTransaction),
		entryTxIDs:   make(map[string]uint),
		nextWalletID: 1,
		nextEntryID:  1,
	}
}

func (s *state) clone() *state {
	c := newState()
	c.nextWalletID = s.nextWalletID
	c.nextEntryID = s.nextEntryID
	for id, w := range s.wallets {
		c.wallets[id] = w
	}
	for owner, id := range s.walletOwners {
		c.walletOwners[owner] = id
	}
	for id, e := range s.entries {
		c.entries[id] = e
	}
	for txID, id := range s.entryTxIDs {
		c.entryTxIDs[txID] = id
	}
	return c
}

// Repository is the lock-protected root. All access, transactional or not,
// serializes on one mutex.
type Repository struct {
	mu sync.Mutex
	st *state
}

func New() *Repository {
	return &Repository{st: newState()}
}

func (r *Repository) ExecuteInTransaction(fn func(tx repositories.WalletRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	work := r.st.clone()
	if err := fn(&txRepo{st: work}); err != nil {
		return err
	}
	r.st = work
	return nil
}

func (r *Repository) GetOrCreate(ownerID uint, currency string) (*models.Wallet, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return getOrCreate(r.st, ownerID, currency)
}

func (r *Repository) GetByID(id uint) (*models.Wallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return getWallet(r.st, id)
}

func (r *Repository) GetByOwnerID(ownerID uint) (*models.Wallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return getWalletByOwner(r.st, ownerID)
}

func (r *Repository) GetByIDForUpdate(id uint) (*models.Wallet, error) {
	return r.GetByID(id)
}

func (r *Repository) Update(wallet *models.Wallet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return updateWallet(r.st, wallet)
}

func (r *Repository) ListSuspendedWithBalance() ([]models.Wallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return listSuspendedWithBalance(r.st)
}

func (r *Repository) CreateEntry(entry *models.WalletTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return createEntry(r.st, entry)
}

func (r *Repository) UpdateEntryStatus(entry *models.WalletTransaction, status models.TransactionStatus, completedAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return updateEntryStatus(r.st, entry, status, completedAt)
}

func (r *Repository) SetEntryMetadata(entry *models.WalletTransaction, metadata models.JSON) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return setEntryMetadata(r.st, entry, metadata)
}

func (r *Repository) GetEntryByTransactionID(transactionID string) (*models.WalletTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return getEntry(r.st, transactionID)
}

func (r *Repository) GetEntryByTransactionIDForUpdate(transactionID string) (*models.WalletTransaction, error) {
	return r.GetEntryByTransactionID(transactionID)
}

func (r *Repository) ListEntries(ctx context.Context, walletID uint, filter repositories.EntryFilter, limit, offset int) ([]models.WalletTransaction, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return listEntries(r.st, walletID, filter, limit, offset)
}

func (r *Repository) SumCompleted(walletID uint) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return sumCompleted(r.st, walletID)
}

func (r *Repository) ListStuckPending(cutoff time.Time) ([]models.WalletTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return listStuckPending(r.st, cutoff)
}

func (r *Repository) DebitTotal(ctx context.Context, walletID uint, start, end time.Time) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return debitTotal(r.st, walletID, start, end)
}

// txRepo is the transactional view handed to ExecuteInTransaction callbacks.
// The root mutex is already held, so no locking here; writes go to a working
// copy that only replaces the root state on success.
type txRepo struct {
	st *state
}

func (t *txRepo) ExecuteInTransaction(fn func(tx repositories.WalletRepository) error) error {
	// Nested transactions join the enclosing one.
	return fn(t)
}

func (t *txRepo) GetOrCreate(ownerID uint, currency string) (*models.Wallet, bool, error) {
	return getOrCreate(t.st, ownerID, currency)
}

func (t *txRepo) GetByID(id uint) (*models.Wallet, error) { return getWallet(t.st, id) }

func (t *txRepo) GetByOwnerID(ownerID uint) (*models.Wallet, error) {
	return getWalletByOwner(t.st, ownerID)
}

func (t *txRepo) GetByIDForUpdate(id uint) (*models.Wallet, error) { return getWallet(t.st, id) }

func (t *txRepo) Update(wallet *models.Wallet) error { return updateWallet(t.st, wallet) }

func (t *txRepo) ListSuspendedWithBalance() ([]models.Wallet, error) {
	return listSuspendedWithBalance(t.st)
}

func (t *txRepo) CreateEntry(entry *models.WalletTransaction) error { return createEntry(t.st, entry) }

func (t *txRepo) UpdateEntryStatus(entry *models.WalletTransaction, status models.TransactionStatus, completedAt *time.Time) error {
	return updateEntryStatus(t.st, entry, status, completedAt)
}

func (t *txRepo) SetEntryMetadata(entry *models.WalletTransaction, metadata models.JSON) error {
	return setEntryMetadata(t.st, entry, metadata)
}

func (t *txRepo) GetEntryByTransactionID(transactionID string) (*models.WalletTransaction, error) {
	return getEntry(t.st, transactionID)
}

func (t *txRepo) GetEntryByTransactionIDForUpdate(transactionID string) (*models.WalletTransaction, error) {
	return getEntry(t.st, transactionID)
}

func (t *txRepo) ListEntries(ctx context.Context, walletID uint, filter repositories.EntryFilter, limit, offset int) ([]models.WalletTransaction, int64, error) {
	return listEntries(t.st, walletID, filter, limit, offset)
}

func (t *txRepo) SumCompleted(walletID uint) (decimal.Decimal, error) {
	return sumCompleted(t.st, walletID)
}

func (t *txRepo) ListStuckPending(cutoff time.Time) ([]models.WalletTransaction, error) {
	return listStuckPending(t.st, cutoff)
}

func (t *txRepo) DebitTotal(ctx context.Context, walletID uint, start, end time.Time) (decimal.Decimal, error) {
	return debitTotal(t.st, walletID, start, end)
}

// shared operations over a state

func getOrCreate(st *state, ownerID uint, currency string) (*models.Wallet, bool, error) {
	if id, ok := st.walletOwners[ownerID]; ok {
		w := st.wallets[id]
		return &w, false, nil
	}
	now := time.Now().UTC()
	w := models.Wallet{
		ID:          st.nextWalletID,
		OwnerID:     ownerID,
		Currency:    currency,
		Balance:     decimal.Zero,
		HeldBalance: decimal.Zero,
		Status:      models.WalletStatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	st.nextWalletID++
	st.wallets[w.ID] = w
	st.walletOwners[ownerID] = w.ID
	out := w
	return &out, true, nil
}

func getWallet(st *state, id uint) (*models.Wallet, error) {
	w, ok := st.wallets[id]
	if !ok {
		return nil, domain.ErrWalletNotFound
	}
	out := w
	return &out, nil
}

func getWalletByOwner(st *state, ownerID uint) (*models.Wallet, error) {
	id, ok := st.walletOwners[ownerID]
	if !ok {
		return nil, domain.ErrWalletNotFound
	}
	return getWallet(st, id)
}

func updateWallet(st *state, wallet *models.Wallet) error {
	if _, ok := st.wallets[wallet.ID]; !ok {
		return domain.ErrWalletNotFound
	}
	wallet.UpdatedAt = time.Now().UTC()
	st.wallets[wallet.ID] = *wallet
	return nil
}

func listSuspendedWithBalance(st *state) ([]models.Wallet, error) {
	var out []models.Wallet
	for _, w := range st.wallets {
		if w.Status == models.WalletStatusSuspended && w.Balance.Sign() > 0 {
			out = append(out, w)
		}
	}
	return out, nil
}

func createEntry(st *state, entry *models.WalletTransaction) error {
	if _, ok := st.entryTxIDs[entry.TransactionID]; ok {
		return domain.ErrDuplicateTransaction
	}
	entry.ID = st.nextEntryID
	st.nextEntryID++
	now := time.Now().UTC()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.UpdatedAt = now
	st.entries[entry.ID] = *entry
	st.entryTxIDs[entry.TransactionID] = entry.ID
	return nil
}

func updateEntryStatus(st *state, entry *models.WalletTransaction, status models.TransactionStatus, completedAt *time.Time) error {
	stored, ok := st.entries[entry.ID]
	if !ok {
		return domain.ErrTransactionNotFound
	}
	if !stored.Status.CanTransitionTo(status) {
		return domain.ErrInvalidTransition
	}
	stored.Status = status
	stored.CompletedAt = completedAt
	stored.UpdatedAt = time.Now().UTC()
	st.entries[entry.ID] = stored
	entry.Status = status
	entry.CompletedAt = completedAt
	return nil
}

func setEntryMetadata(st *state, entry *models.WalletTransaction, metadata models.JSON) error {
	stored, ok := st.entries[entry.ID]
	if !ok {
		return domain.ErrTransactionNotFound
	}
	stored.Metadata = metadata
	stored.UpdatedAt = time.Now().UTC()
	st.entries[entry.ID] = stored
	entry.Metadata = metadata
	return nil
}

func getEntry(st *state, transactionID string) (*models.WalletTransaction, error) {
	id, ok := st.entryTxIDs[transactionID]
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	e := st.entries[id]
	return &e, nil
}

func matches(e models.WalletTransaction, walletID uint, filter repositories.EntryFilter) bool {
	if e.WalletID != walletID {
		return false
	}
	if filter.Type != "" && e.Type != filter.Type {
		return false
	}
	if filter.Category != "" && e.Category != filter.Category {
		return false
	}
	if filter.Status != "" && e.Status != filter.Status {
		return false
	}
	if filter.From != nil && e.CreatedAt.Before(*filter.From) {
		return false
	}
	if filter.To != nil && !e.CreatedAt.Before(*filter.To) {
		return false
	}
	return true
}

func listEntries(st *state, walletID uint, filter repositories.EntryFilter, limit, offset int) ([]models.WalletTransaction, int64, error) {
	var all []models.WalletTransaction
	for _, e := range st.entries {
		if matches(e, walletID, filter) {
			all = append(all, e)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	total := int64(len(all))
	if offset >= len(all) {
		return nil, total, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, total, nil
}

func sumCompleted(st *state, walletID uint) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, e := range st.entries {
		if e.WalletID == walletID && e.Status == models.StatusCompleted {
			total = total.Add(e.Amount)
		}
	}
	return total, nil
}

func listStuckPending(st *state, cutoff time.Time) ([]models.WalletTransaction, error) {
	var out []models.WalletTransaction
	for _, e := range st.entries {
		if e.Status == models.StatusPending && e.CreatedAt.Before(cutoff) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func debitTotal(st *state, walletID uint, start, end time.Time) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, e := range st.entries {
		if e.WalletID == walletID && e.Type == models.TypeDebit && e.Status == models.StatusCompleted &&
			!e.CreatedAt.Before(start) && e.CreatedAt.Before(end) {
			total = total.Add(e.Amount.Neg())
		}
	}
	return total, nil
}
