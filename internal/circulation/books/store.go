package books

import (
	"context"
	"time"
)

// Store is the persistence boundary of the ledger. Implementations live in
// internal/storage and must honour these contracts:
//   - Insert: duplicate isbn -> apperr.ErrDuplicateISBN
//   - Get / Release / Unreserve / SetLastBorrower: absent -> apperr.ErrNotFound
//   - Reserve: one conditional decrement (available > 0) touching no other column;
//     apperr.ErrOutOfStock when the book exists but has no copy left
//   - Unreserve: undoes a Reserve, leaving the row as it was before it
//   - Update: fn runs against the row under a lock, its result is written back
//   - Delete: the delete itself is guarded by "no active loan";
//     apperr.ErrHasActiveLoans when the guard blocks it
type Store interface {
	Insert(ctx context.Context, b *Book) error
	Get(ctx context.Context, id string) (*Book, error)
	List(ctx context.Context, f Filter, p Page) ([]Book, int64, error)
	Reserve(ctx context.Context, id string) error
	Unreserve(ctx context.Context, id string) error
	SetLastBorrower(ctx context.Context, id, borrowerID string, now time.Time) error
	Release(ctx context.Context, id string, now time.Time) error
	Update(ctx context.Context, id string, now time.Time, fn func(Book) (Book, error)) (*Book, error)
	Delete(ctx context.Context, id string) error
}

// ActiveLoanChecker は削除前の明示チェック用（loans 側が実装）。
type ActiveLoanChecker interface {
	HasActiveLoans(ctx context.Context, bookID string) (bool, error)
}
