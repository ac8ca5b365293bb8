package loans

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Store contracts:
//   - Insert: a second active loan for the same (user, book) -> apperr.ErrActiveLoanExists
//     (unique constraint at the persistence boundary, not a prior read)
//   - FindActive: none -> apperr.ErrNoActiveLoan
//   - MarkReturned: only transitions status=active; otherwise apperr.ErrNoActiveLoan
//   - ListOverdue: every active loan with due_at < now, oldest due first
type Store interface {
	Insert(ctx context.Context, l *Loan) error
	Get(ctx context.Context, id string) (*Loan, error)
	FindActive(ctx context.Context, userID, bookID string) (*Loan, error)
	MarkReturned(ctx context.Context, id string, returnedAt time.Time, fine decimal.Decimal) error
	List(ctx context.Context, f Filter, p Page) ([]Loan, int64, error)
	ListOverdue(ctx context.Context, now time.Time) ([]Loan, error)
	HasActiveLoans(ctx context.Context, bookID string) (bool, error)
}

// Ledger は在庫側（books.Service）の予約・解放。
// CancelReservation は ReserveCopy 直後の取り消しで、本の行を予約前に戻す。
type Ledger interface {
	ReserveCopy(ctx context.Context, bookID string) error
	CancelReservation(ctx context.Context, bookID string) error
	RecordBorrower(ctx context.Context, bookID, borrowerID string) error
	ReleaseCopy(ctx context.Context, bookID string) error
}
