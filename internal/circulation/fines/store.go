package fines

import (
	"context"
	"time"

	"LIBRIS-backend/internal/circulation/loans"
)

// Store contracts:
//   - InsertIfAbsent: unique on loan_id; an existing fine for the loan
//     returns created=false and no error
//   - MarkPaid: only pending -> paid; an already paid fine -> apperr.ErrAlreadyPaid
//   - Get: absent -> apperr.ErrNotFound
type Store interface {
	InsertIfAbsent(ctx context.Context, f *Fine) (created bool, err error)
	Get(ctx context.Context, id string) (*Fine, error)
	MarkPaid(ctx context.Context, id string, paidAt time.Time) error
	List(ctx context.Context, f Filter, p Page) ([]Fine, int64, error)
}

// OverdueSource は loans.Store が満たす。
type OverdueSource interface {
	ListOverdue(ctx context.Context, now time.Time) ([]loans.Loan, error)
}
