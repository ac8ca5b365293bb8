package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"LIBRIS-backend/internal/circulation/books"
	"LIBRIS-backend/internal/circulation/loans"
	"LIBRIS-backend/internal/platform/apperr"
)

// Loans は loans.Store と books.ActiveLoanChecker の実装。
type Loans struct{ s *Store }

var (
	_ loans.Store             = (*Loans)(nil)
	_ books.ActiveLoanChecker = (*Loans)(nil)
)

func errNoActiveLoan() error {
	return apperr.NotFoundWith(apperr.ReasonNoActiveLoan, "no active loan for this book")
}

func (r *Loans) Insert(ctx context.Context, l *loans.Loan) error {
	return r.s.mutate(ctx, func(st *state) error {
		key := pairKey(l.UserID, l.BookID)
		if l.Status == loans.StatusActive {
			if _, dup := st.active[key]; dup {
				return apperr.Conflict(apperr.ReasonActiveLoanExists, "an active loan already exists for this book")
			}
			st.active[key] = l.ID
		}
		st.loans[l.ID] = *l
		return nil
	})
}

func (r *Loans) Get(ctx context.Context, id string) (*loans.Loan, error) {
	var out loans.Loan
	err := r.s.view(ctx, func(st *state) error {
		l, ok := st.loans[id]
		if !ok {
			return apperr.NotFound("loan not found")
		}
		out = l
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *Loans) FindActive(ctx context.Context, userID, bookID string) (*loans.Loan, error) {
	var out loans.Loan
	err := r.s.view(ctx, func(st *state) error {
		id, ok := st.active[pairKey(userID, bookID)]
		if !ok {
			return errNoActiveLoan()
		}
		out = st.loans[id]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *Loans) MarkReturned(ctx context.Context, id string, returnedAt time.Time, fine decimal.Decimal) error {
	return r.s.mutate(ctx, func(st *state) error {
		l, ok := st.loans[id]
		if !ok || l.Status != loans.StatusActive {
			return errNoActiveLoan()
		}
		at := returnedAt
		l.Status = loans.StatusReturned
		l.ReturnedAt = &at
		l.FineAmount = fine
		st.loans[id] = l
		delete(st.active, pairKey(l.UserID, l.BookID))
		return nil
	})
}

func (r *Loans) List(ctx context.Context, f loans.Filter, p loans.Page) ([]loans.Loan, int64, error) {
	var rows []loans.Loan
	err := r.s.view(ctx, func(st *state) error {
		for _, l := range st.loans {
			if matchLoan(l, f) {
				rows = append(rows, l)
			}
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if !a.BorrowedAt.Equal(b.BorrowedAt) {
			if p.Order == "asc" {
				return a.BorrowedAt.Before(b.BorrowedAt)
			}
			return a.BorrowedAt.After(b.BorrowedAt)
		}
		if p.Order == "asc" {
			return a.ID < b.ID
		}
		return a.ID > b.ID
	})
	return paginate(rows, p.Offset, p.Limit), int64(len(rows)), nil
}

func matchLoan(l loans.Loan, f loans.Filter) bool {
	if f.UserID != "" && l.UserID != f.UserID {
		return false
	}
	if f.BookID != "" && l.BookID != f.BookID {
		return false
	}
	if f.Status != "" && l.Status != f.Status {
		return false
	}
	if f.DueBefore != nil && !l.DueAt.Before(*f.DueBefore) {
		return false
	}
	return true
}

func (r *Loans) ListOverdue(ctx context.Context, now time.Time) ([]loans.Loan, error) {
	var rows []loans.Loan
	err := r.s.view(ctx, func(st *state) error {
		for _, l := range st.loans {
			if l.Status == loans.StatusActive && l.DueAt.Before(now) {
				rows = append(rows, l)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].DueAt.Equal(rows[j].DueAt) {
			return rows[i].DueAt.Before(rows[j].DueAt)
		}
		return rows[i].ID < rows[j].ID
	})
	return rows, nil
}

func (r *Loans) HasActiveLoans(ctx context.Context, bookID string) (bool, error) {
	found := false
	err := r.s.view(ctx, func(st *state) error {
		for _, l := range st.loans {
			if l.BookID == bookID && l.Status == loans.StatusActive {
				found = true
				return nil
			}
		}
		return nil
	})
	return found, err
}
