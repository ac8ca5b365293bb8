package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/shopspring/decimal"

	"LIBRIS-backend/internal/circulation/books"
	"LIBRIS-backend/internal/circulation/loans"
	"LIBRIS-backend/internal/platform/apperr"
)

type Loans struct{ *base }

var (
	_ loans.Store             = (*Loans)(nil)
	_ books.ActiveLoanChecker = (*Loans)(nil)
)

// active_key（生成列）は select しない
var loanCols = []any{
	"loan_id", "book_id", "user_id", "borrowed_at", "due_at",
	"returned_at", "status", "fine_amount",
}

func errNoActiveLoan() error {
	return apperr.NotFoundWith(apperr.ReasonNoActiveLoan, "no active loan for this book")
}

// Insert は active な (user_id, book_id) の一意制約に任せる。
// MySQL は生成列 active_key、PostgreSQL は部分インデックス。
func (r *Loans) Insert(ctx context.Context, l *loans.Loan) error {
	q := r.dialect.Insert(tblLoans).Prepared(true).Rows(goqu.Record{
		"loan_id":     l.ID,
		"book_id":     l.BookID,
		"user_id":     l.UserID,
		"borrowed_at": l.BorrowedAt,
		"due_at":      l.DueAt,
		"returned_at": l.ReturnedAt,
		"status":      string(l.Status),
		"fine_amount": l.FineAmount,
	})
	if _, err := r.exec(ctx, q); err != nil {
		if isDuplicateKey(err) {
			return apperr.Conflict(apperr.ReasonActiveLoanExists, "an active loan already exists for this book")
		}
		return apperr.Internal("insert loan", err)
	}
	return nil
}

func (r *Loans) Get(ctx context.Context, id string) (*loans.Loan, error) {
	var l loans.Loan
	q := r.dialect.From(tblLoans).Prepared(true).Select(loanCols...).Where(goqu.C("loan_id").Eq(id))
	if err := r.get(ctx, &l, q); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("loan not found")
		}
		return nil, apperr.Internal("get loan", err)
	}
	return &l, nil
}

func (r *Loans) FindActive(ctx context.Context, userID, bookID string) (*loans.Loan, error) {
	var l loans.Loan
	q := r.dialect.From(tblLoans).Prepared(true).Select(loanCols...).
		Where(goqu.Ex{
			"user_id": userID,
			"book_id": bookID,
			"status":  string(loans.StatusActive),
		}).
		Limit(1)
	if err := r.get(ctx, &l, q); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errNoActiveLoan()
		}
		return nil, apperr.Internal("find active loan", err)
	}
	return &l, nil
}

// MarkReturned は status = 'active' の行だけを更新する（返却は1回きり）。
func (r *Loans) markReturnedStmt(id string, returnedAt time.Time, fine decimal.Decimal) *goqu.UpdateDataset {
	return r.dialect.Update(tblLoans).Prepared(true).
		Set(goqu.Record{
			"status":      string(loans.StatusReturned),
			"returned_at": returnedAt,
			"fine_amount": fine,
		}).
		Where(goqu.C("loan_id").Eq(id), goqu.C("status").Eq(string(loans.StatusActive)))
}

func (r *Loans) MarkReturned(ctx context.Context, id string, returnedAt time.Time, fine decimal.Decimal) error {
	res, err := r.exec(ctx, r.markReturnedStmt(id, returnedAt, fine))
	if err != nil {
		return apperr.Internal("mark loan returned", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Internal("mark loan returned: rows affected", err)
	}
	if n != 1 {
		return errNoActiveLoan()
	}
	return nil
}

func (r *Loans) filtered(f loans.Filter) *goqu.SelectDataset {
	ds := r.dialect.From(tblLoans).Prepared(true)
	if f.UserID != "" {
		ds = ds.Where(goqu.C("user_id").Eq(f.UserID))
	}
	if f.BookID != "" {
		ds = ds.Where(goqu.C("book_id").Eq(f.BookID))
	}
	if f.Status != "" {
		ds = ds.Where(goqu.C("status").Eq(string(f.Status)))
	}
	if f.DueBefore != nil {
		ds = ds.Where(goqu.C("due_at").Lt(*f.DueBefore))
	}
	return ds
}

func (r *Loans) List(ctx context.Context, f loans.Filter, p loans.Page) ([]loans.Loan, int64, error) {
	ds := r.filtered(f)

	var total int64
	if err := r.get(ctx, &total, ds.Select(goqu.COUNT(goqu.Star()))); err != nil {
		return nil, 0, apperr.Internal("count loans", err)
	}

	order := []exp.OrderedExpression{goqu.C("borrowed_at").Desc(), goqu.C("loan_id").Desc()}
	if orderAsc(p.Order) {
		order = []exp.OrderedExpression{goqu.C("borrowed_at").Asc(), goqu.C("loan_id").Asc()}
	}
	rows := []loans.Loan{}
	q := ds.Select(loanCols...).Order(order...).Limit(uint(p.Limit)).Offset(uint(p.Offset))
	if err := r.selectAll(ctx, &rows, q); err != nil {
		return nil, 0, apperr.Internal("list loans", err)
	}
	return rows, total, nil
}

func (r *Loans) ListOverdue(ctx context.Context, now time.Time) ([]loans.Loan, error) {
	q := r.filtered(loans.Filter{Status: loans.StatusActive, DueBefore: &now}).
		Select(loanCols...).
		Order(goqu.C("due_at").Asc(), goqu.C("loan_id").Asc())
	rows := []loans.Loan{}
	if err := r.selectAll(ctx, &rows, q); err != nil {
		return nil, apperr.Internal("list overdue loans", err)
	}
	return rows, nil
}

func (r *Loans) HasActiveLoans(ctx context.Context, bookID string) (bool, error) {
	var n int64
	q := r.filtered(loans.Filter{BookID: bookID, Status: loans.StatusActive}).Select(goqu.COUNT(goqu.Star()))
	if err := r.get(ctx, &n, q); err != nil {
		return false, apperr.Internal("count active loans", err)
	}
	return n > 0, nil
}
