package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"

	"LIBRIS-backend/internal/circulation/fines"
	"LIBRIS-backend/internal/platform/apperr"
)

type Fines struct{ *base }

var _ fines.Store = (*Fines)(nil)

var fineCols = []any{"fine_id", "user_id", "loan_id", "amount", "status", "created_at", "paid_at"}

// InsertIfAbsent は loan_id の一意制約違反を「作成済み」として扱う。
func (r *Fines) InsertIfAbsent(ctx context.Context, f *fines.Fine) (bool, error) {
	q := r.dialect.Insert(tblFines).Prepared(true).Rows(goqu.Record{
		"fine_id":    f.ID,
		"user_id":    f.UserID,
		"loan_id":    f.LoanID,
		"amount":     f.Amount,
		"status":     string(f.Status),
		"created_at": f.CreatedAt,
		"paid_at":    f.PaidAt,
	})
	if _, err := r.exec(ctx, q); err != nil {
		if isDuplicateKey(err) {
			return false, nil
		}
		return false, apperr.Internal("insert fine", err)
	}
	return true, nil
}

func (r *Fines) Get(ctx context.Context, id string) (*fines.Fine, error) {
	var f fines.Fine
	q := r.dialect.From(tblFines).Prepared(true).Select(fineCols...).Where(goqu.C("fine_id").Eq(id))
	if err := r.get(ctx, &f, q); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("fine not found")
		}
		return nil, apperr.Internal("get fine", err)
	}
	return &f, nil
}

// MarkPaid: pending の行だけを paid にする。
func (r *Fines) markPaidStmt(id string, paidAt time.Time) *goqu.UpdateDataset {
	return r.dialect.Update(tblFines).Prepared(true).
		Set(goqu.Record{
			"status":  string(fines.StatusPaid),
			"paid_at": paidAt,
		}).
		Where(goqu.C("fine_id").Eq(id), goqu.C("status").Eq(string(fines.StatusPending)))
}

func (r *Fines) MarkPaid(ctx context.Context, id string, paidAt time.Time) error {
	res, err := r.exec(ctx, r.markPaidStmt(id, paidAt))
	if err != nil {
		return apperr.Internal("mark fine paid", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Internal("mark fine paid: rows affected", err)
	}
	if n == 1 {
		return nil
	}
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	return apperr.Conflict(apperr.ReasonAlreadyPaid, "fine already paid")
}

func (r *Fines) List(ctx context.Context, f fines.Filter, p fines.Page) ([]fines.Fine, int64, error) {
	ds := r.dialect.From(tblFines).Prepared(true)
	if f.UserID != "" {
		ds = ds.Where(goqu.C("user_id").Eq(f.UserID))
	}
	if f.Status != "" {
		ds = ds.Where(goqu.C("status").Eq(string(f.Status)))
	}

	var total int64
	if err := r.get(ctx, &total, ds.Select(goqu.COUNT(goqu.Star()))); err != nil {
		return nil, 0, apperr.Internal("count fines", err)
	}

	order := []exp.OrderedExpression{goqu.C("created_at").Desc(), goqu.C("fine_id").Desc()}
	if orderAsc(p.Order) {
		order = []exp.OrderedExpression{goqu.C("created_at").Asc(), goqu.C("fine_id").Asc()}
	}
	rows := []fines.Fine{}
	q := ds.Select(fineCols...).Order(order...).Limit(uint(p.Limit)).Offset(uint(p.Offset))
	if err := r.selectAll(ctx, &rows, q); err != nil {
		return nil, 0, apperr.Internal("list fines", err)
	}
	return rows, total, nil
}
