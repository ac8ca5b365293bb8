package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"

	"LIBRIS-backend/internal/circulation/books"
	"LIBRIS-backend/internal/platform/apperr"
)

type Books struct{ *base }

var _ books.Store = (*Books)(nil)

var bookCols = []any{
	"book_id", "title", "author", "isbn", "quantity", "available",
	"last_borrower_id", "created_at", "updated_at",
}

func (r *Books) selectBook(id string) *goqu.SelectDataset {
	return r.dialect.From(tblBooks).Prepared(true).
		Select(bookCols...).
		Where(goqu.C("book_id").Eq(id))
}

func (r *Books) Insert(ctx context.Context, b *books.Book) error {
	q := r.dialect.Insert(tblBooks).Prepared(true).Rows(goqu.Record{
		"book_id":          b.ID,
		"title":            b.Title,
		"author":           b.Author,
		"isbn":             b.ISBN,
		"quantity":         b.Quantity,
		"available":        b.Available,
		"last_borrower_id": b.LastBorrowerID,
		"created_at":       b.CreatedAt,
		"updated_at":       b.UpdatedAt,
	})
	if _, err := r.exec(ctx, q); err != nil {
		if isDuplicateKey(err) {
			return apperr.Conflict(apperr.ReasonDuplicateISBN, "isbn already registered")
		}
		return apperr.Internal("insert book", err)
	}
	return nil
}

func (r *Books) Get(ctx context.Context, id string) (*books.Book, error) {
	var b books.Book
	if err := r.get(ctx, &b, r.selectBook(id)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("book not found")
		}
		return nil, apperr.Internal("get book", err)
	}
	return &b, nil
}

func (r *Books) List(ctx context.Context, f books.Filter, p books.Page) ([]books.Book, int64, error) {
	ds := r.dialect.From(tblBooks).Prepared(true)
	if f.Title != "" {
		// mysql: LIKE / postgres: ILIKE（大文字小文字を区別しない）
		ds = ds.Where(goqu.C("title").ILike(containsPattern(f.Title)))
	}
	if f.Author != "" {
		ds = ds.Where(goqu.C("author").Eq(f.Author))
	}
	switch f.Status {
	case books.StatusAvailable:
		ds = ds.Where(goqu.C("available").Gt(0))
	case books.StatusBorrowed:
		ds = ds.Where(goqu.C("available").Eq(0))
	}

	var total int64
	if err := r.get(ctx, &total, ds.Select(goqu.COUNT(goqu.Star()))); err != nil {
		return nil, 0, apperr.Internal("count books", err)
	}

	order := []exp.OrderedExpression{goqu.C("created_at").Desc(), goqu.C("book_id").Desc()}
	if orderAsc(p.Order) {
		order = []exp.OrderedExpression{goqu.C("created_at").Asc(), goqu.C("book_id").Asc()}
	}
	rows := []books.Book{}
	q := ds.Select(bookCols...).Order(order...).Limit(uint(p.Limit)).Offset(uint(p.Offset))
	if err := r.selectAll(ctx, &rows, q); err != nil {
		return nil, 0, apperr.Internal("list books", err)
	}
	return rows, total, nil
}

// Reserve: UPDATE books SET available = available - 1 WHERE book_id = ? AND available > 0
func (r *Books) reserveStmt(id string) *goqu.UpdateDataset {
	return r.dialect.Update(tblBooks).Prepared(true).
		Set(goqu.Record{"available": goqu.L("available - 1")}).
		Where(goqu.C("book_id").Eq(id), goqu.C("available").Gt(0))
}

func (r *Books) Reserve(ctx context.Context, id string) error {
	res, err := r.exec(ctx, r.reserveStmt(id))
	if err != nil {
		return apperr.Internal("reserve copy", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return apperr.Internal("reserve copy: rows affected", err)
	} else if n == 1 {
		return nil
	}

	// 0件: 存在しないのか在庫切れなのか
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	return apperr.Conflict(apperr.ReasonOutOfStock, "no copies available")
}

// Unreserve は Reserve の取り消し。updated_at は動かさない。
func (r *Books) unreserveStmt(id string) *goqu.UpdateDataset {
	return r.dialect.Update(tblBooks).Prepared(true).
		Set(goqu.Record{"available": goqu.L("LEAST(available + 1, quantity)")}).
		Where(goqu.C("book_id").Eq(id))
}

func (r *Books) Unreserve(ctx context.Context, id string) error {
	res, err := r.exec(ctx, r.unreserveStmt(id))
	if err != nil {
		return apperr.Internal("unreserve copy", err)
	}
	return r.checkExists(ctx, id, res)
}

func (r *Books) SetLastBorrower(ctx context.Context, id, borrowerID string, now time.Time) error {
	q := r.dialect.Update(tblBooks).Prepared(true).
		Set(goqu.Record{"last_borrower_id": borrowerID, "updated_at": now}).
		Where(goqu.C("book_id").Eq(id))
	res, err := r.exec(ctx, q)
	if err != nil {
		return apperr.Internal("set last borrower", err)
	}
	return r.checkExists(ctx, id, res)
}

// Release: available = LEAST(available + 1, quantity)
func (r *Books) releaseStmt(id string, now time.Time) *goqu.UpdateDataset {
	return r.dialect.Update(tblBooks).Prepared(true).
		Set(goqu.Record{
			"available":  goqu.L("LEAST(available + 1, quantity)"),
			"updated_at": now,
		}).
		Where(goqu.C("book_id").Eq(id))
}

func (r *Books) Release(ctx context.Context, id string, now time.Time) error {
	res, err := r.exec(ctx, r.releaseStmt(id, now))
	if err != nil {
		return apperr.Internal("release copy", err)
	}
	return r.checkExists(ctx, id, res)
}

// checkExists: 0件なら存在確認で NotFound を判定する。
// MySQL は値が変わらない行を数えないので 0件だけでは不在と言えない。
func (r *Books) checkExists(ctx context.Context, id string, res sql.Result) error {
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// Update は行ロック（SELECT ... FOR UPDATE）下で fn を適用して書き戻す。
func (r *Books) Update(ctx context.Context, id string, now time.Time, fn func(books.Book) (books.Book, error)) (*books.Book, error) {
	var out books.Book
	err := r.withinTx(ctx, func(ctx context.Context) error {
		var cur books.Book
		if err := r.get(ctx, &cur, r.selectBook(id).ForUpdate(exp.Wait)); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return apperr.NotFound("book not found")
			}
			return apperr.Internal("lock book", err)
		}

		next, err := fn(cur)
		if err != nil {
			return err
		}
		next.ID = id
		next.UpdatedAt = now

		q := r.dialect.Update(tblBooks).Prepared(true).
			Set(goqu.Record{
				"title":      next.Title,
				"author":     next.Author,
				"isbn":       next.ISBN,
				"quantity":   next.Quantity,
				"available":  next.Available,
				"updated_at": next.UpdatedAt,
			}).
			Where(goqu.C("book_id").Eq(id))
		if _, err := r.exec(ctx, q); err != nil {
			if isDuplicateKey(err) {
				return apperr.Conflict(apperr.ReasonDuplicateISBN, "isbn already registered")
			}
			return apperr.Internal("update book", err)
		}
		out = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Delete の WHERE に「貸出中なし」を含める。確認後に割り込んだ貸出があれば消さない。
func (r *Books) deleteStmt(id string) *goqu.DeleteDataset {
	active := r.dialect.From(tblLoans).
		Select(goqu.L("1")).
		Where(
			goqu.I("loans.book_id").Eq(goqu.I("books.book_id")),
			goqu.I("loans.status").Eq("active"),
		)
	return r.dialect.Delete(tblBooks).Prepared(true).
		Where(goqu.C("book_id").Eq(id), goqu.L("NOT EXISTS ?", active))
}

func (r *Books) Delete(ctx context.Context, id string) error {
	res, err := r.exec(ctx, r.deleteStmt(id))
	if err != nil {
		return apperr.Internal("delete book", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Internal("delete book: rows affected", err)
	}
	if n == 1 {
		return nil
	}
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	return apperr.Conflict(apperr.ReasonHasActiveLoans, fmt.Sprintf("book %s has active loans", id))
}
