package memstore

import (
	"context"
	"sort"
	"strings"
	"time"

	"LIBRIS-backend/internal/circulation/books"
	"LIBRIS-backend/internal/circulation/loans"
	"LIBRIS-backend/internal/platform/apperr"
)

// Books は books.Store の実装。
type Books struct{ s *Store }

var _ books.Store = (*Books)(nil)

func errBookNotFound() error { return apperr.NotFound("book not found") }

func (r *Books) Insert(ctx context.Context, b *books.Book) error {
	return r.s.mutate(ctx, func(st *state) error {
		if _, dup := st.isbn[b.ISBN]; dup {
			return apperr.Conflict(apperr.ReasonDuplicateISBN, "isbn already registered")
		}
		st.books[b.ID] = *b
		st.isbn[b.ISBN] = b.ID
		return nil
	})
}

func (r *Books) Get(ctx context.Context, id string) (*books.Book, error) {
	var out books.Book
	err := r.s.view(ctx, func(st *state) error {
		b, ok := st.books[id]
		if !ok {
			return errBookNotFound()
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *Books) List(ctx context.Context, f books.Filter, p books.Page) ([]books.Book, int64, error) {
	var rows []books.Book
	err := r.s.view(ctx, func(st *state) error {
		title := strings.ToLower(f.Title)
		for _, b := range st.books {
			if title != "" && !strings.Contains(strings.ToLower(b.Title), title) {
				continue
			}
			if f.Author != "" && b.Author != f.Author {
				continue
			}
			if f.Status != "" && b.Status() != f.Status {
				continue
			}
			rows = append(rows, b)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	sort.Slice(rows, func(i, j int) bool {
		if p.Order == "asc" {
			return rows[i].ID < rows[j].ID
		}
		return rows[i].ID > rows[j].ID
	})
	return paginate(rows, p.Offset, p.Limit), int64(len(rows)), nil
}

// Reserve は available だけを減らす。他の列には触れない。
func (r *Books) Reserve(ctx context.Context, id string) error {
	return r.s.mutate(ctx, func(st *state) error {
		b, ok := st.books[id]
		if !ok {
			return errBookNotFound()
		}
		if b.Available <= 0 {
			return apperr.Conflict(apperr.ReasonOutOfStock, "no copies available")
		}
		b.Available--
		st.books[id] = b
		return nil
	})
}

// Unreserve は Reserve の取り消し。行は Reserve 前と同じ状態に戻る。
func (r *Books) Unreserve(ctx context.Context, id string) error {
	return r.s.mutate(ctx, func(st *state) error {
		b, ok := st.books[id]
		if !ok {
			return errBookNotFound()
		}
		b.Available = min(b.Available+1, b.Quantity)
		st.books[id] = b
		return nil
	})
}

func (r *Books) SetLastBorrower(ctx context.Context, id, borrowerID string, now time.Time) error {
	return r.s.mutate(ctx, func(st *state) error {
		b, ok := st.books[id]
		if !ok {
			return errBookNotFound()
		}
		who := borrowerID
		b.LastBorrowerID = &who
		b.UpdatedAt = now
		st.books[id] = b
		return nil
	})
}

func (r *Books) Release(ctx context.Context, id string, now time.Time) error {
	return r.s.mutate(ctx, func(st *state) error {
		b, ok := st.books[id]
		if !ok {
			return errBookNotFound()
		}
		b.Available = min(b.Available+1, b.Quantity)
		b.UpdatedAt = now
		st.books[id] = b
		return nil
	})
}

func (r *Books) Update(ctx context.Context, id string, now time.Time, fn func(books.Book) (books.Book, error)) (*books.Book, error) {
	var out books.Book
	err := r.s.mutate(ctx, func(st *state) error {
		cur, ok := st.books[id]
		if !ok {
			return errBookNotFound()
		}
		next, err := fn(cur)
		if err != nil {
			return err
		}
		if next.ISBN != cur.ISBN {
			if owner, dup := st.isbn[next.ISBN]; dup && owner != id {
				return apperr.Conflict(apperr.ReasonDuplicateISBN, "isbn already registered")
			}
			delete(st.isbn, cur.ISBN)
			st.isbn[next.ISBN] = id
		}
		next.ID = id
		next.UpdatedAt = now
		st.books[id] = next
		out = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *Books) Delete(ctx context.Context, id string) error {
	return r.s.mutate(ctx, func(st *state) error {
		b, ok := st.books[id]
		if !ok {
			return errBookNotFound()
		}
		for _, l := range st.loans {
			if l.BookID == id && l.Status == loans.StatusActive {
				return apperr.Conflict(apperr.ReasonHasActiveLoans, "book has active loans")
			}
		}
		delete(st.books, id)
		delete(st.isbn, b.ISBN)
		return nil
	})
}
