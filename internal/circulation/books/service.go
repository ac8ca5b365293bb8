package books

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"LIBRIS-backend/internal/platform/apperr"
	"LIBRIS-backend/internal/platform/ids"
)

// Service は在庫台帳。ロールは知らない（権限判定は呼び出し側）。
type Service struct {
	store  Store
	loans  ActiveLoanChecker
	clock  ids.Clock
	id     ids.IDGen
	logger *slog.Logger
}

type Option func(*Service)

func WithClock(c ids.Clock) Option     { return func(s *Service) { s.clock = c } }
func WithIDGen(g ids.IDGen) Option     { return func(s *Service) { s.id = g } }
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

func NewService(store Store, loans ActiveLoanChecker, opts ...Option) *Service {
	s := &Service{
		store:  store,
		loans:  loans,
		clock:  ids.RealClock(),
		id:     ids.ULIDGen(),
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) Create(ctx context.Context, in CreateBookRequest) (BookResponse, error) {
	title := strings.TrimSpace(in.Title)
	author := strings.TrimSpace(in.Author)
	if title == "" || author == "" {
		return BookResponse{}, apperr.Invalid("title and author are required")
	}
	if in.Quantity < 1 {
		return BookResponse{}, apperr.Invalid("quantity must be >= 1")
	}
	isbn, err := NormalizeISBN(in.ISBN)
	if err != nil {
		return BookResponse{}, err
	}

	now := s.clock.Now()
	b := &Book{
		ID:        s.id.NewULID(now),
		Title:     title,
		Author:    author,
		ISBN:      isbn,
		Quantity:  in.Quantity,
		Available: in.Quantity,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Insert(ctx, b); err != nil {
		return BookResponse{}, err
	}
	s.logger.InfoContext(ctx, "book created", "book_id", b.ID, "isbn", b.ISBN, "quantity", b.Quantity)
	return toResponse(*b), nil
}

func (s *Service) Get(ctx context.Context, id string) (BookResponse, error) {
	b, err := s.store.Get(ctx, id)
	if err != nil {
		return BookResponse{}, err
	}
	return toResponse(*b), nil
}

func (s *Service) List(ctx context.Context, f Filter, p Page) (ListBooksResult, error) {
	p = p.Normalize()
	rows, total, err := s.store.List(ctx, f, p)
	if err != nil {
		return ListBooksResult{}, err
	}
	items := make([]BookResponse, 0, len(rows))
	for _, b := range rows {
		items = append(items, toResponse(b))
	}
	next := p.Offset + p.Limit
	if next >= int(total) {
		next = 0
	} // 0=終端
	return ListBooksResult{Items: items, Total: total, NextOffset: next}, nil
}

// ReserveCopy は貸出1冊分を確保する。判定と減算はストア側の1文で行う。
func (s *Service) ReserveCopy(ctx context.Context, bookID string) error {
	return s.store.Reserve(ctx, bookID)
}

// CancelReservation は貸出記録を作れなかったときの取り消し。
func (s *Service) CancelReservation(ctx context.Context, bookID string) error {
	return s.store.Unreserve(ctx, bookID)
}

// RecordBorrower は表示用の直近の借り手を記録する。
func (s *Service) RecordBorrower(ctx context.Context, bookID, borrowerID string) error {
	return s.store.SetLastBorrower(ctx, bookID, borrowerID, s.clock.Now())
}

// ReleaseCopy は返却1冊分を戻す。quantity を超えない。
func (s *Service) ReleaseCopy(ctx context.Context, bookID string) error {
	return s.store.Release(ctx, bookID, s.clock.Now())
}

func (s *Service) UpdateMetadata(ctx context.Context, bookID string, p Patch) (BookResponse, error) {
	if p.Empty() {
		return BookResponse{}, apperr.Invalid("no fields to update")
	}
	b, err := s.store.Update(ctx, bookID, s.clock.Now(), func(cur Book) (Book, error) {
		return ApplyPatch(cur, p)
	})
	if err != nil {
		return BookResponse{}, err
	}
	return toResponse(*b), nil
}

// Delete は貸出中が1件でもあれば HAS_ACTIVE_LOANS。
// ストアの DELETE 文にも同じ条件が入っており、確認後に割り込んだ貸出も弾く。
func (s *Service) Delete(ctx context.Context, bookID string) error {
	if _, err := s.store.Get(ctx, bookID); err != nil {
		return err
	}
	active, err := s.loans.HasActiveLoans(ctx, bookID)
	if err != nil {
		return err
	}
	if active {
		return apperr.Conflict(apperr.ReasonHasActiveLoans, "book has active loans")
	}
	if err := s.store.Delete(ctx, bookID); err != nil {
		if errors.Is(err, apperr.ErrHasActiveLoans) {
			s.logger.WarnContext(ctx, "delete lost race with a borrow", "book_id", bookID)
		}
		return err
	}
	s.logger.InfoContext(ctx, "book deleted", "book_id", bookID)
	return nil
}
