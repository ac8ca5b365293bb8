package loans

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"LIBRIS-backend/internal/platform/apperr"
	"LIBRIS-backend/internal/platform/auth"
	"LIBRIS-backend/internal/platform/db"
	"LIBRIS-backend/internal/platform/ids"
)

type Service struct {
	store  Store
	ledger Ledger
	tx     db.Transactor
	policy Policy
	clock  ids.Clock
	id     ids.IDGen
	logger *slog.Logger
}

type Option func(*Service)

func WithClock(c ids.Clock) Option     { return func(s *Service) { s.clock = c } }
func WithIDGen(g ids.IDGen) Option     { return func(s *Service) { s.id = g } }
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }
func WithPolicy(p Policy) Option       { return func(s *Service) { s.policy = p } }

func NewService(store Store, ledger Ledger, tx db.Transactor, opts ...Option) *Service {
	s := &Service{
		store:  store,
		ledger: ledger,
		tx:     tx,
		policy: DefaultPolicy(),
		clock:  ids.RealClock(),
		id:     ids.ULIDGen(),
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Borrow: 重複チェック → 在庫確保 → 記録作成。記録作成に失敗したら確保分を戻す。
func (s *Service) Borrow(ctx context.Context, p auth.Principal, bookID string) (LoanResponse, error) {
	bookID = strings.TrimSpace(bookID)
	if bookID == "" {
		return LoanResponse{}, apperr.Invalid("book_id required")
	}
	if p.UserID == "" {
		return LoanResponse{}, apperr.Invalid("user id is required")
	}

	// 早期判定。最終的な一意性は Insert の制約が保証する
	if _, err := s.store.FindActive(ctx, p.UserID, bookID); err == nil {
		return LoanResponse{}, apperr.Conflict(apperr.ReasonActiveLoanExists, "you already borrowed this book")
	} else if !errors.Is(err, apperr.ErrNoActiveLoan) {
		return LoanResponse{}, err
	}

	if err := s.ledger.ReserveCopy(ctx, bookID); err != nil {
		return LoanResponse{}, err
	}

	now := s.clock.Now()
	l := &Loan{
		ID:         s.id.NewULID(now),
		BookID:     bookID,
		UserID:     p.UserID,
		BorrowedAt: now,
		DueAt:      s.policy.DueAt(now),
		Status:     StatusActive,
	}
	if err := s.store.Insert(ctx, l); err != nil {
		s.compensate(ctx, bookID, err)
		if errors.Is(err, apperr.ErrActiveLoanExists) {
			return LoanResponse{}, err
		}
		return LoanResponse{}, apperr.Internal("failed to record loan", err)
	}

	// 表示用なので失敗しても貸出は成立させる
	if err := s.ledger.RecordBorrower(ctx, bookID, p.UserID); err != nil {
		s.logger.WarnContext(ctx, "failed to record last borrower", "book_id", bookID, "error", err)
	}

	s.logger.InfoContext(ctx, "book borrowed", "loan_id", l.ID, "book_id", bookID, "user_id", p.UserID, "due_at", l.DueAt)
	return toResponse(*l, now), nil
}

// compensate は確保済みの1冊を戻す。呼び出し元のキャンセルに引きずられないようにする。
func (s *Service) compensate(ctx context.Context, bookID string, cause error) {
	if err := s.ledger.CancelReservation(context.WithoutCancel(ctx), bookID); err != nil {
		s.logger.ErrorContext(ctx, "compensating release failed; available count is short by one",
			"book_id", bookID, "cause", cause, "error", err)
		return
	}
	s.logger.WarnContext(ctx, "loan insert failed, copy released", "book_id", bookID, "cause", cause)
}

// ReturnLoan は (user, book) の貸出中記録を返却にする。
// targetUserID が空なら本人。admin は他人の返却を代行できる。
func (s *Service) ReturnLoan(ctx context.Context, p auth.Principal, bookID, targetUserID string) (LoanResponse, error) {
	userID, err := auth.ResolveUserScope(p, targetUserID, false)
	if err != nil {
		return LoanResponse{}, err
	}
	l, err := s.store.FindActive(ctx, userID, bookID)
	if err != nil {
		return LoanResponse{}, err
	}

	now := s.clock.Now()
	days := DaysLate(l.DueAt, now)
	fine := s.policy.FineFor(days)

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		// status=active 条件付き。並行返却の負け側はここで NO_ACTIVE_LOAN
		if err := s.store.MarkReturned(ctx, l.ID, now, fine); err != nil {
			return err
		}
		return s.ledger.ReleaseCopy(ctx, l.BookID)
	})
	if err != nil {
		return LoanResponse{}, err
	}

	l.Status = StatusReturned
	l.ReturnedAt = &now
	l.FineAmount = fine
	s.logger.InfoContext(ctx, "book returned", "loan_id", l.ID, "book_id", l.BookID, "user_id", userID,
		"days_late", days, "fine_amount", fine.String())
	return toResponse(*l, now), nil
}

func (s *Service) GetLoan(ctx context.Context, p auth.Principal, loanID string) (LoanResponse, error) {
	l, err := s.store.Get(ctx, loanID)
	if err != nil {
		return LoanResponse{}, err
	}
	if err := auth.RequireSelfOrAdmin(p, l.UserID); err != nil {
		return LoanResponse{}, err
	}
	return toResponse(*l, s.clock.Now()), nil
}

// ListActive: 一般ユーザーは自分のみ。admin は任意のユーザーか全件（all）。
func (s *Service) ListActive(ctx context.Context, p auth.Principal, targetUserID string, all bool, pg Page) (ListLoansResult, error) {
	userID, err := auth.ResolveUserScope(p, targetUserID, all)
	if err != nil {
		return ListLoansResult{}, err
	}
	return s.list(ctx, Filter{UserID: userID, Status: StatusActive}, pg)
}

// ListHistory は borrowed_at の降順（返却済みも含む）。
func (s *Service) ListHistory(ctx context.Context, p auth.Principal, targetUserID string, pg Page) (ListLoansResult, error) {
	userID, err := auth.ResolveUserScope(p, targetUserID, false)
	if err != nil {
		return ListLoansResult{}, err
	}
	pg.Order = "desc"
	return s.list(ctx, Filter{UserID: userID}, pg)
}

func (s *Service) ListOverdue(ctx context.Context, p auth.Principal, pg Page) (ListLoansResult, error) {
	if err := auth.RequireAdmin(p); err != nil {
		return ListLoansResult{}, err
	}
	now := s.clock.Now()
	return s.list(ctx, Filter{Status: StatusActive, DueBefore: &now}, pg)
}

func (s *Service) list(ctx context.Context, f Filter, pg Page) (ListLoansResult, error) {
	pg = pg.Normalize()
	rows, total, err := s.store.List(ctx, f, pg)
	if err != nil {
		return ListLoansResult{}, fmt.Errorf("list loans: %w", err)
	}
	now := s.clock.Now()
	items := make([]LoanResponse, 0, len(rows))
	for _, l := range rows {
		items = append(items, toResponse(l, now))
	}
	next := pg.Offset + pg.Limit
	if next >= int(total) {
		next = 0
	} // 0=終端
	return ListLoansResult{Items: items, Total: total, NextOffset: next}, nil
}
