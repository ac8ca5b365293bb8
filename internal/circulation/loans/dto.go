package loans

import (
	"time"

	"github.com/shopspring/decimal"
)

type LoanResponse struct {
	ID         string          `json:"id"`
	BookID     string          `json:"book_id"`
	UserID     string          `json:"user_id"`
	BorrowedAt time.Time       `json:"borrowed_at"`
	DueAt      time.Time       `json:"due_at"`
	ReturnedAt *time.Time      `json:"returned_at,omitempty"`
	Status     Status          `json:"status"` // active / overdue / returned
	DaysLate   int             `json:"days_late"`
	FineAmount decimal.Decimal `json:"fine_amount"`
}

type ListLoansResult struct {
	Items      []LoanResponse `json:"items"`
	Total      int64          `json:"total"`
	NextOffset int            `json:"next_offset"`
}

func toResponse(l Loan, now time.Time) LoanResponse {
	res := LoanResponse{
		ID:         l.ID,
		BookID:     l.BookID,
		UserID:     l.UserID,
		BorrowedAt: l.BorrowedAt,
		DueAt:      l.DueAt,
		ReturnedAt: l.ReturnedAt,
		Status:     l.DisplayStatus(now),
		FineAmount: l.FineAmount,
	}
	switch {
	case l.ReturnedAt != nil:
		res.DaysLate = DaysLate(l.DueAt, *l.ReturnedAt)
	case l.Status == StatusActive:
		res.DaysLate = DaysLate(l.DueAt, now)
	}
	return res
}
