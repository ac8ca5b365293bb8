package fines

import (
	"time"

	"github.com/shopspring/decimal"
)

type FineResponse struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	LoanID    string          `json:"loan_id"`
	Amount    decimal.Decimal `json:"amount"`
	Status    Status          `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	PaidAt    *time.Time      `json:"paid_at,omitempty"`
}

type ListFinesResult struct {
	Items      []FineResponse `json:"items"`
	Total      int64          `json:"total"`
	NextOffset int            `json:"next_offset"`
}

func toResponse(f Fine) FineResponse {
	return FineResponse{
		ID:        f.ID,
		UserID:    f.UserID,
		LoanID:    f.LoanID,
		Amount:    f.Amount,
		Status:    f.Status,
		CreatedAt: f.CreatedAt,
		PaidAt:    f.PaidAt,
	}
}
