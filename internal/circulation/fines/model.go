package fines

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusPaid    Status = "paid"
)

func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusPending:
		return StatusPending, true
	case StatusPaid:
		return StatusPaid, true
	}
	return "", false
}

// Fine は延滞1件につき高々1件（loan_id 一意）。
type Fine struct {
	ID        string          `db:"fine_id" json:"id"`
	UserID    string          `db:"user_id" json:"user_id"`
	LoanID    string          `db:"loan_id" json:"loan_id"`
	Amount    decimal.Decimal `db:"amount" json:"amount"`
	Status    Status          `db:"status" json:"status"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	PaidAt    *time.Time      `db:"paid_at" json:"paid_at,omitempty"`
}

type Filter struct {
	UserID string // 空なら全員
	Status Status
}

type Page struct {
	Limit  int
	Offset int
	Order  string // created_at の向き
}

func (p Page) Normalize() Page {
	if p.Limit <= 0 || p.Limit > 200 {
		p.Limit = 50
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	if strings.ToLower(p.Order) == "asc" {
		p.Order = "asc"
	} else {
		p.Order = "desc"
	}
	return p
}

// Report は1回の延滞料スキャンの集計。
type Report struct {
	Scanned int       `json:"scanned"`
	Created int       `json:"created"`
	Skipped int       `json:"skipped"`
	Failed  int       `json:"failed"`
	RanAt   time.Time `json:"ran_at"`
}
