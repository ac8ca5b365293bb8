package loans

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusReturned Status = "returned"
	// StatusOverdue は表示専用。保存はしない。
	StatusOverdue Status = "overdue"
)

const day = 24 * time.Hour

// Loan は貸出記録。返却時に一度だけ更新され、以降は履歴として不変。
type Loan struct {
	ID         string          `db:"loan_id" json:"id"`
	BookID     string          `db:"book_id" json:"book_id"`
	UserID     string          `db:"user_id" json:"user_id"`
	BorrowedAt time.Time       `db:"borrowed_at" json:"borrowed_at"`
	DueAt      time.Time       `db:"due_at" json:"due_at"`
	ReturnedAt *time.Time      `db:"returned_at" json:"returned_at,omitempty"`
	Status     Status          `db:"status" json:"status"`
	FineAmount decimal.Decimal `db:"fine_amount" json:"fine_amount"`
}

// Overdue: status == active && now > dueAt
func (l Loan) Overdue(now time.Time) bool {
	return l.Status == StatusActive && now.After(l.DueAt)
}

func (l Loan) DisplayStatus(now time.Time) Status {
	if l.Overdue(now) {
		return StatusOverdue
	}
	return l.Status
}

// DaysLate = max(0, floor((now - due) / 1day))
func DaysLate(due, now time.Time) int {
	if !now.After(due) {
		return 0
	}
	return int(now.Sub(due) / day)
}

// Policy は貸出期間と日額。延滞料は保存済みの dueAt と DailyRate だけで決まる。
type Policy struct {
	LoanPeriod time.Duration
	DailyRate  decimal.Decimal
}

func DefaultPolicy() Policy {
	return Policy{LoanPeriod: 14 * day, DailyRate: decimal.NewFromInt(10)}
}

func (p Policy) DueAt(borrowedAt time.Time) time.Time {
	return borrowedAt.Add(p.LoanPeriod)
}

func (p Policy) FineFor(daysLate int) decimal.Decimal {
	if daysLate <= 0 {
		return decimal.Zero
	}
	return p.DailyRate.Mul(decimal.NewFromInt(int64(daysLate)))
}

type Filter struct {
	UserID    string // 空なら全員
	BookID    string
	Status    Status
	DueBefore *time.Time
}

type Page struct {
	Limit  int
	Offset int
	Order  string // borrowed_at の向き。"asc" or "desc"
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
