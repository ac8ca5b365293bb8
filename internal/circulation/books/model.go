package books

import (
	"strings"
	"time"

	"golang.org/x/text/width"

	"LIBRIS-backend/internal/platform/apperr"
)

type Status string

const (
	StatusAvailable Status = "available"
	StatusBorrowed  Status = "borrowed"
)

func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusAvailable:
		return StatusAvailable, true
	case StatusBorrowed:
		return StatusBorrowed, true
	}
	return "", false
}

// Book は在庫の台帳1行。status は保存せず available から導く。
type Book struct {
	ID             string    `db:"book_id" json:"id"`
	Title          string    `db:"title" json:"title"`
	Author         string    `db:"author" json:"author"`
	ISBN           string    `db:"isbn" json:"isbn"`
	Quantity       int       `db:"quantity" json:"quantity"`
	Available      int       `db:"available" json:"available"`
	LastBorrowerID *string   `db:"last_borrower_id" json:"last_borrower_id,omitempty"` // 表示用のみ。数量計算には使わない
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

func (b Book) Status() Status {
	if b.Available > 0 {
		return StatusAvailable
	}
	return StatusBorrowed
}

// Patch は部分更新。nil のフィールドは変更しない。
type Patch struct {
	Title    *string
	Author   *string
	ISBN     *string
	Quantity *int
}

func (p Patch) Empty() bool {
	return p.Title == nil && p.Author == nil && p.ISBN == nil && p.Quantity == nil
}

// ApplyPatch returns b with p applied. A quantity change of Δ moves available
// by Δ and the result is clamped to [0, quantity].
func ApplyPatch(b Book, p Patch) (Book, error) {
	if p.Title != nil {
		t := strings.TrimSpace(*p.Title)
		if t == "" {
			return Book{}, apperr.Invalid("title must not be empty")
		}
		b.Title = t
	}
	if p.Author != nil {
		a := strings.TrimSpace(*p.Author)
		if a == "" {
			return Book{}, apperr.Invalid("author must not be empty")
		}
		b.Author = a
	}
	if p.ISBN != nil {
		isbn, err := NormalizeISBN(*p.ISBN)
		if err != nil {
			return Book{}, err
		}
		b.ISBN = isbn
	}
	if p.Quantity != nil {
		q := *p.Quantity
		if q < 1 {
			return Book{}, apperr.Invalid("quantity must be >= 1")
		}
		b.Available += q - b.Quantity
		b.Quantity = q
		b.Available = clamp(b.Available, 0, b.Quantity)
	}
	return b, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// NormalizeISBN は全角→半角、ハイフン・空白除去のうえ 10 桁 or 13 桁を要求する。
// チェックディジットは検証しない。
func NormalizeISBN(raw string) (string, error) {
	s := width.Fold.String(strings.TrimSpace(raw))
	s = strings.ToUpper(s)
	var sb strings.Builder
	for _, r := range s {
		switch {
		case r == '-' || r == ' ':
			continue
		case r >= '0' && r <= '9', r == 'X':
			sb.WriteRune(r)
		default:
			return "", apperr.Invalid("isbn contains invalid characters")
		}
	}
	out := sb.String()
	switch len(out) {
	case 10:
		if strings.ContainsRune(out[:9], 'X') {
			return "", apperr.Invalid("isbn-10 allows X only as the last character")
		}
	case 13:
		if strings.ContainsRune(out, 'X') {
			return "", apperr.Invalid("isbn-13 must be digits only")
		}
	default:
		return "", apperr.Invalid("isbn must have 10 or 13 characters")
	}
	return out, nil
}

type Filter struct {
	Title  string // 部分一致
	Author string // 完全一致
	Status Status
}

type Page struct {
	Limit  int
	Offset int
	Order  string // "asc" or "desc"
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
