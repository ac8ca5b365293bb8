package books

import "time"

// ===== Requests =====

type CreateBookRequest struct {
	Title    string `json:"title" binding:"required"`
	Author   string `json:"author" binding:"required"`
	ISBN     string `json:"isbn" binding:"required"`
	Quantity int    `json:"quantity" binding:"required"`
}

type UpdateBookRequest struct {
	Title    *string `json:"title,omitempty"`
	Author   *string `json:"author,omitempty"`
	ISBN     *string `json:"isbn,omitempty"`
	Quantity *int    `json:"quantity,omitempty"`
}

func (r UpdateBookRequest) Patch() Patch {
	return Patch{Title: r.Title, Author: r.Author, ISBN: r.ISBN, Quantity: r.Quantity}
}

// ===== Responses =====

type BookResponse struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	Author         string    `json:"author"`
	ISBN           string    `json:"isbn"`
	Quantity       int       `json:"quantity"`
	Available      int       `json:"available"`
	Status         Status    `json:"status"`
	LastBorrowerID *string   `json:"last_borrower_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type ListBooksResult struct {
	Items      []BookResponse `json:"items"`
	Total      int64          `json:"total"`
	NextOffset int            `json:"next_offset"`
}

func toResponse(b Book) BookResponse {
	return BookResponse{
		ID:             b.ID,
		Title:          b.Title,
		Author:         b.Author,
		ISBN:           b.ISBN,
		Quantity:       b.Quantity,
		Available:      b.Available,
		Status:         b.Status(),
		LastBorrowerID: b.LastBorrowerID,
		CreatedAt:      b.CreatedAt,
		UpdatedAt:      b.UpdatedAt,
	}
}
