package books_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LIBRIS-backend/internal/circulation/books"
	"LIBRIS-backend/internal/circulation/loans"
	"LIBRIS-backend/internal/platform/apperr"
	"LIBRIS-backend/internal/platform/ids"
	"LIBRIS-backend/internal/storage/memstore"
)

var t0 = time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)

func newService(t *testing.T) (*books.Service, *memstore.Store) {
	t.Helper()
	st, err := memstore.New()
	require.NoError(t, err)
	svc := books.NewService(st.Books(), st.Loans(), books.WithClock(ids.NewManualClock(t0)))
	return svc, st
}

func mustCreate(t *testing.T, svc *books.Service, isbn string, qty int) books.BookResponse {
	t.Helper()
	b, err := svc.Create(context.Background(), books.CreateBookRequest{
		Title: "The Go Programming Language", Author: "Donovan", ISBN: isbn, Quantity: qty,
	})
	require.NoError(t, err)
	return b
}

func Test_Create_NormalizesAndDerivesStatus(t *testing.T) {
	// setup
	svc, _ := newService(t)

	// act
	b, err := svc.Create(context.Background(), books.CreateBookRequest{
		Title: "  Go  ", Author: "Pike", ISBN: "978-0-13-419044-0", Quantity: 2,
	})

	// assert
	require.NoError(t, err)
	assert.NotEmpty(t, b.ID)
	assert.Equal(t, "Go", b.Title)
	assert.Equal(t, "9780134190440", b.ISBN)
	assert.Equal(t, 2, b.Available)
	assert.Equal(t, books.StatusAvailable, b.Status)
	assert.True(t, b.CreatedAt.Equal(t0))
}

func Test_Create_Rejects(t *testing.T) {
	svc, _ := newService(t)
	mustCreate(t, svc, "9780134190440", 1)

	cases := map[string]struct {
		in   books.CreateBookRequest
		want error
	}{
		"zero quantity": {books.CreateBookRequest{Title: "a", Author: "b", ISBN: "4003101014", Quantity: 0}, apperr.ErrInvalid},
		"blank title":   {books.CreateBookRequest{Title: " ", Author: "b", ISBN: "4003101014", Quantity: 1}, apperr.ErrInvalid},
		"bad isbn":      {books.CreateBookRequest{Title: "a", Author: "b", ISBN: "12345", Quantity: 1}, apperr.ErrInvalid},
		"duplicate":     {books.CreateBookRequest{Title: "a", Author: "b", ISBN: "978-0134190440", Quantity: 1}, apperr.ErrDuplicateISBN},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), tc.in)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func Test_ReserveCopy_LastCopyGoesToExactlyOneCaller(t *testing.T) {
	// setup
	ctx := context.Background()
	svc, _ := newService(t)
	b := mustCreate(t, svc, "9780134190440", 1)
	const n = 16

	// act
	var wg sync.WaitGroup
	var mu sync.Mutex
	var ok, outOfStock, other int
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := svc.ReserveCopy(ctx, b.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, apperr.ErrOutOfStock):
				outOfStock++
			default:
				other++
			}
		}()
	}
	wg.Wait()

	// assert
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, outOfStock)
	assert.Zero(t, other)

	got, err := svc.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Available)
	assert.Equal(t, books.StatusBorrowed, got.Status)
}

func Test_ReleaseCopy_NeverExceedsQuantity(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	b := mustCreate(t, svc, "9780134190440", 2)

	require.NoError(t, svc.ReleaseCopy(ctx, b.ID))

	got, err := svc.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Available)
	assert.ErrorIs(t, svc.ReleaseCopy(ctx, "missing"), apperr.ErrNotFound)
}

func Test_UpdateMetadata_ShrinkClampsAvailable(t *testing.T) {
	// setup: 3冊中2冊貸出中
	ctx := context.Background()
	svc, _ := newService(t)
	b := mustCreate(t, svc, "9780134190440", 3)
	require.NoError(t, svc.ReserveCopy(ctx, b.ID))
	require.NoError(t, svc.ReserveCopy(ctx, b.ID))
	one := 1

	// act
	got, err := svc.UpdateMetadata(ctx, b.ID, books.Patch{Quantity: &one})

	// assert
	require.NoError(t, err)
	assert.Equal(t, 1, got.Quantity)
	assert.Equal(t, 0, got.Available)
	assert.Equal(t, books.StatusBorrowed, got.Status)
}

func Test_UpdateMetadata_Rejects(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	b := mustCreate(t, svc, "9780134190440", 1)
	other := mustCreate(t, svc, "4003101014", 1)
	zero := 0
	dup := "9780134190440"

	_, err := svc.UpdateMetadata(ctx, b.ID, books.Patch{})
	assert.ErrorIs(t, err, apperr.ErrInvalid)

	_, err = svc.UpdateMetadata(ctx, b.ID, books.Patch{Quantity: &zero})
	assert.ErrorIs(t, err, apperr.ErrInvalid)

	_, err = svc.UpdateMetadata(ctx, other.ID, books.Patch{ISBN: &dup})
	assert.ErrorIs(t, err, apperr.ErrDuplicateISBN)

	one := 1
	_, err = svc.UpdateMetadata(ctx, "missing", books.Patch{Quantity: &one})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func Test_Delete_BlockedWhileLoanIsActive(t *testing.T) {
	// setup
	ctx := context.Background()
	svc, st := newService(t)
	b := mustCreate(t, svc, "9780134190440", 1)
	loan := &loans.Loan{
		ID: "l1", BookID: b.ID, UserID: "u1", BorrowedAt: t0, DueAt: t0.Add(24 * time.Hour),
		Status: loans.StatusActive, FineAmount: decimal.Zero,
	}
	require.NoError(t, st.Loans().Insert(ctx, loan))

	// act / assert
	assert.ErrorIs(t, svc.Delete(ctx, b.ID), apperr.ErrHasActiveLoans)

	require.NoError(t, st.Loans().MarkReturned(ctx, "l1", t0, decimal.Zero))
	require.NoError(t, svc.Delete(ctx, b.ID))
	_, err := svc.Get(ctx, b.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.ErrorIs(t, svc.Delete(ctx, b.ID), apperr.ErrNotFound)
}

func Test_List_FiltersAndPages(t *testing.T) {
	// setup
	ctx := context.Background()
	svc, _ := newService(t)
	a := mustCreate(t, svc, "9780134190440", 1)
	mustCreate(t, svc, "4003101014", 1)
	mustCreate(t, svc, "9784873117522", 1)
	require.NoError(t, svc.ReserveCopy(ctx, a.ID))

	// act
	borrowed, err := svc.List(ctx, books.Filter{Status: books.StatusBorrowed}, books.Page{})
	require.NoError(t, err)
	first, err := svc.List(ctx, books.Filter{}, books.Page{Limit: 2, Order: "asc"})
	require.NoError(t, err)
	last, err := svc.List(ctx, books.Filter{}, books.Page{Limit: 2, Offset: 2, Order: "asc"})
	require.NoError(t, err)

	// assert
	require.Len(t, borrowed.Items, 1)
	assert.Equal(t, a.ID, borrowed.Items[0].ID)

	assert.EqualValues(t, 3, first.Total)
	assert.Len(t, first.Items, 2)
	assert.Equal(t, 2, first.NextOffset)
	assert.Len(t, last.Items, 1)
	assert.Equal(t, 0, last.NextOffset)
}
