package memstore

import (
	"context"
	"sort"
	"time"

	"LIBRIS-backend/internal/circulation/fines"
	"LIBRIS-backend/internal/platform/apperr"
)

type Fines struct{ s *Store }

var _ fines.Store = (*Fines)(nil)

func (r *Fines) InsertIfAbsent(ctx context.Context, f *fines.Fine) (bool, error) {
	created := false
	err := r.s.mutate(ctx, func(st *state) error {
		if _, exists := st.fineByLoan[f.LoanID]; exists {
			return nil
		}
		st.fines[f.ID] = *f
		st.fineByLoan[f.LoanID] = f.ID
		created = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

func (r *Fines) Get(ctx context.Context, id string) (*fines.Fine, error) {
	var out fines.Fine
	err := r.s.view(ctx, func(st *state) error {
		f, ok := st.fines[id]
		if !ok {
			return apperr.NotFound("fine not found")
		}
		out = f
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *Fines) MarkPaid(ctx context.Context, id string, paidAt time.Time) error {
	return r.s.mutate(ctx, func(st *state) error {
		f, ok := st.fines[id]
		if !ok {
			return apperr.NotFound("fine not found")
		}
		if f.Status != fines.StatusPending {
			return apperr.Conflict(apperr.ReasonAlreadyPaid, "fine already paid")
		}
		at := paidAt
		f.Status = fines.StatusPaid
		f.PaidAt = &at
		st.fines[id] = f
		return nil
	})
}

func (r *Fines) List(ctx context.Context, f fines.Filter, p fines.Page) ([]fines.Fine, int64, error) {
	var rows []fines.Fine
	err := r.s.view(ctx, func(st *state) error {
		for _, x := range st.fines {
			if f.UserID != "" && x.UserID != f.UserID {
				continue
			}
			if f.Status != "" && x.Status != f.Status {
				continue
			}
			rows = append(rows, x)
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
