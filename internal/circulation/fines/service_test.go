package fines_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"LIBRIS-backend/internal/circulation/fines"
	"LIBRIS-backend/internal/circulation/loans"
	"LIBRIS-backend/internal/platform/apperr"
	"LIBRIS-backend/internal/platform/auth"
	"LIBRIS-backend/internal/platform/ids"
	"LIBRIS-backend/internal/storage/memstore"
)

var (
	t0    = time.Date(2025, 4, 20, 9, 0, 0, 0, time.UTC)
	day   = 24 * time.Hour
	alice = auth.Principal{UserID: "alice", Role: auth.RoleUser}
	bob   = auth.Principal{UserID: "bob", Role: auth.RoleUser}
	admin = auth.Principal{UserID: "librarian", Role: auth.RoleAdmin}
)

type fixture struct {
	store  *memstore.Store
	clock  *ids.ManualClock
	svc    *fines.Service
	reader *sdkmetric.ManualReader
}

func newFixture(t *testing.T, wrap func(*memstore.Fines) fines.Store) *fixture {
	t.Helper()
	st, err := memstore.New()
	require.NoError(t, err)
	var store fines.Store = st.Fines()
	if wrap != nil {
		store = wrap(st.Fines())
	}
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	clock := ids.NewManualClock(t0)
	svc, err := fines.NewService(store, st.Loans(),
		fines.WithClock(clock),
		fines.WithMeter(provider.Meter("test")),
	)
	require.NoError(t, err)
	return &fixture{store: st, clock: clock, svc: svc, reader: reader}
}

// addLoan は due が now から dueIn だけずれた貸出中の記録を作る。
func (f *fixture) addLoan(t *testing.T, id, userID string, dueIn time.Duration) {
	t.Helper()
	due := t0.Add(dueIn)
	require.NoError(t, f.store.Loans().Insert(context.Background(), &loans.Loan{
		ID: id, BookID: "book-" + id, UserID: userID,
		BorrowedAt: due.Add(-14 * day), DueAt: due,
		Status: loans.StatusActive, FineAmount: decimal.Zero,
	}))
}

func (f *fixture) counter(t *testing.T, name, key string) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, f.reader.Collect(context.Background(), &rm))
	out := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "%s is not an int64 sum", name)
			for _, dp := range sum.DataPoints {
				v, _ := dp.Attributes.Value(attribute.Key(key))
				out[v.AsString()] += dp.Value
			}
		}
	}
	return out
}

func Test_CalculateFines_CreatesPendingFine(t *testing.T) {
	// setup: 5日延滞
	ctx := context.Background()
	f := newFixture(t, nil)
	f.addLoan(t, "l1", "alice", -5*day)

	// act
	rep, err := f.svc.CalculateFines(ctx, admin)

	// assert
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Scanned)
	assert.Equal(t, 1, rep.Created)
	assert.True(t, rep.RanAt.Equal(t0))

	list, err := f.svc.ListFines(ctx, alice, "", "", fines.Page{})
	require.NoError(t, err)
	require.Len(t, list.Items, 1)
	got := list.Items[0]
	assert.Equal(t, "l1", got.LoanID)
	assert.Equal(t, fines.StatusPending, got.Status)
	assert.True(t, got.Amount.Equal(decimal.NewFromInt(50)), got.Amount.String())
}

func Test_CalculateFines_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.addLoan(t, "l1", "alice", -5*day)
	f.addLoan(t, "l2", "bob", -2*day)
	f.addLoan(t, "l3", "bob", 3*day) // 期限内

	first, err := f.svc.CalculateFines(ctx, admin)
	require.NoError(t, err)
	f.clock.Advance(day)
	second, err := f.svc.CalculateFines(ctx, admin)
	require.NoError(t, err)

	assert.Equal(t, 2, first.Created)
	assert.Equal(t, 0, second.Created)
	assert.Equal(t, 2, second.Skipped)

	// 2回目でも金額は作成時のまま
	all, err := f.svc.ListFines(ctx, admin, "", "", fines.Page{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, all.Total)
	for _, x := range all.Items {
		if x.LoanID == "l1" {
			assert.True(t, x.Amount.Equal(decimal.NewFromInt(50)))
		}
	}
}

func Test_CalculateFines_ConcurrentScansCreateOncePerLoan(t *testing.T) {
	// setup
	ctx := context.Background()
	f := newFixture(t, nil)
	for _, id := range []string{"l1", "l2", "l3", "l4"} {
		f.addLoan(t, id, "alice", -3*day)
	}
	const n = 6

	// act
	var wg sync.WaitGroup
	reps := make([]fines.Report, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rep, err := f.svc.CalculateFines(ctx, admin)
			assert.NoError(t, err)
			reps[i] = rep
		}(i)
	}
	wg.Wait()

	// assert
	created := 0
	for _, r := range reps {
		created += r.Created
	}
	assert.Equal(t, 4, created)

	all, err := f.svc.ListFines(ctx, admin, "", "", fines.Page{})
	require.NoError(t, err)
	assert.EqualValues(t, 4, all.Total)
}

func Test_CalculateFines_PartialDayIsSkipped(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.addLoan(t, "l1", "alice", -2*time.Hour)

	rep, err := f.svc.CalculateFines(ctx, admin)

	require.NoError(t, err)
	assert.Equal(t, 1, rep.Scanned)
	assert.Equal(t, 0, rep.Created)
	assert.Equal(t, 1, rep.Skipped)
}

// flakyFines は指定した loan の作成だけ失敗させる。
type flakyFines struct {
	*memstore.Fines
	failLoan string
}

func (s flakyFines) InsertIfAbsent(ctx context.Context, f *fines.Fine) (bool, error) {
	if f.LoanID == s.failLoan {
		return false, apperr.Internal("insert fine", errors.New("connection reset"))
	}
	return s.Fines.InsertIfAbsent(ctx, f)
}

func Test_CalculateFines_ContinuesPastFailures(t *testing.T) {
	// setup
	ctx := context.Background()
	f := newFixture(t, func(s *memstore.Fines) fines.Store {
		return flakyFines{Fines: s, failLoan: "l2"}
	})
	f.addLoan(t, "l1", "alice", -4*day)
	f.addLoan(t, "l2", "alice", -3*day)
	f.addLoan(t, "l3", "bob", -2*day)

	// act
	rep, err := f.svc.CalculateFines(ctx, admin)

	// assert
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Scanned)
	assert.Equal(t, 2, rep.Created)
	assert.Equal(t, 1, rep.Failed)

	byOutcome := f.counter(t, fines.MetricScanLoans, "outcome")
	assert.Equal(t, int64(2), byOutcome["created"])
	assert.Equal(t, int64(1), byOutcome["failed"])
}

func Test_CalculateFines_AdminOnly(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.CalculateFines(context.Background(), alice)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = f.svc.CalculateFines(context.Background(), auth.System())
	assert.NoError(t, err)
}

func Test_PayFine(t *testing.T) {
	// setup
	ctx := context.Background()
	f := newFixture(t, nil)
	f.addLoan(t, "l1", "alice", -5*day)
	f.addLoan(t, "l2", "bob", -5*day)
	_, err := f.svc.CalculateFines(ctx, admin)
	require.NoError(t, err)

	mine, err := f.svc.ListFines(ctx, alice, "", fines.StatusPending, fines.Page{})
	require.NoError(t, err)
	require.Len(t, mine.Items, 1)
	fineID := mine.Items[0].ID

	// act / assert
	_, err = f.svc.PayFine(ctx, bob, fineID)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	f.clock.Advance(time.Hour)
	paid, err := f.svc.PayFine(ctx, alice, fineID)
	require.NoError(t, err)
	assert.Equal(t, fines.StatusPaid, paid.Status)
	require.NotNil(t, paid.PaidAt)
	assert.True(t, paid.PaidAt.Equal(t0.Add(time.Hour)))

	_, err = f.svc.PayFine(ctx, alice, fineID)
	assert.ErrorIs(t, err, apperr.ErrAlreadyPaid)

	_, err = f.svc.PayFine(ctx, admin, "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	pending, err := f.svc.ListFines(ctx, alice, "", fines.StatusPending, fines.Page{})
	require.NoError(t, err)
	assert.Empty(t, pending.Items)

	assert.Equal(t, int64(1), f.counter(t, fines.MetricPaid, "")[""])
}

func Test_PayFine_AdminOnBehalf(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.addLoan(t, "l1", "alice", -1*day)
	_, err := f.svc.CalculateFines(ctx, admin)
	require.NoError(t, err)
	list, err := f.svc.ListFines(ctx, admin, "alice", "", fines.Page{})
	require.NoError(t, err)
	require.Len(t, list.Items, 1)

	paid, err := f.svc.PayFine(ctx, admin, list.Items[0].ID)

	require.NoError(t, err)
	assert.Equal(t, "alice", paid.UserID)
	assert.True(t, paid.Amount.Equal(decimal.NewFromInt(10)))
}

func Test_ListFines_Scope(t *testing.T) {
	// setup
	ctx := context.Background()
	f := newFixture(t, nil)
	f.addLoan(t, "l1", "alice", -2*day)
	f.addLoan(t, "l2", "bob", -2*day)
	f.addLoan(t, "l3", "bob", -3*day)
	_, err := f.svc.CalculateFines(ctx, admin)
	require.NoError(t, err)

	// act / assert
	own, err := f.svc.ListFines(ctx, bob, "", "", fines.Page{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, own.Total)

	_, err = f.svc.ListFines(ctx, bob, "alice", "", fines.Page{})
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	all, err := f.svc.ListFines(ctx, admin, "", "", fines.Page{})
	require.NoError(t, err)
	assert.EqualValues(t, 3, all.Total)

	page, err := f.svc.ListFines(ctx, admin, "", "", fines.Page{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
	assert.Equal(t, 2, page.NextOffset)
}
