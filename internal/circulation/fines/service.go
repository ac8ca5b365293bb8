package fines

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"LIBRIS-backend/internal/circulation/loans"
	"LIBRIS-backend/internal/platform/apperr"
	"LIBRIS-backend/internal/platform/auth"
	"LIBRIS-backend/internal/platform/ids"
)

const MeterName = "LIBRIS-backend/internal/circulation/fines"

// metric names
const (
	MetricScanLoans    = "libris.fines.scan.loans"
	MetricScanDuration = "libris.fines.scan.duration"
	MetricPaid         = "libris.fines.paid"
)

type Service struct {
	store   Store
	overdue OverdueSource
	policy  loans.Policy
	clock   ids.Clock
	id      ids.IDGen
	logger  *slog.Logger
	meter   metric.Meter

	scanLoans    metric.Int64Counter
	scanDuration metric.Float64Histogram
	paid         metric.Int64Counter
}

type Option func(*Service)

func WithClock(c ids.Clock) Option     { return func(s *Service) { s.clock = c } }
func WithIDGen(g ids.IDGen) Option     { return func(s *Service) { s.id = g } }
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }
func WithPolicy(p loans.Policy) Option { return func(s *Service) { s.policy = p } }
func WithMeter(m metric.Meter) Option  { return func(s *Service) { s.meter = m } }

func NewService(store Store, overdue OverdueSource, opts ...Option) (*Service, error) {
	s := &Service{
		store:   store,
		overdue: overdue,
		policy:  loans.DefaultPolicy(),
		clock:   ids.RealClock(),
		id:      ids.ULIDGen(),
		logger:  slog.Default(),
		meter:   otel.Meter(MeterName),
	}
	for _, o := range opts {
		o(s)
	}

	var err error
	if s.scanLoans, err = s.meter.Int64Counter(MetricScanLoans,
		metric.WithDescription("loans examined by the fine scan, by outcome")); err != nil {
		return nil, fmt.Errorf("create counter %s: %w", MetricScanLoans, err)
	}
	if s.scanDuration, err = s.meter.Float64Histogram(MetricScanDuration,
		metric.WithDescription("fine scan duration"), metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("create histogram %s: %w", MetricScanDuration, err)
	}
	if s.paid, err = s.meter.Int64Counter(MetricPaid,
		metric.WithDescription("fines paid")); err != nil {
		return nil, fmt.Errorf("create counter %s: %w", MetricPaid, err)
	}
	return s, nil
}

// CalculateFines は延滞中の貸出を走査し、未作成の延滞料を作る。
// 同時・重複実行しても loan_id の一意制約で1件に収まる。
// 1件の失敗で全体は止めない（件数と内容はログに残す）。
func (s *Service) CalculateFines(ctx context.Context, p auth.Principal) (Report, error) {
	if err := auth.RequireAdmin(p); err != nil {
		return Report{}, err
	}

	start := time.Now()
	now := s.clock.Now()
	rep := Report{RanAt: now}

	overdue, err := s.overdue.ListOverdue(ctx, now)
	if err != nil {
		s.scanDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attribute.String("status", "error")))
		return rep, apperr.Internal("failed to list overdue loans", err)
	}

	for _, l := range overdue {
		rep.Scanned++
		outcome := s.processLoan(ctx, l, now)
		switch outcome {
		case "created":
			rep.Created++
		case "skipped":
			rep.Skipped++
		case "failed":
			rep.Failed++
		}
		s.scanLoans.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}

	s.scanDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attribute.String("status", "ok")))
	s.logger.InfoContext(ctx, "fine scan finished",
		"principal", p.UserID,
		"scanned", rep.Scanned, "created", rep.Created, "skipped", rep.Skipped, "failed", rep.Failed)
	return rep, nil
}

func (s *Service) processLoan(ctx context.Context, l loans.Loan, now time.Time) string {
	amount := s.policy.FineFor(loans.DaysLate(l.DueAt, now))
	if !amount.IsPositive() {
		return "skipped"
	}
	f := &Fine{
		ID:        s.id.NewULID(now),
		UserID:    l.UserID,
		LoanID:    l.ID,
		Amount:    amount,
		Status:    StatusPending,
		CreatedAt: now,
	}
	created, err := s.store.InsertIfAbsent(ctx, f)
	if err != nil {
		s.logger.ErrorContext(ctx, "fine insert failed", "loan_id", l.ID, "user_id", l.UserID, "error", err)
		return "failed"
	}
	if !created {
		return "skipped"
	}
	s.logger.InfoContext(ctx, "fine created", "fine_id", f.ID, "loan_id", l.ID, "amount", amount.String())
	return "created"
}

// PayFine: pending -> paid。支払済みは ALREADY_PAID。
func (s *Service) PayFine(ctx context.Context, p auth.Principal, fineID string) (FineResponse, error) {
	f, err := s.store.Get(ctx, fineID)
	if err != nil {
		return FineResponse{}, err
	}
	if err := auth.RequireSelfOrAdmin(p, f.UserID); err != nil {
		return FineResponse{}, err
	}
	if f.Status == StatusPaid {
		return FineResponse{}, apperr.Conflict(apperr.ReasonAlreadyPaid, "fine already paid")
	}

	now := s.clock.Now()
	if err := s.store.MarkPaid(ctx, f.ID, now); err != nil {
		return FineResponse{}, err
	}
	f.Status = StatusPaid
	f.PaidAt = &now

	s.paid.Add(ctx, 1)
	s.logger.InfoContext(ctx, "fine paid", "fine_id", f.ID, "user_id", f.UserID, "by", p.UserID, "amount", f.Amount.String())
	return toResponse(*f), nil
}

// ListFines: admin は全件（user_id で絞り込み可）、一般ユーザーは自分の分のみ。
func (s *Service) ListFines(ctx context.Context, p auth.Principal, targetUserID string, st Status, pg Page) (ListFinesResult, error) {
	userID, err := auth.ResolveUserScope(p, targetUserID, p.IsAdmin())
	if err != nil {
		return ListFinesResult{}, err
	}
	pg = pg.Normalize()
	rows, total, err := s.store.List(ctx, Filter{UserID: userID, Status: st}, pg)
	if err != nil {
		return ListFinesResult{}, err
	}
	items := make([]FineResponse, 0, len(rows))
	for _, f := range rows {
		items = append(items, toResponse(f))
	}
	next := pg.Offset + pg.Limit
	if next >= int(total) {
		next = 0
	} // 0=終端
	return ListFinesResult{Items: items, Total: total, NextOffset: next}, nil
}
