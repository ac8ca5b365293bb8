// Package memstore はプロセス内メモリの永続化層（開発・テスト用）。
// 1つの mutex で全操作を直列化し、必要ならスナップショットを JSON で書き出す。
package memstore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	jsoniter "github.com/json-iterator/go"

	"LIBRIS-backend/internal/circulation/books"
	"LIBRIS-backend/internal/circulation/fines"
	"LIBRIS-backend/internal/circulation/loans"
	"LIBRIS-backend/internal/platform/apperr"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type state struct {
	books map[string]books.Book
	loans map[string]loans.Loan
	fines map[string]fines.Fine

	// 一意制約の代わりの索引
	isbn       map[string]string // isbn -> book_id
	active     map[string]string // user_id + "\x00" + book_id -> loan_id
	fineByLoan map[string]string // loan_id -> fine_id
}

func newState() state {
	return state{
		books:      map[string]books.Book{},
		loans:      map[string]loans.Loan{},
		fines:      map[string]fines.Fine{},
		isbn:       map[string]string{},
		active:     map[string]string{},
		fineByLoan: map[string]string{},
	}
}

func (st state) clone() state {
	out := state{
		books:      make(map[string]books.Book, len(st.books)),
		loans:      make(map[string]loans.Loan, len(st.loans)),
		fines:      make(map[string]fines.Fine, len(st.fines)),
		isbn:       make(map[string]string, len(st.isbn)),
		active:     make(map[string]string, len(st.active)),
		fineByLoan: make(map[string]string, len(st.fineByLoan)),
	}
	for k, v := range st.books {
		out.books[k] = v
	}
	for k, v := range st.loans {
		out.loans[k] = v
	}
	for k, v := range st.fines {
		out.fines[k] = v
	}
	for k, v := range st.isbn {
		out.isbn[k] = v
	}
	for k, v := range st.active {
		out.active[k] = v
	}
	for k, v := range st.fineByLoan {
		out.fineByLoan[k] = v
	}
	return out
}

func pairKey(userID, bookID string) string { return userID + "\x00" + bookID }

// snapshot is written to disk after each committed mutation.
type snapshot struct {
	Books []books.Book `json:"books"`
	Loans []loans.Loan `json:"loans"`
	Fines []fines.Fine `json:"fines"`
}

type Store struct {
	mu           sync.Mutex
	st           state
	snapshotPath string
	logger       *slog.Logger
}

type Option func(*Store)

// WithSnapshot を指定すると起動時に読み込み、変更のたびに書き出す。
func WithSnapshot(path string) Option { return func(s *Store) { s.snapshotPath = path } }
func WithLogger(l *slog.Logger) Option { return func(s *Store) { s.logger = l } }

func New(opts ...Option) (*Store, error) {
	s := &Store{st: newState(), logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	if s.snapshotPath == "" {
		return s, nil
	}
	snap, err := readSnapshot(s.snapshotPath)
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", s.snapshotPath, err)
	}
	if snap != nil {
		s.st = fromSnapshot(*snap)
		s.logger.Info("memstore snapshot loaded", "path", s.snapshotPath,
			"books", len(snap.Books), "loans", len(snap.Loans), "fines", len(snap.Fines))
	}
	return s, nil
}

func (s *Store) Books() *Books { return &Books{s: s} }
func (s *Store) Loans() *Loans { return &Loans{s: s} }
func (s *Store) Fines() *Fines { return &Fines{s: s} }

type txKey struct{}

func (s *Store) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(txKey{}).(*Store)
	return owner == s
}

// WithinTx は fn の間ロックを保持し、エラーなら開始時点の状態に戻す。
// fn に渡した ctx を使う操作はロックを取り直さない。
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	backup := s.st.clone()
	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		s.st = backup
		return err
	}
	if err := s.persistLocked(); err != nil {
		s.st = backup
		return apperr.Internal("failed to write snapshot", err)
	}
	return nil
}

// view は読み取り用。Tx 中ならロック済み。
func (s *Store) view(ctx context.Context, fn func(st *state) error) error {
	if s.inTx(ctx) {
		return fn(&s.st)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&s.st)
}

// mutate は fn を適用してスナップショットを書く。失敗時は状態を戻す。
func (s *Store) mutate(ctx context.Context, fn func(st *state) error) error {
	if s.inTx(ctx) {
		return fn(&s.st)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var backup *state
	if s.snapshotPath != "" {
		b := s.st.clone()
		backup = &b
	}
	if err := fn(&s.st); err != nil {
		if backup != nil {
			s.st = *backup
		}
		return err
	}
	if err := s.persistLocked(); err != nil {
		s.st = *backup
		return apperr.Internal("failed to write snapshot", err)
	}
	return nil
}

func (s *Store) persistLocked() error {
	if s.snapshotPath == "" {
		return nil
	}
	return writeSnapshot(s.snapshotPath, toSnapshot(s.st))
}

func toSnapshot(st state) snapshot {
	snap := snapshot{
		Books: make([]books.Book, 0, len(st.books)),
		Loans: make([]loans.Loan, 0, len(st.loans)),
		Fines: make([]fines.Fine, 0, len(st.fines)),
	}
	for _, b := range st.books {
		snap.Books = append(snap.Books, b)
	}
	for _, l := range st.loans {
		snap.Loans = append(snap.Loans, l)
	}
	for _, f := range st.fines {
		snap.Fines = append(snap.Fines, f)
	}
	// ファイル差分を安定させる
	sort.Slice(snap.Books, func(i, j int) bool { return snap.Books[i].ID < snap.Books[j].ID })
	sort.Slice(snap.Loans, func(i, j int) bool { return snap.Loans[i].ID < snap.Loans[j].ID })
	sort.Slice(snap.Fines, func(i, j int) bool { return snap.Fines[i].ID < snap.Fines[j].ID })
	return snap
}

func fromSnapshot(snap snapshot) state {
	st := newState()
	for _, b := range snap.Books {
		st.books[b.ID] = b
		st.isbn[b.ISBN] = b.ID
	}
	for _, l := range snap.Loans {
		st.loans[l.ID] = l
		if l.Status == loans.StatusActive {
			st.active[pairKey(l.UserID, l.BookID)] = l.ID
		}
	}
	for _, f := range snap.Fines {
		st.fines[f.ID] = f
		st.fineByLoan[f.LoanID] = f.ID
	}
	return st
}

// readSnapshot loads the persisted JSON file if it exists.
func readSnapshot(path string) (*snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func writeSnapshot(path string, snap snapshot) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	temp := path + ".tmp"
	if err := os.WriteFile(temp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(temp, path)
}

func paginate[T any](rows []T, offset, limit int) []T {
	if offset >= len(rows) {
		return []T{}
	}
	end := len(rows)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return rows[offset:end]
}
