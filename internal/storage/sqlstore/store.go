// Package sqlstore は MySQL / PostgreSQL 向けの永続化層。
// SQL は goqu で方言ごとに組み立て、実行は sqlx で行う。
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/mysql"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"LIBRIS-backend/internal/platform/db"
)

const (
	DialectMySQL    = "mysql"
	DialectPostgres = "postgres"

	tblBooks = "books"
	tblLoans = "loans"
	tblFines = "fines"

	mysqlErrDuplicateEntry = 1062
	pgUniqueViolation      = "23505"
)

type builder interface {
	ToSQL() (string, []interface{}, error)
}

type base struct {
	sqldb   *sqlx.DB
	dialect goqu.DialectWrapper
	name    string
	logger  *slog.Logger
}

// conn は ctx に Tx があればそれを使う。
func (b *base) conn(ctx context.Context) db.DBTX {
	return db.Conn(ctx, b.sqldb)
}

func (b *base) exec(ctx context.Context, q builder) (sql.Result, error) {
	query, args, err := q.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build sql: %w", err)
	}
	return b.conn(ctx).ExecContext(ctx, query, args...)
}

func (b *base) get(ctx context.Context, dest any, q builder) error {
	query, args, err := q.ToSQL()
	if err != nil {
		return fmt.Errorf("build sql: %w", err)
	}
	return sqlx.GetContext(ctx, b.conn(ctx), dest, query, args...)
}

func (b *base) selectAll(ctx context.Context, dest any, q builder) error {
	query, args, err := q.ToSQL()
	if err != nil {
		return fmt.Errorf("build sql: %w", err)
	}
	return sqlx.SelectContext(ctx, b.conn(ctx), dest, query, args...)
}

func (b *base) withinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.SQLTransactor{DB: b.sqldb}.WithinTx(ctx, fn)
}

type Store struct {
	base
}

type Option func(*Store)

func WithLogger(l *slog.Logger) Option { return func(s *Store) { s.logger = l } }

// New は dialect に "mysql" か "postgres" を取る。
func New(sqldb *sqlx.DB, dialect string, opts ...Option) (*Store, error) {
	switch dialect {
	case DialectMySQL, DialectPostgres:
	default:
		return nil, fmt.Errorf("unsupported dialect %q", dialect)
	}
	s := &Store{base: base{
		sqldb:   sqldb,
		dialect: goqu.Dialect(dialect),
		name:    dialect,
		logger:  slog.Default(),
	}}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

func (s *Store) Books() *Books { return &Books{base: &s.base} }
func (s *Store) Loans() *Loans { return &Loans{base: &s.base} }
func (s *Store) Fines() *Fines { return &Fines{base: &s.base} }

// WithinTx は db.Transactor の実装。入れ子は外側に合流する。
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.withinTx(ctx, fn)
}

// isDuplicateKey: MySQL 1062 / SQLSTATE 23505（pgx, lib/pq）
func isDuplicateKey(err error) bool {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == mysqlErrDuplicateEntry
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == pgUniqueViolation
	}
	return false
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func containsPattern(s string) string {
	return "%" + likeEscaper.Replace(s) + "%"
}

func orderAsc(order string) bool { return order == "asc" }
