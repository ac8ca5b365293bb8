package sqlstore

import (
	"context"
	"embed"
	"fmt"
	"strings"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// Statements は方言ごとの DDL を文単位に分けて返す。
func Statements(dialect string) ([]string, error) {
	buf, err := schemaFS.ReadFile("schema/" + dialect + ".sql")
	if err != nil {
		return nil, fmt.Errorf("no schema for dialect %q: %w", dialect, err)
	}
	var out []string
	for _, stmt := range strings.Split(string(buf), ";") {
		if s := stripComments(stmt); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

func stripComments(stmt string) string {
	lines := strings.Split(stmt, "\n")
	kept := lines[:0]
	for _, l := range lines {
		if strings.HasPrefix(strings.TrimSpace(l), "--") {
			continue
		}
		kept = append(kept, l)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

// InitSchema は CREATE ... IF NOT EXISTS を順に流す。何度実行してもよい。
func (s *Store) InitSchema(ctx context.Context) error {
	stmts, err := Statements(s.name)
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := s.sqldb.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	s.logger.InfoContext(ctx, "schema ready", "dialect", s.name, "statements", len(stmts))
	return nil
}
