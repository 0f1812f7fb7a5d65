package step

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	stmts := []string{
		`CREATE TABLE orders (id INTEGER PRIMARY KEY, customer TEXT, total REAL)`,
		`INSERT INTO orders (customer, total) VALUES ('ada', 12.5), ('sam', 40.0), ('ada', 7.0)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("exec %q: %v", stmt, err)
		}
	}
	return db
}

func TestDatabaseQueryHandler(t *testing.T) {
	h := NewDatabaseQueryHandler(openTestDB(t))

	t.Run("rows come back as objects", func(t *testing.T) {
		out, err := h.Execute(context.Background(), map[string]any{
			"query":  "SELECT customer, total FROM orders WHERE customer = ? ORDER BY total",
			"params": []any{"ada"},
		}, nil)
		if err != nil {
			t.Fatalf("execute: %v", err)
		}
		if out["count"] != 2 {
			t.Fatalf("count = %v", out["count"])
		}
		rows, _ := out["rows"].([]any)
		first, _ := rows[0].(map[string]any)
		if first["customer"] != "ada" || first["total"] != 7.0 {
			t.Errorf("rows[0] = %v", first)
		}
	})

	t.Run("only selects are allowed", func(t *testing.T) {
		_, err := h.Execute(context.Background(), map[string]any{
			"query": "DELETE FROM orders",
		}, nil)
		if err == nil || !strings.Contains(err.Error(), "SELECT") {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("missing query rejected", func(t *testing.T) {
		if _, err := h.Execute(context.Background(), map[string]any{}, nil); err == nil {
			t.Error("missing query accepted")
		}
	})

	t.Run("unconfigured handler refuses", func(t *testing.T) {
		bare := NewDatabaseQueryHandler(nil)
		if _, err := bare.Execute(context.Background(), map[string]any{"query": "SELECT 1"}, nil); err == nil {
			t.Error("nil database accepted")
		}
	})
}
