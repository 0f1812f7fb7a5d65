package step

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// maxQueryRows bounds how many rows a database_query step returns.
const maxQueryRows = 1000

// DatabaseQueryHandler runs a read-only SQL query against an injected
// database handle and returns the rows as JSON objects.
type DatabaseQueryHandler struct {
	db *sql.DB
}

// NewDatabaseQueryHandler wraps an already-open database handle.
func NewDatabaseQueryHandler(db *sql.DB) *DatabaseQueryHandler {
	return &DatabaseQueryHandler{db: db}
}

func (h *DatabaseQueryHandler) Metadata() Metadata {
	return Metadata{
		Label:       "Database Query",
		Description: "Run a read-only SQL query and capture the rows",
		ConfigSchema: map[string]any{
			"query":  map[string]any{"type": "string", "required": true},
			"params": map[string]any{"type": "array"},
		},
	}
}

func (h *DatabaseQueryHandler) Execute(ctx context.Context, config, _ map[string]any) (map[string]any, error) {
	if h.db == nil {
		return nil, NonRetriable(fmt.Errorf("no database configured for database_query steps"))
	}
	query, err := requireStr(config, "query")
	if err != nil {
		return nil, NonRetriable(err)
	}
	if !strings.HasPrefix(strings.ToUpper(strings.TrimSpace(query)), "SELECT") {
		return nil, NonRetriable(fmt.Errorf("only SELECT queries are allowed"))
	}

	rows, err := h.db.QueryContext(ctx, query, listField(config, "params")...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}

	var out []any
	for rows.Next() {
		if len(out) >= maxQueryRows {
			break
		}
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			v := values[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			row[col] = v
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return map[string]any{
		"rows":  out,
		"count": len(out),
	}, nil
}
