package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Filter accumulates AND-ed WHERE clauses with positional arguments.
type Filter struct {
	clauses []string
	args    []any
}

// Add appends clause, replacing "?" with the next placeholder.
func (f *Filter) Add(clause string, arg any) {
	f.args = append(f.args, arg)
	f.clauses = append(f.clauses, strings.ReplaceAll(clause, "?", fmt.Sprintf("$%d", len(f.args))))
}

// AddCond appends a clause that takes no argument.
func (f *Filter) AddCond(clause string) {
	f.clauses = append(f.clauses, clause)
}

// Where renders " WHERE a AND b", or "" when nothing was added.
func (f *Filter) Where() string {
	if len(f.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(f.clauses, " AND ")
}

func (f *Filter) Args() []any { return f.args }

// Page returns the LIMIT/OFFSET suffix and the full argument list for it.
func (f *Filter) Page(limit, offset int) (string, []any) {
	n := len(f.args)
	args := make([]any, 0, n+2)
	args = append(args, f.args...)
	return fmt.Sprintf(" LIMIT $%d OFFSET $%d", n+1, n+2), append(args, limit, offset)
}

// CollectRows scans every row with scan and closes rows.
func CollectRows[T any](rows pgx.Rows, scan func(pgx.Row) (T, error)) ([]T, error) {
	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (T, error) {
		return scan(r)
	})
}

func IsUniqueViolation(err error) bool {
	return pgCode(err) == "23505"
}

func IsForeignKeyViolation(err error) bool {
	return pgCode(err) == "23503"
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// ViolatedConstraint names the constraint behind a PostgreSQL error, or "".
func ViolatedConstraint(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName
	}
	return ""
}
