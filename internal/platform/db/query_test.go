package db

import (
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestFilter(t *testing.T) {
	var f Filter
	if f.Where() != "" {
		t.Errorf("empty filter rendered %q", f.Where())
	}
	f.Add("status = ?", "waiting")
	f.Add("(name ILIKE ? OR mrn ILIKE ?)", "%ann%")

	want := " WHERE status = $1 AND (name ILIKE $2 OR mrn ILIKE $2)"
	if got := f.Where(); got != want {
		t.Errorf("Where() = %q, want %q", got, want)
	}

	suffix, args := f.Page(20, 40)
	if suffix != " LIMIT $3 OFFSET $4" {
		t.Errorf("Page suffix = %q", suffix)
	}
	if len(args) != 4 || args[2] != 20 || args[3] != 40 {
		t.Errorf("Page args = %v", args)
	}
	if len(f.Args()) != 2 {
		t.Errorf("Page must not grow the filter args, got %v", f.Args())
	}
}

func TestFilter_AddCond(t *testing.T) {
	var f Filter
	f.Add("recipient_id = ?", "u-1")
	f.AddCond("read_at IS NULL")
	f.Add("channel = ?", "in_app")

	want := " WHERE recipient_id = $1 AND read_at IS NULL AND channel = $2"
	if got := f.Where(); got != want {
		t.Errorf("Where() = %q, want %q", got, want)
	}
}

func TestPgCodes(t *testing.T) {
	unique := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})
	if !IsUniqueViolation(unique) {
		t.Error("expected unique violation")
	}
	if IsForeignKeyViolation(unique) {
		t.Error("unique violation reported as foreign key violation")
	}
	if !IsForeignKeyViolation(&pgconn.PgError{Code: "23503"}) {
		t.Error("expected foreign key violation")
	}
	if IsUniqueViolation(fmt.Errorf("plain")) {
		t.Error("plain error reported as unique violation")
	}
}

func TestViolatedConstraint(t *testing.T) {
	err := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: "patient_mrn_key"})
	if got := ViolatedConstraint(err); got != "patient_mrn_key" {
		t.Errorf("expected patient_mrn_key, got %q", got)
	}
	if got := ViolatedConstraint(fmt.Errorf("plain")); got != "" {
		t.Errorf("expected empty constraint, got %q", got)
	}
}
