package backlog_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/stembridge-labs/grant-screening-pipeline/internal/backlog"
	"github.com/stembridge-labs/grant-screening-pipeline/internal/screening"
)

func newMockReader(t *testing.T, table string) (*backlog.Reader, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	reader, err := backlog.New(sqlx.NewDb(db, "sqlmock"), table)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return reader, mock
}

func TestNewRejectsBadTableNames(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()
	sqlxDB := sqlx.NewDb(db, "sqlmock")

	for _, table := range []string{"", "grants; DROP TABLE x", "a.b.c", "grants backlog", "gr`ants"} {
		if _, err := backlog.New(sqlxDB, table); err == nil {
			t.Errorf("New(%q): expected error", table)
		} else {
			var qe *screening.QueryError
			if !errors.As(err, &qe) {
				t.Errorf("New(%q): error = %T, want *QueryError", table, err)
			}
		}
	}

	for _, table := range []string{"backlog", "Salesforce.Grant_Opportunities"} {
		if _, err := backlog.New(sqlxDB, table); err != nil {
			t.Errorf("New(%q): unexpected error %v", table, err)
		}
	}
}

func TestBacklogMapsRows(t *testing.T) {
	reader, mock := newMockReader(t, "backlog")

	rows := sqlmock.NewRows([]string{
		"id", "foundation", "opportunity", "amount", "deadline", "geography", "focus_area", "stage",
	}).
		AddRow(11, "~Acme Fund", "Acme Fund - Spring 2026", "25000", "2026-10-01", "National", "STEM", "LOI Backlog").
		AddRow(12, nil, "Beta Trust LOI", nil, nil, nil, nil, "LOI Backlog")
	mock.ExpectQuery("SELECT id, foundation, opportunity").
		WithArgs("LOI Backlog").
		WillReturnRows(rows)

	grants, err := reader.Backlog(context.Background(), "LOI Backlog", 0)
	if err != nil {
		t.Fatalf("Backlog: %v", err)
	}
	if len(grants) != 2 {
		t.Fatalf("got %d grants, want 2", len(grants))
	}

	first := grants[0]
	if first.ID != 11 || first.Foundation != "Acme Fund" {
		t.Errorf("first grant = %+v, want tilde stripped from foundation", first)
	}
	if first.Amount != "25000" || first.Geography != "National" {
		t.Errorf("first grant fields = %+v", first)
	}

	second := grants[1]
	if second.Foundation != "Beta Trust LOI" {
		t.Errorf("second foundation = %q, want fallback to opportunity", second.Foundation)
	}
	if second.Amount != "" || second.Deadline != "" {
		t.Errorf("null columns should map to empty strings, got %+v", second)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestBacklogAppliesLimit(t *testing.T) {
	reader, mock := newMockReader(t, "backlog")

	rows := sqlmock.NewRows([]string{
		"id", "foundation", "opportunity", "amount", "deadline", "geography", "focus_area", "stage",
	}).AddRow(1, "Acme Fund", "Acme", "", "", "", "", "LOI Backlog")
	mock.ExpectQuery("LIMIT").
		WithArgs("LOI Backlog", 50).
		WillReturnRows(rows)

	grants, err := reader.Backlog(context.Background(), "LOI Backlog", 50)
	if err != nil {
		t.Fatalf("Backlog: %v", err)
	}
	if len(grants) != 1 {
		t.Errorf("got %d grants, want 1", len(grants))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestBacklogRejectsEmptyStage(t *testing.T) {
	reader, mock := newMockReader(t, "backlog")

	_, err := reader.Backlog(context.Background(), "  ", 0)
	var qe *screening.QueryError
	if !errors.As(err, &qe) {
		t.Fatalf("error = %v, want *QueryError", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("no query should have been issued: %v", err)
	}
}

func TestBacklogWrapsQueryFailure(t *testing.T) {
	reader, mock := newMockReader(t, "backlog")

	mock.ExpectQuery("SELECT id, foundation").
		WithArgs("LOI Backlog").
		WillReturnError(sql.ErrConnDone)

	_, err := reader.Backlog(context.Background(), "LOI Backlog", 0)
	var qe *screening.QueryError
	if !errors.As(err, &qe) {
		t.Fatalf("error = %v, want *QueryError", err)
	}
	if !errors.Is(err, sql.ErrConnDone) {
		t.Errorf("cause not preserved: %v", err)
	}
}

func TestCount(t *testing.T) {
	reader, mock := newMockReader(t, "backlog")

	mock.ExpectQuery("SELECT COUNT").
		WithArgs("LOI Backlog").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(42))

	n, err := reader.Count(context.Background(), "LOI Backlog")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 42 {
		t.Errorf("count = %d, want 42", n)
	}
}

func TestCountByStage(t *testing.T) {
	reader, mock := newMockReader(t, "backlog")

	rows := sqlmock.NewRows([]string{"stage", "cnt"}).
		AddRow("LOI Backlog", 40).
		AddRow("Submitted", 12).
		AddRow("Awarded", 3)
	mock.ExpectQuery("GROUP BY stage").WillReturnRows(rows)

	counts, err := reader.CountByStage(context.Background())
	if err != nil {
		t.Fatalf("CountByStage: %v", err)
	}
	if len(counts) != 3 {
		t.Fatalf("got %d stages, want 3", len(counts))
	}
	if counts[0].Stage != "LOI Backlog" || counts[0].Count != 40 {
		t.Errorf("first stage = %+v", counts[0])
	}
}
