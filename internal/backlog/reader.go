// Package backlog reads the grant backlog table. Access is read-only: the
// screener never mutates the store.
package backlog

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/stembridge-labs/grant-screening-pipeline/internal/config"
	"github.com/stembridge-labs/grant-screening-pipeline/internal/screening"
)

const (
	maxOpenConns    = 4
	maxIdleConns    = 2
	connMaxLifetime = 5 * time.Minute
	connectTimeout  = 10 * time.Second
)

// Table identifiers cannot be bound as query parameters, so they are validated
// before interpolation. One optional schema qualifier is allowed.
var tableNameRe = regexp.MustCompile(`^[A-Za-z0-9_]+(\.[A-Za-z0-9_]+)?$`)

// Reader runs backlog queries against a single table.
type Reader struct {
	db    *sqlx.DB
	table string
}

// New wraps an existing database handle. Used directly by tests; production
// code goes through Open.
func New(db *sqlx.DB, table string) (*Reader, error) {
	if !tableNameRe.MatchString(table) {
		return nil, &screening.QueryError{
			Op:  "validate table",
			Err: fmt.Errorf("invalid table name %q", table),
		}
	}
	return &Reader{db: db, table: table}, nil
}

// Open connects to the configured MySQL instance and verifies the connection.
func Open(ctx context.Context, cfg config.Database) (*Reader, error) {
	dsnCfg := mysql.NewConfig()
	dsnCfg.User = cfg.User
	dsnCfg.Passwd = cfg.Password
	dsnCfg.Net = "tcp"
	dsnCfg.Addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	dsnCfg.DBName = cfg.Name
	dsnCfg.Timeout = connectTimeout
	dsnCfg.ParseTime = true

	db, err := sqlx.ConnectContext(ctx, "mysql", dsnCfg.FormatDSN())
	if err != nil {
		return nil, &screening.ConnectionError{System: "mysql", Err: err}
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	r, err := New(db, cfg.Table)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

// backlogRow mirrors the backlog table. Text columns are nullable in the
// store, so they scan through sql.NullString before mapping to a Grant.
type backlogRow struct {
	ID          int64          `db:"id"`
	Foundation  sql.NullString `db:"foundation"`
	Opportunity sql.NullString `db:"opportunity"`
	Amount      sql.NullString `db:"amount"`
	Deadline    sql.NullString `db:"deadline"`
	Geography   sql.NullString `db:"geography"`
	FocusArea   sql.NullString `db:"focus_area"`
	Stage       sql.NullString `db:"stage"`
}

func (row backlogRow) grant() screening.Grant {
	// Some upstream imports prefix the foundation with a sort marker ("~Acme
	// Fund") or leave the column blank; fall back to the opportunity text.
	foundation := strings.TrimSpace(strings.TrimLeft(row.Foundation.String, "~"))
	if foundation == "" {
		foundation = strings.TrimSpace(row.Opportunity.String)
	}
	return screening.Grant{
		ID:          row.ID,
		Foundation:  foundation,
		Opportunity: strings.TrimSpace(row.Opportunity.String),
		Amount:      strings.TrimSpace(row.Amount.String),
		Deadline:    strings.TrimSpace(row.Deadline.String),
		Geography:   strings.TrimSpace(row.Geography.String),
		FocusArea:   strings.TrimSpace(row.FocusArea.String),
		Stage:       strings.TrimSpace(row.Stage.String),
	}
}

// Backlog returns the grants whose stage matches the filter, in store order.
// limit > 0 caps the batch; limit <= 0 returns everything.
func (r *Reader) Backlog(ctx context.Context, stage string, limit int) ([]screening.Grant, error) {
	if strings.TrimSpace(stage) == "" {
		return nil, &screening.QueryError{
			Op:  "fetch backlog",
			Err: fmt.Errorf("empty stage filter"),
		}
	}

	query := fmt.Sprintf(`
		SELECT id, foundation, opportunity, amount, deadline, geography, focus_area, stage
		FROM %s
		WHERE stage = ?`, r.table)
	args := []any{stage}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	var rows []backlogRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, &screening.QueryError{Op: "fetch backlog", Err: err}
	}

	grants := make([]screening.Grant, 0, len(rows))
	for _, row := range rows {
		grants = append(grants, row.grant())
	}
	return grants, nil
}

// Count returns the backlog size for one stage filter.
func (r *Reader) Count(ctx context.Context, stage string) (int, error) {
	if strings.TrimSpace(stage) == "" {
		return 0, &screening.QueryError{
			Op:  "count backlog",
			Err: fmt.Errorf("empty stage filter"),
		}
	}

	var n int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE stage = ?", r.table)
	if err := r.db.GetContext(ctx, &n, query, stage); err != nil {
		return 0, &screening.QueryError{Op: "count backlog", Err: err}
	}
	return n, nil
}

// StageCount is one row of the per-stage breakdown.
type StageCount struct {
	Stage string `db:"stage"`
	Count int    `db:"cnt"`
}

// CountByStage returns the full stage breakdown of the table, largest first.
func (r *Reader) CountByStage(ctx context.Context) ([]StageCount, error) {
	var counts []StageCount
	query := fmt.Sprintf(`
		SELECT stage, COUNT(*) AS cnt
		FROM %s
		GROUP BY stage
		ORDER BY cnt DESC, stage ASC`, r.table)
	if err := r.db.SelectContext(ctx, &counts, query); err != nil {
		return nil, &screening.QueryError{Op: "count by stage", Err: err}
	}
	return counts, nil
}

// Close releases the underlying handle.
func (r *Reader) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}
