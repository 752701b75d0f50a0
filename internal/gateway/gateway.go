// Package gateway reads actuals and budget facts from PostgreSQL.
package gateway

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/lib/pq"

	"fin-analytics/internal/models"
)

var ErrUnknownTable = errors.New("unknown fact table")

// tables maps the logical table name to its relation. Nothing outside this
// allowlist reaches the query text.
var tables = map[string]string{
	models.TableActuals: "fin_actuals",
	models.TableBudget:  "fin_budget",
}

const versionQuery = `SELECT COALESCE(string_agg(dataset || ':' || version, ',' ORDER BY dataset), '') FROM dataset_versions`

// FetchResult is one structured pull together with the data version it was
// read at.
type FetchResult struct {
	Rows    []models.Row
	Version string
}

// Gateway is the structured data source consumed by the assembler.
type Gateway interface {
	Fetch(ctx context.Context, table string, filter models.Filter) (*FetchResult, error)
	Version(ctx context.Context) (string, error)
}

type PostgresGateway struct {
	db *sql.DB
}

func NewPostgresGateway(db *sql.DB) *PostgresGateway {
	return &PostgresGateway{db: db}
}

// Fetch reads rows and the data version inside one read-only snapshot so the
// two always agree.
func (g *PostgresGateway) Fetch(ctx context.Context, table string, filter models.Filter) (*FetchResult, error) {
	query, args, err := buildFetchQuery(table, filter)
	if err != nil {
		return nil, err
	}

	tx, err := g.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin snapshot: %w", err)
	}
	defer tx.Rollback()

	version, err := readVersion(ctx, tx)
	if err != nil {
		return nil, err
	}

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	result := &FetchResult{Rows: []models.Row{}, Version: version}
	for rows.Next() {
		var r models.Row
		if err := rows.Scan(&r.Year, &r.Period, &r.Account, &r.Entity, &r.Department, &r.Amount); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", table, err)
		}
		result.Rows = append(result.Rows, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s rows: %w", table, err)
	}

	// period names do not sort chronologically in SQL
	sort.SliceStable(result.Rows, func(i, j int) bool {
		return models.PeriodKey(result.Rows[i].Year, result.Rows[i].Period) <
			models.PeriodKey(result.Rows[j].Year, result.Rows[j].Period)
	})

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit snapshot: %w", err)
	}
	return result, nil
}

// Version fingerprints the dataset_versions table.
func (g *PostgresGateway) Version(ctx context.Context) (string, error) {
	return readVersion(ctx, g.db)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func readVersion(ctx context.Context, q queryRower) (string, error) {
	var raw string
	if err := q.QueryRowContext(ctx, versionQuery).Scan(&raw); err != nil {
		return "", fmt.Errorf("read data version: %w", err)
	}
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:8]), nil
}

func buildFetchQuery(table string, filter models.Filter) (string, []interface{}, error) {
	relation, ok := tables[table]
	if !ok {
		return "", nil, fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}

	var (
		where []string
		args  []interface{}
	)
	add := func(column string, value interface{}) {
		args = append(args, value)
		where = append(where, fmt.Sprintf("%s = ANY($%d)", column, len(args)))
	}
	if len(filter.Years) > 0 {
		years := make([]int64, len(filter.Years))
		for i, y := range filter.Years {
			years[i] = int64(y)
		}
		add("fiscal_year", pq.Array(years))
	}
	if len(filter.Periods) > 0 {
		add("period", pq.Array(filter.Periods))
	}
	if len(filter.Accounts) > 0 {
		add("account", pq.Array(filter.Accounts))
	}
	if len(filter.Entities) > 0 {
		add("entity", pq.Array(filter.Entities))
	}
	if len(filter.Departments) > 0 {
		add("department", pq.Array(filter.Departments))
	}

	var b strings.Builder
	b.WriteString("SELECT fiscal_year, period, account, entity, department, amount FROM ")
	b.WriteString(relation)
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY fiscal_year, account, entity, department, period")
	return b.String(), args, nil
}
