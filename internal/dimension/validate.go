package dimension

import (
	pg_query "github.com/pganalyze/pg_query_go/v5"
	"github.com/xwb1989/sqlparser"

	"github.com/jasonphillips/tplm/internal/dialect"
)

// validateSQLFragment pre-flight parses an embedded SQL fragment with the
// grammar closest to the target dialect, exactly as the teacher's
// per-database validators do before a translated query is handed to its
// engine (engine/validator/postgres.go, engine/validator/mysql.go).
func validateSQLFragment(d dialect.Dialect, sql string) error {
	switch d {
	case dialect.BigQuery:
		_, err := sqlparser.Parse(sql)
		return err
	default: // DuckDB: Postgres-flavored grammar
		_, err := pg_query.Parse(sql)
		return err
	}
}
