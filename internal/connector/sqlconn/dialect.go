package sqlconn

import (
	"strconv"
	"strings"

	"maskflow/internal/ddl"
	"maskflow/internal/domain"
)

// dialect captures what differs between the SQL systems behind Conn.
type dialect struct {
	name        string
	driver      string
	placeholder ddl.Placeholder
	maxParams   int
	// catalog is "sqlite" (sqlite_master + pragma_table_info) or
	// "information_schema".
	catalog  string
	truncate func(table string) string
}

var dialects = map[string]dialect{
	domain.ConnectorSQLite: {
		name:        domain.ConnectorSQLite,
		driver:      "sqlite3",
		placeholder: ddl.QuestionPlaceholder,
		maxParams:   32766,
		catalog:     "sqlite",
		truncate:    func(t string) string { return "DELETE FROM " + t },
	},
	domain.ConnectorDuckDB: {
		name:        domain.ConnectorDuckDB,
		driver:      "duckdb",
		placeholder: ddl.QuestionPlaceholder,
		maxParams:   32766,
		catalog:     "information_schema",
		truncate:    func(t string) string { return "TRUNCATE " + t },
	},
	domain.ConnectorPostgres: {
		name:        domain.ConnectorPostgres,
		driver:      "postgres",
		placeholder: ddl.DollarPlaceholder,
		maxParams:   65535,
		catalog:     "information_schema",
		truncate:    func(t string) string { return "TRUNCATE TABLE " + t },
	},
}

// parseMaxLength extracts the length argument of types like VARCHAR(20).
// It returns -1 when the type carries none.
func parseMaxLength(typeName string) int64 {
	open := strings.IndexByte(typeName, '(')
	if open < 0 {
		return -1
	}
	closeIdx := strings.IndexByte(typeName[open:], ')')
	if closeIdx < 0 {
		return -1
	}
	arg := typeName[open+1 : open+closeIdx]
	if comma := strings.IndexByte(arg, ','); comma >= 0 {
		return -1
	}
	n, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
	if err != nil {
		return -1
	}
	return n
}

// isBinaryType reports whether values of the type should stay []byte.
func isBinaryType(typeName string) bool {
	switch domain.NormalizeType(typeName) {
	case "blob", "bytea", "binary", "varbinary", "image":
		return true
	}
	return false
}
