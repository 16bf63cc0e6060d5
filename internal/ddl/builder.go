// Package ddl builds the SQL statements connectors issue against sources and
// sinks: column reads, inserts, file scans, COPY exports, secrets and foreign
// key DDL.
package ddl

import (
	"fmt"
	"strings"
)

// ColumnDef describes a column for CREATE TABLE.
type ColumnDef struct {
	Name string
	Type string
}

// Placeholder renders the n-th (1-based) bind parameter of a dialect.
type Placeholder func(n int) string

// QuestionPlaceholder is the "?" style used by SQLite and DuckDB.
func QuestionPlaceholder(int) string { return "?" }

// DollarPlaceholder is the "$n" style used by PostgreSQL.
func DollarPlaceholder(n int) string { return fmt.Sprintf("$%d", n) }

// SelectColumns returns SELECT "c1", "c2" FROM <table>. An empty column list
// selects every column.
func SelectColumns(table string, columns []string) string {
	if len(columns) == 0 {
		return "SELECT * FROM " + table
	}
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = QuoteIdentifier(c)
	}
	return fmt.Sprintf("SELECT %s FROM %s", strings.Join(quoted, ", "), table)
}

// InsertRows returns a multi-row INSERT for rows rows of len(columns) values.
func InsertRows(table string, columns []string, rows int, ph Placeholder) (string, error) {
	if len(columns) == 0 {
		return "", fmt.Errorf("at least one column is required")
	}
	if rows <= 0 {
		return "", fmt.Errorf("at least one row is required")
	}
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = QuoteIdentifier(c)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", table, strings.Join(quoted, ", "))
	n := 1
	for r := 0; r < rows; r++ {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for c := range columns {
			if c > 0 {
				b.WriteString(", ")
			}
			b.WriteString(ph(n))
			n++
		}
		b.WriteByte(')')
	}
	return b.String(), nil
}

// CreateTable returns CREATE TABLE <table> ("c1" TYPE1, ...).
func CreateTable(table string, columns []ColumnDef, temporary bool) (string, error) {
	if len(columns) == 0 {
		return "", fmt.Errorf("at least one column is required")
	}
	defs := make([]string, 0, len(columns))
	for _, c := range columns {
		if err := ValidateColumnType(c.Type); err != nil {
			return "", fmt.Errorf("column %q: %w", c.Name, err)
		}
		defs = append(defs, QuoteIdentifier(c.Name)+" "+c.Type)
	}
	kw := "CREATE TABLE"
	if temporary {
		kw = "CREATE TEMP TABLE"
	}
	return fmt.Sprintf("%s %s (%s)", kw, table, strings.Join(defs, ", ")), nil
}

// DropTable returns DROP TABLE IF EXISTS <table>.
func DropTable(table string) string {
	return "DROP TABLE IF EXISTS " + table
}

// DropForeignKey returns ALTER TABLE <table> DROP CONSTRAINT "<name>".
func DropForeignKey(table, name string) string {
	return fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s", table, QuoteIdentifier(name))
}

// AddForeignKey returns ALTER TABLE <table> ADD CONSTRAINT "<name>" <definition>,
// optionally NOT VALID so existing rows are not checked.
func AddForeignKey(table, name, definition string, notValid bool) (string, error) {
	def := strings.TrimSpace(definition)
	if def == "" {
		return "", fmt.Errorf("constraint definition is required")
	}
	if strings.Contains(def, ";") {
		return "", fmt.Errorf("constraint definition contains invalid characters")
	}
	def = strings.TrimSuffix(def, " NOT VALID")
	stmt := fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s %s", table, QuoteIdentifier(name), def)
	if notValid {
		stmt += " NOT VALID"
	}
	return stmt, nil
}

// FileFormat is a file layout the file connector understands.
type FileFormat string

// Supported file formats.
const (
	FormatCSV     FileFormat = "csv"
	FormatParquet FileFormat = "parquet"
)

// ParseFileFormat normalises a configured format name.
func ParseFileFormat(s string) (FileFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "csv", "delimited", "tsv":
		return FormatCSV, nil
	case "parquet", "":
		return FormatParquet, nil
	default:
		return "", fmt.Errorf("unsupported file format: %q", s)
	}
}

// ScanFiles returns the DuckDB table function reading the given paths:
// read_csv_auto([...]) or read_parquet([...]).
func ScanFiles(paths []string, format FileFormat, delimiter string) (string, error) {
	if len(paths) == 0 {
		return "", fmt.Errorf("at least one path is required")
	}
	lits := make([]string, len(paths))
	for i, p := range paths {
		lits[i] = QuoteLiteral(p)
	}
	list := "[" + strings.Join(lits, ", ") + "]"

	switch format {
	case FormatParquet:
		return fmt.Sprintf("read_parquet(%s)", list), nil
	case FormatCSV:
		if delimiter != "" {
			return fmt.Sprintf("read_csv_auto(%s, delim=%s, header=true)", list, QuoteLiteral(delimiter)), nil
		}
		return fmt.Sprintf("read_csv_auto(%s, header=true)", list), nil
	default:
		return "", fmt.Errorf("unsupported file format: %q", format)
	}
}

// DescribeFiles returns a DESCRIBE statement for the columns of a file scan.
func DescribeFiles(scan string) string {
	return fmt.Sprintf("DESCRIBE SELECT * FROM %s", scan)
}

// CopyToFile returns COPY (<query>) TO '<path>' (FORMAT ...).
func CopyToFile(query, path string, format FileFormat, delimiter string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("target path is required")
	}
	switch format {
	case FormatParquet:
		return fmt.Sprintf("COPY (%s) TO %s (FORMAT PARQUET)", query, QuoteLiteral(path)), nil
	case FormatCSV:
		opts := "FORMAT CSV, HEADER true"
		if delimiter != "" {
			opts += ", DELIMITER " + QuoteLiteral(delimiter)
		}
		return fmt.Sprintf("COPY (%s) TO %s (%s)", query, QuoteLiteral(path), opts), nil
	default:
		return "", fmt.Errorf("unsupported file format: %q", format)
	}
}

// CreateS3Secret returns a DuckDB statement creating an S3 secret.
func CreateS3Secret(name, keyID, secret, endpoint, region, urlStyle string) (string, error) {
	if err := ValidateIdentifier(name); err != nil {
		return "", fmt.Errorf("invalid secret name: %w", err)
	}
	opts := []string{"TYPE S3", "KEY_ID " + QuoteLiteral(keyID), "SECRET " + QuoteLiteral(secret)}
	if endpoint != "" {
		opts = append(opts, "ENDPOINT "+QuoteLiteral(endpoint))
	}
	if region != "" {
		opts = append(opts, "REGION "+QuoteLiteral(region))
	}
	if urlStyle != "" {
		opts = append(opts, "URL_STYLE "+QuoteLiteral(urlStyle))
	}
	return fmt.Sprintf("CREATE OR REPLACE SECRET %s (%s)", QuoteIdentifier(name), strings.Join(opts, ", ")), nil
}

// CreateAzureSecret returns a DuckDB statement creating an Azure secret,
// preferring a connection string when given.
func CreateAzureSecret(name, accountName, accountKey, connectionString string) (string, error) {
	if err := ValidateIdentifier(name); err != nil {
		return "", fmt.Errorf("invalid secret name: %w", err)
	}
	if connectionString != "" {
		return fmt.Sprintf("CREATE OR REPLACE SECRET %s (TYPE AZURE, CONNECTION_STRING %s)",
			QuoteIdentifier(name), QuoteLiteral(connectionString)), nil
	}
	return fmt.Sprintf("CREATE OR REPLACE SECRET %s (TYPE AZURE, ACCOUNT_NAME %s, ACCOUNT_KEY %s)",
		QuoteIdentifier(name), QuoteLiteral(accountName), QuoteLiteral(accountKey)), nil
}

// CreateGCSSecret returns a DuckDB statement creating a GCS HMAC secret.
func CreateGCSSecret(name, keyID, secret string) (string, error) {
	if err := ValidateIdentifier(name); err != nil {
		return "", fmt.Errorf("invalid secret name: %w", err)
	}
	return fmt.Sprintf("CREATE OR REPLACE SECRET %s (TYPE GCS, KEY_ID %s, SECRET %s)",
		QuoteIdentifier(name), QuoteLiteral(keyID), QuoteLiteral(secret)), nil
}

// DropSecret returns DROP SECRET IF EXISTS "<name>".
func DropSecret(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("secret name is required")
	}
	return fmt.Sprintf("DROP SECRET IF EXISTS %s", QuoteIdentifier(name)), nil
}
