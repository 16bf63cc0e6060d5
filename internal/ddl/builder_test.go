package ddl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectColumns(t *testing.T) {
	assert.Equal(t, `SELECT "id", "ssn" FROM "orders"`, SelectColumns(`"orders"`, []string{"id", "ssn"}))
	assert.Equal(t, `SELECT * FROM "orders"`, SelectColumns(`"orders"`, nil))
}

func TestInsertRows(t *testing.T) {
	tests := []struct {
		name    string
		columns []string
		rows    int
		ph      Placeholder
		want    string
		wantErr string
	}{
		{
			name:    "question_two_rows",
			columns: []string{"id", "name"},
			rows:    2,
			ph:      QuestionPlaceholder,
			want:    `INSERT INTO t ("id", "name") VALUES (?, ?), (?, ?)`,
		},
		{
			name:    "dollar_numbering",
			columns: []string{"a", "b"},
			rows:    2,
			ph:      DollarPlaceholder,
			want:    `INSERT INTO t ("a", "b") VALUES ($1, $2), ($3, $4)`,
		},
		{name: "no_columns", rows: 1, ph: QuestionPlaceholder, wantErr: "at least one column"},
		{name: "no_rows", columns: []string{"a"}, ph: QuestionPlaceholder, wantErr: "at least one row"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := InsertRows("t", tt.columns, tt.rows, tt.ph)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCreateTable(t *testing.T) {
	stmt, err := CreateTable(`"staging"`, []ColumnDef{{Name: "id", Type: "BIGINT"}, {Name: "email", Type: "VARCHAR"}}, true)
	require.NoError(t, err)
	assert.Equal(t, `CREATE TEMP TABLE "staging" ("id" BIGINT, "email" VARCHAR)`, stmt)

	_, err = CreateTable(`"x"`, []ColumnDef{{Name: "id", Type: "INT; DROP"}}, false)
	require.Error(t, err)

	_, err = CreateTable(`"x"`, nil, false)
	require.Error(t, err)
}

func TestForeignKeyStatements(t *testing.T) {
	assert.Equal(t, `ALTER TABLE "public"."orders" DROP CONSTRAINT "orders_customer_fk"`,
		DropForeignKey(`"public"."orders"`, "orders_customer_fk"))

	stmt, err := AddForeignKey(`"orders"`, "fk", "FOREIGN KEY (customer_id) REFERENCES customers(id)", false)
	require.NoError(t, err)
	assert.Equal(t, `ALTER TABLE "orders" ADD CONSTRAINT "fk" FOREIGN KEY (customer_id) REFERENCES customers(id)`, stmt)

	stmt, err = AddForeignKey(`"orders"`, "fk", "FOREIGN KEY (customer_id) REFERENCES customers(id) NOT VALID", true)
	require.NoError(t, err)
	assert.Equal(t, `ALTER TABLE "orders" ADD CONSTRAINT "fk" FOREIGN KEY (customer_id) REFERENCES customers(id) NOT VALID`, stmt)

	_, err = AddForeignKey(`"orders"`, "fk", "", false)
	require.Error(t, err)
	_, err = AddForeignKey(`"orders"`, "fk", "FOREIGN KEY (a) REFERENCES b(a); DROP TABLE b", false)
	require.Error(t, err)
}

func TestParseFileFormat(t *testing.T) {
	tests := []struct {
		input   string
		want    FileFormat
		wantErr bool
	}{
		{input: "csv", want: FormatCSV},
		{input: "Delimited", want: FormatCSV},
		{input: "parquet", want: FormatParquet},
		{input: "", want: FormatParquet},
		{input: "avro", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseFileFormat(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestScanFiles(t *testing.T) {
	scan, err := ScanFiles([]string{"s3://b/a.parquet", "s3://b/b.parquet"}, FormatParquet, "")
	require.NoError(t, err)
	assert.Equal(t, "read_parquet(['s3://b/a.parquet', 's3://b/b.parquet'])", scan)

	scan, err = ScanFiles([]string{"/data/x.csv"}, FormatCSV, "|")
	require.NoError(t, err)
	assert.Equal(t, "read_csv_auto(['/data/x.csv'], delim='|', header=true)", scan)

	_, err = ScanFiles(nil, FormatCSV, "")
	require.Error(t, err)

	assert.Equal(t, "DESCRIBE SELECT * FROM read_parquet(['a'])", DescribeFiles("read_parquet(['a'])"))
}

func TestCopyToFile(t *testing.T) {
	stmt, err := CopyToFile(`SELECT * FROM "t"`, "/out/t.parquet", FormatParquet, "")
	require.NoError(t, err)
	assert.Equal(t, `COPY (SELECT * FROM "t") TO '/out/t.parquet' (FORMAT PARQUET)`, stmt)

	stmt, err = CopyToFile(`SELECT 1`, "/out/t.csv", FormatCSV, ";")
	require.NoError(t, err)
	assert.Equal(t, `COPY (SELECT 1) TO '/out/t.csv' (FORMAT CSV, HEADER true, DELIMITER ';')`, stmt)

	_, err = CopyToFile(`SELECT 1`, "", FormatCSV, "")
	require.Error(t, err)
}

func TestSecrets(t *testing.T) {
	stmt, err := CreateS3Secret("src_s3", "AK", "SK", "", "eu-west-1", "")
	require.NoError(t, err)
	assert.Equal(t, `CREATE OR REPLACE SECRET "src_s3" (TYPE S3, KEY_ID 'AK', SECRET 'SK', REGION 'eu-west-1')`, stmt)

	stmt, err = CreateAzureSecret("az", "", "", "DefaultEndpointsProtocol=https")
	require.NoError(t, err)
	assert.Contains(t, stmt, "CONNECTION_STRING 'DefaultEndpointsProtocol=https'")

	stmt, err = CreateGCSSecret("gcs", "id", "s")
	require.NoError(t, err)
	assert.Contains(t, stmt, "TYPE GCS")

	_, err = CreateS3Secret("bad name", "a", "b", "", "", "")
	require.Error(t, err)

	stmt, err = DropSecret("src_s3")
	require.NoError(t, err)
	assert.Equal(t, `DROP SECRET IF EXISTS "src_s3"`, stmt)
}
