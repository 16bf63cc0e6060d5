package files

import (
	"context"
	"database/sql"
	"fmt"

	"maskflow/internal/config"
	"maskflow/internal/connector/objstore"
	"maskflow/internal/ddl"
)

const secretName = "maskflow_storage"

// secretStatements returns the DuckDB statements that let read_* and COPY
// reach a remote location. Local locations need none.
func secretStatements(loc objstore.Location, cfg config.StorageConfig) ([]string, error) {
	switch loc.Scheme {
	case "file":
		return nil, nil
	case "s3":
		if cfg.S3KeyID == nil || cfg.S3Secret == nil {
			return nil, fmt.Errorf("S3 credentials are required for %s", loc.Root())
		}
		var endpoint, region, urlStyle string
		if cfg.S3Endpoint != nil {
			endpoint = *cfg.S3Endpoint
			urlStyle = "path"
		}
		if cfg.S3Region != nil {
			region = *cfg.S3Region
		}
		secret, err := ddl.CreateS3Secret(secretName, *cfg.S3KeyID, *cfg.S3Secret, endpoint, region, urlStyle)
		if err != nil {
			return nil, err
		}
		return []string{"INSTALL httpfs", "LOAD httpfs", secret}, nil
	case "az", "abfss":
		if cfg.AzureConnectionString == "" && (cfg.AzureAccountName == "" || cfg.AzureAccountKey == "") {
			return nil, fmt.Errorf("azure credentials are required for %s", loc.Root())
		}
		secret, err := ddl.CreateAzureSecret(secretName, cfg.AzureAccountName, cfg.AzureAccountKey, cfg.AzureConnectionString)
		if err != nil {
			return nil, err
		}
		return []string{"INSTALL azure", "LOAD azure", secret}, nil
	case "gs":
		if cfg.GCSKeyID == "" || cfg.GCSSecret == "" {
			return nil, fmt.Errorf("GCS HMAC credentials are required for %s", loc.Root())
		}
		secret, err := ddl.CreateGCSSecret(secretName, cfg.GCSKeyID, cfg.GCSSecret)
		if err != nil {
			return nil, err
		}
		return []string{"INSTALL httpfs", "LOAD httpfs", secret}, nil
	default:
		return nil, fmt.Errorf("unsupported storage scheme %q", loc.Scheme)
	}
}

func configureSecrets(ctx context.Context, db *sql.DB, loc objstore.Location, cfg config.StorageConfig) error {
	stmts, err := secretStatements(loc, cfg)
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("configure duckdb storage access: %w", err)
		}
	}
	return nil
}
