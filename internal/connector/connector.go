// Package connector opens sources and sinks by kind.
package connector

import (
	"context"
	"fmt"
	"log/slog"

	"maskflow/internal/config"
	"maskflow/internal/connector/files"
	"maskflow/internal/connector/mongo"
	"maskflow/internal/connector/sqlconn"
	"maskflow/internal/domain"
)

// Kinds lists the supported connector kinds.
var Kinds = []string{
	domain.ConnectorSQLite,
	domain.ConnectorDuckDB,
	domain.ConnectorPostgres,
	domain.ConnectorFiles,
	domain.ConnectorMongo,
}

// Open connects to the system described by spec.
func Open(ctx context.Context, spec domain.ConnectionSpec, storage config.StorageConfig, logger *slog.Logger) (domain.Connector, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	var (
		conn domain.Connector
		err  error
	)
	switch spec.Kind {
	case domain.ConnectorSQLite, domain.ConnectorDuckDB:
		conn, err = sqlconn.Open(ctx, spec, logger)
	case domain.ConnectorPostgres:
		conn, err = sqlconn.OpenPostgres(ctx, spec, logger)
	case domain.ConnectorFiles:
		conn, err = files.Open(ctx, spec, storage, logger)
	case domain.ConnectorMongo:
		conn, err = mongo.Open(ctx, spec, logger)
	default:
		return nil, domain.ErrValidation("unsupported connector kind %q (supported: %v)", spec.Kind, Kinds)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s connector %q: %w", spec.Kind, spec.DatasetName(), err)
	}
	logger.Info("connector opened", "kind", spec.Kind, "dataset", conn.Dataset())
	return conn, nil
}
