// Package mongo implements a source and sink over MongoDB collections. Each
// collection is a table; top-level document fields are its columns.
package mongo

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"maskflow/internal/domain"
)

var _ domain.Connector = (*Conn)(nil)

const (
	defaultSchemaSample = 100
	insertBatch         = 1000
)

// Conn is a MongoDB source or sink bound to one database.
type Conn struct {
	client       *mongo.Client
	db           *mongo.Database
	dataset      string
	schemaSample int64
	logger       *slog.Logger
}

// Open connects to spec.DSN and binds spec.Database. Option "schema_sample"
// sets how many documents are sampled to infer columns.
func Open(ctx context.Context, spec domain.ConnectionSpec, logger *slog.Logger) (*Conn, error) {
	if spec.Database == "" {
		return nil, domain.ErrValidation("mongo connection requires a database")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(spec.DSN))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background()) //nolint:errcheck
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	sample := int64(defaultSchemaSample)
	if v := spec.Option("schema_sample", ""); v != "" {
		var n int64
		if _, err := fmt.Sscan(v, &n); err == nil && n > 0 {
			sample = n
		}
	}
	return &Conn{
		client:       client,
		db:           client.Database(spec.Database),
		dataset:      spec.DatasetName(),
		schemaSample: sample,
		logger:       logger.With("connector", domain.ConnectorMongo, "dataset", spec.DatasetName()),
	}, nil
}

// Dataset returns the dataset name recorded in the metadata store.
func (c *Conn) Dataset() string { return c.dataset }

// Close disconnects the client.
func (c *Conn) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return c.client.Disconnect(ctx)
}

// ListTables lists the collections of the database.
func (c *Conn) ListTables(ctx context.Context) ([]domain.TableRef, error) {
	names, err := c.db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	sort.Strings(names)
	out := make([]domain.TableRef, len(names))
	for i, n := range names {
		out[i] = domain.TableRef{Database: c.db.Name(), Table: n}
	}
	return out, nil
}

// ListColumns infers columns from a sample of documents.
func (c *Conn) ListColumns(ctx context.Context, t domain.TableRef) ([]domain.ColumnInfo, error) {
	cur, err := c.db.Collection(t.Table).Find(ctx, bson.D{}, options.Find().SetLimit(c.schemaSample))
	if err != nil {
		return nil, fmt.Errorf("sample %s: %w", t, err)
	}
	defer cur.Close(ctx) //nolint:errcheck

	var docs []bson.D
	for cur.Next(ctx) {
		var doc bson.D
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode %s: %w", t, err)
		}
		docs = append(docs, doc)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("sample %s: %w", t, err)
	}
	return inferColumns(docs), nil
}

// RowCount returns the collection's metadata estimate.
func (c *Conn) RowCount(ctx context.Context, t domain.TableRef) (domain.RowCount, error) {
	n, err := c.db.Collection(t.Table).EstimatedDocumentCount(ctx)
	if err != nil {
		return domain.RowCount{}, fmt.Errorf("count %s: %w", t, err)
	}
	return domain.RowCount{N: n, Exact: false}, nil
}

// ReadRows reads documents in natural order, projecting the named fields.
// Missing fields read as nil.
func (c *Conn) ReadRows(ctx context.Context, t domain.TableRef, columns []string) (*domain.RowSet, error) {
	if len(columns) == 0 {
		cols, err := c.ListColumns(ctx, t)
		if err != nil {
			return nil, err
		}
		for _, col := range cols {
			columns = append(columns, col.Name)
		}
	}
	projection := bson.D{}
	hasID := false
	for _, col := range columns {
		projection = append(projection, bson.E{Key: col, Value: 1})
		hasID = hasID || col == "_id"
	}
	if !hasID {
		projection = append(projection, bson.E{Key: "_id", Value: 0})
	}

	cur, err := c.db.Collection(t.Table).Find(ctx, bson.D{}, options.Find().SetProjection(projection))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", t, err)
	}
	defer cur.Close(ctx) //nolint:errcheck

	set := &domain.RowSet{Columns: columns}
	for cur.Next(ctx) {
		var doc bson.M
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode %s: %w", t, err)
		}
		row := make([]any, len(columns))
		for i, col := range columns {
			if v, ok := doc[col]; ok {
				row[i] = fromBSON(v)
			}
		}
		set.Rows = append(set.Rows, row)
	}
	return set, cur.Err()
}

// Truncate deletes every document of the collection.
func (c *Conn) Truncate(ctx context.Context, t domain.TableRef) error {
	if _, err := c.db.Collection(t.Table).DeleteMany(ctx, bson.D{}); err != nil {
		return fmt.Errorf("truncate %s: %w", t, err)
	}
	return nil
}

// WriteRows inserts one document per row in batches, keeping row order.
func (c *Conn) WriteRows(ctx context.Context, t domain.TableRef, set *domain.RowSet) error {
	coll := c.db.Collection(t.Table)
	docs := toDocuments(set)
	for start := 0; start < len(docs); start += insertBatch {
		end := min(start+insertBatch, len(docs))
		if _, err := coll.InsertMany(ctx, docs[start:end], options.InsertMany().SetOrdered(true)); err != nil {
			return fmt.Errorf("write %s: %w", t, err)
		}
	}
	c.logger.Debug("documents written", "collection", t.Table, "rows", len(docs))
	return nil
}
