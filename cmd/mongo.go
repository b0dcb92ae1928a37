package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Source error definitions
var (
	ErrCollectionEmpty        = errors.New("collection is empty")
	ErrPartitionFieldMissing  = errors.New("partition field absent from sampled document")
	ErrPartitionFieldNotADate = errors.New("partition field is not a date value")
)

// DocumentCursor is a forward, one-record-at-a-time cursor over the
// documents of a single export unit.
type DocumentCursor interface {
	Next(ctx context.Context) bool
	Decode(out *bson.M) error
	Err() error
	Close(ctx context.Context) error
}

// CollectionSource is the narrow view of the source collection used by the
// planner, exporter and orchestrator. Counting on a range predicate is an
// estimate when the source does not guarantee exact counts under concurrent
// writes.
type CollectionSource interface {
	// FieldBounds returns the live min and max of the partition field
	FieldBounds(ctx context.Context) (time.Time, time.Time, error)

	// CountRange counts documents with field in [start, end)
	CountRange(ctx context.Context, start, end time.Time) (int64, error)

	// CountTotal estimates the total document count (best-effort, for progress)
	CountTotal(ctx context.Context) (int64, error)

	// OpenCursor opens a cursor over the unit's predicate, ordered ascending
	// by the partition field
	OpenCursor(ctx context.Context, r TimeRange) (DocumentCursor, error)

	// Indexes lists the collection's index specifications verbatim
	Indexes(ctx context.Context) ([]bson.M, error)
}

// mongoSource implements CollectionSource over a live MongoDB collection
type mongoSource struct {
	coll      *mongo.Collection
	field     string
	batchSize int32
}

func newMongoSource(coll *mongo.Collection, field string, batchSize int) *mongoSource {
	return &mongoSource{
		coll:      coll,
		field:     field,
		batchSize: int32(batchSize),
	}
}

func (s *mongoSource) rangeFilter(start, end time.Time) bson.M {
	return bson.M{s.field: bson.M{"$gte": start, "$lt": end}}
}

func (s *mongoSource) FieldBounds(ctx context.Context) (time.Time, time.Time, error) {
	minDate, err := s.boundary(ctx, 1)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	maxDate, err := s.boundary(ctx, -1)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return minDate, maxDate, nil
}

// boundary fetches the extreme value of the partition field in the given
// sort direction (1 = min, -1 = max)
func (s *mongoSource) boundary(ctx context.Context, direction int) (time.Time, error) {
	opts := options.FindOne().
		SetSort(bson.D{{Key: s.field, Value: direction}}).
		SetProjection(bson.D{{Key: s.field, Value: 1}})

	var doc bson.M
	err := s.coll.FindOne(ctx, bson.M{}, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return time.Time{}, fmt.Errorf("%w: %s", ErrCollectionEmpty, s.coll.Name())
		}
		return time.Time{}, fmt.Errorf("failed to query partition field bounds: %w", err)
	}

	return fieldTime(doc, s.field)
}

// fieldTime extracts the partition field from a decoded document as a time
func fieldTime(doc bson.M, field string) (time.Time, error) {
	value, ok := doc[field]
	if !ok || value == nil {
		return time.Time{}, fmt.Errorf("%w: %s", ErrPartitionFieldMissing, field)
	}

	switch v := value.(type) {
	case primitive.DateTime:
		return v.Time().UTC(), nil
	case time.Time:
		return v.UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("%w: %s has type %T", ErrPartitionFieldNotADate, field, value)
	}
}

func (s *mongoSource) CountRange(ctx context.Context, start, end time.Time) (int64, error) {
	count, err := s.coll.CountDocuments(ctx, s.rangeFilter(start, end))
	if err != nil {
		return 0, fmt.Errorf("failed to count documents in range: %w", err)
	}
	return count, nil
}

func (s *mongoSource) CountTotal(ctx context.Context) (int64, error) {
	return s.coll.EstimatedDocumentCount(ctx)
}

func (s *mongoSource) OpenCursor(ctx context.Context, r TimeRange) (DocumentCursor, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: s.field, Value: 1}}).
		SetBatchSize(s.batchSize)

	cur, err := s.coll.Find(ctx, s.rangeFilter(r.Start, r.End), opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open cursor for %s: %w", r.Key, err)
	}
	return &mongoCursor{cur: cur}, nil
}

func (s *mongoSource) Indexes(ctx context.Context) ([]bson.M, error) {
	cur, err := s.coll.Indexes().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list indexes: %w", err)
	}

	var indexes []bson.M
	if err := cur.All(ctx, &indexes); err != nil {
		return nil, fmt.Errorf("failed to read index specifications: %w", err)
	}
	return indexes, nil
}

// mongoCursor adapts *mongo.Cursor to DocumentCursor
type mongoCursor struct {
	cur *mongo.Cursor
}

func (c *mongoCursor) Next(ctx context.Context) bool   { return c.cur.Next(ctx) }
func (c *mongoCursor) Decode(out *bson.M) error        { return c.cur.Decode(out) }
func (c *mongoCursor) Err() error                      { return c.cur.Err() }
func (c *mongoCursor) Close(ctx context.Context) error { return c.cur.Close(ctx) }

// connectMongo establishes and verifies a client connection. Connection
// parameters come from flags, environment or config file; credential
// prompting is out of scope.
func connectMongo(ctx context.Context, cfg *DatabaseConfig) (*mongo.Client, error) {
	uri := cfg.URI
	if uri == "" {
		uri = buildConnectionURI(cfg)
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to reach MongoDB: %w", err)
	}

	return client, nil
}

func buildConnectionURI(cfg *DatabaseConfig) string {
	host := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	var credentials string
	if cfg.User != "" {
		credentials = url.QueryEscape(cfg.User)
		if cfg.Password != "" {
			credentials += ":" + url.QueryEscape(cfg.Password)
		}
		credentials += "@"
	}

	uri := fmt.Sprintf("mongodb://%s%s/%s", credentials, host, cfg.Name)
	if cfg.AuthSource != "" {
		uri += "?authSource=" + url.QueryEscape(cfg.AuthSource)
	}
	return uri
}
