package archive

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
	"go.uber.org/zap"

	"github.com/example/thermoscan/internal/domain"
	"github.com/example/thermoscan/internal/logging"
)

const disconnectTimeout = 2 * time.Second

// Document is the archived form of a reading.
type Document struct {
	ID          primitive.ObjectID `bson:"_id,omitempty"`
	Temperature float64            `bson:"temperature"`
	Status      string             `bson:"status"`
	Model       string             `bson:"model"`
	Timestamp   time.Time          `bson:"timestamp"`
	Source      string             `bson:"source"`
}

// ToReading converts the document back into a domain reading.
func (d Document) ToReading() domain.Reading {
	return domain.Reading{
		Temperature: d.Temperature,
		Status:      domain.Status(d.Status),
		Model:       domain.Provider(d.Model),
		Timestamp:   d.Timestamp.UTC(),
	}
}

// Status describes archive reachability for diagnostics.
type Status struct {
	Reachable bool      `json:"reachable"`
	Count     int64     `json:"count"`
	Sample    *Document `json:"sample,omitempty"`
}

// Config holds archive connection parameters. URI takes precedence over the
// discrete Atlas fields.
type Config struct {
	URI        string
	Username   string
	Password   string
	Cluster    string
	Database   string
	Collection string
	Source     string
	Timeout    time.Duration
}

// ConnectionURI assembles the connection string, escaping credentials.
func (c Config) ConnectionURI() (string, error) {
	if c.URI != "" {
		return c.URI, nil
	}
	if c.Cluster == "" || c.Username == "" {
		return "", errors.New("archive connection is not configured")
	}
	return fmt.Sprintf("mongodb+srv://%s:%s@%s.mongodb.net/%s?retryWrites=true&w=majority",
		url.QueryEscape(c.Username), url.QueryEscape(c.Password), c.Cluster, c.Database), nil
}

// Store is the archive. It holds no connection: every operation connects,
// pings for liveness, runs and disconnects, so a dropped link never outlives
// the request that saw it.
type Store struct {
	cfg    Config
	logger *zap.Logger
}

// NewStore constructs an archive store.
func NewStore(cfg Config, logger *zap.Logger) *Store {
	return &Store{cfg: cfg, logger: logger.Named("archive")}
}

// Insert archives a stamped reading and returns the new document id.
func (s *Store) Insert(ctx context.Context, reading domain.Reading) (string, error) {
	doc := Document{
		Temperature: reading.Temperature,
		Status:      string(reading.Status),
		Model:       string(reading.Model),
		Timestamp:   reading.Timestamp.UTC(),
		Source:      s.cfg.Source,
	}

	var id string
	err := s.withCollection(ctx, "archive.insert", func(ctx context.Context, coll *mongo.Collection) error {
		res, err := coll.InsertOne(ctx, doc)
		if err != nil {
			return err
		}
		if oid, ok := res.InsertedID.(primitive.ObjectID); ok {
			id = oid.Hex()
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	s.logger.Debug("reading archived", zap.String("id", id))
	return id, nil
}

// All returns every archived document, newest first.
func (s *Store) All(ctx context.Context) ([]Document, error) {
	var docs []Document
	err := s.withCollection(ctx, "archive.find_all", func(ctx context.Context, coll *mongo.Collection) error {
		cursor, err := coll.Find(ctx, bson.D{}, options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}}))
		if err != nil {
			return err
		}
		return cursor.All(ctx, &docs)
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

// Status reports reachability, document count and the newest document.
func (s *Store) Status(ctx context.Context) (*Status, error) {
	status := &Status{}
	err := s.withCollection(ctx, "archive.status", func(ctx context.Context, coll *mongo.Collection) error {
		status.Reachable = true
		count, err := coll.CountDocuments(ctx, bson.D{})
		if err != nil {
			return err
		}
		status.Count = count

		var sample Document
		err = coll.FindOne(ctx, bson.D{}, options.FindOne().SetSort(bson.D{{Key: "timestamp", Value: -1}})).Decode(&sample)
		switch {
		case errors.Is(err, mongo.ErrNoDocuments):
		case err != nil:
			return err
		default:
			status.Sample = &sample
		}
		return nil
	})
	if err != nil {
		return status, err
	}
	return status, nil
}

// withCollection opens a fresh client bounded by the configured timeout,
// pings it and runs fn. Connection problems surface as
// domain.ErrArchiveUnavailable, operation failures as domain.ErrArchiveStore.
func (s *Store) withCollection(ctx context.Context, operation string, fn func(context.Context, *mongo.Collection) error) error {
	opLogger := logging.WithOperation(s.logger, operation, "")

	uri, err := s.cfg.ConnectionURI()
	if err != nil {
		return domain.ErrArchiveUnavailable.Wrap(err)
	}

	opts := options.Client().
		ApplyURI(uri).
		SetServerAPIOptions(options.ServerAPI(options.ServerAPIVersion1)).
		SetConnectTimeout(s.cfg.Timeout).
		SetServerSelectionTimeout(s.cfg.Timeout).
		SetSocketTimeout(s.cfg.Timeout)

	connectCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, opts)
	if err != nil {
		opLogger.Warn("archive connect failed", zap.Error(err))
		return domain.ErrArchiveUnavailable.Wrap(err)
	}
	defer func() {
		dctx, dcancel := context.WithTimeout(context.Background(), disconnectTimeout)
		defer dcancel()
		if err := client.Disconnect(dctx); err != nil {
			opLogger.Warn("archive disconnect failed", zap.Error(err))
		}
	}()

	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		opLogger.Warn("archive ping failed", zap.Error(err))
		return domain.ErrArchiveUnavailable.Wrap(err)
	}

	opCtx, opCancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer opCancel()

	coll := client.Database(s.cfg.Database).Collection(s.cfg.Collection)
	if err := fn(opCtx, coll); err != nil {
		opLogger.Error("archive operation failed", zap.Error(err))
		return domain.ErrArchiveStore.Wrap(err)
	}
	return nil
}
