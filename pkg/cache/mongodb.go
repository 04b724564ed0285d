package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// MongoOptions configures the mongodb engine. The partition is used as the
// database name and every segment maps to a collection.
type MongoOptions struct {
	Partition string        `mapstructure:"partition"`
	URI       string        `mapstructure:"uri"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// MongoEngine stores items in MongoDB.
type MongoEngine struct {
	mu       sync.RWMutex
	opts     MongoOptions
	client   *mongo.Client
	database *mongo.Database
	logger   *zap.Logger
}

type mongoItem struct {
	ID     string    `bson:"_id"`
	Value  []byte    `bson:"value"`
	Stored time.Time `bson:"stored"`
	TTL    int64     `bson:"ttl"`
}

// NewMongo is the Factory for the mongodb engine.
func NewMongo(opts Options, logger *zap.Logger) (Engine, error) {
	var mo MongoOptions
	if err := decodeOptions(opts, &mo); err != nil {
		return nil, err
	}
	if mo.Partition == "" {
		mo.Partition = DefaultPartition
	}
	if mo.URI == "" {
		mo.URI = "mongodb://localhost:27017"
	}
	if mo.Timeout == 0 {
		mo.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MongoEngine{
		opts:   mo,
		logger: logger.Named("mongodb_cache"),
	}, nil
}

func (m *MongoEngine) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client != nil {
		return nil
	}

	clientOptions := options.Client().
		ApplyURI(m.opts.URI).
		SetConnectTimeout(m.opts.Timeout)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, m.opts.Timeout)
	defer cancel()

	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	m.client = client
	m.database = client.Database(m.opts.Partition)
	m.logger.Debug("Connected", zap.String("database", m.opts.Partition))
	return nil
}

func (m *MongoEngine) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client == nil {
		return nil
	}
	err := m.client.Disconnect(ctx)
	m.client = nil
	m.database = nil
	return err
}

func (m *MongoEngine) IsReady() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.client != nil
}

func (m *MongoEngine) collection(segment string) (*mongo.Collection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.database == nil {
		return nil, ErrNotReady
	}
	return m.database.Collection(segment), nil
}

func (m *MongoEngine) Get(ctx context.Context, key Key) (*Item, error) {
	coll, err := m.collection(key.Segment)
	if err != nil {
		return nil, err
	}

	var doc mongoItem
	err = coll.FindOne(ctx, bson.M{"_id": key.ID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	ttl := time.Duration(doc.TTL) * time.Millisecond
	if ttl > 0 && time.Since(doc.Stored) >= ttl {
		return nil, ErrNotFound
	}

	return &Item{Value: doc.Value, Stored: doc.Stored, TTL: ttl}, nil
}

func (m *MongoEngine) Set(ctx context.Context, key Key, value []byte, ttl time.Duration) error {
	coll, err := m.collection(key.Segment)
	if err != nil {
		return err
	}

	doc := mongoItem{
		ID:     key.ID,
		Value:  value,
		Stored: time.Now(),
		TTL:    ttl.Milliseconds(),
	}
	_, err = coll.ReplaceOne(ctx, bson.M{"_id": key.ID}, doc, options.Replace().SetUpsert(true))
	return err
}

func (m *MongoEngine) Drop(ctx context.Context, key Key) error {
	coll, err := m.collection(key.Segment)
	if err != nil {
		return err
	}
	_, err = coll.DeleteOne(ctx, bson.M{"_id": key.ID})
	return err
}
