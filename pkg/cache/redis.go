package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisOptions configures the redis engine.
type RedisOptions struct {
	Partition string `mapstructure:"partition"`
	// Address is host:port. When empty it is built from Host and Port.
	Address  string        `mapstructure:"address"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	Database int           `mapstructure:"database"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// RedisEngine stores items in Redis so several processes can share a cache.
type RedisEngine struct {
	mu     sync.RWMutex
	opts   RedisOptions
	client *redis.Client
	logger *zap.Logger
}

// redisEnvelope is the stored representation of an item.
type redisEnvelope struct {
	Item   []byte `json:"item"`
	Stored int64  `json:"stored"`
	TTL    int64  `json:"ttl"`
}

// NewRedis is the Factory for the redis engine.
func NewRedis(opts Options, logger *zap.Logger) (Engine, error) {
	var ro RedisOptions
	if err := decodeOptions(opts, &ro); err != nil {
		return nil, err
	}
	if ro.Partition == "" {
		ro.Partition = DefaultPartition
	}
	if ro.Address == "" {
		host := ro.Host
		if host == "" {
			host = "127.0.0.1"
		}
		port := ro.Port
		if port == 0 {
			port = 6379
		}
		ro.Address = net.JoinHostPort(host, strconv.Itoa(port))
	}
	if ro.Timeout == 0 {
		ro.Timeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisEngine{
		opts:   ro,
		logger: logger.Named("redis_cache"),
	}, nil
}

func (r *RedisEngine) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client != nil {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:        r.opts.Address,
		Password:    r.opts.Password,
		DB:          r.opts.Database,
		DialTimeout: r.opts.Timeout,
	})

	// Test connection
	pingCtx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("failed to connect to redis at %s: %w", r.opts.Address, err)
	}

	r.client = client
	r.logger.Debug("Connected", zap.String("address", r.opts.Address))
	return nil
}

func (r *RedisEngine) Stop(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client == nil {
		return nil
	}
	err := r.client.Close()
	r.client = nil
	return err
}

func (r *RedisEngine) IsReady() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.client != nil
}

func (r *RedisEngine) key(key Key) string {
	return r.opts.Partition + ":" + key.Segment + ":" + key.ID
}

func (r *RedisEngine) conn() (*redis.Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.client == nil {
		return nil, ErrNotReady
	}
	return r.client, nil
}

func (r *RedisEngine) Get(ctx context.Context, key Key) (*Item, error) {
	client, err := r.conn()
	if err != nil {
		return nil, err
	}

	data, err := client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var env redisEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("corrupt cache item %s: %w", key, err)
	}

	return &Item{
		Value:  env.Item,
		Stored: time.UnixMilli(env.Stored),
		TTL:    time.Duration(env.TTL) * time.Millisecond,
	}, nil
}

func (r *RedisEngine) Set(ctx context.Context, key Key, value []byte, ttl time.Duration) error {
	client, err := r.conn()
	if err != nil {
		return err
	}

	data, err := json.Marshal(redisEnvelope{
		Item:   value,
		Stored: time.Now().UnixMilli(),
		TTL:    ttl.Milliseconds(),
	})
	if err != nil {
		return err
	}

	// Redis handles TTL-based expiration; zero keeps the item.
	return client.Set(ctx, r.key(key), data, ttl).Err()
}

func (r *RedisEngine) Drop(ctx context.Context, key Key) error {
	client, err := r.conn()
	if err != nil {
		return err
	}
	return client.Del(ctx, r.key(key)).Err()
}
