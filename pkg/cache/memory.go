package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrTooLarge is returned when a value would push the memory engine past its
// configured byte budget.
var ErrTooLarge = errors.New("cache item exceeds max byte size")

// MemoryOptions configures the memory engine.
type MemoryOptions struct {
	Partition   string `mapstructure:"partition"`
	MaxByteSize int64  `mapstructure:"maxByteSize"`
}

// MemoryEngine is an in-process engine for development and testing.
type MemoryEngine struct {
	mu       sync.RWMutex
	opts     MemoryOptions
	segments map[string]map[string]*Item
	size     int64
	ready    bool
	logger   *zap.Logger
}

// NewMemory is the Factory for the memory engine.
func NewMemory(opts Options, logger *zap.Logger) (Engine, error) {
	var mo MemoryOptions
	if err := decodeOptions(opts, &mo); err != nil {
		return nil, err
	}
	if mo.Partition == "" {
		mo.Partition = DefaultPartition
	}
	if mo.MaxByteSize <= 0 {
		mo.MaxByteSize = 100 * 1024 * 1024
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryEngine{
		opts:   mo,
		logger: logger.Named("memory_cache"),
	}, nil
}

func (m *MemoryEngine) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.segments == nil {
		m.segments = make(map[string]map[string]*Item)
	}
	m.ready = true
	return nil
}

func (m *MemoryEngine) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.segments = nil
	m.size = 0
	m.ready = false
	return nil
}

func (m *MemoryEngine) IsReady() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ready
}

func (m *MemoryEngine) Get(ctx context.Context, key Key) (*Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.ready {
		return nil, ErrNotReady
	}

	item, ok := m.segments[key.Segment][key.ID]
	if !ok {
		return nil, ErrNotFound
	}
	if item.TTL > 0 && time.Since(item.Stored) >= item.TTL {
		return nil, ErrNotFound
	}

	out := *item
	out.Value = append([]byte(nil), item.Value...)
	return &out, nil
}

func (m *MemoryEngine) Set(ctx context.Context, key Key, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.ready {
		return ErrNotReady
	}

	segment, ok := m.segments[key.Segment]
	if !ok {
		segment = make(map[string]*Item)
		m.segments[key.Segment] = segment
	}

	next := m.sizeAfter(segment, key.ID, value)
	if next > m.opts.MaxByteSize {
		// expired items still count against the budget until reclaimed
		if m.cleanupLocked() > 0 {
			next = m.sizeAfter(segment, key.ID, value)
		}
		if next > m.opts.MaxByteSize {
			return ErrTooLarge
		}
	}

	segment[key.ID] = &Item{
		Value:  append([]byte(nil), value...),
		Stored: time.Now(),
		TTL:    ttl,
	}
	m.size = next
	return nil
}

func (m *MemoryEngine) sizeAfter(segment map[string]*Item, id string, value []byte) int64 {
	var previous int64
	if old, exists := segment[id]; exists {
		previous = int64(len(old.Value))
	}
	return m.size - previous + int64(len(value))
}

func (m *MemoryEngine) Drop(ctx context.Context, key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.ready {
		return ErrNotReady
	}

	segment, ok := m.segments[key.Segment]
	if !ok {
		return nil // Idempotent
	}
	if item, exists := segment[key.ID]; exists {
		m.size -= int64(len(item.Value))
		delete(segment, key.ID)
	}
	return nil
}

// Cleanup removes expired items and returns how many were dropped.
func (m *MemoryEngine) Cleanup(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cleanupLocked(), nil
}

func (m *MemoryEngine) cleanupLocked() int64 {
	var count int64
	now := time.Now()
	for _, segment := range m.segments {
		for id, item := range segment {
			if item.TTL > 0 && now.Sub(item.Stored) >= item.TTL {
				m.size -= int64(len(item.Value))
				delete(segment, id)
				count++
			}
		}
	}

	if count > 0 {
		m.logger.Debug("Cleaned up expired items", zap.Int64("count", count))
	}
	return count
}
