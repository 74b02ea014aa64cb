// Package store persists cluster and task state in Redis.
//
// The cluster record is the single shared mutable resource in the system.
// Every read-modify-write goes through Update, which serializes per key via
// optimistic WATCH transactions with bounded conflict retries.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/transcript-refinery/internal/logger"
	"github.com/jonesrussell/transcript-refinery/internal/models"
)

const (
	clusterKeyPrefix = "cluster:"
	taskKeyPrefix    = "task:"

	connectionTimeout = 2 * time.Second
	taskTTL           = 24 * time.Hour

	// maxUpdateRetries bounds optimistic-lock retries before surfacing a
	// storage error to the caller.
	maxUpdateRetries = 5
)

// ErrConflict is returned when an Update keeps losing the optimistic lock.
var ErrConflict = errors.New("concurrent update conflict")

// NewClient creates a Redis client and verifies the connection.
func NewClient(addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("connect to Redis: %w", err)
	}
	return client, nil
}

// Store reads and writes cluster records in Redis.
type Store struct {
	client *redis.Client
	ttl    time.Duration
	logger logger.Logger
}

// New creates a Store with the given record TTL.
func New(client *redis.Client, ttl time.Duration, log logger.Logger) *Store {
	return &Store{
		client: client,
		ttl:    ttl,
		logger: log,
	}
}

func clusterKey(id string) string {
	return clusterKeyPrefix + id
}

func taskKey(id string) string {
	return taskKeyPrefix + id
}

// Save persists the cluster record, refreshing its TTL.
func (s *Store) Save(ctx context.Context, c *models.ResearchCluster) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return models.NewStorageError("marshal cluster", err)
	}
	if err := s.client.Set(ctx, clusterKey(c.ID), payload, s.ttl).Err(); err != nil {
		return models.NewStorageError("save cluster", err)
	}
	return nil
}

// Get loads the cluster record. Returns models.ErrNotFound for unknown or
// expired ids.
func (s *Store) Get(ctx context.Context, id string) (*models.ResearchCluster, error) {
	data, err := s.client.Get(ctx, clusterKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, models.NewStorageError("get cluster", err)
	}

	var c models.ResearchCluster
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, models.NewStorageError("unmarshal cluster", err)
	}
	return &c, nil
}

// Update applies fn to the current cluster record inside an optimistic
// WATCH transaction and persists the result. When a concurrent writer wins
// the race the transaction is retried with fresh state, so fn must be pure
// over its argument. Errors returned by fn abort the update and pass
// through unchanged.
func (s *Store) Update(ctx context.Context, id string, fn func(*models.ResearchCluster) error) (*models.ResearchCluster, error) {
	key := clusterKey(id)

	var updated *models.ResearchCluster
	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return models.ErrNotFound
		}
		if err != nil {
			return models.NewStorageError("get cluster", err)
		}

		var c models.ResearchCluster
		if err := json.Unmarshal(data, &c); err != nil {
			return models.NewStorageError("unmarshal cluster", err)
		}

		if err := fn(&c); err != nil {
			return err
		}
		c.UpdatedAt = time.Now().UTC()

		payload, err := json.Marshal(&c)
		if err != nil {
			return models.NewStorageError("marshal cluster", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, s.ttl)
			return nil
		})
		if err != nil {
			return err
		}
		updated = &c
		return nil
	}

	for attempt := 1; attempt <= maxUpdateRetries; attempt++ {
		err := s.client.Watch(ctx, txn, key)
		if err == nil {
			return updated, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			s.logger.Debug("cluster update conflict, retrying",
				logger.String("cluster_id", id),
				logger.Int("attempt", attempt))
			continue
		}
		return nil, err
	}

	return nil, models.NewStorageError("update cluster", ErrConflict)
}

// List returns all live cluster records via a SCAN over the key space.
func (s *Store) List(ctx context.Context) ([]*models.ResearchCluster, error) {
	var clusters []*models.ResearchCluster

	iter := s.client.Scan(ctx, 0, clusterKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		data, err := s.client.Get(ctx, iter.Val()).Bytes()
		if errors.Is(err, redis.Nil) {
			continue // expired between SCAN and GET
		}
		if err != nil {
			return nil, models.NewStorageError("list clusters", err)
		}
		var c models.ResearchCluster
		if err := json.Unmarshal(data, &c); err != nil {
			s.logger.Warn("skipping unreadable cluster record",
				logger.String("key", iter.Val()),
				logger.Error(err))
			continue
		}
		clusters = append(clusters, &c)
	}
	if err := iter.Err(); err != nil {
		return nil, models.NewStorageError("scan clusters", err)
	}
	return clusters, nil
}

// Delete removes the cluster record.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, clusterKey(id)).Err(); err != nil {
		return models.NewStorageError("delete cluster", err)
	}
	return nil
}

// SaveTask persists a single-video task result.
func (s *Store) SaveTask(ctx context.Context, t *models.TaskResult) error {
	t.UpdatedAt = time.Now().UTC()
	payload, err := json.Marshal(t)
	if err != nil {
		return models.NewStorageError("marshal task", err)
	}
	if err := s.client.Set(ctx, taskKey(t.TaskID), payload, taskTTL).Err(); err != nil {
		return models.NewStorageError("save task", err)
	}
	return nil
}

// GetTask loads a single-video task result.
func (s *Store) GetTask(ctx context.Context, id string) (*models.TaskResult, error) {
	data, err := s.client.Get(ctx, taskKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, models.NewStorageError("get task", err)
	}
	var t models.TaskResult
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, models.NewStorageError("unmarshal task", err)
	}
	return &t, nil
}
