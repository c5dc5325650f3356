// Package statuscache mirrors job snapshots into Redis so other processes can
// read job status without calling the service.
package statuscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-jobs/internal/jobs"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultKeyPrefix namespaces the mirrored keys.
	DefaultKeyPrefix = "tts:job:"
	// DefaultQueueSize is how many pending writes the mirror buffers.
	DefaultQueueSize = 1024

	drainTimeout = 5 * time.Second
)

// ErrNotCached is returned when Redis holds no snapshot for a job.
var ErrNotCached = errors.New("job status not cached")

// Config holds the Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// NewClient connects to Redis and verifies the connection.
func NewClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingErr := client.Ping(ctx).Err()
	if pingErr != nil {
		_ = client.Close()

		return nil, fmt.Errorf("redis connection to %s failed: %w", cfg.Addr, pingErr)
	}

	return client, nil
}

// Snapshot is the cached form of a job.
type Snapshot struct {
	jobs.Job

	ResultAvailable bool `json:"result_available"`
}

type write struct {
	id     string
	data   []byte
	remove bool
}

// Mirror is a jobs.Observer that copies every job change into Redis. Store
// callbacks only enqueue; Run performs the writes in order.
type Mirror struct {
	client  *redis.Client
	prefix  string
	ttl     time.Duration
	queue   chan write
	dropped atomic.Int64
	log     *logger.Logger
}

// NewMirror creates a mirror writing keys prefix+id that expire after ttl.
func NewMirror(client *redis.Client, prefix string, ttl time.Duration, log *logger.Logger) *Mirror {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	return &Mirror{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		queue:  make(chan write, DefaultQueueSize),
		log:    log,
	}
}

// JobUpdated queues the snapshot for writing.
func (m *Mirror) JobUpdated(job jobs.Job) {
	data, err := json.Marshal(Snapshot{Job: job, ResultAvailable: job.ResultAvailable()})
	if err != nil {
		m.log.Warn("Failed to encode status of job %s: %v", job.ID, err)

		return
	}

	m.enqueue(write{id: job.ID, data: data, remove: false})
}

// JobRemoved queues deletion of the job's key.
func (m *Mirror) JobRemoved(id string) {
	m.enqueue(write{id: id, data: nil, remove: true})
}

// Dropped returns how many writes were discarded because the queue was full.
func (m *Mirror) Dropped() int64 {
	return m.dropped.Load()
}

// Run applies queued writes until ctx ends, then flushes what is left.
func (m *Mirror) Run(ctx context.Context) {
	for {
		select {
		case w := <-m.queue:
			m.apply(ctx, w)
		case <-ctx.Done():
			m.drain()

			return
		}
	}
}

// Get reads a job snapshot back from Redis.
func (m *Mirror) Get(ctx context.Context, id string) (Snapshot, error) {
	data, err := m.client.Get(ctx, m.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrNotCached, id)
	}

	if err != nil {
		return Snapshot{}, fmt.Errorf("redis get %s: %w", m.key(id), err)
	}

	var snapshot Snapshot

	decodeErr := json.Unmarshal(data, &snapshot)
	if decodeErr != nil {
		return Snapshot{}, fmt.Errorf("failed to decode cached status of job %s: %w", id, decodeErr)
	}

	return snapshot, nil
}

func (m *Mirror) enqueue(w write) {
	select {
	case m.queue <- w:
	default:
		if m.dropped.Add(1) == 1 {
			m.log.Warn("Status mirror queue is full; dropping updates")
		}
	}
}

func (m *Mirror) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	for {
		select {
		case w := <-m.queue:
			m.apply(ctx, w)
		default:
			return
		}
	}
}

func (m *Mirror) apply(ctx context.Context, w write) {
	var err error

	if w.remove {
		err = m.client.Del(ctx, m.key(w.id)).Err()
	} else {
		err = m.client.Set(ctx, m.key(w.id), w.data, m.ttl).Err()
	}

	if err != nil {
		m.log.Warn("Failed to mirror status of job %s: %v", w.id, err)
	}
}

func (m *Mirror) key(id string) string {
	return m.prefix + id
}
