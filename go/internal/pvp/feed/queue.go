package feed

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

type QueueConfig struct {
	Buffer     int           `yaml:"buffer"`
	MaxRetries int           `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
	Timeout    time.Duration `yaml:"timeout"`
}

func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		Buffer:     256,
		MaxRetries: 3,
		RetryDelay: 500 * time.Millisecond,
		Timeout:    5 * time.Second,
	}
}

// Queue hands events to a Publisher on a background goroutine. Enqueue never
// blocks; events are dropped when the buffer is full.
type Queue struct {
	publisher Publisher
	config    QueueConfig
	events    chan Event

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup

	published uint64
	dropped   uint64
	failed    uint64
}

func NewQueue(publisher Publisher, cfg QueueConfig) *Queue {
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultQueueConfig().Buffer
	}
	return &Queue{
		publisher: publisher,
		config:    cfg,
		events:    make(chan Event, cfg.Buffer),
		stopChan:  make(chan struct{}),
	}
}

func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return errors.New("feed queue already running")
	}
	q.running = true
	q.mu.Unlock()

	q.wg.Add(1)
	go q.run(ctx)

	log.Info().Int("buffer", q.config.Buffer).Msg("feed queue started")
	return nil
}

// Stop drains buffered events and waits for the worker to exit.
func (q *Queue) Stop() error {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return errors.New("feed queue not running")
	}
	q.running = false
	q.mu.Unlock()

	close(q.stopChan)
	q.wg.Wait()

	published, dropped, failed := q.Stats()
	log.Info().
		Uint64("published", published).
		Uint64("dropped", dropped).
		Uint64("failed", failed).
		Msg("feed queue stopped")
	return q.publisher.Close()
}

// Enqueue schedules event for publishing.
func (q *Queue) Enqueue(event Event) {
	select {
	case q.events <- event:
	default:
		q.mu.Lock()
		q.dropped++
		q.mu.Unlock()
		log.Warn().
			Str("event_type", string(event.Type)).
			Str("room_id", event.RoomID).
			Msg("feed buffer full, dropping event")
	}
}

// Stats returns published, dropped and failed counts.
func (q *Queue) Stats() (published, dropped, failed uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.published, q.dropped, q.failed
}

func (q *Queue) run(ctx context.Context) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			q.drain(context.Background())
			return
		case <-q.stopChan:
			q.drain(ctx)
			return
		case event := <-q.events:
			q.publish(ctx, event)
		}
	}
}

func (q *Queue) drain(ctx context.Context) {
	for {
		select {
		case event := <-q.events:
			q.publish(ctx, event)
		default:
			return
		}
	}
}

func (q *Queue) publish(ctx context.Context, event Event) {
	err := q.publishWithRetry(ctx, event)

	q.mu.Lock()
	if err != nil {
		q.failed++
	} else {
		q.published++
	}
	q.mu.Unlock()

	if err != nil {
		log.Error().
			Err(err).
			Str("event_id", event.ID.String()).
			Str("event_type", string(event.Type)).
			Msg("failed to publish event")
	}
}

func (q *Queue) publishWithRetry(ctx context.Context, event Event) error {
	var lastErr error

	for attempt := 0; attempt <= q.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(q.config.RetryDelay * time.Duration(attempt)):
			}
		}

		pubCtx := ctx
		var cancel context.CancelFunc = func() {}
		if q.config.Timeout > 0 {
			pubCtx, cancel = context.WithTimeout(ctx, q.config.Timeout)
		}
		err := q.publisher.Publish(pubCtx, event)
		cancel()
		if err == nil {
			return nil
		}

		lastErr = err
		log.Warn().
			Err(err).
			Str("event_id", event.ID.String()).
			Int("attempt", attempt+1).
			Msg("failed to publish event, retrying")
	}

	return lastErr
}
