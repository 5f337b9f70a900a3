package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/cartography/internal/config"
	registrynotify "github.com/chirino/cartography/internal/registry/notify"
	"github.com/chirino/cartography/internal/security"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultStream = "cartography:events"
	defaultBuffer = 1024
	readBlock     = time.Second
	eventField    = "event"
)

func init() {
	registrynotify.Register(registrynotify.Plugin{
		Name:   "redis",
		Loader: load,
	})
}

func load(ctx context.Context) (registrynotify.Notifier, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.RedisURL == "" {
		return nil, fmt.Errorf("redis notifier: CARTOGRAPHY_REDIS_URL is required")
	}
	return LoadFromURL(ctx, cfg.RedisURL, cfg.NotifyStream, cfg.NotifyBuffer)
}

// LoadFromURL creates a Notifier that appends events to a Redis stream.
func LoadFromURL(ctx context.Context, redisURL, stream string, buffer int) (*Notifier, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis notifier: invalid URL: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis notifier: ping failed: %w", err)
	}
	if stream == "" {
		stream = defaultStream
	}
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	n := &Notifier{
		client: client,
		stream: stream,
		queue:  make(chan registrynotify.Event, buffer),
		done:   make(chan struct{}),
	}
	go n.drain()
	return n, nil
}

// Notifier publishes events with XADD from a background goroutine and
// subscribes with blocking XREAD. Events published while the queue is full
// are dropped.
type Notifier struct {
	client *goredis.Client
	stream string
	queue  chan registrynotify.Event
	done   chan struct{}

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

var _ registrynotify.Notifier = (*Notifier)(nil)

func (n *Notifier) Publish(_ context.Context, e registrynotify.Event) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return
	}
	select {
	case n.queue <- e:
	default:
		security.CountDroppedNotification()
		log.Warn("Dropping notification, redis publish queue is full", "kind", e.Kind, "doc", e.Doc.ID)
	}
}

func (n *Notifier) drain() {
	defer close(n.done)
	for e := range n.queue {
		payload, err := json.Marshal(e)
		if err != nil {
			log.Error("Failed to encode notification", "doc", e.Doc.ID, "err", err)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = n.client.XAdd(ctx, &goredis.XAddArgs{
			Stream: n.stream,
			Values: map[string]any{eventField: string(payload)},
		}).Err()
		cancel()
		if err != nil {
			security.CountDroppedNotification()
			log.Error("Failed to publish notification", "stream", n.stream, "doc", e.Doc.ID, "err", err)
		}
	}
}

// Subscribe delivers events appended after the call returns.
func (n *Notifier) Subscribe(ctx context.Context) (<-chan registrynotify.Event, error) {
	last := "0-0"
	latest, err := n.client.XRevRangeN(ctx, n.stream, "+", "-", 1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis notifier: read stream tail: %w", err)
	}
	if len(latest) > 0 {
		last = latest[0].ID
	}

	out := make(chan registrynotify.Event)
	go func() {
		defer close(out)
		for ctx.Err() == nil {
			streams, err := n.client.XRead(ctx, &goredis.XReadArgs{
				Streams: []string{n.stream, last},
				Count:   100,
				Block:   readBlock,
			}).Result()
			if errors.Is(err, goredis.Nil) {
				continue
			}
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, goredis.ErrClosed) {
					return
				}
				log.Error("Failed to read notification stream", "stream", n.stream, "err", err)
				time.Sleep(readBlock)
				continue
			}
			for _, s := range streams {
				for _, msg := range s.Messages {
					last = msg.ID
					raw, _ := msg.Values[eventField].(string)
					var e registrynotify.Event
					if err := json.Unmarshal([]byte(raw), &e); err != nil {
						log.Warn("Skipping malformed notification", "id", msg.ID, "err", err)
						continue
					}
					select {
					case out <- e:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return out, nil
}

// Close flushes queued events and closes the client.
func (n *Notifier) Close() error {
	var err error
	n.closeOnce.Do(func() {
		n.mu.Lock()
		n.closed = true
		close(n.queue)
		n.mu.Unlock()
		<-n.done
		err = n.client.Close()
	})
	return err
}
