package channel

import (
	"context"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/chirino/cartography/internal/config"
	registrynotify "github.com/chirino/cartography/internal/registry/notify"
	"github.com/chirino/cartography/internal/security"
)

func init() {
	registrynotify.Register(registrynotify.Plugin{
		Name: "channel",
		Loader: func(ctx context.Context) (registrynotify.Notifier, error) {
			buffer := 0
			if cfg := config.FromContext(ctx); cfg != nil {
				buffer = cfg.NotifyBuffer
			}
			return New(buffer), nil
		},
	})
}

const defaultBuffer = 1024

// Notifier fans events out to in-process subscribers over buffered channels.
// A subscriber whose buffer is full misses the event.
type Notifier struct {
	mu     sync.Mutex
	subs   map[chan registrynotify.Event]struct{}
	buffer int
	closed bool
}

var _ registrynotify.Notifier = (*Notifier)(nil)

// New creates a Notifier whose subscriber channels hold buffer events.
func New(buffer int) *Notifier {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Notifier{subs: map[chan registrynotify.Event]struct{}{}, buffer: buffer}
}

func (n *Notifier) Publish(_ context.Context, e registrynotify.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for ch := range n.subs {
		select {
		case ch <- e:
		default:
			security.CountDroppedNotification()
			log.Warn("Dropping notification, subscriber is not keeping up", "kind", e.Kind, "doc", e.Doc.ID)
		}
	}
}

func (n *Notifier) Subscribe(ctx context.Context) (<-chan registrynotify.Event, error) {
	ch := make(chan registrynotify.Event, n.buffer)
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		close(ch)
		return ch, nil
	}
	n.subs[ch] = struct{}{}
	n.mu.Unlock()

	go func() {
		<-ctx.Done()
		n.mu.Lock()
		defer n.mu.Unlock()
		if _, ok := n.subs[ch]; ok {
			delete(n.subs, ch)
			close(ch)
		}
	}()
	return ch, nil
}

func (n *Notifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	for ch := range n.subs {
		delete(n.subs, ch)
		close(ch)
	}
	return nil
}
