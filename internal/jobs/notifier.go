package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/yungbote/neurobridge-backend/internal/platform/logger"
)

// Notifier owns one subscription registry and one bridge goroutine per job
// type. Each bridge loops on Waiter.WaitForNotification and fans out a
// wakeup to every subscriber of that type. Delivery channels are buffered
// capacity 1 with coalescing semantics: a pending, undelivered wakeup means
// "check again", so a second notification arriving before the first is
// drained is simply dropped rather than queued.
type Notifier struct {
	waiter Waiter
	log    *logger.Logger

	backoffMin time.Duration
	backoffMax time.Duration

	mu      sync.Mutex
	subs    map[Type]map[int]chan struct{}
	nextID  int
	bridged map[Type]bool
	stopped bool

	rootCtx context.Context
	cancel  context.CancelFunc
}

func NewNotifier(waiter Waiter, log *logger.Logger) *Notifier {
	ctx, cancel := context.WithCancel(context.Background())
	return &Notifier{
		waiter:     waiter,
		log:        log.With("component", "Notifier"),
		backoffMin: 500 * time.Millisecond,
		backoffMax: 10 * time.Second,
		subs:       make(map[Type]map[int]chan struct{}),
		bridged:    make(map[Type]bool),
		rootCtx:    ctx,
		cancel:     cancel,
	}
}

// closedChan is returned to subscribers that arrive after StopAll; they
// observe an immediate wakeup (the channel is already closed and readable)
// and then see cancellation via their own context.
var closedChan = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()

// Subscribe registers a subscriber for t and, the first time t is seen,
// starts a bridge goroutine for it. Returns the delivery channel and an
// idempotent unsubscribe function.
func (n *Notifier) Subscribe(ctx context.Context, t Type) (<-chan struct{}, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.stopped {
		return closedChan, func() {}
	}

	if n.subs[t] == nil {
		n.subs[t] = make(map[int]chan struct{})
	}
	id := n.nextID
	n.nextID++
	ch := make(chan struct{}, 1)
	n.subs[t][id] = ch

	if !n.bridged[t] {
		n.bridged[t] = true
		go n.bridge(n.rootCtx, t)
	}

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			if set, ok := n.subs[t]; ok {
				delete(set, id)
			}
		})
	}

	// Auto-unsubscribe when the caller's own context ends, so a worker that
	// exits doesn't leak a slot in the per-type fan-out map.
	if ctx != nil {
		go func() {
			<-ctx.Done()
			unsub()
		}()
	}

	return ch, unsub
}

func (n *Notifier) bridge(ctx context.Context, t Type) {
	backoff := n.backoffMin
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		err := n.waiter.WaitForNotification(ctx, t)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			n.log.Warn("notifier bridge error, backing off", "type", t, "error", err, "backoff", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > n.backoffMax {
				backoff = n.backoffMax
			}
			continue
		}
		backoff = n.backoffMin
		n.fanOut(t)
	}
}

func (n *Notifier) fanOut(t Type) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ch := range n.subs[t] {
		select {
		case ch <- struct{}{}:
		default:
			// Already has a pending wakeup; coalesce.
		}
	}
}

// StopAll ends every bridge goroutine. Subsequent Subscribe calls return an
// already-closed channel.
func (n *Notifier) StopAll() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.stopped {
		return
	}
	n.stopped = true
	if n.cancel != nil {
		n.cancel()
	}
}
