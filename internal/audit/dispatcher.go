package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/guestauth/internal/logging"
)

// Config controls dispatcher buffering behavior.
type Config struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
	// Critical event types are never dropped. With DropIfFull they still
	// wait for buffer room or for the caller's context.
	Critical []string
}

// Dropped events are logged once per this many drops.
const dropLogEvery = 100

// Dispatcher relays engine events to a sink from a single goroutine.
// Routine events (logins, refreshes) may be shed under DropIfFull; lockouts,
// deletions and other critical account events are not.
type Dispatcher struct {
	cfg      Config
	sink     Sink
	log      logging.Logger
	critical map[string]struct{}
	now      func() time.Time

	ch        chan Event
	done      chan struct{}
	wg        sync.WaitGroup
	closed    atomic.Bool
	closeOnce sync.Once

	dropped   atomic.Uint64
	dropMu    sync.Mutex
	droppedBy map[string]uint64
}

// NewDispatcher returns nil when cfg is disabled; a nil Dispatcher accepts
// and discards events.
func NewDispatcher(cfg Config, sink Sink, log logging.Logger) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	critical := make(map[string]struct{}, len(cfg.Critical))
	for _, t := range cfg.Critical {
		critical[t] = struct{}{}
	}

	d := &Dispatcher{
		cfg:       cfg,
		sink:      sink,
		log:       logging.OrNop(log).With("component", "audit"),
		critical:  critical,
		now:       time.Now,
		ch:        make(chan Event, cfg.BufferSize),
		done:      make(chan struct{}),
		droppedBy: make(map[string]uint64),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case event := <-d.ch:
			d.sink.Emit(context.Background(), event)
		case <-d.done:
			for {
				select {
				case event := <-d.ch:
					d.sink.Emit(context.Background(), event)
				default:
					return
				}
			}
		}
	}
}

// IsCritical reports whether eventType is exempt from shedding.
func (d *Dispatcher) IsCritical(eventType string) bool {
	if d == nil {
		return false
	}
	_, ok := d.critical[eventType]
	return ok
}

// Emit queues event, stamping it if the caller left Timestamp unset.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = d.now().UTC()
	}

	if d.cfg.DropIfFull && !d.IsCritical(event.EventType) {
		select {
		case d.ch <- event:
		case <-d.done:
		default:
			d.recordDrop(ctx, event.EventType)
		}
		return
	}

	select {
	case d.ch <- event:
	case <-ctx.Done():
	case <-d.done:
	}
}

func (d *Dispatcher) recordDrop(ctx context.Context, eventType string) {
	d.dropMu.Lock()
	d.droppedBy[eventType]++
	d.dropMu.Unlock()

	if n := d.dropped.Add(1); n%dropLogEvery == 1 {
		d.log.Warn(ctx, "audit buffer full, dropping routine events",
			"event", eventType,
			"dropped_total", n,
		)
	}
}

// Close stops accepting events and drains the buffer.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

// Dropped reports how many events were discarded on a full buffer.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// DroppedByEvent returns a copy of the drop counts keyed by event type.
func (d *Dispatcher) DroppedByEvent() map[string]uint64 {
	out := make(map[string]uint64)
	if d == nil {
		return out
	}
	d.dropMu.Lock()
	defer d.dropMu.Unlock()
	for k, v := range d.droppedBy {
		out[k] = v
	}
	return out
}
