package apitoken

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/guestauth/internal/logging"
)

type usage struct {
	tokenID string
	at      time.Time
}

// UsageRecorder writes LastUsedAt off the request path. Records are dropped
// when the buffer is full and failed writes are logged.
type UsageRecorder struct {
	store     Store
	log       logging.Logger
	timeout   time.Duration
	ch        chan usage
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	failed    atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewUsageRecorder starts a recorder with the given buffer size.
func NewUsageRecorder(store Store, buffer int, log logging.Logger) *UsageRecorder {
	if buffer <= 0 {
		buffer = 1
	}
	r := &UsageRecorder{
		store:   store,
		log:     logging.OrNop(log),
		timeout: 2 * time.Second,
		ch:      make(chan usage, buffer),
		done:    make(chan struct{}),
	}
	r.wg.Add(1)
	go r.run()
	return r
}

func (r *UsageRecorder) run() {
	defer r.wg.Done()

	for {
		select {
		case u := <-r.ch:
			r.write(u)
		case <-r.done:
			for {
				select {
				case u := <-r.ch:
					r.write(u)
				default:
					return
				}
			}
		}
	}
}

func (r *UsageRecorder) write(u usage) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.store.TouchLastUsed(ctx, u.tokenID, u.at); err != nil {
		r.failed.Add(1)
		r.log.Warn(ctx, "api token last-used update failed", "token_id", u.tokenID, "err", err)
	}
}

// Record queues a usage stamp without blocking.
func (r *UsageRecorder) Record(tokenID string, at time.Time) {
	if r == nil || r.closed.Load() {
		return
	}
	select {
	case r.ch <- usage{tokenID: tokenID, at: at}:
	default:
		r.dropped.Add(1)
	}
}

// Close flushes queued records and stops the worker.
func (r *UsageRecorder) Close() {
	if r == nil {
		return
	}
	r.closeOnce.Do(func() {
		r.closed.Store(true)
		close(r.done)
		r.wg.Wait()
	})
}

// Dropped returns how many records were discarded because the buffer was full.
func (r *UsageRecorder) Dropped() uint64 {
	if r == nil {
		return 0
	}
	return r.dropped.Load()
}

// Failed returns how many writes returned an error.
func (r *UsageRecorder) Failed() uint64 {
	if r == nil {
		return 0
	}
	return r.failed.Load()
}
