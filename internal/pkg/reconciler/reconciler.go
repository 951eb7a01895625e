// Package reconciler keeps the off-chain Permission and Earning records in
// step with the events emitted by the consent ledger.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/gofiber/fiber/v2/log"
	"golang.org/x/sync/errgroup"

	"github.com/ManuelReschke/MindShield/app/repository"
	"github.com/ManuelReschke/MindShield/internal/pkg/config"
	"github.com/ManuelReschke/MindShield/internal/pkg/ledger"
	"github.com/ManuelReschke/MindShield/internal/pkg/metrics"
)

const (
	sinkBuffer     = 64
	laneBuffer     = 32
	initialBackoff = 250 * time.Millisecond
	archiveTimeout = 5 * time.Second
)

// Ledger is the part of the ledger client the reconciler consumes.
type Ledger interface {
	Subscribe(ctx context.Context, fromBlock uint64, sink chan<- ledger.Event) (event.Subscription, error)
	GetLicenseDetails(ctx context.Context, licenseID uint64) (*ledger.LicenseDetail, error)
}

// RepairQueue schedules an asynchronous repair attempt for an orphaned event.
type RepairQueue interface {
	EnqueueRepair(ctx context.Context, eventID uint) error
}

// Archive stores a raw copy of every received event.
type Archive interface {
	Append(ctx context.Context, ev ledger.Event) error
}

// Status is a snapshot of the reconciler for operators.
type Status struct {
	Running    bool      `json:"running"`
	StartedAt  time.Time `json:"startedAt,omitempty"`
	Cursor     uint64    `json:"cursor"`
	LastBlock  uint64    `json:"lastBlock"`
	Processed  int64     `json:"processed"`
	Duplicates int64     `json:"duplicates"`
	Orphaned   int64     `json:"orphaned"`
	Retries    int64     `json:"retries"`
	LastError  string    `json:"lastError,omitempty"`
}

// Option configures a Reconciler.
type Option func(*Reconciler)

func WithRepairQueue(q RepairQueue) Option {
	return func(r *Reconciler) { r.repair = q }
}

func WithArchive(a Archive) Option {
	return func(r *Reconciler) { r.archive = a }
}

// Reconciler consumes ledger events and applies them to the store. Events
// are spread over lanes by (user, company); each lane applies its events in
// arrival order, one at a time.
type Reconciler struct {
	cfg     config.ReconcilerConfig
	ledger  Ledger
	repos   *repository.Repositories
	fiat    ledger.FiatConverter
	repair  RepairQueue
	archive Archive

	// pairLocks serialize lane workers and repairs of the same pair.
	pairLocks []sync.Mutex

	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	done      chan struct{}
	startedAt time.Time
	lastErr   atomic.Value

	cursorMu sync.Mutex
	marks    *watermark
	saved    uint64

	processed  atomic.Int64
	duplicates atomic.Int64
	orphaned   atomic.Int64
	retries    atomic.Int64
}

func New(cfg config.ReconcilerConfig, l Ledger, repos *repository.Repositories, fiat ledger.FiatConverter, opts ...Option) *Reconciler {
	if cfg.Lanes <= 0 {
		cfg.Lanes = 1
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.Name == "" {
		cfg.Name = "data-license"
	}
	r := &Reconciler{
		cfg:       cfg,
		ledger:    l,
		repos:     repos,
		fiat:      fiat,
		pairLocks: make([]sync.Mutex, cfg.Lanes),
		marks:     newWatermark(0),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start resumes from the stored cursor and begins consuming events. It
// returns once the ledger subscription is established.
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return nil
	}

	cursor, err := r.repos.LedgerEvent.GetCursor(r.cfg.Name)
	if err != nil {
		return fmt.Errorf("load reconciler cursor: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	sink := make(chan ledger.Event, sinkBuffer)
	sub, err := r.ledger.Subscribe(ctx, cursor, sink)
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe to ledger: %w", err)
	}

	r.cursorMu.Lock()
	r.marks = newWatermark(cursor)
	r.saved = cursor
	r.cursorMu.Unlock()
	metrics.SetCursorBlock(cursor)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.running = true
	r.startedAt = time.Now()

	log.Infof("[Reconciler] Starting %q from block %d with %d lanes", r.cfg.Name, cursor, r.cfg.Lanes)

	lanes := make([]chan ledger.Event, r.cfg.Lanes)
	for i := range lanes {
		lanes[i] = make(chan ledger.Event, laneBuffer)
	}

	g, gctx := errgroup.WithContext(runCtx)
	for i, lane := range lanes {
		i, lane := i, lane
		g.Go(func() error {
			r.runLane(gctx, i, lane)
			return nil
		})
	}
	g.Go(func() error {
		r.dispatch(gctx, sub, sink, lanes)
		return nil
	})
	if r.cfg.RepairInterval > 0 {
		g.Go(func() error {
			r.repairLoop(gctx)
			return nil
		})
	}

	done := r.done
	go func() {
		_ = g.Wait()
		close(done)
	}()
	return nil
}

// Stop ends the subscription and waits for in-flight events. Events that did
// not commit are replayed from the cursor on the next Start.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return
	}

	log.Info("[Reconciler] Stopping...")
	r.cancel()
	<-r.done
	r.running = false
	r.saveCursor()
	log.Info("[Reconciler] Stopped")
}

func (r *Reconciler) Status() Status {
	r.mu.Lock()
	running, started := r.running, r.startedAt
	r.mu.Unlock()
	r.cursorMu.Lock()
	marks := r.marks
	r.cursorMu.Unlock()

	s := Status{
		Running:    running,
		Cursor:     marks.low(),
		LastBlock:  marks.lastBlock(),
		Processed:  r.processed.Load(),
		Duplicates: r.duplicates.Load(),
		Orphaned:   r.orphaned.Load(),
		Retries:    r.retries.Load(),
	}
	if running {
		s.StartedAt = started
	}
	if msg, ok := r.lastErr.Load().(string); ok {
		s.LastError = msg
	}
	return s
}

func (r *Reconciler) laneFor(ev ledger.Event) int {
	h := fnv.New32a()
	h.Write(ev.User.Bytes())
	h.Write(ev.Company.Bytes())
	return int(h.Sum32() % uint32(len(r.pairLocks)))
}

// dispatch forwards events to their lanes in arrival order and resubscribes
// from the cursor when the subscription fails.
func (r *Reconciler) dispatch(ctx context.Context, sub event.Subscription, sink chan ledger.Event, lanes []chan ledger.Event) {
	backoff := initialBackoff
	defer func() {
		if sub != nil {
			sub.Unsubscribe()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-sink:
			backoff = initialBackoff
			r.archiveEvent(ctx, ev)
			r.marks.add(ev.BlockNumber)
			select {
			case lanes[r.laneFor(ev)] <- ev:
			case <-ctx.Done():
				return
			}
		case err := <-sub.Err():
			sub.Unsubscribe()
			sub = nil
			if err != nil {
				r.setLastError(err)
				log.Errorf("[Reconciler] Ledger subscription failed: %v", err)
			}
			for sub == nil {
				if !sleepCtx(ctx, backoff) {
					return
				}
				backoff = r.nextBackoff(backoff)
				from := r.marks.low()
				// a fresh sink drops events buffered from the dead subscription;
				// they are at or after the cursor and get replayed
				sink = make(chan ledger.Event, sinkBuffer)
				s, err := r.ledger.Subscribe(ctx, from, sink)
				if err != nil {
					log.Errorf("[Reconciler] Resubscribe from block %d failed: %v", from, err)
					continue
				}
				log.Infof("[Reconciler] Resubscribed from block %d", from)
				sub = s
			}
		}
	}
}

func (r *Reconciler) runLane(ctx context.Context, id int, lane <-chan ledger.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-lane:
			if r.handle(ctx, ev) {
				r.marks.done(ev.BlockNumber)
				r.saveCursor()
			}
		}
	}
}

// handle applies ev, retrying transient store failures with capped
// exponential backoff. It reports false only when ctx ended first.
func (r *Reconciler) handle(ctx context.Context, ev ledger.Event) bool {
	backoff := initialBackoff
	for {
		err := r.Apply(ctx, ev)
		switch {
		case err == nil:
			return true
		case isDuplicate(err):
			return true
		case isMismatch(err):
			log.Warnf("[Reconciler] %v", err)
			return true
		case ctx.Err() != nil:
			return false
		}

		r.retries.Add(1)
		r.setLastError(err)
		metrics.ObserveReconcilerEvent(string(ev.Kind), metrics.OutcomeRetried)
		log.Errorf("[Reconciler] Applying %s %s:%d failed, retrying in %s: %v", ev.Kind, ev.TxHash.Hex(), ev.LogIndex, backoff, err)
		if !sleepCtx(ctx, backoff) {
			return false
		}
		backoff = r.nextBackoff(backoff)
	}
}

func (r *Reconciler) nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > r.cfg.MaxBackoff {
		return r.cfg.MaxBackoff
	}
	return next
}

func (r *Reconciler) archiveEvent(ctx context.Context, ev ledger.Event) {
	if r.archive == nil {
		return
	}
	actx, cancel := context.WithTimeout(ctx, archiveTimeout)
	defer cancel()
	if err := r.archive.Append(actx, ev); err != nil && !errors.Is(err, context.Canceled) {
		log.Warnf("[Reconciler] Archiving %s:%d failed: %v", ev.TxHash.Hex(), ev.LogIndex, err)
	}
}

// saveCursor persists the watermark when it moved.
func (r *Reconciler) saveCursor() {
	r.cursorMu.Lock()
	defer r.cursorMu.Unlock()
	low := r.marks.low()
	if low == r.saved {
		return
	}

	if err := r.repos.LedgerEvent.SaveCursor(r.cfg.Name, low); err != nil {
		log.Errorf("[Reconciler] Saving cursor %d failed: %v", low, err)
		return
	}
	r.saved = low
	metrics.SetCursorBlock(low)
}

func (r *Reconciler) setLastError(err error) {
	r.lastErr.Store(err.Error())
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
