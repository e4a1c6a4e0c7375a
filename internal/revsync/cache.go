package revsync

import (
	"context"
	"errors"
	"log"
	"sort"
	"strconv"
	"sync"
	"time"

	"accesscontrol/internal/domain"
)

type State string

const (
	StateUninitialized State = "uninitialized"
	StateSyncing       State = "syncing"
	StateStopped       State = "stopped"
)

const (
	DefaultWindowSize        = 500
	DefaultReconcileInterval = 5 * time.Minute
	DefaultHealthThreshold   = 100
	defaultResubscribeMin    = 500 * time.Millisecond
	defaultResubscribeMax    = 30 * time.Second
)

type Options struct {
	// DeviceID limits the mirror to one device. Nil mirrors every device.
	DeviceID          *domain.DeviceID
	WindowSize        uint64
	ReconcileInterval time.Duration
	HealthThreshold   uint64
	ResubscribeMin    time.Duration
	ResubscribeMax    time.Duration
	Persister         Persister
}

// Status is a point-in-time view of the cache for operators.
type Status struct {
	State          State     `json:"state"`
	Checkpoint     uint64    `json:"checkpoint"`
	LatestKnown    uint64    `json:"latest_known"`
	Devices        int       `json:"devices"`
	Fingerprints   int       `json:"fingerprints"`
	Healthy        bool      `json:"healthy"`
	LastReconciled time.Time `json:"last_reconciled"`
	LastError      string    `json:"last_error,omitempty"`
}

// Cache mirrors the registry's revocation state from its event log. The
// real-time subscription and the reconciliation pass both write through mu;
// lookups only take the read lock.
type Cache struct {
	source Source
	opts   Options

	mu          sync.RWMutex
	state       State
	mirror      map[domain.DeviceID]map[domain.Hash]struct{}
	checkpoint  uint64
	ahead       map[uint64]struct{}
	latestKnown uint64
	lastErr     error
	lastRecon   time.Time

	// passMu serializes replay, reconciliation and forced resync.
	passMu sync.Mutex

	lifecycle sync.Mutex
	cancel    context.CancelFunc
	stopped   bool
	wg        sync.WaitGroup
}

func New(source Source, opts Options) *Cache {
	if opts.WindowSize == 0 {
		opts.WindowSize = DefaultWindowSize
	}
	if opts.ReconcileInterval <= 0 {
		opts.ReconcileInterval = DefaultReconcileInterval
	}
	if opts.HealthThreshold == 0 {
		opts.HealthThreshold = DefaultHealthThreshold
	}
	if opts.ResubscribeMin <= 0 {
		opts.ResubscribeMin = defaultResubscribeMin
	}
	if opts.ResubscribeMax < opts.ResubscribeMin {
		opts.ResubscribeMax = defaultResubscribeMax
		if opts.ResubscribeMax < opts.ResubscribeMin {
			opts.ResubscribeMax = opts.ResubscribeMin
		}
	}
	return &Cache{
		source: source,
		opts:   opts,
		state:  StateUninitialized,
		mirror: make(map[domain.DeviceID]map[domain.Hash]struct{}),
		ahead:  make(map[uint64]struct{}),
	}
}

// Initialize loads the persisted snapshot, if any, and replays revocations
// from its checkpoint up to the latest position.
func (c *Cache) Initialize(ctx context.Context) error {
	if c.isStopped() {
		return ErrStopped
	}
	c.passMu.Lock()
	defer c.passMu.Unlock()

	if c.opts.Persister != nil {
		snap, ok, err := c.opts.Persister.Load(ctx)
		if err != nil {
			return c.fail(&SyncError{Op: "load", Err: err})
		}
		switch {
		case !ok:
		case !snap.covers(c.opts.DeviceID):
			// A mirror filtered to another device is missing revocations
			// this cache needs, so its checkpoint cannot be trusted.
			log.Printf("revsync: discarding snapshot checkpoint=%d built for device %s", snap.LastCheckpoint, describeFilter(snap.DeviceID))
		default:
			c.restore(snap)
			log.Printf("revsync: restored snapshot checkpoint=%d devices=%d", snap.LastCheckpoint, len(snap.Mirror))
		}
	}
	if err := c.replay(ctx, "initialize"); err != nil {
		return err
	}
	c.mu.Lock()
	if c.state == StateUninitialized {
		c.state = StateSyncing
	}
	checkpoint := c.checkpoint
	c.mu.Unlock()
	log.Printf("revsync: initialized checkpoint=%d", checkpoint)
	return nil
}

// Start runs the real-time subscription and the periodic reconciliation
// until Stop is called or ctx is done.
func (c *Cache) Start(ctx context.Context) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	if c.stopped {
		return ErrStopped
	}
	if c.cancel != nil {
		return ErrAlreadyStarted
	}
	if c.State() != StateSyncing {
		return ErrNotInitialized
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.wg.Add(2)
	go c.subscribeLoop(runCtx)
	go c.reconcileLoop(runCtx)
	return nil
}

// Stop cancels background work, waits for it, and flushes the mirror. The
// flush is skipped when the cache never finished initializing. Calling Stop
// more than once is a no-op.
func (c *Cache) Stop(ctx context.Context) error {
	c.lifecycle.Lock()
	if c.stopped {
		c.lifecycle.Unlock()
		return nil
	}
	c.stopped = true
	cancel := c.cancel
	c.lifecycle.Unlock()

	if cancel != nil {
		cancel()
	}
	c.wg.Wait()

	c.mu.Lock()
	initialized := c.state != StateUninitialized
	c.state = StateStopped
	snap := c.snapshotLocked()
	c.mu.Unlock()

	if !initialized || c.opts.Persister == nil {
		return nil
	}
	if err := c.opts.Persister.Save(ctx, snap); err != nil {
		return &SyncError{Op: "flush", To: snap.LastCheckpoint, Err: err}
	}
	log.Printf("revsync: flushed checkpoint=%d", snap.LastCheckpoint)
	return nil
}

// Reconcile re-reads the event log from the checkpoint to the latest
// position in bounded windows. A failed window stops the pass and is
// returned; earlier windows stay applied.
func (c *Cache) Reconcile(ctx context.Context) error {
	if c.State() == StateUninitialized {
		return ErrNotInitialized
	}
	c.passMu.Lock()
	defer c.passMu.Unlock()
	if err := c.replay(ctx, "reconcile"); err != nil {
		return err
	}
	c.mu.Lock()
	c.lastRecon = time.Now().UTC()
	c.mu.Unlock()
	return nil
}

// ForceResync discards the mirror, resets the checkpoint to genesis and
// replays the whole log.
func (c *Cache) ForceResync(ctx context.Context) error {
	if c.isStopped() {
		return ErrStopped
	}
	c.passMu.Lock()
	defer c.passMu.Unlock()

	c.mu.Lock()
	c.mirror = make(map[domain.DeviceID]map[domain.Hash]struct{})
	c.ahead = make(map[uint64]struct{})
	c.checkpoint = 0
	c.mu.Unlock()
	log.Printf("revsync: forced resync from genesis")

	if err := c.replay(ctx, "resync"); err != nil {
		return err
	}
	c.mu.Lock()
	if c.state == StateUninitialized {
		c.state = StateSyncing
	}
	c.lastRecon = time.Now().UTC()
	c.mu.Unlock()
	return nil
}

func (c *Cache) IsRevoked(id domain.DeviceID, fingerprint domain.Hash) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.mirror[id][fingerprint]
	return ok
}

func (c *Cache) RevokedCount(id domain.DeviceID) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.mirror[id])
}

// Fingerprints returns the revoked fingerprints of id in byte order.
func (c *Cache) Fingerprints(id domain.DeviceID) []domain.Hash {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return sortedHashes(c.mirror[id])
}

func (c *Cache) Healthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.healthyLocked()
}

func (c *Cache) Checkpoint() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.checkpoint
}

func (c *Cache) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Cache) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	total := 0
	for _, set := range c.mirror {
		total += len(set)
	}
	st := Status{
		State:          c.state,
		Checkpoint:     c.checkpoint,
		LatestKnown:    c.latestKnown,
		Devices:        len(c.mirror),
		Fingerprints:   total,
		Healthy:        c.healthyLocked(),
		LastReconciled: c.lastRecon,
	}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	return st
}

// Snapshot returns the durable form of the current mirror.
func (c *Cache) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotLocked()
}

func (c *Cache) healthyLocked() bool {
	if c.state != StateSyncing {
		return false
	}
	if c.latestKnown <= c.checkpoint {
		return true
	}
	return c.latestKnown-c.checkpoint < c.opts.HealthThreshold
}

// replay applies every revocation in (checkpoint, latest] window by window.
// Callers hold passMu.
func (c *Cache) replay(ctx context.Context, op string) error {
	latest, err := c.source.CurrentPosition(ctx)
	if err != nil {
		return c.fail(&SyncError{Op: op, From: c.Checkpoint(), Err: err})
	}
	c.observe(latest)

	from := c.Checkpoint()
	for from < latest {
		to := from + c.opts.WindowSize
		if to > latest {
			to = latest
		}
		batch, err := c.source.Query(ctx, domain.NotificationFilter{
			Types:    []domain.NotificationType{domain.NotificationCredentialRevoked},
			DeviceID: c.opts.DeviceID,
			From:     from + 1,
			To:       to,
		})
		if err != nil {
			return c.fail(&SyncError{Op: op, From: from, To: to, Err: err})
		}
		for _, n := range batch {
			if err := validate(n); err != nil {
				return c.fail(&SyncError{Op: op, From: from, To: to, Err: err})
			}
			if n.Position <= from || n.Position > to {
				return c.fail(&SyncError{Op: op, From: from, To: to, Err: ErrMalformedNotification})
			}
		}

		c.mu.Lock()
		for _, n := range batch {
			c.insertLocked(n.DeviceID, n.Fingerprint)
		}
		if to > c.checkpoint {
			c.checkpoint = to
		}
		c.advanceLocked()
		c.lastErr = nil
		c.mu.Unlock()
		from = to
	}
	return nil
}

// apply handles one notification from the real-time path. The checkpoint
// only moves across contiguous positions; anything beyond a gap is held in
// ahead until reconciliation fills the gap.
func (c *Cache) apply(n domain.Notification) error {
	if err := validate(n); err != nil {
		c.mu.Lock()
		c.lastErr = err
		c.mu.Unlock()
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if n.Position > c.latestKnown {
		c.latestKnown = n.Position
	}
	if n.Type == domain.NotificationCredentialRevoked && c.wants(n.DeviceID) {
		c.insertLocked(n.DeviceID, n.Fingerprint)
	}
	if n.Position <= c.checkpoint {
		return nil
	}
	c.ahead[n.Position] = struct{}{}
	c.advanceLocked()
	return nil
}

func (c *Cache) advanceLocked() {
	for {
		next := c.checkpoint + 1
		if _, ok := c.ahead[next]; !ok {
			break
		}
		delete(c.ahead, next)
		c.checkpoint = next
	}
	for pos := range c.ahead {
		if pos <= c.checkpoint {
			delete(c.ahead, pos)
		}
	}
}

func (c *Cache) insertLocked(id domain.DeviceID, fp domain.Hash) {
	set, ok := c.mirror[id]
	if !ok {
		set = make(map[domain.Hash]struct{})
		c.mirror[id] = set
	}
	set[fp] = struct{}{}
}

func (c *Cache) wants(id domain.DeviceID) bool {
	return c.opts.DeviceID == nil || *c.opts.DeviceID == id
}

func (c *Cache) observe(latest uint64) {
	c.mu.Lock()
	if latest > c.latestKnown {
		c.latestKnown = latest
	}
	c.mu.Unlock()
}

func (c *Cache) fail(err error) error {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
	log.Printf("revsync: %v", err)
	return err
}

func (c *Cache) restore(snap Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mirror = make(map[domain.DeviceID]map[domain.Hash]struct{}, len(snap.Mirror))
	for id, fps := range snap.Mirror {
		if !c.wants(id) {
			continue
		}
		for _, fp := range fps {
			c.insertLocked(id, fp)
		}
	}
	c.checkpoint = snap.LastCheckpoint
	c.ahead = make(map[uint64]struct{})
	if c.checkpoint > c.latestKnown {
		c.latestKnown = c.checkpoint
	}
}

func (c *Cache) snapshotLocked() Snapshot {
	out := Snapshot{
		DeviceID:       c.opts.DeviceID,
		Mirror:         make(map[domain.DeviceID][]domain.Hash, len(c.mirror)),
		LastCheckpoint: c.checkpoint,
	}
	for id, set := range c.mirror {
		out.Mirror[id] = sortedHashes(set)
	}
	return out
}

func describeFilter(id *domain.DeviceID) string {
	if id == nil {
		return "all"
	}
	return strconv.FormatUint(uint64(*id), 10)
}

func (c *Cache) isStopped() bool {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	return c.stopped
}

func (c *Cache) subscribeLoop(ctx context.Context) {
	defer c.wg.Done()
	backoff := c.opts.ResubscribeMin
	for {
		if ctx.Err() != nil {
			return
		}
		ch, err := c.source.Subscribe(ctx, domain.NotificationFilter{})
		if err != nil {
			c.fail(&SyncError{Op: "subscribe", From: c.Checkpoint(), Err: err})
			if !sleep(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff, c.opts.ResubscribeMax)
			continue
		}
		backoff = c.opts.ResubscribeMin
		log.Printf("revsync: subscribed checkpoint=%d", c.Checkpoint())

		// Anything committed between the last pass and the subscription
		// start is only reachable through the log.
		if err := c.Reconcile(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("revsync: catch-up after subscribe failed: %v", err)
		}

		c.consume(ctx, ch)
		if ctx.Err() != nil {
			return
		}
		log.Printf("revsync: subscription closed, resubscribing in %s", backoff)
		if !sleep(ctx, backoff) {
			return
		}
		backoff = nextBackoff(backoff, c.opts.ResubscribeMax)
	}
}

func (c *Cache) consume(ctx context.Context, ch <-chan domain.Notification) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-ch:
			if !ok {
				return
			}
			if err := c.apply(n); err != nil {
				log.Printf("revsync: dropped notification position=%d: %v", n.Position, err)
			}
		}
	}
}

func (c *Cache) reconcileLoop(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.opts.ReconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Reconcile(ctx); err != nil && ctx.Err() == nil {
				log.Printf("revsync: reconcile failed: %v", err)
			}
		}
	}
}

func validate(n domain.Notification) error {
	if n.Position == 0 || !n.Type.Valid() {
		return ErrMalformedNotification
	}
	if n.Type == domain.NotificationCredentialRevoked {
		if n.DeviceID == 0 || domain.IsZeroHash(n.Fingerprint) {
			return ErrMalformedNotification
		}
	}
	return nil
}

func sortedHashes(set map[domain.Hash]struct{}) []domain.Hash {
	out := make([]domain.Hash, 0, len(set))
	for fp := range set {
		out = append(out, fp)
	}
	sort.Slice(out, func(i, j int) bool {
		return string(out[i][:]) < string(out[j][:])
	})
	return out
}

func nextBackoff(current, limit time.Duration) time.Duration {
	next := current * 2
	if next > limit {
		return limit
	}
	return next
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
