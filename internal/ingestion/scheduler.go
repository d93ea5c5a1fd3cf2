package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"portfolio-tracker/internal/catalog"
	"portfolio-tracker/internal/domain"
	"portfolio-tracker/internal/observability"
	"portfolio-tracker/internal/storage"
)

// Default scheduler configuration.
const (
	DefaultRequestInterval = 8 * time.Second
	DefaultPenaltyStep     = 10 * time.Minute
	DefaultFetchTimeout    = 15 * time.Second
)

// ErrAssetNotFound is returned by RefreshAsset for unknown assets.
var ErrAssetNotFound = errors.New("asset not found")

// RefreshResult describes one completed asset refresh.
type RefreshResult struct {
	AssetID  string
	From     int64 // exclusive window start (previous last_updated)
	To       int64 // inclusive window end (new last_updated)
	Fetched  int
	Rejected int
	Inserted int
}

// Status is a point-in-time view of the scheduler.
type Status struct {
	QueueSize       int       `json:"queue_size"`
	CatalogVersion  uint64    `json:"catalog_version"`
	LastRequestAt   time.Time `json:"last_request_at"`
	LastSuccessAt   time.Time `json:"last_success_at"`
	LastSuccessID   string    `json:"last_success_asset"`
	Refreshes       int64     `json:"refreshes"`
	Failures        int64     `json:"failures"`
	RequestInterval string    `json:"request_interval"`
}

// Scheduler keeps price histories fresh, one upstream request at a time.
//
// Each tick selects the stalest asset, waits until at least RequestInterval has
// passed since the previous upstream request (successful or not), then fetches
// the window (last_updated, now]. Success stores the samples and resets the
// asset's priority; an upstream failure lowers it and keeps last_updated.
type Scheduler struct {
	assets       storage.AssetStore
	prices       storage.PriceStore
	history      HistorySource
	catalog      *catalog.Catalog
	interval     time.Duration
	fetchTimeout time.Duration
	now          func() time.Time
	sleep        func(ctx context.Context, d time.Duration) error
	logger       zerolog.Logger

	// tickMu serialises ticks so the rate floor holds across Run and RefreshAsset.
	tickMu        sync.Mutex
	queue         *refreshQueue
	synced        bool
	syncedVersion uint64
	lastRequestAt time.Time

	statusMu sync.RWMutex
	status   Status
}

// SchedulerOptions contains configuration for creating a Scheduler.
type SchedulerOptions struct {
	Assets  storage.AssetStore
	Prices  storage.PriceStore
	History HistorySource
	Catalog *catalog.Catalog // optional; a new catalog version triggers a queue resync

	RequestInterval time.Duration // Default: 8s - minimum gap between upstream requests
	FetchTimeout    time.Duration // Default: 15s

	// PenaltyStep is the staleness credit per failed refresh. 0 gives the literal
	// stalest-first order; the binaries default to DefaultPenaltyStep.
	PenaltyStep time.Duration

	// Now and Sleep are replaced in tests.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error

	Logger *zerolog.Logger
}

// NewScheduler creates a new Scheduler.
func NewScheduler(opts SchedulerOptions) *Scheduler {
	interval := opts.RequestInterval
	if interval <= 0 {
		interval = DefaultRequestInterval
	}

	fetchTimeout := opts.FetchTimeout
	if fetchTimeout <= 0 {
		fetchTimeout = DefaultFetchTimeout
	}

	penalty := opts.PenaltyStep
	if penalty < 0 {
		penalty = 0
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	return &Scheduler{
		assets:       opts.Assets,
		prices:       opts.Prices,
		history:      opts.History,
		catalog:      opts.Catalog,
		interval:     interval,
		fetchTimeout: fetchTimeout,
		now:          now,
		sleep:        sleep,
		logger:       componentLogger(opts.Logger, "scheduler"),
		queue:        newRefreshQueue(int64(penalty / time.Second)),
		status:       Status{RequestInterval: interval.String()},
	}
}

// Run refreshes assets until ctx is cancelled. Errors of individual refreshes
// are logged and never stop the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info().
		Dur("request_interval", s.interval).
		Msg("Scheduler started")

	for {
		if err := ctx.Err(); err != nil {
			s.logger.Info().Msg("Scheduler stopping")
			return err
		}

		_, err := s.Tick(ctx)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			continue
		case errors.Is(err, errQueueEmpty):
			// Nothing to refresh until the catalog lists assets.
			_ = s.sleep(ctx, s.interval)
		default:
			kind := domain.KindOf(err)
			s.logger.Warn().
				Err(err).
				Str("kind", kind.String()).
				Msg("Refresh failed")
			// Storage failures are not throttled by the rate floor.
			if kind == domain.KindStorage {
				_ = s.sleep(ctx, s.interval)
			}
		}
	}
}

var errQueueEmpty = errors.New("refresh queue is empty")

// Tick performs one refresh of the most urgent asset.
func (s *Scheduler) Tick(ctx context.Context) (*RefreshResult, error) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	if err := s.syncIfStale(ctx); err != nil {
		return nil, err
	}

	st, ok := s.queue.Peek()
	if !ok {
		return nil, errQueueEmpty
	}
	return s.refresh(ctx, st)
}

// RefreshAsset refreshes one asset immediately, honouring the rate floor.
// Used for on-demand backfills.
func (s *Scheduler) RefreshAsset(ctx context.Context, assetID string) (*RefreshResult, error) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	if err := s.syncIfStale(ctx); err != nil {
		return nil, err
	}

	st, ok := s.queue.Get(assetID)
	if !ok {
		a, err := s.assets.GetByID(ctx, assetID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, fmt.Errorf("refresh %s: %w", assetID, ErrAssetNotFound)
			}
			return nil, storage.Wrap("get asset", err)
		}
		st = a.RefreshState()
		s.queue.Set(st)
	}
	return s.refresh(ctx, st)
}

// Sync reloads the queue from the asset store.
func (s *Scheduler) Sync(ctx context.Context) error {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()
	return s.sync(ctx)
}

// Status returns a snapshot of scheduler counters.
func (s *Scheduler) Status() Status {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.status
}

func (s *Scheduler) syncIfStale(ctx context.Context) error {
	if !s.synced || s.queue.Len() == 0 {
		return s.sync(ctx)
	}
	if s.catalog != nil && s.catalog.Snapshot().Version != s.syncedVersion {
		return s.sync(ctx)
	}
	return nil
}

func (s *Scheduler) sync(ctx context.Context) error {
	var version uint64
	if s.catalog != nil {
		version = s.catalog.Snapshot().Version
	}

	states, err := s.assets.GetRefreshStates(ctx)
	if err != nil {
		return storage.Wrap("load refresh states", err)
	}
	s.queue.Reset(states)

	if !s.synced {
		// Warm start: treat the newest stored refresh as the previous request.
		if newest := s.queue.MaxLastUpdated(); newest > 0 {
			s.lastRequestAt = time.Unix(newest, 0)
		}
		s.synced = true
	}
	s.syncedVersion = version

	observability.UpdateQueueSize(s.queue.Len())
	s.updateStatus(func(st *Status) {
		st.QueueSize = s.queue.Len()
		st.CatalogVersion = version
	})

	s.logger.Debug().
		Int("assets", s.queue.Len()).
		Uint64("catalog_version", version).
		Msg("Refresh queue synced")
	return nil
}

// waitRateFloor blocks until RequestInterval has passed since the last request.
func (s *Scheduler) waitRateFloor(ctx context.Context) error {
	if s.lastRequestAt.IsZero() {
		return nil
	}
	wait := s.interval - s.now().Sub(s.lastRequestAt)
	if wait <= 0 {
		return nil
	}
	return s.sleep(ctx, wait)
}

func (s *Scheduler) refresh(ctx context.Context, st domain.RefreshState) (*RefreshResult, error) {
	if err := s.waitRateFloor(ctx); err != nil {
		return nil, err
	}

	start := s.now()
	from := st.LastUpdated
	to := start.Unix()
	s.lastRequestAt = start

	logger := s.logger.With().
		Str("asset_id", st.AssetID).
		Int64("window_from", from).
		Int64("window_to", to).
		Logger()

	fetchCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	points, err := s.history.FetchPriceHistory(fetchCtx, st.AssetID, from, to)
	cancel()
	s.updateStatus(func(status *Status) { status.LastRequestAt = start })

	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, s.fail(ctx, logger, st, start, upstreamError(err, st.AssetID))
	}

	valid, rejected := filterWindow(points, st.AssetID, from, to)
	if len(valid) == 0 {
		err := domain.Errorf(domain.KindEmpty, "fetch history", "no usable samples in (%d, %d], %d rejected", from, to, rejected).WithAsset(st.AssetID)
		return nil, s.fail(ctx, logger, st, start, err)
	}

	inserted, err := s.prices.InsertBulk(ctx, valid)
	if err != nil {
		s.recordOutcome(domain.KindStorage.String(), 0, rejected, start)
		return nil, domain.NewError(domain.KindStorage, "insert prices", err).WithAsset(st.AssetID)
	}

	if err := s.assets.MarkRefreshed(ctx, st.AssetID, to); err != nil {
		s.recordOutcome(domain.KindStorage.String(), inserted, rejected, start)
		return nil, domain.NewError(domain.KindStorage, "mark refreshed", err).WithAsset(st.AssetID)
	}

	s.queue.Set(domain.RefreshState{AssetID: st.AssetID, LastUpdated: to, PriorityScore: 0})
	s.recordOutcome("success", inserted, rejected, start)
	observability.RecordRefreshSuccess(to)
	s.updateStatus(func(status *Status) {
		status.Refreshes++
		status.LastSuccessAt = start
		status.LastSuccessID = st.AssetID
	})

	logger.Info().
		Int("points", len(valid)).
		Int("inserted", inserted).
		Int("rejected", rejected).
		Msg("Asset refreshed")

	return &RefreshResult{
		AssetID:  st.AssetID,
		From:     from,
		To:       to,
		Fetched:  len(points),
		Rejected: rejected,
		Inserted: inserted,
	}, nil
}

// fail applies the upstream failure policy: lower the priority, keep last_updated.
func (s *Scheduler) fail(ctx context.Context, logger zerolog.Logger, st domain.RefreshState, start time.Time, cause *domain.Error) error {
	s.recordOutcome(cause.Kind.String(), 0, 0, start)
	s.updateStatus(func(status *Status) { status.Failures++ })

	score, err := s.assets.DecrementPriority(ctx, st.AssetID)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to lower priority")
		return cause
	}
	st.PriorityScore = score
	s.queue.Set(st)

	logger.Debug().
		Int("priority", score).
		Str("kind", cause.Kind.String()).
		Msg("Priority lowered")
	return cause
}

func (s *Scheduler) recordOutcome(outcome string, inserted, rejected int, start time.Time) {
	observability.RecordRefresh(outcome, inserted, rejected, s.now().Sub(start).Seconds())
}

func (s *Scheduler) updateStatus(fn func(*Status)) {
	s.statusMu.Lock()
	fn(&s.status)
	s.statusMu.Unlock()
}

// upstreamError tags err as an upstream failure. Untagged errors such as
// timeouts from the source are transient.
func upstreamError(err error, assetID string) *domain.Error {
	var e *domain.Error
	if errors.As(err, &e) && e.Kind.Upstream() {
		if e.AssetID == "" {
			return e.WithAsset(assetID)
		}
		return e
	}
	return domain.NewError(domain.KindTransient, "fetch history", err).WithAsset(assetID)
}

// filterWindow keeps valid samples of assetID with from < timestamp <= to,
// sorted by timestamp with duplicates removed.
func filterWindow(points []domain.PricePoint, assetID string, from, to int64) ([]*domain.PricePoint, int) {
	valid := make([]*domain.PricePoint, 0, len(points))
	seen := make(map[int64]struct{}, len(points))
	rejected := 0
	for i := range points {
		p := points[i]
		p.AssetID = assetID
		if !p.IsValid() || p.Timestamp <= from || p.Timestamp > to {
			rejected++
			continue
		}
		if _, dup := seen[p.Timestamp]; dup {
			rejected++
			continue
		}
		seen[p.Timestamp] = struct{}{}
		valid = append(valid, &p)
	}
	sort.Slice(valid, func(i, j int) bool {
		return valid[i].Timestamp < valid[j].Timestamp
	})
	return valid, rejected
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
