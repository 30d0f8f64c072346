// Package viewer keeps a live view of one table for as long as a client
// watches it. Every change notification triggers a full reload; bursts of
// notifications collapse into one reload.
package viewer

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"jantaku-lite/apps/server/internal/ledger"
	"jantaku-lite/apps/server/internal/metrics"
	"jantaku-lite/apps/server/internal/notify"
	"jantaku-lite/mahjong"
	"jantaku-lite/scoresheet"
)

// Loader reads the four resources a view is built from. *store.DB
// satisfies it.
type Loader interface {
	Table(ctx context.Context, id uint64) (mahjong.Table, error)
	Seats(ctx context.Context, tableID uint64) ([]mahjong.Seat, error)
	Rounds(ctx context.Context, tableID uint64) ([]mahjong.RoundWithStats, error)
	Bonuses(ctx context.Context, tableID uint64) ([]mahjong.BonusOverride, error)
}

// View is a consistent-enough snapshot of a table: each resource is read
// once per reload, and the sheet is computed from those reads.
type View struct {
	Table    mahjong.Table            `json:"table"`
	Seats    []mahjong.Seat           `json:"seats"`
	Rounds   []mahjong.RoundWithStats `json:"rounds"`
	Bonuses  []mahjong.BonusOverride  `json:"bonuses"`
	Sheet    scoresheet.Sheet         `json:"sheet"`
	Rev      uint64                   `json:"rev"`
	LoadedAt time.Time                `json:"loaded_at"`
}

type Options struct {
	// LoadTimeout bounds one reload.
	LoadTimeout time.Duration
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

type Refresher struct {
	loader  Loader
	hub     notify.Hub
	metrics *metrics.Metrics
	logger  *slog.Logger
	timeout time.Duration
	flights singleflight.Group
	now     func() time.Time

	mu   sync.Mutex
	gens map[uint64]uint64 // table -> generation of the next flight
}

func NewRefresher(loader Loader, hub notify.Hub, opts Options) *Refresher {
	timeout := opts.LoadTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Refresher{
		loader:  loader,
		hub:     hub,
		metrics: opts.Metrics,
		logger:  logger,
		timeout: timeout,
		now:     time.Now,
		gens:    make(map[uint64]uint64),
	}
}

// Load reads the table's resources in parallel and computes its sheet.
// Concurrent loads of the same table share one round trip, but only while
// that round trip has not started reading: a caller never receives data
// read before it called Load.
func (r *Refresher) Load(ctx context.Context, tableID uint64) (View, error) {
	r.mu.Lock()
	gen := r.gens[tableID]
	key := strconv.FormatUint(tableID, 10) + ":" + strconv.FormatUint(gen, 10)
	ch := r.flights.DoChan(key, func() (any, error) {
		r.seal(tableID, gen)
		// the flight outlives whichever caller started it
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		return r.load(loadCtx, tableID)
	})
	r.mu.Unlock()

	select {
	case <-ctx.Done():
		return View{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			r.metrics.ViewReloaded("error")
			return View{}, res.Err
		}
		r.metrics.ViewReloaded("ok")
		return res.Val.(View), nil
	}
}

// seal closes generation gen to new callers. Later loads of the table start
// their own flight.
func (r *Refresher) seal(tableID, gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gens[tableID] == gen {
		r.gens[tableID] = gen + 1
	}
}

func (r *Refresher) load(ctx context.Context, tableID uint64) (View, error) {
	var v View
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		v.Table, err = r.loader.Table(gctx, tableID)
		return err
	})
	g.Go(func() error {
		var err error
		v.Seats, err = r.loader.Seats(gctx, tableID)
		return err
	})
	g.Go(func() error {
		var err error
		v.Rounds, err = r.loader.Rounds(gctx, tableID)
		return err
	})
	g.Go(func() error {
		var err error
		v.Bonuses, err = r.loader.Bonuses(gctx, tableID)
		return err
	})
	if err := g.Wait(); err != nil {
		return View{}, err
	}
	v.Sheet = scoresheet.Compute(ledger.Members(v.Seats), v.Rounds, ledger.Amounts(v.Bonuses))
	v.LoadedAt = r.now()
	return v, nil
}

// Open subscribes to the table and performs the first load. The session
// reloads until Close is called or the table disappears.
func (r *Refresher) Open(ctx context.Context, tableID uint64) (*Session, error) {
	sub, err := r.hub.Subscribe(ctx, tableID)
	if err != nil {
		return nil, err
	}
	first, err := r.Load(ctx, tableID)
	if err != nil {
		sub.Close()
		return nil, err
	}
	first.Rev = 1

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &Session{
		r:       r,
		tableID: tableID,
		sub:     sub,
		cancel:  cancel,
		updates: make(chan View, 1),
		done:    make(chan struct{}),
		current: first,
	}
	s.updates <- first
	go s.run(runCtx)
	r.logger.Debug("view_opened", "table_id", tableID)
	return s, nil
}

type Session struct {
	r       *Refresher
	tableID uint64
	sub     *notify.Subscription
	cancel  context.CancelFunc
	updates chan View
	done    chan struct{}
	once    sync.Once

	mu      sync.RWMutex
	current View
	err     error
}

func (s *Session) TableID() uint64 { return s.tableID }

// Updates delivers the newest view. A slow reader only ever sees the
// latest one. The channel is closed when the session ends.
func (s *Session) Updates() <-chan View { return s.updates }

func (s *Session) Current() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Err reports why the session ended on its own, nil after Close.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Close stops reloading and waits for the reload loop to exit.
func (s *Session) Close() {
	s.once.Do(func() {
		s.cancel()
		s.sub.Close()
	})
	<-s.done
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	defer close(s.updates)

	events := s.sub.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-events:
			if !ok {
				return
			}
		}
		drain(events)

		v, err := s.r.Load(ctx, s.tableID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, mahjong.ErrNotFound) {
				s.r.logger.Info("view_table_gone", "table_id", s.tableID)
				s.mu.Lock()
				s.err = err
				s.mu.Unlock()
				return
			}
			s.r.logger.Warn("view_reload_failed", "table_id", s.tableID, "err", err)
			continue
		}

		s.mu.Lock()
		v.Rev = s.current.Rev + 1
		s.current = v
		s.mu.Unlock()
		s.push(v)
	}
}

func (s *Session) push(v View) {
	select {
	case s.updates <- v:
		return
	default:
	}
	select {
	case <-s.updates:
	default:
	}
	s.updates <- v
}

// drain empties whatever queued up while the previous reload ran.
func drain(events <-chan notify.Event) {
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		default:
			return
		}
	}
}
