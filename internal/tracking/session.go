package tracking

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/veloserve/tracksync/internal/api"
	"github.com/veloserve/tracksync/internal/connection"
	"github.com/veloserve/tracksync/internal/model"
	"github.com/veloserve/tracksync/internal/poller"
	"github.com/veloserve/tracksync/internal/reconcile"
	"github.com/veloserve/tracksync/internal/route"
	"github.com/veloserve/tracksync/internal/router"
)

// ErrNotIdle is returned when Start is called on a session that already
// ran. Sessions are single-use; open a new one per tracking view.
var ErrNotIdle = errors.New("tracking: session already started")

// SessionState is the session lifecycle phase.
type SessionState string

const (
	StateIdle     SessionState = "idle"
	StateStarting SessionState = "starting"
	StateActive   SessionState = "active"
	StateStopped  SessionState = "stopped"
)

// SessionConfig holds per-session tuning.
type SessionConfig struct {
	PollInterval time.Duration
	PollTimeout  time.Duration

	// RouteProfile selects the directions profile, e.g. "driving".
	RouteProfile string

	// RecomputeEpsilonMeters gates route recomputation: the courier
	// must move at least this far from the last routed origin. Avoids
	// re-routing on GPS jitter.
	RecomputeEpsilonMeters float64
}

// DefaultSessionConfig returns sensible defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		PollInterval:           5 * time.Second,
		PollTimeout:            10 * time.Second,
		RouteProfile:           "driving",
		RecomputeEpsilonMeters: 25,
	}
}

// Session tracks one order end to end.
type Session struct {
	id      string
	orderID string
	cfg     SessionConfig

	manager *connection.Manager
	events  *router.Router
	engine  *reconcile.Engine
	routes  *route.Cache
	rest    *api.Client
	logger  *slog.Logger

	poller *poller.Poller

	mu      sync.Mutex
	state   SessionState
	cancel  context.CancelFunc
	unsubs  []func()
	routeWG sync.WaitGroup

	// lastRoutedFrom is the courier position the current route was
	// computed from; nil until the first route.
	lastRoutedFrom *model.GeoPoint
}

// NewSession creates an idle session for the order. The route cache is
// optional; without it no routes are computed.
func NewSession(orderID string, cfg SessionConfig, manager *connection.Manager, events *router.Router, engine *reconcile.Engine, routes *route.Cache, rest *api.Client, logger *slog.Logger) *Session {
	if cfg.RouteProfile == "" {
		cfg.RouteProfile = DefaultSessionConfig().RouteProfile
	}
	if cfg.RecomputeEpsilonMeters <= 0 {
		cfg.RecomputeEpsilonMeters = DefaultSessionConfig().RecomputeEpsilonMeters
	}
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.NewString()
	return &Session{
		id:      id,
		orderID: orderID,
		cfg:     cfg,
		manager: manager,
		events:  events,
		engine:  engine,
		routes:  routes,
		rest:    rest,
		logger:  logger.With("session_id", id, "order_id", orderID),
		state:   StateIdle,
	}
}

// ID returns the session's unique id, also used as its registration
// owner on the event router.
func (s *Session) ID() string { return s.id }

// OrderID returns the tracked order.
func (s *Session) OrderID() string { return s.orderID }

// State returns the current lifecycle phase.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start acquires the shared socket, registers the order's topics, and
// begins polling. The poller's immediate first fetch doubles as the
// initial order load. Only an idle session can start.
//
// The mutex is held for the whole setup so a concurrent Stop cannot
// interleave with registration; Stop observes either Idle or Active,
// never a half-built session.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle {
		return ErrNotIdle
	}
	s.state = StateStarting
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.manager.Acquire()

	s.events.On(router.TopicOrderUpdated, s.id, func(e router.Event) {
		ev, ok := e.(router.OrderUpdated)
		if !ok || ev.OrderID != s.orderID {
			return
		}
		s.engine.IngestOrder(ev.Order)
	})
	s.events.On(router.TopicStatusUpdated, s.id, func(e router.Event) {
		ev, ok := e.(router.StatusUpdated)
		if !ok || ev.OrderID != s.orderID {
			return
		}
		s.engine.IngestStatus(ev.OrderID, ev.Status)
	})
	s.events.On(router.TopicLocationUpdated, s.id, func(e router.Event) {
		ev, ok := e.(router.LocationUpdated)
		if !ok || ev.OrderID != s.orderID {
			return
		}
		up := ev.Update()
		if !s.engine.IngestLocation(up) {
			return
		}
		s.maybeRecomputeRoute(runCtx, up.Point())
	})

	s.poller = poller.New(
		poller.Config{Interval: s.cfg.PollInterval, Timeout: s.cfg.PollTimeout},
		s.orderID,
		s.rest.GetOrder,
		s.engine,
		s.logger,
	)
	s.poller.Start(runCtx)

	s.state = StateActive
	s.logger.Info("tracking session active")
	return nil
}

// OnChange registers a watcher for the order's reconciled state. The
// registration is owned by the session and removed at Stop.
func (s *Session) OnChange(cb func(model.ReconciledState)) {
	unsub := s.engine.OnChange(s.orderID, cb)
	s.mu.Lock()
	s.unsubs = append(s.unsubs, unsub)
	s.mu.Unlock()
}

// OnCompletion registers a watcher for the delivered-and-paid signal,
// removed at Stop.
func (s *Session) OnCompletion(cb func(model.OrderSnapshot)) {
	unsub := s.engine.OnCompletion(s.orderID, cb)
	s.mu.Lock()
	s.unsubs = append(s.unsubs, unsub)
	s.mu.Unlock()
}

// CurrentState returns the order's merged view.
func (s *Session) CurrentState() (model.ReconciledState, bool) {
	return s.engine.CurrentState(s.orderID)
}

// ConfirmCashPayment settles a cash-on-delivery order. The updated
// snapshot flows through the normal ingestion path, so a completion
// signal fires if delivery already happened.
func (s *Session) ConfirmCashPayment(ctx context.Context, transactionID string) error {
	snap, err := s.rest.ConfirmPayment(ctx, s.orderID, model.PaymentPaid, transactionID)
	if err != nil {
		return err
	}
	s.engine.IngestOrder(snap)
	return nil
}

// Stop tears the session down: unsubscribes its topics, stops polling,
// waits for the in-flight route fetch, and releases the shared socket.
// Safe to call from any state and safe to call repeatedly.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.state == StateStopped || s.state == StateIdle {
		s.state = StateStopped
		s.mu.Unlock()
		return
	}
	s.state = StateStopped
	cancel := s.cancel
	s.cancel = nil
	unsubs := s.unsubs
	s.unsubs = nil
	p := s.poller
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	s.events.OffOwner(s.id)
	if p != nil {
		p.Stop()
	}
	for _, unsub := range unsubs {
		unsub()
	}
	s.routeWG.Wait()

	s.manager.Release()

	s.logger.Info("tracking session stopped")
}

// maybeRecomputeRoute fetches a fresh route when the destination is
// known and the courier moved beyond the jitter epsilon since the last
// routed origin. The fetch runs off the dispatch path.
func (s *Session) maybeRecomputeRoute(ctx context.Context, origin model.GeoPoint) {
	if s.routes == nil {
		return
	}

	rs, ok := s.engine.CurrentState(s.orderID)
	if !ok || rs.Order.Destination == nil {
		return
	}
	dest := *rs.Order.Destination

	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return
	}
	if s.lastRoutedFrom != nil && origin.DistanceMeters(*s.lastRoutedFrom) < s.cfg.RecomputeEpsilonMeters {
		s.mu.Unlock()
		return
	}
	from := origin
	s.lastRoutedFrom = &from
	s.routeWG.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.routeWG.Done()

		snap, err := s.routes.GetRoute(ctx, origin, dest, s.cfg.RouteProfile)
		if err != nil {
			// Last-known route stays on screen; nothing to clear.
			s.logger.Warn("route recompute failed", "err", err)
			return
		}
		s.engine.SetRoute(s.orderID, &snap)
	}()
}
