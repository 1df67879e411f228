package tracking

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/veloserve/tracksync/internal/api"
	"github.com/veloserve/tracksync/internal/connection"
	"github.com/veloserve/tracksync/internal/model"
	"github.com/veloserve/tracksync/internal/reconcile"
	"github.com/veloserve/tracksync/internal/route"
	"github.com/veloserve/tracksync/internal/router"
)

func fastSessionConfig() SessionConfig {
	cfg := DefaultSessionConfig()
	cfg.PollInterval = 10 * time.Millisecond
	cfg.PollTimeout = time.Second
	return cfg
}

// orderServer serves GET and PATCH for a single order. The handler
// reads the current order from the holder on every request.
func orderServer(t *testing.T, order *atomic.Pointer[map[string]any]) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		o := *order.Load()

		if r.Method == http.MethodPatch {
			var body struct {
				PaymentStatus string `json:"payment_status"`
				TransactionID string `json:"transaction_id"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("bad payment body: %v", err)
			}
			if body.TransactionID == "" {
				t.Error("payment PATCH without transaction id")
			}
			// Copy on write: concurrent GETs read the old map.
			updated := make(map[string]any, len(o)+1)
			for k, v := range o {
				updated[k] = v
			}
			updated["payment_status"] = body.PaymentStatus
			order.Store(&updated)
			o = updated
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"order": o})
	}))
}

func baseOrder(orderID string) map[string]any {
	return map[string]any{
		"order_id":       orderID,
		"status":         "on_way",
		"payment_status": "unpaid",
		"destination":    map[string]float64{"lat": 28.62, "lng": 77.215},
		"total":          1500,
	}
}

func newTestDeps(serverURL string) (*connection.Manager, *router.Router, *reconcile.Engine, *api.Client) {
	events := router.New(nil)
	manager := connection.NewManager(connection.DefaultManagerConfig(), events, nil)
	engine := reconcile.NewEngine(nil)
	rest := api.NewClient(serverURL, "test-token", api.WithRetries(0, time.Millisecond))
	return manager, events, engine, rest
}

func TestSession_Lifecycle(t *testing.T) {
	order := &atomic.Pointer[map[string]any]{}
	o := baseOrder("ORD-1")
	order.Store(&o)
	server := orderServer(t, order)
	defer server.Close()

	manager, events, engine, rest := newTestDeps(server.URL)
	s := NewSession("ORD-1", fastSessionConfig(), manager, events, engine, nil, rest, nil)

	if s.State() != StateIdle {
		t.Fatalf("initial state = %q, want idle", s.State())
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if s.State() != StateActive {
		t.Errorf("state after Start = %q, want active", s.State())
	}

	if err := s.Start(context.Background()); err != ErrNotIdle {
		t.Errorf("second Start = %v, want ErrNotIdle", err)
	}

	s.Stop()
	if s.State() != StateStopped {
		t.Errorf("state after Stop = %q, want stopped", s.State())
	}
	s.Stop() // repeat must be safe

	if err := s.Start(context.Background()); err != ErrNotIdle {
		t.Errorf("Start after Stop = %v, want ErrNotIdle (sessions are single-use)", err)
	}
}

func TestSession_PollingPopulatesState(t *testing.T) {
	order := &atomic.Pointer[map[string]any]{}
	o := baseOrder("ORD-2")
	order.Store(&o)
	server := orderServer(t, order)
	defer server.Close()

	manager, events, engine, rest := newTestDeps(server.URL)
	s := NewSession("ORD-2", fastSessionConfig(), manager, events, engine, nil, rest, nil)

	got := make(chan model.ReconciledState, 16)
	s.OnChange(func(rs model.ReconciledState) {
		select {
		case got <- rs:
		default:
		}
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Stop()

	select {
	case rs := <-got:
		if rs.Order.OrderID != "ORD-2" || rs.Order.Status != model.StatusOnWay {
			t.Errorf("reconciled order = %+v", rs.Order)
		}
		if rs.Order.Destination == nil {
			t.Error("destination lost in transit")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("polling never produced a reconciled state")
	}
}

func TestSession_StopRemovesOnlyOwnRegistrations(t *testing.T) {
	order := &atomic.Pointer[map[string]any]{}
	o := baseOrder("ORD-A")
	order.Store(&o)
	server := orderServer(t, order)
	defer server.Close()

	manager, events, engine, rest := newTestDeps(server.URL)

	a := NewSession("ORD-A", fastSessionConfig(), manager, events, engine, nil, rest, nil)
	b := NewSession("ORD-B", fastSessionConfig(), manager, events, engine, nil, rest, nil)

	if err := a.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := b.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	if n := events.HandlerCount(router.TopicLocationUpdated); n != 2 {
		t.Fatalf("handler count = %d, want 2", n)
	}

	a.Stop()

	if n := events.HandlerCount(router.TopicLocationUpdated); n != 1 {
		t.Errorf("handler count after one teardown = %d, want 1 (other session keeps its topics)", n)
	}
	if manager.Sessions() != 1 {
		t.Errorf("socket refs = %d, want 1", manager.Sessions())
	}

	b.Stop()
	if manager.Sessions() != 0 {
		t.Errorf("socket refs after last stop = %d, want 0", manager.Sessions())
	}
}

func TestSession_ConcurrentStartStopTearsDownCleanly(t *testing.T) {
	order := &atomic.Pointer[map[string]any]{}
	o := baseOrder("ORD-5")
	order.Store(&o)
	server := orderServer(t, order)
	defer server.Close()

	manager, events, engine, rest := newTestDeps(server.URL)
	s := NewSession("ORD-5", fastSessionConfig(), manager, events, engine, nil, rest, nil)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.Start(context.Background())
	}()
	go func() {
		defer wg.Done()
		s.Stop()
	}()
	wg.Wait()

	// Whichever call won the race, a final Stop must leave nothing
	// registered on the shared router or the socket refcount.
	s.Stop()

	if s.State() != StateStopped {
		t.Errorf("state = %q, want stopped", s.State())
	}
	if n := events.HandlerCount(router.TopicLocationUpdated); n != 0 {
		t.Errorf("leaked %d location handler registrations", n)
	}
	if n := events.HandlerCount(router.TopicOrderUpdated); n != 0 {
		t.Errorf("leaked %d order handler registrations", n)
	}
	if n := manager.Sessions(); n != 0 {
		t.Errorf("socket refs = %d, want 0", n)
	}
}

func TestSession_RouteRecomputeGatedByEpsilon(t *testing.T) {
	order := &atomic.Pointer[map[string]any]{}
	o := baseOrder("ORD-3")
	order.Store(&o)
	server := orderServer(t, order)
	defer server.Close()

	manager, events, engine, rest := newTestDeps(server.URL)

	var providerCalls atomic.Int64
	provider := route.ProviderFunc(func(ctx context.Context, origin, dest model.GeoPoint, profile string) (model.RouteSnapshot, error) {
		providerCalls.Add(1)
		return model.RouteSnapshot{
			Geometry:       []model.GeoPoint{origin, dest},
			DistanceMeters: 900,
		}, nil
	})
	// Zero TTL is replaced by the default, so use a tiny one: every
	// recompute past the epsilon gate must reach the provider.
	routes := route.NewCache(route.CacheConfig{TTL: time.Nanosecond, Timeout: time.Second}, provider, nil)

	cfg := fastSessionConfig()
	cfg.PollInterval = time.Hour // only the immediate fetch; locations drive this test
	cfg.RecomputeEpsilonMeters = 25

	s := NewSession("ORD-3", cfg, manager, events, engine, routes, rest, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	// Wait for the initial fetch so the destination is known.
	deadline := time.After(2 * time.Second)
	for {
		if _, ok := s.CurrentState(); ok {
			break
		}
		select {
		case <-deadline:
			t.Fatal("initial fetch never landed")
		case <-time.After(5 * time.Millisecond):
		}
	}

	dispatch := func(lat, lng float64, at time.Time) {
		events.Dispatch(router.LocationUpdated{
			OrderID:    "ORD-3",
			WorkerID:   "worker-9",
			Latitude:   lat,
			Longitude:  lng,
			ReceivedAt: at,
		})
	}

	base := time.Now()
	dispatch(28.6000, 77.2000, base) // first location: routes
	waitCalls := func(want int64) {
		t.Helper()
		deadline := time.After(2 * time.Second)
		for providerCalls.Load() < want {
			select {
			case <-deadline:
				t.Fatalf("provider calls = %d, want %d", providerCalls.Load(), want)
			case <-time.After(5 * time.Millisecond):
			}
		}
	}
	waitCalls(1)

	// ~2m of jitter: inside the epsilon, no recompute.
	dispatch(28.60002, 77.2000, base.Add(time.Second))
	time.Sleep(50 * time.Millisecond)
	if n := providerCalls.Load(); n != 1 {
		t.Fatalf("provider calls after jitter = %d, want 1", n)
	}

	// ~110m of movement: beyond the epsilon, recompute.
	dispatch(28.6010, 77.2000, base.Add(2*time.Second))
	waitCalls(2)

	rs, _ := s.CurrentState()
	if rs.Route == nil {
		t.Fatal("no route attached to reconciled state")
	}
	if rs.Route.DistanceMeters != 900 {
		t.Errorf("route distance = %v, want 900", rs.Route.DistanceMeters)
	}
}

func TestSession_CashPaymentCompletesDeliveredOrder(t *testing.T) {
	order := &atomic.Pointer[map[string]any]{}
	o := baseOrder("ORD-4")
	o["status"] = "delivered"
	order.Store(&o)
	server := orderServer(t, order)
	defer server.Close()

	manager, events, engine, rest := newTestDeps(server.URL)
	s := NewSession("ORD-4", fastSessionConfig(), manager, events, engine, nil, rest, nil)

	completions := make(chan model.OrderSnapshot, 1)
	s.OnCompletion(func(snap model.OrderSnapshot) { completions <- snap })

	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	// Delivered but unpaid: no completion yet.
	select {
	case <-completions:
		t.Fatal("completion fired before payment settled")
	case <-time.After(50 * time.Millisecond):
	}

	if err := s.ConfirmCashPayment(context.Background(), fmt.Sprintf("txn-%d", time.Now().UnixNano())); err != nil {
		t.Fatalf("ConfirmCashPayment failed: %v", err)
	}

	select {
	case snap := <-completions:
		if !snap.Completed() {
			t.Errorf("completion snapshot = %+v, want delivered and paid", snap)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("completion never fired after payment confirmation")
	}
}
