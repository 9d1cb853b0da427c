// Package stats periodically computes aggregate room/user counts and a
// popular-rooms list and publishes them to every connected client.
package stats

import (
	"context"
	"sort"
	"time"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/types"
	"golang.org/x/sync/singleflight"

	"github.com/example/watch-party-demo/domain/party"
	"github.com/example/watch-party-demo/events"
	"github.com/example/watch-party-demo/modules/rooms"
)

const (
	// DefaultInterval is the broadcast cadence.
	DefaultInterval = 30 * time.Second

	// popularRoomLimit is the size of the discovery list.
	popularRoomLimit = 5

	// minRoomAge protects young rooms (and seats held open by reconnect
	// grace timers) from the dead-connection reaper.
	minRoomAge = time.Minute
)

// Liveness answers whether a connection handle is still attached. The
// broadcast hub implements it.
type Liveness interface {
	IsConnected(connID string) bool
}

// Module implements the stats broadcaster.
type Module struct {
	registry   *rooms.Registry
	interval   time.Duration
	liveness   Liveness
	eventBus   mono.EventBus
	logger     types.Logger
	sfGroup    singleflight.Group // collapses concurrent on-demand snapshots
	cancelTick context.CancelFunc
}

// Compile-time interface checks.
var (
	_ mono.Module              = (*Module)(nil)
	_ mono.EventBusAwareModule = (*Module)(nil)
	_ mono.EventEmitterModule  = (*Module)(nil)
)

// NewModule creates the stats module.
func NewModule(registry *rooms.Registry, interval time.Duration, logger types.Logger) *Module {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Module{
		registry: registry,
		interval: interval,
		logger:   logger,
	}
}

// Name returns the module name.
func (m *Module) Name() string {
	return "stats"
}

// SetEventBus receives the EventBus from the framework.
func (m *Module) SetEventBus(bus mono.EventBus) {
	m.eventBus = bus
}

// SetLiveness injects the connection liveness probe. Wired manually from
// main because the hub is not exposed via ServiceContainer.
func (m *Module) SetLiveness(l Liveness) {
	m.liveness = l
}

// EmitEvents declares the events this module can emit.
func (m *Module) EmitEvents() []mono.BaseEventDefinition {
	return []mono.BaseEventDefinition{
		events.StatsUpdatedV1.ToBase(),
	}
}

// Start launches the tick loop.
func (m *Module) Start(_ context.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancelTick = cancel
	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.Tick()
			case <-ctx.Done():
				return
			}
		}
	}()
	m.logger.Info("Stats module started", "interval", m.interval.String())
	return nil
}

// Stop gracefully shuts down the module.
func (m *Module) Stop(_ context.Context) error {
	if m.cancelTick != nil {
		m.cancelTick()
	}
	m.logger.Info("Stats module stopped")
	return nil
}

// Tick reaps dead rooms, recomputes the aggregates and publishes them to
// all connected clients.
func (m *Module) Tick() {
	m.reap()

	snap := m.Snapshot()
	ev := events.StatsUpdatedEvent{Stats: snap}
	if m.eventBus != nil {
		if err := events.StatsUpdatedV1.Publish(m.eventBus, ev, nil); err != nil {
			m.logger.Warn("Failed to publish StatsUpdated event", "error", err)
		}
	}
	m.logger.Debug("Stats broadcast",
		"activeRooms", snap.ActiveRooms, "activeUsers", snap.ActiveUsers)
}

// Snapshot computes the current aggregates. Concurrent callers share one
// computation. Password-protected rooms are excluded from discovery.
func (m *Module) Snapshot() party.StatsSnapshot {
	v, _, _ := m.sfGroup.Do("snapshot", func() (any, error) {
		return m.compute(), nil
	})
	return v.(party.StatsSnapshot)
}

func (m *Module) compute() party.StatsSnapshot {
	snap := party.StatsSnapshot{
		PopularRooms: []party.RoomSummary{},
		Timestamp:    time.Now(),
	}

	var public []party.RoomSummary
	for _, rm := range m.registry.ListActive() {
		summary := rm.Summary()
		if summary.UserCount == 0 {
			continue
		}
		snap.ActiveRooms++
		snap.ActiveUsers += summary.UserCount
		if !rm.HasPassword() {
			public = append(public, summary)
		}
	}

	sort.Slice(public, func(i, j int) bool {
		if public[i].UserCount != public[j].UserCount {
			return public[i].UserCount > public[j].UserCount
		}
		return public[i].ID < public[j].ID
	})
	if len(public) > popularRoomLimit {
		public = public[:popularRoomLimit]
	}
	snap.PopularRooms = append(snap.PopularRooms, public...)
	return snap
}

// reap deletes rooms that are empty, or old enough that every recorded
// connection handle has gone dead. The scan takes each room's lock only
// for the duration of that one room's inspection.
func (m *Module) reap() {
	for _, rm := range m.registry.ListActive() {
		if rm.UserCount() == 0 {
			if err := m.registry.Delete(rm.ID()); err == nil {
				m.logger.Info("Reaped empty room", "roomID", rm.ID())
			}
			continue
		}

		if m.liveness == nil || time.Since(rm.CreatedAt()) < minRoomAge {
			continue
		}

		alive := false
		for _, connID := range rm.LiveConnectionIDs() {
			if m.liveness.IsConnected(connID) {
				alive = true
				break
			}
		}
		if !alive {
			rm.Clear()
			if err := m.registry.Delete(rm.ID()); err == nil {
				m.logger.Info("Reaped dead room", "roomID", rm.ID())
			}
		}
	}
}
