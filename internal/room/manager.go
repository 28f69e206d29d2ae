package room

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/weiawesome/wes-io-live/collab-service/internal/audit"
	"github.com/weiawesome/wes-io-live/collab-service/internal/domain"
	"github.com/weiawesome/wes-io-live/collab-service/internal/registry"
	"github.com/weiawesome/wes-io-live/collab-service/pkg/log"
)

// ErrManagerStopped is returned for events submitted after Stop.
var ErrManagerStopped = errors.New("room manager stopped")

const (
	DefaultIdleTimeout   = 60 * time.Second
	DefaultSweepInterval = 15 * time.Second
	DefaultMailboxSize   = 256

	claimTimeout = 5 * time.Second
)

// Config controls actor lifetime.
type Config struct {
	IdleTimeout   time.Duration `mapstructure:"idle_timeout"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	MailboxSize   int           `mapstructure:"mailbox_size"`
}

// Host owns the live connections of every room. Connections attached to a
// room key stay attached while the room's actor hibernates.
type Host interface {
	Connections(key string) []Conn
}

// Stats is a point-in-time view of a manager.
type Stats struct {
	Kind        string `json:"kind"`
	ActiveRooms int    `json:"active_rooms"`
	Hibernated  int64  `json:"hibernated_total"`
}

// ManagerOption customises a Manager.
type ManagerOption func(*Manager)

// WithManagerClock replaces the time source used for idleness.
func WithManagerClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// Manager supervises the actors of one room kind. It keeps at most one live
// actor per room id, creates actors on demand, and hibernates idle ones.
//
// m.mu only guards the actor map. Mailbox sends and registry calls happen
// outside it, so a room with a full mailbox or a slow claim never holds up
// other rooms. A sender counts itself in the actor's pending total before
// dropping the lock, and the sweep only evicts actors with nothing pending.
type Manager struct {
	kind     string
	cfg      Config
	factory  Factory
	host     Host
	registry registry.Registry
	now      func() time.Time

	mu         sync.RWMutex
	actors     map[string]*Actor
	releasing  map[string]chan struct{}
	stopped    bool
	hibernated int64

	starts   singleflight.Group
	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewManager(kind string, cfg Config, factory Factory, host Host, reg registry.Registry, opts ...ManagerOption) *Manager {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = DefaultMailboxSize
	}

	m := &Manager{
		kind:      kind,
		cfg:       cfg,
		factory:   factory,
		host:      host,
		registry:  reg,
		now:       time.Now,
		actors:    make(map[string]*Actor),
		releasing: make(map[string]chan struct{}),
		stopCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	reg.OnLost(kind, m.evictLost)
	return m
}

// Key returns the connection manager key for a room of kind.
func Key(kind, roomID string) string {
	return kind + ":" + roomID
}

func (m *Manager) Kind() string { return m.kind }

// Key returns the connection manager key for roomID.
func (m *Manager) Key(roomID string) string { return Key(m.kind, roomID) }

// Start runs the hibernation sweep until Stop is called.
func (m *Manager) Start() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.Sweep()
			}
		}
	}()
}

// Ensure makes sure a live actor exists for roomID, claiming ownership if
// it has to create one. It returns registry.ErrOwnedElsewhere when another
// instance holds the room.
func (m *Manager) Ensure(ctx context.Context, roomID string) error {
	return m.create(ctx, roomID)
}

// Join admits conn to the room.
func (m *Manager) Join(ctx context.Context, roomID string, conn Conn) error {
	return m.enqueue(ctx, roomID, event{kind: eventJoin, conn: conn})
}

// Deliver hands a raw inbound frame from conn to the room.
func (m *Manager) Deliver(roomID string, conn Conn, data []byte) error {
	return m.enqueue(context.Background(), roomID, event{kind: eventFrame, conn: conn, data: data})
}

// Leave removes conn from the room. The connection should already be
// detached from the Host.
func (m *Manager) Leave(roomID string, conn Conn) error {
	return m.enqueue(context.Background(), roomID, event{kind: eventLeave, conn: conn})
}

// Recent serves the read path through the room's actor.
func (m *Manager) Recent(ctx context.Context, roomID string, limit int) ([]domain.Message, error) {
	reply := make(chan readResult, 1)
	if err := m.enqueue(ctx, roomID, event{kind: eventRead, ctx: ctx, limit: limit, reply: reply}); err != nil {
		return nil, err
	}
	select {
	case res := <-reply:
		return res.messages, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Manager) enqueue(ctx context.Context, roomID string, ev event) error {
	for {
		a, err := m.acquire(roomID)
		if err != nil {
			return err
		}
		if a == nil {
			if err := m.create(ctx, roomID); err != nil {
				return err
			}
			continue
		}

		select {
		case a.mailbox <- ev:
			return nil
		case <-a.quit:
			// Evicted while we waited for room in the mailbox; retry
			// against whatever serves the room now.
			a.backOut()
		case <-ctx.Done():
			a.backOut()
			return ctx.Err()
		}
	}
}

// acquire returns the live actor for roomID with one pending event counted
// against it, or nil when none is live.
func (m *Manager) acquire(roomID string) (*Actor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.stopped {
		return nil, ErrManagerStopped
	}
	a, ok := m.actors[roomID]
	if !ok {
		return nil, nil
	}
	a.pending.Add(1)
	a.touch()
	return a, nil
}

// create starts the actor for roomID unless one is live. Concurrent calls
// for the same room share a single claim.
func (m *Manager) create(ctx context.Context, roomID string) error {
	_, err, _ := m.starts.Do(roomID, func() (interface{}, error) {
		return nil, m.start(ctx, roomID)
	})
	return err
}

func (m *Manager) start(ctx context.Context, roomID string) error {
	m.mu.RLock()
	stopped := m.stopped
	_, live := m.actors[roomID]
	releasing := m.releasing[roomID]
	m.mu.RUnlock()

	if stopped {
		return ErrManagerStopped
	}
	if live {
		return nil
	}
	// The previous incarnation's claim must be gone before a new one is
	// taken, or its release would drop the new claim.
	if releasing != nil {
		select {
		case <-releasing:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	claimCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), claimTimeout)
	defer cancel()
	if err := m.registry.Claim(claimCtx, m.kind, roomID); err != nil {
		if errors.Is(err, registry.ErrOwnedElsewhere) {
			return err
		}
		return fmt.Errorf("failed to claim room %s: %w", roomID, err)
	}

	a := newActor(m.kind, roomID, m.cfg.MailboxSize, m.now)
	a.behavior = m.factory(a)
	restored := a.rehydrate(m.host.Connections(m.Key(roomID)))

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		m.release(a)
		return ErrManagerStopped
	}
	m.actors[roomID] = a
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		a.run()
	}()

	l := log.Ctx(a.ctx)
	l.Debug().Int("restored_sessions", restored).Msg("room actor started")
	return nil
}

// Sweep hibernates every actor with an empty mailbox that has been idle for
// at least the idle timeout. Connections are left open. It returns the
// number of actors hibernated.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	now := m.now()
	var idle []*Actor
	for roomID, a := range m.actors {
		if a.pending.Load() != 0 || now.Sub(a.idleSince()) < m.cfg.IdleTimeout {
			continue
		}
		delete(m.actors, roomID)
		m.releasing[roomID] = make(chan struct{})
		close(a.quit)
		idle = append(idle, a)
	}
	m.hibernated += int64(len(idle))
	m.mu.Unlock()

	for _, a := range idle {
		m.release(a)
		audit.Log(a.ctx, audit.ActionHibernate, "room actor hibernated")

		m.mu.Lock()
		close(m.releasing[a.roomID])
		delete(m.releasing, a.roomID)
		m.mu.Unlock()
	}
	return len(idle)
}

// evictLost drops the actor of a room whose lease went to another instance.
// The claim is not released since it is no longer ours.
func (m *Manager) evictLost(roomID string) {
	m.mu.Lock()
	a, ok := m.actors[roomID]
	if ok {
		delete(m.actors, roomID)
		close(a.quit)
	}
	m.mu.Unlock()

	if ok {
		audit.Log(a.ctx, audit.ActionLeaseLost, "room actor evicted after losing its lease")
	}
}

// release gives up ownership of the actor's room.
func (m *Manager) release(a *Actor) {
	ctx, cancel := context.WithTimeout(context.Background(), claimTimeout)
	defer cancel()
	if err := m.registry.Release(ctx, m.kind, a.roomID); err != nil {
		l := log.Ctx(a.ctx)
		l.Warn().Err(err).Msg("failed to release room claim")
	}
}

// Stats returns the number of live actors.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{Kind: m.kind, ActiveRooms: len(m.actors), Hibernated: m.hibernated}
}

// Stop lets every actor drain its mailbox, then waits for them to exit.
// Events submitted afterwards fail with ErrManagerStopped.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)

		m.mu.Lock()
		m.stopped = true
		actors := make([]*Actor, 0, len(m.actors))
		for roomID, a := range m.actors {
			delete(m.actors, roomID)
			close(a.quit)
			actors = append(actors, a)
		}
		m.mu.Unlock()

		m.wg.Wait()
		for _, a := range actors {
			m.release(a)
		}
		l := log.L()
		l.Info().Str(log.FieldRoomKind, m.kind).Msg("room manager stopped")
	})
}
