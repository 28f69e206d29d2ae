package room_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-live/collab-service/internal/domain"
	"github.com/weiawesome/wes-io-live/collab-service/internal/registry"
	"github.com/weiawesome/wes-io-live/collab-service/internal/repository"
	"github.com/weiawesome/wes-io-live/collab-service/internal/room"
)

var errSendFailed = errors.New("socket closed")

type fakeConn struct {
	id string

	mu         sync.Mutex
	frames     [][]byte
	attachment domain.Identity
	fail       bool
}

func newConn(id string) *fakeConn {
	return &fakeConn{id: id}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errSendFailed
	}
	c.frames = append(c.frames, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Attachment() domain.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attachment
}

func (c *fakeConn) SetAttachment(id domain.Identity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attachment = id
}

func (c *fakeConn) setFail(fail bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail = fail
}

// received decodes every frame sent to the connection.
func (c *fakeConn) received(t *testing.T) []map[string]any {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]map[string]any, 0, len(c.frames))
	for _, f := range c.frames {
		var m map[string]any
		require.NoError(t, json.Unmarshal(f, &m))
		out = append(out, m)
	}
	return out
}

func (c *fakeConn) ofType(t *testing.T, typ string) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, f := range c.received(t) {
		if f["type"] == typ {
			out = append(out, f)
		}
	}
	return out
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = nil
}

// fakeHost stands in for the connection manager.
type fakeHost struct {
	mu    sync.Mutex
	conns map[string][]room.Conn
}

func newHost() *fakeHost {
	return &fakeHost{conns: make(map[string][]room.Conn)}
}

func (h *fakeHost) Attach(key string, c room.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[key] = append(h.conns[key], c)
}

func (h *fakeHost) Detach(key, id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns := h.conns[key]
	for i, c := range conns {
		if c.ID() == id {
			h.conns[key] = append(conns[:i:i], conns[i+1:]...)
			return
		}
	}
}

func (h *fakeHost) Connections(key string) []room.Conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]room.Conn(nil), h.conns[key]...)
}

var _ repository.MessageRepository = (*memRepo)(nil)

// memRepo is an in-memory MessageRepository.
type memRepo struct {
	mu          sync.Mutex
	messages    []domain.Message
	failWrites  bool
	recentCalls int
}

func (r *memRepo) Append(_ context.Context, msg domain.Message) (domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWrites {
		return domain.Message{}, errors.New("database unavailable")
	}
	r.messages = append(r.messages, msg)
	return msg, nil
}

func (r *memRepo) AppendBatch(_ context.Context, msgs []domain.Message) ([]domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWrites {
		return nil, errors.New("database unavailable")
	}
	r.messages = append(r.messages, msgs...)
	return append([]domain.Message(nil), msgs...), nil
}

func (r *memRepo) Recent(_ context.Context, roomID string, limit int) ([]domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recentCalls++

	var out []domain.Message
	for _, m := range r.messages {
		if m.RoomID == roomID {
			out = append(out, m)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (r *memRepo) Close() error { return nil }

func (r *memRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

func (r *memRepo) setFail(fail bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failWrites = fail
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// rejectingRegistry simulates a room owned by another instance.
type rejectingRegistry struct {
	registry.LocalRegistry
}

func (*rejectingRegistry) Claim(context.Context, string, string) error {
	return registry.ErrOwnedElsewhere
}

// flush waits until every event queued for roomID so far has been
// processed. Reads go through the same mailbox as everything else.
func flush(t *testing.T, m *room.Manager, roomID string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := m.Recent(ctx, roomID, 1)
	if err != nil && !errors.Is(err, room.ErrReadNotSupported) {
		require.NoError(t, err)
	}
}

// connect attaches conn to the host and joins it, the way the handler does.
func connect(t *testing.T, m *room.Manager, h *fakeHost, roomID string, conn *fakeConn) {
	t.Helper()
	h.Attach(m.Key(roomID), conn)
	require.NoError(t, m.Join(context.Background(), roomID, conn))
}

// disconnect detaches conn and reports the leave, the way the handler does.
func disconnect(t *testing.T, m *room.Manager, h *fakeHost, roomID string, conn *fakeConn) {
	t.Helper()
	h.Detach(m.Key(roomID), conn.ID())
	require.NoError(t, m.Leave(roomID, conn))
}

func send(t *testing.T, m *room.Manager, roomID string, conn *fakeConn, frame string) {
	t.Helper()
	require.NoError(t, m.Deliver(roomID, conn, []byte(frame)))
}
