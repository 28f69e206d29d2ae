package room_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-live/collab-service/internal/domain"
	"github.com/weiawesome/wes-io-live/collab-service/internal/idgen"
	"github.com/weiawesome/wes-io-live/collab-service/internal/registry"
	"github.com/weiawesome/wes-io-live/collab-service/internal/room"
)

const boardID = "board-1"

var palette = []string{"#111111", "#222222", "#333333"}

func newWhiteboardManager(t *testing.T, host *fakeHost) *room.Manager {
	t.Helper()
	factory := room.NewWhiteboardFactory(room.WhiteboardDeps{
		UserIDs: idgen.NewUUIDGenerator(),
		Palette: palette,
	})
	m := room.NewManager(room.KindWhiteboard, room.Config{IdleTimeout: time.Minute}, factory, host,
		registry.NewLocalRegistry("test"))
	t.Cleanup(m.Stop)
	return m
}

// wbConn returns a connection carrying handshake identity hints.
func wbConn(id, userID, username, color string) *fakeConn {
	c := newConn(id)
	c.SetAttachment(domain.Identity{UserID: userID, Username: username, Color: color})
	return c
}

func TestWhiteboard_DrawAndUndo(t *testing.T) {
	host := newHost()
	m := newWhiteboardManager(t, host)
	a, b := wbConn("a", "alice", "Alice", "#abcdef"), wbConn("b", "bob", "Bob", "")
	connect(t, m, host, boardID, a)
	connect(t, m, host, boardID, b)
	flush(t, m, boardID)

	send(t, m, boardID, a, `{"type":"draw","stroke":{"id":"s1","points":[{"x":1,"y":2},{"x":3,"y":4}],"color":"#000","width":2,"authorId":"mallory"}}`)
	flush(t, m, boardID)

	assert.Empty(t, a.ofType(t, domain.TypeDraw), "draw is not echoed to its author")
	draws := b.ofType(t, domain.TypeDraw)
	require.Len(t, draws, 1)
	assert.Equal(t, "alice", draws[0]["userId"])
	stroke := draws[0]["stroke"].(map[string]any)
	assert.Equal(t, "s1", stroke["id"])
	assert.Equal(t, "alice", stroke["authorId"], "author is the sender, not what the client claimed")
	assert.Len(t, stroke["points"], 2)

	send(t, m, boardID, a, `{"type":"undo","strokeId":"s1"}`)
	flush(t, m, boardID)

	for _, conn := range []*fakeConn{a, b} {
		undos := conn.ofType(t, domain.TypeUndo)
		require.Len(t, undos, 1, conn.ID())
		assert.Equal(t, "s1", undos[0]["strokeId"])
		assert.Equal(t, "alice", undos[0]["userId"])
	}
}

func TestWhiteboard_CursorAndClear(t *testing.T) {
	host := newHost()
	m := newWhiteboardManager(t, host)
	a, b := wbConn("a", "alice", "Alice", "#abcdef"), wbConn("b", "bob", "Bob", "")
	connect(t, m, host, boardID, a)
	connect(t, m, host, boardID, b)

	send(t, m, boardID, a, `{"type":"cursor","x":10.5,"y":0}`)
	send(t, m, boardID, a, `{"type":"clear"}`)
	flush(t, m, boardID)

	assert.Empty(t, a.ofType(t, domain.TypeCursor))
	cursors := b.ofType(t, domain.TypeCursor)
	require.Len(t, cursors, 1)
	assert.Equal(t, "alice", cursors[0]["userId"])
	assert.Equal(t, "Alice", cursors[0]["username"])
	assert.Equal(t, "#abcdef", cursors[0]["color"])
	assert.EqualValues(t, 10.5, cursors[0]["x"])
	assert.EqualValues(t, 0, cursors[0]["y"])

	assert.Len(t, a.ofType(t, domain.TypeClear), 1)
	assert.Len(t, b.ofType(t, domain.TypeClear), 1)
}

func TestWhiteboard_Presence(t *testing.T) {
	host := newHost()
	m := newWhiteboardManager(t, host)
	a := wbConn("a", "alice", "Alice", "")
	b := wbConn("b", "", "", "")

	connect(t, m, host, boardID, a)
	flush(t, m, boardID)

	welcome := a.ofType(t, domain.TypeWelcome)
	require.Len(t, welcome, 1)
	assert.Equal(t, "alice", welcome[0]["userId"])
	assert.Equal(t, boardID, welcome[0]["whiteboardId"])
	assert.Len(t, welcome[0]["users"], 1)
	assert.Equal(t, palette[0], a.Attachment().Color)

	connect(t, m, host, boardID, b)
	flush(t, m, boardID)

	identity := b.Attachment()
	assert.NotEmpty(t, identity.UserID, "anonymous users get an id")
	assert.Equal(t, room.DefaultUsername, identity.Username)
	assert.Equal(t, palette[1], identity.Color, "least used colour is assigned")

	assert.Empty(t, b.ofType(t, domain.TypeUserJoined), "joiner is greeted by welcome only")
	joined := a.ofType(t, domain.TypeUserJoined)
	require.Len(t, joined, 1)
	user := joined[0]["user"].(map[string]any)
	assert.Equal(t, identity.UserID, user["userId"])
	assert.Len(t, joined[0]["users"], 2)

	disconnect(t, m, host, boardID, b)
	flush(t, m, boardID)

	left := a.ofType(t, domain.TypeUserLeft)
	require.Len(t, left, 1)
	assert.Equal(t, identity.UserID, left[0]["userId"])
	assert.Len(t, left[0]["users"], 1)
}

func TestWhiteboard_InvalidFrame(t *testing.T) {
	host := newHost()
	m := newWhiteboardManager(t, host)
	a, b := wbConn("a", "alice", "", ""), wbConn("b", "bob", "", "")
	connect(t, m, host, boardID, a)
	connect(t, m, host, boardID, b)

	send(t, m, boardID, a, `{"type":"cursor","x":1}`)
	send(t, m, boardID, a, `{"type":"undo"}`)
	flush(t, m, boardID)

	errs := a.ofType(t, domain.TypeError)
	require.Len(t, errs, 2)
	assert.Equal(t, domain.ErrCodeInvalidFormat, errs[0]["code"])
	assert.Empty(t, b.ofType(t, domain.TypeError))
	assert.Empty(t, b.ofType(t, domain.TypeCursor))
}
