package hub_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-live/collab-service/internal/domain"
	"github.com/weiawesome/wes-io-live/collab-service/internal/hub"
	"github.com/weiawesome/wes-io-live/collab-service/internal/room"
)

var _ room.Host = (*hub.Hub)(nil)
var _ room.Conn = (*hub.Client)(nil)

func TestHub_AttachDetach(t *testing.T) {
	h := hub.NewHub()
	a := hub.NewClient("a", nil, hub.Config{})
	b := hub.NewClient("b", nil, hub.Config{})

	h.Attach("chat:r1", a)
	h.Attach("chat:r1", a)
	h.Attach("chat:r1", b)
	h.Attach("whiteboard:r1", b)

	assert.Len(t, h.Connections("chat:r1"), 2)
	assert.Len(t, h.Connections("whiteboard:r1"), 1)
	assert.Empty(t, h.Connections("chat:none"))
	assert.Equal(t, 3, h.Count())
	assert.Equal(t, 2, h.Rooms())

	h.Detach("chat:r1", a)
	h.Detach("chat:r1", a)
	assert.Len(t, h.Connections("chat:r1"), 1)
	assert.Equal(t, 2, h.Count())

	h.Detach("whiteboard:r1", b)
	assert.Equal(t, 1, h.Rooms())
}

func TestHub_CloseAll(t *testing.T) {
	h := hub.NewHub()
	a := hub.NewClient("a", nil, hub.Config{})
	b := hub.NewClient("b", nil, hub.Config{})
	h.Attach("chat:r1", a)
	h.Attach("whiteboard:r1", b)

	assert.Equal(t, 2, h.CloseAll())
	assert.ErrorIs(t, a.Send([]byte("x")), hub.ErrClientClosed)
	assert.ErrorIs(t, b.Send([]byte("x")), hub.ErrClientClosed)

	// Clients stay attached until their read pumps detach them.
	assert.Equal(t, 2, h.Count())
	assert.Equal(t, 2, h.CloseAll(), "closing twice is harmless")
}

func TestClient_SendBuffering(t *testing.T) {
	c := hub.NewClient("a", nil, hub.Config{SendBuffer: 2})

	require.NoError(t, c.Send([]byte("1")))
	require.NoError(t, c.Send([]byte("2")))
	assert.ErrorIs(t, c.Send([]byte("3")), hub.ErrSendBufferFull)

	c.Close()
	c.Close()
	assert.ErrorIs(t, c.Send([]byte("4")), hub.ErrClientClosed)
}

func TestClient_Attachment(t *testing.T) {
	c := hub.NewClient("a", nil, hub.Config{})
	assert.False(t, c.Attachment().Admitted())

	c.SetAttachment(domain.Identity{UserID: "u1", Color: "#fff"})
	assert.Equal(t, "u1", c.Attachment().UserID)
}
