package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"evalgo.org/inventory/internal/inventory"
	"evalgo.org/inventory/models"
)

func TestHubPublish_NoClients(t *testing.T) {
	hub := NewHub(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	hub.Publish(inventory.Event{Type: inventory.EventImageAdded, ImageID: "x"})
	assert.Equal(t, 0, hub.ClientCount())
}

func TestHubPublish_QueueFull(t *testing.T) {
	// hub not running, so the queue never drains
	hub := NewHub(zap.NewNop())
	for i := 0; i < cap(hub.broadcast)+10; i++ {
		hub.Publish(inventory.Event{Type: inventory.EventImageStored})
	}
	assert.Len(t, hub.broadcast, cap(hub.broadcast))
}

func TestHub_StoppedDoesNotBlockClients(t *testing.T) {
	hub := NewHub(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()

	live := &Client{hub: hub, send: make(chan []byte, 1)}
	require.True(t, hub.Register(live))
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop")
	}

	// late registration and the deferred unregister of a live reader must return
	finished := make(chan bool)
	go func() {
		hub.unregisterClient(live)
		finished <- hub.Register(&Client{hub: hub, send: make(chan []byte, 1)})
	}()
	select {
	case registered := <-finished:
		assert.False(t, registered)
	case <-time.After(2 * time.Second):
		t.Fatal("client calls blocked on a stopped hub")
	}

	_, open := <-live.send
	assert.False(t, open, "send channel is closed on shutdown")
}

func TestWebSocketEvents(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws/events"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	require.Eventually(t, func() bool { return s.wsHub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	img := postImage(t, s, "leaf-os-1.0.0", "1.0.0", "LEAF", "")

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, message, err := conn.ReadMessage()
	require.NoError(t, err)

	// several queued events may share one frame
	first := strings.SplitN(string(message), "\n", 2)[0]
	var event inventory.Event
	require.NoError(t, json.Unmarshal([]byte(first), &event))
	assert.Equal(t, inventory.EventImageAdded, event.Type)
	assert.Equal(t, img.ID, event.ImageID)
	assert.Equal(t, models.ImageStateNew, event.ImageState)
}
