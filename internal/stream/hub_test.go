package stream_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/kiranshivaraju/merchmate/internal/registry"
	"github.com/kiranshivaraju/merchmate/internal/stream"
	"github.com/kiranshivaraju/merchmate/pkg/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pendingJob(id string) models.Job {
	return models.Job{
		ID:          id,
		BatchID:     uuid.New(),
		Type:        models.JobTypeMerch,
		SourceImage: models.Image{MIMEType: "image/png", Data: []byte("logo")},
		Instruction: "mock it up",
		Status:      models.JobStatusPending,
		CreatedAt:   time.Now().UTC(),
	}
}

func startHub(t *testing.T, reg *registry.Registry) (*stream.Hub, string) {
	t.Helper()
	hub := stream.NewHub(reg, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	unsubscribe := reg.Subscribe(hub.Publish)

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(func() {
		unsubscribe()
		cancel()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) stream.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg stream.Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestHub_SnapshotOnConnect(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Prepend(pendingJob("1-cap"), pendingJob("1-hoodie")))
	_, url := startHub(t, reg)

	msg := readMessage(t, dial(t, url))
	assert.Equal(t, stream.MessageSnapshot, msg.Type)
	require.Len(t, msg.Jobs, 2)
	assert.Equal(t, "1-cap", msg.Jobs[0].ID)
	assert.Equal(t, "1-hoodie", msg.Jobs[1].ID)
}

func TestHub_BroadcastsRegistryEvents(t *testing.T) {
	reg := registry.New()
	_, url := startHub(t, reg)
	conn := dial(t, url)

	snap := readMessage(t, conn)
	assert.Empty(t, snap.Jobs)

	require.NoError(t, reg.Prepend(pendingJob("2-edit")))
	added := readMessage(t, conn)
	assert.Equal(t, string(registry.EventJobsAdded), added.Type)
	require.Len(t, added.Jobs, 1)
	assert.Equal(t, models.JobStatusPending, added.Jobs[0].Status)

	_, err := reg.UpdateByID("2-edit", registry.Succeeded(models.Image{MIMEType: "image/png", Data: []byte("out")}, time.Now()))
	require.NoError(t, err)
	settled := readMessage(t, conn)
	assert.Equal(t, string(registry.EventJobSettled), settled.Type)
	require.Len(t, settled.Jobs, 1)
	assert.Equal(t, models.JobStatusSuccess, settled.Jobs[0].Status)
	assert.Equal(t, "data:image/png;base64,b3V0", settled.Jobs[0].ResultImage)
}

func TestHub_MultipleClients(t *testing.T) {
	reg := registry.New()
	_, url := startHub(t, reg)
	a, b := dial(t, url), dial(t, url)
	readMessage(t, a)
	readMessage(t, b)

	require.NoError(t, reg.Prepend(pendingJob("3-0")))
	assert.Equal(t, "3-0", readMessage(t, a).Jobs[0].ID)
	assert.Equal(t, "3-0", readMessage(t, b).Jobs[0].ID)
}

func TestHub_PublishNeverBlocks(t *testing.T) {
	hub := stream.NewHub(registry.New(), zerolog.Nop())

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			hub.Publish(registry.Event{Type: registry.EventJobsAdded, Jobs: []models.Job{pendingJob("x")}})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Publish blocked without a running hub")
	}
}

func TestHub_ClosesClientsOnShutdown(t *testing.T) {
	reg := registry.New()
	hub := stream.NewHub(reg, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	conn := dial(t, "ws"+strings.TrimPrefix(srv.URL, "http"))
	readMessage(t, conn)

	cancel()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestHub_SkipsEventsAlreadyInSnapshot(t *testing.T) {
	reg := registry.New()
	hub := stream.NewHub(reg, zerolog.Nop())
	defer reg.Subscribe(hub.Publish)()
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	// Queued before the hub runs, so the client's snapshot already holds it.
	require.NoError(t, reg.Prepend(pendingJob("4-cap")))
	conn := dial(t, "ws"+strings.TrimPrefix(srv.URL, "http"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	snap := readMessage(t, conn)
	assert.Equal(t, stream.MessageSnapshot, snap.Type)
	require.Len(t, snap.Jobs, 1)
	assert.Equal(t, "4-cap", snap.Jobs[0].ID)

	require.NoError(t, reg.Prepend(pendingJob("5-mug")))
	next := readMessage(t, conn)
	assert.Equal(t, string(registry.EventJobsAdded), next.Type)
	require.Len(t, next.Jobs, 1)
	assert.Equal(t, "5-mug", next.Jobs[0].ID)
}
