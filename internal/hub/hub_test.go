package hub_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"live-session/internal/domain"
	"live-session/internal/hub"
	redisstate "live-session/internal/infra/state/redis"
	"live-session/internal/repository"
	"live-session/internal/service"
)

type stubFrames struct{}

func (stubFrames) HandleFrame(_ context.Context, sessionID string, _ uint, raw []byte) (*domain.Event, error) {
	if string(raw) == `{"type":"ping"}` {
		evt, _ := domain.NewEvent(domain.EventPong, sessionID, 0, time.Now().UTC(), nil)
		return &evt, nil
	}
	if string(raw) == `{"type":"chat.message"}` {
		return nil, nil
	}
	return nil, fmt.Errorf("playback: %w", service.ErrForbidden)
}

type stubSnapshots struct{}

func (stubSnapshots) Snapshot(_ context.Context, userID uint, sessionID string) (*domain.SnapshotPayload, error) {
	if sessionID == "hidden" {
		return nil, service.ErrForbidden
	}
	return &domain.SnapshotPayload{
		Session:      &domain.Session{ID: sessionID, Version: 3},
		Participants: []domain.Participant{{SessionID: sessionID, UserID: userID, Online: true}},
	}, nil
}

func startHub(t *testing.T, bus repository.StateRepository) (*hub.Hub, *httptest.Server) {
	t.Helper()
	h := hub.NewHub(stubFrames{}, stubSnapshots{}, bus)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)
	if bus != nil {
		go func() { _ = h.RunRelay(ctx) }()
	}

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, _ := strconv.ParseUint(r.URL.Query().Get("user"), 10, 64)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := hub.NewClient(h, conn, r.URL.Query().Get("session"), uint(userID))
		if !h.QueueMessage(hub.HubMessage{Type: hub.MessageRegister, Client: client}) {
			client.CloseConn()
			return
		}
		client.Run()
	}))
	t.Cleanup(srv.Close)
	return h, srv
}

func dial(t *testing.T, srv *httptest.Server, sessionID string, userID uint) *websocket.Conn {
	t.Helper()
	url := fmt.Sprintf("ws%s/?session=%s&user=%d", strings.TrimPrefix(srv.URL, "http"), sessionID, userID)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) domain.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var evt domain.Event
	require.NoError(t, json.Unmarshal(raw, &evt))
	return evt
}

func event(t *testing.T, typ domain.EventType, sessionID string, seq uint64) domain.Event {
	t.Helper()
	evt, err := domain.NewEvent(typ, sessionID, seq, time.Now().UTC(), nil)
	require.NoError(t, err)
	return evt
}

func TestHub_SnapshotOnSessionConnect(t *testing.T) {
	_, srv := startHub(t, nil)
	conn := dial(t, srv, "s1", 1)

	evt := readEvent(t, conn)
	assert.Equal(t, domain.EventSessionSnapshot, evt.Type)
	assert.Equal(t, uint64(3), evt.Seq)

	var payload domain.SnapshotPayload
	require.NoError(t, json.Unmarshal(evt.Payload, &payload))
	require.Len(t, payload.Participants, 1)
	assert.Equal(t, uint(1), payload.Participants[0].UserID)
}

func TestHub_SnapshotFailureRepliesError(t *testing.T) {
	_, srv := startHub(t, nil)
	conn := dial(t, srv, "hidden", 1)

	evt := readEvent(t, conn)
	assert.Equal(t, domain.EventError, evt.Type)
	var payload domain.ErrorPayload
	require.NoError(t, json.Unmarshal(evt.Payload, &payload))
	assert.Equal(t, "forbidden", payload.Code)
}

func TestHub_DeliveryScopes(t *testing.T) {
	h, srv := startHub(t, nil)
	ctx := context.Background()

	inS1 := dial(t, srv, "s1", 1)
	inS2 := dial(t, srv, "s2", 2)
	private := dial(t, srv, "", 1)
	readEvent(t, inS1)
	readEvent(t, inS2)
	require.Eventually(t, func() bool { return h.UserClientCount(1) == 2 }, time.Second, 10*time.Millisecond)

	h.Broadcast(ctx, "s1", event(t, domain.EventSessionStateChanged, "s1", 4))
	h.Broadcast(ctx, "s2", event(t, domain.EventParticipantJoined, "s2", 7))
	h.SendToUser(ctx, 1, event(t, domain.EventJoinRequestApproved, "s9", 0))

	assert.Equal(t, domain.EventSessionStateChanged, readEvent(t, inS1).Type)
	assert.Equal(t, domain.EventJoinRequestApproved, readEvent(t, inS1).Type)
	assert.Equal(t, domain.EventParticipantJoined, readEvent(t, inS2).Type, "s2 only sees its own session")
	assert.Equal(t, domain.EventJoinRequestApproved, readEvent(t, private).Type, "user connections skip session broadcasts")
}

func TestHub_FrameReplies(t *testing.T) {
	_, srv := startHub(t, nil)
	conn := dial(t, srv, "s1", 1)
	readEvent(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"chat.message"}`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))
	assert.Equal(t, domain.EventPong, readEvent(t, conn).Type, "frames without a reply send nothing")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"playback.changed"}`)))
	evt := readEvent(t, conn)
	require.Equal(t, domain.EventError, evt.Type)
	var payload domain.ErrorPayload
	require.NoError(t, json.Unmarshal(evt.Payload, &payload))
	assert.Equal(t, "forbidden", payload.Code)
}

func TestHub_UnregisterOnClose(t *testing.T) {
	h, srv := startHub(t, nil)
	conn := dial(t, srv, "s1", 1)
	readEvent(t, conn)
	require.Equal(t, 1, h.SessionClientCount("s1"))

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return h.SessionClientCount("s1") == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, h.UserClientCount(1))

	// 没有连接时广播不会阻塞
	h.Broadcast(context.Background(), "s1", event(t, domain.EventSessionSummary, "s1", 5))
}

func TestHub_RelayAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	hubA, _ := startHub(t, redisstate.NewRedisStateRepository(client, "test:"))
	_, srvB := startHub(t, redisstate.NewRedisStateRepository(client, "test:"))
	require.Eventually(t, func() bool { return mr.PubSubNumPat() == 2 }, time.Second, 10*time.Millisecond)

	conn := dial(t, srvB, "s1", 5)
	readEvent(t, conn)

	ctx := context.Background()
	hubA.Broadcast(ctx, "s1", event(t, domain.EventParticipantLeft, "s1", 8))
	evt := readEvent(t, conn)
	assert.Equal(t, domain.EventParticipantLeft, evt.Type)
	assert.Equal(t, uint64(8), evt.Seq)

	hubA.SendToUser(ctx, 5, event(t, domain.EventInvitationReceived, "s2", 0))
	assert.Equal(t, domain.EventInvitationReceived, readEvent(t, conn).Type)
}
