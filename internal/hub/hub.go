package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"live-session/internal/domain"
	"live-session/internal/repository"
	"live-session/internal/service"
)

// 包级别的 WebSocket 常量，供 hub 和 client 共用
const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 8192
)

// 内部通道消息类型
const (
	MessageRegister   = "register"
	MessageUnregister = "unregister"
)

// FrameHandler 处理客户端在连接上发送的帧，返回值非 nil 时回复给发送者。
type FrameHandler interface {
	HandleFrame(ctx context.Context, sessionID string, userID uint, raw []byte) (*domain.Event, error)
}

// SnapshotProvider 在会话连接建立时提供当前状态。
type SnapshotProvider interface {
	Snapshot(ctx context.Context, userID uint, sessionID string) (*domain.SnapshotPayload, error)
}

// FrameHandlerFunc 把普通函数适配为 FrameHandler
type FrameHandlerFunc func(ctx context.Context, sessionID string, userID uint, raw []byte) (*domain.Event, error)

func (f FrameHandlerFunc) HandleFrame(ctx context.Context, sessionID string, userID uint, raw []byte) (*domain.Event, error) {
	return f(ctx, sessionID, userID, raw)
}

// SnapshotFunc 把普通函数适配为 SnapshotProvider
type SnapshotFunc func(ctx context.Context, userID uint, sessionID string) (*domain.SnapshotPayload, error)

func (f SnapshotFunc) Snapshot(ctx context.Context, userID uint, sessionID string) (*domain.SnapshotPayload, error) {
	return f(ctx, userID, sessionID)
}

// HubMessage 定义了在 Hub 内部通道传递的消息
type HubMessage struct {
	Type   string // "register", "unregister"
	Client *Client
}

// Hub 维护活跃连接并实现 service.Notifier。
// 配置了 bus 时事件先发布到 Redis，由 RunRelay 收到后再投递到本实例的连接，
// 这样多实例部署下每个实例的客户端都能收到。
type Hub struct {
	messageChan chan HubMessage

	// map[sessionID]map[*Client]bool，只包含会话连接
	sessions map[string]map[*Client]bool
	// map[userID]map[*Client]bool，包含该用户的所有连接
	users map[uint]map[*Client]bool
	// 保护 sessions / users 的读写锁。投递在读锁内进行，注销在写锁内关闭 send 通道。
	mu sync.RWMutex

	frames    FrameHandler
	snapshots SnapshotProvider
	bus       repository.StateRepository
	now       service.Clock
}

var _ service.Notifier = (*Hub)(nil)

// NewHub 创建 Hub。bus 可以为 nil，此时只做进程内投递。
func NewHub(frames FrameHandler, snapshots SnapshotProvider, bus repository.StateRepository) *Hub {
	if frames == nil {
		panic("FrameHandler cannot be nil for Hub")
	}
	if snapshots == nil {
		panic("SnapshotProvider cannot be nil for Hub")
	}
	return &Hub{
		messageChan: make(chan HubMessage, 512),
		sessions:    make(map[string]map[*Client]bool),
		users:       make(map[uint]map[*Client]bool),
		frames:      frames,
		snapshots:   snapshots,
		bus:         bus,
		now:         service.SystemClock,
	}
}

// Run 启动 Hub 的注册循环，应在单独的 goroutine 中运行。ctx 结束时关闭所有连接。
func (h *Hub) Run(ctx context.Context) {
	log := logrus.WithField("component", "hub")
	log.Info("Hub is running...")

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			log.Info("Hub is shutting down...")
			return
		case msg := <-h.messageChan:
			switch msg.Type {
			case MessageRegister:
				h.registerClient(msg.Client)
			case MessageUnregister:
				h.unregisterClient(msg.Client)
			default:
				log.Warnf("Hub: Received unknown message type: %s", msg.Type)
			}
		}
	}
}

// RunRelay 订阅跨实例总线并投递到本地连接，阻塞直到 ctx 结束。未配置 bus 时立即返回。
func (h *Hub) RunRelay(ctx context.Context) error {
	if h.bus == nil {
		return nil
	}
	return h.bus.SubscribeEvents(ctx, h.deliver)
}

// Broadcast 发送给会话内所有连接。
func (h *Hub) Broadcast(ctx context.Context, sessionID string, evt domain.Event) {
	h.publish(ctx, 0, evt, func() { h.deliverSession(sessionID, evt) })
}

// SendToUser 发送给某个用户的所有连接。
func (h *Hub) SendToUser(ctx context.Context, userID uint, evt domain.Event) {
	h.publish(ctx, userID, evt, func() { h.deliverUser(userID, evt) })
}

func (h *Hub) publish(ctx context.Context, userID uint, evt domain.Event, local func()) {
	if h.bus == nil {
		local()
		return
	}
	if err := h.bus.PublishEvent(ctx, userID, evt); err != nil {
		// 总线不可用时退化为本实例投递
		logrus.WithFields(logrus.Fields{
			"session_id": evt.SessionID,
			"user_id":    userID,
			"event_type": evt.Type,
		}).WithError(err).Warn("Event bus publish failed, delivering locally")
		local()
	}
}

// deliver 是总线回调，userID 为 0 表示会话广播
func (h *Hub) deliver(userID uint, evt domain.Event) {
	if userID == 0 {
		h.deliverSession(evt.SessionID, evt)
		return
	}
	h.deliverUser(userID, evt)
}

func (h *Hub) deliverSession(sessionID string, evt domain.Event) {
	message, ok := encode(evt)
	if !ok {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.sessions[sessionID] {
		h.trySend(client, message, evt.Type)
	}
}

func (h *Hub) deliverUser(userID uint, evt domain.Event) {
	message, ok := encode(evt)
	if !ok {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.users[userID] {
		h.trySend(client, message, evt.Type)
	}
}

// trySend 非阻塞写入 send 通道，调用方必须持有读锁
func (h *Hub) trySend(client *Client, message []byte, typ domain.EventType) {
	select {
	case client.send <- message:
	default:
		logrus.WithFields(logrus.Fields{
			"session_id": client.sessionID,
			"user_id":    client.userID,
			"event_type": typ,
		}).Warn("Client send channel full, dropping message")
	}
}

// reply 只发给单个连接，连接已注销时丢弃
func (h *Hub) reply(client *Client, evt domain.Event) {
	message, ok := encode(evt)
	if !ok {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.users[client.userID][client] {
		return
	}
	h.trySend(client, message, evt.Type)
}

func encode(evt domain.Event) ([]byte, bool) {
	message, err := json.Marshal(evt)
	if err != nil {
		logrus.WithField("event_type", evt.Type).WithError(err).Error("Failed to marshal event")
		return nil, false
	}
	return message, true
}

func (h *Hub) registerClient(client *Client) {
	if client == nil {
		logrus.Error("Hub: Attempted to register a nil client")
		return
	}
	logCtx := logrus.WithFields(logrus.Fields{
		"session_id": client.sessionID,
		"user_id":    client.userID,
		"action":     "registerClient",
	})

	h.mu.Lock()
	if client.sessionID != "" {
		if _, ok := h.sessions[client.sessionID]; !ok {
			h.sessions[client.sessionID] = make(map[*Client]bool)
		}
		h.sessions[client.sessionID][client] = true
	}
	if _, ok := h.users[client.userID]; !ok {
		h.users[client.userID] = make(map[*Client]bool)
	}
	h.users[client.userID][client] = true
	h.mu.Unlock()
	logCtx.Info("Client registered to Hub")

	if client.sessionID != "" {
		go h.sendInitialSnapshot(client)
	}
}

func (h *Hub) unregisterClient(client *Client) {
	if client == nil {
		logrus.Error("Hub: Attempted to unregister a nil client")
		return
	}
	logCtx := logrus.WithFields(logrus.Fields{
		"session_id": client.sessionID,
		"user_id":    client.userID,
		"action":     "unregisterClient",
	})

	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.users[client.userID][client] {
		logCtx.Debug("Client already unregistered")
		return
	}
	h.detach(client)
	logCtx.Info("Client unregistered from Hub")
}

// detach 从索引中移除并关闭 send 通道，调用方必须持有写锁
func (h *Hub) detach(client *Client) {
	if set, ok := h.sessions[client.sessionID]; ok {
		delete(set, client)
		if len(set) == 0 {
			delete(h.sessions, client.sessionID)
		}
	}
	if set, ok := h.users[client.userID]; ok {
		delete(set, client)
		if len(set) == 0 {
			delete(h.users, client.userID)
		}
	}
	close(client.send)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, set := range h.users {
		for client := range set {
			h.detach(client)
		}
	}
}

// sendInitialSnapshot 在会话连接建立后发送当前状态
func (h *Hub) sendInitialSnapshot(client *Client) {
	logCtx := logrus.WithFields(logrus.Fields{
		"session_id": client.sessionID,
		"user_id":    client.userID,
		"operation":  "sendInitialSnapshot",
	})

	ctx := context.Background()
	snapshot, err := h.snapshots.Snapshot(ctx, client.userID, client.sessionID)
	if err != nil {
		logCtx.WithError(err).Warn("Failed to load snapshot for client")
		h.replyError(client, err)
		return
	}
	evt, err := domain.NewEvent(domain.EventSessionSnapshot, client.sessionID, snapshot.Session.Version, h.now(), snapshot)
	if err != nil {
		logCtx.WithError(err).Error("Failed to build snapshot event")
		return
	}
	h.reply(client, evt)
	logCtx.WithField("version", snapshot.Session.Version).Debug("Snapshot sent to client")
}

// handleFrame 在客户端的读 goroutine 中同步执行，单个连接上的帧按到达顺序处理
func (h *Hub) handleFrame(client *Client, raw []byte) {
	reply, err := h.frames.HandleFrame(context.Background(), client.sessionID, client.userID, raw)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"session_id": client.sessionID,
			"user_id":    client.userID,
		}).WithError(err).Debug("Client frame rejected")
		h.replyError(client, err)
		return
	}
	if reply != nil {
		h.reply(client, *reply)
	}
}

func (h *Hub) replyError(client *Client, cause error) {
	evt, err := domain.NewEvent(domain.EventError, client.sessionID, 0, h.now(), domain.ErrorPayload{
		Code:    service.ErrorCode(cause),
		Message: cause.Error(),
	})
	if err != nil {
		return
	}
	h.reply(client, evt)
}

// QueueMessage 将消息放入 Hub 的处理队列 (非阻塞)。队列已满时返回 false。
func (h *Hub) QueueMessage(msg HubMessage) bool {
	select {
	case h.messageChan <- msg:
		return true
	default:
		fields := logrus.Fields{"message_type": msg.Type}
		if msg.Client != nil {
			fields["session_id"] = msg.Client.sessionID
			fields["user_id"] = msg.Client.userID
		}
		logrus.WithFields(fields).Warn("Hub message channel full, dropping message")
		return false
	}
}

// SessionClientCount 返回本实例上某个会话的连接数
func (h *Hub) SessionClientCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}

// UserClientCount 返回本实例上某个用户的连接数
func (h *Hub) UserClientCount(userID uint) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}
