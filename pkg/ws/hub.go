package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// MessageType WebSocket 消息类型
const (
	MsgTypeInit        = "init"         // 初始化数据（状态快照+告警）
	MsgTypeStateUpdate = "state_update" // 状态更新
	MsgTypeAlert       = "alert"        // 新告警
	MsgTypeConnection  = "connection"   // 推送连接状态变化
	MsgTypeError       = "error"        // 错误消息

	// 客户端发来的消息
	MsgTypeSubscribe   = "subscribe"
	MsgTypeUnsubscribe = "unsubscribe"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 256
)

// Message WebSocket 消息结构
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// ClientMessage 客户端消息
type ClientMessage struct {
	Type      string `json:"type"`
	VehicleID string `json:"vehicleId"`
}

// errorData 错误消息内容
type errorData struct {
	Error string `json:"error"`
}

// InitDataProvider 根据客户端订阅的车辆生成初始数据
type InitDataProvider func(vehicleIDs []string) interface{}

// SubscriptionHandler 客户端订阅变化回调
type SubscriptionHandler func(vehicleID string, subscribed bool)

// outbound 待投递的消息
// client 非空时只发给该客户端，否则按 vehicleID 投递，vehicleID 为空表示所有客户端
type outbound struct {
	client    *Client
	vehicleID string
	data      []byte
}

// Client WebSocket 客户端
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu       sync.RWMutex
	vehicles map[string]bool
	closed   bool
}

// Hub WebSocket 连接管理中心
type Hub struct {
	logger     *zap.Logger
	clients    map[*Client]bool
	broadcast  chan outbound
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex

	getInitData    InitDataProvider
	onSubscription SubscriptionHandler
}

// NewHub 创建 Hub
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:     logger,
		clients:    make(map[*Client]bool),
		broadcast:  make(chan outbound, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// SetInitDataProvider 设置初始数据提供者
func (h *Hub) SetInitDataProvider(provider InitDataProvider) {
	h.getInitData = provider
}

// SetSubscriptionHandler 设置订阅回调
func (h *Hub) SetSubscriptionHandler(handler SubscriptionHandler) {
	h.onSubscription = handler
}

// Run 运行 Hub，直到 Close
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				h.dropLocked(client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			client.notifySubscribed()
			h.logger.Info("WebSocket client connected",
				zap.Int("total_clients", total),
				zap.Strings("vehicles", client.Vehicles()))

			h.sendInitData(client)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				h.dropLocked(client)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("WebSocket client disconnected", zap.Int("total_clients", total))

		case msg := <-h.broadcast:
			h.mu.Lock()
			if msg.client != nil {
				if h.clients[msg.client] {
					h.deliverLocked(msg.client, msg.data)
				}
				h.mu.Unlock()
				continue
			}
			for client := range h.clients {
				if msg.vehicleID != "" && !client.Subscribed(msg.vehicleID) {
					continue
				}
				h.deliverLocked(client, msg.data)
			}
			h.mu.Unlock()
		}
	}
}

// deliverLocked 非阻塞投递，慢消费者直接断开，调用方持有 h.mu
func (h *Hub) deliverLocked(client *Client, data []byte) {
	select {
	case client.send <- data:
	default:
		h.logger.Warn("WebSocket client too slow, dropping")
		h.dropLocked(client)
	}
}

// Close 停止 Hub 并断开所有客户端
func (h *Hub) Close() {
	close(h.done)
}

// dropLocked 移除客户端并释放它的订阅，调用方持有 h.mu
func (h *Hub) dropLocked(client *Client) {
	delete(h.clients, client)
	close(client.send)
	ids := client.close()
	if h.onSubscription != nil {
		for _, id := range ids {
			h.onSubscription(id, false)
		}
	}
}

// sendInitData 发送初始数据给新连接的客户端
func (h *Hub) sendInitData(client *Client) {
	if h.getInitData == nil {
		h.logger.Warn("No init data provider set")
		return
	}

	initData := h.getInitData(client.Vehicles())
	if initData == nil {
		h.logger.Warn("Init data provider returned nil")
		return
	}

	data, err := json.Marshal(Message{Type: MsgTypeInit, Data: initData})
	if err != nil {
		h.logger.Error("Failed to marshal init data", zap.Error(err))
		return
	}

	select {
	case client.send <- data:
		h.logger.Debug("Sent init data to client")
	default:
		h.logger.Warn("Failed to send init data, client buffer full")
	}
}

// BroadcastToVehicle 发送给订阅了该车辆的客户端
func (h *Hub) BroadcastToVehicle(vehicleID, msgType string, data interface{}) {
	h.enqueue(outbound{vehicleID: vehicleID}, msgType, data)
}

// BroadcastMessage 广播结构化消息给所有客户端
func (h *Hub) BroadcastMessage(msgType string, data interface{}) {
	h.enqueue(outbound{}, msgType, data)
}

// sendTo 只发给一个客户端
func (h *Hub) sendTo(client *Client, msgType string, data interface{}) {
	h.enqueue(outbound{client: client}, msgType, data)
}

func (h *Hub) enqueue(out outbound, msgType string, data interface{}) {
	jsonData, err := json.Marshal(Message{Type: msgType, Data: data})
	if err != nil {
		h.logger.Error("Failed to marshal broadcast message", zap.Error(err))
		return
	}
	out.data = jsonData

	select {
	case h.broadcast <- out:
	case <-h.done:
	}
}

// ClientCount 获取客户端数量
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// NewClient 创建客户端，vehicleIDs 为初始订阅
func NewClient(hub *Hub, conn *websocket.Conn, vehicleIDs ...string) *Client {
	c := &Client{
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		vehicles: make(map[string]bool),
	}
	for _, id := range vehicleIDs {
		c.subscribe(id)
	}
	return c
}

// Register 注册客户端
func (c *Client) Register() {
	select {
	case c.hub.register <- c:
	case <-c.hub.done:
	}
}

// Unregister 注销客户端
func (c *Client) Unregister() {
	select {
	case c.hub.unregister <- c:
	case <-c.hub.done:
	}
}

// Subscribed 是否订阅了车辆
func (c *Client) Subscribed(vehicleID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vehicles[vehicleID]
}

// Vehicles 订阅的车辆
func (c *Client) Vehicles() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.vehicles))
	for id := range c.vehicles {
		ids = append(ids, id)
	}
	return ids
}

func (c *Client) subscribe(vehicleID string) bool {
	if vehicleID == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.vehicles[vehicleID] {
		return false
	}
	c.vehicles[vehicleID] = true
	return true
}

// notifySubscribed 注册时上报初始订阅，与 handle 一样在客户端锁内执行
func (c *Client) notifySubscribed() {
	if c.hub.onSubscription == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	for id := range c.vehicles {
		c.hub.onSubscription(id, true)
	}
}

// close 标记关闭并返回关闭前的订阅
func (c *Client) close() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	ids := make([]string, 0, len(c.vehicles))
	for id := range c.vehicles {
		ids = append(ids, id)
	}
	c.vehicles = make(map[string]bool)
	return ids
}

// ReadPump 读取客户端的订阅消息
func (c *Client) ReadPump() {
	defer func() {
		c.Unregister()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("WebSocket read error", zap.Error(err))
			}
			return
		}
		c.handle(msg)
	}
}

// handle 处理订阅变化
// 回调在客户端锁内执行，与断开时的批量退订互斥，订阅计数不会错序
func (c *Client) handle(msg ClientMessage) {
	var subscribed bool
	switch msg.Type {
	case MsgTypeSubscribe:
		subscribed = true
	case MsgTypeUnsubscribe:
	default:
		c.hub.logger.Debug("Ignoring client message", zap.String("type", msg.Type))
		c.hub.sendTo(c, MsgTypeError, errorData{Error: "unknown message type: " + msg.Type})
		return
	}
	if msg.VehicleID == "" {
		c.hub.sendTo(c, MsgTypeError, errorData{Error: "vehicleId is required"})
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.vehicles[msg.VehicleID] == subscribed {
		return
	}
	if subscribed {
		c.vehicles[msg.VehicleID] = true
	} else {
		delete(c.vehicles, msg.VehicleID)
	}
	if c.hub.onSubscription != nil {
		c.hub.onSubscription(msg.VehicleID, subscribed)
	}
}

// WritePump 发送消息并定期 ping
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
