package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"
)

type subscriptionLog struct {
	mu     sync.Mutex
	counts map[string]int
}

func (l *subscriptionLog) handle(vehicleID string, subscribed bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if subscribed {
		l.counts[vehicleID]++
	} else {
		l.counts[vehicleID]--
	}
}

func (l *subscriptionLog) count(vehicleID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts[vehicleID]
}

func newTestServer(t *testing.T) (*Hub, *subscriptionLog, *httptest.Server) {
	t.Helper()
	hub := NewHub(zaptest.NewLogger(t))
	subs := &subscriptionLog{counts: make(map[string]int)}
	hub.SetSubscriptionHandler(subs.handle)
	hub.SetInitDataProvider(func(vehicleIDs []string) interface{} {
		return map[string]interface{}{"vehicles": vehicleIDs}
	})
	go hub.Run()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := NewClient(hub, conn, r.URL.Query().Get("vehicle_id"))
		client.Register()
		go client.WritePump()
		go client.ReadPump()
	}))

	t.Cleanup(func() {
		srv.Close()
		hub.Close()
	})
	return hub, subs, srv
}

func dial(t *testing.T, srv *httptest.Server, vehicleID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?vehicle_id=" + vehicleID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn, wait time.Duration) (Message, bool) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(wait))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return Message{}, false
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return msg, true
}

func waitCount(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestHubDeliversOnlyToSubscribedClients(t *testing.T) {
	hub, subs, srv := newTestServer(t)

	one := dial(t, srv, "vehicle-1")
	two := dial(t, srv, "vehicle-2")

	for _, conn := range []*websocket.Conn{one, two} {
		msg, ok := readMessage(t, conn, time.Second)
		if !ok || msg.Type != MsgTypeInit {
			t.Fatalf("first message = %+v, %v", msg, ok)
		}
	}
	waitCount(t, func() bool { return hub.ClientCount() == 2 })
	if subs.count("vehicle-1") != 1 || subs.count("vehicle-2") != 1 {
		t.Fatalf("subscriptions = %v", subs.counts)
	}

	hub.BroadcastToVehicle("vehicle-1", MsgTypeStateUpdate, map[string]string{"vehicleId": "vehicle-1"})

	msg, ok := readMessage(t, one, time.Second)
	if !ok || msg.Type != MsgTypeStateUpdate {
		t.Fatalf("vehicle-1 client got %+v, %v", msg, ok)
	}
	if msg, ok := readMessage(t, two, 100*time.Millisecond); ok {
		t.Errorf("vehicle-2 client received %+v", msg)
	}
}

func TestHubClientSubscribeMessage(t *testing.T) {
	hub, subs, srv := newTestServer(t)

	conn := dial(t, srv, "")
	if _, ok := readMessage(t, conn, time.Second); !ok {
		t.Fatal("no init message")
	}

	if err := conn.WriteJSON(ClientMessage{Type: MsgTypeSubscribe, VehicleID: "vehicle-3"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitCount(t, func() bool { return subs.count("vehicle-3") == 1 })

	hub.BroadcastToVehicle("vehicle-3", MsgTypeAlert, map[string]string{"id": "a1"})
	msg, ok := readMessage(t, conn, time.Second)
	if !ok || msg.Type != MsgTypeAlert {
		t.Fatalf("got %+v, %v", msg, ok)
	}

	conn.Close()
	waitCount(t, func() bool { return hub.ClientCount() == 0 })
	waitCount(t, func() bool { return subs.count("vehicle-3") == 0 })
}

func TestHubBroadcastMessageReachesEveryone(t *testing.T) {
	hub, _, srv := newTestServer(t)

	a := dial(t, srv, "vehicle-1")
	b := dial(t, srv, "")
	readMessage(t, a, time.Second)
	readMessage(t, b, time.Second)

	hub.BroadcastMessage(MsgTypeConnection, map[string]bool{"connected": false})
	for _, conn := range []*websocket.Conn{a, b} {
		msg, ok := readMessage(t, conn, time.Second)
		if !ok || msg.Type != MsgTypeConnection {
			t.Fatalf("got %+v, %v", msg, ok)
		}
		if data, _ := msg.Data.(map[string]interface{}); data["connected"] != false {
			t.Errorf("data = %v", msg.Data)
		}
	}
}

func TestClientHandleIgnoredAfterClose(t *testing.T) {
	hub := NewHub(zaptest.NewLogger(t))
	subs := &subscriptionLog{counts: make(map[string]int)}
	hub.SetSubscriptionHandler(subs.handle)

	c := NewClient(hub, nil)

	cases := []struct {
		name string
		msg  ClientMessage
		want int
	}{
		{"subscribe", ClientMessage{Type: MsgTypeSubscribe, VehicleID: "vehicle-2"}, 1},
		{"duplicate subscribe", ClientMessage{Type: MsgTypeSubscribe, VehicleID: "vehicle-2"}, 1},
		{"unsubscribe", ClientMessage{Type: MsgTypeUnsubscribe, VehicleID: "vehicle-2"}, 0},
		{"duplicate unsubscribe", ClientMessage{Type: MsgTypeUnsubscribe, VehicleID: "vehicle-2"}, 0},
		{"resubscribe", ClientMessage{Type: MsgTypeSubscribe, VehicleID: "vehicle-2"}, 1},
	}
	for _, tc := range cases {
		c.handle(tc.msg)
		if got := subs.count("vehicle-2"); got != tc.want {
			t.Fatalf("%s: count = %d, want %d", tc.name, got, tc.want)
		}
	}

	// 断开后释放订阅，之后到达的订阅消息不再生效
	for _, id := range c.close() {
		subs.handle(id, false)
	}
	c.handle(ClientMessage{Type: MsgTypeSubscribe, VehicleID: "vehicle-3"})
	if subs.count("vehicle-2") != 0 || subs.count("vehicle-3") != 0 {
		t.Errorf("counts after close = %v", subs.counts)
	}
	if c.Subscribed("vehicle-3") {
		t.Error("closed client recorded a subscription")
	}
}

func TestHubErrorReplyOnlyToSender(t *testing.T) {
	hub, subs, srv := newTestServer(t)

	sender := dial(t, srv, "vehicle-1")
	other := dial(t, srv, "vehicle-1")
	readMessage(t, sender, time.Second)
	readMessage(t, other, time.Second)
	waitCount(t, func() bool { return hub.ClientCount() == 2 })

	cases := []ClientMessage{
		{Type: "reboot", VehicleID: "vehicle-1"},
		{Type: MsgTypeSubscribe},
	}
	for _, m := range cases {
		if err := sender.WriteJSON(m); err != nil {
			t.Fatalf("write: %v", err)
		}
		msg, ok := readMessage(t, sender, time.Second)
		if !ok || msg.Type != MsgTypeError {
			t.Fatalf("reply to %+v = %+v, %v", m, msg, ok)
		}
	}

	if msg, ok := readMessage(t, other, 100*time.Millisecond); ok {
		t.Errorf("other client received %+v", msg)
	}
	if subs.count("vehicle-1") != 2 {
		t.Errorf("subscriptions = %v", subs.counts)
	}
}
