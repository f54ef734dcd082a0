package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"

	"github.com/langchou/vehicleguard/internal/feed"
	"github.com/langchou/vehicleguard/internal/models"
	"github.com/langchou/vehicleguard/internal/repository"
	"github.com/langchou/vehicleguard/internal/session"
	"github.com/langchou/vehicleguard/internal/telemetry"
	"github.com/langchou/vehicleguard/internal/view"
	"github.com/langchou/vehicleguard/pkg/ws"
)

type testEnv struct {
	router *gin.Engine
	feed   *feed.Service
	maps   *view.MapViews
	store  *session.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zaptest.NewLogger(t)

	creds, err := session.DefaultCredentials()
	if err != nil {
		t.Fatalf("DefaultCredentials() error = %v", err)
	}
	store := session.NewStore(logger, session.NewMemorySlot(), creds, 0)

	svc := feed.NewService(feed.Options{
		TickInterval:       time.Hour,
		DefaultVehicleID:   "vehicle-1",
		AlertCapacity:      10,
		CommandSuccessRate: 1,
	}, logger, telemetry.NewStationary(telemetry.Options{BaseLatitude: 28.6139, BaseLongitude: 77.2090}), nil)
	store.OnChange(svc.SessionListener(context.Background()))
	t.Cleanup(svc.Stop)

	hub := ws.NewHub(logger)
	go hub.Run()
	t.Cleanup(hub.Close)

	now := time.Date(2024, 1, 20, 18, 0, 0, 0, time.UTC)
	maps := view.NewMapViews(50)
	h := NewHandler(
		logger,
		store,
		NewTokenIssuer("test-secret", time.Hour),
		svc,
		maps,
		repository.NewMemoryTrips(repository.SampleTrips()),
		view.NewTripBrowser(func() time.Time { return now }),
		hub,
		"vehicle-1",
	)

	r := gin.New()
	h.RegisterRoutes(r)
	return &testEnv{router: r, feed: svc, maps: maps, store: store}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var out map[string]interface{}
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

func (e *testEnv) login(t *testing.T) string {
	t.Helper()
	w, out := e.do(t, http.MethodPost, "/api/auth/login", "", gin.H{"username": "admin", "password": "admin123"})
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d, body = %s", w.Code, w.Body.String())
	}
	data := out["data"].(map[string]interface{})
	return data["token"].(string)
}

func waitUntil(t *testing.T, cond func() bool) {
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

func TestLogin(t *testing.T) {
	cases := []struct {
		name     string
		body     interface{}
		wantCode int
		wantErr  string
	}{
		{"valid", gin.H{"username": "admin", "password": "admin123"}, http.StatusOK, ""},
		{"trimmed", gin.H{"username": " demo ", "password": " demo123 "}, http.StatusOK, ""},
		{"wrong password", gin.H{"username": "admin", "password": "wrong"}, http.StatusUnauthorized, "invalid username or password"},
		{"unknown user", gin.H{"username": "ghost", "password": "admin123"}, http.StatusUnauthorized, "invalid username or password"},
		{"missing fields", gin.H{"username": "admin"}, http.StatusBadRequest, "Invalid request"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			env := newTestEnv(t)
			w, out := env.do(t, http.MethodPost, "/api/auth/login", "", c.body)
			if w.Code != c.wantCode {
				t.Fatalf("status = %d, want %d (%s)", w.Code, c.wantCode, w.Body.String())
			}
			if c.wantErr != "" {
				if out["error"] != c.wantErr {
					t.Errorf("error = %v, want %q", out["error"], c.wantErr)
				}
				return
			}

			data := out["data"].(map[string]interface{})
			user := data["user"].(map[string]interface{})
			if _, ok := user["password"]; ok {
				t.Error("user payload contains password")
			}
			if data["token"] == "" {
				t.Error("empty token")
			}
			if !env.feed.Connected() {
				t.Error("feed not started after login")
			}
		})
	}
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	env := newTestEnv(t)

	if w, _ := env.do(t, http.MethodGet, "/api/feed", "", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d", w.Code)
	}
	if w, _ := env.do(t, http.MethodGet, "/api/feed", "garbage", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("bad token: status = %d", w.Code)
	}

	token := env.login(t)
	w, out := env.do(t, http.MethodGet, "/api/feed", token, nil)
	if w.Code != http.StatusOK {
		t.Errorf("valid token: status = %d", w.Code)
	}
	data, _ := out["data"].(map[string]interface{})
	if active, ok := data["activeTrips"].([]interface{}); !ok || len(active) != 0 {
		t.Errorf("activeTrips = %v", data["activeTrips"])
	}

	if w, _ := env.do(t, http.MethodPost, "/api/auth/logout", token, nil); w.Code != http.StatusOK {
		t.Fatalf("logout status = %d", w.Code)
	}
	if env.feed.Connected() {
		t.Error("feed still running after logout")
	}
	if w, _ := env.do(t, http.MethodGet, "/api/feed", token, nil); w.Code != http.StatusUnauthorized {
		t.Errorf("token after logout: status = %d", w.Code)
	}
}

func TestUpdateMe(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)

	w, out := env.do(t, http.MethodPatch, "/api/auth/me", token, gin.H{"email": "ops@vehicleguard.com"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	data := out["data"].(map[string]interface{})
	if data["email"] != "ops@vehicleguard.com" || data["username"] != "admin" {
		t.Errorf("data = %v", data)
	}

	if w, _ := env.do(t, http.MethodPatch, "/api/auth/me", token, gin.H{"username": "  "}); w.Code != http.StatusBadRequest {
		t.Errorf("blank username: status = %d", w.Code)
	}
}

func TestVehicleStatusAndDashboard(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)

	waitUntil(t, func() bool {
		_, ok := env.feed.Status("vehicle-1")
		return ok
	})

	w, out := env.do(t, http.MethodGet, "/api/vehicles/vehicle-1/status", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if data := out["data"].(map[string]interface{}); data["vehicleId"] != "vehicle-1" {
		t.Errorf("data = %v", data)
	}

	if w, _ := env.do(t, http.MethodGet, "/api/vehicles/vehicle-9/status", token, nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown vehicle: status = %d", w.Code)
	}

	w, out = env.do(t, http.MethodGet, "/api/dashboard/vehicle-1", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("dashboard status = %d", w.Code)
	}
	if data := out["data"].(map[string]interface{}); data["connected"] != true || data["status"] == nil {
		t.Errorf("dashboard = %v", data)
	}
}

func TestAlertActionsOnMissingID(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)

	for _, path := range []string{"/api/alerts/missing/ack", "/api/alerts/missing/read"} {
		w, out := env.do(t, http.MethodPost, path, token, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("%s status = %d", path, w.Code)
		}
		if data := out["data"].(map[string]interface{}); data["updated"] != false {
			t.Errorf("%s updated = %v", path, data["updated"])
		}
	}

	if w, _ := env.do(t, http.MethodGet, "/api/alerts?severity=critical", token, nil); w.Code != http.StatusBadRequest {
		t.Errorf("invalid severity: status = %d", w.Code)
	}
	if w, _ := env.do(t, http.MethodGet, "/api/alerts?severity=high&unread=true", token, nil); w.Code != http.StatusOK {
		t.Errorf("filtered alerts: status = %d", w.Code)
	}
}

func TestSendCommand(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)

	cases := []struct {
		name     string
		body     interface{}
		wantCode int
	}{
		{"lock", gin.H{"command": "lock"}, http.StatusOK},
		{"engine cutoff", gin.H{"command": "engine_cutoff"}, http.StatusOK},
		{"unknown", gin.H{"command": "self_destruct"}, http.StatusBadRequest},
		{"missing", gin.H{}, http.StatusBadRequest},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			w, out := env.do(t, http.MethodPost, "/api/vehicles/vehicle-1/commands", token, c.body)
			if w.Code != c.wantCode {
				t.Fatalf("status = %d, want %d", w.Code, c.wantCode)
			}
			if c.wantCode == http.StatusOK {
				if data := out["data"].(map[string]interface{}); data["success"] != true {
					t.Errorf("data = %v", data)
				}
			}
		})
	}
}

func TestSubscriptionAndTrail(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)

	// 未订阅的车辆不会创建视图
	for _, path := range []string{"/api/vehicles/vehicle-9/trail", "/api/vehicles/vehicle-2/trail"} {
		if w, _ := env.do(t, http.MethodGet, path, token, nil); w.Code != http.StatusNotFound {
			t.Errorf("GET %s: status = %d, want 404", path, w.Code)
		}
	}
	if w, _ := env.do(t, http.MethodPost, "/api/vehicles/vehicle-9/center", token, nil); w.Code != http.StatusNotFound {
		t.Errorf("center untracked: status = %d, want 404", w.Code)
	}
	if _, ok := env.maps.Lookup("vehicle-9"); ok {
		t.Error("read-only request created a map view")
	}

	w, out := env.do(t, http.MethodPost, "/api/vehicles/vehicle-2/subscription", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("subscribe status = %d", w.Code)
	}
	if data := out["data"].(map[string]interface{}); data["subscribers"] != float64(1) {
		t.Errorf("subscribers = %v", data["subscribers"])
	}

	env.maps.Observe(models.VehicleStatus{
		VehicleID: "vehicle-2",
		Location:  models.Location{Latitude: 28.6, Longitude: 77.2},
	})

	w, out = env.do(t, http.MethodGet, "/api/vehicles/vehicle-2/trail", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("trail status = %d", w.Code)
	}
	data := out["data"].(map[string]interface{})
	if trail := data["trail"].([]interface{}); len(trail) != 1 {
		t.Errorf("trail = %v", trail)
	}

	if w, _ := env.do(t, http.MethodPut, "/api/vehicles/vehicle-2/follow", token, gin.H{}); w.Code != http.StatusBadRequest {
		t.Errorf("follow without flag: status = %d", w.Code)
	}
	w, out = env.do(t, http.MethodPut, "/api/vehicles/vehicle-2/follow", token, gin.H{"follow": false})
	if w.Code != http.StatusOK || out["data"].(map[string]interface{})["follow"] != false {
		t.Errorf("follow off: %d %v", w.Code, out)
	}

	w, out = env.do(t, http.MethodPost, "/api/vehicles/vehicle-2/center", token, nil)
	if w.Code != http.StatusOK || out["centered"] != true {
		t.Errorf("center: %d %v", w.Code, out)
	}

	w, out = env.do(t, http.MethodDelete, "/api/vehicles/vehicle-2/subscription", token, nil)
	if w.Code != http.StatusOK || out["data"].(map[string]interface{})["subscribers"] != float64(0) {
		t.Errorf("unsubscribe: %d %v", w.Code, out)
	}
	if _, ok := env.maps.Lookup("vehicle-2"); ok {
		t.Error("map view kept after last unsubscribe")
	}
	if w, _ := env.do(t, http.MethodGet, "/api/vehicles/vehicle-2/trail", token, nil); w.Code != http.StatusNotFound {
		t.Errorf("trail after unsubscribe: status = %d, want 404", w.Code)
	}
}

func TestTrips(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)

	cases := []struct {
		name      string
		path      string
		wantCode  int
		wantTotal float64
	}{
		{"all", "/api/trips", http.StatusOK, 3},
		{"today", "/api/trips?date=today", http.StatusOK, 2},
		{"yesterday", "/api/trips?date=yesterday", http.StatusOK, 1},
		{"search", "/api/trips?search=3", http.StatusOK, 1},
		{"paged", "/api/trips?page=2&per_page=2", http.StatusOK, 3},
		{"bad date", "/api/trips?date=decade", http.StatusBadRequest, 0},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			w, out := env.do(t, http.MethodGet, c.path, token, nil)
			if w.Code != c.wantCode {
				t.Fatalf("status = %d, want %d", w.Code, c.wantCode)
			}
			if c.wantCode != http.StatusOK {
				return
			}
			p := out["pagination"].(map[string]interface{})
			if p["total"] != c.wantTotal {
				t.Errorf("total = %v, want %v", p["total"], c.wantTotal)
			}
		})
	}

	w, out := env.do(t, http.MethodGet, "/api/trips/stats", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("stats status = %d", w.Code)
	}
	stats := out["data"].(map[string]interface{})
	if stats["totalDistance"] != 56.4 || stats["avgDistance"] != 18.8 || stats["totalTrips"] != float64(3) {
		t.Errorf("stats = %v", stats)
	}

	w, out = env.do(t, http.MethodGet, "/api/trips/1", token, nil)
	if w.Code != http.StatusOK {
		t.Errorf("get trip: status = %d", w.Code)
	}
	if data, _ := out["data"].(map[string]interface{}); data["id"] != "1" || data["fuelEfficiency"] != 8.3 {
		t.Errorf("trip detail = %v", out["data"])
	}
	if w, _ := env.do(t, http.MethodGet, "/api/trips/42", token, nil); w.Code != http.StatusNotFound {
		t.Errorf("missing trip: status = %d", w.Code)
	}
}

func TestTokenIssuer(t *testing.T) {
	issuer := NewTokenIssuer("secret", time.Minute)
	sess := &models.Session{ID: "1", Username: "admin", Role: models.RoleAdmin}

	token, err := issuer.Issue(sess)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	claims, err := issuer.Parse(token)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if claims.Subject != "1" || claims.Role != models.RoleAdmin {
		t.Errorf("claims = %+v", claims)
	}

	if _, err := NewTokenIssuer("other", time.Minute).Parse(token); err == nil {
		t.Error("token accepted with wrong secret")
	}

	expired := NewTokenIssuer("secret", time.Minute)
	expired.now = func() time.Time { return time.Now().Add(time.Hour) }
	if _, err := expired.Parse(token); err == nil {
		t.Error("expired token accepted")
	}
}

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t)
	w, out := env.do(t, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK || out["status"] != "ok" {
		t.Errorf("health = %d %v", w.Code, out)
	}
	if out["connected"] != false || out["alert_capacity"] != float64(10) {
		t.Errorf("health = %v", out)
	}
	idleSince, _ := out["since"].(string)

	env.login(t)
	waitUntil(t, func() bool { return env.feed.Connected() })

	_, out = env.do(t, http.MethodGet, "/health", "", nil)
	if out["connected"] != true {
		t.Errorf("connected = %v after login", out["connected"])
	}
	if since, _ := out["since"].(string); since == "" || since == idleSince {
		t.Errorf("since = %q, idle since = %q", since, idleSince)
	}
}
