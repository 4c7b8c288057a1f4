package web

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"zwave-go-home/internal/commandclass"
	"zwave-go-home/internal/controller"
	"zwave-go-home/internal/serialapi"
	"zwave-go-home/internal/store"
	"zwave-go-home/internal/values"
)

// stubDriver implements serialapi.Driver for testing.
type stubDriver struct {
	sent    []serialapi.Request
	sendErr error
	handler func(serialapi.ApplicationCommand)
}

func (d *stubDriver) Version(context.Context) (string, error) { return "Z-Wave 4.05", nil }
func (d *stubDriver) MemoryGetID(context.Context) (uint32, uint8, error) {
	return 0xC0FFEE01, 1, nil
}
func (d *stubDriver) SendData(_ context.Context, req serialapi.Request) error {
	d.sent = append(d.sent, req)
	return d.sendErr
}
func (d *stubDriver) OnApplicationCommand(h func(serialapi.ApplicationCommand)) { d.handler = h }
func (d *stubDriver) Close() error                                             { return nil }

func setupTestServer(t *testing.T, apiKey string) (*Server, *controller.Controller, *stubDriver) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	registry := commandclass.NewRegistry(logger)
	commandclass.RegisterStandard(registry)

	db, err := store.NewBoltStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	driver := &stubDriver{}
	events := controller.NewEventBus(logger)
	ctrl := controller.New(driver, db, registry, values.NewStore(logger), events, logger)

	var opts []ServerOption
	if apiKey != "" {
		opts = append(opts, WithAPIKey(apiKey))
	}
	srv := NewServer(ctrl, logger, opts...)
	t.Cleanup(srv.Stop)

	return srv, ctrl, driver
}

func seedNode(t *testing.T, ctrl *controller.Controller, nodeID uint8) {
	t.Helper()
	err := ctrl.Nodes().Add(context.Background(), &store.Node{
		NodeID:         nodeID,
		FriendlyName:   "Front Door Lock",
		CommandClasses: []uint8{commandclass.ProtectionID},
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestAPIListNodes(t *testing.T) {
	srv, ctrl, _ := setupTestServer(t, "")
	seedNode(t, ctrl, 4)
	seedNode(t, ctrl, 7)

	req := httptest.NewRequest("GET", "/api/nodes", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var nodes []nodeView
	if err := json.NewDecoder(w.Body).Decode(&nodes); err != nil {
		t.Fatal(err)
	}
	if len(nodes) != 2 {
		t.Errorf("node count = %d, want 2", len(nodes))
	}
}

func TestAPIGetNode(t *testing.T) {
	srv, ctrl, _ := setupTestServer(t, "")
	seedNode(t, ctrl, 4)

	req := httptest.NewRequest("GET", "/api/nodes/4", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var view nodeView
	if err := json.NewDecoder(w.Body).Decode(&view); err != nil {
		t.Fatal(err)
	}
	if view.NodeID != 4 {
		t.Errorf("node_id = %d, want 4", view.NodeID)
	}
	if len(view.LiveValues) != 1 {
		t.Fatalf("live value count = %d, want 1", len(view.LiveValues))
	}
	lv := view.LiveValues[0]
	if lv.Label != "Protection" {
		t.Errorf("label = %q, want Protection", lv.Label)
	}
	if len(lv.Options) != 3 {
		t.Errorf("option count = %d, want 3", len(lv.Options))
	}
	if lv.Value != nil {
		t.Errorf("value = %v, want nil before first report", lv.Value)
	}
}

func TestAPIGetNodeNotFound(t *testing.T) {
	srv, _, _ := setupTestServer(t, "")

	req := httptest.NewRequest("GET", "/api/nodes/99", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestAPIGetNodeBadID(t *testing.T) {
	srv, _, _ := setupTestServer(t, "")

	req := httptest.NewRequest("GET", "/api/nodes/banana", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestAPIAddNode(t *testing.T) {
	srv, ctrl, driver := setupTestServer(t, "")

	body := `{"node_id": 9, "friendly_name": "Thermostat", "class_names": ["protection"]}`
	req := httptest.NewRequest("POST", "/api/nodes", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d, body = %s", w.Code, http.StatusCreated, w.Body.String())
	}

	if _, err := ctrl.Store().GetNode(9); err != nil {
		t.Fatalf("node not persisted: %v", err)
	}
	// Adding a node triggers the session state query.
	if len(driver.sent) != 1 {
		t.Fatalf("sent %d frames, want 1", len(driver.sent))
	}
	want := []byte{commandclass.ProtectionID, 0x02}
	if !bytes.Equal(driver.sent[0].Payload, want) {
		t.Errorf("payload = % X, want % X", driver.sent[0].Payload, want)
	}
}

func TestAPIAddNodeUnknownClass(t *testing.T) {
	srv, _, _ := setupTestServer(t, "")

	body := `{"node_id": 9, "class_names": ["teleport"]}`
	req := httptest.NewRequest("POST", "/api/nodes", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestAPIAddNodeNoClasses(t *testing.T) {
	srv, _, _ := setupTestServer(t, "")

	body := `{"node_id": 9}`
	req := httptest.NewRequest("POST", "/api/nodes", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestAPIRenameNode(t *testing.T) {
	srv, ctrl, _ := setupTestServer(t, "")
	seedNode(t, ctrl, 4)

	body := `{"friendly_name": "Back Door Lock"}`
	req := httptest.NewRequest("PATCH", "/api/nodes/4", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d, body = %s", w.Code, http.StatusNoContent, w.Body.String())
	}

	node, err := ctrl.Store().GetNode(4)
	if err != nil {
		t.Fatal(err)
	}
	if node.FriendlyName != "Back Door Lock" {
		t.Errorf("friendly_name = %q, want Back Door Lock", node.FriendlyName)
	}
}

func TestAPIDeleteNode(t *testing.T) {
	srv, ctrl, _ := setupTestServer(t, "")
	seedNode(t, ctrl, 4)

	req := httptest.NewRequest("DELETE", "/api/nodes/4", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if _, err := ctrl.Store().GetNode(4); err == nil {
		t.Error("expected node to be deleted")
	}
}

func TestAPISetValue(t *testing.T) {
	srv, ctrl, driver := setupTestServer(t, "")
	seedNode(t, ctrl, 4)
	driver.sent = nil

	body := `{"label": "Protection", "value": "No Operation Possible"}`
	req := httptest.NewRequest("POST", "/api/nodes/4/set", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d, body = %s", w.Code, http.StatusAccepted, w.Body.String())
	}
	if len(driver.sent) != 1 {
		t.Fatalf("sent %d frames, want 1", len(driver.sent))
	}
	want := []byte{commandclass.ProtectionID, 0x01, 0x02}
	if !bytes.Equal(driver.sent[0].Payload, want) {
		t.Errorf("payload = % X, want % X", driver.sent[0].Payload, want)
	}
}

func TestAPISetValueUnknownLabel(t *testing.T) {
	srv, ctrl, _ := setupTestServer(t, "")
	seedNode(t, ctrl, 4)

	body := `{"label": "Volume", "value": "11"}`
	req := httptest.NewRequest("POST", "/api/nodes/4/set", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d, body = %s", w.Code, http.StatusNotFound, w.Body.String())
	}
}

func TestAPISetValueBadOption(t *testing.T) {
	srv, ctrl, _ := setupTestServer(t, "")
	seedNode(t, ctrl, 4)

	body := `{"label": "Protection", "value": "Maximum Security"}`
	req := httptest.NewRequest("POST", "/api/nodes/4/set", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestAPINetwork(t *testing.T) {
	srv, ctrl, _ := setupTestServer(t, "")
	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest("GET", "/api/network", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var state store.NetworkState
	if err := json.NewDecoder(w.Body).Decode(&state); err != nil {
		t.Fatal(err)
	}
	if state.HomeID != 0xC0FFEE01 {
		t.Errorf("home_id = %08X, want C0FFEE01", state.HomeID)
	}
}

func TestAuthMiddleware(t *testing.T) {
	srv, _, _ := setupTestServer(t, "secret-key")

	tests := []struct {
		name string
		key  string
		want int
	}{
		{"correct key", "secret-key", http.StatusOK},
		{"wrong key", "wrong-key", http.StatusUnauthorized},
		{"missing key", "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/nodes", nil)
			if tt.key != "" {
				req.Header.Set("X-API-Key", tt.key)
			}
			w := httptest.NewRecorder()
			srv.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestAPIInvalidJSON(t *testing.T) {
	srv, _, _ := setupTestServer(t, "")

	req := httptest.NewRequest("POST", "/api/nodes", bytes.NewBufferString("{not json"))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}
