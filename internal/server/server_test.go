package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"planline/internal/config"
	"planline/internal/db"
	"planline/internal/domain"
	"planline/internal/engine"
	"planline/internal/migrate"
	"planline/internal/repo"
	planlinesdk "planline/sdk/go"
)

type testServer struct {
	URL    string
	engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, &config.Config{})
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{AllowLegacyActorHeader: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

var actorHeader = map[string]string{"X-Actor-Id": "tester"}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func importBody(portfolioID string) map[string]any {
	return map[string]any{
		"portfolio": map[string]any{"id": portfolioID},
		"items": []map[string]any{
			{
				"id":                "foundation",
				"duration":          8,
				"priority":          9,
				"requirements":      map[string]float64{"engineering": 4},
				"allowed_locations": []string{"*"},
			},
			{
				"id":                "rollout",
				"duration":          6,
				"priority":          5,
				"dependencies":      []string{"foundation"},
				"requirements":      map[string]float64{"engineering": 3},
				"allowed_locations": []string{"*"},
			},
		},
		"sites": []map[string]any{
			{"location_id": "north", "capacities": map[string]float64{"engineering": 8}, "cost_multiplier": 1.0},
		},
	}
}

func TestImportAndRunFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/portfolios", importBody("pf-api"), actorHeader)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("import status %d: %s", res.StatusCode, data)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/portfolios/pf-api/runs", map[string]any{}, actorHeader)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("run status %d: %s", res.StatusCode, data)
	}
	var run RunResponse
	if err := json.Unmarshal(data, &run); err != nil {
		t.Fatalf("unmarshal run: %v", err)
	}
	if run.Status != "succeeded" || run.Report == nil {
		t.Fatalf("run = %+v", run)
	}
	if run.Report.Summary.Horizon != 14 {
		t.Fatalf("horizon = %g", run.Report.Summary.Horizon)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/runs/"+run.ID, nil, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get run status %d: %s", res.StatusCode, data)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/portfolios/pf-api/events?type=run.completed", nil, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, data)
	}
	var events []EventResponse
	if err := json.Unmarshal(data, &events); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(events) != 1 || events[0].EntityID != run.ID {
		t.Fatalf("events = %+v", events)
	}
	if events[0].Payload["status"] != "succeeded" {
		t.Fatalf("event payload = %+v", events[0].Payload)
	}

	// The Go SDK must decode the same events, authenticated by API key.
	secret := createAPIKey(t, srv, "sdk-tester")
	cli := planlinesdk.New(srv.URL, "pf-api")
	cli.APIKey = secret
	sdkEvents, err := cli.Events(context.Background(), 10)
	if err != nil {
		t.Fatalf("sdk events: %v", err)
	}
	var completed *planlinesdk.Event
	for i := range sdkEvents {
		if sdkEvents[i].Type == "run.completed" {
			completed = &sdkEvents[i]
		}
	}
	if completed == nil || completed.EntityID != run.ID {
		t.Fatalf("sdk events = %+v", sdkEvents)
	}
	if completed.Payload["status"] != "succeeded" {
		t.Fatalf("sdk event payload = %+v", completed.Payload)
	}
}

func createAPIKey(t *testing.T, srv *testServer, actorID string) string {
	t.Helper()
	secret := "plk_" + actorID + "-secret"
	ctx := context.Background()
	tx, err := srv.engine.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}
	defer tx.Rollback()
	key := domain.APIKey{
		ID:        actorID + "-key",
		ActorID:   actorID,
		KeyHash:   repo.HashAPIKey(secret),
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if err := srv.engine.Repo.InsertAPIKey(ctx, tx, key); err != nil {
		t.Fatalf("insert api key: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	return secret
}

func TestRunCycleReturnsValidationError(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	body := map[string]any{
		"portfolio": map[string]any{"id": "pf-cycle"},
		"items": []map[string]any{
			{"id": "a", "duration": 1, "priority": 1, "dependencies": []string{"b"}, "allowed_locations": []string{"*"}},
			{"id": "b", "duration": 1, "priority": 1, "dependencies": []string{"a"}, "allowed_locations": []string{"*"}},
		},
		"sites": []map[string]any{
			{"location_id": "east", "cost_multiplier": 1.0},
		},
	}
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/portfolios", body, actorHeader)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("import status %d: %s", res.StatusCode, data)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/portfolios/pf-cycle/runs", map[string]any{}, actorHeader)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("run status %d: %s", res.StatusCode, data)
	}
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if envelope.Error.Code != "cyclic_dependency" {
		t.Fatalf("error code = %q: %s", envelope.Error.Code, data)
	}
}

func TestUnauthorizedWithoutCredentials(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, _ := doJSON(t, client, http.MethodGet, srv.URL+"/v0/portfolios", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", res.StatusCode)
	}

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d, want 200", res.StatusCode)
	}
}

func TestGetUnknownRun(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/runs/ghost", nil, actorHeader)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status %d: %s", res.StatusCode, data)
	}
}
