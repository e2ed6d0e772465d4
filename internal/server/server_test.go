package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"conecta/internal/config"
	"conecta/internal/db"
	"conecta/internal/migrate"
	"conecta/internal/workflow"
)

const testJWTSecret = "test-secret"

type testServer struct {
	URL    string
	Engine workflow.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := workflow.New(conn, config.Default())
	handler, err := New(Config{Engine: e, BasePath: "/v1", Auth: AuthConfig{JWTSecret: testJWTSecret}})
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
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

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

func authHeaders(t *testing.T, actorID, name, role string) map[string]string {
	t.Helper()
	token, err := signToken(testJWTSecret, actorID, name, role, 3600e9)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + token}
}

func submitTestIdea(t *testing.T, srv *testServer) string {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/ideas", map[string]any{
		"title":       "Ciclovia na avenida",
		"description": "Faixa exclusiva para bicicletas",
		"category":    "transporte",
	}, authHeaders(t, "mor-1", "Maria", "comunidade"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("submit idea status %d: %s", res.StatusCode, string(data))
	}
	var idea IdeaResponse
	if err := json.Unmarshal(data, &idea); err != nil {
		t.Fatalf("unmarshal idea: %v", err)
	}
	return idea.ID
}

func TestSubmitRequiresAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, _ := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/ideas", map[string]any{
		"title":       "x",
		"description": "y",
		"category":    "outros",
	}, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d, want 401", res.StatusCode)
	}
}

func TestCommunityCannotTriage(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ideaID := submitTestIdea(t, srv)
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/ideas/"+ideaID+"/triage", map[string]any{
		"target": "em_analise",
	}, authHeaders(t, "mor-1", "Maria", "comunidade"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("status %d, want 403: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	_ = json.Unmarshal(data, &envelope)
	if envelope.Error.Code != "forbidden" {
		t.Fatalf("code = %q, want forbidden", envelope.Error.Code)
	}
}

func TestIllegalTransitionIs422(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ideaID := submitTestIdea(t, srv)
	// pendente cannot be assigned directly
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/ideas/"+ideaID+"/assign", map[string]any{
		"course": "ADS", "class": "2A", "semester": "2026-1", "professor": "Prof. Silva",
	}, authHeaders(t, "coo-1", "Paula", "coordenacao"))
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status %d, want 422: %s", res.StatusCode, string(data))
	}
}

func TestAssignValidation400(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ideaID := submitTestIdea(t, srv)
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/ideas/"+ideaID+"/triage", map[string]any{
		"target": "aprovada",
	}, authHeaders(t, "med-1", "Carlos", "mediador"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("approve status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/ideas/"+ideaID+"/assign", map[string]any{
		"course": "ADS", "class": "2A", "semester": "2026-1", "professor": "",
	}, authHeaders(t, "coo-1", "Paula", "coordenacao"))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d, want 400: %s", res.StatusCode, string(data))
	}
}

func TestPublicTrackerWithoutCredentials(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ideaID := submitTestIdea(t, srv)
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/ideas/"+ideaID+"/triage", map[string]any{
		"target": "aprovada",
	}, authHeaders(t, "med-1", "Carlos", "mediador"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("approve status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/ideas/"+ideaID+"/assign", map[string]any{
		"course": "ADS", "class": "2A", "semester": "2026-1", "professor": "Prof. Silva",
	}, authHeaders(t, "coo-1", "Paula", "coordenacao"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("assign status %d: %s", res.StatusCode, string(data))
	}

	// no Authorization header at all
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/projects", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("tracker status %d: %s", res.StatusCode, string(data))
	}
	var page pagedProjects
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("unmarshal tracker: %v", err)
	}
	if page.Total != 1 || len(page.Items) != 1 {
		t.Fatalf("tracker total = %d items = %d", page.Total, len(page.Items))
	}
	if page.Items[0].Status != "em_desenvolvimento" {
		t.Fatalf("tracker status = %s", page.Items[0].Status)
	}
}

func TestIdeaListRequiresAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/ideas", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d, want 401", res.StatusCode)
	}
}

func TestStudentLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ideaID := submitTestIdea(t, srv)
	for _, step := range []struct {
		actor map[string]string
		body  map[string]any
	}{
		{authHeaders(t, "med-1", "Carlos", "mediador"), map[string]any{"target": "em_analise", "notes": "analisando"}},
		{authHeaders(t, "coo-1", "Paula", "coordenacao"), map[string]any{"target": "aprovada"}},
	} {
		res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/ideas/"+ideaID+"/triage", step.body, step.actor)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("triage status %d: %s", res.StatusCode, string(data))
		}
	}
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/ideas/"+ideaID+"/assign", map[string]any{
		"course": "ADS", "class": "2A", "semester": "2026-1", "professor": "Prof. Silva",
	}, authHeaders(t, "coo-1", "Paula", "coordenacao"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("assign status %d: %s", res.StatusCode, string(data))
	}
	var assigned struct {
		Idea    IdeaResponse    `json:"idea"`
		Project ProjectResponse `json:"project"`
	}
	if err := json.Unmarshal(data, &assigned); err != nil {
		t.Fatalf("unmarshal assign: %v", err)
	}
	projectID := assigned.Project.ID

	student := authHeaders(t, "alu-1", "Joao", "estudante")
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/projects/"+projectID+"/claim", map[string]any{
		"course": "ADS", "semester": "4",
	}, student)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("claim status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/projects/"+projectID+"/updates", map[string]any{
		"message": "levantamento concluido",
	}, student)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("post update status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodPatch, srv.URL+"/v1/projects/"+projectID+"/progress", map[string]any{
		"value": 40,
	}, student)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("progress status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodPatch, srv.URL+"/v1/projects/"+projectID+"/status", map[string]any{
		"status": "testando",
	}, student)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status change %d: %s", res.StatusCode, string(data))
	}
	var p ProjectResponse
	if err := json.Unmarshal(data, &p); err != nil {
		t.Fatalf("unmarshal project: %v", err)
	}
	if p.Status != "testando" || p.Progress != 40 {
		t.Fatalf("project = %s/%d", p.Status, p.Progress)
	}

	// another student is locked out
	res, data = doJSON(t, srv.Client(), http.MethodPatch, srv.URL+"/v1/projects/"+projectID+"/progress", map[string]any{
		"value": 99,
	}, authHeaders(t, "alu-2", "Ana", "estudante"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("non-owner status %d: %s", res.StatusCode, string(data))
	}

	// public updates feed
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/projects/"+projectID+"/updates", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("updates status %d: %s", res.StatusCode, string(data))
	}
	var updates []ProjectUpdateResponse
	if err := json.Unmarshal(data, &updates); err != nil {
		t.Fatalf("unmarshal updates: %v", err)
	}
	if len(updates) != 1 || updates[0].Message != "levantamento concluido" {
		t.Fatalf("updates = %+v", updates)
	}
}

func TestDevLoginAndMe(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/auth/dev/login", map[string]any{
		"actor_id": "med-1",
		"name":     "Carlos",
		"role":     "mediador",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login status %d: %s", res.StatusCode, string(data))
	}
	var login DevLoginResponse
	if err := json.Unmarshal(data, &login); err != nil {
		t.Fatalf("unmarshal login: %v", err)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{
		"Authorization": "Bearer " + login.Token,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", res.StatusCode, string(data))
	}
	var who WhoAmIResponse
	if err := json.Unmarshal(data, &who); err != nil {
		t.Fatalf("unmarshal me: %v", err)
	}
	if who.ActorID != "med-1" || who.Role != "mediador" {
		t.Fatalf("me = %+v", who)
	}
}

func TestEventsTail(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ideaID := submitTestIdea(t, srv)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/events?entity_kind=idea&entity_id="+ideaID, nil,
		authHeaders(t, "coo-1", "Paula", "coordenacao"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, string(data))
	}
	var events []EventResponse
	if err := json.Unmarshal(data, &events); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(events) != 1 || events[0].Type != "idea.submitted" {
		t.Fatalf("events = %+v", events)
	}
}
