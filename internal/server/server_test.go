package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"civicflow/internal/app"
	"civicflow/internal/config"
	"civicflow/internal/db"
	"civicflow/internal/domain"
	"civicflow/internal/events"
	"civicflow/internal/migrate"
	"civicflow/internal/repo"
)

const testSecret = "test-secret"

var t0 = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

type testServer struct {
	URL    string
	Core   *app.Core
	Repo   repo.Repo
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Actors.LocalUser = "You"
	cfg.Actors.Admins = []string{"admin"}
	return cfg
}

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
	r := repo.Repo{DB: conn}
	logger := log.New(io.Discard, "", 0)
	core := app.New(app.Options{
		Config: testConfig(),
		State:  r,
		Logger: logger,
		Now:    func() time.Time { return t0 },
	})
	if err := core.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	handler, err := New(Config{
		Core:     core,
		Repo:     &r,
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: testSecret, AllowLegacyActorHeader: true, Logger: logger},
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
		Core:   core,
		Repo:   r,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func as(actor string) map[string]string {
	return map[string]string{"X-Actor-Id": actor}
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

func submitIssue(t *testing.T, srv *testServer, reporter, address string) IssueResponse {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/issues", map[string]any{
		"category":    "Roads",
		"address":     address,
		"description": "Pothole near " + address,
	}, as(reporter))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("submit status %d: %s", res.StatusCode, string(data))
	}
	var issue IssueResponse
	if err := json.Unmarshal(data, &issue); err != nil {
		t.Fatalf("unmarshal issue: %v", err)
	}
	return issue
}

func act(t *testing.T, srv *testServer, id, actor, action string) (*http.Response, []byte) {
	t.Helper()
	return doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/issues/"+id+"/actions", map[string]any{"action": action}, as(actor))
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return env.Error.Code
}

func TestIssueLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	issue := submitIssue(t, srv, "ravi", "12 MG Road")
	if issue.Status != domain.StatusPending || issue.Reporter != "ravi" {
		t.Fatalf("submitted issue: %+v", issue)
	}

	steps := []struct {
		actor, action string
		want          domain.Status
	}{
		{"amit", "verify", domain.StatusVerified},
		{"You", "accept", domain.StatusInProgress},
		{"You", "report-fixed", domain.StatusFixed},
		{"admin", "confirm_solved", domain.StatusSolved},
	}
	var last ActionResponse
	for _, step := range steps {
		res, data := act(t, srv, issue.ID, step.actor, step.action)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("%s status %d: %s", step.action, res.StatusCode, string(data))
		}
		if err := json.Unmarshal(data, &last); err != nil {
			t.Fatalf("unmarshal action: %v", err)
		}
		if last.Issue.Status != step.want || len(last.Notifications) != 1 {
			t.Fatalf("%s: %+v", step.action, last)
		}
		if step.action == "accept" {
			if last.Issue.Deadline == nil || !last.Issue.Deadline.Equal(t0.Add(2*time.Minute)) {
				t.Fatalf("deadline: %+v", last.Issue.Deadline)
			}
			if last.Issue.RemainingSeconds == nil || *last.Issue.RemainingSeconds != 120 {
				t.Fatalf("remaining: %+v", last.Issue.RemainingSeconds)
			}
		}
	}
	if last.Award == nil || last.Award.Points != 150 || last.Award.ActorID != "You" {
		t.Fatalf("award: %+v", last.Award)
	}

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/profile", nil, as("You"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("profile status %d: %s", res.StatusCode, string(data))
	}
	var p domain.UserProfile
	_ = json.Unmarshal(data, &p)
	if p.Points != 150 || p.SolvedCount != 1 {
		t.Fatalf("profile: %+v", p)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/notifications?unread=true", nil, as("You"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("notifications status %d: %s", res.StatusCode, string(data))
	}
	var notes NotificationListResponse
	_ = json.Unmarshal(data, &notes)
	if len(notes.Items) != 4 || notes.UnreadCount != 4 || notes.Items[0].Title != "Issue Solved!" {
		t.Fatalf("notifications: %+v", notes)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/notifications/"+notes.Items[0].ID+"/read", nil, as("You"))
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("read status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/notifications/read-all", nil, as("You"))
	var marked MarkAllReadResponse
	_ = json.Unmarshal(data, &marked)
	if res.StatusCode != http.StatusOK || marked.Marked != 3 {
		t.Fatalf("read-all %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/stats", nil, as("admin"))
	var stats domain.Stats
	_ = json.Unmarshal(data, &stats)
	if res.StatusCode != http.StatusOK || stats.Total != 1 || stats.ByStatus[domain.StatusSolved] != 1 {
		t.Fatalf("stats %d: %s", res.StatusCode, string(data))
	}
}

func TestErrorEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	issue := submitIssue(t, srv, "ravi", "Lake View")

	if res, data := act(t, srv, issue.ID, "bob", "accept"); res.StatusCode != http.StatusOK {
		t.Fatalf("accept: %d %s", res.StatusCode, string(data))
	}
	cases := []struct {
		name       string
		method     string
		path       string
		body       any
		headers    map[string]string
		wantStatus int
		wantCode   string
	}{
		{"double accept", http.MethodPost, "/v0/issues/" + issue.ID + "/actions", map[string]any{"action": "accept"}, as("eve"), http.StatusConflict, "conflict"},
		{"fix by stranger", http.MethodPost, "/v0/issues/" + issue.ID + "/actions", map[string]any{"action": "report_fixed"}, as("eve"), http.StatusForbidden, "forbidden"},
		{"unknown action", http.MethodPost, "/v0/issues/" + issue.ID + "/actions", map[string]any{"action": "escalate"}, as("eve"), http.StatusBadRequest, "bad_request"},
		{"missing issue", http.MethodGet, "/v0/issues/nope", nil, as("eve"), http.StatusNotFound, "not_found"},
		{"delete by user", http.MethodDelete, "/v0/issues/" + issue.ID, nil, as("eve"), http.StatusForbidden, "forbidden"},
		{"empty description", http.MethodPost, "/v0/issues", map[string]any{"address": "Elsewhere", "description": ""}, as("eve"), http.StatusUnprocessableEntity, "validation_failed"},
		{"duplicate", http.MethodPost, "/v0/issues", map[string]any{"address": "lake view", "description": "again"}, as("eve"), http.StatusConflict, "conflict"},
		{"unknown notification", http.MethodPost, "/v0/notifications/missing/read", nil, as("eve"), http.StatusNotFound, "not_found"},
		{"anonymous", http.MethodGet, "/v0/issues", nil, nil, http.StatusUnauthorized, "unauthorized"},
		{"system header", http.MethodGet, "/v0/issues", nil, as(domain.SystemActor), http.StatusUnauthorized, "unauthorized"},
		{"bad token", http.MethodGet, "/v0/issues", nil, map[string]string{"Authorization": "Bearer nope"}, http.StatusUnauthorized, "invalid_credentials"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, data := doJSON(t, srv.Client(), tc.method, srv.URL+tc.path, tc.body, tc.headers)
			if res.StatusCode != tc.wantStatus {
				t.Fatalf("status %d, want %d: %s", res.StatusCode, tc.wantStatus, string(data))
			}
			if code := errorCode(t, data); code != tc.wantCode {
				t.Fatalf("code %q, want %q", code, tc.wantCode)
			}
		})
	}

	got, _ := srv.Core.Issue(issue.ID)
	if got.Status != domain.StatusInProgress || *got.AcceptedBy != "bob" {
		t.Fatalf("failed requests changed the issue: %+v", got)
	}
}

func TestDevLoginAndBearerAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	issue := submitIssue(t, srv, "ravi", "Temple Street")

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{"actor_id": "admin"}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("login status %d: %s", res.StatusCode, string(data))
	}
	var login DevLoginResponse
	if err := json.Unmarshal(data, &login); err != nil {
		t.Fatalf("unmarshal login: %v", err)
	}
	if login.Token == "" || len(login.Roles) != 1 || login.Roles[0] != roleAdmin {
		t.Fatalf("login: %+v", login)
	}
	bearer := map[string]string{"Authorization": "Bearer " + login.Token}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil, bearer)
	var me WhoAmIResponse
	_ = json.Unmarshal(data, &me)
	if res.StatusCode != http.StatusOK || me.ActorID != "admin" || !me.Admin || me.Source != "jwt" {
		t.Fatalf("me %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/issues/"+issue.ID+"/verification-requests", nil, bearer)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("verification request %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodDelete, srv.URL+"/v0/issues/"+issue.ID, nil, bearer)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("delete %d: %s", res.StatusCode, string(data))
	}
	if len(srv.Core.Issues()) != 0 {
		t.Fatalf("issue not deleted")
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{"actor_id": domain.SystemActor}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("system login %d: %s", res.StatusCode, string(data))
	}
}

func TestSupportToggleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	issue := submitIssue(t, srv, "ravi", "Market Road")
	path := srv.URL + "/v0/issues/" + issue.ID + "/support"

	_, data := doJSON(t, srv.Client(), http.MethodPost, path, nil, as("amit"))
	var got IssueResponse
	_ = json.Unmarshal(data, &got)
	if got.Likes != 1 {
		t.Fatalf("support: %s", string(data))
	}
	_, data = doJSON(t, srv.Client(), http.MethodPost, path, nil, as("amit"))
	_ = json.Unmarshal(data, &got)
	if got.Likes != 0 || len(got.LikedBy) != 0 {
		t.Fatalf("unsupport: %s", string(data))
	}
}

func TestEventsPagination(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	issue := submitIssue(t, srv, "ravi", "Bus Stand")
	for _, a := range []struct{ actor, action string }{{"amit", "verify"}, {"bob", "accept"}} {
		if res, data := act(t, srv, issue.ID, a.actor, a.action); res.StatusCode != http.StatusOK {
			t.Fatalf("%s: %d %s", a.action, res.StatusCode, string(data))
		}
	}

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/events?limit=2", nil, as("admin"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events %d: %s", res.StatusCode, string(data))
	}
	var page paginatedEvents
	_ = json.Unmarshal(data, &page)
	if len(page.Items) != 2 || page.NextCursor == "" {
		t.Fatalf("first page: %+v", page)
	}
	if page.Items[0].ID <= page.Items[1].ID {
		t.Fatalf("events not newest first: %+v", page.Items)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/events?limit=2&cursor="+page.NextCursor, nil, as("admin"))
	var next paginatedEvents
	_ = json.Unmarshal(data, &next)
	if res.StatusCode != http.StatusOK || len(next.Items) == 0 || next.Items[0].ID >= page.Items[1].ID {
		t.Fatalf("second page %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/events?type="+events.IssueSubmitted, nil, as("admin"))
	var submitted paginatedEvents
	_ = json.Unmarshal(data, &submitted)
	if res.StatusCode != http.StatusOK || len(submitted.Items) != 1 || submitted.Items[0].EntityID != issue.ID {
		t.Fatalf("filtered events %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/events?cursor=abc", nil, as("admin"))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad cursor %d: %s", res.StatusCode, string(data))
	}
}

func TestOpenAPIAndHealthAreOpen(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	for _, p := range []string{"/v0/health", "/v0/openapi.json", "/docs"} {
		res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+p, nil, nil)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("%s status %d: %s", p, res.StatusCode, string(data))
		}
	}
	_, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/openapi.json", nil, nil)
	if !strings.Contains(string(data), "bearerAuth") || !strings.Contains(string(data), "/v0/issues/{id}/actions") {
		t.Fatalf("openapi document missing security or routes")
	}
}

func TestOpenAPIConcurrentFirstFetch(t *testing.T) {
	core := app.New(app.Options{Config: testConfig(), Logger: log.New(io.Discard, "", 0)})
	h, err := New(Config{Core: core, Auth: AuthConfig{JWTSecret: testSecret}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	const workers = 16
	start := make(chan struct{})
	bodies := make([]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v0/openapi.json", nil))
			if rec.Code != http.StatusOK {
				t.Errorf("fetch %d: status %d", i, rec.Code)
			}
			bodies[i] = rec.Body.String()
		}(i)
	}
	close(start)
	wg.Wait()
	for i := 1; i < workers; i++ {
		if bodies[i] != bodies[0] {
			t.Fatalf("fetch %d returned a different document", i)
		}
	}
	if !strings.Contains(bodies[0], "bearerAuth") {
		t.Fatalf("openapi document missing security scheme")
	}
}

type webhookSink struct {
	mu       sync.Mutex
	bodies   [][]byte
	types    []string
	sigs     []string
	response int
}

func (s *webhookSink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	s.mu.Lock()
	s.bodies = append(s.bodies, body)
	s.types = append(s.types, r.Header.Get("X-Civicflow-Event"))
	s.sigs = append(s.sigs, r.Header.Get("X-Civicflow-Signature"))
	status := s.response
	s.mu.Unlock()
	if status == 0 {
		status = http.StatusNoContent
	}
	w.WriteHeader(status)
}

func TestWebhookDispatchFiltersAndSigns(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	sink := &webhookSink{}
	hookSrv := httptest.NewServer(sink)
	defer hookSrv.Close()

	submitIssue(t, srv, "ravi", "Old Market")
	cfg := testConfig()
	cfg.Webhooks = []config.WebhookConfig{{URL: hookSrv.URL, Events: []string{events.IssueSubmitted}, Secret: "shh"}}
	d := NewWebhookDispatcher(srv.Repo, cfg, log.New(io.Discard, "", 0))
	ctx := context.Background()

	// the cursor starts at the newest event, so earlier history is skipped
	d.DispatchAll(ctx)
	if len(sink.bodies) != 0 {
		t.Fatalf("delivered history: %d", len(sink.bodies))
	}

	issue := submitIssue(t, srv, "ravi", "New Colony")
	if res, data := act(t, srv, issue.ID, "amit", "verify"); res.StatusCode != http.StatusOK {
		t.Fatalf("verify: %d %s", res.StatusCode, string(data))
	}
	d.DispatchAll(ctx)
	if len(sink.bodies) != 1 || sink.types[0] != events.IssueSubmitted {
		t.Fatalf("deliveries: %v", sink.types)
	}
	if sink.sigs[0] != "sha256="+signPayload("shh", sink.bodies[0]) {
		t.Fatalf("signature mismatch: %s", sink.sigs[0])
	}
	var evt webhookEvent
	if err := json.Unmarshal(sink.bodies[0], &evt); err != nil {
		t.Fatalf("unmarshal webhook: %v", err)
	}
	if evt.EntityID != issue.ID || evt.ActorID != "ravi" {
		t.Fatalf("webhook event: %+v", evt)
	}

	d.DispatchAll(ctx)
	if len(sink.bodies) != 1 {
		t.Fatalf("redelivered: %d", len(sink.bodies))
	}
}

func TestWebhookPermanentFailureKeepsCursor(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	sink := &webhookSink{response: http.StatusBadRequest}
	hookSrv := httptest.NewServer(sink)
	defer hookSrv.Close()

	cfg := testConfig()
	cfg.Webhooks = []config.WebhookConfig{{URL: hookSrv.URL}}
	d := NewWebhookDispatcher(srv.Repo, cfg, log.New(io.Discard, "", 0))
	ctx := context.Background()
	d.DispatchAll(ctx)

	submitIssue(t, srv, "ravi", "Gandhi Nagar")
	d.DispatchAll(ctx)
	if len(sink.bodies) != 1 {
		t.Fatalf("4xx should not be retried, got %d attempts", len(sink.bodies))
	}
	sink.mu.Lock()
	sink.response = http.StatusOK
	sink.mu.Unlock()
	d.DispatchAll(ctx)
	if len(sink.bodies) != 2 {
		t.Fatalf("failed event not redelivered: %d", len(sink.bodies))
	}
	d.DispatchAll(ctx)
	if len(sink.bodies) != 2 {
		t.Fatalf("delivered event sent again: %d", len(sink.bodies))
	}
}
