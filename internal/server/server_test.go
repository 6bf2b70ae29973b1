package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/Codevena/aibuilds/internal/archive"
	"github.com/Codevena/aibuilds/internal/live"
	"github.com/Codevena/aibuilds/internal/pow"
	"github.com/Codevena/aibuilds/internal/ratelimit"
	"github.com/Codevena/aibuilds/internal/sandbox"
	"github.com/Codevena/aibuilds/internal/state"
)

// newTestServer builds a server with a fresh sandbox and state, difficulty
// 1 so tests can mine nonces quickly, and the given mutation rate.
func newTestServer(t *testing.T, writeRate int) *Server {
	t.Helper()

	guard, err := sandbox.New(t.TempDir(), 512<<10, 100)
	if err != nil {
		t.Fatalf("sandbox.New: %v", err)
	}

	db, err := archive.Open(filepath.Join(t.TempDir(), "archive.db"))
	if err != nil {
		t.Fatalf("archive.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	st := state.New(100, 100, 100)
	return New(Deps{
		State:            st,
		Snapshots:        state.NewSnapshotter(st, filepath.Join(t.TempDir(), "state.json")),
		Challenges:       pow.New(1, pow.DefaultTTL),
		Guard:            guard,
		Hub:              live.NewHub(),
		Archive:          db,
		ChallengeLimiter: ratelimit.New(1000, time.Minute),
		WriteLimiter:     ratelimit.New(writeRate, time.Minute),
	})
}

// doJSON performs a request with an optional JSON body and extra headers.
func doJSON(t *testing.T, srv *Server, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

// decode unmarshals a recorder body into a map.
func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return m
}

// solvedChallenge fetches a challenge and mines a nonce for it.
func solvedChallenge(t *testing.T, srv *Server) (id, nonce string) {
	t.Helper()

	rec := doJSON(t, srv, http.MethodGet, "/api/challenge", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("challenge: status = %d, body = %s", rec.Code, rec.Body.String())
	}
	m := decode(t, rec)
	prefix, _ := m["prefix"].(string)
	difficulty := int(m["difficulty"].(float64))

	for i := 0; i < 1_000_000; i++ {
		n := strconv.Itoa(i)
		if pow.Solves(prefix, n, difficulty) {
			return m["id"].(string), n
		}
	}
	t.Fatal("no nonce found")
	return "", ""
}

// contribute submits a mutation with a freshly solved challenge.
func contribute(t *testing.T, srv *Server, body map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	id, nonce := solvedChallenge(t, srv)
	return doJSON(t, srv, http.MethodPost, "/api/contribute", body, map[string]string{
		"X-Challenge-ID":    id,
		"X-Challenge-Nonce": nonce,
	})
}

func TestChallenge_ResponseShape(t *testing.T) {
	srv := newTestServer(t, 100)

	rec := doJSON(t, srv, http.MethodGet, "/api/challenge", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	m := decode(t, rec)

	if m["algorithm"] != "sha256" {
		t.Fatalf("algorithm = %v, want sha256", m["algorithm"])
	}
	if m["id"] == "" || m["prefix"] == "" {
		t.Fatal("id and prefix must be set")
	}
	exp, err := time.Parse(time.RFC3339, m["expires_at"].(string))
	if err != nil {
		t.Fatalf("expires_at not RFC3339: %v", err)
	}
	if until := time.Until(exp); until < 4*time.Minute || until > 6*time.Minute {
		t.Fatalf("expiry %v from now, want ~5 minutes", until)
	}
}

func TestContribute_FullFlow(t *testing.T) {
	srv := newTestServer(t, 100)

	rec := contribute(t, srv, map[string]any{
		"agent_name": "Zed",
		"action":     "create",
		"file_path":  "sections/demo.html",
		"content":    "<h1>built by Zed</h1>",
		"message":    "first section",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	m := decode(t, rec)
	if m["success"] != true {
		t.Fatalf("success = %v", m["success"])
	}
	c := m["contribution"].(map[string]any)
	if c["id"] == "" || c["agent_name"] != "Zed" || c["file_path"] != "sections/demo.html" {
		t.Fatalf("contribution = %#v", c)
	}

	// Reading the path back returns exactly the submitted bytes.
	got := doJSON(t, srv, http.MethodGet, "/site/sections/demo.html", nil, nil)
	if got.Code != http.StatusOK {
		t.Fatalf("site read: status = %d", got.Code)
	}
	if got.Body.String() != "<h1>built by Zed</h1>" {
		t.Fatalf("site read body = %q", got.Body.String())
	}

	// The agent's stats reflect the accepted mutation.
	stats := doJSON(t, srv, http.MethodGet, "/api/agents/Zed", nil, nil)
	if stats.Code != http.StatusOK {
		t.Fatalf("agent stats: status = %d", stats.Code)
	}
	agent := decode(t, stats)["agent"].(map[string]any)
	if agent["contributions"].(float64) != 1 || agent["creates"].(float64) != 1 {
		t.Fatalf("agent = %#v", agent)
	}
}

func TestContribute_ChallengeSingleUse(t *testing.T) {
	srv := newTestServer(t, 100)
	id, nonce := solvedChallenge(t, srv)
	headers := map[string]string{"X-Challenge-ID": id, "X-Challenge-Nonce": nonce}
	body := map[string]any{
		"agent_name": "Zed", "action": "create",
		"file_path": "a.html", "content": "<p>a</p>",
	}

	if rec := doJSON(t, srv, http.MethodPost, "/api/contribute", body, headers); rec.Code != http.StatusCreated {
		t.Fatalf("first use: status = %d, body = %s", rec.Code, rec.Body.String())
	}

	body["file_path"] = "b.html"
	if rec := doJSON(t, srv, http.MethodPost, "/api/contribute", body, headers); rec.Code != http.StatusForbidden {
		t.Fatalf("reuse: status = %d, want 403", rec.Code)
	}
}

func TestContribute_MissingChallenge(t *testing.T) {
	srv := newTestServer(t, 100)
	rec := doJSON(t, srv, http.MethodPost, "/api/contribute", map[string]any{
		"agent_name": "Zed", "action": "create", "file_path": "a.html", "content": "x",
	}, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestContribute_InvalidNonce(t *testing.T) {
	srv := newTestServer(t, 100)
	// Difficulty 6 makes an accidental solve practically impossible.
	srv.challenges = pow.New(6, pow.DefaultTTL)

	rec := doJSON(t, srv, http.MethodGet, "/api/challenge", nil, nil)
	m := decode(t, rec)

	resp := doJSON(t, srv, http.MethodPost, "/api/contribute", map[string]any{
		"agent_name": "Zed", "action": "create", "file_path": "a.html", "content": "x",
	}, map[string]string{
		"X-Challenge-ID":    m["id"].(string),
		"X-Challenge-Nonce": "not-a-solution",
	})
	if resp.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.Code)
	}
}

func TestContribute_TraversalRejectedNoSideEffects(t *testing.T) {
	srv := newTestServer(t, 100)

	rec := contribute(t, srv, map[string]any{
		"agent_name": "Mallory",
		"action":     "create",
		"file_path":  "../../etc/owned.html",
		"content":    "<p>nope</p>",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	if srv.state.Ledger.Len() != 0 {
		t.Fatal("rejected mutation must not reach the ledger")
	}
	if srv.guard.FileCount() != 0 {
		t.Fatal("rejected mutation must not touch the sandbox")
	}
}

func TestContribute_ValidationErrors(t *testing.T) {
	srv := newTestServer(t, 100)

	cases := []struct {
		name string
		body map[string]any
	}{
		{"bad action", map[string]any{"agent_name": "Z", "action": "rename", "file_path": "a.html", "content": "x"}},
		{"missing agent", map[string]any{"action": "create", "file_path": "a.html", "content": "x"}},
		{"missing content", map[string]any{"agent_name": "Z", "action": "create", "file_path": "a.html"}},
		{"bad extension", map[string]any{"agent_name": "Z", "action": "create", "file_path": "a.exe", "content": "x"}},
	}
	for _, tc := range cases {
		rec := contribute(t, srv, tc.body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400 (body %s)", tc.name, rec.Code, rec.Body.String())
		}
	}
	if srv.state.Ledger.Len() != 0 {
		t.Fatal("no validation failure may reach the ledger")
	}
}

func TestContribute_RateLimit(t *testing.T) {
	srv := newTestServer(t, 2)

	for i := 0; i < 2; i++ {
		rec := contribute(t, srv, map[string]any{
			"agent_name": "Busy", "action": "create",
			"file_path": "f" + strconv.Itoa(i) + ".html", "content": "<p>x</p>",
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("request %d: status = %d", i+1, rec.Code)
		}
	}

	rec := contribute(t, srv, map[string]any{
		"agent_name": "Busy", "action": "create",
		"file_path": "f9.html", "content": "<p>x</p>",
	})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("3rd request: status = %d, want 429", rec.Code)
	}
}

func TestContribute_EditAndDelete(t *testing.T) {
	srv := newTestServer(t, 100)

	create := map[string]any{
		"agent_name": "Zed", "action": "create",
		"file_path": "page.html", "content": "<p>v1</p>",
	}
	if rec := contribute(t, srv, create); rec.Code != http.StatusCreated {
		t.Fatalf("create: %d", rec.Code)
	}

	edit := map[string]any{
		"agent_name": "Ada", "action": "edit",
		"file_path": "page.html", "content": "<p>v2</p>",
	}
	if rec := contribute(t, srv, edit); rec.Code != http.StatusCreated {
		t.Fatalf("edit: %d", rec.Code)
	}
	if got := doJSON(t, srv, http.MethodGet, "/site/page.html", nil, nil); got.Body.String() != "<p>v2</p>" {
		t.Fatalf("after edit, site = %q", got.Body.String())
	}

	// Sequential editors of the same path become collaborators.
	zed, _ := srv.state.Stats.Agent("Zed")
	ada, _ := srv.state.Stats.Agent("Ada")
	if len(zed.Collaborators) != 1 || zed.Collaborators[0] != "Ada" {
		t.Fatalf("Zed collaborators = %v", zed.Collaborators)
	}
	if len(ada.Collaborators) != 1 || ada.Collaborators[0] != "Zed" {
		t.Fatalf("Ada collaborators = %v", ada.Collaborators)
	}

	del := map[string]any{
		"agent_name": "Zed", "action": "delete", "file_path": "page.html",
	}
	if rec := contribute(t, srv, del); rec.Code != http.StatusCreated {
		t.Fatalf("delete: %d", rec.Code)
	}
	if got := doJSON(t, srv, http.MethodGet, "/site/page.html", nil, nil); got.Code != http.StatusNotFound {
		t.Fatalf("after delete, site status = %d, want 404", got.Code)
	}
}

func TestVote_BumpsCounters(t *testing.T) {
	srv := newTestServer(t, 100)

	rec := contribute(t, srv, map[string]any{
		"agent_name": "Zed", "action": "create",
		"file_path": "a.html", "content": "<p>x</p>",
	})
	id := decode(t, rec)["contribution"].(map[string]any)["id"].(string)

	v := doJSON(t, srv, http.MethodPost, "/api/contributions/"+id+"/vote",
		map[string]any{"emoji": "fire"}, nil)
	if v.Code != http.StatusOK {
		t.Fatalf("vote: status = %d", v.Code)
	}
	if decode(t, v)["count"].(float64) != 1 {
		t.Fatal("vote count should be 1")
	}

	c, _ := srv.state.Ledger.Get(id)
	if c.Reactions["fire"] != 1 {
		t.Fatalf("ledger reactions = %v", c.Reactions)
	}
}

func TestVote_UnknownContribution(t *testing.T) {
	srv := newTestServer(t, 100)
	rec := doJSON(t, srv, http.MethodPost, "/api/contributions/nope/vote",
		map[string]any{"emoji": "fire"}, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestComments_AttachToContribution(t *testing.T) {
	srv := newTestServer(t, 100)

	rec := contribute(t, srv, map[string]any{
		"agent_name": "Zed", "action": "create",
		"file_path": "a.html", "content": "<p>x</p>",
	})
	id := decode(t, rec)["contribution"].(map[string]any)["id"].(string)

	add := doJSON(t, srv, http.MethodPost, "/api/contributions/"+id+"/comments",
		map[string]any{"agent_name": "Ada", "text": "nice section"}, nil)
	if add.Code != http.StatusCreated {
		t.Fatalf("add comment: status = %d", add.Code)
	}

	list := doJSON(t, srv, http.MethodGet, "/api/contributions/"+id+"/comments", nil, nil)
	var comments []map[string]any
	if err := json.Unmarshal(list.Body.Bytes(), &comments); err != nil {
		t.Fatalf("decode comments: %v", err)
	}
	if len(comments) != 1 || comments[0]["text"] != "nice section" {
		t.Fatalf("comments = %#v", comments)
	}

	c, _ := srv.state.Ledger.Get(id)
	if c.CommentCount != 1 {
		t.Fatalf("comment count = %d, want 1", c.CommentCount)
	}
}

func TestGuestbook_RoundTrip(t *testing.T) {
	srv := newTestServer(t, 100)

	add := doJSON(t, srv, http.MethodPost, "/api/guestbook",
		map[string]any{"agent_name": "Ada", "text": "was here"}, nil)
	if add.Code != http.StatusCreated {
		t.Fatalf("add: status = %d", add.Code)
	}

	list := doJSON(t, srv, http.MethodGet, "/api/guestbook", nil, nil)
	var entries []map[string]any
	if err := json.Unmarshal(list.Body.Bytes(), &entries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(entries) != 1 || entries[0]["agent_name"] != "Ada" {
		t.Fatalf("entries = %#v", entries)
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, 100)
	rec := doJSON(t, srv, http.MethodGet, "/api/health", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	m := decode(t, rec)
	if m["status"] != "ok" || m["service"] != "aibuilds" {
		t.Fatalf("health = %#v", m)
	}
}
