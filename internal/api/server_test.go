package api

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/park285/chess-arena/internal/auth"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	tokens, err := auth.NewManager("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("auth.NewManager: %v", err)
	}
	stats := Stats{
		ActiveGames:       func() int { return 3 },
		WaitingPlayers:    func() int { return 1 },
		ActiveConnections: func() int64 { return 7 },
	}
	return NewServer(nil, nil, tokens, stats, 1200)
}

func doRequest(t *testing.T, s *Server, method, uri string, body []byte) *fasthttp.RequestCtx {
	t.Helper()
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod(method)
	ctx.Request.SetRequestURI(uri)
	if body != nil {
		ctx.Request.SetBody(body)
	}
	s.Handler(ctx)
	return ctx
}

func TestHealthReportsCounters(t *testing.T) {
	s := newTestServer(t)
	ctx := doRequest(t, s, fasthttp.MethodGet, "/health", nil)

	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("status = %d", ctx.Response.StatusCode())
	}
	var resp map[string]any
	if err := json.Unmarshal(ctx.Response.Body(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp["status"] != "ok" {
		t.Fatalf("status field = %v", resp["status"])
	}
	if resp["activeGames"] != float64(3) || resp["waitingPlayers"] != float64(1) || resp["activeConnections"] != float64(7) {
		t.Fatalf("counters = %v", resp)
	}
}

func TestRegisterValidation(t *testing.T) {
	s := newTestServer(t)
	cases := []struct {
		name string
		body string
	}{
		{"empty body", `{}`},
		{"short username", `{"username":"ab","email":"a@b.c","password":"secret1"}`},
		{"short password", `{"username":"alice","email":"a@b.c","password":"abc"}`},
		{"bad email", `{"username":"alice","email":"nope","password":"secret1"}`},
		{"not json", `{{{`},
	}
	for _, tc := range cases {
		ctx := doRequest(t, s, fasthttp.MethodPost, "/api/auth/register", []byte(tc.body))
		if ctx.Response.StatusCode() != fasthttp.StatusBadRequest {
			t.Fatalf("%s: status = %d, want 400", tc.name, ctx.Response.StatusCode())
		}
	}
}

func TestLoginValidation(t *testing.T) {
	s := newTestServer(t)
	ctx := doRequest(t, s, fasthttp.MethodPost, "/api/auth/login", []byte(`{"email":"","password":""}`))
	if ctx.Response.StatusCode() != fasthttp.StatusBadRequest {
		t.Fatalf("status = %d, want 400", ctx.Response.StatusCode())
	}
}

func TestUnknownRoute(t *testing.T) {
	s := newTestServer(t)
	ctx := doRequest(t, s, fasthttp.MethodGet, "/api/nope", nil)
	if ctx.Response.StatusCode() != fasthttp.StatusNotFound {
		t.Fatalf("status = %d, want 404", ctx.Response.StatusCode())
	}
}

func TestMethodMatters(t *testing.T) {
	s := newTestServer(t)
	// register is POST-only; a GET falls through to not-found.
	ctx := doRequest(t, s, fasthttp.MethodGet, "/api/auth/register", nil)
	if ctx.Response.StatusCode() != fasthttp.StatusNotFound {
		t.Fatalf("status = %d, want 404", ctx.Response.StatusCode())
	}
}

func TestRecentGamesRequiresUserID(t *testing.T) {
	s := newTestServer(t)
	ctx := doRequest(t, s, fasthttp.MethodGet, "/api/games/recent", nil)
	if ctx.Response.StatusCode() != fasthttp.StatusBadRequest {
		t.Fatalf("status = %d, want 400", ctx.Response.StatusCode())
	}
}
