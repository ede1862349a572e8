package paypack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/bjo163/sokomarket/config"
	"github.com/bjo163/sokomarket/internal/cache"
	"github.com/bjo163/sokomarket/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGateway struct {
	authorizations int32
	token          string
	lastCashIn     map[string]interface{}
	lastHeader     http.Header
	events         map[string][]string
	expireOnce     bool
	mu             sync.Mutex
}

func (g *fakeGateway) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/agents/authorize", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["client_id"] != "cid" || body["client_secret"] != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"bad credentials"}`))
			return
		}
		n := atomic.AddInt32(&g.authorizations, 1)
		g.mu.Lock()
		g.token = "tok-" + string(rune('0'+n))
		token := g.token
		g.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"access": token, "refresh": "r", "expires": 3600})
	})
	mux.HandleFunc("/transactions/cashin", func(w http.ResponseWriter, r *http.Request) {
		if !g.authorized(w, r) {
			return
		}
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		g.mu.Lock()
		g.lastCashIn = body
		g.lastHeader = r.Header.Clone()
		g.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"ref": "ref-1", "status": "pending", "amount": body["amount"], "kind": "CASHIN"})
	})
	mux.HandleFunc("/events/transactions", func(w http.ResponseWriter, r *http.Request) {
		if !g.authorized(w, r) {
			return
		}
		var list []map[string]interface{}
		for _, status := range g.events[r.URL.Query().Get("ref")] {
			list = append(list, map[string]interface{}{"event_kind": "transaction:processed", "data": map[string]interface{}{"ref": r.URL.Query().Get("ref"), "status": status}})
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"transactions": list, "total": len(list)})
	})
	return mux
}

func (g *fakeGateway) authorized(w http.ResponseWriter, r *http.Request) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.expireOnce {
		g.expireOnce = false
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"token expired"}`))
		return false
	}
	if r.Header.Get("Authorization") != "Bearer "+g.token {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"unauthorized"}`))
		return false
	}
	return true
}

func newTestClient(t *testing.T, g *fakeGateway) *Client {
	t.Helper()
	srv := httptest.NewServer(g.handler())
	t.Cleanup(srv.Close)
	return NewClient(config.PaypackConfig{
		BaseURL: srv.URL, ClientID: "cid", ClientSecret: "secret", Environment: "development", TimeoutSeconds: 5,
	}, cache.NewMemory())
}

func TestTokenIsCachedAndShared(t *testing.T) {
	g := &fakeGateway{}
	c := newTestClient(t, g)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token, err := c.Token(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, "tok-1", token)
		}()
	}
	wg.Wait()
	_, err := c.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&g.authorizations))
}

func TestCashInSendsLocalNumberAndWholeFrancs(t *testing.T) {
	g := &fakeGateway{}
	c := newTestClient(t, g)

	tx, err := c.CashIn(context.Background(), "0788123456", 131165)
	require.NoError(t, err)
	assert.Equal(t, "ref-1", tx.Ref)
	assert.Equal(t, StatusPending, tx.Status)

	assert.Equal(t, "0788123456", g.lastCashIn["number"])
	assert.Equal(t, float64(131165), g.lastCashIn["amount"])
	assert.Equal(t, "development", g.lastCashIn["environment"])
	assert.Equal(t, "Bearer tok-1", g.lastHeader.Get("Authorization"))
	assert.Equal(t, "development", g.lastHeader.Get("X-Webhook-Mode"))
}

func TestExpiredTokenIsRefreshedOnce(t *testing.T) {
	g := &fakeGateway{}
	c := newTestClient(t, g)
	_, err := c.Token(context.Background())
	require.NoError(t, err)

	g.expireOnce = true
	_, err = c.CashIn(context.Background(), "0788123456", 1000)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&g.authorizations))
}

func TestLatestStatusUsesNewestEvent(t *testing.T) {
	g := &fakeGateway{events: map[string][]string{
		"done":  {"successful", "pending"},
		"nope":  {"failed"},
		"weird": {"processing"},
	}}
	c := newTestClient(t, g)

	tests := []struct {
		ref  string
		want string
	}{
		{"done", StatusSuccessful},
		{"nope", StatusFailed},
		{"weird", StatusPending},
		{"missing", StatusPending},
	}
	for _, tt := range tests {
		got, err := c.LatestStatus(context.Background(), tt.ref)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.ref)
	}
}

func TestBadCredentialsAreExternalErrors(t *testing.T) {
	g := &fakeGateway{}
	srv := httptest.NewServer(g.handler())
	defer srv.Close()
	c := NewClient(config.PaypackConfig{BaseURL: srv.URL, ClientID: "cid", ClientSecret: "wrong"}, nil)

	_, err := c.CashIn(context.Background(), "0788123456", 100)
	require.Error(t, err)
	assert.Equal(t, domain.KindExternal, domain.KindOf(err))

	unconfigured := NewClient(config.PaypackConfig{BaseURL: srv.URL}, nil)
	_, err = unconfigured.LatestStatus(context.Background(), "x")
	assert.Equal(t, "GATEWAY_NOT_CONFIGURED", domain.CodeOf(err))
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"0788123456", "0788123456", false},
		{"+250 788 123 456", "0788123456", false},
		{"250788123456", "0788123456", false},
		{"788123456", "0788123456", false},
		{"(078) 812-3456", "0788123456", false},
		{"0288123456", "", true},
		{"12345", "", true},
		{"", "", true},
		{"+254712345678", "", true},
	}
	for _, tt := range tests {
		got, err := NormalizePhone(tt.in)
		if tt.wantErr {
			assert.Equal(t, "INVALID_PHONE", domain.CodeOf(err), tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestToRWF(t *testing.T) {
	rate := decimal.RequireFromString("1457.39")
	assert.Equal(t, int64(131165), ToRWF(decimal.NewFromInt(90), rate))
	assert.Equal(t, int64(43722), ToRWF(decimal.NewFromInt(30), rate))
	assert.Equal(t, int64(0), ToRWF(decimal.Zero, rate))
}
