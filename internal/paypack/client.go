// Package paypack is the client for the Paypack mobile-money gateway.
package paypack

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bjo163/sokomarket/config"
	"github.com/bjo163/sokomarket/internal/cache"
	"github.com/bjo163/sokomarket/internal/domain"
	"github.com/guonaihong/gout"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	StatusPending    = "pending"
	StatusSuccessful = "successful"
	StatusFailed     = "failed"

	pathAuthorize    = "/auth/agents/authorize"
	pathCashIn       = "/transactions/cashin"
	pathEvents       = "/events/transactions"
	defaultTokenTTL  = 55 * time.Minute
	defaultTimeout   = 30 * time.Second
	webhookModeValue = "development"
)

type authResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
	Expires int64  `json:"expires"`
}

// Transaction is the gateway's view of a cash-in.
type Transaction struct {
	Ref       string  `json:"ref"`
	Status    string  `json:"status"`
	Amount    float64 `json:"amount"`
	Kind      string  `json:"kind"`
	Provider  string  `json:"provider"`
	Client    string  `json:"client"`
	CreatedAt string  `json:"created_at"`
}

type eventsResponse struct {
	Transactions []struct {
		EventKind string      `json:"event_kind"`
		CreatedAt string      `json:"created_at"`
		Data      Transaction `json:"data"`
	} `json:"transactions"`
	Total int `json:"total"`
}

type Client struct {
	cfg      config.PaypackConfig
	http     *http.Client
	store    cache.Store
	tokenTTL time.Duration
	group    singleflight.Group
}

func NewClient(cfg config.PaypackConfig, store cache.Store) *Client {
	timeout := defaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	ttl := defaultTokenTTL
	if cfg.TokenTTLMinutes > 0 {
		ttl = time.Duration(cfg.TokenTTLMinutes) * time.Minute
	}
	if store == nil {
		store = cache.NewMemory()
	}
	return &Client{
		cfg:      cfg,
		http:     &http.Client{Timeout: timeout},
		store:    store,
		tokenTTL: ttl,
	}
}

func (c *Client) url(path string) string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + path
}

func (c *Client) tokenKey() string {
	sum := sha256.Sum256([]byte(c.cfg.ClientID + ":" + c.cfg.ClientSecret))
	return fmt.Sprintf(cache.KeyPaypackToken, hex.EncodeToString(sum[:]))
}

// Token returns a cached bearer token, authorizing at most once at a time per credential pair.
func (c *Client) Token(ctx context.Context) (string, error) {
	key := c.tokenKey()
	if token, err := c.store.Get(ctx, key); err == nil && token != "" {
		return token, nil
	}
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		if token, err := c.store.Get(ctx, key); err == nil && token != "" {
			return token, nil
		}
		token, err := c.authorize(ctx)
		if err != nil {
			return "", err
		}
		if err := c.store.Set(ctx, key, token, c.tokenTTL); err != nil {
			zap.L().Warn("cache paypack token", zap.Error(err))
		}
		return token, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Client) invalidate(ctx context.Context) {
	if err := c.store.Delete(ctx, c.tokenKey()); err != nil {
		zap.L().Warn("drop paypack token", zap.Error(err))
	}
}

func (c *Client) authorize(ctx context.Context) (string, error) {
	if c.cfg.ClientID == "" || c.cfg.ClientSecret == "" {
		return "", domain.NewExternalError("GATEWAY_NOT_CONFIGURED", "payment gateway credentials are missing", nil)
	}
	var (
		out  authResponse
		code int
	)
	err := gout.New(c.http).
		POST(c.url(pathAuthorize)).
		WithContext(ctx).
		SetJSON(gout.H{"client_id": c.cfg.ClientID, "client_secret": c.cfg.ClientSecret}).
		BindJSON(&out).
		Code(&code).
		Do()
	if err != nil {
		return "", domain.NewExternalError("GATEWAY_ERROR", "payment gateway authorization failed", err)
	}
	if code != http.StatusOK || out.Access == "" {
		return "", domain.NewExternalError("GATEWAY_ERROR", "payment gateway authorization failed", fmt.Errorf("status %d", code))
	}
	zap.L().Info("paypack token refreshed", zap.Int64("expires", out.Expires))
	return out.Access, nil
}

func (c *Client) headers(token string) gout.H {
	mode := c.cfg.Environment
	if mode == "" {
		mode = webhookModeValue
	}
	return gout.H{
		"Authorization":  "Bearer " + token,
		"X-Webhook-Mode": mode,
		"Accept":         "application/json",
	}
}

// CashIn asks the gateway to pull amount francs from phone. phone must already be normalized.
func (c *Client) CashIn(ctx context.Context, phone string, amount int64) (*Transaction, error) {
	var tx Transaction
	code, err := c.withToken(ctx, func(token string) (int, error) {
		var code int
		tx = Transaction{}
		err := gout.New(c.http).
			POST(c.url(pathCashIn)).
			WithContext(ctx).
			SetHeader(c.headers(token)).
			SetJSON(gout.H{"number": phone, "amount": amount, "environment": c.cfg.Environment}).
			BindJSON(&tx).
			Code(&code).
			Do()
		return code, err
	})
	if err != nil {
		return nil, external("cash-in request failed", err)
	}
	if code >= http.StatusBadRequest || tx.Ref == "" {
		return nil, domain.NewExternalError("GATEWAY_ERROR", "cash-in rejected by payment gateway", fmt.Errorf("status %d", code))
	}
	if tx.Status == "" {
		tx.Status = StatusPending
	}
	return &tx, nil
}

// LatestEvent returns the newest transaction event for ref, nil when the gateway has none yet.
func (c *Client) LatestEvent(ctx context.Context, ref string) (*Transaction, error) {
	var out eventsResponse
	code, err := c.withToken(ctx, func(token string) (int, error) {
		var code int
		out = eventsResponse{}
		err := gout.New(c.http).
			GET(c.url(pathEvents)).
			WithContext(ctx).
			SetHeader(c.headers(token)).
			SetQuery(gout.H{"ref": ref}).
			BindJSON(&out).
			Code(&code).
			Do()
		return code, err
	})
	if err != nil {
		return nil, external("transaction status request failed", err)
	}
	if code >= http.StatusBadRequest {
		return nil, domain.NewExternalError("GATEWAY_ERROR", "transaction status request rejected", fmt.Errorf("status %d", code))
	}
	if len(out.Transactions) == 0 {
		return nil, nil
	}
	latest := out.Transactions[0].Data
	return &latest, nil
}

// LatestStatus reduces LatestEvent to pending, successful or failed.
func (c *Client) LatestStatus(ctx context.Context, ref string) (string, error) {
	ev, err := c.LatestEvent(ctx, ref)
	if err != nil {
		return "", err
	}
	if ev == nil {
		return StatusPending, nil
	}
	switch strings.ToLower(ev.Status) {
	case StatusSuccessful:
		return StatusSuccessful, nil
	case StatusFailed:
		return StatusFailed, nil
	}
	return StatusPending, nil
}

// withToken runs call with a bearer token and retries once with a fresh one on 401.
func (c *Client) withToken(ctx context.Context, call func(token string) (int, error)) (int, error) {
	token, err := c.Token(ctx)
	if err != nil {
		return 0, err
	}
	code, err := call(token)
	if err != nil || code != http.StatusUnauthorized {
		return code, err
	}
	c.invalidate(ctx)
	if token, err = c.Token(ctx); err != nil {
		return 0, err
	}
	return call(token)
}

func external(msg string, err error) error {
	if domain.KindOf(err) != "" {
		return err
	}
	return domain.NewExternalError("GATEWAY_ERROR", msg, err)
}
