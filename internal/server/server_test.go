package server

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/custodex/internal/cache/local"
	"github.com/alanyoungcy/custodex/internal/crypto"
	"github.com/alanyoungcy/custodex/internal/domain"
	"github.com/alanyoungcy/custodex/internal/executor"
	"github.com/alanyoungcy/custodex/internal/fee"
	"github.com/alanyoungcy/custodex/internal/ledger"
	"github.com/alanyoungcy/custodex/internal/market"
	"github.com/alanyoungcy/custodex/internal/server/handler"
	"github.com/alanyoungcy/custodex/internal/service"
	"github.com/alanyoungcy/custodex/internal/session"
	"github.com/alanyoungcy/custodex/internal/store/memory"
)

const apiKey = "test-key"

type client struct {
	t   *testing.T
	srv *httptest.Server
}

func newTestServer(t *testing.T, adminKey ed25519.PrivateKey) *client {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	proc := ledger.NewProcessor(ledger.NewMemoryStore(), ledger.Rent{LamportsPerByte: 1}, logger)
	exec := executor.New(proc, local.NewLockManager(), executor.Options{}, logger)
	bus := local.NewSignalBus()
	audit := memory.NewAuditStore()
	events := service.NewPublisher(bus, bus, logger)

	markets := service.NewMarketService(exec, market.New(fee.Policy{Mode: fee.ModeAbsolute}), memory.NewReceiptStore(), audit, events, logger)
	sessions := service.NewSessionService(exec, session.New(crypto.AddressOf(adminKey)), audit, events, logger)
	assets := service.NewAssetService(exec, audit, logger)

	srv := NewServer(Config{APIKey: apiKey, Faucet: true, RateLimit: 1000}, Handlers{
		Health:   handler.NewHealthHandler(nil, logger),
		Markets:  handler.NewMarketHandler(markets, logger),
		Sessions: handler.NewSessionHandler(sessions, logger),
		Assets:   handler.NewAssetHandler(assets, logger),
		Events:   handler.NewEventsHandler(bus, logger),
	}, nil, local.NewRateLimiter(), logger)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &client{t: t, srv: ts}
}

func (c *client) do(method, path string, body any, withKey bool) (int, map[string]any) {
	c.t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			c.t.Fatal(err)
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, c.srv.URL+path, rd)
	if err != nil {
		c.t.Fatal(err)
	}
	if withKey {
		req.Header.Set("X-API-Key", apiKey)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		c.t.Fatal(err)
	}
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

// stamp fills in a fresh request id and a one-minute deadline unless the
// payload names its own.
func stamp(payload map[string]any) map[string]any {
	out := make(map[string]any, len(payload)+2)
	for k, v := range payload {
		out[k] = v
	}
	if _, ok := out["request_id"]; !ok {
		out["request_id"] = uuid.NewString()
	}
	if _, ok := out["expires_at"]; !ok {
		out["expires_at"] = time.Now().Add(time.Minute).Unix()
	}
	return out
}

func (c *client) seal(payload map[string]any, keys ...ed25519.PrivateKey) crypto.Envelope {
	c.t.Helper()
	env, err := crypto.Seal(stamp(payload), keys...)
	if err != nil {
		c.t.Fatal(err)
	}
	return env
}

func (c *client) signed(method, path string, payload map[string]any, keys ...ed25519.PrivateKey) (int, map[string]any) {
	c.t.Helper()
	return c.do(method, path, c.seal(payload, keys...), true)
}

func key(t *testing.T) ed25519.PrivateKey {
	t.Helper()
	k, err := crypto.NewKey()
	if err != nil {
		t.Fatal(err)
	}
	return k
}

func TestAPIKeyGate(t *testing.T) {
	c := newTestServer(t, key(t))
	if code, _ := c.do(http.MethodGet, "/api/health", nil, false); code != http.StatusOK {
		t.Fatalf("health without key = %d", code)
	}
	if code, _ := c.do(http.MethodGet, "/api/roots/alpha", nil, false); code != http.StatusUnauthorized {
		t.Fatalf("root without key = %d, want 401", code)
	}
}

// openMarket funds the parties, mints one nft unit to maker and creates the
// "alpha" root. It returns the marketplace address.
func (c *client) openMarket(admin, maker, taker, nft ed25519.PrivateKey) string {
	c.t.Helper()
	addr := crypto.AddressOf
	for _, k := range []ed25519.PrivateKey{admin, maker, taker} {
		if code, body := c.signed(http.MethodPost, "/api/dev/airdrop", map[string]any{"to": addr(k), "lamports": 1_000_000}); code != http.StatusOK {
			c.t.Fatalf("airdrop = %d %v", code, body)
		}
	}
	if code, body := c.signed(http.MethodPost, "/api/dev/mints", map[string]any{
		"payer": addr(maker), "mint": addr(nft), "authority": addr(maker), "decimals": 0,
	}, maker, nft); code != http.StatusCreated {
		c.t.Fatalf("create mint = %d %v", code, body)
	}
	if code, body := c.signed(http.MethodPost, "/api/dev/mint-to", map[string]any{
		"mint": addr(nft), "owner": addr(maker), "authority": addr(maker), "amount": 1,
	}, maker); code != http.StatusOK {
		c.t.Fatalf("mint to = %d %v", code, body)
	}

	code, root := c.signed(http.MethodPost, "/api/roots", map[string]any{"admin": addr(admin), "name": "alpha", "fee": 500}, admin)
	if code != http.StatusCreated {
		c.t.Fatalf("init root = %d %v", code, root)
	}
	return root["marketplace"].(string)
}

func TestOfferLifecycleOverHTTP(t *testing.T) {
	admin, maker, taker, nft := key(t), key(t), key(t), key(t)
	addr := crypto.AddressOf
	c := newTestServer(t, admin)
	mkt := c.openMarket(admin, maker, taker, nft)

	offer := map[string]any{"maker": addr(maker), "marketplace": mkt, "mint": addr(nft), "price": 10_000}
	if code, body := c.signed(http.MethodPost, "/api/offers", offer, maker); code != http.StatusCreated {
		t.Fatalf("open offer = %d %v", code, body)
	}
	if code, body := c.signed(http.MethodPost, "/api/offers", offer, maker); code != http.StatusConflict || body["kind"] != "capacity" {
		t.Fatalf("second open offer = %d %v, want 409 capacity", code, body)
	}

	settle := map[string]any{"request_id": "settle-1", "taker": addr(taker), "marketplace": mkt, "mint": addr(nft), "price": 10_000}
	if code, body := c.signed(http.MethodPost, "/api/offers/settle", settle); code != http.StatusForbidden || body["kind"] != "authorization" {
		t.Fatalf("unsigned settle = %d %v, want 403 authorization", code, body)
	}

	env := c.seal(settle, taker)
	env.Payload = []byte(`{"request_id":"settle-1","taker":"` + addr(maker).String() + `"}`)
	if code, _ := c.do(http.MethodPost, "/api/offers/settle", env, true); code != http.StatusUnauthorized {
		t.Fatalf("tampered settle = %d, want 401", code)
	}

	code, receipt := c.signed(http.MethodPost, "/api/offers/settle", settle, taker)
	if code != http.StatusOK {
		t.Fatalf("settle = %d %v", code, receipt)
	}
	if receipt["fee"] != float64(500) || receipt["proceeds"] != float64(9_500) || receipt["id"] != "settle-1" {
		t.Fatalf("receipt = %v", receipt)
	}
	if code, _ := c.signed(http.MethodPost, "/api/offers/settle", settle, taker); code != http.StatusConflict {
		t.Fatalf("replayed settle = %d, want 409", code)
	}

	if code, body := c.do(http.MethodGet, "/api/offers/"+mkt+"/"+addr(nft).String(), nil, true); code != http.StatusNotFound || body["kind"] != "not_found" {
		t.Fatalf("offer after settle = %d %v", code, body)
	}
	if code, body := c.do(http.MethodGet, "/api/receipts/settle-1", nil, true); code != http.StatusOK || body["taker"] != addr(taker).String() {
		t.Fatalf("get receipt = %d %v", code, body)
	}

	code, evts := c.do(http.MethodGet, "/api/events/offers", nil, true)
	if code != http.StatusOK {
		t.Fatalf("events = %d", code)
	}
	if list, _ := evts["events"].([]any); len(list) != 2 {
		t.Fatalf("offer events = %v", evts["events"])
	}
}

func TestCapturedEnvelopeCannotBeReplayed(t *testing.T) {
	admin, maker, taker, nft := key(t), key(t), key(t), key(t)
	addr := crypto.AddressOf
	c := newTestServer(t, admin)
	mkt := c.openMarket(admin, maker, taker, nft)
	offerPath := "/api/offers/" + mkt + "/" + addr(nft).String()

	offer := map[string]any{"maker": addr(maker), "marketplace": mkt, "mint": addr(nft), "price": 10}
	captured := c.seal(offer, maker)
	if code, body := c.do(http.MethodPost, "/api/offers", captured, true); code != http.StatusCreated {
		t.Fatalf("open offer = %d %v", code, body)
	}
	if code, body := c.signed(http.MethodDelete, "/api/offers", offer, maker); code != http.StatusOK {
		t.Fatalf("cancel offer = %d %v", code, body)
	}
	if code, body := c.do(http.MethodPost, "/api/offers", captured, true); code != http.StatusConflict {
		t.Fatalf("replayed open offer = %d %v, want 409", code, body)
	}
	if code, _ := c.do(http.MethodGet, offerPath, nil, true); code != http.StatusNotFound {
		t.Fatalf("offer after replay = %d, want 404", code)
	}

	// A fresh signature lists again; the taker's signed price still binds.
	offer["price"] = 50
	if code, body := c.signed(http.MethodPost, "/api/offers", offer, maker); code != http.StatusCreated {
		t.Fatalf("relist = %d %v", code, body)
	}
	settle := map[string]any{"taker": addr(taker), "marketplace": mkt, "mint": addr(nft), "price": 10}
	if code, body := c.signed(http.MethodPost, "/api/offers/settle", settle, taker); code != http.StatusForbidden || body["kind"] != "authorization" {
		t.Fatalf("settle at stale price = %d %v, want 403", code, body)
	}
	if code, body := c.do(http.MethodGet, offerPath, nil, true); code != http.StatusOK {
		t.Fatalf("offer after rejected settle = %d %v", code, body)
	}
}

func TestSignedRequestDeadline(t *testing.T) {
	admin, maker, taker, nft := key(t), key(t), key(t), key(t)
	addr := crypto.AddressOf
	c := newTestServer(t, admin)
	mkt := c.openMarket(admin, maker, taker, nft)
	offer := map[string]any{"maker": addr(maker), "marketplace": mkt, "mint": addr(nft), "price": 10}

	withExpiry := func(at int64) map[string]any {
		p := stamp(offer)
		p["expires_at"] = at
		return p
	}
	tests := []struct {
		name    string
		path    string
		payload map[string]any
		want    int
	}{
		{"expired", "/api/offers", withExpiry(time.Now().Add(-time.Second).Unix()), http.StatusUnauthorized},
		{"beyond window", "/api/offers", withExpiry(time.Now().Add(time.Hour).Unix()), http.StatusBadRequest},
		{"no expiry", "/api/offers", withExpiry(0), http.StatusBadRequest},
		{"no price on settle", "/api/offers/settle", map[string]any{"taker": addr(taker), "marketplace": mkt, "mint": addr(nft)}, http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if code, body := c.signed(http.MethodPost, tc.path, tc.payload, maker, taker); code != tc.want {
				t.Fatalf("%s = %d %v, want %d", tc.path, code, body, tc.want)
			}
		})
	}
}

func TestBadInput(t *testing.T) {
	c := newTestServer(t, key(t))
	unused := domain.BytesToAddress(bytes.Repeat([]byte{9}, domain.AddressLength))
	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"not an envelope", http.MethodPost, "/api/roots", "garbage", http.StatusBadRequest},
		{"bad address", http.MethodGet, "/api/accounts/0x12", nil, http.StatusBadRequest},
		{"bad seed", http.MethodGet, "/api/sessions/" + domain.ZeroAddress.String() + "/x", nil, http.StatusBadRequest},
		{"unknown channel", http.MethodGet, "/api/events/trades", nil, http.StatusBadRequest},
		{"missing account", http.MethodGet, "/api/accounts/" + unused.String(), nil, http.StatusNotFound},
		{"missing root", http.MethodGet, "/api/roots/nobody", nil, http.StatusNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if code, body := c.do(tc.method, tc.path, tc.body, true); code != tc.want {
				t.Fatalf("%s %s = %d %v, want %d", tc.method, tc.path, code, body, tc.want)
			}
		})
	}
}
