package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	app "github.com/R3E-Network/liquidity_layer/internal/app"
	"github.com/R3E-Network/liquidity_layer/pkg/logger"
)

const (
	testAdminSecret = "test-admin-secret"
	testRelayKey    = "test-relay-key"
)

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()

	log := logger.NewDefault("httpapi-test")
	log.SetOutput(io.Discard)

	application, err := app.New(app.Stores{}, app.Deps{Domain: "linea", Address: "agg-linea"}, log)
	if err != nil {
		t.Fatalf("build application: %v", err)
	}
	return NewHandler(application, Auth{AdminSecret: testAdminSecret, RelayKey: testRelayKey})
}

func adminToken(t *testing.T) string {
	t.Helper()
	claims := &jwt.RegisteredClaims{
		Subject:   "ops",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testAdminSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func doJSON(t *testing.T, h http.Handler, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandler_Health(t *testing.T) {
	h := newTestHandler(t)
	rec := doJSON(t, h, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestHandler_PeerAdminAuth(t *testing.T) {
	h := newTestHandler(t)
	body := map[string]string{"address": "agg-mumbai"}

	rec := doJSON(t, h, http.MethodPut, "/peers/mumbai", "", body)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPut, "/peers/mumbai", "not-a-jwt", body)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad token, got %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPut, "/peers/mumbai", adminToken(t), body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with admin token, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodGet, "/peers", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list peers: %d", rec.Code)
	}
	var peers []map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &peers); err != nil {
		t.Fatalf("decode peers: %v", err)
	}
	if len(peers) != 1 {
		t.Fatalf("expected 1 peer, got %d", len(peers))
	}
}

func TestHandler_AdminNotConfigured(t *testing.T) {
	log := logger.NewDefault("httpapi-test")
	log.SetOutput(io.Discard)
	application, err := app.New(app.Stores{}, app.Deps{Domain: "linea"}, log)
	if err != nil {
		t.Fatalf("build application: %v", err)
	}
	h := NewHandler(application, Auth{})

	rec := doJSON(t, h, http.MethodPut, "/peers/mumbai", adminToken(t), map[string]string{"address": "x"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without configured secret, got %d", rec.Code)
	}
}

func TestHandler_BuyFlow(t *testing.T) {
	h := newTestHandler(t)
	token := adminToken(t)

	rec := doJSON(t, h, http.MethodPost, "/vault/deposits", token, map[string]interface{}{
		"token": "usdc", "owner": "alice", "amount": 100,
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("vault deposit: %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodPost, "/requests", "", map[string]interface{}{
		"buyer": "alice", "collection": "punks", "token_id": "42",
		"funds": []map[string]interface{}{
			{"domain": "linea", "token": "usdc", "amount": 100},
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("buy: %d: %s", rec.Code, rec.Body.String())
	}

	var created struct {
		ID            uint64 `json:"id"`
		Fulfilled     bool   `json:"fulfilled"`
		ReceivedTotal int64  `json:"received_total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	if !created.Fulfilled || created.ReceivedTotal != 0 {
		t.Fatalf("expected fulfilled local-only purchase with zero received total: %+v", created)
	}

	rec = doJSON(t, h, http.MethodGet, "/requests/1", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get request: %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodGet, "/requests/999", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown request, got %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodGet, "/requests/abc", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-numeric id, got %d", rec.Code)
	}
}

func TestHandler_BuyValidationStatuses(t *testing.T) {
	h := newTestHandler(t)

	rec := doJSON(t, h, http.MethodPost, "/requests", "", map[string]interface{}{
		"buyer": "alice", "collection": "punks", "token_id": "42",
		"funds": []map[string]interface{}{},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty funds, got %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/requests", "", map[string]interface{}{
		"buyer": "alice", "collection": "punks", "token_id": "42",
		"funds": []map[string]interface{}{
			{"domain": "mumbai", "token": "usdc", "amount": 40},
		},
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for unknown peer, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandler_InboundRelayAuth(t *testing.T) {
	h := newTestHandler(t)
	body := map[string]interface{}{
		"origin": "mumbai", "sender": "agg-mumbai",
		"token": "usdc", "amount": 40, "callback": []byte(`{"v":1,"request_id":1,"fund_index":1}`),
	}

	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/inbound/handle-with-tokens", bytes.NewReader(raw))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without relay key, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/inbound/handle-with-tokens", bytes.NewReader(raw))
	req.Header.Set("X-Relay-Key", testRelayKey)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	// Authenticated relay, but mumbai has no registered peer on this
	// coordinator, so the delivery itself is rejected.
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for unregistered origin, got %d: %s", rec.Code, rec.Body.String())
	}
}
