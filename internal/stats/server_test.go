package stats

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Snowgem/XsgTwitterFaucet/internal/auth"
	sqlite "github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type staticBalance struct {
	balance float64
}

func (b staticBalance) GetBalance(_ context.Context) (float64, error) {
	return b.balance, nil
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:stats_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&PayoutStat{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func newTestHandler(t *testing.T, db *gorm.DB) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)

	service, err := NewService(db)
	if err != nil {
		t.Fatalf("failed to construct stats service: %v", err)
	}

	issuer := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("test-signing-secret"),
		AdminSecret:   "letmein",
		Issuer:        "xsg-faucet",
		Audience:      "xsg-faucet-admin",
	})

	handler, err := NewHTTPHandler(Dependencies{
		Tokens:  issuer,
		Stats:   service,
		Balance: staticBalance{balance: 321.5},
	})
	if err != nil {
		t.Fatalf("failed to construct handler: %v", err)
	}
	return handler
}

func exchangeToken(t *testing.T, handler http.Handler, secret string) (*httptest.ResponseRecorder, tokenResponsePayload) {
	t.Helper()

	body, err := json.Marshal(tokenRequestPayload{Secret: secret})
	if err != nil {
		t.Fatalf("failed to marshal payload: %v", err)
	}
	request := httptest.NewRequest(http.MethodPost, "/auth/token", bytes.NewReader(body))
	request.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	var payload tokenResponsePayload
	if recorder.Code == http.StatusOK {
		if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
			t.Fatalf("failed to decode token response: %v", err)
		}
	}
	return recorder, payload
}

func TestHealthEndpointIsOpen(t *testing.T) {
	handler := newTestHandler(t, openTestDB(t))

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
}

func TestTokenExchangeRejectsWrongSecret(t *testing.T) {
	handler := newTestHandler(t, openTestDB(t))

	recorder, _ := exchangeToken(t, handler, "wrong")
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
}

func TestStatsEndpointRequiresBearerToken(t *testing.T) {
	handler := newTestHandler(t, openTestDB(t))

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/stats", nil))

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
}

func TestStatsAndBalanceWithValidToken(t *testing.T) {
	db := openTestDB(t)
	handler := newTestHandler(t, db)

	service, err := NewService(db)
	if err != nil {
		t.Fatalf("failed to construct stats service: %v", err)
	}
	at := time.Date(2025, time.March, 14, 10, 0, 0, 0, time.UTC)
	if err := service.RecordPayout(context.Background(), at, 5, true); err != nil {
		t.Fatalf("failed to record payout: %v", err)
	}
	if err := service.RecordPayout(context.Background(), at.Add(time.Hour), 10, false); err != nil {
		t.Fatalf("failed to record payout: %v", err)
	}

	recorder, payload := exchangeToken(t, handler, "letmein")
	if recorder.Code != http.StatusOK {
		t.Fatalf("token exchange failed with %d", recorder.Code)
	}

	request := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	request.Header.Set("Authorization", "Bearer "+payload.AccessToken)
	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	var summary Summary
	if err := json.Unmarshal(recorder.Body.Bytes(), &summary); err != nil {
		t.Fatalf("failed to decode summary: %v", err)
	}
	if summary.TotalPayouts != 2 || summary.TotalAmount != 15 || summary.FirstClaims != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if len(summary.Daily) != 1 || summary.Daily[0].Day != "2025-03-14" {
		t.Fatalf("unexpected daily totals: %+v", summary.Daily)
	}

	request = httptest.NewRequest(http.MethodGet, "/api/balance", nil)
	request.Header.Set("Authorization", "Bearer "+payload.AccessToken)
	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	var balance struct {
		Balance float64 `json:"balance"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &balance); err != nil {
		t.Fatalf("failed to decode balance: %v", err)
	}
	if balance.Balance != 321.5 {
		t.Fatalf("unexpected balance %v", balance.Balance)
	}
}
