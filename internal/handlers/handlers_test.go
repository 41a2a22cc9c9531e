package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/thermoscan/internal/archive"
	"github.com/example/thermoscan/internal/auth"
	"github.com/example/thermoscan/internal/domain"
	"github.com/example/thermoscan/internal/repository"
	"github.com/example/thermoscan/internal/usecase"
	"github.com/example/thermoscan/internal/vision"
)

const testJWTSecret = "test-secret"

type unreachableArchive struct{}

func (unreachableArchive) Insert(ctx context.Context, reading domain.Reading) (string, error) {
	return "", domain.ErrArchiveUnavailable
}

func (unreachableArchive) All(ctx context.Context) ([]archive.Document, error) {
	return nil, domain.ErrArchiveUnavailable
}

func (unreachableArchive) Status(ctx context.Context) (*archive.Status, error) {
	return &archive.Status{}, domain.ErrArchiveUnavailable
}

func newTestRouter(t *testing.T, exportAuth gin.HandlerFunc) *gin.Engine {
	t.Helper()
	return newLoggedTestRouter(t, exportAuth, zap.NewNop())
}

func newLoggedTestRouter(t *testing.T, exportAuth gin.HandlerFunc, logger *zap.Logger) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := repository.OpenDatabase(context.Background(), "sqlite", ":memory:", gormlogger.Silent)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	repo := repository.NewReadingRepository(db, zap.NewNop())
	if err := repo.AutoMigrate(context.Background()); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	dispatcher := usecase.NewDispatcher(zap.NewNop(), nil)
	dispatcher.Register(domain.ProviderGemini, usecase.Registration{
		Extractor: vision.ExtractorFunc(func(ctx context.Context, image []byte, credential string) (*vision.Result, error) {
			return vision.GenuineResult("Reading: 33.4 C")
		}),
	})
	dispatcher.Register(domain.ProviderTogether, usecase.Registration{
		Extractor: vision.ExtractorFunc(func(ctx context.Context, image []byte, credential string) (*vision.Result, error) {
			return nil, domain.ErrProviderStatus.Withf("status 500")
		}),
	})

	persister := usecase.NewPersister(repo, unreachableArchive{}, nil, zap.NewNop(), nil)
	uc := usecase.NewReadingUseCase(dispatcher, persister, zap.NewNop())
	history := usecase.NewHistoryService(repo, unreachableArchive{}, nil, 0, zap.NewNop())

	router := gin.New()
	RegisterRoutes(router, uc, history, nil, exportAuth, logger)
	return router
}

func postProcess(t *testing.T, router *gin.Engine, payload map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("failed to marshal payload: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/process", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

var testImage = base64.StdEncoding.EncodeToString([]byte("fake-jpeg"))

func TestProcessRejectsLargeBody(t *testing.T) {
	router := newTestRouter(t, nil)

	body := `{"image":"` + strings.Repeat("a", MaxBodySize) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/process", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status %d, got %d", http.StatusRequestEntityTooLarge, resp.Code)
	}
}

func TestProcessRejectsUnsupportedContentType(t *testing.T) {
	router := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/process", strings.NewReader("image=abc"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected status %d, got %d", http.StatusUnsupportedMediaType, resp.Code)
	}
}

func TestProcessSuccessWithArchiveDown(t *testing.T) {
	router := newTestRouter(t, nil)

	resp := postProcess(t, router, map[string]string{"image": testImage})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, resp.Code, resp.Body.String())
	}

	var out processResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if out.Temperature != 33.4 || out.Status != "warning" || out.Model != "gemini" {
		t.Fatalf("unexpected reading: %+v", out)
	}
	if !out.SQLiteSuccess || out.MongoSuccess || out.Simulated {
		t.Fatalf("unexpected flags: %+v", out)
	}
	if _, err := time.Parse(time.RFC3339Nano, out.Timestamp); err != nil {
		t.Fatalf("timestamp %q is not ISO-8601: %v", out.Timestamp, err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/history", nil)
	hist := httptest.NewRecorder()
	router.ServeHTTP(hist, req)
	var entries []usecase.HistoryEntry
	if err := json.Unmarshal(hist.Body.Bytes(), &entries); err != nil {
		t.Fatalf("failed to decode history: %v", err)
	}
	if len(entries) != 1 || entries[0].Temp != 33.4 {
		t.Fatalf("unexpected history: %+v", entries)
	}
}

func TestProcessErrorMapping(t *testing.T) {
	router := newTestRouter(t, nil)

	cases := []struct {
		name    string
		payload map[string]string
		status  int
		code    string
	}{
		{"missing image", map[string]string{}, http.StatusBadRequest, "missing_image"},
		{"unknown model", map[string]string{"image": testImage, "model": "claude"}, http.StatusBadRequest, "unknown_provider"},
		{"provider failure", map[string]string{"image": testImage, "model": "together"}, http.StatusBadGateway, "provider_status"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := postProcess(t, router, tc.payload)
			if resp.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, resp.Code)
			}
			var body map[string]string
			if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
				t.Fatalf("failed to decode error: %v", err)
			}
			if body["code"] != tc.code {
				t.Fatalf("expected code %q, got %q", tc.code, body["code"])
			}
		})
	}
}

func TestExportFullArchiveUnavailable(t *testing.T) {
	router := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/export-full", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status %d, got %d", http.StatusServiceUnavailable, resp.Code)
	}
}

func TestArchiveStatusAlias(t *testing.T) {
	router := newTestRouter(t, nil)

	for _, path := range []string{"/api/archive/status", "/test-mongo"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)
		if resp.Code != http.StatusServiceUnavailable {
			t.Fatalf("%s: expected status %d, got %d", path, http.StatusServiceUnavailable, resp.Code)
		}
	}
}

func TestExportRequiresTokenWhenAuthConfigured(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	router := newLoggedTestRouter(t, auth.JWTMiddleware(testJWTSecret, ""), zap.New(core))
	if resp := postProcess(t, router, map[string]string{"image": testImage}); resp.Code != http.StatusOK {
		t.Fatalf("process failed: %d", resp.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/export", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, resp.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/export", nil)
	req.Header.Set("Authorization", "Bearer "+buildTestToken(t, "operator"))
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.Code)
	}
	if got := resp.Header().Get("Content-Disposition"); !strings.Contains(got, "thermoscan_session_export_") {
		t.Fatalf("unexpected content disposition %q", got)
	}
	lines := strings.Split(strings.TrimSpace(resp.Body.String()), "\n")
	if len(lines) != 2 || lines[0] != "id,temperature,status,model,timestamp" {
		t.Fatalf("unexpected export: %q", resp.Body.String())
	}

	served := logs.FilterMessage("export served").All()
	if len(served) != 1 {
		t.Fatalf("expected one export log entry, got %d", len(served))
	}
	fields := served[0].ContextMap()
	if fields["subject"] != "operator" || fields["store"] != "session" {
		t.Fatalf("unexpected export log fields: %v", fields)
	}
}

func buildTestToken(t *testing.T, subject string) string {
	t.Helper()

	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}
