package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"wavechat/internal/storage"
)

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	path := "sqlite://file:" + t.Name() + "?mode=memory&cache=shared"
	store, err := storage.NewStore(path)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	return NewServerWithConfig(newTestStore(t), ServerOptions{
		JWTSecret:   "test-secret",
		TokenTTL:    time.Hour,
		StatusDelay: testStatusDelay,
		UploadDir:   t.TempDir(),
		MaxFileSize: 1 << 20,
	})
}

func validRegisterBody(username string) map[string]string {
	return map[string]string{
		"username":  username,
		"password":  "hunter22",
		"firstName": "Alice",
		"lastName":  "Example",
		"birthDate": "1990-04-01",
		"phone":     "+15550100",
		"email":     username + "@example.com",
	}
}

func doJSON(t *testing.T, handler http.HandlerFunc, method, target string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			t.Fatalf("encode payload: %v", err)
		}
	}
	req := httptest.NewRequest(method, target, &body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestRegisterAndLogin(t *testing.T) {
	server := newTestServer(t)

	rec := doJSON(t, server.HandleRegister, http.MethodPost, "/api/register", validRegisterBody("alice"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created loginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode register response: %v", err)
	}
	if created.Token == "" || created.Username != "alice" {
		t.Fatalf("unexpected register response: %+v", created)
	}
	if username, err := server.tokens.Verify(created.Token); err != nil || username != "alice" {
		t.Fatalf("register token must verify: %q, %v", username, err)
	}

	rec = doJSON(t, server.HandleLogin, http.MethodPost, "/api/login",
		map[string]string{"username": "alice", "password": "hunter22"})
	if rec.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, server.HandleLogin, http.MethodPost, "/api/login",
		map[string]string{"username": "alice", "password": "wrong"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad password: expected 401, got %d", rec.Code)
	}

	rec = doJSON(t, server.HandleLogin, http.MethodPost, "/api/login",
		map[string]string{"username": "nobody", "password": "hunter22"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unknown user: expected 401, got %d", rec.Code)
	}
}

func TestLoginByEmail(t *testing.T) {
	server := newTestServer(t)

	if rec := doJSON(t, server.HandleRegister, http.MethodPost, "/api/register", validRegisterBody("alice")); rec.Code != http.StatusCreated {
		t.Fatalf("register failed: %d", rec.Code)
	}

	rec := doJSON(t, server.HandleLogin, http.MethodPost, "/api/login",
		map[string]string{"username": "alice@example.com", "password": "hunter22"})
	if rec.Code != http.StatusOK {
		t.Fatalf("email login: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp loginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	if resp.Username != "alice" {
		t.Fatalf("email login must resolve to the username, got %q", resp.Username)
	}

	rec = doJSON(t, server.HandleLogin, http.MethodPost, "/api/login",
		map[string]string{"username": "alice@example.com", "password": "wrong"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("email login with bad password: expected 401, got %d", rec.Code)
	}
}

func TestRegisterValidation(t *testing.T) {
	server := newTestServer(t)

	body := validRegisterBody("alice")
	body["email"] = ""
	rec := doJSON(t, server.HandleRegister, http.MethodPost, "/api/register", body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing field: expected 400, got %d", rec.Code)
	}
}

func TestRegisterConflicts(t *testing.T) {
	server := newTestServer(t)

	if rec := doJSON(t, server.HandleRegister, http.MethodPost, "/api/register", validRegisterBody("alice")); rec.Code != http.StatusCreated {
		t.Fatalf("first register failed: %d", rec.Code)
	}
	if rec := doJSON(t, server.HandleRegister, http.MethodPost, "/api/register", validRegisterBody("alice")); rec.Code != http.StatusConflict {
		t.Fatalf("duplicate username: expected 409, got %d", rec.Code)
	}

	body := validRegisterBody("alice2")
	body["email"] = "alice@example.com"
	if rec := doJSON(t, server.HandleRegister, http.MethodPost, "/api/register", body); rec.Code != http.StatusConflict {
		t.Fatalf("duplicate email: expected 409, got %d", rec.Code)
	}
}

func TestAuthRateLimit(t *testing.T) {
	server := newTestServer(t)

	var last int
	for i := 0; i < 12; i++ {
		rec := doJSON(t, server.HandleLogin, http.MethodPost, "/api/login",
			map[string]string{"username": fmt.Sprintf("u%d", i), "password": "x"})
		last = rec.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after hammering login, got %d", last)
	}
}

func TestOnlineEndpoint(t *testing.T) {
	server := newTestServer(t)

	session := server.engine.OnConnectionEstablished("alice")
	defer server.engine.OnConnectionClosed(session)

	req := httptest.NewRequest(http.MethodGet, "/online", nil)
	rec := httptest.NewRecorder()
	server.HandleOnline(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var snapshot map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &snapshot); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snapshot["alice"] != StatusOnline {
		t.Fatalf("expected alice online, got %+v", snapshot)
	}
}

func TestUploadRequiresAuth(t *testing.T) {
	server := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/upload", nil)
	rec := httptest.NewRecorder()
	server.HandleFileUpload(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
}

func TestListUploads(t *testing.T) {
	server := newTestServer(t)
	token, err := server.tokens.Issue("alice")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	body, contentType := multipartUpload(t, "notes.txt", []byte("hello"))
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	server.HandleFileUpload(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("upload failed: %d: %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/uploads", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	server.HandleListUploads(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", rec.Code)
	}
	var entries []uploadEntry
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(entries) != 1 || entries[0].Filename != "notes.txt" || entries[0].SizeBytes != 5 {
		t.Fatalf("unexpected entries: %+v", entries)
	}
	if !strings.HasPrefix(entries[0].FileURL, "/uploads/") {
		t.Fatalf("unexpected file URL: %s", entries[0].FileURL)
	}

	rec = httptest.NewRecorder()
	server.HandleListUploads(rec, httptest.NewRequest(http.MethodGet, "/api/uploads", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	server := newTestServer(t)

	rec := doJSON(t, server.HandleRegister, http.MethodPost, "/api/register", validRegisterBody("alice"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("register failed: %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	mrec := httptest.NewRecorder()
	server.MetricsHandler().ServeHTTP(mrec, req)
	var payload map[string]float64
	if err := json.Unmarshal(mrec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode metrics: %v", err)
	}
	if payload["registrations_total"] != 1 {
		t.Fatalf("expected 1 registration, got %v", payload["registrations_total"])
	}
}
