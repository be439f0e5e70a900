package internal

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"wavechat/internal/storage"
)

var errUnauthorized = errors.New("unauthorized")

// Server ties the HTTP handlers to the store, the token manager, and the
// presence core. One instance serves the whole process.
type Server struct {
	store       *storage.Store
	tokens      *TokenManager
	presence    *PresenceTable
	hub         *Hub
	engine      *Engine
	metrics     *Metrics
	authLimiter *RateLimiter
	uploads     *FileUploadHandler
}

// ServerOptions carries the tunables RunServer resolves from config.
type ServerOptions struct {
	JWTSecret   string
	TokenTTL    time.Duration
	StatusDelay time.Duration
	UploadDir   string
	MaxFileSize int64
}

func NewServerWithConfig(store *storage.Store, opts ServerOptions) *Server {
	metrics := NewMetrics()
	presence := NewPresenceTable()
	hub := NewHub(metrics)
	engine := NewEngine(hub, presence, opts.StatusDelay)
	s := &Server{
		store:       store,
		tokens:      NewTokenManager(opts.JWTSecret, opts.TokenTTL),
		presence:    presence,
		hub:         hub,
		engine:      engine,
		metrics:     metrics,
		authLimiter: NewRateLimiter(10, time.Minute),
	}
	s.uploads = NewFileUploadHandler(store, opts.UploadDir, opts.MaxFileSize, metrics)
	go hub.Run()
	return s
}

type registerRequest struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	BirthDate string `json:"birthDate"`
	Phone     string `json:"phone"`
	Email     string `json:"email"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	Username  string    `json:"username"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *Server) HandleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if !s.authLimiter.Allow(s.clientIP(r)) {
		http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		return
	}
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	username := strings.TrimSpace(req.Username)
	password := strings.TrimSpace(req.Password)
	if username == "" || password == "" || req.FirstName == "" || req.LastName == "" ||
		req.BirthDate == "" || req.Phone == "" || req.Email == "" {
		writeError(w, http.StatusBadRequest, errors.New("all fields are required"))
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	_, err = s.store.CreateUser(r.Context(), storage.User{
		Username:     username,
		PasswordHash: hash,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		BirthDate:    req.BirthDate,
		Phone:        req.Phone,
		Email:        req.Email,
	})
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrUserExists):
			writeError(w, http.StatusConflict, errors.New("username already exists"))
		case errors.Is(err, storage.ErrEmailExists):
			writeError(w, http.StatusConflict, errors.New("email already exists"))
		default:
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}
	token, err := s.tokens.Issue(username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.metrics.IncRegistration()
	writeJSON(w, http.StatusCreated, loginResponse{
		Token:     token,
		Username:  username,
		ExpiresAt: time.Now().Add(s.tokens.TTL()),
	})
}

func (s *Server) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if !s.authLimiter.Allow(s.clientIP(r)) {
		http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		return
	}
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	username := strings.TrimSpace(req.Username)
	password := strings.TrimSpace(req.Password)
	if username == "" || password == "" {
		writeError(w, http.StatusBadRequest, errors.New("username and password are required"))
		return
	}
	user, err := s.store.GetUserByUsername(r.Context(), username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	// The identifier may also be the registered email address.
	if user == nil && strings.Contains(username, "@") {
		user, err = s.store.GetUserByEmail(r.Context(), username)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
	}
	if user == nil || bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(password)) != nil {
		writeError(w, http.StatusUnauthorized, errors.New("invalid credentials"))
		return
	}
	token, err := s.tokens.Issue(user.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.metrics.IncLogin()
	writeJSON(w, http.StatusOK, loginResponse{
		Token:     token,
		Username:  user.Username,
		ExpiresAt: time.Now().Add(s.tokens.TTL()),
	})
}

// HandleFileUpload is the authenticated multipart upload endpoint.
func (s *Server) HandleFileUpload(w http.ResponseWriter, r *http.Request) {
	authCtx, err := s.authenticateRequest(r)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, errUnauthorized) {
			status = http.StatusUnauthorized
		}
		http.Error(w, http.StatusText(status), status)
		return
	}
	s.uploads.HandleUpload(w, r, authCtx.Username)
}

// HandleFileDownload serves previously uploaded files.
func (s *Server) HandleFileDownload(w http.ResponseWriter, r *http.Request) {
	s.uploads.HandleDownload(w, r)
}

type uploadEntry struct {
	FileURL    string    `json:"fileUrl"`
	Filename   string    `json:"filename"`
	SizeBytes  int64     `json:"size_bytes"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// HandleListUploads returns the caller's own uploads, newest first.
func (s *Server) HandleListUploads(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	authCtx, err := s.authenticateRequest(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	uploads, err := s.store.ListUploadsBy(r.Context(), authCtx.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	entries := make([]uploadEntry, 0, len(uploads))
	for _, upload := range uploads {
		entries = append(entries, uploadEntry{
			FileURL:    "/uploads/" + upload.StoredName,
			Filename:   upload.Filename,
			SizeBytes:  upload.SizeBytes,
			UploadedAt: upload.UploadedAt,
		})
	}
	writeJSON(w, http.StatusOK, entries)
}

// HandleOnline reports the current presence snapshot over plain HTTP, the
// same map the userStatus event carries.
func (s *Server) HandleOnline(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, s.presence.Snapshot())
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics
}

// Engine exposes the presence engine for the transport layer.
func (s *Server) Engine() *Engine {
	return s.engine
}

type authContext struct {
	Username string
	Token    string
}

// authenticateRequest resolves the Bearer token on an HTTP request.
func (s *Server) authenticateRequest(r *http.Request) (authContext, error) {
	token := bearerToken(r)
	if token == "" {
		return authContext{}, errUnauthorized
	}
	username, err := s.tokens.Verify(token)
	if err != nil {
		return authContext{}, errUnauthorized
	}
	return authContext{Username: username, Token: token}, nil
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func (s *Server) clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if idx := strings.Index(forwarded, ","); idx >= 0 {
			return strings.TrimSpace(forwarded[:idx])
		}
		return strings.TrimSpace(forwarded)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func decodeJSON(r *http.Request, out interface{}) error {
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
}
