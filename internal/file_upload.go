package internal

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"wavechat/internal/storage"
)

// FileUploadHandler manages file upload/download operations. Files land in a
// flat upload directory under a UUID-based name; originals are recorded in
// the uploads table so downloads can restore the filename.
type FileUploadHandler struct {
	store       *storage.Store
	uploadDir   string
	maxFileSize int64
	metrics     *Metrics
}

func NewFileUploadHandler(store *storage.Store, uploadDir string, maxFileSize int64, metrics *Metrics) *FileUploadHandler {
	return &FileUploadHandler{
		store:       store,
		uploadDir:   uploadDir,
		maxFileSize: maxFileSize,
		metrics:     metrics,
	}
}

// HandleUpload processes a multipart upload for an already-authenticated user
// and responds with the URL the file is served from.
func (h *FileUploadHandler) HandleUpload(w http.ResponseWriter, r *http.Request, username string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxFileSize)
	if err := r.ParseMultipartForm(h.maxFileSize); err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, errors.New("file too large"))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("no file uploaded"))
		return
	}
	defer file.Close()

	filename := filepath.Base(header.Filename)
	if filename == "" || filename == "." || filename == ".." {
		writeError(w, http.StatusBadRequest, errors.New("invalid filename"))
		return
	}
	if header.Size > h.maxFileSize {
		writeError(w, http.StatusRequestEntityTooLarge, errors.New("file too large"))
		return
	}

	fileID := uuid.NewString()
	storedName := fileID + strings.ToLower(filepath.Ext(filename))
	storagePath := filepath.Join(h.uploadDir, storedName)

	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("create upload directory: %w", err))
		return
	}

	destFile, err := os.Create(storagePath)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("create file: %w", err))
		return
	}
	defer destFile.Close()

	hasher := sha256.New()
	written, err := io.Copy(io.MultiWriter(destFile, hasher), file)
	if err != nil {
		os.Remove(storagePath)
		writeError(w, http.StatusInternalServerError, fmt.Errorf("save file: %w", err))
		return
	}

	upload := storage.Upload{
		ID:         fileID,
		StoredName: storedName,
		Filename:   filename,
		SizeBytes:  written,
		SHA256:     hex.EncodeToString(hasher.Sum(nil)),
		UploadedBy: username,
		UploadedAt: time.Now(),
	}
	if err := h.store.CreateUpload(r.Context(), upload); err != nil {
		os.Remove(storagePath)
		writeError(w, http.StatusInternalServerError, fmt.Errorf("record upload: %w", err))
		return
	}

	if h.metrics != nil {
		h.metrics.IncUpload()
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"fileUrl": fmt.Sprintf("%s://%s/uploads/%s", scheme, r.Host, storedName),
	})
}

// HandleDownload serves a stored file by its on-disk name, e.g.
// /uploads/3f1c...-a2.png. Only files with an uploads row are served.
func (h *FileUploadHandler) HandleDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	storedName := filepath.Base(strings.TrimPrefix(r.URL.Path, "/uploads/"))
	if storedName == "" || storedName == "." || storedName == ".." {
		http.Error(w, "file name required", http.StatusBadRequest)
		return
	}

	upload, err := h.store.GetUploadByStoredName(r.Context(), storedName)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if upload == nil {
		http.Error(w, "file not found", http.StatusNotFound)
		return
	}

	filePath := filepath.Join(h.uploadDir, upload.StoredName)
	absPath, err := filepath.Abs(filePath)
	if err != nil || !strings.HasPrefix(absPath, mustAbs(h.uploadDir)) {
		http.Error(w, "invalid file path", http.StatusForbidden)
		return
	}

	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			http.Error(w, "file not found on disk", http.StatusNotFound)
		} else {
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}
	defer file.Close()

	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", upload.Filename))
	http.ServeContent(w, r, upload.Filename, upload.UploadedAt, file)
}

func mustAbs(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return abs
}
