package app

import (
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// ServerConfig defines how the HTTP/WebSocket backend should run.
type ServerConfig struct {
	Addr        string
	Path        string
	DBPath      string
	UploadDir   string
	MaxFileSize int64
	JWTSecret   string
	TokenTTL    time.Duration
	StatusDelay time.Duration
}

// ClientConfig defines the parameters the TUI client needs.
type ClientConfig struct {
	ServerURL string
	Username  string
}

// DefaultDBPath returns a per-user data path for the bundled SQLite file.
func DefaultDBPath() string {
	if env := os.Getenv("WAVECHAT_DB_PATH"); env != "" {
		return env
	}
	if env := os.Getenv("WAVECHAT_DATA_DIR"); env != "" {
		return filepath.Join(env, "wavechat.db")
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "wavechat", "wavechat.db")
	}
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "Wavechat", "wavechat.db")
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, "Library", "Application Support", "Wavechat", "wavechat.db")
		}
		return filepath.Join(home, ".local", "share", "wavechat", "wavechat.db")
	}
	return filepath.Join(".", ".wavechat", "wavechat.db")
}

// DefaultUploadDir returns where uploaded files are stored.
func DefaultUploadDir() string {
	if env := os.Getenv("WAVECHAT_UPLOAD_DIR"); env != "" {
		return env
	}
	return filepath.Join(filepath.Dir(DefaultDBPath()), "uploads")
}

// NormalizeJoinPath guarantees the websocket path starts with '/' and falls
// back to /chat when empty.
func NormalizeJoinPath(path string) string {
	if path == "" {
		return "/chat"
	}
	if path[0] != '/' {
		return "/" + path
	}
	return path
}
