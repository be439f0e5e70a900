package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wavechat/internal/app"
)

func main() {
	addr := flag.String("addr", getEnv("WAVECHAT_ADDR", ":8080"), "server listen address")
	path := flag.String("path", getEnv("WAVECHAT_PATH", "/chat"), "websocket path")
	dbPath := flag.String("db", app.DefaultDBPath(), "sqlite database path")
	uploadDir := flag.String("uploads", app.DefaultUploadDir(), "upload directory")
	secret := flag.String("secret", getEnv("WAVECHAT_JWT_SECRET", ""), "JWT signing secret")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	handle, err := app.RunServer(ctx, app.ServerConfig{
		Addr:      *addr,
		Path:      *path,
		DBPath:    *dbPath,
		UploadDir: *uploadDir,
		JWTSecret: *secret,
		TokenTTL:  7 * 24 * time.Hour,
	})
	if err != nil {
		log.Fatalf("server error: %v", err)
	}

	log.Printf("wavechat server listening on %s%s", handle.Addr(), *path)
	if err := handle.Wait(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
