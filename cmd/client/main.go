package main

import (
	"flag"
	"fmt"
	"os"

	"wavechat/internal/app"
)

func main() {
	defaultServer := envOrDefault("WAVECHAT_SERVER", "http://localhost:8080")
	defaultUser := envOrDefault("WAVECHAT_USER", "")

	serverURL := flag.String("server", defaultServer, "server base URL (e.g., http://localhost:8080)")
	username := flag.String("user", defaultUser, "default username for the login prompt")
	flag.Parse()

	cfg := app.ClientConfig{
		ServerURL: *serverURL,
		Username:  *username,
	}

	if err := app.RunClient(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
