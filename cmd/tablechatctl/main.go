package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/tablechat/tablechat/internal/cli/tablechatctl"
)

func main() {
	timeout := parseDurationWithDefault(strings.TrimSpace(os.Getenv("TABLECHAT_CLI_TIMEOUT")), 3*time.Minute)
	options := tablechatctl.Options{
		BaseURL:       envOr("TABLECHAT_API_URL", "http://localhost:8080"),
		APIKey:        strings.TrimSpace(os.Getenv("TABLECHAT_API_KEY")),
		CompletionKey: strings.TrimSpace(os.Getenv("TABLECHAT_COMPLETION_KEY")),
		Principal:     strings.TrimSpace(os.Getenv("TABLECHAT_PRINCIPAL")),
		Model:         strings.TrimSpace(os.Getenv("TABLECHAT_MODEL")),
		Timeout:       timeout,
		Stdout:        os.Stdout,
		Stderr:        os.Stderr,
	}

	code := tablechatctl.Run(context.Background(), os.Args[1:], options)
	os.Exit(code)
}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func parseDurationWithDefault(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid TABLECHAT_CLI_TIMEOUT %q; using %s\n", raw, fallback)
		return fallback
	}
	return parsed
}
