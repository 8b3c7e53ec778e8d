package postgres

import (
	"context"
	"testing"
)

func TestOpenRequiresDSN(t *testing.T) {
	_, err := Open(context.Background(), DBConfig{DSN: "  "})
	if err == nil {
		t.Fatal("expected error for empty DSN")
	}
}

func TestOpenRejectsMalformedDSN(t *testing.T) {
	_, err := Open(context.Background(), DBConfig{DSN: "postgres://tablechat@localhost:notaport/tablechat"})
	if err == nil {
		t.Fatal("expected error for malformed DSN")
	}
}

func TestConnConfigApplicationName(t *testing.T) {
	tests := []struct {
		name string
		cfg  DBConfig
		want string
	}{
		{name: "default", cfg: DBConfig{DSN: "postgres://u@localhost:5432/db"}, want: "tablechat"},
		{name: "configured", cfg: DBConfig{DSN: "postgres://u@localhost:5432/db", ApplicationName: "tablechat-api"}, want: "tablechat-api"},
		{name: "dsn wins", cfg: DBConfig{DSN: "postgres://u@localhost:5432/db?application_name=psql", ApplicationName: "tablechat-api"}, want: "psql"},
	}
	for _, tt := range tests {
		parsed, err := connConfig(tt.cfg)
		if err != nil {
			t.Fatalf("%s: connConfig() error = %v", tt.name, err)
		}
		if got := parsed.RuntimeParams["application_name"]; got != tt.want {
			t.Fatalf("%s: application_name = %q, want %q", tt.name, got, tt.want)
		}
		if parsed.Host != "localhost" || parsed.Port != 5432 || parsed.Database != "db" {
			t.Fatalf("%s: parsed = %s:%d/%s", tt.name, parsed.Host, parsed.Port, parsed.Database)
		}
	}
}
