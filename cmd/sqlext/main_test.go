package main

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/tomyedwab/sqlext/database"
)

func TestParamFlag(t *testing.T) {
	p := paramFlag{}
	if err := p.Set("name=O'Brien"); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}
	if err := p.Set("empty="); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}
	if p["name"] != "O'Brien" || p["empty"] != "" {
		t.Errorf("Unexpected params %v", p)
	}
	if err := p.Set("novalue"); err == nil {
		t.Error("Expected an error without '='")
	}
}

func TestDryRunMySQL(t *testing.T) {
	ctx := context.Background()
	query := "UPDATE users SET name = :name WHERE id = :id"
	cfg := database.Config{
		Driver:   "mysql",
		DSN:      "app:secret@tcp(db.internal:3306)/app",
		TimeZone: "+00:00",
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	proxy, err := startDryRun(cfg, query)
	if err != nil {
		t.Fatalf("startDryRun returned error: %v", err)
	}
	defer proxy.Close()

	conn, err := database.Open(ctx, proxy.Config(cfg))
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	defer conn.Close()

	if !run(ctx, conn, query, database.Params{"name": "O'Brien", "id": "7"}, true) {
		t.Fatal("Expected the dry run to succeed")
	}

	want := []string{
		"SET NAMES utf8mb4",
		"SET sql_mode='STRICT_TRANS_TABLES,NO_ZERO_DATE,NO_ZERO_IN_DATE'",
		"SET time_zone = '+00:00'",
		"UPDATE users SET name = ? WHERE id = ?",
	}
	got := proxy.Statements()
	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Statement %d: expected %q, got %q", i, want[i], got[i])
		}
	}
	if conn.StatisticCount() != 1 {
		t.Errorf("Expected 1 sample, got %d", conn.StatisticCount())
	}
}
