package main

import (
	"os"
	"strings"
	"testing"
)

func TestVersionFromFile(t *testing.T) {
	cases := []struct {
		filename string
		want     int64
		wantErr  bool
	}{
		{"001_init.up.sql", 1, false},
		{"002_audit_trail.up.sql", 2, false},
		{"010_later.up.sql", 10, false},
		{"noversion.sql", 0, true},
		{"abc_thing.up.sql", 0, true},
	}
	for _, tc := range cases {
		got, err := versionFromFile(tc.filename)
		if tc.wantErr {
			if err == nil {
				t.Errorf("%s: expected error, got version %d", tc.filename, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: unexpected error: %v", tc.filename, err)
			continue
		}
		if got != tc.want {
			t.Errorf("%s: got version %d, want %d", tc.filename, got, tc.want)
		}
	}
}

func TestLoadMigrations_orderAndFilter(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"002_audit_trail.up.sql",
		"001_init.up.sql",
		"001_init.down.sql",
		"notes.txt",
	} {
		if err := os.WriteFile(dir+"/"+name, []byte("SELECT 1;"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	migrations, err := loadMigrations(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(migrations) != 2 {
		t.Fatalf("expected 2 forward migrations, got %d", len(migrations))
	}
	if migrations[0].version != 1 || migrations[1].version != 2 {
		t.Errorf("wrong order: got versions %d, %d", migrations[0].version, migrations[1].version)
	}
	for _, m := range migrations {
		if strings.HasSuffix(m.name, ".down.sql") {
			t.Errorf("rollback file included: %s", m.name)
		}
	}
}

func TestMigrations_auditTrailSeedsGenesis(t *testing.T) {
	migrations, err := loadMigrations("../../migrations")
	if err != nil {
		t.Fatal(err)
	}
	if len(migrations) < 2 {
		t.Fatalf("expected at least 2 migrations, got %d", len(migrations))
	}

	var auditSQL string
	for _, m := range migrations {
		if strings.Contains(m.name, "audit_trail") {
			b, err := os.ReadFile(m.path)
			if err != nil {
				t.Fatal(err)
			}
			auditSQL = string(b)
		}
	}
	if auditSQL == "" {
		t.Fatal("no audit_trail migration found")
	}

	// A fresh database must come up with the idx 0 genesis row already in
	// place, so the first trail append has a tail to chain from.
	if !strings.Contains(auditSQL, "INSERT INTO audit_trail") {
		t.Error("audit_trail migration does not seed the genesis entry")
	}
	if !strings.Contains(auditSQL, "'genesis'") {
		t.Error("audit_trail migration seed is missing the genesis event")
	}
	if !strings.Contains(auditSQL, "ON CONFLICT (idx) DO NOTHING") {
		t.Error("genesis seed must be idempotent across re-runs")
	}
	if !strings.Contains(auditSQL, strings.Repeat("0", 64)) {
		t.Error("genesis seed is missing the zero hash")
	}
}
