package db

import (
	"strings"
	"testing"
)

func TestDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "no password",
			cfg:  Config{Host: "127.0.0.1", Port: 3306, Database: "grabyard", User: "root"},
			want: "root@tcp(127.0.0.1:3306)/grabyard?parseTime=true",
		},
		{
			name: "with password",
			cfg:  Config{Host: "db.internal", Port: 3307, Database: "history", User: "bot", Password: "s3cret"},
			want: "bot:s3cret@tcp(db.internal:3307)/history?parseTime=true",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DSN(tt.cfg); got != tt.want {
				t.Errorf("DSN() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDSN_IPv6Host(t *testing.T) {
	dsn := DSN(Config{Host: "::1", Port: 3306, Database: "x", User: "root"})
	if !strings.Contains(dsn, "tcp([::1]:3306)") {
		t.Errorf("DSN should bracket IPv6 hosts: %s", dsn)
	}
}

func TestConnect_SQLiteMigrate(t *testing.T) {
	gdb, err := Connect(Config{Driver: DriverSQLite, Path: ":memory:"})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := AutoMigrate(gdb); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	for _, m := range AllModels() {
		if !gdb.Migrator().HasTable(m) {
			t.Errorf("table for %T not created", m)
		}
	}
}

func TestConnect_Errors(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"unknown driver", Config{Driver: "postgres"}},
		{"sqlite without path", Config{Driver: DriverSQLite}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Connect(tt.cfg); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
