package sqlite3

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestDataSource(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
		want []string
	}{
		{
			name: "memory stays bare",
			opts: nil,
			want: []string{":memory:"},
		},
		{
			name: "file gets pragmas",
			opts: []Option{WithDSN("data/orders.db"), WithBusyTimeout(2 * time.Second)},
			want: []string{"file:data/orders.db?", "_busy_timeout=2000", "_journal_mode=WAL"},
		},
		{
			name: "existing query is extended",
			opts: []Option{WithDSN("file:orders.db?cache=shared")},
			want: []string{"file:orders.db?cache=shared&", "_busy_timeout=5000"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := newConfig(tt.opts...).dataSource()
			for _, part := range tt.want {
				if !strings.Contains(got, part) {
					t.Errorf("dataSource() = %q, missing %q", got, part)
				}
			}
		})
	}
}

func TestMemoryForcesSingleConnection(t *testing.T) {
	cfg := newConfig(WithMaxOpenConns(50))
	if cfg.MaxOpenConns != 1 {
		t.Errorf("MaxOpenConns = %d, want 1", cfg.MaxOpenConns)
	}
}

func TestNew(t *testing.T) {
	db, err := New(context.Background())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer db.Close()

	if err := db.Ready(context.Background()); err != nil {
		t.Errorf("Ready: %v", err)
	}
}
