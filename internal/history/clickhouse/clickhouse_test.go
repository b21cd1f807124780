package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/clickhouse"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/loykin/camrelay/internal/history"
)

// setupClickHouseContainer starts a ClickHouse container for testing
func setupClickHouseContainer(ctx context.Context, t *testing.T) (testcontainers.Container, string) {
	t.Helper()

	container, err := clickhouse.Run(ctx,
		"clickhouse/clickhouse-server:24.3.2.23",
		clickhouse.WithUsername("default"),
		clickhouse.WithPassword(""),
		clickhouse.WithDatabase("default"),
		testcontainers.WithWaitStrategy(
			wait.ForHTTP("/ping").
				WithPort("8123/tcp").
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Fatalf("Failed to start ClickHouse container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "9000")
	if err != nil {
		t.Fatalf("Failed to get mapped port: %v", err)
	}
	return container, host + ":" + port.Port()
}

func TestClickHouseSink_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	container, addr := setupClickHouseContainer(ctx, t)
	defer func() {
		if err := container.Terminate(ctx); err != nil {
			t.Errorf("Failed to terminate ClickHouse container: %v", err)
		}
	}()

	sink, err := New(addr, "camrelay_events")
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("Failed to close sink: %v", err)
		}
	}()

	base := time.Now().UTC().Truncate(time.Millisecond)
	for i, e := range []history.Event{
		{Type: history.EventExit, Record: history.Record{Name: "encoder", PID: 77, Status: "exited", Error: "signal: killed"}},
		{Type: history.EventRestart, Record: history.Record{Name: "encoder", PID: 78, Strategy: "by-index", Status: "running"}},
		{Type: history.EventStop, Record: history.Record{Name: "relay", PID: 12, Status: "stopped"}},
	} {
		e.OccurredAt = base.Add(time.Duration(i) * time.Second)
		if err := sink.Send(ctx, e); err != nil {
			t.Fatalf("Failed to send %s event: %v", e.Type, err)
		}
	}

	got, err := sink.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(got))
	}
	if got[0].Record.Name != "relay" || got[0].Type != history.EventStop {
		t.Errorf("newest event = %+v", got[0])
	}
	if got[1].Record.PID != 78 || got[1].Record.Strategy != "by-index" {
		t.Errorf("second event = %+v", got[1])
	}

	var exits uint64
	if err := sink.conn.QueryRow(ctx, "SELECT count() FROM camrelay_events WHERE event = 'exit' AND exit_error != ''").Scan(&exits); err != nil {
		t.Fatalf("count exits: %v", err)
	}
	if exits != 1 {
		t.Errorf("Expected 1 exit with error, got %d", exits)
	}
}

func TestClickHouseSink_ConnectionError(t *testing.T) {
	if _, err := New("invalid-host:9000", "camrelay_events"); err == nil {
		t.Error("Expected error with invalid connection, got nil")
	}
}

func TestClickHouseSink_InvalidTable(t *testing.T) {
	if _, err := New("localhost:9000", "history; DROP TABLE x"); err == nil {
		t.Error("Expected error for invalid table name")
	}
}
