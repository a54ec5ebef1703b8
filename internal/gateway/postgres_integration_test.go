package gateway

import (
	"context"
	"database/sql"
	"os"
	"strings"
	"testing"
	"time"
)

func postgresIntegrationDSN(t *testing.T) string {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("LABNOTES_TEST_POSTGRES_DSN"))
	if dsn == "" {
		t.Skip("LABNOTES_TEST_POSTGRES_DSN not set")
	}
	return dsn
}

func postgresIntegrationReset(t *testing.T, dsn string) {
	t.Helper()
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open postgres failed: %v", err)
	}
	defer db.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, "DROP TABLE IF EXISTS "+postgresQuoteIdentifier(sqlRecordsTable)); err != nil {
		t.Fatalf("reset postgres table failed: %v", err)
	}
}

func TestPostgresIntegrationGatewayConformance(t *testing.T) {
	dsn := postgresIntegrationDSN(t)
	postgresIntegrationReset(t, dsn)

	g, err := NewPostgresGateway(dsn, testSchema(), nil)
	if err != nil {
		t.Fatalf("new postgres gateway failed: %v", err)
	}
	t.Cleanup(func() {
		_ = g.Close()
		postgresIntegrationReset(t, dsn)
	})
	runGatewayConformance(t, g)
}

func TestPostgresIntegrationNotifyReachesOtherGateway(t *testing.T) {
	dsn := postgresIntegrationDSN(t)
	postgresIntegrationReset(t, dsn)

	writer, err := NewPostgresGateway(dsn, testSchema(), nil)
	if err != nil {
		t.Fatalf("new writer gateway failed: %v", err)
	}
	reader, err := NewPostgresGateway(dsn, testSchema(), nil)
	if err != nil {
		t.Fatalf("new reader gateway failed: %v", err)
	}
	t.Cleanup(func() {
		_ = writer.Close()
		_ = reader.Close()
		postgresIntegrationReset(t, dsn)
	})

	events := make(chan Event, 1)
	sub, err := reader.Subscribe(context.Background(), "entries", func(ev Event) { events <- ev })
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer sub.Close()

	rec := decodeTestRecord(t, mustCreate(t, writer, "entries", map[string]any{"mode": "research", "title": "from elsewhere"}))
	select {
	case ev := <-events:
		got := decodeTestRecord(t, ev.Record)
		if ev.Action != ActionCreate || got.ID != rec.ID || got.Title != "from elsewhere" {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for cross-process notification")
	}
}
