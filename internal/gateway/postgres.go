package gateway

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/lib/pq"
)

const postgresNotifyChannel = "labnotes_records"

var postgresFields = sqlFieldExprs{
	text: func(field string) string {
		return fmt.Sprintf("COALESCE(data->>'%s', '')", field)
	},
	boolean: func(field string) string {
		return fmt.Sprintf("COALESCE((data->>'%s')::boolean, false)", field)
	},
	number: func(field string) string {
		return fmt.Sprintf("(data->>'%s')::double precision", field)
	},
	contains: func(field, p string) string {
		return fmt.Sprintf(
			"(CASE WHEN jsonb_typeof(data->'%[1]s') = 'array' THEN data->'%[1]s' @> jsonb_build_array(%[2]s::text) "+
				"ELSE strpos(lower(COALESCE(data->>'%[1]s', '')), lower(%[2]s::text)) > 0 END)", field, p)
	},
}

var postgresDialect = sqlDialect{
	driver:      "postgres",
	placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
	createTable: []string{
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				seq BIGSERIAL PRIMARY KEY,
				collection TEXT NOT NULL,
				id TEXT NOT NULL,
				data JSONB NOT NULL,
				created BIGINT NOT NULL,
				updated BIGINT NOT NULL,
				UNIQUE (collection, id)
			)`, postgresQuoteIdentifier(sqlRecordsTable)),
	},
	dataParam: func(p string) string { return p + "::jsonb" },
	condition: postgresFields.condition,
	sortExpr: func(field string) string {
		return fmt.Sprintf("data->>'%s'", field)
	},
}

type postgresNotification struct {
	Action     Action `json:"action"`
	Collection string `json:"collection"`
	ID         string `json:"id"`
}

// NewPostgresGateway stores records in Postgres. Writes publish a
// pg_notify inside their transaction; every process listening on the same
// database sees them, and the record is re-read before it is delivered.
func NewPostgresGateway(dsn string, schema Schema, logger Logger) (*SQLGateway, error) {
	g, err := newSQLGateway(dsn, postgresDialect, schema, logger)
	if err != nil {
		return nil, err
	}
	g.notify = func(ctx context.Context, tx *sql.Tx, action Action, collection, id string) error {
		payload, err := json.Marshal(postgresNotification{Action: action, Collection: collection, ID: id})
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, "SELECT pg_notify($1, $2)", postgresNotifyChannel, string(payload))
		return err
	}
	l := &postgresListener{gw: g}
	g.startRealtime = l.start
	g.stopRealtime = l.stop
	return g, nil
}

type postgresListener struct {
	gw       *SQLGateway
	mu       sync.Mutex
	listener *pq.Listener
	done     chan struct{}
}

func (l *postgresListener) start() error {
	if err := l.gw.ensureReady(); err != nil {
		return err
	}
	listener := pq.NewListener(l.gw.dsn, 250*time.Millisecond, 30*time.Second, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			l.gw.logf("postgres listener event %d: %v", ev, err)
		}
	})
	if err := listener.Listen(postgresNotifyChannel); err != nil {
		_ = listener.Close()
		return err
	}
	l.mu.Lock()
	l.listener = listener
	l.done = make(chan struct{})
	l.mu.Unlock()
	go l.run(listener, l.done)
	return nil
}

func (l *postgresListener) run(listener *pq.Listener, done chan struct{}) {
	defer close(done)
	for n := range listener.Notify {
		if n == nil {
			// The connection was re-established; notifications sent
			// meanwhile are gone, so subscribers must resync.
			l.gw.hub.dropAll(&NetworkError{Op: "postgres listener", Err: errors.New("connection reset")})
			continue
		}
		l.deliver(n.Extra)
	}
}

func (l *postgresListener) deliver(payload string) {
	var note postgresNotification
	if err := json.Unmarshal([]byte(payload), &note); err != nil || !note.Action.Valid() {
		l.gw.logf("postgres listener: ignoring payload %q", payload)
		return
	}
	if note.Action == ActionDelete {
		l.gw.publishRecord(ActionDelete, note.Collection, storedRecord{ID: note.ID})
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), sqlOperationTimeout)
	defer cancel()
	rec, err := l.gw.fetch(ctx, l.gw.db, note.Collection, note.ID)
	if errors.Is(err, ErrNotFound) {
		// Deleted before we got here; the delete notification follows.
		return
	}
	if err != nil {
		l.gw.logf("postgres listener: re-read %s/%s: %v", note.Collection, note.ID, err)
		return
	}
	l.gw.publishRecord(note.Action, note.Collection, rec)
}

func (l *postgresListener) stop() {
	l.mu.Lock()
	listener, done := l.listener, l.done
	l.listener = nil
	l.mu.Unlock()
	if listener == nil {
		return
	}
	_ = listener.Close()
	<-done
}

func postgresQuoteIdentifier(identifier string) string {
	return pq.QuoteIdentifier(identifier)
}
