package gateway

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	sqlRecordsTable     = "labnotes_records"
	sqlOperationTimeout = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// sqlDialect holds the per-database pieces of the SQL gateway.
type sqlDialect struct {
	driver      string
	maxConns    int
	placeholder func(n int) string
	createTable []string
	// dataParam wraps the placeholder for the JSON data column.
	dataParam func(p string) string
	// condition renders one filter condition. arg registers a value and
	// returns its placeholder.
	condition func(c Condition, arg func(any) string) (string, error)
	// sortExpr renders a data field for ORDER BY.
	sortExpr func(field string) string
}

// SQLGateway stores every collection in one table of JSON documents. The
// realtime side is pluggable: Postgres fans out through LISTEN/NOTIFY,
// SQLite through the in-process hub.
type SQLGateway struct {
	dsn       string
	dialect   sqlDialect
	schema    Schema
	validator *validator
	openDB    sqlOpenFunc
	hub       *hub
	clock     monotonicClock
	clockMu   sync.Mutex
	newID     func() string
	logger    Logger

	// notify, when set, replaces direct hub publishing after a write.
	notify func(ctx context.Context, tx *sql.Tx, action Action, collection, id string) error
	// startRealtime, when set, runs once before the first subscription.
	startRealtime func() error
	realtimeOnce  sync.Once
	realtimeErr   error
	stopRealtime  func()

	initOnce sync.Once
	initErr  error
	db       *sql.DB
	closed   bool
	mu       sync.Mutex
}

func newSQLGateway(dsn string, dialect sqlDialect, schema Schema, logger Logger) (*SQLGateway, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("%w: empty dsn", ErrInvalidInput)
	}
	v, err := newValidator(schema)
	if err != nil {
		return nil, err
	}
	return &SQLGateway{
		dsn:       dsn,
		dialect:   dialect,
		schema:    schema,
		validator: v,
		openDB:    sql.Open,
		hub:       newHub(),
		newID:     newRecordID,
		logger:    logger,
	}, nil
}

func (g *SQLGateway) ensureReady() error {
	g.initOnce.Do(func() {
		db, err := g.openDB(g.dialect.driver, g.dsn)
		if err != nil {
			g.initErr = err
			return
		}
		if g.dialect.maxConns > 0 {
			db.SetMaxOpenConns(g.dialect.maxConns)
		}
		ctx, cancel := context.WithTimeout(context.Background(), sqlOperationTimeout)
		defer cancel()
		for _, stmt := range g.dialect.createTable {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				_ = db.Close()
				g.initErr = fmt.Errorf("prepare %s schema: %w", g.dialect.driver, err)
				return
			}
		}
		g.db = db
	})
	if g.initErr != nil {
		return &NetworkError{Op: "open " + g.dialect.driver, Err: g.initErr}
	}
	return nil
}

func (g *SQLGateway) begin(ctx context.Context, collection string) (context.Context, context.CancelFunc, error) {
	g.mu.Lock()
	closed := g.closed
	g.mu.Unlock()
	if closed {
		return nil, nil, ErrClosed
	}
	if !g.schema.known(collection) {
		return nil, nil, &NotFoundError{Collection: collection}
	}
	if err := g.ensureReady(); err != nil {
		return nil, nil, err
	}
	opCtx, cancel := context.WithTimeout(ctx, sqlOperationTimeout)
	return opCtx, cancel, nil
}

func (g *SQLGateway) List(ctx context.Context, collection string, opts ListOptions) ([]json.RawMessage, error) {
	if err := opts.Filter.Validate(); err != nil {
		return nil, err
	}
	spec, err := ParseSort(opts.Sort)
	if err != nil {
		return nil, err
	}
	opCtx, cancel, err := g.begin(ctx, collection)
	if err != nil {
		return nil, err
	}
	defer cancel()

	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return g.dialect.placeholder(len(args))
	}
	where := []string{"collection = " + arg(collection)}
	for _, c := range opts.Filter {
		clause, err := g.dialect.condition(c, arg)
		if err != nil {
			return nil, err
		}
		where = append(where, clause)
	}
	query := fmt.Sprintf("SELECT seq, id, data, created, updated FROM %s WHERE %s ORDER BY %s",
		sqlRecordsTable, strings.Join(where, " AND "), g.orderBy(spec))
	rows, err := g.db.QueryContext(opCtx, query, args...)
	if err != nil {
		return nil, g.wrap("list "+collection, err)
	}
	defer rows.Close()
	var records []storedRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, g.wrap("list "+collection, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, g.wrap("list "+collection, err)
	}
	return g.renderAll(opCtx, collection, records, opts.Expand)
}

func (g *SQLGateway) orderBy(spec SortSpec) string {
	dir := "ASC"
	if spec.Desc {
		dir = "DESC"
	}
	switch spec.Field {
	case "":
		return "seq ASC"
	case "id", "created", "updated":
		return fmt.Sprintf("%s %s, seq ASC", spec.Field, dir)
	}
	return fmt.Sprintf("%s %s, seq ASC", g.dialect.sortExpr(spec.Field), dir)
}

func (g *SQLGateway) Get(ctx context.Context, collection, id string, expand []string) (json.RawMessage, error) {
	opCtx, cancel, err := g.begin(ctx, collection)
	if err != nil {
		return nil, err
	}
	defer cancel()
	rec, err := g.fetch(opCtx, g.db, collection, id)
	if err != nil {
		return nil, err
	}
	return g.render(opCtx, collection, rec, expand)
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (g *SQLGateway) fetch(ctx context.Context, q rowQuerier, collection, id string) (storedRecord, error) {
	query := fmt.Sprintf("SELECT seq, id, data, created, updated FROM %s WHERE collection = %s AND id = %s",
		sqlRecordsTable, g.dialect.placeholder(1), g.dialect.placeholder(2))
	rec, err := scanRecord(q.QueryRowContext(ctx, query, collection, id))
	if errors.Is(err, sql.ErrNoRows) {
		return storedRecord{}, &NotFoundError{Collection: collection, ID: id}
	}
	if err != nil {
		return storedRecord{}, g.wrap("get "+collection, err)
	}
	return rec, nil
}

func (g *SQLGateway) Create(ctx context.Context, collection string, fields map[string]any, expand []string) (json.RawMessage, error) {
	data, err := normalizeFields(fields)
	if err != nil {
		return nil, err
	}
	if err := g.validator.validate(collection, data); err != nil {
		return nil, err
	}
	opCtx, cancel, err := g.begin(ctx, collection)
	if err != nil {
		return nil, err
	}
	defer cancel()
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: encode %s record: %v", ErrInvalidInput, collection, err)
	}
	now := g.now()
	rec := storedRecord{ID: g.newID(), Data: data, Created: now, Updated: now}
	p := g.dialect.placeholder
	query := fmt.Sprintf("INSERT INTO %s (collection, id, data, created, updated) VALUES (%s, %s, %s, %s, %s)",
		sqlRecordsTable, p(1), p(2), g.dialect.dataParam(p(3)), p(4), p(5))
	err = g.write(opCtx, ActionCreate, collection, rec.ID, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(opCtx, query, collection, rec.ID, string(payload), now.UnixNano(), now.UnixNano())
		return err
	})
	if err != nil {
		return nil, err
	}
	g.publishLocal(ActionCreate, collection, rec)
	return g.render(opCtx, collection, rec, expand)
}

func (g *SQLGateway) Update(ctx context.Context, collection, id string, patch map[string]any, expand []string) (json.RawMessage, error) {
	clean, err := normalizeFields(patch)
	if err != nil {
		return nil, err
	}
	opCtx, cancel, err := g.begin(ctx, collection)
	if err != nil {
		return nil, err
	}
	defer cancel()
	var rec storedRecord
	p := g.dialect.placeholder
	query := fmt.Sprintf("UPDATE %s SET data = %s, updated = %s WHERE collection = %s AND id = %s",
		sqlRecordsTable, g.dialect.dataParam(p(1)), p(2), p(3), p(4))
	err = g.write(opCtx, ActionUpdate, collection, id, func(tx *sql.Tx) error {
		current, err := g.fetch(opCtx, tx, collection, id)
		if err != nil {
			return err
		}
		merged := mergeFields(current.Data, clean)
		if err := g.validator.validate(collection, merged); err != nil {
			return err
		}
		payload, err := json.Marshal(merged)
		if err != nil {
			return fmt.Errorf("%w: encode %s record: %v", ErrInvalidInput, collection, err)
		}
		current.Data = merged
		current.Updated = g.now()
		if _, err := tx.ExecContext(opCtx, query, string(payload), current.Updated.UnixNano(), collection, id); err != nil {
			return err
		}
		rec = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	g.publishLocal(ActionUpdate, collection, rec)
	return g.render(opCtx, collection, rec, expand)
}

func (g *SQLGateway) Delete(ctx context.Context, collection, id string) error {
	opCtx, cancel, err := g.begin(ctx, collection)
	if err != nil {
		return err
	}
	defer cancel()
	query := fmt.Sprintf("DELETE FROM %s WHERE collection = %s AND id = %s",
		sqlRecordsTable, g.dialect.placeholder(1), g.dialect.placeholder(2))
	err = g.write(opCtx, ActionDelete, collection, id, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(opCtx, query, collection, id)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return &NotFoundError{Collection: collection, ID: id}
		}
		return nil
	})
	if err != nil {
		return err
	}
	g.publishLocal(ActionDelete, collection, storedRecord{ID: id})
	return nil
}

// write runs fn in a transaction and, when the dialect notifies through the
// database, queues the notification in the same transaction.
func (g *SQLGateway) write(ctx context.Context, action Action, collection, id string, fn func(tx *sql.Tx) error) error {
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return g.wrap(string(action)+" "+collection, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return g.wrap(string(action)+" "+collection, err)
	}
	if g.notify != nil {
		if err := g.notify(ctx, tx, action, collection, id); err != nil {
			_ = tx.Rollback()
			return g.wrap("notify "+collection, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return g.wrap(string(action)+" "+collection, err)
	}
	return nil
}

func (g *SQLGateway) publishLocal(action Action, collection string, rec storedRecord) {
	if g.notify != nil {
		return
	}
	g.publishRecord(action, collection, rec)
}

func (g *SQLGateway) publishRecord(action Action, collection string, rec storedRecord) {
	body := map[string]any{"id": rec.ID}
	if action != ActionDelete {
		body = rec.body()
	}
	raw, err := encodeBody(body)
	if err != nil {
		g.logf("encode %s event for %s: %v", action, rec.ID, err)
		return
	}
	g.hub.publish(Event{Action: action, Collection: collection, Record: raw})
}

func (g *SQLGateway) Subscribe(ctx context.Context, collection string, handler Handler) (Subscription, error) {
	if !g.schema.known(collection) {
		return nil, &NotFoundError{Collection: collection}
	}
	if g.startRealtime != nil {
		g.realtimeOnce.Do(func() { g.realtimeErr = g.startRealtime() })
		if g.realtimeErr != nil {
			return nil, &NetworkError{Op: "subscribe " + collection, Err: g.realtimeErr}
		}
	}
	return g.hub.subscribe(ctx, collection, handler)
}

func (g *SQLGateway) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	g.mu.Unlock()
	if g.stopRealtime != nil {
		g.stopRealtime()
	}
	g.hub.close()
	if g.db == nil {
		return nil
	}
	return g.db.Close()
}

func (g *SQLGateway) now() time.Time {
	g.clockMu.Lock()
	defer g.clockMu.Unlock()
	return g.clock.next()
}

func (g *SQLGateway) lookup(ctx context.Context, collection string, ids []string) (map[string]map[string]any, error) {
	out := make(map[string]map[string]any, len(ids))
	for _, id := range ids {
		rec, err := g.fetch(ctx, g.db, collection, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[id] = rec.body()
	}
	return out, nil
}

func (g *SQLGateway) render(ctx context.Context, collection string, rec storedRecord, expand []string) (json.RawMessage, error) {
	out, err := g.renderAll(ctx, collection, []storedRecord{rec}, expand)
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (g *SQLGateway) renderAll(ctx context.Context, collection string, records []storedRecord, expand []string) ([]json.RawMessage, error) {
	bodies := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		bodies = append(bodies, rec.body())
	}
	if err := expandBodies(ctx, g.schema, collection, bodies, expand, g.lookup); err != nil {
		return nil, err
	}
	out := make([]json.RawMessage, 0, len(bodies))
	for _, b := range bodies {
		raw, err := encodeBody(b)
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return out, nil
}

// wrap keeps typed gateway errors and classifies the rest as network
// failures.
func (g *SQLGateway) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var notFound *NotFoundError
	var invalid *ValidationError
	switch {
	case errors.As(err, &notFound), errors.As(err, &invalid), errors.Is(err, ErrInvalidInput):
		return err
	case errors.Is(err, context.Canceled):
		return err
	}
	return &NetworkError{Op: op, Err: err}
}

func (g *SQLGateway) logf(format string, args ...any) {
	if g.logger == nil {
		return
	}
	g.logger.Printf(format, args...)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (storedRecord, error) {
	var (
		rec              storedRecord
		payload          []byte
		created, updated int64
	)
	if err := row.Scan(&rec.seq, &rec.ID, &payload, &created, &updated); err != nil {
		return storedRecord{}, err
	}
	if err := json.Unmarshal(payload, &rec.Data); err != nil {
		return storedRecord{}, fmt.Errorf("decode stored record %s: %w", rec.ID, err)
	}
	if rec.Data == nil {
		rec.Data = map[string]any{}
	}
	rec.Created = time.Unix(0, created).UTC()
	rec.Updated = time.Unix(0, updated).UTC()
	return rec, nil
}

// sqlLiteralArg converts a filter value for a driver argument.
func sqlLiteralArg(v any) any {
	switch value := v.(type) {
	case int:
		return float64(value)
	case int64:
		return float64(value)
	}
	return v
}

// sqlFieldExprs renders JSON field access for one dialect.
type sqlFieldExprs struct {
	text     func(field string) string
	boolean  func(field string) string
	number   func(field string) string
	contains func(field, p string) string
}

func (f sqlFieldExprs) condition(c Condition, arg func(any) string) (string, error) {
	if c.Field == "created" || c.Field == "updated" {
		return "", fmt.Errorf("%w: cannot filter on %s", ErrInvalidInput, c.Field)
	}
	text := f.text(c.Field)
	if c.Field == "id" {
		text = "id"
	}
	if c.Op == OpContains {
		return f.contains(c.Field, arg(fmt.Sprint(orEmpty(c.Value)))), nil
	}
	cmp := "="
	if c.Op == OpNeq {
		cmp = "<>"
	}
	switch v := c.Value.(type) {
	case nil:
		return fmt.Sprintf("%s %s ''", text, cmp), nil
	case string:
		return fmt.Sprintf("%s %s %s", text, cmp, arg(v)), nil
	case bool:
		return fmt.Sprintf("%s %s %s", f.boolean(c.Field), cmp, arg(v)), nil
	case int, int64, float64:
		expr := fmt.Sprintf("%s %s %s", f.number(c.Field), cmp, arg(sqlLiteralArg(v)))
		if c.Op == OpNeq {
			expr = fmt.Sprintf("(%s IS NULL OR %s)", f.number(c.Field), expr)
		}
		return expr, nil
	}
	return "", fmt.Errorf("%w: filter value %T for %s", ErrInvalidInput, c.Value, c.Field)
}
