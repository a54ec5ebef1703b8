package gateway

import (
	"fmt"
	"strconv"

	_ "github.com/mattn/go-sqlite3"
)

var sqliteFields = sqlFieldExprs{
	text: func(field string) string {
		return fmt.Sprintf("COALESCE(json_extract(data, '$.%s'), '')", field)
	},
	boolean: func(field string) string {
		return fmt.Sprintf("COALESCE(json_extract(data, '$.%s'), 0)", field)
	},
	number: func(field string) string {
		return fmt.Sprintf("json_extract(data, '$.%s')", field)
	},
	contains: func(field, p string) string {
		return fmt.Sprintf(
			"(CASE WHEN json_type(data, '$.%[1]s') = 'array' "+
				"THEN EXISTS (SELECT 1 FROM json_each(data, '$.%[1]s') WHERE json_each.value = %[2]s) "+
				"ELSE instr(lower(COALESCE(json_extract(data, '$.%[1]s'), '')), lower(%[2]s)) > 0 END)", field, p)
	},
}

var sqliteDialect = sqlDialect{
	driver:   "sqlite3",
	maxConns: 1,
	// Numbered parameters so a value can be referenced twice.
	placeholder: func(n int) string { return "?" + strconv.Itoa(n) },
	createTable: []string{
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				seq INTEGER PRIMARY KEY AUTOINCREMENT,
				collection TEXT NOT NULL,
				id TEXT NOT NULL,
				data TEXT NOT NULL,
				created INTEGER NOT NULL,
				updated INTEGER NOT NULL,
				UNIQUE (collection, id)
			)`, sqlRecordsTable),
		"PRAGMA journal_mode = WAL",
	},
	dataParam: func(p string) string { return p },
	condition: sqliteFields.condition,
	sortExpr: func(field string) string {
		return fmt.Sprintf("json_extract(data, '$.%s')", field)
	},
}

// NewSQLiteGateway stores records in a local SQLite file. Realtime events
// only reach subscribers in the same process.
func NewSQLiteGateway(path string, schema Schema, logger Logger) (*SQLGateway, error) {
	g, err := newSQLGateway(path, sqliteDialect, schema, logger)
	if err != nil {
		return nil, err
	}
	return g, nil
}
