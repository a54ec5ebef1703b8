package gateway

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
)

// OpenOptions carries what the adapters need besides the DSN.
type OpenOptions struct {
	Schema Schema
	Token  string
	Logger Logger
	HTTP   HTTPOptions
}

type Factory func(dsn string, opts OpenOptions) (Gateway, error)

var factoryRegistry = struct {
	mu        sync.RWMutex
	factories map[string]Factory
}{
	factories: map[string]Factory{},
}

// RegisterFactory installs a constructor for a DSN scheme. It takes
// precedence over the built-in adapters.
func RegisterFactory(scheme string, factory Factory) {
	scheme = normalizeScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	factoryRegistry.mu.Lock()
	defer factoryRegistry.mu.Unlock()
	factoryRegistry.factories[scheme] = factory
}

func lookupFactory(scheme string) (Factory, bool) {
	scheme = normalizeScheme(scheme)
	factoryRegistry.mu.RLock()
	defer factoryRegistry.mu.RUnlock()
	factory, ok := factoryRegistry.factories[scheme]
	return factory, ok
}

func normalizeScheme(scheme string) string {
	return strings.ToLower(strings.TrimSpace(scheme))
}

// Open builds the gateway a DSN names:
//
//	http(s)://host[:port]        record API over HTTP + websocket realtime
//	memory://                    in-process store
//	postgres://user@host/db      Postgres with LISTEN/NOTIFY
//	sqlite:///path/to/notes.db   local SQLite file
func Open(dsn string, opts OpenOptions) (Gateway, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("%w: empty gateway dsn", ErrInvalidInput)
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: gateway dsn: %v", ErrInvalidInput, err)
	}
	scheme := normalizeScheme(parsed.Scheme)
	if factory, ok := lookupFactory(scheme); ok {
		return factory(dsn, opts)
	}
	switch scheme {
	case "http", "https":
		httpOpts := opts.HTTP
		if httpOpts.Token == "" {
			httpOpts.Token = opts.Token
		}
		if httpOpts.Logger == nil {
			httpOpts.Logger = opts.Logger
		}
		return NewHTTPClient(dsn, httpOpts), nil
	case "memory", "mem", "inmem":
		return NewMemoryGateway(opts.Schema, MemoryOptions{})
	case "postgres", "postgresql":
		return NewPostgresGateway(dsn, opts.Schema, opts.Logger)
	case "sqlite", "sqlite3", "file":
		path, err := dsnPath(parsed, dsn)
		if err != nil {
			return nil, err
		}
		return NewSQLiteGateway(path, opts.Schema, opts.Logger)
	case "mysql":
		return nil, fmt.Errorf("%w: gateway %s", ErrNotImplemented, scheme)
	default:
		return nil, fmt.Errorf("%w: unsupported gateway scheme %q", ErrInvalidInput, scheme)
	}
}

func dsnPath(parsed *url.URL, raw string) (string, error) {
	path := parsed.Path
	if parsed.Host != "" {
		path = parsed.Host + path
	}
	if path == "" {
		path = parsed.Opaque
	}
	if path == "" {
		return "", fmt.Errorf("%w: missing path in %q", ErrInvalidInput, raw)
	}
	return filepath.Clean(path), nil
}
