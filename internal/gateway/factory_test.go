package gateway

import (
	"errors"
	"testing"
)

func TestRegisterFactory(t *testing.T) {
	scheme := "gatewaytestcustom"
	var gotDSN string
	RegisterFactory(scheme, func(dsn string, opts OpenOptions) (Gateway, error) {
		gotDSN = dsn
		return NewMemoryGateway(opts.Schema, MemoryOptions{})
	})
	g, err := Open(scheme+"://example", OpenOptions{Schema: testSchema()})
	if err != nil {
		t.Fatalf("open via registered factory failed: %v", err)
	}
	defer g.Close()
	if gotDSN != scheme+"://example" {
		t.Fatalf("expected factory to receive dsn, got %q", gotDSN)
	}
}

func TestOpenBuiltinSchemes(t *testing.T) {
	cases := []struct {
		dsn  string
		want string
	}{
		{dsn: "memory://", want: "*gateway.MemoryGateway"},
		{dsn: "http://127.0.0.1:8090", want: "*gateway.HTTPClient"},
		{dsn: "https://notes.example.com", want: "*gateway.HTTPClient"},
		{dsn: "postgres://user@localhost/notes?sslmode=disable", want: "*gateway.SQLGateway"},
		{dsn: "sqlite:///tmp/labnotes-open-test.db", want: "*gateway.SQLGateway"},
	}
	for _, tc := range cases {
		g, err := Open(tc.dsn, OpenOptions{Schema: testSchema()})
		if err != nil {
			t.Fatalf("open %s failed: %v", tc.dsn, err)
		}
		if got := typeName(g); got != tc.want {
			t.Fatalf("open %s: expected %s, got %s", tc.dsn, tc.want, got)
		}
		_ = g.Close()
	}
}

func TestOpenRejectsUnknownAndUnsupported(t *testing.T) {
	if _, err := Open("", OpenOptions{}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input for empty dsn, got %v", err)
	}
	if _, err := Open("ftp://host", OpenOptions{}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input for unknown scheme, got %v", err)
	}
	if _, err := Open("mysql://host/db", OpenOptions{}); !errors.Is(err, ErrNotImplemented) {
		t.Fatalf("expected not implemented for mysql, got %v", err)
	}
}

func TestDSNPath(t *testing.T) {
	cases := map[string]string{
		"sqlite:///var/lib/notes.db": "/var/lib/notes.db",
		"sqlite://notes.db":          "notes.db",
		"file:notes.db":              "notes.db",
	}
	for dsn, want := range cases {
		g, err := Open(dsn, OpenOptions{Schema: testSchema()})
		if err != nil {
			t.Fatalf("open %s failed: %v", dsn, err)
		}
		sqlGW, ok := g.(*SQLGateway)
		if !ok {
			t.Fatalf("expected *SQLGateway for %s, got %T", dsn, g)
		}
		if sqlGW.dsn != want {
			t.Fatalf("dsn %s: expected path %q, got %q", dsn, want, sqlGW.dsn)
		}
	}
}

func typeName(v any) string {
	switch v.(type) {
	case *MemoryGateway:
		return "*gateway.MemoryGateway"
	case *HTTPClient:
		return "*gateway.HTTPClient"
	case *SQLGateway:
		return "*gateway.SQLGateway"
	}
	return "unknown"
}
