package clickhouse

import (
	"net/url"
	"testing"
	"time"
)

func TestBuildDSN(t *testing.T) {
	cfg := defaultConfig()
	WithHost("ch.local")(cfg)
	WithCredentials("writer", "p@ss")(cfg)
	WithAsyncInsert(true, false)(cfg)
	WithMaxExecutionTime(30 * time.Second)(cfg)

	u, err := url.Parse(buildDSN(*cfg))
	if err != nil {
		t.Fatalf("parse dsn: %v", err)
	}
	if u.Scheme != "clickhouse" || u.Host != "ch.local:9000" || u.Path != "/finfuse" {
		t.Fatalf("unexpected dsn %s", u)
	}
	if pw, _ := u.User.Password(); u.User.Username() != "writer" || pw != "p@ss" {
		t.Fatalf("credentials not encoded: %s", u.User)
	}
	q := u.Query()
	if q.Get("async_insert") != "1" || q.Get("wait_for_async_insert") != "" {
		t.Fatalf("async insert params: %v", q)
	}
	if q.Get("max_execution_time") != "30" {
		t.Fatalf("max_execution_time = %q", q.Get("max_execution_time"))
	}
}

func TestBuildDSNHTTP(t *testing.T) {
	cfg := defaultConfig()
	WithHost("ch.local")(cfg)
	WithPort(8123)(cfg)
	WithHTTP(true)(cfg)

	u, err := url.Parse(buildDSN(*cfg))
	if err != nil {
		t.Fatalf("parse dsn: %v", err)
	}
	if u.Scheme != "http" || u.Port() != "8123" {
		t.Fatalf("unexpected dsn %s", u)
	}
}
