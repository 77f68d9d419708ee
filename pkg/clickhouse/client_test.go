package clickhouse

import (
	"net/url"
	"testing"
	"time"
)

func TestBuildDSN(t *testing.T) {
	dsn := buildDSN(ClientConfig{
		Host:         "ch.local",
		Port:         9000,
		Database:     "regimeduel",
		User:         "default",
		Password:     "p@ss:word",
		DialTimeout:  5 * time.Second,
		MaxExecTime:  30 * time.Second,
		AsyncInsert:  true,
		WaitForAsync: true,
	})
	u, err := url.Parse(dsn)
	if err != nil {
		t.Fatalf("parse %q: %v", dsn, err)
	}
	if u.Scheme != "clickhouse" || u.Host != "ch.local:9000" || u.Path != "/regimeduel" {
		t.Fatalf("unexpected dsn %q", dsn)
	}
	if pw, _ := u.User.Password(); pw != "p@ss:word" {
		t.Fatalf("password not escaped correctly: %q", dsn)
	}
	q := u.Query()
	if q.Get("dial_timeout") != "5s" || q.Get("max_execution_time") != "30" {
		t.Fatalf("query = %v", q)
	}
	if q.Get("async_insert") != "1" || q.Get("wait_for_async_insert") != "1" {
		t.Fatalf("async settings missing: %v", q)
	}
}

func TestBuildDSNHTTP(t *testing.T) {
	dsn := buildDSN(ClientConfig{Host: "ch", Port: 8123, Database: "db", UseHTTP: true})
	u, err := url.Parse(dsn)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if u.Scheme != "http" || u.Query().Get("async_insert") != "" {
		t.Fatalf("unexpected dsn %q", dsn)
	}
}

func TestOptionsKeepDefaults(t *testing.T) {
	cfg := defaultClientConfig()
	for _, opt := range []ClientOption{WithAddress("ch", 0), WithTimeouts(0, 3*time.Second, 0)} {
		opt(cfg)
	}
	if cfg.Port != 9000 || cfg.DialTimeout != 5*time.Second || cfg.ReadTimeout != 3*time.Second {
		t.Fatalf("cfg = %+v", cfg)
	}
	if _, err := NewClient(WithDatabase("db")); err == nil {
		t.Fatalf("expected error without host")
	}
}
