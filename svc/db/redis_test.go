package db

import (
	"crypto/tls"
	"os"
	"path/filepath"
	"testing"

	"github.com/redis/go-redis/v9"
)

func TestApplyRedisTLS(t *testing.T) {
	opt := &redis.Options{Addr: "cache.internal:6380"}
	if err := applyRedisTLS(opt, ""); err != nil {
		t.Fatal(err)
	}
	if opt.TLSConfig.ServerName != "cache.internal" || opt.TLSConfig.MinVersion != tls.VersionTLS12 {
		t.Fatalf("unexpected tls config: %+v", opt.TLSConfig)
	}
	if opt.TLSConfig.RootCAs != nil {
		t.Fatal("system roots should be used without a CA file")
	}

	parsed, err := redis.ParseURL("rediss://user:pw@tls.example:6390/0")
	if err != nil {
		t.Fatal(err)
	}
	if err := applyRedisTLS(parsed, ""); err != nil {
		t.Fatal(err)
	}
	if parsed.TLSConfig.ServerName != "tls.example" || parsed.TLSConfig.MinVersion != tls.VersionTLS12 {
		t.Fatalf("rediss url tls config: %+v", parsed.TLSConfig)
	}

	if err := applyRedisTLS(&redis.Options{Addr: "h:1"}, filepath.Join(t.TempDir(), "missing.pem")); err == nil {
		t.Fatal("missing CA file should fail")
	}
	junk := filepath.Join(t.TempDir(), "junk.pem")
	if err := os.WriteFile(junk, []byte("not a certificate"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := applyRedisTLS(&redis.Options{Addr: "h:1"}, junk); err == nil {
		t.Fatal("CA file without certificates should fail")
	}
}
