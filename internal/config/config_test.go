package config

import (
	"testing"
	"time"
)

func TestParseOverridesDefaults(t *testing.T) {
	yc, err := parse([]byte(`
server_addr: ":9090"
presence:
  store: postgres
kafka:
  brokers: ["k1:9092", "k2:9092"]
scylla:
  hosts: ["s1"]
  keyspace: chats
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if yc.ServerAddr != ":9090" || yc.Presence.Store != PresenceStorePostgres {
		t.Fatalf("parsed = %+v", yc)
	}
	if len(yc.Kafka.Brokers) != 2 || yc.Kafka.EventsTopic != "chat-events" {
		t.Fatalf("kafka = %+v", yc.Kafka)
	}
	if yc.Scylla.Keyspace != "chats" || yc.Scylla.HistoryMax != 50 {
		t.Fatalf("scylla = %+v", yc.Scylla)
	}
}

func TestParseInvalidFallsBack(t *testing.T) {
	yc, err := parse([]byte("server_addr: [unterminated"))
	if err == nil {
		t.Fatal("expected parse error")
	}
	if yc.ServerAddr != ":8080" {
		t.Fatalf("fallback addr = %q", yc.ServerAddr)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PRESENCE_STORE", "MEMORY")
	t.Setenv("KAFKA_BROKERS", " a:1 , ,b:2")
	t.Setenv("WS_PONG_TIMEOUT", "30")
	t.Setenv("JWT_SECRET", "s3cret")
	cfg := fromYAML(defaults())
	if cfg.Presence.Store != PresenceStoreMemory {
		t.Fatalf("store = %q", cfg.Presence.Store)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "b:2" {
		t.Fatalf("brokers = %v", cfg.Kafka.Brokers)
	}
	if cfg.WSPongTimeout != 30*time.Second {
		t.Fatalf("pong timeout = %v", cfg.WSPongTimeout)
	}
	if cfg.JWTSecret != "s3cret" {
		t.Fatalf("jwt secret = %q", cfg.JWTSecret)
	}
}

func TestUnknownStoreFallsBackToRedis(t *testing.T) {
	t.Setenv("PRESENCE_STORE", "etcd")
	if got := fromYAML(defaults()).Presence.Store; got != PresenceStoreRedis {
		t.Fatalf("store = %q", got)
	}
}
