package config

import (
	"testing"
	"time"

	"github.com/tdewolff/test"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	test.T(t, cfg.Server.Addr(), ":8080")
	test.T(t, cfg.Room.GracePeriod, time.Duration(0))
	test.That(t, !cfg.Room.SnapshotOnJoin)
	test.T(t, cfg.Redis.Addr, "")
	test.T(t, cfg.CORS.Origins(), []string{"*"})
	test.That(t, cfg.WebSocket.PingInterval() < cfg.WebSocket.PongTimeout)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ROOM_GRACE_PERIOD", "30")
	t.Setenv("WS_PONG_TIMEOUT", "1500ms")
	t.Setenv("ROOM_SNAPSHOT_ON_JOIN", "yes")
	t.Setenv("ROOM_ID_MAX_LENGTH", "not-a-number")
	t.Setenv("CORS_ALLOW_ORIGINS", "http://a.test, http://b.test ,")

	cfg := Load()
	test.T(t, cfg.Server.Addr(), ":9090")
	test.T(t, cfg.Room.GracePeriod, 30*time.Second)
	test.T(t, cfg.WebSocket.PongTimeout, 1500*time.Millisecond)
	test.That(t, cfg.Room.SnapshotOnJoin)
	test.T(t, cfg.Room.MaxRoomIDLength, 64)
	test.T(t, cfg.CORS.Origins(), []string{"http://a.test", "http://b.test"})
}

func TestLoadClient(t *testing.T) {
	t.Setenv("SERVER_HOST", "draw.test:80")
	t.Setenv("CLIENT_RECONNECT", "false")
	t.Setenv("HISTORY_LIMIT", "20")

	cfg := LoadClient()
	test.T(t, cfg.ServerHost, "draw.test:80")
	test.That(t, !cfg.Reconnect)
	test.T(t, cfg.HistoryLimit, 20)
}
