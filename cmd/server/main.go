package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"drawing-board/internal/config"
	"drawing-board/internal/presence"
	"drawing-board/internal/room"
	"drawing-board/internal/server"
)

func main() {
	cfg := config.Load()

	opts := room.Options{
		GracePeriod:     cfg.Room.GracePeriod,
		Snapshots:       cfg.Room.SnapshotOnJoin,
		MaxRoomIDLength: cfg.Room.MaxRoomIDLength,
	}

	var remote server.RosterSource
	if cfg.Redis.Addr != "" {
		mirror, err := presence.NewMirror(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.RosterTTL, uuid.NewString())
		if err != nil {
			log.Printf("[Presence] Redis unavailable, running without roster mirror: %v", err)
		} else {
			defer mirror.Close()
			opts.Mirror = mirror
			remote = mirror
		}
	}

	registry := room.NewRegistry(opts)
	srv := server.New(cfg, registry, remote)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("WebSocket endpoint: ws://localhost%s/ws", cfg.Server.Addr())
	if cfg.Room.SnapshotOnJoin {
		log.Println("Room snapshots on join enabled")
	}
	if err := srv.Run(ctx); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
