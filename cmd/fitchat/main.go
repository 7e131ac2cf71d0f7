package main

import (
	"flag"
	"log"
	"log/slog"

	"github.com/coachbase/fitchat/internal/auth"
	"github.com/coachbase/fitchat/internal/chat"
	"github.com/coachbase/fitchat/internal/config"
	"github.com/coachbase/fitchat/internal/conversations"
	"github.com/coachbase/fitchat/internal/messages"
	"github.com/coachbase/fitchat/internal/realtime"
	"github.com/coachbase/fitchat/internal/storage/postgres"
	"github.com/coachbase/fitchat/internal/storage/sqlite"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	migrate := flag.Bool("migrate", false, "run migrations and exit")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file, using process environment")
	}
	cfg := config.MustLoad()

	store, closeStore, err := openStore(cfg)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer closeStore()

	if *migrate {
		if err := store.(interface{ Migrate() error }).Migrate(); err != nil {
			log.Fatalf("migration failed: %v", err)
		}
		slog.Info("migration completed")
		return
	}

	// the hub is the push-channel broker; handlers write through the
	// fanout-wrapped store so every durable mutation is echoed to it
	hub := realtime.NewHub()
	defer hub.Close()
	fanout := chat.WithFanout(store, hub)

	r := gin.Default()
	api := r.Group("/api")
	api.Use(auth.JWTMiddleware(cfg.JWTSecret))
	messages.Register(api, fanout)
	conversations.Register(api, fanout, hub)
	realtime.RegisterWS(r.Group("/"), hub, cfg.JWTSecret)

	slog.Info("fitchat listening", "addr", cfg.Addr)
	if err := r.Run(cfg.Addr); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}

func openStore(cfg config.Config) (chat.Store, func() error, error) {
	switch cfg.DBDriver {
	case "postgres":
		st, err := postgres.New(cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return st, st.Close, nil
	default:
		st, err := sqlite.New(cfg.SQLiteDSN)
		if err != nil {
			return nil, nil, err
		}
		return st, st.Close, nil
	}
}
