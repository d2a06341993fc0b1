package main

import (
	"github.com/Dot-Click/proactive-be-sub000/internal/config"
	"github.com/Dot-Click/proactive-be-sub000/internal/db"
	clog "github.com/Dot-Click/proactive-be-sub000/internal/log"
	"github.com/Dot-Click/proactive-be-sub000/internal/presence"
	"github.com/Dot-Click/proactive-be-sub000/internal/server"

	"github.com/rs/zerolog/log"
)

func main() {
	// main 函数负责加载配置、初始化日志、连接数据库并启动 Gin 服务。
	cfg := config.Load()
	clog.Init(cfg.Env)
	if err := config.Validate(cfg); err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	gdb, err := db.Open(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.DatabaseDriver).Msg("db connect")
	}
	if err := db.Migrate(gdb); err != nil {
		log.Fatal().Err(err).Msg("db migrate")
	}

	var store presence.Store = presence.NewMemoryStore()
	if cfg.RedisURL != "" {
		rs, err := presence.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("redis connect")
		}
		defer rs.Close()
		store = rs
		log.Info().Msg("presence: redis")
	}

	app := server.New(cfg, gdb, store)
	defer app.Close()
	log.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("server starting")
	if err := app.Engine.Run(":" + cfg.Port); err != nil {
		log.Fatal().Err(err).Msg("server run")
	}
}
