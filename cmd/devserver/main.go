package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/williamtheodoruswijaya/mood-bridge-v2/global/config"
	"github.com/williamtheodoruswijaya/mood-bridge-v2/logger"
	usermodel "github.com/williamtheodoruswijaya/mood-bridge-v2/module/user/model"
	"github.com/williamtheodoruswijaya/mood-bridge-v2/service/devserver"
	redisx "github.com/williamtheodoruswijaya/mood-bridge-v2/service/storage/redis"
)

func main() {
	cfgPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	if err := config.Init(*cfgPath); err != nil {
		logger.Errorf("[DevServer] load config: %v", err)
		os.Exit(1)
	}
	cfg := config.Global
	logger.SetLevel(cfg.LogLevel)
	defer logger.Sync()
	gin.SetMode(gin.ReleaseMode)

	var store devserver.Store = devserver.NewMemoryStore()
	if cfg.DevServer.RedisAddr != "" {
		rdb, err := redisx.NewClient(redisx.Config{
			Addr:     cfg.DevServer.RedisAddr,
			Password: cfg.DevServer.RedisPassword,
			DB:       cfg.DevServer.RedisDB,
		})
		if err != nil {
			logger.Errorf("[DevServer] redis: %v", err)
			os.Exit(1)
		}
		defer func() { _ = rdb.Close() }()
		store = devserver.NewRedisStore(rdb)
		logger.Infof("[DevServer] using redis store addr=%s db=%d", cfg.DevServer.RedisAddr, cfg.DevServer.RedisDB)
	}

	dir := seed()
	srv := devserver.New(devserver.Config{
		Addr:      cfg.DevServer.Addr,
		JwtSecret: []byte(cfg.DevServer.JwtSecret),
		WriteWait: cfg.Chat.WriteWait,
		PongWait:  cfg.Chat.PongWait,
	}, store, dir)

	for _, u := range dir.Users() {
		tok, err := srv.IssueToken(u.ID)
		if err != nil {
			logger.Errorf("[DevServer] token user=%d: %v", u.ID, err)
			continue
		}
		logger.Infof("[DevServer] user=%d @%s token=%s", u.ID, u.Username, tok)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := srv.Run(ctx); err != nil {
		logger.Errorf("[DevServer] stopped: %v", err)
		os.Exit(1)
	}
}

// seed 三个演示用户：1-2、1-3 是好友，3 向 2 发了申请
func seed() *devserver.Directory {
	dir := devserver.NewDirectory()
	now := time.Now().UTC()
	for _, u := range []usermodel.Identity{
		{ID: 1, Username: "alice", Fullname: "Alice Wijaya", Email: "alice@example.com", CreatedAt: now},
		{ID: 2, Username: "bob", Fullname: "Bob Santoso", Email: "bob@example.com", CreatedAt: now},
		{ID: 3, Username: "carol", Fullname: "Carol Tan", Email: "carol@example.com", CreatedAt: now},
	} {
		dir.AddUser(u)
	}
	_, _ = dir.Link(1, 2, true)
	_, _ = dir.Link(1, 3, true)
	_, _ = dir.Link(3, 2, false)
	return dir
}
