package server

import (
	"time"

	"github.com/Dot-Click/proactive-be-sub000/internal/achievement"
	"github.com/Dot-Click/proactive-be-sub000/internal/auth"
	"github.com/Dot-Click/proactive-be-sub000/internal/config"
	"github.com/Dot-Click/proactive-be-sub000/internal/mw"
	"github.com/Dot-Click/proactive-be-sub000/internal/presence"
	"github.com/Dot-Click/proactive-be-sub000/internal/service"
	"github.com/Dot-Click/proactive-be-sub000/internal/ws"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// App 持有装配好的路由和需要在停服时释放的资源。
type App struct {
	Engine  *gin.Engine
	Hub     *ws.Hub
	limiter *mw.KeyedLimiter
}

// New 按配置装配全部组件。
func New(cfg config.Config, gdb *gorm.DB, store presence.Store) *App {
	hub := ws.NewHub(store, cfg.OperationTimeout)
	participants := service.NewParticipantService(gdb, hub)
	messages := service.NewMessageStore(gdb)
	dispatcher := service.NewDispatcher(participants, messages, hub)
	engine := achievement.NewEngine(gdb, achievement.NewResolver(gdb, cfg.KeywordBadgeFallback))

	h := NewHandler(Services{
		Users:        service.NewUserService(gdb, cfg),
		Rooms:        service.NewRoomService(gdb, participants, hub),
		Participants: participants,
		Messages:     messages,
		Dispatcher:   dispatcher,
		Trips:        service.NewTripService(gdb, engine),
		Achievements: engine,
	}, cfg.OperationTimeout)

	a := auth.NewAuthenticator(gdb, cfg.JWTSecret, cfg.AllowUserIDSocketAuth)
	limiter := mw.NewKeyedLimiter(rate.Limit(cfg.WSMessagesPerSecond), cfg.WSMessageBurst, 10*time.Minute)
	limiter.StartGC()
	wsh := ws.NewHandler(hub, a, participants, dispatcher, limiter)

	return &App{Engine: SetupRouter(cfg, a, h, wsh), Hub: hub, limiter: limiter}
}

func (a *App) Close() {
	a.limiter.Stop()
}
