package httpapi

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/NainaKothari-14/drawtogether/backend/internal/httpapi/handlers"
	"github.com/NainaKothari-14/drawtogether/backend/internal/ws"
)

type RouterOptions struct {
	Boards *handlers.Boards
	WS     *ws.Manager
	// CORS origins, matched by ws.OriginAllowed; empty or "*" allows any
	AllowedOrigins []string
	// request logging, off in tests
	AccessLog bool
}

// NewRouter builds the engine serving /draw.
func NewRouter(opt RouterOptions) *gin.Engine {
	r := gin.New()
	if opt.AccessLog {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowOriginFunc:  allowOrigin(opt.AllowedOrigins),
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders:    []string{"Content-Length", "X-Board-Seq"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	draw := r.Group("/draw")
	draw.GET("/ws", opt.WS.WebSocketConnect)
	opt.Boards.Register(draw)
	return r
}

func allowOrigin(allowed []string) func(string) bool {
	return func(origin string) bool {
		return len(allowed) == 0 || ws.OriginAllowed(origin, allowed)
	}
}
