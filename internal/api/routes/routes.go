package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/sercuelabs/sercuescribe/internal/api/handlers"
	"github.com/sercuelabs/sercuescribe/internal/api/middleware"
)

type Deps struct {
	Stream    *handlers.StreamHandler
	WS        *handlers.WSHandler
	Metrics   http.Handler
	Logger    *logrus.Logger
	JWTSecret string
}

func RegisterRoutes(r *gin.Engine, d Deps) {
	// Health-ish
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "pong"})
	})

	if d.Metrics != nil {
		r.GET("/metrics", gin.WrapH(d.Metrics))
	}

	api := r.Group("/")
	api.Use(middleware.RequestLogger(d.Logger))
	api.Use(middleware.OptionalJWT(d.JWTSecret))

	api.POST("/audio/sessions", d.Stream.Create)
	api.GET("/audio/sessions/:session_id", d.Stream.Info)
	api.POST("/audio/sessions/:session_id/close", d.Stream.Close)
	api.GET("/audio/sessions/:session_id/transcript", d.Stream.Transcript)

	// WebSocket: create-new and bind-to-existing
	api.GET("/ws/audio", d.WS.StreamNew)
	api.GET("/ws/audio/:session_id", d.WS.StreamExisting)
}
