package http

import (
	"context"

	"github.com/gin-gonic/gin"

	"pdfrag/internal/bootstrap"
	mysqlClient "pdfrag/internal/platform/mysql"
	rabbitmqClient "pdfrag/internal/platform/rabbitmq"
	redisClient "pdfrag/internal/platform/redis"
	"pdfrag/internal/transport/http/handler"
	"pdfrag/internal/transport/http/middleware"
)

type Handlers struct {
	Health *handler.HealthHandler
	Auth   *handler.AuthHandler
	PDF    *handler.PDFHandler
	Chat   *handler.ChatHandler
}

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)

	health := handler.NewHealthHandler(app.Config.App.Name, app.Config.App.Env, app.StartedAt).
		Require("mysql", func(ctx context.Context) error { return mysqlClient.Ping(ctx, app.MySQL) }).
		Require("qdrant", app.Qdrant.Ping).
		Optional("redis", func(ctx context.Context) error { return redisClient.Ping(ctx, app.Redis) }).
		Optional("rabbitmq", func(context.Context) error { return rabbitmqClient.Ping(app.MQConn) })

	return Routes(Handlers{
		Health: health,
		Auth:   handler.NewAuthHandler(app.Auth),
		PDF:    handler.NewPDFHandler(app.Ingestion, app.Documents),
		Chat:   handler.NewChatHandler(app.Chat),
	}, app.Config.Auth.JWTSecret)
}

func Routes(h Handlers, jwtSecret string) *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	router.MaxMultipartMemory = 12 << 20

	router.GET("/healthz", h.Health.Check)

	v1 := router.Group("/api/v1")
	authGroup := v1.Group("/auth")
	authGroup.POST("/register", h.Auth.Register)
	authGroup.POST("/login", h.Auth.Login)
	authGroup.GET("/me", middleware.AuthJWT(jwtSecret), h.Auth.Me)

	pdfGroup := v1.Group("/pdf")
	pdfGroup.Use(middleware.AuthJWT(jwtSecret))
	pdfGroup.POST("/upload", h.PDF.Upload)
	pdfGroup.GET("/documents", h.PDF.ListDocuments)
	pdfGroup.GET("/documents/:id", h.PDF.GetDocument)
	pdfGroup.DELETE("/documents/:id", h.PDF.DeleteDocument)
	pdfGroup.POST("/documents/:id/reembed", h.PDF.Reembed)

	chatGroup := v1.Group("/chat")
	chatGroup.Use(middleware.AuthJWT(jwtSecret))
	chatGroup.POST("/send", h.Chat.Send)

	return router
}
