package router

import (
	"video_merge_service/internal/merge/api/handlers"
	"video_merge_service/pkg/middlewares"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Static serves published outputs when the local publisher is used
type Static struct {
	Prefix string
	Dir    string
}

// RegisterRoutes 註冊合併服務的路由
// @title Video Merge Service API
// @version 1.0
// @description Normalize and concatenate uploaded videos
// @host localhost:8085
// @BasePath /
func RegisterRoutes(app *fiber.App, mergeHandler *handlers.MergeHandler, static *Static, lifetime *middlewares.Lifetime) {
	app.Use(recover.New())
	app.Use(middlewares.AccessLog())

	app.Get("/", handlers.ConnectCheck)
	app.Get("/healthz", handlers.ConnectCheck)
	app.Post("/debug", handlers.DebugLogFlag)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// merge jobs run under the server lifetime so shutdown can cancel them
	mergeRoutes := app.Group("/merge", lifetime.Handler())
	mergeRoutes.Post("/", mergeHandler.Merge)
	mergeRoutes.Get("/:id", mergeHandler.GetJob)

	if static != nil && static.Dir != "" {
		app.Static(static.Prefix, static.Dir, fiber.Static{ByteRange: true})
	}
}
