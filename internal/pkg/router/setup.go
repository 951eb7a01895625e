package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/MindShield/app/controllers"
)

// Router installs one group of routes on the app.
type Router interface {
	InstallRouter(app *fiber.App)
}

// InstallRouter registers the operational endpoints and the JSON API.
// storage backs the API rate limiter; nil keeps the limiter in memory.
func InstallRouter(app *fiber.App, deps *controllers.Deps, storage fiber.Storage) {
	setup(app, NewOpsRouter(), NewApiRouter(deps, storage))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
