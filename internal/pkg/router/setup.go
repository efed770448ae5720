package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/HandlePay/internal/pkg/bootstrap"
)

type Router interface {
	InstallRouter(app *fiber.App)
}

func InstallRouter(app *fiber.App, c *bootstrap.Container) {
	// HttpRouter adds the unauthenticated endpoints; ApiRouter mounts /v1 behind auth.
	setup(app, NewHttpRouter(c), NewApiRouter(c))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
