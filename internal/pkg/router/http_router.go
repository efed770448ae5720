package router

import (
	"os"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/HandlePay/app/controllers"
	"github.com/ManuelReschke/HandlePay/internal/pkg/bootstrap"
	"github.com/ManuelReschke/HandlePay/internal/pkg/constants"
	"github.com/ManuelReschke/HandlePay/internal/pkg/metrics"
)

// candidate locations of the OpenAPI document, relative to the working directory
var openAPIPaths = []string{
	"./public/docs/v1/openapi.yml",
	"../../public/docs/v1/openapi.yml",
}

type HttpRouter struct {
	c *bootstrap.Container
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	health := controllers.NewHealthController(h.c.DB, h.c.Config.Chain.Name)

	app.Get(constants.HealthRoute, health.HandleHealth)
	app.Get(constants.MetricsRoute, metrics.Handler())

	// SWAGGER / OPENAPI
	if path := findOpenAPI(); path != "" {
		app.Use(swagger.New(swagger.Config{
			BasePath: constants.DocsRoute,
			FilePath: path,
			Path:     "v1",
		}))
	} else {
		log.Warn("[Router] OpenAPI document not found, /docs/api/v1 disabled")
	}
}

func findOpenAPI() string {
	for _, p := range openAPIPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func NewHttpRouter(c *bootstrap.Container) *HttpRouter {
	return &HttpRouter{c: c}
}
