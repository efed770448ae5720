package controllers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// HealthController reports liveness and store connectivity
type HealthController struct {
	db        *gorm.DB
	chainName string
	started   time.Time
}

func NewHealthController(db *gorm.DB, chainName string) *HealthController {
	return &HealthController{db: db, chainName: chainName, started: time.Now()}
}

// HandleHealth GET /health
func (hc *HealthController) HandleHealth(c *fiber.Ctx) error {
	dbOK := false
	if hc.db != nil {
		if sqlDB, err := hc.db.DB(); err == nil && sqlDB.PingContext(c.UserContext()) == nil {
			dbOK = true
		}
	}
	status := fiber.StatusOK
	if !dbOK {
		status = fiber.StatusServiceUnavailable
	}
	return c.Status(status).JSON(fiber.Map{
		"ok":       dbOK,
		"chain":    hc.chainName,
		"database": dbOK,
		"uptime":   time.Since(hc.started).Round(time.Second).String(),
	})
}
