package handlers

import (
	"couponbay/internal/repositories"

	"github.com/gofiber/fiber/v2"
)

func HealthCheck(c *fiber.Ctx) error {
	redisStatus := "connected"
	if repositories.CacheService != nil {
		if err := repositories.CacheService.HealthCheck(c.Context()); err != nil {
			redisStatus = "unavailable"
		}
	}

	return c.JSON(fiber.Map{
		"status":  "ok",
		"version": "1.0.0",
		"services": fiber.Map{
			"database": "connected",
			"redis":    redisStatus,
		},
	})
}
