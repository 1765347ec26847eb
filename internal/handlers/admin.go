package handlers

import (
	"errors"
	"strconv"

	"couponbay/internal/models"
	"couponbay/internal/repositories"
	"couponbay/internal/services/trust"
	"couponbay/internal/utils/response"

	"github.com/gofiber/fiber/v2"
)

// AdminHandler exposes the moderation surface: trust overrides and bans.
// Routes are gated by the admin middleware.
type AdminHandler struct {
	trustService *trust.Service
	userRepo     repositories.UserRepository
}

func NewAdminHandler(trustService *trust.Service, userRepo repositories.UserRepository) *AdminHandler {
	return &AdminHandler{trustService: trustService, userRepo: userRepo}
}

// targetUser parses the :id param and verifies the account exists, so trust
// profiles are never created for unknown users. On failure the error response
// has already been written and ok is false.
func (h *AdminHandler) targetUser(c *fiber.Ctx) (uint, bool) {
	userID, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "Invalid user ID")
		return 0, false
	}
	if _, err := h.userRepo.GetByID(c.Context(), uint(userID)); err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			response.NotFound(c, "User not found")
		} else {
			response.ServerError(c, "Failed to load user")
		}
		return 0, false
	}
	return uint(userID), true
}

// AdjustTrust overwrites a user's trust score. The reason is recorded for
// audit only.
func (h *AdminHandler) AdjustTrust(c *fiber.Ctx) error {
	userID, ok := h.targetUser(c)
	if !ok {
		return nil
	}

	var input struct {
		Score  int    `json:"score"`
		Reason string `json:"reason"`
	}
	if err := c.BodyParser(&input); err != nil {
		return response.BadRequest(c, "Invalid request format")
	}

	claims := c.Locals("claims").(*models.UserClaims)
	profile, err := h.trustService.AdjustTrustScore(c.Context(), userID, input.Score, input.Reason, claims.UserID)
	if err != nil {
		if errors.Is(err, trust.ErrInvalidScore) {
			return response.BadRequest(c, err.Error())
		}
		return response.ServerError(c, "Failed to adjust trust score")
	}

	return response.Success(c, "Trust score adjusted", profile)
}

// Ban bans a user. Banning an already-banned user succeeds without effect.
func (h *AdminHandler) Ban(c *fiber.Ctx) error {
	userID, ok := h.targetUser(c)
	if !ok {
		return nil
	}

	var input struct {
		Reason string `json:"reason"`
	}
	if err := c.BodyParser(&input); err != nil {
		return response.BadRequest(c, "Invalid request format")
	}

	claims := c.Locals("claims").(*models.UserClaims)
	if err := h.trustService.Ban(c.Context(), userID, input.Reason, claims.UserID); err != nil {
		return response.ServerError(c, "Failed to ban user")
	}

	return response.Success(c, "User banned", nil)
}

// Unban lifts a ban. A no-op for users who are not banned.
func (h *AdminHandler) Unban(c *fiber.Ctx) error {
	userID, ok := h.targetUser(c)
	if !ok {
		return nil
	}

	claims := c.Locals("claims").(*models.UserClaims)
	if err := h.trustService.Unban(c.Context(), userID, claims.UserID); err != nil {
		return response.ServerError(c, "Failed to unban user")
	}

	return response.Success(c, "User unbanned", nil)
}
