package handlers

import (
	"strconv"

	"couponbay/internal/services/trust"
	"couponbay/internal/utils/response"

	"github.com/gofiber/fiber/v2"
)

type TrustHandler struct {
	trustService *trust.Service
}

func NewTrustHandler(trustService *trust.Service) *TrustHandler {
	return &TrustHandler{trustService: trustService}
}

// GetProfile returns a user's trust profile with the derived badge. Any
// authenticated user may view it; buyers check seller reputation before
// purchasing.
func (h *TrustHandler) GetProfile(c *fiber.Ctx) error {
	userID, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return response.BadRequest(c, "Invalid user ID")
	}

	profile, badge, err := h.trustService.Profile(c.Context(), uint(userID))
	if err != nil {
		return response.ServerError(c, "Failed to load trust profile")
	}

	return response.Success(c, "Trust profile retrieved", fiber.Map{
		"user_id":          profile.UserID,
		"trust_score":      profile.TrustScore,
		"warnings_count":   profile.WarningsCount,
		"successful_sales": profile.SuccessfulSales,
		"is_banned":        profile.IsBanned,
		"badge":            badge,
	})
}
