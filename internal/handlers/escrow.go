package handlers

import (
	"errors"

	"couponbay/internal/models"
	"couponbay/internal/repositories"
	"couponbay/internal/services/escrow"
	"couponbay/internal/services/payment"
	"couponbay/internal/utils/response"

	"github.com/gofiber/fiber/v2"
)

type EscrowHandler struct {
	escrowService *escrow.Service
}

func NewEscrowHandler(escrowService *escrow.Service) *EscrowHandler {
	return &EscrowHandler{escrowService: escrowService}
}

// Initiate starts a purchase for the authenticated buyer.
func (h *EscrowHandler) Initiate(c *fiber.Ctx) error {
	var input struct {
		CouponID uint `json:"coupon_id"`
	}
	if err := c.BodyParser(&input); err != nil {
		return response.BadRequest(c, "Invalid request format")
	}
	if input.CouponID == 0 {
		return response.BadRequest(c, "coupon_id is required")
	}

	claims := c.Locals("claims").(*models.UserClaims)
	result, err := h.escrowService.Initiate(c.Context(), input.CouponID, claims.UserID)
	if err != nil {
		return h.mapEscrowError(c, err)
	}

	return response.Success(c, "Purchase initiated", result)
}

// Confirm finalizes the purchase and reveals the coupon code. Losing the
// race against auto-confirmation is reported as success; the transaction
// finished either way.
func (h *EscrowHandler) Confirm(c *fiber.Ctx) error {
	claims := c.Locals("claims").(*models.UserClaims)

	result, err := h.escrowService.Confirm(c.Context(), c.Params("id"), claims.UserID)
	if err != nil {
		if errors.Is(err, escrow.ErrAlreadyFinalized) {
			return c.JSON(fiber.Map{
				"message":           "Transaction already finalized",
				"already_finalized": true,
			})
		}
		return h.mapEscrowError(c, err)
	}

	return response.Success(c, "Purchase confirmed", result)
}

// Dispute files a dispute and refunds the buyer.
func (h *EscrowHandler) Dispute(c *fiber.Ctx) error {
	var input struct {
		Reason string `json:"reason"`
	}
	if err := c.BodyParser(&input); err != nil {
		return response.BadRequest(c, "Invalid request format")
	}

	claims := c.Locals("claims").(*models.UserClaims)
	tx, err := h.escrowService.Dispute(c.Context(), c.Params("id"), claims.UserID, input.Reason)
	if err != nil {
		if errors.Is(err, escrow.ErrAlreadyFinalized) {
			return c.JSON(fiber.Map{
				"message":           "Transaction already finalized",
				"already_finalized": true,
			})
		}
		return h.mapEscrowError(c, err)
	}

	return response.Success(c, "Dispute filed, refund issued", tx)
}

// GetTransaction returns a single transaction visible to the caller.
func (h *EscrowHandler) GetTransaction(c *fiber.Ctx) error {
	claims := c.Locals("claims").(*models.UserClaims)

	tx, err := h.escrowService.GetTransaction(c.Context(), c.Params("id"), claims.UserID, claims.IsAdmin())
	if err != nil {
		return h.mapEscrowError(c, err)
	}

	return response.Success(c, "Transaction retrieved", tx)
}

// ListTransactions returns the caller's purchases and sales.
func (h *EscrowHandler) ListTransactions(c *fiber.Ctx) error {
	claims := c.Locals("claims").(*models.UserClaims)
	limit := c.QueryInt("limit", 20)
	offset := c.QueryInt("offset", 0)

	txs, err := h.escrowService.ListUserTransactions(c.Context(), claims.UserID, limit, offset)
	if err != nil {
		return response.ServerError(c, "Failed to list transactions")
	}

	return response.Success(c, "Transactions retrieved", txs)
}

func (h *EscrowHandler) mapEscrowError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, escrow.ErrMissingReason):
		return response.BadRequest(c, err.Error())
	case errors.Is(err, escrow.ErrSelfPurchase):
		return response.BadRequest(c, err.Error())
	case errors.Is(err, escrow.ErrCouponUnavailable),
		errors.Is(err, escrow.ErrCouponExpired),
		errors.Is(err, escrow.ErrCouponNotApproved),
		errors.Is(err, escrow.ErrInvalidState):
		return response.Conflict(c, err.Error())
	case errors.Is(err, escrow.ErrNotBuyer), errors.Is(err, escrow.ErrNotAuthorized):
		return response.Forbidden(c, err.Error())
	case errors.Is(err, repositories.ErrTransactionNotFound):
		return response.NotFound(c, err.Error())
	case errors.Is(err, payment.ErrDeclined):
		return response.Error(c, fiber.StatusPaymentRequired, "Payment was declined")
	case errors.Is(err, payment.ErrProcessor):
		return response.BadGateway(c, "Payment processor error, please try again")
	default:
		return response.ServerError(c, "Internal error")
	}
}
