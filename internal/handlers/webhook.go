package handlers

import (
	"encoding/json"

	"couponbay/internal/services/escrow"
	"couponbay/internal/utils/response"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/webhook"
)

// WebhookHandler receives processor callbacks. Stripe delivers events
// at-least-once; the escrow engine applies them idempotently, so returning
// 200 for an already-applied event is correct.
type WebhookHandler struct {
	escrowService *escrow.Service
	signingSecret string
}

func NewWebhookHandler(escrowService *escrow.Service, signingSecret string) *WebhookHandler {
	return &WebhookHandler{escrowService: escrowService, signingSecret: signingSecret}
}

// HandleStripe verifies the event signature and feeds authorization
// outcomes and capture/refund confirmations into the escrow engine. The
// succeeded and canceled events double as the reconcile path: a crash
// between a processor call and the local terminal commit is repaired when
// Stripe redelivers the outcome.
func (h *WebhookHandler) HandleStripe(c *fiber.Ctx) error {
	event, err := webhook.ConstructEvent(c.Body(), c.Get("Stripe-Signature"), h.signingSecret)
	if err != nil {
		log.Warn().Err(err).Msg("webhook signature verification failed")
		return response.BadRequest(c, "Invalid signature")
	}

	switch event.Type {
	case "payment_intent.amount_capturable_updated",
		"payment_intent.payment_failed",
		"payment_intent.succeeded",
		"payment_intent.canceled":
		return h.handleIntentEvent(c, event)
	case "charge.refunded":
		// Post-capture refunds surface on the charge, not the intent.
		return h.handleChargeRefunded(c, event)
	default:
		return c.SendStatus(fiber.StatusOK)
	}
}

func (h *WebhookHandler) handleIntentEvent(c *fiber.Ctx, event stripe.Event) error {
	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		log.Error().Err(err).Str("event", string(event.Type)).Msg("failed to parse payment intent")
		return response.BadRequest(c, "Malformed event payload")
	}

	transactionID := intent.Metadata["transaction_id"]
	if transactionID == "" {
		// Not one of ours; acknowledge so Stripe stops redelivering.
		log.Debug().Str("intent", intent.ID).Msg("payment intent without transaction metadata")
		return c.SendStatus(fiber.StatusOK)
	}

	var applyErr error
	switch event.Type {
	case "payment_intent.amount_capturable_updated":
		// Manual-capture intents report a successful authorization here.
		applyErr = h.escrowService.HandleAuthorizationResult(c.Context(), transactionID, intent.ID, true)
	case "payment_intent.payment_failed":
		applyErr = h.escrowService.HandleAuthorizationResult(c.Context(), transactionID, intent.ID, false)
	case "payment_intent.succeeded":
		applyErr = h.escrowService.ReconcileCapture(c.Context(), transactionID)
	case "payment_intent.canceled":
		applyErr = h.escrowService.ReconcileRefund(c.Context(), transactionID)
	}
	if applyErr != nil {
		// Non-2xx makes Stripe retry, which is what we want for transient
		// failures: idempotent application reconciles on redelivery.
		log.Error().Err(applyErr).Str("transaction_id", transactionID).Str("event", string(event.Type)).Msg("failed to apply payment event")
		return response.ServerError(c, "Failed to process event")
	}

	return c.SendStatus(fiber.StatusOK)
}

func (h *WebhookHandler) handleChargeRefunded(c *fiber.Ctx, event stripe.Event) error {
	var charge stripe.Charge
	if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
		log.Error().Err(err).Str("event", string(event.Type)).Msg("failed to parse charge")
		return response.BadRequest(c, "Malformed event payload")
	}

	if charge.PaymentIntent == nil || charge.PaymentIntent.ID == "" {
		log.Debug().Str("charge", charge.ID).Msg("refunded charge without payment intent")
		return c.SendStatus(fiber.StatusOK)
	}

	if err := h.escrowService.ReconcileRefundByReference(c.Context(), charge.PaymentIntent.ID); err != nil {
		log.Error().Err(err).Str("reference", charge.PaymentIntent.ID).Msg("failed to apply refund event")
		return response.ServerError(c, "Failed to process event")
	}

	return c.SendStatus(fiber.StatusOK)
}
