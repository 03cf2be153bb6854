// Package http provides the Fiber handlers for the sync surface.
package http

import (
	"receipt_server/core/port/in"
	"receipt_server/core/port/out"
	"receipt_server/pkg/apperr"
	"receipt_server/pkg/response"

	"github.com/gofiber/fiber/v2"
)

// SyncHandler exposes the scheduler and pipeline to collaborator services.
type SyncHandler struct {
	scheduler   in.SyncSchedulerPort
	syncService in.SyncServicePort
	processor   in.ReceiptProcessorPort
	credentials in.CredentialServicePort
	messageRepo out.MessageRepositoryPort
	receiptRepo out.ReceiptRepositoryPort
}

func NewSyncHandler(
	scheduler in.SyncSchedulerPort,
	syncService in.SyncServicePort,
	processor in.ReceiptProcessorPort,
	credentials in.CredentialServicePort,
	messageRepo out.MessageRepositoryPort,
	receiptRepo out.ReceiptRepositoryPort,
) *SyncHandler {
	return &SyncHandler{
		scheduler:   scheduler,
		syncService: syncService,
		processor:   processor,
		credentials: credentials,
		messageRepo: messageRepo,
		receiptRepo: receiptRepo,
	}
}

func (h *SyncHandler) Register(api fiber.Router) {
	sync := api.Group("/sync")
	sync.Post("/accounts/:id/backfill", h.EnqueueBackfill)
	sync.Post("/accounts/:id/daily", h.SyncDaily)
	sync.Get("/status", h.Status)

	receipts := api.Group("/receipts")
	receipts.Post("/accounts/:id/reprocess", h.Reprocess)
	receipts.Get("/accounts/:id/stats", h.Stats)

	credentials := api.Group("/credentials")
	credentials.Post("/refresh", h.RefreshCredentials)
}

// EnqueueBackfill queues an account for backfill on the next scheduler
// tick. Registration calls this right after connecting a mailbox.
func (h *SyncHandler) EnqueueBackfill(c *fiber.Ctx) error {
	accountID, err := accountIDParam(c)
	if err != nil {
		return err
	}

	h.scheduler.EnqueueBackfill(accountID)
	return response.Accepted(c, fiber.Map{"account_id": accountID, "queued": true})
}

// SyncDaily runs the daily window for one account synchronously.
func (h *SyncHandler) SyncDaily(c *fiber.Ctx) error {
	accountID, err := accountIDParam(c)
	if err != nil {
		return err
	}

	result, err := h.syncService.SyncDaily(c.Context(), accountID)
	if err != nil {
		return err
	}
	return response.OK(c, result)
}

// Status returns the scheduler snapshot with per-account last results.
func (h *SyncHandler) Status(c *fiber.Ctx) error {
	return response.OK(c, h.scheduler.Status())
}

// Reprocess replays extraction over an account's failed and unmatched
// receipts.
func (h *SyncHandler) Reprocess(c *fiber.Ctx) error {
	accountID, err := accountIDParam(c)
	if err != nil {
		return err
	}

	result, err := h.processor.Reprocess(c.Context(), accountID)
	if err != nil {
		return err
	}
	return response.OK(c, result)
}

// Stats returns the stored message count and per-status receipt counts
// for one account.
func (h *SyncHandler) Stats(c *fiber.Ctx) error {
	accountID, err := accountIDParam(c)
	if err != nil {
		return err
	}

	messages, err := h.messageRepo.CountByAccount(c.Context(), accountID)
	if err != nil {
		return apperr.DatabaseError("count messages", err)
	}
	receipts, err := h.receiptRepo.CountByStatus(c.Context(), accountID)
	if err != nil {
		return apperr.DatabaseError("count receipts", err)
	}

	return response.OK(c, fiber.Map{
		"account_id": accountID,
		"messages":   messages,
		"receipts":   receipts,
	})
}

// RefreshCredentials force-refreshes every active account's tokens.
func (h *SyncHandler) RefreshCredentials(c *fiber.Ctx) error {
	outcomes := h.credentials.RefreshAll(c.Context())

	results := make(map[int64]string, len(outcomes))
	failed := 0
	for accountID, err := range outcomes {
		if err != nil {
			results[accountID] = err.Error()
			failed++
		} else {
			results[accountID] = "ok"
		}
	}
	return response.OK(c, fiber.Map{
		"accounts": results,
		"failed":   failed,
	})
}

func accountIDParam(c *fiber.Ctx) (int64, error) {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return 0, apperr.InvalidInput("id", "must be a positive account id")
	}
	return int64(id), nil
}
