package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/lucib3196/gestalt-questions-backend/internal/platform/logger"
	"github.com/lucib3196/gestalt-questions-backend/internal/services"
)

type SyncHandler struct {
	log *logger.Logger
	svc *services.SyncService
}

func NewSyncHandler(log *logger.Logger, svc *services.SyncService) *SyncHandler {
	return &SyncHandler{
		log: log.With("handler", "SyncHandler"),
		svc: svc,
	}
}

// POST /questions/check_unsync
func (h *SyncHandler) CheckUnsync(c *gin.Context) {
	entries, err := h.svc.CheckUnsync(c.Request.Context())
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"entries": entries})
}

// POST /questions/sync_questions
func (h *SyncHandler) SyncQuestions(c *gin.Context) {
	report, err := h.svc.SyncQuestions(c.Request.Context())
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, report)
}

// POST /questions/prune_missing
func (h *SyncHandler) PruneMissing(c *gin.Context) {
	report, err := h.svc.PruneMissing(c.Request.Context())
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, report)
}
