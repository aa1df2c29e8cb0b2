package handlers

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/lucib3196/gestalt-questions-backend/internal/platform/logger"
	"github.com/lucib3196/gestalt-questions-backend/internal/services"
)

type RunHandler struct {
	log *logger.Logger
	svc *services.RunService
}

func NewRunHandler(log *logger.Logger, svc *services.RunService) *RunHandler {
	return &RunHandler{
		log: log.With("handler", "RunHandler"),
		svc: svc,
	}
}

// POST /run_server/:qid/:runtime
// Executes the question's server file. The runner reports failures inside
// the result body, so the HTTP status always comes from the result.
func (h *RunHandler) Run(c *gin.Context) {
	id, ok := pathUUID(c, "qid")
	if !ok {
		return
	}
	isTesting := strings.EqualFold(c.Query("is_testing"), "true")
	res := h.svc.Run(c.Request.Context(), id, c.Param("runtime"), isTesting)
	c.JSON(res.HTTPStatus, res)
}
