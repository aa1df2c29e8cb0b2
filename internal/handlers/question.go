package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/lucib3196/gestalt-questions-backend/internal/platform/apierr"
	"github.com/lucib3196/gestalt-questions-backend/internal/platform/logger"
	"github.com/lucib3196/gestalt-questions-backend/internal/repos"
	"github.com/lucib3196/gestalt-questions-backend/internal/services"
)

type QuestionHandler struct {
	log *logger.Logger
	svc *services.QuestionService
}

func NewQuestionHandler(log *logger.Logger, svc *services.QuestionService) *QuestionHandler {
	return &QuestionHandler{
		log: log.With("handler", "QuestionHandler"),
		svc: svc,
	}
}

// POST /questions
// Multipart: a "question" JSON part plus any number of file parts that are
// persisted under the new question's prefix.
func (h *QuestionHandler) Create(c *gin.Context) {
	raw := c.PostForm("question")
	if raw == "" {
		RespondError(c, apierr.Newf(apierr.KindValidation, "missing question part"))
		return
	}
	var in services.CreateInput
	if err := json.Unmarshal([]byte(raw), &in); err != nil {
		RespondError(c, apierr.Newf(apierr.KindValidation, "decode question: %v", err))
		return
	}
	in.CreateLabels = true

	meta, err := h.svc.CreateQuestion(c.Request.Context(), in)
	if err != nil {
		RespondError(c, err)
		return
	}

	form, err := c.MultipartForm()
	if err == nil && form != nil {
		for _, fhs := range form.File {
			for _, fh := range fhs {
				f, oerr := fh.Open()
				if oerr != nil {
					RespondError(c, apierr.Newf(apierr.KindValidation, "open upload %q: %v", fh.Filename, oerr))
					return
				}
				data, rerr := io.ReadAll(f)
				f.Close()
				if rerr != nil {
					RespondError(c, apierr.Newf(apierr.KindValidation, "read upload %q: %v", fh.Filename, rerr))
					return
				}
				if serr := h.svc.SaveFile(c.Request.Context(), meta.ID, fh.Filename, data, true); serr != nil {
					RespondError(c, serr)
					return
				}
			}
		}
	}
	RespondCreated(c, meta)
}

// GET /questions/:id
func (h *QuestionHandler) Get(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	meta, err := h.svc.GetQuestion(c.Request.Context(), id)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, meta)
}

// GET /questions/:id/full
func (h *QuestionHandler) GetFull(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	full, err := h.svc.GetQuestionFull(c.Request.Context(), id)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, full)
}

// FilterRequest is the /questions/filter body: a QuestionMeta-shaped
// projection plus paging.
type FilterRequest struct {
	Title       string   `json:"title"`
	AIGenerated *bool    `json:"ai_generated"`
	IsAdaptive  *bool    `json:"is_adaptive"`
	CreatedBy   string   `json:"created_by"`
	UserID      *int64   `json:"user_id"`
	Topics      []string `json:"topics"`
	Languages   []string `json:"languages"`
	QTypes      []string `json:"qtypes"`
	Offset      int      `json:"offset"`
	Limit       int      `json:"limit"`
}

// POST /questions/filter
func (h *QuestionHandler) Filter(c *gin.Context) {
	var req FilterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, apierr.Newf(apierr.KindValidation, "decode filter: %v", err))
		return
	}
	metas, err := h.svc.ListQuestions(c.Request.Context(), repos.Filter{
		Title:       req.Title,
		AIGenerated: req.AIGenerated,
		IsAdaptive:  req.IsAdaptive,
		CreatedBy:   req.CreatedBy,
		UserID:      req.UserID,
		Topics:      req.Topics,
		Languages:   req.Languages,
		QTypes:      req.QTypes,
	}, req.Offset, req.Limit)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, metas)
}

// UpdateRequest mirrors services.UpdateInput at the HTTP boundary.
type UpdateRequest struct {
	Title        *string   `json:"title"`
	IsAdaptive   *bool     `json:"is_adaptive"`
	CreatedBy    *string   `json:"created_by"`
	UserID       *int64    `json:"user_id"`
	Topics       *[]string `json:"topics"`
	Languages    *[]string `json:"languages"`
	QTypes       *[]string `json:"qtypes"`
	RenamePrefix bool      `json:"rename_prefix"`
}

// PUT /questions/:id
func (h *QuestionHandler) Update(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, apierr.Newf(apierr.KindValidation, "decode update: %v", err))
		return
	}
	meta, err := h.svc.UpdateQuestion(c.Request.Context(), id, services.UpdateInput{
		Title:        req.Title,
		IsAdaptive:   req.IsAdaptive,
		CreatedBy:    req.CreatedBy,
		UserID:       req.UserID,
		Topics:       req.Topics,
		Languages:    req.Languages,
		QTypes:       req.QTypes,
		RenamePrefix: req.RenamePrefix,
		CreateLabels: true,
	})
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, meta)
}

// DELETE /questions/:id
func (h *QuestionHandler) Delete(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	if err := h.svc.DeleteQuestion(c.Request.Context(), id); err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"deleted": id.String()})
}

// GET /questions/:id/files
func (h *QuestionHandler) ListFiles(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	names, err := h.svc.ListFiles(c.Request.Context(), id)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"files": names})
}

// fileName pulls the wildcard file param and strips the leading slash gin
// keeps on *name routes.
func fileName(c *gin.Context) string {
	return strings.TrimPrefix(c.Param("name"), "/")
}

// GET /questions/:id/files/*name
func (h *QuestionHandler) ReadFile(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	data, err := h.svc.ReadFile(c.Request.Context(), id, fileName(c))
	if err != nil {
		RespondError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/octet-stream", data)
}

// PUT /questions/:id/files/*name
// Body is the new file content, written as-is.
func (h *QuestionHandler) SaveFile(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		RespondError(c, apierr.Newf(apierr.KindValidation, "read body: %v", err))
		return
	}
	if err := h.svc.SaveFile(c.Request.Context(), id, fileName(c), data, true); err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"saved": fileName(c)})
}

// DELETE /questions/:id/files/*name
func (h *QuestionHandler) DeleteFile(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	if err := h.svc.DeleteFile(c.Request.Context(), id, fileName(c)); err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"deleted": fileName(c)})
}
