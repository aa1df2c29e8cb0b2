package handlers

import (
	"io"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/lucib3196/gestalt-questions-backend/internal/clients/openai"
	"github.com/lucib3196/gestalt-questions-backend/internal/codegen"
	"github.com/lucib3196/gestalt-questions-backend/internal/platform/apierr"
	"github.com/lucib3196/gestalt-questions-backend/internal/platform/logger"
	"github.com/lucib3196/gestalt-questions-backend/internal/services"
	"github.com/lucib3196/gestalt-questions-backend/internal/types"
)

type CodegenHandler struct {
	log *logger.Logger
	svc *services.CodegenService
}

func NewCodegenHandler(log *logger.Logger, svc *services.CodegenService) *CodegenHandler {
	return &CodegenHandler{
		log: log.With("handler", "CodegenHandler"),
		svc: svc,
	}
}

type textGenRequest struct {
	Question       string         `json:"question"`
	Parameters     map[string]any `json:"parameters"`
	CorrectAnswers map[string]any `json:"correct_answers"`
	Solution       string         `json:"solution"`
	CreatedBy      string         `json:"created_by"`
	UserID         *int64         `json:"user_id"`
}

// POST /code_generator/v5/text_gen
func (h *CodegenHandler) TextGen(c *gin.Context) {
	var req textGenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, apierr.Newf(apierr.KindValidation, "decode request: %v", err))
		return
	}
	meta, err := h.svc.GenerateFromText(c.Request.Context(), codegen.QuestionPayload{
		Question:       req.Question,
		Parameters:     req.Parameters,
		CorrectAnswers: req.CorrectAnswers,
		Solution:       req.Solution,
	}, req.CreatedBy, req.UserID)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondCreated(c, []types.QuestionMeta{*meta})
}

// POST /code_generator/v5/image_gen
// Multipart image uploads; every part is treated as one page of source
// material.
func (h *CodegenHandler) ImageGen(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		RespondError(c, apierr.Newf(apierr.KindValidation, "read multipart form: %v", err))
		return
	}
	createdBy := c.PostForm("created_by")

	var images []openai.ImageInput
	for _, fhs := range form.File {
		for _, fh := range fhs {
			mime := fh.Header.Get("Content-Type")
			if !strings.HasPrefix(mime, "image/") {
				RespondError(c, apierr.Newf(apierr.KindUnsupported, "upload %q is %q, expected an image", fh.Filename, mime))
				return
			}
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
			images = append(images, openai.ImageInput{MIMEType: mime, Data: data})
		}
	}
	if len(images) == 0 {
		RespondError(c, apierr.Newf(apierr.KindValidation, "no image uploads in request"))
		return
	}

	metas, err := h.svc.GenerateFromImages(c.Request.Context(), images, createdBy, nil)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondCreated(c, metas)
}
