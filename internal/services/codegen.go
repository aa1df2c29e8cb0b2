package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/lucib3196/gestalt-questions-backend/internal/clients/openai"
	"github.com/lucib3196/gestalt-questions-backend/internal/codegen"
	"github.com/lucib3196/gestalt-questions-backend/internal/platform/apierr"
	"github.com/lucib3196/gestalt-questions-backend/internal/platform/logger"
	"github.com/lucib3196/gestalt-questions-backend/internal/types"
)

// CodegenService drives the generation pipeline and persists its output as
// question packages.
type CodegenService struct {
	log       *logger.Logger
	pipeline  *codegen.Pipeline
	questions *QuestionService
}

func NewCodegenService(log *logger.Logger, pipeline *codegen.Pipeline, questions *QuestionService) *CodegenService {
	return &CodegenService{
		log:       log.With("service", "CodegenService"),
		pipeline:  pipeline,
		questions: questions,
	}
}

var tracer = otel.Tracer("gestalt-questions-backend/services")

// GenerateFromText runs the pipeline on one question statement and persists
// the resulting package. The returned metadata carries the assigned id.
func (s *CodegenService) GenerateFromText(ctx context.Context, payload codegen.QuestionPayload, createdBy string, userID *int64) (*types.QuestionMeta, error) {
	ctx, span := tracer.Start(ctx, "codegen.text_gen")
	defer span.End()

	result, err := s.pipeline.RunText(ctx, payload)
	if err != nil {
		return nil, err
	}
	return s.persist(ctx, result, createdBy, userID)
}

// GenerateFromImages extracts question statements from the images, runs the
// pipeline per statement, and persists every package. Results keep the
// extraction order.
func (s *CodegenService) GenerateFromImages(ctx context.Context, images []openai.ImageInput, createdBy string, userID *int64) ([]types.QuestionMeta, error) {
	ctx, span := tracer.Start(ctx, "codegen.image_gen",
		trace.WithAttributes(attribute.Int("images.count", len(images))))
	defer span.End()

	results, err := s.pipeline.RunImages(ctx, images)
	if err != nil {
		return nil, err
	}
	metas := make([]types.QuestionMeta, 0, len(results))
	for i, result := range results {
		meta, perr := s.persist(ctx, result, createdBy, userID)
		if perr != nil {
			return nil, fmt.Errorf("persist question %d: %w", i+1, perr)
		}
		metas = append(metas, *meta)
	}
	return metas, nil
}

// persist creates the question row from the generated metadata and writes
// every artifact under its prefix. The descriptor file is rewritten with the
// assigned id, replacing the pipeline's id-less draft.
func (s *CodegenService) persist(ctx context.Context, result *codegen.Result, createdBy string, userID *int64) (*types.QuestionMeta, error) {
	if result == nil || result.Meta == nil {
		return nil, apierr.Newf(apierr.KindSchemaMismatch, "pipeline returned no metadata")
	}

	meta, err := s.questions.CreateQuestion(ctx, CreateInput{
		Title:        result.Meta.Title,
		AIGenerated:  true,
		IsAdaptive:   result.Meta.IsAdaptive,
		CreatedBy:    createdBy,
		UserID:       userID,
		Topics:       result.Meta.Topics,
		Languages:    languagesFromFiles(result.Files),
		QTypes:       []string{"calculation"},
		CreateLabels: true,
	})
	if err != nil {
		return nil, err
	}

	provenance, merr := json.Marshal(map[string]any{
		"iterations": result.Iterations,
		"reviews":    result.Reviews,
	})
	if merr == nil {
		if gerr := s.questions.SetGenMeta(ctx, meta.ID, provenance); gerr != nil {
			s.log.Warn("Failed to record generation provenance", "question_id", meta.ID.String(), "error", gerr.Error())
		}
	}

	for name, content := range result.Files {
		if name == types.FileMetadata {
			// CreateQuestion already wrote the descriptor with the row id.
			continue
		}
		if strings.TrimSpace(content) == "" {
			continue
		}
		if werr := s.questions.SaveFile(ctx, meta.ID, name, content, true); werr != nil {
			return nil, fmt.Errorf("write %s: %w", name, werr)
		}
	}
	s.log.Info("Generated question persisted",
		"question_id", meta.ID.String(), "title", meta.Title,
		"files", len(result.Files), "review_iterations", result.Iterations)
	return meta, nil
}

func languagesFromFiles(files map[string]string) []string {
	var out []string
	if strings.TrimSpace(files[types.FileServerJS]) != "" {
		out = append(out, "javascript")
	}
	if strings.TrimSpace(files[types.FileServerPy]) != "" {
		out = append(out, "python")
	}
	return out
}
