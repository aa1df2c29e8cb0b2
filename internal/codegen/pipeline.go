package codegen

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lucib3196/gestalt-questions-backend/internal/clients/openai"
	"github.com/lucib3196/gestalt-questions-backend/internal/clients/vision"
	"github.com/lucib3196/gestalt-questions-backend/internal/graph"
	"github.com/lucib3196/gestalt-questions-backend/internal/platform/apierr"
	"github.com/lucib3196/gestalt-questions-backend/internal/platform/logger"
	"github.com/lucib3196/gestalt-questions-backend/internal/retriever"
	"github.com/lucib3196/gestalt-questions-backend/internal/types"
)

// Node names of the text-generation graph.
const (
	nodeExtractMetadata = "extract_question_metadata"
	nodeQuestionHTML    = "generate_question_html"
	nodeSolutionHTML    = "generate_solution_html"
	nodeServerJS        = "generate_server_js"
	nodeServerPy        = "generate_server_py"
	nodeCodeReview      = "adaptive_code_review"
	nodeModifyCode      = "modify_code"
	nodeRenderSpec      = "generate_qrender"
	nodeFinalizePackage = "finalize_package"
)

// Result is one finished artifact set.
type Result struct {
	Meta       *Metadata         `json:"metadata"`
	Files      map[string]string `json:"files"`
	Reviews    []ReviewVerdict   `json:"reviews,omitempty"`
	Iterations int               `json:"iterations"`
}

type Options struct {
	ModelFast        string
	ModelBase        string
	ModelLongContext string
	NumExamples      int
	NodeTimeout      time.Duration
}

// Pipeline owns the compiled generation graph plus the adapters its nodes
// call out to. OCR is optional; when absent image extraction runs on the
// multimodal model alone.
type Pipeline struct {
	log       *logger.Logger
	llm       openai.Client
	retriever retriever.Retriever
	ocr       vision.Annotator

	modelFast        string
	modelBase        string
	modelLongContext string
	numExamples      int

	exec *graph.Executor[State]
}

func New(log *logger.Logger, llm openai.Client, ret retriever.Retriever, ocr vision.Annotator, opts Options) (*Pipeline, error) {
	p := &Pipeline{
		log:              log.With("component", "CodegenPipeline"),
		llm:              llm,
		retriever:        ret,
		ocr:              ocr,
		modelFast:        opts.ModelFast,
		modelBase:        opts.ModelBase,
		modelLongContext: opts.ModelLongContext,
		numExamples:      opts.NumExamples,
	}
	if p.numExamples <= 0 {
		p.numExamples = 2
	}
	nodeTimeout := opts.NodeTimeout
	if nodeTimeout <= 0 {
		nodeTimeout = 3 * time.Minute
	}

	retry := graph.WithRetry(graph.RetryPolicy{
		MaxAttempts: 2,
		MinBackoff:  time.Second,
		MaxBackoff:  5 * time.Second,
		Retryable: func(err error) bool {
			return apierr.Is(err, apierr.KindSchemaMismatch)
		},
	})
	timeout := graph.WithTimeout(nodeTimeout)

	g := graph.New(reduceState)
	g.AddNode(nodeExtractMetadata, p.extractMetadata, retry, timeout)
	g.AddNode(nodeQuestionHTML, p.generateQuestionHTML, retry, timeout)
	g.AddNode(nodeSolutionHTML, p.generateSolutionHTML, retry, timeout)
	g.AddNode(nodeServerJS, p.generateServer(types.FileServerJS, serverJSSystem, "server_js"), retry, timeout)
	g.AddNode(nodeServerPy, p.generateServer(types.FileServerPy, serverPySystem, "server_py"), retry, timeout)
	g.AddNode(nodeCodeReview, p.reviewCode, retry, timeout)
	g.AddNode(nodeModifyCode, p.modifyCode, retry, timeout)
	g.AddNode(nodeRenderSpec, p.generateRenderSpec, retry, timeout)
	g.AddNode(nodeFinalizePackage, p.finalizePackage, timeout)

	g.AddEdge(graph.Start, nodeExtractMetadata)
	g.AddEdge(nodeExtractMetadata, nodeQuestionHTML)
	g.AddEdge(nodeQuestionHTML, nodeSolutionHTML)

	// Adaptive questions fan out to both server generators; the branches
	// converge at review. Non-adaptive questions skip straight to the
	// render spec from the solution node.
	g.AddConditionalEdges(nodeQuestionHTML, func(st State) []string {
		if st.Meta != nil && st.Meta.IsAdaptive {
			return []string{nodeServerJS, nodeServerPy}
		}
		return nil
	}, nodeServerJS, nodeServerPy)
	g.AddConditionalEdges(nodeSolutionHTML, func(st State) []string {
		if st.Meta != nil && st.Meta.IsAdaptive {
			return []string{nodeCodeReview}
		}
		return []string{nodeRenderSpec}
	}, nodeCodeReview, nodeRenderSpec)

	g.AddEdge(nodeServerJS, nodeCodeReview)
	g.AddEdge(nodeServerPy, nodeCodeReview)

	// Grade "yes" means the set needs modification. Review increments the
	// iteration counter, so the Nth verdict may still trigger its repair;
	// the modify router then closes the loop. Worst case: MaxIterations
	// review passes, each followed by one repair.
	g.AddConditionalEdges(nodeCodeReview, func(st State) []string {
		v := st.lastReview()
		if v != nil && v.Grade == "yes" && st.Iterations <= MaxIterations {
			return []string{nodeModifyCode}
		}
		return []string{nodeRenderSpec}
	}, nodeModifyCode, nodeRenderSpec)
	g.AddConditionalEdges(nodeModifyCode, func(st State) []string {
		if st.Iterations < MaxIterations {
			return []string{nodeCodeReview}
		}
		return []string{nodeRenderSpec}
	}, nodeCodeReview, nodeRenderSpec)

	g.AddEdge(nodeRenderSpec, nodeFinalizePackage)
	g.AddEdge(nodeFinalizePackage, graph.End)

	exec, err := g.Compile()
	if err != nil {
		return nil, fmt.Errorf("compile generation graph: %w", err)
	}
	p.exec = exec
	return p, nil
}

// RunText drives one question payload through the text-generation graph.
func (p *Pipeline) RunText(ctx context.Context, payload QuestionPayload) (*Result, error) {
	if strings.TrimSpace(payload.Question) == "" {
		return nil, apierr.Newf(apierr.KindValidation, "question text is required")
	}
	final, err := p.exec.Invoke(ctx, p.log, State{Payload: payload})
	if err != nil {
		return nil, err
	}
	return &Result{
		Meta:       final.Meta,
		Files:      final.Files,
		Reviews:    final.Reviews,
		Iterations: final.Iterations,
	}, nil
}

// RunImages extracts question payloads from the images, then runs each one
// through the text graph concurrently. Results keep extraction order.
func (p *Pipeline) RunImages(ctx context.Context, images []openai.ImageInput) ([]*Result, error) {
	if len(images) == 0 {
		return nil, apierr.Newf(apierr.KindValidation, "at least one image is required")
	}
	payloads, err := p.extractFromImages(ctx, images)
	if err != nil {
		return nil, err
	}
	if len(payloads) == 0 {
		return nil, apierr.Newf(apierr.KindValidation, "no questions found in images")
	}

	results := make([]*Result, len(payloads))
	grp, gctx := errgroup.WithContext(ctx)
	for i, payload := range payloads {
		grp.Go(func() error {
			res, rerr := p.RunText(gctx, payload)
			if rerr != nil {
				return fmt.Errorf("question %d: %w", i, rerr)
			}
			results[i] = res
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (p *Pipeline) extractFromImages(ctx context.Context, images []openai.ImageInput) ([]QuestionPayload, error) {
	var hints []string
	if p.ocr != nil {
		data := make([][]byte, len(images))
		for i, img := range images {
			data[i] = img.Data
		}
		var err error
		hints, err = p.ocr.DetectText(ctx, data)
		if err != nil {
			p.log.Warn("OCR hinting failed, continuing without", "error", err.Error())
			hints = nil
		}
	}

	var b strings.Builder
	b.WriteString("Extract every distinct question from the attached images.\n")
	for i, h := range hints {
		if strings.TrimSpace(h) != "" {
			fmt.Fprintf(&b, "\nOCR hint for image %d:\n%s\n", i+1, h)
		}
	}

	obj, err := p.llm.GenerateJSON(ctx, openai.Request{
		Model:      p.modelLongContext,
		System:     extractImagesSystem,
		User:       b.String(),
		Images:     images,
		SchemaName: "extracted_questions",
		Schema:     extractedQuestionsSchema(),
	})
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Questions []string `json:"questions"`
	}
	if err := decodeInto(obj, &parsed); err != nil {
		return nil, err
	}

	out := make([]QuestionPayload, 0, len(parsed.Questions))
	for _, q := range parsed.Questions {
		if strings.TrimSpace(q) == "" {
			continue
		}
		out = append(out, QuestionPayload{Question: strings.TrimSpace(q)})
	}
	return out, nil
}
