package codegen

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/lucib3196/gestalt-questions-backend/internal/clients/openai"
	"github.com/lucib3196/gestalt-questions-backend/internal/platform/logger"
	"github.com/lucib3196/gestalt-questions-backend/internal/types"
)

// scriptedLLM answers by schema name. Review answers are consumed in order
// so tests can force the loop.
type scriptedLLM struct {
	mu         sync.Mutex
	adaptive   bool
	reviews    []ReviewVerdict
	reviewIdx  int
	calls      map[string]int
	modifyMark string
}

func (f *scriptedLLM) Embed(_ context.Context, inputs []string) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i := range out {
		out[i] = []float32{1}
	}
	return out, nil
}

func (f *scriptedLLM) GenerateJSON(_ context.Context, req openai.Request) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[req.SchemaName]++

	switch req.SchemaName {
	case "question_metadata":
		return map[string]any{
			"title":       "Distance from speed and time",
			"topics":      []any{"Kinematics", " physics "},
			"is_adaptive": f.adaptive,
		}, nil
	case "question_html":
		return map[string]any{"question_html": "<p>Distance for speed {{params.speed}} over [[params.time]] hours?</p>"}, nil
	case "solution_html":
		return map[string]any{"solution_html": "<p>$d = v t$ gives [[params.correct_answers.distance]].</p>"}, nil
	case "server_js":
		return map[string]any{"server_js": "module.exports.generate = () => ({ params: {}, correct_answers: {} });"}, nil
	case "server_py":
		return map[string]any{"server_py": "def generate():\n    return {\"params\": {}, \"correct_answers\": {}}"}, nil
	case "code_review":
		v := ReviewVerdict{Grade: "no", FilesToModify: []FileFix{}}
		if f.reviewIdx < len(f.reviews) {
			v = f.reviews[f.reviewIdx]
			f.reviewIdx++
		}
		raw, _ := json.Marshal(v)
		var obj map[string]any
		_ = json.Unmarshal(raw, &obj)
		return obj, nil
	case "repaired_file":
		return map[string]any{"content": "// repaired pass " + f.modifyMark}, nil
	case "render_spec":
		return map[string]any{
			"title": "Distance from speed and time",
			"sub_questions": []any{
				map[string]any{
					"template": "Compute the distance traveled.",
					"inputs": []any{
						map[string]any{
							"name": "distance", "label": "Distance", "type": "number",
							"comparison": "sigfig", "digits": 3, "units": "miles",
							"options": []any{}, "multi_correct": false,
						},
					},
					"hints": []any{},
				},
			},
		}, nil
	case "extracted_questions":
		return map[string]any{"questions": []any{
			"A car travels at 60 mph for 4 hours; compute the distance.",
			"What is the capital of France?",
		}}, nil
	}
	return nil, nil
}

func newPipeline(t *testing.T, llm openai.Client) *Pipeline {
	t.Helper()
	p, err := New(logger.Nop(), llm, nil, nil, Options{
		ModelFast: "fast", ModelBase: "base", ModelLongContext: "long",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestNonAdaptiveSkipsServerFiles(t *testing.T) {
	llm := &scriptedLLM{adaptive: false}
	res, err := newPipeline(t, llm).RunText(context.Background(), QuestionPayload{
		Question: "What is the capital of France?",
	})
	if err != nil {
		t.Fatalf("RunText: %v", err)
	}
	if res.Meta == nil {
		t.Fatal("result must carry extracted metadata")
	}
	if res.Meta.IsAdaptive {
		t.Fatal("question must classify non-adaptive")
	}
	for _, name := range []string{types.FileQuestionHTML, types.FileSolutionHTML, types.FileRenderSpec, types.FileMetadata} {
		if res.Files[name] == "" {
			t.Fatalf("missing artifact %s", name)
		}
	}
	if _, ok := res.Files[types.FileServerJS]; ok {
		t.Fatal("non-adaptive question must not produce server.js")
	}
	if _, ok := res.Files[types.FileServerPy]; ok {
		t.Fatal("non-adaptive question must not produce server.py")
	}
	if llm.calls["code_review"] != 0 {
		t.Fatalf("review must not run for non-adaptive, ran %d times", llm.calls["code_review"])
	}
	if res.Iterations != 0 {
		t.Fatalf("iterations: want=0 got=%d", res.Iterations)
	}
}

func TestAdaptiveProducesAllArtifacts(t *testing.T) {
	llm := &scriptedLLM{adaptive: true}
	res, err := newPipeline(t, llm).RunText(context.Background(), QuestionPayload{
		Question: "A car travels at 60 mph for 4 hours; compute the distance.",
	})
	if err != nil {
		t.Fatalf("RunText: %v", err)
	}
	for _, name := range []string{
		types.FileQuestionHTML, types.FileSolutionHTML,
		types.FileServerJS, types.FileServerPy,
		types.FileRenderSpec, types.FileMetadata,
	} {
		if res.Files[name] == "" {
			t.Fatalf("missing artifact %s", name)
		}
	}
	if llm.calls["code_review"] != 1 {
		t.Fatalf("review calls: want=1 got=%d", llm.calls["code_review"])
	}

	var spec types.RenderSpec
	if err := json.Unmarshal([]byte(res.Files[types.FileRenderSpec]), &spec); err != nil {
		t.Fatalf("qrender decode: %v", err)
	}
	in := spec.SubQuestions[0].Inputs[0]
	if in.Name != "distance" || in.Comparison != "sigfig" || in.Digits != 3 {
		t.Fatalf("render input: %+v", in)
	}

	var desc types.Descriptor
	if err := json.Unmarshal([]byte(res.Files[types.FileMetadata]), &desc); err != nil {
		t.Fatalf("metadata decode: %v", err)
	}
	if !desc.AIGenerated || !desc.IsAdaptive || desc.Title == "" {
		t.Fatalf("descriptor: %+v", desc)
	}
	if len(desc.Languages) != 2 {
		t.Fatalf("descriptor languages: want both runtimes, got %v", desc.Languages)
	}
}

func TestReviewLoopTerminatesAtBound(t *testing.T) {
	alwaysYes := ReviewVerdict{
		Grade:         "yes",
		FilesToModify: []FileFix{{Name: types.FileServerJS, Approach: "fix the math"}},
	}
	llm := &scriptedLLM{
		adaptive:   true,
		reviews:    []ReviewVerdict{alwaysYes, alwaysYes, alwaysYes, alwaysYes, alwaysYes},
		modifyMark: "x",
	}
	res, err := newPipeline(t, llm).RunText(context.Background(), QuestionPayload{
		Question: "A car travels at 60 mph for 4 hours; compute the distance.",
	})
	if err != nil {
		t.Fatalf("RunText: %v", err)
	}
	if res.Iterations != MaxIterations {
		t.Fatalf("iterations: want=%d got=%d", MaxIterations, res.Iterations)
	}
	if llm.calls["code_review"] != MaxIterations {
		t.Fatalf("review passes: want=%d got=%d", MaxIterations, llm.calls["code_review"])
	}
	if llm.calls["repaired_file"] != MaxIterations {
		t.Fatalf("repair passes: want=%d got=%d", MaxIterations, llm.calls["repaired_file"])
	}
	if !strings.Contains(res.Files[types.FileServerJS], "repaired") {
		t.Fatal("final artifact must come from the last repair")
	}
}

func TestReviewGradeNoFinalizesImmediately(t *testing.T) {
	llm := &scriptedLLM{adaptive: true} // scripted review defaults to "no"
	res, err := newPipeline(t, llm).RunText(context.Background(), QuestionPayload{
		Question: "A car travels at 60 mph for 4 hours; compute the distance.",
	})
	if err != nil {
		t.Fatalf("RunText: %v", err)
	}
	if res.Iterations != 1 {
		t.Fatalf("iterations: want=1 got=%d", res.Iterations)
	}
	if llm.calls["repaired_file"] != 0 {
		t.Fatalf("repair must not run on grade no, ran %d times", llm.calls["repaired_file"])
	}
}

func TestPlaceholderCleanupInFinalize(t *testing.T) {
	llm := &scriptedLLM{adaptive: false}
	res, err := newPipeline(t, llm).RunText(context.Background(), QuestionPayload{
		Question: "What is the capital of France?",
	})
	if err != nil {
		t.Fatalf("RunText: %v", err)
	}
	html := res.Files[types.FileQuestionHTML]
	if strings.Contains(html, "{{params.") {
		t.Fatalf("single-brace placeholder survived cleanup: %s", html)
	}
	if !strings.Contains(html, "[[params.speed]]") {
		t.Fatalf("placeholder not canonicalized: %s", html)
	}
}

func TestRunImagesFansOutPerQuestion(t *testing.T) {
	llm := &scriptedLLM{adaptive: false}
	results, err := newPipeline(t, llm).RunImages(context.Background(), []openai.ImageInput{
		{MIMEType: "image/png", Data: []byte{1, 2, 3}},
	})
	if err != nil {
		t.Fatalf("RunImages: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results: want=2 got=%d", len(results))
	}
	for i, res := range results {
		if res.Files[types.FileQuestionHTML] == "" {
			t.Fatalf("result %d missing question.html", i)
		}
	}
}

func TestEmptyQuestionRejected(t *testing.T) {
	if _, err := newPipeline(t, &scriptedLLM{}).RunText(context.Background(), QuestionPayload{Question: "  "}); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestCleanupPlaceholders(t *testing.T) {
	in := `<p>{{params.speed}} and { params.time } and [[ params.angle ]] stay [[params.ok]]</p>`
	out := CleanupPlaceholders(in)
	for _, want := range []string{"[[params.speed]]", "[[params.time]]", "[[params.angle]]", "[[params.ok]]"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %s in %q", want, out)
		}
	}
	if strings.Contains(out, "{{") {
		t.Fatalf("brace placeholder survived: %q", out)
	}
	// Running the cleanup again must be a no-op.
	if again := CleanupPlaceholders(out); again != out {
		t.Fatalf("cleanup not idempotent: %q vs %q", out, again)
	}
}
