package codegen

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lucib3196/gestalt-questions-backend/internal/clients/openai"
	"github.com/lucib3196/gestalt-questions-backend/internal/graph"
	"github.com/lucib3196/gestalt-questions-backend/internal/platform/apierr"
	"github.com/lucib3196/gestalt-questions-backend/internal/types"
)

func decodeInto(obj map[string]any, out any) error {
	b, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, out); err != nil {
		return apierr.Newf(apierr.KindSchemaMismatch, "decode model output: %v", err)
	}
	return nil
}

func (p *Pipeline) extractMetadata(gc *graph.Context, st State) (State, error) {
	obj, err := p.llm.GenerateJSON(gc.Ctx, openai.Request{
		Model:      p.modelFast,
		System:     metadataSystem,
		User:       payloadPrompt(st.Payload),
		SchemaName: "question_metadata",
		Schema:     metadataSchema(),
	})
	if err != nil {
		return State{}, err
	}
	var meta Metadata
	if err := decodeInto(obj, &meta); err != nil {
		return State{}, err
	}
	meta.Title = strings.TrimSpace(meta.Title)
	if meta.Title == "" {
		meta.Title = firstWords(st.Payload.Question, 8)
	}
	meta.Topics = types.CanonicalNames(meta.Topics)

	update := State{Meta: &meta}
	if p.retriever != nil {
		examples, rerr := p.retriever.TopK(gc.Ctx, st.Payload.Question, p.numExamples)
		if rerr != nil {
			gc.Log.Warn("Example retrieval failed, continuing without", "error", rerr.Error())
		} else {
			update.Examples = examples
		}
	}
	gc.Log.Info("Question classified", "title", meta.Title, "is_adaptive", meta.IsAdaptive, "topics", meta.Topics)
	return update, nil
}

func (p *Pipeline) generateQuestionHTML(gc *graph.Context, st State) (State, error) {
	var b strings.Builder
	b.WriteString(payloadPrompt(st.Payload))
	writeExamples(&b, st, types.FileQuestionHTML)

	obj, err := p.llm.GenerateJSON(gc.Ctx, openai.Request{
		Model:      p.modelBase,
		System:     questionHTMLSystem,
		User:       b.String(),
		SchemaName: "question_html",
		Schema:     fileSchema("question_html"),
	})
	if err != nil {
		return State{}, err
	}
	content := stringField(obj, "question_html")
	if content == "" {
		return State{}, apierr.Newf(apierr.KindSchemaMismatch, "model returned empty question html")
	}
	return State{Files: map[string]string{types.FileQuestionHTML: content}}, nil
}

func (p *Pipeline) generateSolutionHTML(gc *graph.Context, st State) (State, error) {
	var b strings.Builder
	b.WriteString(payloadPrompt(st.Payload))
	fmt.Fprintf(&b, "\n\nQuestion template:\n%s\n", st.Files[types.FileQuestionHTML])
	writeExamples(&b, st, types.FileSolutionHTML)

	obj, err := p.llm.GenerateJSON(gc.Ctx, openai.Request{
		Model:      p.modelBase,
		System:     solutionHTMLSystem,
		User:       b.String(),
		SchemaName: "solution_html",
		Schema:     fileSchema("solution_html"),
	})
	if err != nil {
		return State{}, err
	}
	content := stringField(obj, "solution_html")
	if content == "" {
		return State{}, apierr.Newf(apierr.KindSchemaMismatch, "model returned empty solution html")
	}
	return State{Files: map[string]string{types.FileSolutionHTML: content}}, nil
}

func (p *Pipeline) generateServer(filename, system, key string) graph.NodeFunc[State] {
	return func(gc *graph.Context, st State) (State, error) {
		var b strings.Builder
		b.WriteString(payloadPrompt(st.Payload))
		fmt.Fprintf(&b, "\n\nQuestion template:\n%s\n", st.Files[types.FileQuestionHTML])
		if st.Payload.Solution != "" {
			fmt.Fprintf(&b, "\nKnown solution outline:\n%s\n", st.Payload.Solution)
		}
		writeExamples(&b, st, filename)

		obj, err := p.llm.GenerateJSON(gc.Ctx, openai.Request{
			Model:      p.modelBase,
			System:     system,
			User:       b.String(),
			SchemaName: key,
			Schema:     fileSchema(key),
		})
		if err != nil {
			return State{}, err
		}
		content := stringField(obj, key)
		if content == "" {
			return State{}, apierr.Newf(apierr.KindSchemaMismatch, "model returned empty %s", filename)
		}
		return State{Files: map[string]string{filename: content}}, nil
	}
}

func (p *Pipeline) reviewCode(gc *graph.Context, st State) (State, error) {
	var b strings.Builder
	b.WriteString("Question:\n" + st.Payload.Question + "\n")
	for _, name := range []string{types.FileQuestionHTML, types.FileSolutionHTML, types.FileServerJS, types.FileServerPy} {
		if content, ok := st.Files[name]; ok {
			fmt.Fprintf(&b, "\n--- %s ---\n%s\n", name, content)
		}
	}

	obj, err := p.llm.GenerateJSON(gc.Ctx, openai.Request{
		Model:      p.modelFast,
		System:     reviewSystem,
		User:       b.String(),
		SchemaName: "code_review",
		Schema:     reviewSchema(),
	})
	if err != nil {
		return State{}, err
	}
	var verdict ReviewVerdict
	if err := decodeInto(obj, &verdict); err != nil {
		return State{}, err
	}
	gc.Log.Info("Review pass complete", "grade", verdict.Grade, "files_to_modify", len(verdict.FilesToModify), "iteration", st.Iterations+1)
	return State{Reviews: []ReviewVerdict{verdict}, Iterations: 1}, nil
}

func (p *Pipeline) modifyCode(gc *graph.Context, st State) (State, error) {
	verdict := st.lastReview()
	if verdict == nil {
		return State{}, nil
	}
	out := map[string]string{}
	for _, fix := range verdict.FilesToModify {
		current, ok := st.Files[fix.Name]
		if !ok {
			gc.Log.Warn("Review named an unknown file, skipping", "file", fix.Name)
			continue
		}
		var b strings.Builder
		fmt.Fprintf(&b, "File: %s\nRequested repair: %s\n\nCurrent content:\n%s", fix.Name, fix.Approach, current)
		obj, err := p.llm.GenerateJSON(gc.Ctx, openai.Request{
			Model:      p.modelBase,
			System:     modifySystem,
			User:       b.String(),
			SchemaName: "repaired_file",
			Schema:     fileSchema("content"),
		})
		if err != nil {
			return State{}, err
		}
		if content := stringField(obj, "content"); strings.TrimSpace(content) != "" {
			out[fix.Name] = content
		}
	}
	return State{Files: out}, nil
}

func (p *Pipeline) generateRenderSpec(gc *graph.Context, st State) (State, error) {
	var b strings.Builder
	b.WriteString("Question:\n" + st.Payload.Question + "\n")
	fmt.Fprintf(&b, "\nQuestion template:\n%s\n", st.Files[types.FileQuestionHTML])
	if sol, ok := st.Files[types.FileSolutionHTML]; ok {
		fmt.Fprintf(&b, "\nSolution template:\n%s\n", sol)
	}

	obj, err := p.llm.GenerateJSON(gc.Ctx, openai.Request{
		Model:      p.modelFast,
		System:     renderSpecSystem,
		User:       b.String(),
		SchemaName: "render_spec",
		Schema:     renderSpecSchema(),
	})
	if err != nil {
		return State{}, err
	}
	var spec types.RenderSpec
	if err := decodeInto(obj, &spec); err != nil {
		return State{}, err
	}
	if spec.Title == "" && st.Meta != nil {
		spec.Title = st.Meta.Title
	}
	spec.Normalize()
	if err := spec.Validate(); err != nil {
		return State{}, apierr.New(apierr.KindSchemaMismatch, err)
	}
	content, err := types.ToJSONPretty(spec)
	if err != nil {
		return State{}, err
	}
	return State{Files: map[string]string{types.FileRenderSpec: content}}, nil
}

func (p *Pipeline) finalizePackage(gc *graph.Context, st State) (State, error) {
	if st.Meta == nil {
		return State{}, apierr.Newf(apierr.KindValidation, "finalize reached without metadata")
	}
	files := cleanupHTMLFiles(st.Files)

	desc := types.Descriptor{
		Title:       st.Meta.Title,
		AIGenerated: true,
		IsAdaptive:  st.Meta.IsAdaptive,
		Topics:      st.Meta.Topics,
		Languages:   []string{},
		QTypes:      []string{},
	}
	if _, ok := files[types.FileServerJS]; ok {
		desc.Languages = append(desc.Languages, "javascript")
	}
	if _, ok := files[types.FileServerPy]; ok {
		desc.Languages = append(desc.Languages, "python")
	}
	content, err := types.ToJSONPretty(desc)
	if err != nil {
		return State{}, err
	}
	files[types.FileMetadata] = content
	gc.Log.Info("Package finalized", "title", st.Meta.Title, "files", len(files))
	return State{Files: files}, nil
}

// ---- prompt assembly helpers ----

func payloadPrompt(p QuestionPayload) string {
	var b strings.Builder
	b.WriteString("Question:\n" + p.Question + "\n")
	if len(p.Parameters) > 0 {
		raw, _ := json.Marshal(p.Parameters)
		fmt.Fprintf(&b, "\nKnown parameters: %s\n", raw)
	}
	if len(p.CorrectAnswers) > 0 {
		raw, _ := json.Marshal(p.CorrectAnswers)
		fmt.Fprintf(&b, "\nKnown correct answers: %s\n", raw)
	}
	return b.String()
}

func writeExamples(b *strings.Builder, st State, filename string) {
	for i, ex := range st.Examples {
		content, ok := ex.Files[filename]
		if !ok {
			continue
		}
		fmt.Fprintf(b, "\nExample %d question:\n%s\nExample %d %s:\n%s\n", i+1, ex.Question, i+1, filename, content)
	}
}

func stringField(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return s
}

func firstWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) > n {
		words = words[:n]
	}
	return strings.Join(words, " ")
}
