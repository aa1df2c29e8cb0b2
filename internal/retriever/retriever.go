package retriever

import (
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/lucib3196/gestalt-questions-backend/internal/clients/openai"
	"github.com/lucib3196/gestalt-questions-backend/internal/platform/logger"
	"github.com/lucib3196/gestalt-questions-backend/internal/types"
)

// Example is one complete worked artifact set used as few-shot context
// during generation.
type Example struct {
	Question string            `json:"question"`
	Files    map[string]string `json:"files"`
}

// Retriever ranks stored examples against a query by embedding similarity.
type Retriever interface {
	TopK(ctx context.Context, query string, k int) ([]Example, error)
}

type vectorRetriever struct {
	log      *logger.Logger
	llm      openai.Client
	examples []Example
	vectors  [][]float32
}

// vstore is the on-disk embedding cache. Fingerprint ties the vectors to
// the exact example set they were computed from.
type vstore struct {
	Fingerprint string      `json:"fingerprint"`
	Vectors     [][]float32 `json:"vectors"`
}

// NewFromCSV loads examples from a CSV with header
// question,question_html,server_js,server_py and embeds each question.
// Embeddings are cached at storePath when it is non-empty.
func NewFromCSV(ctx context.Context, log *logger.Logger, llm openai.Client, csvPath, storePath string) (Retriever, error) {
	examples, err := loadCSV(csvPath)
	if err != nil {
		return nil, err
	}
	r := &vectorRetriever{
		log:      log.With("component", "ExampleRetriever"),
		llm:      llm,
		examples: examples,
	}
	if err := r.ensureVectors(ctx, storePath); err != nil {
		return nil, err
	}
	r.log.Info("Example retriever ready", "examples", len(examples))
	return r, nil
}

func loadCSV(path string) ([]Example, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open examples csv: %w", err)
	}
	defer f.Close()

	rd := csv.NewReader(f)
	rd.FieldsPerRecord = -1
	rows, err := rd.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read examples csv: %w", err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("examples csv %s has no data rows", path)
	}

	col := map[string]int{}
	for i, name := range rows[0] {
		col[strings.TrimSpace(strings.ToLower(name))] = i
	}
	qi, ok := col["question"]
	if !ok {
		return nil, fmt.Errorf("examples csv missing question column")
	}

	cell := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return row[i]
	}

	out := make([]Example, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if qi >= len(row) || strings.TrimSpace(row[qi]) == "" {
			continue
		}
		files := map[string]string{}
		if v := cell(row, "question_html"); v != "" {
			files[types.FileQuestionHTML] = v
		}
		if v := cell(row, "solution_html"); v != "" {
			files[types.FileSolutionHTML] = v
		}
		if v := cell(row, "server_js"); v != "" {
			files[types.FileServerJS] = v
		}
		if v := cell(row, "server_py"); v != "" {
			files[types.FileServerPy] = v
		}
		out = append(out, Example{Question: row[qi], Files: files})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("examples csv %s yielded no usable rows", path)
	}
	return out, nil
}

func (r *vectorRetriever) ensureVectors(ctx context.Context, storePath string) error {
	fp := r.fingerprint()
	if storePath != "" {
		if raw, err := os.ReadFile(storePath); err == nil {
			var cached vstore
			if json.Unmarshal(raw, &cached) == nil &&
				cached.Fingerprint == fp &&
				len(cached.Vectors) == len(r.examples) {
				r.vectors = cached.Vectors
				return nil
			}
			r.log.Warn("Embedding cache stale, recomputing", "path", storePath)
		}
	}

	inputs := make([]string, len(r.examples))
	for i, ex := range r.examples {
		inputs[i] = ex.Question
	}
	vecs, err := r.llm.Embed(ctx, inputs)
	if err != nil {
		return fmt.Errorf("embed examples: %w", err)
	}
	r.vectors = vecs

	if storePath != "" {
		raw, _ := json.Marshal(vstore{Fingerprint: fp, Vectors: vecs})
		if err := os.WriteFile(storePath, raw, 0o644); err != nil {
			r.log.Warn("Failed to write embedding cache", "path", storePath, "error", err.Error())
		}
	}
	return nil
}

func (r *vectorRetriever) fingerprint() string {
	h := sha256.New()
	for _, ex := range r.examples {
		h.Write([]byte(ex.Question))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (r *vectorRetriever) TopK(ctx context.Context, query string, k int) ([]Example, error) {
	if k <= 0 {
		k = 3
	}
	if k > len(r.examples) {
		k = len(r.examples)
	}
	qv, err := r.llm.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	type scored struct {
		idx   int
		score float64
	}
	scores := make([]scored, len(r.examples))
	for i, v := range r.vectors {
		scores[i] = scored{idx: i, score: cosine(qv[0], v)}
	}
	sort.SliceStable(scores, func(a, b int) bool { return scores[a].score > scores[b].score })

	out := make([]Example, 0, k)
	for _, s := range scores[:k] {
		out = append(out, r.examples[s.idx])
	}
	return out, nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
