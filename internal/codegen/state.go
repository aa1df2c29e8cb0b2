package codegen

import (
	"github.com/lucib3196/gestalt-questions-backend/internal/graph"
	"github.com/lucib3196/gestalt-questions-backend/internal/retriever"
)

// MaxIterations bounds the review/modify loop.
const MaxIterations = 3

// QuestionPayload is the pipeline input: the question text plus whatever
// the caller already knows about it.
type QuestionPayload struct {
	Question       string         `json:"question"`
	Parameters     map[string]any `json:"parameters,omitempty"`
	CorrectAnswers map[string]any `json:"correct_answers,omitempty"`
	Solution       string         `json:"solution,omitempty"`
}

// Metadata is the classification produced by the extraction node.
type Metadata struct {
	Title      string   `json:"title"`
	Topics     []string `json:"topics"`
	IsAdaptive bool     `json:"is_adaptive"`
}

type FileFix struct {
	Name     string `json:"name"`
	Approach string `json:"approach"`
}

// ReviewVerdict is one pass of the code review. Grade "yes" means the
// artifact set needs modification; "no" means it is acceptable as is.
type ReviewVerdict struct {
	Grade         string    `json:"grade"`
	FilesToModify []FileFix `json:"files_to_modify"`
}

// State flows through the generation graph. Field merge policies:
// Payload, Meta, Examples and OCRHints are keep-first; Files merges
// key-wise with incoming winners; Reviews appends in commit order;
// Iterations is an additive counter.
type State struct {
	Payload    QuestionPayload
	Meta       *Metadata
	Files      map[string]string
	Reviews    []ReviewVerdict
	Iterations int
	Examples   []retriever.Example
	OCRHints   []string
}

func (s State) lastReview() *ReviewVerdict {
	if len(s.Reviews) == 0 {
		return nil
	}
	return &s.Reviews[len(s.Reviews)-1]
}

func reduceState(current, update State) State {
	if current.Payload.Question == "" {
		current.Payload = update.Payload
	}
	if current.Meta == nil {
		current.Meta = update.Meta
	}
	current.Files = graph.MergeFiles(current.Files, update.Files)
	current.Reviews = graph.Append(current.Reviews, update.Reviews)
	current.Iterations += update.Iterations
	if current.Examples == nil {
		current.Examples = update.Examples
	}
	if current.OCRHints == nil {
		current.OCRHints = update.OCRHints
	}
	return current
}
