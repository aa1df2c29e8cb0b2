package types

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// QuizData is the validated result shape a generated server program must
// produce from its generate() entrypoint.
type QuizData struct {
	Params         map[string]any        `json:"params"`
	CorrectAnswers map[string]any        `json:"correct_answers"`
	Intermediate   map[string]any        `json:"intermediate,omitempty"`
	TestResults    *TestResults          `json:"test_results,omitempty"`
	Logs           []string              `json:"logs,omitempty"`
	NDigits        int                   `json:"nDigits"`
	SigFigs        int                   `json:"sigfigs"`
}

type TestResults struct {
	Pass    json.Number `json:"pass"`
	Message string      `json:"message,omitempty"`
}

// UnmarshalJSON accepts both encodings of pass that generated programs
// emit: numbers pass through, booleans coerce to 0/1.
func (t *TestResults) UnmarshalJSON(data []byte) error {
	var raw struct {
		Pass    json.RawMessage `json:"pass"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	t.Message = raw.Message
	switch string(bytes.TrimSpace(raw.Pass)) {
	case "", "null":
		t.Pass = ""
	case "true":
		t.Pass = "1"
	case "false":
		t.Pass = "0"
	default:
		var n json.Number
		if err := json.Unmarshal(raw.Pass, &n); err != nil {
			return fmt.Errorf("test_results.pass must be numeric or boolean: %w", err)
		}
		t.Pass = n
	}
	return nil
}

// Passed treats numeric nonzero and boolean true as success.
func (t *TestResults) Passed() bool {
	if t == nil {
		return false
	}
	if f, err := t.Pass.Float64(); err == nil {
		return f != 0
	}
	return false
}

// CoerceQuizData decodes an arbitrary JSON object into QuizData and applies
// the schema checks the runner enforces at its boundary.
func CoerceQuizData(raw []byte) (*QuizData, error) {
	var qd QuizData
	if err := json.Unmarshal(raw, &qd); err != nil {
		return nil, fmt.Errorf("decode quiz data: %w", err)
	}
	if qd.Params == nil {
		return nil, fmt.Errorf("quiz data missing required field %q", "params")
	}
	if qd.CorrectAnswers == nil {
		return nil, fmt.Errorf("quiz data missing required field %q", "correct_answers")
	}
	if qd.NDigits <= 0 {
		qd.NDigits = 3
	}
	if qd.SigFigs <= 0 {
		qd.SigFigs = 3
	}
	return &qd, nil
}

// RunResult is the envelope the program runner returns.
type RunResult struct {
	Success      bool      `json:"success"`
	Error        string    `json:"error,omitempty"`
	HTTPStatus   int       `json:"http_status"`
	QuizResponse *QuizData `json:"quiz_response,omitempty"`
}
