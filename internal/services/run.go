package services

import (
	"context"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/lucib3196/gestalt-questions-backend/internal/platform/apierr"
	"github.com/lucib3196/gestalt-questions-backend/internal/platform/logger"
	"github.com/lucib3196/gestalt-questions-backend/internal/runner"
	"github.com/lucib3196/gestalt-questions-backend/internal/types"
)

// RunService executes a question's server file in a sandboxed subprocess.
// The file is materialized to a scratch directory first, so the same path
// works for the local and cloud storage backends.
type RunService struct {
	log       *logger.Logger
	questions *QuestionService
	runner    *runner.Runner
}

func NewRunService(log *logger.Logger, questions *QuestionService, r *runner.Runner) *RunService {
	return &RunService{
		log:       log.With("service", "RunService"),
		questions: questions,
		runner:    r,
	}
}

// Run resolves the server file for the requested runtime, stages it on
// disk, and hands it to the runner. Failures are reported inside the
// RunResult rather than as transport errors, matching the runner itself.
func (s *RunService) Run(ctx context.Context, id uuid.UUID, rt string, isTesting bool) types.RunResult {
	runtime := runner.NormalizeRuntime(rt)
	if runtime == "" {
		return types.RunResult{Success: false, HTTPStatus: 415, Error: "unknown runtime " + rt}
	}
	name := types.FileServerJS
	if runtime == runner.RuntimePy {
		name = types.FileServerPy
	}

	data, err := s.questions.ReadFile(ctx, id, name)
	if err != nil {
		status := apierr.Status(err)
		return types.RunResult{Success: false, HTTPStatus: status, Error: err.Error()}
	}

	dir, err := os.MkdirTemp("", "gq-run-*")
	if err != nil {
		return types.RunResult{Success: false, HTTPStatus: 500, Error: "stage server file: " + err.Error()}
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return types.RunResult{Success: false, HTTPStatus: 500, Error: "stage server file: " + err.Error()}
	}

	res := s.runner.Run(ctx, path, runtime, isTesting)
	s.log.Info("Server file executed",
		"question_id", id.String(), "runtime", runtime,
		"testing", isTesting, "success", res.Success, "status", res.HTTPStatus)
	return res
}
