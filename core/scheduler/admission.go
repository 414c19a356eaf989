package scheduler

import (
	"context"
	"time"

	"code.cloudfoundry.org/lager/v3"
	"github.com/google/uuid"

	"github.com/forgecloud/podscaler/core/metrics"
	"github.com/forgecloud/podscaler/core/types"
	"github.com/forgecloud/podscaler/tracing"
)

// QueuePrompt is the PromptAPI entry point: it assigns a fresh prompt
// id, appends to the queue, then blocks polling until the prompt lands
// in the completed or failed map, returning its result. It always
// returns a PromptResult -- never an error -- so callers never see an
// absent output state.
func (s *Scheduler) QueuePrompt(ctx context.Context, workflowType types.WorkflowType, inputURL string) types.PromptResult {
	ctx, span := tracing.StartSpan(ctx, "scheduler.queue_prompt", tracing.Attrs{"workflow-type": string(workflowType)})
	var result types.PromptResult
	defer func() { tracing.End(span, nil) }()

	promptID := uuid.NewString()
	prompt := &types.Prompt{
		PromptID:     promptID,
		WorkflowType: workflowType,
		InputURL:     inputURL,
		GPUType:      gpuTypeFor(workflowType),
	}

	s.mu.Lock()
	if len(s.queuedPrompts) >= s.cfg.MaxQueueDepth {
		s.mu.Unlock()
		result = types.PromptResult{PromptID: promptID, OutputState: types.OutputFailed, Reason: "backpressure"}
		metrics.RecordPromptOutcome(ctx, "backpressure")
		return result
	}
	s.queuedPrompts = append(s.queuedPrompts, prompt)
	s.mu.Unlock()

	logger := s.logger.Session("queue-prompt", lager.Data{"prompt-id": promptID})

	pollInterval := s.cfg.ServerCheckDelay
	if pollInterval <= 0 {
		pollInterval = 50 * time.Millisecond
	}

	for attempt := 0; attempt < s.cfg.ServerCheckRetries; attempt++ {
		if r, ok := s.takeResult(promptID); ok {
			result = r
			metrics.RecordPromptOutcome(ctx, result.OutputState.String())
			return result
		}

		select {
		case <-ctx.Done():
			s.gcPrompt(promptID)
			result = types.PromptResult{PromptID: promptID, OutputState: types.OutputFailed, Reason: "Time out error"}
			return result
		case <-time.After(pollInterval):
		}
	}

	logger.Info("admission-timed-out")
	s.gcPrompt(promptID)
	result = types.PromptResult{PromptID: promptID, OutputState: types.OutputFailed, Reason: "Time out error"}
	metrics.RecordPromptOutcome(ctx, "timeout")
	return result
}

// takeResult checks the completed/failed maps for promptID, removing
// and returning it if present.
func (s *Scheduler) takeResult(promptID string) (types.PromptResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.completedPrompts[promptID]; ok {
		delete(s.completedPrompts, promptID)
		return *p.Result, true
	}
	if p, ok := s.failedPrompts[promptID]; ok {
		delete(s.failedPrompts, promptID)
		return *p.Result, true
	}
	return types.PromptResult{}, false
}

// gcPrompt removes any leftover tracking for promptID after
// queue_prompt gives up: the queued entry (if still unpicked-up) and
// any completed/failed entry that raced in after the timeout fired.
func (s *Scheduler) gcPrompt(promptID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.queuedPrompts[:0]
	for _, p := range s.queuedPrompts {
		if p.PromptID != promptID {
			kept = append(kept, p)
		}
	}
	s.queuedPrompts = kept

	delete(s.completedPrompts, promptID)
	delete(s.failedPrompts, promptID)
}
