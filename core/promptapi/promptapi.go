// Package promptapi exposes the scheduler's queue/state/stop/restart
// surface as a plain Go type, delegating straight to the backing
// scheduler with no logic of its own. The HTTP front-end that speaks
// to clients lives outside this repository and wraps this surface.
package promptapi

import (
	"context"

	"github.com/forgecloud/podscaler/core/scheduler"
	"github.com/forgecloud/podscaler/core/types"
)

// Server is a thin adapter in front of a Scheduler for whatever
// transport (HTTP, gRPC, CLI) a front-end wants to speak. Callers
// needing transport framing wrap this directly.
type Server struct {
	scheduler *scheduler.Scheduler
}

// New wraps sched behind the PromptAPI surface.
func New(sched *scheduler.Scheduler) *Server {
	return &Server{scheduler: sched}
}

// QueuePrompt enqueues one generation request and blocks for its
// result.
func (s *Server) QueuePrompt(ctx context.Context, workflowType types.WorkflowType, inputURL string) types.PromptResult {
	return s.scheduler.QueuePrompt(ctx, workflowType, inputURL)
}

// GetState reports current fleet and queue sizes.
func (s *Server) GetState() scheduler.Snapshot {
	return s.scheduler.GetState()
}

// Stop transitions the scheduler to Stopped.
func (s *Server) Stop(ctx context.Context) {
	s.scheduler.Stop(ctx)
}

// Restart re-arms the scheduler's loops after a Stop.
func (s *Server) Restart(ctx context.Context) {
	s.scheduler.Restart(ctx)
}
