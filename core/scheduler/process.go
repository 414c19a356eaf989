package scheduler

import (
	"context"
	"time"

	"code.cloudfoundry.org/lager/v3"

	"github.com/forgecloud/podscaler/core/metrics"
	"github.com/forgecloud/podscaler/core/podlifecycle"
	"github.com/forgecloud/podscaler/core/types"
	"github.com/forgecloud/podscaler/tracing"
)

// processLoop advances pod states, assigns queued prompts to free pods,
// tears down stuck pods, and surfaces results: one logged, traced pass
// over the fleet every ServerCheckDelay.
func (s *Scheduler) processLoop(ctx context.Context) {
	interval := s.cfg.ServerCheckDelay
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	ctx, span := tracing.StartSpan(ctx, "scheduler.process_tick", nil)
	defer tracing.End(span, nil)
	logger := s.logger.Session("process-tick")

	s.mu.Lock()
	pods := make([]*podlifecycle.Pod, len(s.pods))
	copy(pods, s.pods)
	target := s.numPods
	fleetSize := len(s.pods)
	s.mu.Unlock()

	deadlines := podlifecycle.Deadlines{
		ServerCheckRetries: s.cfg.ServerCheckRetries,
		ColdTimeoutRetries: s.cfg.ColdTimeoutRetries,
		TimeoutRetries:     s.cfg.TimeoutRetries,
		FreeMaxRemains:     s.cfg.FreeMaxRemains,
	}

	type terminatedPod struct {
		pod    *podlifecycle.Pod
		reason string
	}
	var terminated []terminatedPod
	byState := make(map[types.PodState]int)

	for _, pod := range pods {
		s.mu.Lock()
		pod.Tick()
		state := pod.State

		switch state {
		case types.PodCompleted:
			s.settleCompleted(pod)
		case types.PodFree:
			if s.state == types.SchedulerRunning && len(s.queuedPrompts) > 0 {
				prompt := s.queuedPrompts[0]
				s.queuedPrompts = s.queuedPrompts[1:]
				s.processingPrompts[prompt.PromptID] = prompt
				pod.Bind(prompt)
				pod.Transition(types.PodProcessing)
				workCtx := s.workCtx
				// Add while still holding mu so the dispatch is ordered
				// against Stop's state flip and drain wait.
				s.workWG.Add(1)
				s.mu.Unlock()
				go func() {
					defer s.workWG.Done()
					s.runPrompt(workCtx, pod, prompt, false)
				}()
				byState[types.PodProcessing]++
				continue
			}
		}

		state = pod.State
		fleetOversize := state == types.PodFree && fleetSize > target
		if podlifecycle.Expired(pod, deadlines, fleetOversize) {
			reason := "deadline"
			if fleetOversize {
				reason = "free-oversize"
			}
			pod.Transition(types.PodTerminated)
			terminated = append(terminated, terminatedPod{pod: pod, reason: reason})
		}
		byState[pod.State]++
		s.mu.Unlock()
	}

	reasons := make(map[*podlifecycle.Pod]string, len(terminated))
	for _, tp := range terminated {
		reasons[tp.pod] = tp.reason
	}

	// Sweep for every Terminated pod, not just the ones this tick's
	// deadline check found: a pod's init task can mark itself Terminated
	// directly after a failed provisioning step (see abandonPod), and
	// that pod must still be destroyed and dropped from the fleet.
	s.mu.Lock()
	var toDestroy []terminatedPod
	kept := s.pods[:0]
	for _, p := range s.pods {
		if p.State == types.PodTerminated {
			reason, ok := reasons[p]
			if !ok {
				reason = "provider-error"
			}
			toDestroy = append(toDestroy, terminatedPod{pod: p, reason: reason})
			continue
		}
		kept = append(kept, p)
	}
	s.pods = kept
	s.mu.Unlock()

	for _, tp := range toDestroy {
		go func(p *podlifecycle.Pod, reason string) {
			destroyCtx, cancel := context.WithTimeout(context.Background(), s.cfg.DrainTimeout)
			defer cancel()
			if err := s.provisioner.Destroy(destroyCtx, p.ID); err != nil {
				logger.Error("destroy-failed", err, lager.Data{"pod": p.Name})
			}
			metrics.RecordPodTerminated(destroyCtx, reason)
		}(tp.pod, tp.reason)
	}

	for st, count := range byState {
		metrics.RecordPodsByState(ctx, st.String(), int64(count))
	}
	s.mu.Lock()
	queueDepth := len(s.queuedPrompts)
	s.mu.Unlock()
	metrics.RecordQueueDepth(ctx, int64(queueDepth))
}

// settleCompleted moves a Completed pod's current prompt into the
// completed/failed map and returns the pod to Free. Called with s.mu
// held.
func (s *Scheduler) settleCompleted(pod *podlifecycle.Pod) {
	prompt := pod.Unbind()
	if prompt != nil {
		delete(s.processingPrompts, prompt.PromptID)
		if prompt.Result != nil && prompt.Result.OutputState == types.OutputCompleted {
			s.completedPrompts[prompt.PromptID] = prompt
		} else {
			s.failedPrompts[prompt.PromptID] = prompt
		}
	}
	pod.Transition(types.PodFree)
}
