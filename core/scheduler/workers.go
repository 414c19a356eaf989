package scheduler

import (
	"context"
	"errors"
	"time"

	"code.cloudfoundry.org/lager/v3"

	"github.com/forgecloud/podscaler/core/inference"
	"github.com/forgecloud/podscaler/core/metrics"
	"github.com/forgecloud/podscaler/core/podlifecycle"
	"github.com/forgecloud/podscaler/core/provider"
	"github.com/forgecloud/podscaler/core/types"
	"github.com/forgecloud/podscaler/tracing"
)

// spawnPod provisions one new pod of the given GPU class: it records
// the Pod immediately in Initializing state so the process loop's
// deadline rules cover it from tick one, then launches its
// asynchronous init task on the worker context so a shutdown signal
// doesn't abort it before Stop's drain window has run.
func (s *Scheduler) spawnPod(gpuType types.GPUType) {
	warmup := warmupWorkflowFor(gpuType)
	name := provider.GeneratePodName(warmup, gpuType, s.nextNonce())
	pod := podlifecycle.New(gpuType, volumeTypeFor(gpuType), warmup, name)

	s.mu.Lock()
	if s.state != types.SchedulerRunning {
		// Stop won the race between the manage tick's sizing pass and
		// this spawn; don't start a worker the drain can no longer see.
		s.mu.Unlock()
		return
	}
	s.pods = append(s.pods, pod)
	workCtx := s.workCtx
	s.workWG.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.workWG.Done()
		s.initPod(workCtx, pod)
	}()
}

// initPod drives pod from Initializing through Starting into its
// warm-up Processing run. Every state write happens under the
// scheduler mutex; the blocking provisioning calls themselves run
// outside it.
func (s *Scheduler) initPod(ctx context.Context, pod *podlifecycle.Pod) {
	logger := s.logger.Session("init-pod", lager.Data{"pod": pod.Name})
	ctx, span := tracing.StartSpan(ctx, "scheduler.init_pod", tracing.Attrs{"pod": pod.Name, "gpu-type": string(pod.GPUType)})
	var err error
	defer func() { tracing.End(span, err) }()

	volumeID, err := s.cfg.VolumeID(pod.VolumeType)
	if err != nil {
		logger.Error("no-volume-id", err)
		s.abandonPod(pod)
		return
	}

	podID, err := s.provisioner.CreatePod(ctx, pod.Name, pod.GPUType, volumeID)
	if err != nil {
		logger.Error("create-pod-failed", err)
		s.abandonPod(pod)
		return
	}

	if !s.setPodID(pod, podID) {
		return // abandoned while we were creating it
	}

	s.transitionIfTracked(pod, types.PodStarting)

	info, err := s.provisioner.AwaitReady(ctx, podID, s.cfg.ServerCheckRetries, provider.RetryDelay())
	if err != nil {
		logger.Error("await-ready-failed", err)
		s.abandonPod(pod)
		return
	}
	if !s.setPodInfo(pod, info) {
		return
	}

	if err = s.provisioner.Bootstrap(ctx, info); err != nil {
		logger.Error("bootstrap-failed", err)
		s.abandonPod(pod)
		return
	}

	if err = s.provisioner.AwaitInferenceHTTP(ctx, info, s.cfg.ServerCheckRetries, provider.RetryDelay()); err != nil {
		logger.Error("await-inference-http-failed", err)
		s.abandonPod(pod)
		return
	}

	warmupPrompt := &types.Prompt{
		PromptID:     pod.Name + "-warmup",
		WorkflowType: pod.WarmupWorkflow,
		InputURL:     s.cfg.OriginImageURL,
		GPUType:      pod.GPUType,
	}
	if !s.beginWarmup(pod, warmupPrompt) {
		return
	}

	s.runPrompt(ctx, pod, warmupPrompt, true)
}

// runPrompt drives one InferenceClient.Prompt exchange for pod and
// publishes the result: writes prompt.Result, then moves the pod to
// Completed (steady state) or back to Free (successful warm-up).
func (s *Scheduler) runPrompt(ctx context.Context, pod *podlifecycle.Pod, prompt *types.Prompt, isWarmup bool) {
	logger := s.logger.Session("run-prompt", lager.Data{"pod": pod.Name, "prompt-id": prompt.PromptID, "warmup": isWarmup})
	ctx, span := tracing.StartSpan(ctx, "scheduler.run_prompt", tracing.Attrs{"pod": pod.Name, "prompt-id": prompt.PromptID})

	retries := s.cfg.TimeoutRetries
	if isWarmup {
		retries = s.cfg.ColdTimeoutRetries
	}

	s.mu.Lock()
	info := pod.Info
	s.mu.Unlock()

	output, err := s.inference.Prompt(ctx, info, *prompt, isWarmup, retries, s.cfg.ServerCheckDelay)
	tracing.End(span, err)

	if err != nil {
		logger.Error("prompt-failed", err)
		prompt.Result = &types.PromptResult{PromptID: prompt.PromptID, OutputState: types.OutputFailed, Reason: reasonFor(err)}
	} else {
		prompt.Result = &types.PromptResult{PromptID: prompt.PromptID, OutputState: types.OutputCompleted, Output: output}
	}

	if isWarmup {
		s.finishWarmup(pod, prompt, err == nil)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.tracks(pod) {
		return // abandoned mid-flight; result discarded
	}
	pod.Transition(types.PodCompleted)
}

// reasonFor extracts a human-readable failure reason for a
// PromptResult. For ExecutionFailed and Timeout it surfaces the bare
// message ("boom", "Time out error") rather than the wrapped
// "inference: <kind>: prompt <id>: ..." form Error() produces for
// logging.
func reasonFor(err error) string {
	var infErr *inference.Error
	if errors.As(err, &infErr) {
		if infErr.Kind == inference.KindTimeout {
			return "Time out error"
		}
		if infErr.Cause != nil {
			return infErr.Cause.Error()
		}
		return infErr.Error()
	}
	return err.Error()
}

// tracks reports whether pod is still in the fleet. Must be called with
// s.mu held.
func (s *Scheduler) tracks(pod *podlifecycle.Pod) bool {
	for _, p := range s.pods {
		if p == pod {
			return true
		}
	}
	return false
}

func (s *Scheduler) setPodID(pod *podlifecycle.Pod, podID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.tracks(pod) {
		return false
	}
	pod.ID = podID
	return true
}

func (s *Scheduler) setPodInfo(pod *podlifecycle.Pod, info types.PodInfo) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.tracks(pod) {
		return false
	}
	pod.Info = info
	return true
}

func (s *Scheduler) transitionIfTracked(pod *podlifecycle.Pod, to types.PodState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.tracks(pod) {
		return false
	}
	pod.Transition(to)
	return true
}

func (s *Scheduler) beginWarmup(pod *podlifecycle.Pod, prompt *types.Prompt) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.tracks(pod) {
		return false
	}
	pod.Init = true
	pod.Bind(prompt)
	pod.Transition(types.PodProcessing)
	return true
}

func (s *Scheduler) finishWarmup(pod *podlifecycle.Pod, prompt *types.Prompt, succeeded bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.tracks(pod) {
		return
	}
	pod.Unbind()
	if succeeded {
		pod.CompleteWarmup()
		pod.Transition(types.PodFree)
		metrics.RecordPodProvisioned(context.Background(), string(pod.GPUType))
		metrics.RecordPodProvisionDuration(context.Background(), time.Since(pod.CreatedAt), string(pod.GPUType))
	} else {
		// Warm-up failure: the pod never proved healthy; retire it
		// outright rather than returning it to the Free pool.
		pod.Transition(types.PodTerminated)
	}
}

// abandonPod marks pod Terminated after a provisioning step fails,
// unless it has already been removed by a deadline (in which case
// there is nothing left to mark).
func (s *Scheduler) abandonPod(pod *podlifecycle.Pod) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.tracks(pod) {
		return
	}
	pod.Transition(types.PodTerminated)
}
