// Package scheduler implements the pod manager: it owns the prompt
// queue, the pod fleet, the demand predictor, and the
// state-progression/timeout loop, and exposes the blocking QueuePrompt
// entry point the PromptAPI surface calls. Two independent loops run in
// the background -- a manage loop that sizes the fleet and a process
// loop that advances pod states -- both mutating shared state under a
// single mutex.
package scheduler

import (
	"context"
	"strconv"
	"sync"
	"time"

	"code.cloudfoundry.org/lager/v3"
	"code.cloudfoundry.org/lager/v3/lagerctx"
	"github.com/google/uuid"

	"github.com/forgecloud/podscaler/core/config"
	"github.com/forgecloud/podscaler/core/inference"
	"github.com/forgecloud/podscaler/core/metrics"
	"github.com/forgecloud/podscaler/core/podlifecycle"
	"github.com/forgecloud/podscaler/core/provider"
	"github.com/forgecloud/podscaler/core/sshexec"
	"github.com/forgecloud/podscaler/core/types"
)

// historyCapacity bounds the load-sample ring the demand predictor
// reads from.
const historyCapacity = 30

// Scheduler is the pod lifecycle manager and work scheduler. Every
// field below the mu line is read and written only while mu is held,
// except during construction.
type Scheduler struct {
	cfg    config.Config
	logger lager.Logger

	provisioner *podlifecycle.Provisioner
	inference   inference.Client

	mu sync.Mutex

	pods []*podlifecycle.Pod

	queuedPrompts     []*types.Prompt
	processingPrompts map[string]*types.Prompt
	completedPrompts  map[string]*types.Prompt
	failedPrompts     map[string]*types.Prompt

	history    *ring
	gpuHistory map[types.GPUType]*ring
	numPods    int

	state types.SchedulerState
	nonce int

	// workCtx is the context prompt and provisioning workers run under.
	// Deliberately detached from Start's ctx: a shutdown signal cancels
	// the loops right away, but workers keep running until Stop's drain
	// window has elapsed and cancelWork fires.
	workCtx    context.Context
	cancel     context.CancelFunc
	cancelWork context.CancelFunc

	wg     sync.WaitGroup
	workWG sync.WaitGroup
}

// New builds a Scheduler in the Stopped state; call Start to arm its
// loops. provider and remote are the collaborators a Provisioner wraps;
// inferenceClient drives each pod's prompt exchanges.
func New(cfg config.Config, logger lager.Logger, providerClient provider.Client, inferenceClient inference.Client, remote sshexec.Remote, outputDirectory string) *Scheduler {
	return &Scheduler{
		cfg:    cfg,
		logger: logger.Session("scheduler"),
		provisioner: &podlifecycle.Provisioner{
			Provider:        providerClient,
			Remote:          remote,
			OutputDirectory: outputDirectory,
		},
		inference:         inferenceClient,
		processingPrompts: make(map[string]*types.Prompt),
		completedPrompts:  make(map[string]*types.Prompt),
		failedPrompts:     make(map[string]*types.Prompt),
		history:           newRing(historyCapacity),
		gpuHistory:        make(map[types.GPUType]*ring),
		state:             types.SchedulerStopped,
	}
}

// Snapshot is GetState's result: a point-in-time view of fleet and
// queue sizes safe to read without the scheduler's mutex.
type Snapshot struct {
	State             types.SchedulerState
	PodsByState       map[types.PodState]int
	QueuedPrompts     int
	ProcessingPrompts int
	CompletedPrompts  int
	FailedPrompts     int
	TargetPods        int
}

// Start arms the manage and process loops, transitioning to Running. It
// is idempotent: calling Start on an already-running Scheduler is a
// no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.state == types.SchedulerRunning {
		s.mu.Unlock()
		return
	}
	s.state = types.SchedulerRunning

	loopCtx, cancel := context.WithCancel(ctx)
	workCtx, cancelWork := context.WithCancel(lagerctx.NewContext(context.Background(), s.logger))
	s.cancel = cancel
	s.cancelWork = cancelWork
	s.workCtx = workCtx
	s.mu.Unlock()

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.manageLoop(loopCtx)
	}()
	go func() {
		defer s.wg.Done()
		s.processLoop(loopCtx)
	}()

	s.logger.Info("started")
}

// Stop transitions to Stopped: scheduling of new work halts right away,
// in-flight prompt workers get up to DrainTimeout to publish a real
// result (the loops keep settling worker outcomes through the window so
// callers blocked in QueuePrompt can still collect them), then the hard
// cancel fires, every pod is destroyed, and all queues/maps are cleared.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.state == types.SchedulerStopped {
		s.mu.Unlock()
		return
	}
	s.state = types.SchedulerStopped
	cancel := s.cancel
	cancelWork := s.cancelWork
	s.mu.Unlock()

	s.drain()

	if cancel != nil {
		cancel()
	}
	if cancelWork != nil {
		cancelWork()
	}
	s.workWG.Wait()
	s.wg.Wait()

	s.mu.Lock()
	pods := s.pods
	s.pods = nil
	s.queuedPrompts = nil
	s.processingPrompts = make(map[string]*types.Prompt)
	s.completedPrompts = make(map[string]*types.Prompt)
	s.failedPrompts = make(map[string]*types.Prompt)
	s.history = newRing(historyCapacity)
	s.gpuHistory = make(map[types.GPUType]*ring)
	s.numPods = 0
	s.mu.Unlock()

	destroyCtx, cancelDestroy := context.WithTimeout(context.Background(), s.cfg.DrainTimeout)
	defer cancelDestroy()
	for _, p := range pods {
		if err := s.provisioner.Destroy(destroyCtx, p.ID); err != nil {
			s.logger.Error("destroy-on-stop-failed", err, lager.Data{"pod": p.Name})
		}
		metrics.RecordPodTerminated(destroyCtx, "stop")
	}

	s.logger.Info("stopped")
}

// drain is Stop's grace window: it first waits up to DrainTimeout for
// in-flight workers (which run under workCtx, not the loop context) to
// finish, then spends whatever remains of the window settling their
// outcomes into the result maps and waiting for blocked QueuePrompt
// callers to collect them. It settles Completed pods itself rather
// than leaving that to the process loop, because on the signal-driven
// shutdown path the loop context is already cancelled by the time Stop
// runs.
func (s *Scheduler) drain() {
	deadline := time.NewTimer(s.cfg.DrainTimeout)
	defer deadline.Stop()

	workersDone := make(chan struct{})
	go func() {
		s.workWG.Wait()
		close(workersDone)
	}()
	select {
	case <-workersDone:
	case <-deadline.C:
		s.logger.Info("drain-timeout-elapsed")
		return
	}

	pollInterval := s.cfg.ServerCheckDelay
	if pollInterval <= 0 {
		pollInterval = 50 * time.Millisecond
	}
	for {
		s.mu.Lock()
		for _, p := range s.pods {
			if p.State == types.PodCompleted {
				s.settleCompleted(p)
			}
		}
		outstanding := len(s.completedPrompts) + len(s.failedPrompts)
		s.mu.Unlock()
		if outstanding == 0 {
			return
		}
		select {
		case <-deadline.C:
			s.logger.Info("drain-timeout-elapsed")
			return
		case <-time.After(pollInterval):
		}
	}
}

// Restart re-arms the loops after a Stop, resetting state to Running
// with empty queues and an empty fleet -- observably the same as a
// fresh instance.
func (s *Scheduler) Restart(ctx context.Context) {
	s.Start(ctx)
}

// GetState returns a snapshot of fleet and queue sizes.
func (s *Scheduler) GetState() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	byState := make(map[types.PodState]int)
	for _, st := range types.AllPodStates() {
		byState[st] = 0
	}
	for _, p := range s.pods {
		byState[p.State]++
	}

	return Snapshot{
		State:             s.state,
		PodsByState:       byState,
		QueuedPrompts:     len(s.queuedPrompts),
		ProcessingPrompts: len(s.processingPrompts),
		CompletedPrompts:  len(s.completedPrompts),
		FailedPrompts:     len(s.failedPrompts),
		TargetPods:        s.numPods,
	}
}

// nextNonce returns a fresh per-pod nonce for provider.GeneratePodName,
// combining a monotonic ordinal with a random suffix so concurrently
// provisioned pods never collide even if nonce generation races.
func (s *Scheduler) nextNonce() string {
	s.mu.Lock()
	s.nonce++
	ordinal := s.nonce
	s.mu.Unlock()
	return strconv.Itoa(ordinal) + uuid.NewString()
}
