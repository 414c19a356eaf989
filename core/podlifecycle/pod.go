// Package podlifecycle implements the state machine around one
// provisioned GPU instance. A Pod processes at most one prompt at a
// time; the Scheduler is the sole mutator of a Pod's fields, serialized
// by its one mutex, while the background work a Pod triggers
// (provisioning, warm-up, prompt exchanges) runs on goroutines that
// report back through the scheduler rather than touching Pod fields
// directly.
package podlifecycle

import (
	"fmt"
	"time"

	"github.com/forgecloud/podscaler/core/types"
)

// Pod is one entry in the scheduler's fleet. Every field is read and
// written only while the scheduler holds its mutex; see core/scheduler.
type Pod struct {
	ID         string
	Name       string
	GPUType    types.GPUType
	VolumeType types.VolumeType

	// WarmupWorkflow selects the template used for this pod's warm-up
	// prompt; steady-state prompts assigned to it may use any
	// WorkflowType (the process loop does not match prompts to pods by
	// GPU class).
	WarmupWorkflow types.WorkflowType

	State types.PodState
	Info  types.PodInfo

	// Init is true until the warm-up prompt completes successfully; it
	// transitions true->false exactly once, never back.
	Init bool

	CurrentPrompt *types.Prompt

	// Count is the tick counter since the last state transition; reset
	// to zero on every Transition. Deadline checks compare it against
	// the per-state budgets in Deadlines.
	Count int

	CreatedAt time.Time
}

// New builds a Pod in its initial Initializing state. The caller (the
// scheduler) is responsible for assigning Name via provider.GeneratePodName
// and for dispatching the asynchronous provisioning task that drives
// the new Pod toward Free.
func New(gpuType types.GPUType, volumeType types.VolumeType, warmupWorkflow types.WorkflowType, name string) *Pod {
	return &Pod{
		Name:           name,
		GPUType:        gpuType,
		VolumeType:     volumeType,
		WarmupWorkflow: warmupWorkflow,
		State:          types.PodInitializing,
		Init:           true,
		CreatedAt:      time.Now(),
	}
}

// Transition moves the pod to a new state and resets its tick counter.
func (p *Pod) Transition(to types.PodState) {
	p.State = to
	p.Count = 0
}

// Tick increments the pod's tick counter. Called once per pod per
// process-loop iteration.
func (p *Pod) Tick() {
	p.Count++
}

// AcceptsPrompt reports whether this pod can currently be bound to a
// prompt: Free, or already Processing its own warm-up prompt.
func (p *Pod) AcceptsPrompt() bool {
	if p.State == types.PodFree {
		return true
	}
	return p.Init && p.State == types.PodProcessing
}

// Bind attaches prompt as the pod's current unit of work.
func (p *Pod) Bind(prompt *types.Prompt) {
	p.CurrentPrompt = prompt
}

// Unbind detaches and returns the pod's current prompt, leaving none
// bound.
func (p *Pod) Unbind() *types.Prompt {
	prompt := p.CurrentPrompt
	p.CurrentPrompt = nil
	return prompt
}

// CompleteWarmup clears Init, one-way. It is a no-op if warm-up already
// completed.
func (p *Pod) CompleteWarmup() {
	p.Init = false
}

func (p Pod) String() string {
	return fmt.Sprintf("Pod(%s/%s state=%s init=%t count=%d)", p.Name, p.ID, p.State, p.Init, p.Count)
}
