// Package types holds the data model shared by every component of the
// dispatcher: the prompt queue entries, the pod metadata returned by the
// remote compute provider, and the small enums that tag them.
package types

import "fmt"

// GPUType identifies which GPU SKU a pod should be provisioned with.
type GPUType string

const (
	GPURTX4090  GPUType = "NVIDIA RTX 4090"
	GPURTXA6000 GPUType = "NVIDIA RTX A6000"
)

// VolumeType selects which pre-baked network volume a pod mounts. Each
// value maps to a VOLUME_ID{n} environment variable (core/config).
type VolumeType int

const (
	VolumeDefault VolumeType = iota
	VolumeEasyControl
)

// WorkflowType selects which workflow template a prompt is rendered
// against. The value is also the lookup key into the on-disk workflow
// store (workflows/<name>.json).
type WorkflowType string

const (
	WorkflowGhibli     WorkflowType = "Ghibli"
	WorkflowSnoopy     WorkflowType = "Snoopy"
	WorkflowMagicVideo WorkflowType = "MagicVideo"
)

// IsVideo reports whether this workflow produces a gif/video artifact
// rather than a still image. Used by the inference client to decide
// whether to look for "images" or "gifs" in the history response.
func (w WorkflowType) IsVideo() bool {
	return w == WorkflowMagicVideo
}

// OutputState is the terminal disposition of a Prompt.
type OutputState int

const (
	OutputUnset OutputState = iota
	OutputCompleted
	OutputFailed
)

func (s OutputState) String() string {
	switch s {
	case OutputCompleted:
		return "completed"
	case OutputFailed:
		return "failed"
	default:
		return "unset"
	}
}

// PromptResult is the outcome of one queued prompt. Output holds the
// produced artifact bytes when OutputState is OutputCompleted; Reason
// holds a human-readable failure reason when OutputFailed.
type PromptResult struct {
	PromptID    string
	OutputState OutputState
	Output      []byte
	Reason      string
}

// Prompt is one unit of client-requested work. Result is nil until a
// Pod worker sets it exactly once. The scheduler's timeout paths do not
// set it: a pod terminated at its deadline leaves its bound prompt's
// Result nil, and QueuePrompt returns its own synthesized Failed result
// once its wait runs out.
type Prompt struct {
	PromptID     string
	WorkflowType WorkflowType
	InputURL     string
	GPUType      GPUType
	Result       *PromptResult
}

// PortMappings maps an internal container port (as a string, e.g. "8188")
// to the external port the provider has exposed it on.
type PortMappings map[string]int

// PodInfo is populated once the remote provider has scheduled a pod and
// exposed its network endpoints. It is immutable once set.
type PodInfo struct {
	PublicIP     string
	PortMappings PortMappings
}

// Ready reports whether the provider has assigned both a public address
// and the port mappings the dispatcher depends on (8188 for inference,
// 22 for the setup shell).
func (i PodInfo) Ready() bool {
	if i.PublicIP == "" || i.PortMappings == nil {
		return false
	}
	_, hasInference := i.PortMappings["8188"]
	_, hasSSH := i.PortMappings["22"]
	return hasInference && hasSSH
}

// InferencePort returns the external port mapped to the inference
// server's internal port 8188, defaulting to 8188 itself if unmapped.
func (i PodInfo) InferencePort() int {
	if p, ok := i.PortMappings["8188"]; ok {
		return p
	}
	return 8188
}

// SSHPort returns the external port mapped to the pod's internal SSH
// port 22, defaulting to 22 itself if unmapped.
func (i PodInfo) SSHPort() int {
	if p, ok := i.PortMappings["22"]; ok {
		return p
	}
	return 22
}

func (i PodInfo) String() string {
	return fmt.Sprintf("%s (inference=%d ssh=%d)", i.PublicIP, i.InferencePort(), i.SSHPort())
}
