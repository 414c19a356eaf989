package podlifecycle

import "github.com/forgecloud/podscaler/core/types"

// Deadlines carries the tick budgets from config.Config that the
// scheduler checks against each Pod's Count on every process-loop
// tick. Kept as a narrow struct, rather than importing core/config
// directly, so this package has no dependency on the config loader --
// the scheduler is the only caller and already holds a config.Config
// to project into one of these.
type Deadlines struct {
	ServerCheckRetries int
	ColdTimeoutRetries int
	TimeoutRetries     int
	FreeMaxRemains     int
}

// Expired reports whether pod has overrun the deadline for its current
// state. fleetOversize additionally applies the Free+oversize rule,
// which is independent of Count.
func Expired(p *Pod, d Deadlines, fleetOversize bool) bool {
	switch p.State {
	case types.PodInitializing:
		return p.Count > d.TimeoutRetries
	case types.PodStarting:
		return p.Count > d.ServerCheckRetries
	case types.PodProcessing:
		if p.Init {
			return p.Count > d.ColdTimeoutRetries
		}
		return p.Count > d.TimeoutRetries
	case types.PodCompleted:
		return p.Count > d.FreeMaxRemains
	case types.PodFree:
		return fleetOversize
	default:
		return false
	}
}
