// Package config loads the dispatcher's runtime configuration from the
// environment: a plain struct with defaults, populated via struct tags.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/forgecloud/podscaler/core/types"
	"github.com/forgecloud/podscaler/tracing"
)

// Config holds every tunable the dispatcher reads at startup.
type Config struct {
	RunpodAPIKey     string `env:"RUNPOD_API,required"`
	OriginImageURL   string `env:"ORIGIN_IMAGE_URL"`
	OutputDirectory  string `env:"OUTPUT_DIRECTORY" envDefault:"/workspace/output"`

	// SSHPrivateKeyPath points at the PEM-encoded key used to
	// authenticate against every pod's SSH endpoint.
	SSHPrivateKeyPath string `env:"SSH_PRIVATE_KEY_PATH" envDefault:"/workspace/runpod.pem"`

	ServerCheckRetries int `env:"SERVER_CHECK_RETRIES" envDefault:"6000"`
	ColdTimeoutRetries int `env:"COLD_TIMEOUT_RETRIES" envDefault:"2400"`
	TimeoutRetries     int `env:"TIMEOUT_RETRIES" envDefault:"600"`
	FreeMaxRemains     int `env:"FREE_MAX_REMAINS" envDefault:"200"`

	ServerCheckDelay time.Duration `env:"SERVER_CHECK_DELAY_MS" envDefault:"50ms"`

	MinPods int `env:"MIN_PODS" envDefault:"1"`
	MaxPods int `env:"MAX_PODS" envDefault:"10"`

	// ScalingSensivity is 0..100: the weight given to peak load vs average
	// load in the demand predictor. Spelled to match the historical env
	// var name verbatim (SCALING_SENSIVITY, not "SENSITIVITY").
	ScalingSensivity int `env:"SCALING_SENSIVITY" envDefault:"50"`

	// MaxQueueDepth bounds the prompt queue; admission over the cap fails
	// immediately with "backpressure". 0 means derive a default from
	// MaxPods-scale headroom in Load().
	MaxQueueDepth int `env:"MAX_QUEUE_DEPTH" envDefault:"0"`

	// DrainTimeout bounds the grace window Stop gives in-flight prompts
	// before the hard cancel.
	DrainTimeout time.Duration `env:"DRAIN_TIMEOUT" envDefault:"10s"`

	// VolumeIDs maps VolumeType to the provider's network-volume id, read
	// from VOLUME_ID0, VOLUME_ID1, ... one per types.VolumeType value.
	VolumeIDs map[types.VolumeType]string `env:"-"`

	Tracing tracing.Config
}

// managePollInterval is the manage loop's fixed period. Fleet sizing
// doesn't need to react faster than pods can actually provision, so it
// is not independently configurable.
const managePollInterval = 2 * time.Second

// ManagePollInterval returns the manage loop's period.
func (c Config) ManagePollInterval() time.Duration {
	return managePollInterval
}

// Load reads Config from the process environment, then fills in
// VolumeIDs and any derived defaults.
func Load() (Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, fmt.Errorf("parsing environment: %w", err)
	}
	return finalize(c)
}

func finalize(c Config) (Config, error) {
	c.VolumeIDs = loadVolumeIDs()
	if c.MaxQueueDepth <= 0 {
		c.MaxQueueDepth = c.MaxPods * 64
	}
	if c.MinPods < 0 || c.MaxPods < c.MinPods {
		return Config{}, fmt.Errorf("invalid pod bounds: MIN_PODS=%d MAX_PODS=%d", c.MinPods, c.MaxPods)
	}
	if c.ScalingSensivity < 0 || c.ScalingSensivity > 100 {
		return Config{}, fmt.Errorf("SCALING_SENSIVITY must be in [0,100], got %d", c.ScalingSensivity)
	}
	return c, nil
}

// loadVolumeIDs reads VOLUME_ID{n} for every known VolumeType directly
// (env.Parse can't bind a map keyed by an enum), skipping types whose
// variable is unset so VolumeID(t) can report the precise missing key.
func loadVolumeIDs() map[types.VolumeType]string {
	ids := make(map[types.VolumeType]string)
	for _, vt := range []types.VolumeType{types.VolumeDefault, types.VolumeEasyControl} {
		key := fmt.Sprintf("VOLUME_ID%d", int(vt))
		if v, ok := os.LookupEnv(key); ok && v != "" {
			ids[vt] = v
		}
	}
	return ids
}

// VolumeID returns the network-volume id configured for vt.
func (c Config) VolumeID(vt types.VolumeType) (string, error) {
	id, ok := c.VolumeIDs[vt]
	if !ok || id == "" {
		return "", fmt.Errorf("no VOLUME_ID%d configured for volume type %v", int(vt), vt)
	}
	return id, nil
}
