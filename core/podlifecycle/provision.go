package podlifecycle

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"code.cloudfoundry.org/lager/v3"
	"code.cloudfoundry.org/lager/v3/lagerctx"

	"github.com/forgecloud/podscaler/core/provider"
	"github.com/forgecloud/podscaler/core/sshexec"
	"github.com/forgecloud/podscaler/core/types"
	"github.com/forgecloud/podscaler/tracing"
)

// Provisioner drives a Pod's Initializing->Starting->Processing(warm-up)
// path: asking the remote compute provider for an instance, waiting for
// its network endpoints, bootstrapping the inference server over SSH,
// then confirming it answers HTTP requests. The scheduler calls these
// methods from a goroutine it owns and applies the outcome under its
// mutex, rather than letting the Pod mutate its own fields from a
// foreign goroutine.
type Provisioner struct {
	Provider provider.Client
	Remote   sshexec.Remote

	OutputDirectory string
}

// CreatePod asks the provider for a new instance. Corresponds to the
// Initializing state.
func (pv *Provisioner) CreatePod(ctx context.Context, name string, gpuType types.GPUType, volumeID string) (string, error) {
	return pv.Provider.CreatePod(ctx, name, gpuType, volumeID)
}

// AwaitReady polls GetPodInfo until the provider reports the pod's
// network endpoints, or retries is exhausted. Corresponds to the
// network-readiness half of the Starting state.
func (pv *Provisioner) AwaitReady(ctx context.Context, podID string, retries int, pollEvery time.Duration) (types.PodInfo, error) {
	for attempt := 0; attempt < retries; attempt++ {
		info, err := pv.Provider.GetPodInfo(ctx, podID)
		if err != nil {
			return types.PodInfo{}, err
		}
		if info.Ready() {
			return info, nil
		}

		select {
		case <-ctx.Done():
			return types.PodInfo{}, ctx.Err()
		case <-time.After(pollEvery):
		}
	}
	return types.PodInfo{}, fmt.Errorf("pod %s not ready after %d attempts", podID, retries)
}

// Bootstrap runs the SSH setup sequence that installs and launches the
// inference server on a freshly ready pod.
func (pv *Provisioner) Bootstrap(ctx context.Context, info types.PodInfo) error {
	return sshexec.SetupComfyUI(ctx, pv.Remote, info, pv.OutputDirectory)
}

// AwaitInferenceHTTP polls the inference server's root endpoint until
// it answers or retries is exhausted. Corresponds to the
// server-readiness half of the Starting state -- the server takes a
// few seconds to bind its port even after SetupComfyUI's screen
// session starts it.
func (pv *Provisioner) AwaitInferenceHTTP(ctx context.Context, info types.PodInfo, retries int, pollEvery time.Duration) error {
	url := fmt.Sprintf("http://%s:%d/", info.PublicIP, info.InferencePort())
	client := &http.Client{Timeout: pollEvery}

	for attempt := 0; attempt < retries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err == nil {
			if resp, err := client.Do(req); err == nil {
				resp.Body.Close()
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollEvery):
		}
	}
	return fmt.Errorf("inference server at %s did not respond after %d attempts", url, retries)
}

// Destroy tears down a provisioned pod. Best-effort: the provider's
// DeletePod is idempotent, so a pod already gone is not an error.
func (pv *Provisioner) Destroy(ctx context.Context, podID string) (err error) {
	if podID == "" {
		return nil
	}
	ctx, span := tracing.StartSpan(ctx, "podlifecycle.destroy", tracing.Attrs{"pod-id": podID})
	defer func() { tracing.End(span, err) }()

	logger := lagerctx.FromContext(ctx).Session("pod-destroy", lager.Data{"pod-id": podID})
	if err = pv.Provider.DeletePod(ctx, podID); err != nil {
		logger.Error("delete-pod-failed", err)
		return err
	}
	return nil
}
