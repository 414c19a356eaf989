// Package provider talks to the remote GPU compute provider's REST API:
// provisioning pods, polling for their network endpoints, and tearing
// them down.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"code.cloudfoundry.org/lager/v3"
	"code.cloudfoundry.org/lager/v3/lagerctx"
	"github.com/cenkalti/backoff/v5"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/forgecloud/podscaler/core/types"
	"github.com/forgecloud/podscaler/tracing"
)

// Client is the interface the scheduler depends on for provisioning and
// reclaiming compute. Deliberately narrow: create, inspect, destroy.
//
//counterfeiter:generate . Client
type Client interface {
	// CreatePod provisions a new pod for the given GPU type and network
	// volume, returning the provider's opaque pod id.
	CreatePod(ctx context.Context, name string, gpuType types.GPUType, volumeID string) (string, error)

	// GetPodInfo fetches the pod's current network endpoints. Callers
	// poll this until PodInfo.Ready() is true or they give up.
	GetPodInfo(ctx context.Context, podID string) (types.PodInfo, error)

	// DeletePod terminates a pod. It is idempotent: deleting a pod that
	// the provider has already reclaimed is not an error.
	DeletePod(ctx context.Context, podID string) error

	// PatchEndpoint updates a serverless endpoint's worker-count bounds.
	// Unused by the pod-per-prompt dispatch path this repo implements,
	// but kept as a direct client call for deployments that front the
	// same fleet with a provider-managed serverless endpoint.
	PatchEndpoint(ctx context.Context, endpointID string, minWorkers, maxWorkers int) error
}

// defaultRESTURL is the provider's production REST endpoint.
const defaultRESTURL = "https://rest.runpod.io/v1"

// HTTPClient is a Client backed by the provider's REST API, using
// retryablehttp for transport-level retry (connection resets, 5xx) and
// backoff/v5 for a bounded retry of each whole request in do().
// GetPodInfo itself is a single request; waiting for a pod's endpoints
// is left to the caller, paced by RetryDelay.
type HTTPClient struct {
	apiKey  string
	restURL string
	http    *retryablehttp.Client
}

// ClientOption customizes an HTTPClient built by NewHTTPClient.
type ClientOption func(*HTTPClient)

// WithRESTURL points the client at an alternate REST endpoint. Used by
// tests to target an httptest.Server instead of the production API.
func WithRESTURL(url string) ClientOption {
	return func(c *HTTPClient) { c.restURL = url }
}

// NewHTTPClient builds an HTTPClient. apiKey is sent as a Bearer token
// on every request.
func NewHTTPClient(apiKey string, opts ...ClientOption) *HTTPClient {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 4
	rc.Logger = nil // the lager logger on ctx is used instead; see do()
	c := &HTTPClient{apiKey: apiKey, restURL: defaultRESTURL, http: rc}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ Client = (*HTTPClient)(nil)

func (c *HTTPClient) CreatePod(ctx context.Context, name string, gpuType types.GPUType, volumeID string) (podID string, err error) {
	ctx, span := tracing.StartSpan(ctx, "provider.create_pod", tracing.Attrs{
		"pod-name": name,
		"gpu-type": string(gpuType),
	})
	defer func() { tracing.End(span, err) }()

	body := map[string]any{
		"name":              name,
		"gpuTypeId":         string(gpuType),
		"networkVolumeId":   volumeID,
		"cloudType":         "SECURE",
		"containerDiskInGb": 20,
		"ports":             "8188/http,22/tcp",
	}

	var resp struct {
		ID string `json:"id"`
	}
	if err = c.do(ctx, "create_pod", http.MethodPost, c.restURL+"/pods", body, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (c *HTTPClient) GetPodInfo(ctx context.Context, podID string) (info types.PodInfo, err error) {
	ctx, span := tracing.StartSpan(ctx, "provider.get_pod_info", tracing.Attrs{"pod-id": podID})
	defer func() { tracing.End(span, err) }()

	var resp struct {
		PublicIP     string         `json:"publicIp"`
		PortMappings map[string]int `json:"portMappings"`
	}
	if err = c.do(ctx, "get_pod_info", http.MethodGet, fmt.Sprintf("%s/pods/%s", c.restURL, podID), nil, &resp); err != nil {
		return types.PodInfo{}, err
	}
	return types.PodInfo{PublicIP: resp.PublicIP, PortMappings: resp.PortMappings}, nil
}

func (c *HTTPClient) DeletePod(ctx context.Context, podID string) (err error) {
	ctx, span := tracing.StartSpan(ctx, "provider.delete_pod", tracing.Attrs{"pod-id": podID})
	defer func() { tracing.End(span, err) }()

	err = c.do(ctx, "delete_pod", http.MethodDelete, fmt.Sprintf("%s/pods/%s", c.restURL, podID), nil, nil)
	if isNotFound(err) {
		return nil
	}
	return err
}

func (c *HTTPClient) PatchEndpoint(ctx context.Context, endpointID string, minWorkers, maxWorkers int) (err error) {
	ctx, span := tracing.StartSpan(ctx, "provider.patch_endpoint", tracing.Attrs{"endpoint-id": endpointID})
	defer func() { tracing.End(span, err) }()

	body := map[string]any{
		"workersMin": minWorkers,
		"workersMax": maxWorkers,
	}
	return c.do(ctx, "patch_endpoint", http.MethodPatch, fmt.Sprintf("%s/endpoints/%s", c.restURL, endpointID), body, nil)
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var provErr *Error
	if errors.As(err, &provErr) {
		return provErr.StatusCode == http.StatusNotFound
	}
	return false
}

// do performs a single JSON request/response round trip, retrying
// transient failures via backoff/v5 on top of retryablehttp's
// connection-level retries. retryablehttp handles resets and
// connection-refused; the outer backoff.Retry handles the provider's
// own 429/5xx application errors, which retryablehttp's default
// policy also retries but which we want bounded per-call rather than
// only per-TCP-attempt.
func (c *HTTPClient) do(ctx context.Context, op, method, url string, reqBody, respBody any) error {
	logger := lagerctx.FromContext(ctx).Session("provider-request", lager.Data{"op": op})

	operation := func() (*http.Response, error) {
		var reader io.Reader
		if reqBody != nil {
			buf, err := json.Marshal(reqBody)
			if err != nil {
				return nil, backoff.Permanent(fmt.Errorf("marshal request: %w", err))
			}
			reader = bytes.NewReader(buf)
		}

		req, err := retryablehttp.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("build request: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, wrapIfTransient(err)
		}
		return resp, nil
	}

	resp, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(3),
	)
	if err != nil {
		logger.Error("request-failed", err)
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		provErr := &Error{Op: op, StatusCode: resp.StatusCode, Body: string(data)}
		return wrapIfTransient(provErr)
	}

	if respBody == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, respBody); err != nil {
		return fmt.Errorf("decoding %s response: %w", op, err)
	}
	return nil
}

// RetryDelay is how long the readiness polls in core/podlifecycle wait
// between attempts while a pod is Starting (endpoint and inference
// server checks).
func RetryDelay() time.Duration {
	return 2 * time.Second
}
