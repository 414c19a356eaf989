// Package inference drives the embedded ComfyUI-compatible server that
// runs on each provisioned pod: it patches a workflow template with the
// prompt's input, queues it over HTTP, tracks progress over a
// bidirectional message stream, fetches the produced artifact, and
// normalizes it to JPEG.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"code.cloudfoundry.org/lager/v3"
	"code.cloudfoundry.org/lager/v3/lagerctx"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/forgecloud/podscaler/core/types"
	"github.com/forgecloud/podscaler/tracing"
)

// Client is the interface the pod lifecycle manager depends on to drive
// one prompt to completion against a pod's inference server.
//
//counterfeiter:generate . Client
type Client interface {
	// Prompt queues p's workflow against the server at info, tracks it to
	// completion, and returns the normalized output bytes (JPEG for image
	// workflows, raw bytes for video/gif workflows). retries counts
	// pollInterval ticks: the stream is read for at most retries *
	// pollInterval before giving up with a Timeout error; callers pass the
	// cold-start budget when isWarmup, the steady-state budget otherwise.
	Prompt(ctx context.Context, info types.PodInfo, p types.Prompt, isWarmup bool, retries int, pollInterval time.Duration) ([]byte, error)
}

// HTTPClient is a Client backed by plain HTTP + a gorilla/websocket
// message stream, against the server's /prompt, /history, /view, and
// /ws endpoints.
type HTTPClient struct {
	httpClient *http.Client
	dialer     *websocket.Dialer
	store      *workflowStore
}

// NewHTTPClient builds an HTTPClient that loads workflow templates from
// workflowDir (one <WorkflowType>.json file per template).
func NewHTTPClient(workflowDir string) *HTTPClient {
	return &HTTPClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		dialer:     websocket.DefaultDialer,
		store:      newWorkflowStore(workflowDir),
	}
}

var _ Client = (*HTTPClient)(nil)

func (c *HTTPClient) Prompt(ctx context.Context, info types.PodInfo, p types.Prompt, isWarmup bool, retries int, pollInterval time.Duration) (out []byte, err error) {
	ctx, span := tracing.StartSpan(ctx, "inference.prompt", tracing.Attrs{
		"prompt-id":     p.PromptID,
		"workflow-type": string(p.WorkflowType),
		"warmup":        fmt.Sprintf("%t", isWarmup),
	})
	defer func() { tracing.End(span, err) }()

	logger := lagerctx.FromContext(ctx).Session("inference-prompt", lager.Data{"prompt-id": p.PromptID})

	graph, err := c.store.get(p.WorkflowType)
	if err != nil {
		return nil, err
	}
	if err := applyInput(graph, p.InputURL); err != nil {
		return nil, &Error{Kind: KindWorkflowMissing, PromptID: p.PromptID, Cause: err}
	}

	baseURL := fmt.Sprintf("http://%s:%d", info.PublicIP, info.InferencePort())
	clientID := uuid.NewString()

	conn, err := c.openStream(ctx, info, clientID)
	if err != nil {
		return nil, &Error{Kind: KindStreamBroken, PromptID: p.PromptID, Cause: err}
	}
	defer conn.Close()

	remotePromptID, err := c.enqueue(ctx, baseURL, graph, clientID)
	if err != nil {
		return nil, &Error{Kind: KindQueueFailed, PromptID: p.PromptID, Cause: err}
	}

	if err := c.awaitCompletion(ctx, conn, remotePromptID, retries, pollInterval); err != nil {
		return nil, err
	}

	descriptor, err := c.firstOutput(ctx, baseURL, remotePromptID, p.WorkflowType.IsVideo())
	if err != nil {
		return nil, err
	}

	data, err := c.fetchView(ctx, baseURL, descriptor)
	if err != nil {
		return nil, &Error{Kind: KindOutputMissing, PromptID: p.PromptID, Cause: err}
	}

	if p.WorkflowType.IsVideo() {
		logger.Info("video-output-passthrough")
		return data, nil
	}
	return normalizeImage(data)
}

func (c *HTTPClient) openStream(ctx context.Context, info types.PodInfo, clientID string) (*websocket.Conn, error) {
	wsURL := url.URL{
		Scheme:   "ws",
		Host:     fmt.Sprintf("%s:%d", info.PublicIP, info.InferencePort()),
		Path:     "/ws",
		RawQuery: "clientId=" + clientID,
	}
	conn, _, err := c.dialer.DialContext(ctx, wsURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", wsURL.String(), err)
	}
	return conn, nil
}

func (c *HTTPClient) enqueue(ctx context.Context, baseURL string, graph map[string]any, clientID string) (string, error) {
	body, err := json.Marshal(map[string]any{"prompt": graph, "client_id": clientID})
	if err != nil {
		return "", fmt.Errorf("marshaling workflow: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/prompt", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("POST /prompt: status %d", resp.StatusCode)
	}

	var parsed struct {
		PromptID string `json:"prompt_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decoding /prompt response: %w", err)
	}
	if parsed.PromptID == "" {
		return "", fmt.Errorf("/prompt response missing prompt_id")
	}
	return parsed.PromptID, nil
}

// streamMessage is one record from the /ws message stream.
type streamMessage struct {
	Type string `json:"type"`
	Data struct {
		Node             *string `json:"node"`
		PromptID         string  `json:"prompt_id"`
		ExceptionMessage string  `json:"exception_message"`
	} `json:"data"`
}

// awaitCompletion reads stream messages until it sees success or
// failure for remotePromptID, or exhausts its retry budget. The budget
// is one read deadline of retries * pollInterval for the whole wait, so
// a silent pod can't hang the caller forever; a websocket read that has
// timed out leaves the connection unusable, so the first timeout ends
// the wait with a Timeout error. Cancelling ctx closes the stream so a
// blocked read returns at once.
func (c *HTTPClient) awaitCompletion(ctx context.Context, conn *websocket.Conn, remotePromptID string, retries int, pollInterval time.Duration) error {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	conn.SetReadDeadline(time.Now().Add(time.Duration(retries) * pollInterval))
	for {
		if err := ctx.Err(); err != nil {
			return &Error{Kind: KindStreamBroken, PromptID: remotePromptID, Cause: err}
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return &Error{Kind: KindStreamBroken, PromptID: remotePromptID, Cause: ctxErr}
			}
			if isTimeoutErr(err) {
				return &Error{Kind: KindTimeout, PromptID: remotePromptID, Cause: fmt.Errorf("exhausted %d retries awaiting completion", retries)}
			}
			return &Error{Kind: KindStreamBroken, PromptID: remotePromptID, Cause: err}
		}

		var msg streamMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue // not a record we understand; ignore
		}

		switch msg.Type {
		case "executing":
			if msg.Data.Node == nil && msg.Data.PromptID == remotePromptID {
				return nil
			}
		case "execution_success":
			if msg.Data.PromptID == remotePromptID {
				return nil
			}
		case "execution_error":
			if msg.Data.PromptID == remotePromptID {
				return &Error{Kind: KindExecutionFailed, PromptID: remotePromptID, Cause: fmt.Errorf("%s", msg.Data.ExceptionMessage)}
			}
		case "execution_interrupted":
			return &Error{Kind: KindExecutionFailed, PromptID: remotePromptID, Cause: fmt.Errorf("interrupted")}
		}
	}
}

func isTimeoutErr(err error) bool {
	type timeouter interface{ Timeout() bool }
	if te, ok := err.(timeouter); ok {
		return te.Timeout()
	}
	return false
}

// artifactDescriptor identifies one output file the /view endpoint can
// serve.
type artifactDescriptor struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

type outputNode struct {
	Images []artifactDescriptor `json:"images"`
	Gifs   []artifactDescriptor `json:"gifs"`
}

// firstOutput walks a prompt's /history output nodes in insertion order
// and returns the first artifact of the kind the workflow produces;
// later nodes and additional artifacts within one node are ignored.
func (c *HTTPClient) firstOutput(ctx context.Context, baseURL, remotePromptID string, wantVideo bool) (artifactDescriptor, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/history/%s", baseURL, remotePromptID), nil)
	if err != nil {
		return artifactDescriptor{}, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return artifactDescriptor{}, &Error{Kind: KindOutputMissing, PromptID: remotePromptID, Cause: err}
	}
	defer resp.Body.Close()

	var top map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&top); err != nil {
		return artifactDescriptor{}, &Error{Kind: KindOutputMissing, PromptID: remotePromptID, Cause: err}
	}
	entry, ok := top[remotePromptID]
	if !ok {
		return artifactDescriptor{}, &Error{Kind: KindOutputMissing, PromptID: remotePromptID, Cause: fmt.Errorf("history missing prompt id")}
	}

	var wrapper struct {
		Outputs json.RawMessage `json:"outputs"`
	}
	if err := json.Unmarshal(entry, &wrapper); err != nil {
		return artifactDescriptor{}, &Error{Kind: KindOutputMissing, PromptID: remotePromptID, Cause: err}
	}

	desc, err := firstArtifactInOrder(wrapper.Outputs, wantVideo)
	if err != nil {
		return artifactDescriptor{}, &Error{Kind: KindOutputMissing, PromptID: remotePromptID, Cause: err}
	}
	return desc, nil
}

// firstArtifactInOrder decodes the outputs object one key at a time
// (rather than into a map, which would discard the node order ComfyUI
// emitted them in) and returns the first node's images/gifs descriptor.
func firstArtifactInOrder(raw json.RawMessage, wantVideo bool) (artifactDescriptor, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	if _, err := dec.Token(); err != nil { // consume '{'
		return artifactDescriptor{}, err
	}
	for dec.More() {
		if _, err := dec.Token(); err != nil { // consume the node-id key
			return artifactDescriptor{}, err
		}
		var node outputNode
		if err := dec.Decode(&node); err != nil {
			return artifactDescriptor{}, err
		}
		if wantVideo && len(node.Gifs) > 0 {
			return node.Gifs[0], nil
		}
		if !wantVideo && len(node.Images) > 0 {
			return node.Images[0], nil
		}
	}
	return artifactDescriptor{}, fmt.Errorf("no output node produced %s", outputKind(wantVideo))
}

func outputKind(wantVideo bool) string {
	if wantVideo {
		return "gifs"
	}
	return "images"
}

func (c *HTTPClient) fetchView(ctx context.Context, baseURL string, d artifactDescriptor) ([]byte, error) {
	q := url.Values{}
	q.Set("filename", d.Filename)
	q.Set("subfolder", d.Subfolder)
	q.Set("type", d.Type)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/view?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("GET /view: status %d", resp.StatusCode)
	}

	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
