package inference

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/forgecloud/podscaler/core/types"
)

// inputNodeID is the workflow graph node every template routes its
// source image/video URL through, matching the ComfyUI node id the
// workflows were authored against.
const inputNodeID = "111"

// workflowStore loads and caches the JSON workflow templates that
// describe each types.WorkflowType's ComfyUI node graph.
type workflowStore struct {
	dir string

	mu    sync.Mutex
	cache map[types.WorkflowType]map[string]any
}

func newWorkflowStore(dir string) *workflowStore {
	return &workflowStore{dir: dir, cache: make(map[types.WorkflowType]map[string]any)}
}

// get returns a deep copy of the named workflow's node graph so that
// applyInput can mutate it in place without corrupting the cache for
// concurrent prompts.
func (s *workflowStore) get(workflowType types.WorkflowType) (map[string]any, error) {
	s.mu.Lock()
	cached, ok := s.cache[workflowType]
	s.mu.Unlock()

	if !ok {
		loaded, err := s.load(workflowType)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.cache[workflowType] = loaded
		s.mu.Unlock()
		cached = loaded
	}

	return deepCopyGraph(cached), nil
}

func (s *workflowStore) load(workflowType types.WorkflowType) (map[string]any, error) {
	path := filepath.Join(s.dir, fmt.Sprintf("%s.json", workflowType))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Kind: KindWorkflowMissing, Cause: fmt.Errorf("reading %s: %w", path, err)}
	}
	var graph map[string]any
	if err := json.Unmarshal(data, &graph); err != nil {
		return nil, &Error{Kind: KindWorkflowMissing, Cause: fmt.Errorf("parsing %s: %w", path, err)}
	}
	return graph, nil
}

// applyInput sets the workflow's source-media node to inputURL. Every
// other node in the graph is opaque to the dispatcher.
func applyInput(graph map[string]any, inputURL string) error {
	node, ok := graph[inputNodeID].(map[string]any)
	if !ok {
		return fmt.Errorf("workflow graph missing node %q", inputNodeID)
	}
	inputs, ok := node["inputs"].(map[string]any)
	if !ok {
		return fmt.Errorf("workflow node %q missing inputs", inputNodeID)
	}
	inputs["url_or_path"] = inputURL
	return nil
}

func deepCopyGraph(graph map[string]any) map[string]any {
	buf, err := json.Marshal(graph)
	if err != nil {
		// graph was itself decoded from JSON; re-marshaling it cannot fail.
		panic(fmt.Sprintf("inference: re-marshaling cached workflow: %v", err))
	}
	var copy map[string]any
	if err := json.Unmarshal(buf, &copy); err != nil {
		panic(fmt.Sprintf("inference: re-unmarshaling cached workflow: %v", err))
	}
	return copy
}
