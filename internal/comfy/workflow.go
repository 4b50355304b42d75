package comfy

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os"
)

// Node IDs in the stock workflow template. The prompt lands in the
// positive CLIPTextEncode node; the two samplers each get their own seed.
const (
	promptNodeID = "6"
	seedNodeA    = "10"
	seedNodeB    = "11"
)

// Seed ranges for the two sampling passes. Disjoint so the passes can
// never collide on the same seed.
const (
	seedAMin, seedAMax = 1, 49999
	seedBMin, seedBMax = 50000, 99999
)

// workflowNode is one node of a ComfyUI workflow graph.
type workflowNode struct {
	Inputs    map[string]any  `json:"inputs"`
	ClassType string          `json:"class_type,omitempty"`
	Meta      json.RawMessage `json:"_meta,omitempty"`
}

// Workflow is a ComfyUI workflow graph keyed by node ID.
type Workflow map[string]*workflowNode

// LoadWorkflow reads and validates a workflow template from path.
func LoadWorkflow(path string) (Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("comfy: read workflow %s: %w", path, err)
	}

	var wf Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("comfy: parse workflow %s: %w", path, err)
	}

	for _, id := range []string{promptNodeID, seedNodeA, seedNodeB} {
		node, ok := wf[id]
		if !ok || node.Inputs == nil {
			return nil, fmt.Errorf("comfy: workflow %s is missing node %s", path, id)
		}
	}
	return wf, nil
}

// apply substitutes the prompt and both sampler seeds into the graph.
func (wf Workflow) apply(prompt string, seedA, seedB int) {
	wf[promptNodeID].Inputs["text"] = prompt
	wf[seedNodeA].Inputs["noise_seed"] = seedA
	wf[seedNodeB].Inputs["noise_seed"] = seedB
}

// newSeeds draws one seed from each range.
func newSeeds() (int, int) {
	a := seedAMin + rand.IntN(seedAMax-seedAMin+1)
	b := seedBMin + rand.IntN(seedBMax-seedBMin+1)
	return a, b
}
