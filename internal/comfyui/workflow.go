// Package comfyui builds ComfyUI workflow graphs, talks to the ComfyUI HTTP
// and WebSocket API and runs batches of generation jobs.
package comfyui

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// Node is one entry of a workflow graph.
type Node struct {
	ClassType string         `json:"class_type"`
	Inputs    map[string]any `json:"inputs"`
}

// Workflow maps node ids to nodes. It marshals to the ComfyUI API format.
type Workflow map[string]*Node

// Link references output index Output of node NodeID. It marshals as
// ["<id>", <index>].
type Link struct {
	NodeID string
	Output int
}

func (l Link) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{l.NodeID, l.Output})
}

func (l *Link) UnmarshalJSON(data []byte) error {
	var raw []any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	link, ok := asLink(raw)
	if !ok {
		return fmt.Errorf("invalid link %s", data)
	}
	*l = link
	return nil
}

var outputNodes = map[string]bool{"SaveImage": true, "PreviewImage": true}

// Validate checks the graph is structurally sound: every node has a class
// type, every link points at an existing node and at least one node writes
// an image.
func (w Workflow) Validate() error {
	if len(w) == 0 {
		return errors.New("workflow is empty")
	}
	var errs []error
	hasOutput := false
	for _, id := range w.IDs() {
		n := w[id]
		if n == nil || n.ClassType == "" {
			errs = append(errs, fmt.Errorf("node %s has no class_type", id))
			continue
		}
		if outputNodes[n.ClassType] {
			hasOutput = true
		}
		for _, name := range sortedInputNames(n.Inputs) {
			link, ok := asLink(n.Inputs[name])
			if !ok {
				continue
			}
			if _, exists := w[link.NodeID]; !exists {
				errs = append(errs, fmt.Errorf("node %s input %s links to missing node %s", id, name, link.NodeID))
			}
			if link.Output < 0 {
				errs = append(errs, fmt.Errorf("node %s input %s has negative output index", id, name))
			}
		}
	}
	if !hasOutput {
		errs = append(errs, errors.New("workflow has no SaveImage or PreviewImage node"))
	}
	return errors.Join(errs...)
}

// IDs returns node ids in numeric-then-lexical order.
func (w Workflow) IDs() []string {
	ids := make([]string, 0, len(w))
	for id := range w {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if len(ids[i]) != len(ids[j]) {
			return len(ids[i]) < len(ids[j])
		}
		return ids[i] < ids[j]
	})
	return ids
}

// Clone returns a deep copy, so variations can be edited independently.
func (w Workflow) Clone() Workflow {
	out := make(Workflow, len(w))
	for id, n := range w {
		if n == nil {
			out[id] = nil
			continue
		}
		out[id] = &Node{ClassType: n.ClassType, Inputs: cloneValue(n.Inputs).(map[string]any)}
	}
	return out
}

// SetSeed sets the seed of every KSampler node and returns how many changed.
func (w Workflow) SetSeed(seed int64) int {
	changed := 0
	for _, n := range w {
		if n != nil && n.ClassType == "KSampler" {
			n.Inputs["seed"] = seed
			changed++
		}
	}
	return changed
}

// SetPrompt replaces the text of the CLIPTextEncode node wired into the
// sampler's positive or negative input.
func (w Workflow) SetPrompt(positive bool, text string) error {
	input := "negative"
	if positive {
		input = "positive"
	}
	for _, id := range w.IDs() {
		n := w[id]
		if n == nil || n.ClassType != "KSampler" {
			continue
		}
		link, ok := asLink(n.Inputs[input])
		if !ok {
			continue
		}
		enc, exists := w[link.NodeID]
		if !exists || enc.ClassType != "CLIPTextEncode" {
			return fmt.Errorf("sampler %s %s input is not a CLIPTextEncode node", id, input)
		}
		enc.Inputs["text"] = text
		return nil
	}
	return fmt.Errorf("no KSampler with a %s input", input)
}

// Txt2ImgParams configure BuildTxt2Img. Zero values take defaults.
type Txt2ImgParams struct {
	Checkpoint     string  `yaml:"checkpoint"`
	Positive       string  `yaml:"positive"`
	Negative       string  `yaml:"negative"`
	Width          int     `yaml:"width"`
	Height         int     `yaml:"height"`
	Seed           int64   `yaml:"seed"`
	Steps          int     `yaml:"steps"`
	CFG            float64 `yaml:"cfg"`
	Sampler        string  `yaml:"sampler"`
	Scheduler      string  `yaml:"scheduler"`
	Denoise        float64 `yaml:"denoise"`
	BatchSize      int     `yaml:"batch_size"`
	FilenamePrefix string  `yaml:"filename_prefix"`
}

const DefaultCheckpoint = "FLUX1-dev-fp8.safetensors"

func (p Txt2ImgParams) withDefaults() Txt2ImgParams {
	if p.Checkpoint == "" {
		p.Checkpoint = DefaultCheckpoint
	}
	if p.Width <= 0 {
		p.Width = 1024
	}
	if p.Height <= 0 {
		p.Height = 1024
	}
	if p.Steps <= 0 {
		p.Steps = 30
	}
	if p.CFG <= 0 {
		p.CFG = 7.0
	}
	if p.Sampler == "" {
		p.Sampler = "dpmpp_2m"
	}
	if p.Scheduler == "" {
		p.Scheduler = "karras"
	}
	if p.Denoise <= 0 {
		p.Denoise = 1.0
	}
	if p.BatchSize <= 0 {
		p.BatchSize = 1
	}
	if p.FilenamePrefix == "" {
		p.FilenamePrefix = "TG"
	}
	return p
}

// BuildTxt2Img builds the standard seven node text-to-image graph.
func BuildTxt2Img(p Txt2ImgParams) Workflow {
	p = p.withDefaults()
	wf := baseGraph(p)
	wf["4"] = &Node{ClassType: "EmptyLatentImage", Inputs: map[string]any{
		"width":      p.Width,
		"height":     p.Height,
		"batch_size": p.BatchSize,
	}}
	return wf
}

// Img2ImgParams configure BuildImg2Img.
type Img2ImgParams struct {
	Txt2ImgParams `yaml:",inline"`
	// Image is a file name in the ComfyUI input folder.
	Image string `yaml:"image"`
}

// BuildImg2Img loads a source image and samples from its latent. Denoise
// defaults to 0.6 and is clamped below 1.
func BuildImg2Img(p Img2ImgParams) (Workflow, error) {
	if p.Image == "" {
		return nil, errors.New("img2img requires a source image")
	}
	if p.Denoise <= 0 {
		p.Denoise = 0.6
	}
	if p.Denoise >= 1 {
		return nil, fmt.Errorf("img2img denoise must be below 1, got %.2f", p.Denoise)
	}
	params := p.Txt2ImgParams.withDefaults()
	wf := baseGraph(params)
	wf["4"] = &Node{ClassType: "VAEEncode", Inputs: map[string]any{
		"pixels": Link{NodeID: "8", Output: 0},
		"vae":    Link{NodeID: "1", Output: 2},
	}}
	wf["8"] = &Node{ClassType: "LoadImage", Inputs: map[string]any{"image": p.Image}}
	return wf, nil
}

func baseGraph(p Txt2ImgParams) Workflow {
	return Workflow{
		"1": {ClassType: "CheckpointLoaderSimple", Inputs: map[string]any{"ckpt_name": p.Checkpoint}},
		"2": {ClassType: "CLIPTextEncode", Inputs: map[string]any{
			"text": p.Positive,
			"clip": Link{NodeID: "1", Output: 1},
		}},
		"3": {ClassType: "CLIPTextEncode", Inputs: map[string]any{
			"text": p.Negative,
			"clip": Link{NodeID: "1", Output: 1},
		}},
		"5": {ClassType: "KSampler", Inputs: map[string]any{
			"seed":         p.Seed,
			"steps":        p.Steps,
			"cfg":          p.CFG,
			"sampler_name": p.Sampler,
			"scheduler":    p.Scheduler,
			"denoise":      p.Denoise,
			"model":        Link{NodeID: "1", Output: 0},
			"positive":     Link{NodeID: "2", Output: 0},
			"negative":     Link{NodeID: "3", Output: 0},
			"latent_image": Link{NodeID: "4", Output: 0},
		}},
		"6": {ClassType: "VAEDecode", Inputs: map[string]any{
			"samples": Link{NodeID: "5", Output: 0},
			"vae":     Link{NodeID: "1", Output: 2},
		}},
		"7": {ClassType: "SaveImage", Inputs: map[string]any{
			"filename_prefix": p.FilenamePrefix,
			"images":          Link{NodeID: "6", Output: 0},
		}},
	}
}

// asLink recognises both typed links and the decoded JSON form [id, index].
func asLink(v any) (Link, bool) {
	switch l := v.(type) {
	case Link:
		return l, true
	case *Link:
		return *l, l != nil
	case []any:
		if len(l) != 2 {
			return Link{}, false
		}
		id, ok := l[0].(string)
		if !ok {
			return Link{}, false
		}
		switch idx := l[1].(type) {
		case float64:
			return Link{NodeID: id, Output: int(idx)}, true
		case int:
			return Link{NodeID: id, Output: idx}, true
		}
	}
	return Link{}, false
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = cloneValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = cloneValue(val)
		}
		return out
	default:
		return v
	}
}

func sortedInputNames(inputs map[string]any) []string {
	names := make([]string, 0, len(inputs))
	for k := range inputs {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
