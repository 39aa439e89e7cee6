// Package workflow defines the client interface for node-graph render
// engines.
//
// Image and video generation runs as a graph of nodes (model loader, text
// encoders, sampler, decoder, saver) submitted to an engine such as ComfyUI.
// The Client interface covers the run lifecycle: submit a graph, wait for
// completion, fetch the produced artifacts, and clean up engine-side state.
// Graph builders for the pipeline's standard renders live in graphs.go; the
// comfy subpackage implements the interface over the ComfyUI HTTP API and
// the mock subpackage serves tests.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"
)

// ErrRunFailed is wrapped by Wait when the engine reports the run errored.
var ErrRunFailed = errors.New("workflow: run failed")

// ErrNoOutputs is returned by Execute when a completed run produced no
// artifacts.
var ErrNoOutputs = errors.New("workflow: run produced no outputs")

// Node is one node in a render graph: its operation class plus the inputs,
// which are either literal values or references to other nodes' outputs in
// the form [nodeID, outputIndex].
type Node struct {
	ClassType string         `json:"class_type"`
	Inputs    map[string]any `json:"inputs"`
}

// Graph is a render graph keyed by node ID.
type Graph map[string]Node

// OutputRef points at one artifact produced by a run, addressable via the
// engine's file view endpoint.
type OutputRef struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// Outputs maps the ID of each artifact-producing node to its output refs.
type Outputs map[string][]OutputRef

// Client is the abstraction over a render engine.
//
// Implementations must be safe for concurrent use; one engine typically
// serves every session of the process.
type Client interface {
	// Submit queues the graph and returns the engine's run ID.
	Submit(ctx context.Context, g Graph) (string, error)

	// Wait blocks until the run completes or timeout elapses, polling the
	// engine. A failed run returns an error wrapping ErrRunFailed.
	Wait(ctx context.Context, id string, timeout time.Duration) (Outputs, error)

	// Fetch downloads one artifact.
	Fetch(ctx context.Context, ref OutputRef) ([]byte, error)

	// Upload stores data engine-side under name for graphs that load images,
	// returning the reference to use in LoadImage inputs.
	Upload(ctx context.Context, name string, data []byte) (string, error)

	// Delete removes the run's engine-side history and artifacts.
	Delete(ctx context.Context, id string) error
}

// Artifact is one fetched run output.
type Artifact struct {
	Ref  OutputRef
	Data []byte
}

// Execute runs a graph end to end: submit, wait for completion, fetch every
// artifact in node-ID order, then best-effort delete the engine-side run.
// A completed run with zero artifacts returns ErrNoOutputs.
func Execute(ctx context.Context, c Client, g Graph, timeout time.Duration) ([]Artifact, error) {
	id, err := c.Submit(ctx, g)
	if err != nil {
		return nil, fmt.Errorf("workflow: submit: %w", err)
	}

	outputs, err := c.Wait(ctx, id, timeout)
	if err != nil {
		return nil, err
	}

	nodeIDs := make([]string, 0, len(outputs))
	for nodeID := range outputs {
		nodeIDs = append(nodeIDs, nodeID)
	}
	sort.Strings(nodeIDs)

	var artifacts []Artifact
	for _, nodeID := range nodeIDs {
		for _, ref := range outputs[nodeID] {
			data, err := c.Fetch(ctx, ref)
			if err != nil {
				return nil, fmt.Errorf("workflow: fetch %q: %w", ref.Filename, err)
			}
			artifacts = append(artifacts, Artifact{Ref: ref, Data: data})
		}
	}

	// Engine-side cleanup is best effort; the artifacts are already local.
	if err := c.Delete(ctx, id); err != nil {
		slog.Debug("workflow run cleanup failed", "run_id", id, "error", err)
	}

	if len(artifacts) == 0 {
		return nil, ErrNoOutputs
	}
	return artifacts, nil
}
