// Package mock provides a test double for the workflow.Client interface.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/moche-ai/routine-studio/pkg/provider/workflow"
)

// Client is a mock implementation of workflow.Client. It records every
// submitted graph, upload and delete, and returns scripted outputs.
//
// A zero value is usable: Submit hands out sequential run IDs, Wait returns
// Outputs (set it before the run), and Fetch synthesizes deterministic bytes
// from the filename unless Files overrides them.
type Client struct {
	mu sync.Mutex

	// Graphs records every submitted graph in order.
	Graphs []workflow.Graph

	// Uploaded records data passed to Upload, keyed by name.
	Uploaded map[string][]byte

	// Deleted records run IDs passed to Delete.
	Deleted []string

	// Outputs is returned by Wait for every run.
	Outputs workflow.Outputs

	// OutputsQueue, when non-empty, is consumed one Outputs per Wait call;
	// the last entry repeats once the script runs out.
	OutputsQueue []workflow.Outputs

	// Files, when set, backs Fetch by filename.
	Files map[string][]byte

	// SubmitErr, WaitErr, FetchErr and UploadErr inject failures into the
	// corresponding methods.
	SubmitErr error
	WaitErr   error
	FetchErr  error
	UploadErr error

	waitCalls int
}

// Submit records the graph and returns a sequential run ID.
func (c *Client) Submit(ctx context.Context, g workflow.Graph) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SubmitErr != nil {
		return "", c.SubmitErr
	}
	c.Graphs = append(c.Graphs, g)
	return fmt.Sprintf("run-%d", len(c.Graphs)), nil
}

// Wait returns the scripted outputs.
func (c *Client) Wait(ctx context.Context, id string, timeout time.Duration) (workflow.Outputs, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.WaitErr != nil {
		return nil, c.WaitErr
	}
	c.waitCalls++
	if len(c.OutputsQueue) > 0 {
		i := c.waitCalls - 1
		if i >= len(c.OutputsQueue) {
			i = len(c.OutputsQueue) - 1
		}
		return c.OutputsQueue[i], nil
	}
	return c.Outputs, nil
}

// Fetch returns Files[ref.Filename] when set, otherwise deterministic bytes
// derived from the filename.
func (c *Client) Fetch(ctx context.Context, ref workflow.OutputRef) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FetchErr != nil {
		return nil, c.FetchErr
	}
	if c.Files != nil {
		if data, ok := c.Files[ref.Filename]; ok {
			return data, nil
		}
	}
	return []byte("mock:" + ref.Filename), nil
}

// Upload records the data and returns name unchanged.
func (c *Client) Upload(ctx context.Context, name string, data []byte) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.UploadErr != nil {
		return "", c.UploadErr
	}
	if c.Uploaded == nil {
		c.Uploaded = make(map[string][]byte)
	}
	c.Uploaded[name] = data
	return name, nil
}

// Delete records the run ID.
func (c *Client) Delete(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Deleted = append(c.Deleted, id)
	return nil
}

// SubmitCount returns how many graphs were submitted. Thread-safe.
func (c *Client) SubmitCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Graphs)
}

// Ensure Client implements workflow.Client at compile time.
var _ workflow.Client = (*Client)(nil)
