package comfy

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/moche-ai/routine-studio/pkg/provider/workflow"
)

// mustNew is a test helper that calls New and fails the test on error.
func mustNew(t *testing.T, baseURL string, opts ...Option) *Client {
	t.Helper()
	c, err := New(baseURL, opts...)
	if err != nil {
		t.Fatalf("New(%q): unexpected error: %v", baseURL, err)
	}
	return c
}

func testGraph() workflow.Graph {
	return workflow.Graph{
		"1": {ClassType: "CheckpointLoaderSimple", Inputs: map[string]any{"ckpt_name": "c"}},
	}
}

func TestNew(t *testing.T) {
	t.Run("empty URL returns error", func(t *testing.T) {
		if _, err := New(""); err == nil {
			t.Fatal("expected error for empty URL")
		}
	})

	t.Run("defaults", func(t *testing.T) {
		c := mustNew(t, "http://localhost:8188/")
		if c.baseURL != "http://localhost:8188" {
			t.Errorf("baseURL = %q, want trailing slash stripped", c.baseURL)
		}
		if c.pollInterval != defaultPollInterval {
			t.Errorf("pollInterval = %v, want %v", c.pollInterval, defaultPollInterval)
		}
		if c.clientID == "" {
			t.Error("clientID must not be empty")
		}
	})
}

func TestPing(t *testing.T) {
	t.Run("reachable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != statsEndpoint || r.Method != http.MethodGet {
				t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
			}
			w.Write([]byte(`{"system": {}}`))
		}))
		defer srv.Close()

		if err := mustNew(t, srv.URL).Ping(context.Background()); err != nil {
			t.Errorf("Ping: %v", err)
		}
	})

	t.Run("server error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}))
		defer srv.Close()

		err := mustNew(t, srv.URL).Ping(context.Background())
		if err == nil || !strings.Contains(err.Error(), "status 500") {
			t.Errorf("err = %v, want status 500 error", err)
		}
	})

	t.Run("unreachable", func(t *testing.T) {
		if err := mustNew(t, "http://127.0.0.1:1").Ping(context.Background()); err == nil {
			t.Error("expected error for unreachable server")
		}
	})
}

func TestSubmit(t *testing.T) {
	var gotBody promptRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != promptEndpoint || r.Method != http.MethodPost {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"prompt_id": "abc-123", "number": 1, "node_errors": {}}`))
	}))
	defer srv.Close()

	c := mustNew(t, srv.URL)
	id, err := c.Submit(context.Background(), testGraph())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if id != "abc-123" {
		t.Errorf("id = %q, want abc-123", id)
	}
	if gotBody.ClientID == "" {
		t.Error("client_id missing from request")
	}
	if gotBody.Prompt["1"].ClassType != "CheckpointLoaderSimple" {
		t.Errorf("graph not carried: %+v", gotBody.Prompt)
	}
}

func TestSubmit_EmptyGraph(t *testing.T) {
	c := mustNew(t, "http://localhost:1")
	if _, err := c.Submit(context.Background(), nil); err == nil {
		t.Error("expected error for empty graph")
	}
}

func TestSubmit_BadRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": {"message": "invalid prompt"}}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c := mustNew(t, srv.URL)
	_, err := c.Submit(context.Background(), testGraph())
	if err == nil || !strings.Contains(err.Error(), "status 400") {
		t.Errorf("err = %v, want status 400 error", err)
	}
}

func TestWait_PollsUntilComplete(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, historyEndpoint+"/") {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		if polls.Add(1) < 3 {
			// Still executing: no history entry yet.
			w.Write([]byte(`{}`))
			return
		}
		w.Write([]byte(`{
			"run-1": {
				"outputs": {
					"7": {"images": [{"filename": "out_00001.png", "subfolder": "", "type": "output"}]},
					"3": {"text": ["not an artifact"]}
				},
				"status": {"status_str": "success", "completed": true, "messages": []}
			}
		}`))
	}))
	defer srv.Close()

	c := mustNew(t, srv.URL, WithPollInterval(5*time.Millisecond))
	outputs, err := c.Wait(context.Background(), "run-1", time.Second)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if got := polls.Load(); got < 3 {
		t.Errorf("polled %d times, want at least 3", got)
	}
	refs := outputs["7"]
	if len(refs) != 1 || refs[0].Filename != "out_00001.png" {
		t.Errorf("outputs[7] = %v", refs)
	}
	// Non-artifact output groups are dropped.
	if _, ok := outputs["3"]; ok {
		t.Errorf("outputs[3] should be absent, got %v", outputs["3"])
	}
}

func TestWait_RunFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"run-1": {
				"outputs": {},
				"status": {
					"status_str": "error",
					"completed": true,
					"messages": [
						["execution_start", {"prompt_id": "run-1"}],
						["execution_error", {"node_type": "KSampler", "exception_message": "CUDA out of memory"}]
					]
				}
			}
		}`))
	}))
	defer srv.Close()

	c := mustNew(t, srv.URL, WithPollInterval(5*time.Millisecond))
	_, err := c.Wait(context.Background(), "run-1", time.Second)
	if !errors.Is(err, workflow.ErrRunFailed) {
		t.Fatalf("err = %v, want ErrRunFailed", err)
	}
	if !strings.Contains(err.Error(), "CUDA out of memory") {
		t.Errorf("err = %v, want exception message included", err)
	}
	if !strings.Contains(err.Error(), "KSampler") {
		t.Errorf("err = %v, want failing node type included", err)
	}
}

func TestWait_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := mustNew(t, srv.URL, WithPollInterval(5*time.Millisecond))
	_, err := c.Wait(context.Background(), "run-1", 25*time.Millisecond)
	if err == nil || !strings.Contains(err.Error(), "did not complete") {
		t.Errorf("err = %v, want timeout error", err)
	}
}

func TestWait_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := mustNew(t, srv.URL, WithPollInterval(5*time.Millisecond))
	_, err := c.Wait(ctx, "run-1", time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != viewEndpoint {
			t.Errorf("path = %q, want %q", r.URL.Path, viewEndpoint)
		}
		q := r.URL.Query()
		if q.Get("filename") != "out.png" || q.Get("subfolder") != "video" || q.Get("type") != "output" {
			t.Errorf("query = %v", q)
		}
		w.Write([]byte("artifact-bytes"))
	}))
	defer srv.Close()

	c := mustNew(t, srv.URL)
	data, err := c.Fetch(context.Background(), workflow.OutputRef{
		Filename:  "out.png",
		Subfolder: "video",
		Type:      "output",
	})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(data) != "artifact-bytes" {
		t.Errorf("data = %q", data)
	}
}

func TestUpload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != uploadEndpoint {
			t.Errorf("path = %q, want %q", r.URL.Path, uploadEndpoint)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		file, header, err := r.FormFile("image")
		if err != nil {
			t.Errorf("image part missing: %v", err)
			http.Error(w, "missing image", http.StatusBadRequest)
			return
		}
		defer file.Close()
		if header.Filename != "ref.png" {
			t.Errorf("upload filename = %q", header.Filename)
		}
		if r.FormValue("overwrite") != "true" {
			t.Errorf("overwrite = %q, want true", r.FormValue("overwrite"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"name": "ref.png", "subfolder": "", "type": "input"}`))
	}))
	defer srv.Close()

	c := mustNew(t, srv.URL)
	name, err := c.Upload(context.Background(), "ref.png", []byte("png"))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if name != "ref.png" {
		t.Errorf("name = %q", name)
	}
}

func TestUpload_SubfolderJoined(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"name": "ref.png", "subfolder": "clipspace", "type": "input"}`))
	}))
	defer srv.Close()

	c := mustNew(t, srv.URL)
	name, err := c.Upload(context.Background(), "ref.png", []byte("png"))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if name != "clipspace/ref.png" {
		t.Errorf("name = %q, want clipspace/ref.png", name)
	}
}

func TestUpload_Validation(t *testing.T) {
	c := mustNew(t, "http://localhost:1")
	if _, err := c.Upload(context.Background(), "", []byte("x")); err == nil {
		t.Error("expected error for empty name")
	}
	if _, err := c.Upload(context.Background(), "x.png", nil); err == nil {
		t.Error("expected error for empty data")
	}
}

func TestDelete(t *testing.T) {
	var gotBody map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != historyEndpoint || r.Method != http.MethodPost {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := mustNew(t, srv.URL)
	if err := c.Delete(context.Background(), "run-9"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(gotBody["delete"]) != 1 || gotBody["delete"][0] != "run-9" {
		t.Errorf("delete body = %v", gotBody)
	}
}

// TestExecuteAgainstServer drives the full submit, poll, fetch, delete cycle
// through workflow.Execute against an emulated engine.
func TestExecuteAgainstServer(t *testing.T) {
	var polls atomic.Int32
	var deleted atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == promptEndpoint:
			w.Write([]byte(`{"prompt_id": "run-77"}`))
		case r.Method == http.MethodPost && r.URL.Path == historyEndpoint:
			deleted.Store(true)
			w.WriteHeader(http.StatusOK)
		case strings.HasPrefix(r.URL.Path, historyEndpoint+"/"):
			if polls.Add(1) < 2 {
				w.Write([]byte(`{}`))
				return
			}
			w.Write([]byte(`{"run-77": {
				"outputs": {"7": {"images": [{"filename": "final.png", "subfolder": "", "type": "output"}]}},
				"status": {"status_str": "success", "completed": true}
			}}`))
		case r.URL.Path == viewEndpoint:
			w.Write([]byte("image-data"))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := mustNew(t, srv.URL, WithPollInterval(5*time.Millisecond))
	artifacts, err := workflow.Execute(context.Background(), c, testGraph(), time.Second)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(artifacts) != 1 || string(artifacts[0].Data) != "image-data" {
		t.Errorf("artifacts = %+v", artifacts)
	}
	if !deleted.Load() {
		t.Error("engine-side run was not deleted")
	}
}
