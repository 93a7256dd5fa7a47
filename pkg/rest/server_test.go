package rest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/braidflow/braid"
	"github.com/braidflow/braid/pkg/api"
)

func newTestServer(t *testing.T) (*httptest.Server, braid.Engine) {
	t.Helper()
	eng := braid.NewInMemoryEngine()

	braid.New("greet").
		Step("compose", func(ctx context.Context, sc *braid.StepContext) (any, error) {
			return map[string]any{"msg": "hello"}, nil
		}).
		Then("deliver", func(ctx context.Context, sc *braid.StepContext) (any, error) {
			return sc.Prev, nil
		}).
		MustRegister(eng)

	braid.New("approval").
		Step("hold", braid.SuspendStep("waiting")).
		MustRegister(eng)

	srv := httptest.NewServer(NewHandler(eng, nil))
	t.Cleanup(srv.Close)
	return srv, eng
}

func getJSON(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func postJSON(t *testing.T, url string, body any, out any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func TestListAndGetWorkflows(t *testing.T) {
	srv, _ := newTestServer(t)

	var summaries []api.WorkflowSummary
	resp := getJSON(t, srv.URL+"/workflows", &summaries)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, summaries, 2)
	assert.Equal(t, "greet", summaries[0].Name)
	assert.Equal(t, 2, summaries[0].StepCount)

	var view workflowView
	resp = getJSON(t, srv.URL+"/workflows/greet", &view)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "greet", view.Name)
	require.Len(t, view.Steps, 2)
	require.Len(t, view.Edges, 1)
	assert.Equal(t, "sequential", view.Edges[0].Kind)

	resp = getJSON(t, srv.URL+"/workflows/ghost", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStartRunAndWait(t *testing.T) {
	srv, _ := newTestServer(t)

	var result api.RunResult
	resp := postJSON(t, srv.URL+"/workflows/greet/runs?wait=true", map[string]any{"input": "hi"}, &result)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, api.RunCompleted, result.Status)
	assert.Equal(t, "COMPLETED", string(result.Steps["deliver"].Status))

	var state api.RunResult
	resp = getJSON(t, srv.URL+"/runs/"+result.RunID, &state)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, result.RunID, state.RunID)

	resp = getJSON(t, srv.URL+"/runs/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStartRunAsync(t *testing.T) {
	srv, _ := newTestServer(t)

	var started map[string]string
	resp := postJSON(t, srv.URL+"/workflows/greet/runs", map[string]any{"input": "hi"}, &started)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.NotEmpty(t, started["runId"])

	require.Eventually(t, func() bool {
		var state api.RunResult
		getJSON(t, srv.URL+"/runs/"+started["runId"], &state)
		return state.Status == api.RunCompleted
	}, 5*time.Second, 10*time.Millisecond)

	resp = postJSON(t, srv.URL+"/workflows/ghost/runs", map[string]any{}, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestResumeEndpoint(t *testing.T) {
	srv, eng := newTestServer(t)

	var started map[string]string
	postJSON(t, srv.URL+"/workflows/approval/runs", map[string]any{}, &started)
	runID := started["runId"]

	require.Eventually(t, func() bool {
		state, err := eng.RunState(context.Background(), runID)
		return err == nil && state.Status == api.RunSuspended
	}, 5*time.Second, 10*time.Millisecond)

	var result api.RunResult
	resp := postJSON(t, srv.URL+"/runs/"+runID+"/resume",
		map[string]any{"stepId": "hold", "contextData": "approved"}, &result)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, api.RunCompleted, result.Status)
	assert.Equal(t, "approved", result.Steps["hold"].Output)

	// Resuming a completed step conflicts.
	resp = postJSON(t, srv.URL+"/runs/"+runID+"/resume",
		map[string]any{"stepId": "hold"}, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestCancelEndpoint(t *testing.T) {
	srv, eng := newTestServer(t)

	var started map[string]string
	postJSON(t, srv.URL+"/workflows/approval/runs", map[string]any{}, &started)
	runID := started["runId"]

	require.Eventually(t, func() bool {
		state, err := eng.RunState(context.Background(), runID)
		return err == nil && state.Status == api.RunSuspended
	}, 5*time.Second, 10*time.Millisecond)

	resp, err := http.Post(srv.URL+"/runs/"+runID+"/cancel", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	require.Eventually(t, func() bool {
		state, err := eng.RunState(context.Background(), runID)
		return err == nil && state.Status == api.RunFailed
	}, 5*time.Second, 10*time.Millisecond)
}

func TestWatchStreamsServerSentEvents(t *testing.T) {
	srv, _ := newTestServer(t)

	var result api.RunResult
	postJSON(t, srv.URL+"/workflows/greet/runs?wait=true", map[string]any{"input": "hi"}, &result)

	// The run is terminal, so the stream yields the final record and ends.
	resp, err := http.Get(srv.URL + "/runs/" + result.RunID + "/watch")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var records []api.TransitionRecord
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var rec api.TransitionRecord
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &rec))
		records = append(records, rec)
	}
	require.NoError(t, scanner.Err())

	require.Len(t, records, 1)
	assert.Equal(t, result.RunID, records[0].RunID)
	assert.Equal(t, api.StatusCompleted, records[0].Context.Steps["deliver"].Status)
}

func TestListRunsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	postJSON(t, srv.URL+"/workflows/greet/runs?wait=true", map[string]any{}, nil)
	postJSON(t, srv.URL+"/workflows/greet/runs?wait=true", map[string]any{}, nil)

	var runs []api.RunResult
	resp := getJSON(t, srv.URL+"/runs?workflow=greet", &runs)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, runs, 2)

	var none []api.RunResult
	getJSON(t, srv.URL+"/runs?workflow=greet&status=FAILED", &none)
	assert.Empty(t, none)
}
