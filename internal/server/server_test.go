package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"forestbench/internal/forest"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testPredictor is a 2-class forest of opposing stumps on feature 0 with
// threshold 10: below 10 classifies as 0, otherwise 1.
func testPredictor(t *testing.T) *forest.Predictor {
	t.Helper()
	b := forest.Bundle{
		TreeSizes:    []byte{1, 1},
		FeatureIndex: []byte{0, 0},
		Threshold:    []byte{10, 10},
		LeftChild:    []byte{forest.LeafID(0), forest.LeafID(0)},
		RightChild:   []byte{forest.LeafID(1), forest.LeafID(1)},
		LeafValues:   []byte{9, 2, 2, 9},
	}
	f, err := forest.New(b)
	require.NoError(t, err)
	p, err := forest.NewPredictor(f, 2, 1)
	require.NoError(t, err)
	return p
}

func testServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s := New(testPredictor(t), 1, 8090, "deadbeef", nil)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func TestHandlePredict(t *testing.T) {
	_, ts := testServer(t)

	body, _ := json.Marshal(PredictionRequest{Features: []int{3}, RequestID: "r1"})
	resp, err := http.Post(ts.URL+"/predict", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var pr PredictionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&pr))
	assert.Equal(t, 0, pr.Class)
	assert.Equal(t, []uint16{9, 2}, pr.Votes)
	assert.Equal(t, "r1", pr.RequestID)
}

func TestHandlePredict_BadRequests(t *testing.T) {
	_, ts := testServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"not json", "nope"},
		{"wrong feature count", `{"features":[1,2,3]}`},
		{"feature out of byte range", `{"features":[300]}`},
		{"empty features", `{"features":[]}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := http.Post(ts.URL+"/predict", "application/json", strings.NewReader(tc.body))
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestHandlePredict_MethodNotAllowed(t *testing.T) {
	_, ts := testServer(t)

	resp, err := http.Get(ts.URL + "/predict")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHandlePredict_CorruptForest(t *testing.T) {
	// Forest whose only node compares a feature the vector cannot have.
	b := forest.Bundle{
		TreeSizes:    []byte{1},
		FeatureIndex: []byte{9},
		Threshold:    []byte{10},
		LeftChild:    []byte{forest.LeafID(0)},
		RightChild:   []byte{forest.LeafID(1)},
		LeafValues:   []byte{5, 9},
	}
	f, err := forest.New(b)
	require.NoError(t, err)
	p, err := forest.NewPredictor(f, 1, 1)
	require.NoError(t, err)

	s := New(p, 1, 8090, "deadbeef", nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	body, _ := json.Marshal(PredictionRequest{Features: []int{3}})
	resp, err := http.Post(ts.URL+"/predict", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestHandleHealth(t *testing.T) {
	_, ts := testServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandleModelInfo(t *testing.T) {
	_, ts := testServer(t)

	resp, err := http.Get(ts.URL + "/model/info")
	require.NoError(t, err)
	defer resp.Body.Close()

	var info map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	assert.Equal(t, "deadbeef", info["checksum"])
	assert.Equal(t, float64(2), info["classes"])
	assert.Equal(t, float64(1), info["trees_per_class"])
	assert.Equal(t, float64(1), info["feature_len"])
}

func TestHandleStream(t *testing.T) {
	_, ts := testServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/stream"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	// Two classifications over one connection.
	require.NoError(t, conn.WriteJSON(PredictionRequest{Features: []int{3}, RequestID: "a"}))
	var first PredictionResponse
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, 0, first.Class)
	assert.Equal(t, "a", first.RequestID)

	require.NoError(t, conn.WriteJSON(PredictionRequest{Features: []int{200}, RequestID: "b"}))
	var second PredictionResponse
	require.NoError(t, conn.ReadJSON(&second))
	assert.Equal(t, 1, second.Class)

	// A malformed vector reports an error in-band and keeps the stream open.
	require.NoError(t, conn.WriteJSON(PredictionRequest{Features: []int{1, 2}}))
	var errMsg map[string]string
	require.NoError(t, conn.ReadJSON(&errMsg))
	assert.Contains(t, errMsg["error"], "expected 1 features")

	require.NoError(t, conn.WriteJSON(PredictionRequest{Features: []int{5}}))
	var third PredictionResponse
	require.NoError(t, conn.ReadJSON(&third))
	assert.Equal(t, 0, third.Class)
}
