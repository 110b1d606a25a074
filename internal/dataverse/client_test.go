package dataverse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(&Config{
		EnvironmentURL: server.URL,
		TokenSource:    oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "test-token"}),
		RequestTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	return client
}

// TestNewClient_Validation rejects incomplete configuration.
func TestNewClient_Validation(t *testing.T) {
	source := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "t"})

	_, err := NewClient(&Config{TokenSource: source})
	assert.Error(t, err)

	_, err = NewClient(&Config{EnvironmentURL: "https://org.crm4.dynamics.com"})
	assert.Error(t, err)

	_, err = NewClient(&Config{EnvironmentURL: "org.crm4.dynamics.com", TokenSource: source})
	assert.Error(t, err)
}

// TestListDefinitions checks path, OData headers, bearer token, and
// response decoding.
func TestListDefinitions(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/data/v9.2/environmentvariabledefinitions", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "4.0", r.Header.Get("OData-Version"))
		assert.Equal(t, "4.0", r.Header.Get("OData-MaxVersion"))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"value": []map[string]string{
				{
					"environmentvariabledefinitionid": "def-1",
					"schemaname":                      "cr_ApiBaseUrl",
					"displayname":                     "API Base URL",
				},
			},
		})
	}))

	defs, err := client.ListDefinitions(context.Background())
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "def-1", defs[0].ID)
	assert.Equal(t, "cr_ApiBaseUrl", defs[0].SchemaName)
	assert.Equal(t, "API Base URL", defs[0].DisplayName)
}

// TestListValues filters by definition ID.
func TestListValues(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/data/v9.2/environmentvariablevalues", r.URL.Path)
		assert.Contains(t, r.URL.Query().Get("$filter"), "def-1")

		_ = json.NewEncoder(w).Encode(map[string]any{
			"value": []map[string]string{
				{
					"environmentvariablevalueid":             "val-1",
					"_environmentvariabledefinitionid_value": "def-1",
					"value":                                  "https://api.uat.example.com",
				},
			},
		})
	}))

	values, err := client.ListValues(context.Background(), "def-1")
	require.NoError(t, err)
	require.Len(t, values, 1)
	assert.Equal(t, "val-1", values[0].ID)
	assert.Equal(t, "https://api.uat.example.com", values[0].Value)
}

// TestCreateValue sends the definition binding and asks for the created
// representation back.
func TestCreateValue(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/data/v9.2/environmentvariablevalues", r.URL.Path)
		assert.Equal(t, "return=representation", r.Header.Get("Prefer"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "hello", body["value"])
		assert.Equal(t,
			"/environmentvariabledefinitions(def-1)",
			body["EnvironmentVariableDefinitionId@odata.bind"])

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"environmentvariablevalueid":             "val-new",
			"_environmentvariabledefinitionid_value": "def-1",
			"value":                                  "hello",
		})
	}))

	created, err := client.CreateValue(context.Background(), "def-1", "hello")
	require.NoError(t, err)
	assert.Equal(t, "val-new", created.ID)
	assert.Equal(t, "def-1", created.DefinitionID)
	assert.Equal(t, "hello", created.Value)
}

// TestCreateValue_NoContentResponse tolerates servers that ignore the
// Prefer header and answer 204.
func TestCreateValue_NoContentResponse(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	created, err := client.CreateValue(context.Background(), "def-1", "hello")
	require.NoError(t, err)
	assert.Equal(t, "def-1", created.DefinitionID)
	assert.Equal(t, "hello", created.Value)
}

// TestUpdateValue issues a PATCH on the value record.
func TestUpdateValue(t *testing.T) {
	var patched atomic.Bool
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/api/data/v9.2/environmentvariablevalues(val-1)", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "new", body["value"])

		patched.Store(true)
		w.WriteHeader(http.StatusNoContent)
	}))

	require.NoError(t, client.UpdateValue(context.Background(), "val-1", "new"))
	assert.True(t, patched.Load())
}

// TestRemoteError_NonTransient verifies a 400 fails immediately with the
// status and body, without retrying.
func TestRemoteError_NonTransient(t *testing.T) {
	var requests atomic.Int32
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"bad filter"}}`)
	}))

	_, err := client.ListDefinitions(context.Background())
	require.Error(t, err)

	var remoteErr *RemoteError
	require.True(t, errors.As(err, &remoteErr))
	assert.Equal(t, http.StatusBadRequest, remoteErr.StatusCode)
	assert.Contains(t, remoteErr.Body, "bad filter")
	assert.False(t, remoteErr.IsTransient())
	assert.Equal(t, int32(1), requests.Load(), "non-transient errors must not be retried")
}

// TestRetry_TransientServerError verifies 5xx responses are retried until
// they succeed.
func TestRetry_TransientServerError(t *testing.T) {
	var requests atomic.Int32
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"value": []any{}})
	}))

	defs, err := client.ListDefinitions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, defs)
	assert.Equal(t, int32(3), requests.Load())
}

// TestRetry_Throttled verifies 429 responses are retried and honor the
// Retry-After hint.
func TestRetry_Throttled(t *testing.T) {
	var requests atomic.Int32
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"value": []any{}})
	}))

	start := time.Now()
	_, err := client.ListDefinitions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), requests.Load())
	assert.GreaterOrEqual(t, time.Since(start), time.Second)
}

// TestRetry_GivesUp verifies retries are bounded and the final error
// surfaces.
func TestRetry_GivesUp(t *testing.T) {
	var requests atomic.Int32
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))

	_, err := client.ListDefinitions(context.Background())
	require.Error(t, err)

	var remoteErr *RemoteError
	require.True(t, errors.As(err, &remoteErr))
	assert.Equal(t, http.StatusBadGateway, remoteErr.StatusCode)
	assert.Equal(t, int32(maxRetries+1), requests.Load())
}

// TestGetSolutionByName returns nil for an unknown solution and escapes
// single quotes in the filter.
func TestGetSolutionByName(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		filter := r.URL.Query().Get("$filter")
		if filter == "uniquename eq 'uat_core'" {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"value": []map[string]string{
					{"solutionid": "sol-1", "uniquename": "uat_core", "friendlyname": "UAT Core"},
				},
			})
			return
		}
		assert.Contains(t, filter, "''", "single quotes must be doubled")
		_ = json.NewEncoder(w).Encode(map[string]any{"value": []any{}})
	}))

	solution, err := client.GetSolutionByName(context.Background(), "uat_core")
	require.NoError(t, err)
	require.NotNil(t, solution)
	assert.Equal(t, "sol-1", solution.ID)

	missing, err := client.GetSolutionByName(context.Background(), "it's_gone")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

// TestListSolutionFlows resolves workflow components and keeps cloud flows
// only.
func TestListSolutionFlows(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/data/v9.2/solutioncomponents":
			assert.Contains(t, r.URL.Query().Get("$filter"), "sol-1")
			assert.Contains(t, r.URL.Query().Get("$filter"), "componenttype eq 29")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"value": []map[string]string{
					{"objectid": "flow-1"},
					{"objectid": "classic-1"},
				},
			})
		case "/api/data/v9.2/workflows(flow-1)":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"workflowid": "flow-1", "name": "Cloud flow", "statecode": 0, "category": 5,
			})
		case "/api/data/v9.2/workflows(classic-1)":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"workflowid": "classic-1", "name": "Classic workflow", "statecode": 1, "category": 0,
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	flows, err := client.ListSolutionFlows(context.Background(), "sol-1")
	require.NoError(t, err)
	require.Len(t, flows, 1)
	assert.Equal(t, "flow-1", flows[0].ID)
	assert.Equal(t, "Cloud flow", flows[0].Name)
}

// TestSetFlowState patches statecode and statuscode.
func TestSetFlowState(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/api/data/v9.2/workflows(flow-1)", r.URL.Path)

		var body map[string]int
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, WorkflowStateActivated, body["statecode"])
		assert.Equal(t, WorkflowStatusActivated, body["statuscode"])

		w.WriteHeader(http.StatusNoContent)
	}))

	err := client.SetFlowState(context.Background(), "flow-1", WorkflowStateActivated, WorkflowStatusActivated)
	require.NoError(t, err)
}
