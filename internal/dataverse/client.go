// Package dataverse is a minimal client for the subset of the Dataverse Web
// API that envsync needs: environment variable definitions and values, and
// the solution/workflow records behind cloud-flow activation.
package dataverse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const (
	apiPath = "/api/data/v9.2"

	// maxErrorBody caps how much of an error response is kept for reporting.
	maxErrorBody = 4 * 1024

	// Dataverse service protection limits allow ~6000 requests per 5 minutes
	// per user. Stay far below that; reconciliation batches are small.
	requestsPerSecond = 10
	requestBurst      = 5

	defaultRequestTimeout = 30 * time.Second
)

// Config holds Dataverse client configuration.
type Config struct {
	// EnvironmentURL is the organization URL, e.g. https://org.crm4.dynamics.com
	EnvironmentURL string

	// TokenSource supplies bearer tokens for the environment's audience.
	TokenSource oauth2.TokenSource

	// RequestTimeout bounds each individual HTTP call so one unresponsive
	// request cannot hang a whole batch. Defaults to 30s.
	RequestTimeout time.Duration
}

// Client talks to one Dataverse environment.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[*http.Response]
}

// NewClient creates a Dataverse client for the given environment.
func NewClient(cfg *Config) (*Client, error) {
	if cfg.EnvironmentURL == "" {
		return nil, fmt.Errorf("environment URL is required")
	}
	if cfg.TokenSource == nil {
		return nil, fmt.Errorf("token source is required")
	}

	base, err := url.Parse(cfg.EnvironmentURL)
	if err != nil {
		return nil, fmt.Errorf("invalid environment URL %q: %w", cfg.EnvironmentURL, err)
	}
	if base.Scheme != "https" && base.Scheme != "http" {
		return nil, fmt.Errorf("invalid environment URL %q: missing scheme", cfg.EnvironmentURL)
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	httpClient := &http.Client{
		Timeout: timeout,
		Transport: &oauth2.Transport{
			Source: cfg.TokenSource,
		},
	}

	breaker := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name: "dataverse",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		Timeout: 15 * time.Second,
	})

	return &Client{
		baseURL: strings.TrimRight(base.String(), "/") + apiPath,
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), requestBurst),
		breaker: breaker,
	}, nil
}

// ListDefinitions returns all environment variable definitions in the
// environment. The expected cardinality is a few dozen to a few hundred, so
// a single unpaged request is sufficient.
func (c *Client) ListDefinitions(ctx context.Context) ([]Definition, error) {
	path := "/environmentvariabledefinitions?" + encodeQuery(
		"$select", "environmentvariabledefinitionid,schemaname,displayname")

	var resp listResponse[Definition]
	if err := c.get(ctx, "list definitions", path, &resp); err != nil {
		return nil, err
	}
	return resp.Value, nil
}

// ListValues returns the value records bound to a definition. Zero or one
// element is expected; Dataverse enforces uniqueness per environment.
func (c *Client) ListValues(ctx context.Context, definitionID string) ([]Value, error) {
	path := "/environmentvariablevalues?" + encodeQuery(
		"$select", "environmentvariablevalueid,value,_environmentvariabledefinitionid_value",
		"$filter", fmt.Sprintf("_environmentvariabledefinitionid_value eq %s", definitionID))

	var resp listResponse[Value]
	if err := c.get(ctx, "list values", path, &resp); err != nil {
		return nil, err
	}
	return resp.Value, nil
}

// CreateValue creates a new value record bound to a definition and returns
// the created record.
func (c *Client) CreateValue(ctx context.Context, definitionID, value string) (*Value, error) {
	body := map[string]string{
		"value": value,
		"EnvironmentVariableDefinitionId@odata.bind": fmt.Sprintf("/environmentvariabledefinitions(%s)", definitionID),
	}

	var created Value
	if err := c.do(ctx, "create value", http.MethodPost, "/environmentvariablevalues", body, &created); err != nil {
		return nil, err
	}
	// The create response may omit the lookup; fill in what we know.
	if created.DefinitionID == "" {
		created.DefinitionID = definitionID
	}
	created.Value = value
	return &created, nil
}

// UpdateValue sets the value on an existing value record.
func (c *Client) UpdateValue(ctx context.Context, valueID, value string) error {
	path := fmt.Sprintf("/environmentvariablevalues(%s)", valueID)
	body := map[string]string{"value": value}
	return c.do(ctx, "update value", http.MethodPatch, path, body, nil)
}

// GetSolutionByName resolves a solution by its unique name. Returns nil if
// no solution with that name exists.
func (c *Client) GetSolutionByName(ctx context.Context, uniqueName string) (*Solution, error) {
	path := "/solutions?" + encodeQuery(
		"$select", "solutionid,uniquename,friendlyname",
		"$filter", fmt.Sprintf("uniquename eq '%s'", strings.ReplaceAll(uniqueName, "'", "''")))

	var resp listResponse[Solution]
	if err := c.get(ctx, "get solution", path, &resp); err != nil {
		return nil, err
	}
	if len(resp.Value) == 0 {
		return nil, nil
	}
	return &resp.Value[0], nil
}

// solution component type for workflow records
const componentTypeWorkflow = 29

// ListSolutionFlows returns the cloud flows contained in a solution, in the
// order the component records are returned.
func (c *Client) ListSolutionFlows(ctx context.Context, solutionID string) ([]Flow, error) {
	path := "/solutioncomponents?" + encodeQuery(
		"$select", "objectid",
		"$filter", fmt.Sprintf("_solutionid_value eq %s and componenttype eq %d", solutionID, componentTypeWorkflow))

	var components listResponse[struct {
		ObjectID string `json:"objectid"`
	}]
	if err := c.get(ctx, "list solution components", path, &components); err != nil {
		return nil, err
	}

	var flows []Flow
	for _, component := range components.Value {
		flowPath := fmt.Sprintf("/workflows(%s)?", component.ObjectID) + encodeQuery(
			"$select", "workflowid,name,statecode,category")

		var flow Flow
		if err := c.get(ctx, "get workflow", flowPath, &flow); err != nil {
			return nil, err
		}
		// Component type 29 covers classic workflows too; keep cloud flows only.
		if flow.Category == CategoryModernFlow {
			flows = append(flows, flow)
		}
	}
	return flows, nil
}

// SetFlowState transitions a flow's state, e.g. draft to activated.
func (c *Client) SetFlowState(ctx context.Context, flowID string, state, status int) error {
	path := fmt.Sprintf("/workflows(%s)", flowID)
	body := map[string]int{
		"statecode":  state,
		"statuscode": status,
	}
	return c.do(ctx, "set flow state", http.MethodPatch, path, body, nil)
}

// encodeQuery builds an encoded query string from key/value pairs. OData
// filter expressions contain spaces and quotes, so they cannot be pasted
// into a path verbatim.
func encodeQuery(pairs ...string) string {
	q := url.Values{}
	for i := 0; i+1 < len(pairs); i += 2 {
		q.Set(pairs[i], pairs[i+1])
	}
	return q.Encode()
}

// get issues a GET request and decodes the JSON response into out.
func (c *Client) get(ctx context.Context, op, path string, out any) error {
	return c.do(ctx, op, http.MethodGet, path, nil, out)
}

// do executes one Web API request with rate limiting, circuit breaking, and
// retry of transient failures. Non-2xx responses become a RemoteError
// carrying the status and (truncated) body.
func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	_, err := retryWithBackoff(ctx, op, func() (struct{}, retryHint, error) {
		hint, attemptErr := c.attempt(ctx, op, method, path, body, out)
		return struct{}{}, hint, attemptErr
	})
	return err
}

// attempt performs a single request/response cycle.
func (c *Client) attempt(ctx context.Context, op, method, path string, body, out any) (retryHint, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return retryHint{}, err
	}

	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return retryHint{}, fmt.Errorf("%s: encode request: %w", op, err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return retryHint{}, fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("OData-MaxVersion", "4.0")
	req.Header.Set("OData-Version", "4.0")
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}
	if method == http.MethodPost && out != nil {
		req.Header.Set("Prefer", "return=representation")
	}

	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		return c.http.Do(req)
	})
	if err != nil {
		return retryHint{}, &RemoteError{Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		truncated, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		remoteErr := &RemoteError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(truncated)),
		}

		var hint retryHint
		if resp.StatusCode == http.StatusTooManyRequests {
			if seconds, parseErr := strconv.Atoi(resp.Header.Get("Retry-After")); parseErr == nil {
				hint.retryAfter = parseRetryAfter(seconds)
			}
		}
		return hint, remoteErr
	}

	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return retryHint{}, &RemoteError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
		}
	} else {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body)
	}

	return retryHint{}, nil
}
