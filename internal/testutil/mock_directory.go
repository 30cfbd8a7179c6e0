// Package testutil provides testing utilities for the directory client.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// MockResponse is a scripted answer for one request addressed to a member.
type MockResponse struct {
	StatusCode int
	Reason     string
	Message    string
}

// QuotaExceeded returns the 403 answer the directory gives when the per-user
// quota is exhausted.
func QuotaExceeded() MockResponse {
	return MockResponse{
		StatusCode: http.StatusForbidden,
		Reason:     "quotaExceeded",
		Message:    "Quota exceeded for quota metric 'Queries' and limit 'Queries per minute per user'",
	}
}

// BackendUnavailable returns a 503 answer.
func BackendUnavailable() MockResponse {
	return MockResponse{
		StatusCode: http.StatusServiceUnavailable,
		Reason:     "backendError",
		Message:    "The service is currently unavailable.",
	}
}

// ServerError returns a 500 answer.
func ServerError() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Reason:     "internalError",
		Message:    "Internal error encountered.",
	}
}

// MockDirectory is an in-memory directory service served over HTTP. It
// implements the member endpoints and the batch endpoint.
type MockDirectory struct {
	server *httptest.Server

	mu         sync.Mutex
	groups     map[string]map[string]map[string]any
	scripted   map[string][]MockResponse
	failNext   []MockResponse
	requests   int
	batchSizes []int
}

// NewMockDirectory creates and starts a new mock directory server.
func NewMockDirectory() *MockDirectory {
	m := &MockDirectory{
		groups:   make(map[string]map[string]map[string]any),
		scripted: make(map[string][]MockResponse),
	}
	m.server = httptest.NewServer(http.HandlerFunc(m.serveHTTP))
	return m
}

// URL returns the mock server URL.
func (m *MockDirectory) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockDirectory) Close() {
	m.server.Close()
}

// AddMember seeds a member into a group.
func (m *MockDirectory) AddMember(group, email, role string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.group(group)[email] = map[string]any{"email": email, "role": role}
}

// Members returns the keys of all members of a group, sorted.
func (m *MockDirectory) Members(group string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.groups[group]))
	for k := range m.groups[group] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Role returns the role of a member, or "" when absent.
func (m *MockDirectory) Role(group, memberKey string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	role, _ := m.groups[group][memberKey]["role"].(string)
	return role
}

// Script queues answers for the next requests addressing memberKey, in order.
// Once the queue is drained the member is handled normally.
func (m *MockDirectory) Script(memberKey string, responses ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripted[memberKey] = append(m.scripted[memberKey], responses...)
}

// FailRequests makes the next HTTP requests fail as a whole, one per response.
func (m *MockDirectory) FailRequests(responses ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = append(m.failNext, responses...)
}

// RequestCount returns the number of HTTP requests received.
func (m *MockDirectory) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests
}

// BatchSizes returns the number of sub-requests of every batch received.
func (m *MockDirectory) BatchSizes() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.batchSizes...)
}

func (m *MockDirectory) group(name string) map[string]map[string]any {
	g, ok := m.groups[name]
	if !ok {
		g = make(map[string]map[string]any)
		m.groups[name] = g
	}
	return g
}

type mockBatchItem struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Path   string          `json:"path"`
	Body   json.RawMessage `json:"body,omitempty"`
}

type mockBatchResult struct {
	ID     string          `json:"id"`
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body,omitempty"`
}

func (m *MockDirectory) serveHTTP(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests++

	if len(m.failNext) > 0 {
		resp := m.failNext[0]
		m.failNext = m.failNext[1:]
		writeJSON(w, resp.StatusCode, errorBody(resp))
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/batch" {
		var req struct {
			Requests []mockBatchItem `json:"requests"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody(MockResponse{StatusCode: 400, Reason: "badRequest", Message: err.Error()}))
			return
		}

		m.batchSizes = append(m.batchSizes, len(req.Requests))

		// Answer in reverse order; callers must correlate by id.
		results := make([]mockBatchResult, 0, len(req.Requests))
		for i := len(req.Requests) - 1; i >= 0; i-- {
			item := req.Requests[i]
			u, err := url.Parse(item.Path)
			if err != nil {
				results = append(results, mockBatchResult{ID: item.ID, Status: http.StatusBadRequest})
				continue
			}
			status, body := m.handle(item.Method, u, item.Body)
			raw, _ := json.Marshal(body)
			results = append(results, mockBatchResult{ID: item.ID, Status: status, Body: raw})
		}

		writeJSON(w, http.StatusOK, map[string]any{"responses": results})
		return
	}

	var body json.RawMessage
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	status, out := m.handle(r.Method, r.URL, body)
	writeJSON(w, status, out)
}

// handle applies one member request. The caller holds m.mu.
func (m *MockDirectory) handle(method string, u *url.URL, body json.RawMessage) (int, any) {
	parts := strings.Split(strings.Trim(u.EscapedPath(), "/"), "/")
	if len(parts) < 3 || parts[0] != "groups" || parts[2] != "members" {
		return http.StatusNotFound, errorBody(MockResponse{StatusCode: 404, Reason: "notFound", Message: "Resource Not Found"})
	}

	group, _ := url.PathUnescape(parts[1])
	memberKey := ""
	if len(parts) > 3 {
		memberKey, _ = url.PathUnescape(parts[3])
	}

	var member map[string]any
	if len(body) > 0 {
		_ = json.Unmarshal(body, &member)
	}
	if memberKey == "" && member != nil {
		if email, _ := member["email"].(string); email != "" {
			memberKey = email
		} else {
			memberKey, _ = member["id"].(string)
		}
	}

	if queue := m.scripted[memberKey]; memberKey != "" && len(queue) > 0 {
		resp := queue[0]
		m.scripted[memberKey] = queue[1:]
		return resp.StatusCode, errorBody(resp)
	}

	g := m.group(group)

	switch {
	case method == http.MethodGet && memberKey == "":
		return http.StatusOK, m.list(g, u.Query())

	case method == http.MethodPost:
		if _, exists := g[memberKey]; exists {
			return http.StatusConflict, errorBody(MockResponse{StatusCode: 409, Reason: "duplicate", Message: "Member already exists."})
		}
		g[memberKey] = member
		return http.StatusOK, member

	case method == http.MethodDelete:
		if _, exists := g[memberKey]; !exists {
			return http.StatusNotFound, errorBody(MockResponse{StatusCode: 404, Reason: "notFound", Message: "Resource Not Found: memberKey"})
		}
		delete(g, memberKey)
		return http.StatusNoContent, nil

	case method == http.MethodPatch:
		existing, exists := g[memberKey]
		if !exists {
			return http.StatusNotFound, errorBody(MockResponse{StatusCode: 404, Reason: "notFound", Message: "Resource Not Found: memberKey"})
		}
		if role, ok := member["role"]; ok {
			existing["role"] = role
		}
		return http.StatusOK, existing
	}

	return http.StatusMethodNotAllowed, errorBody(MockResponse{StatusCode: 405, Reason: "methodNotAllowed", Message: method})
}

func (m *MockDirectory) list(g map[string]map[string]any, query url.Values) map[string]any {
	keys := make([]string, 0, len(g))
	for k := range g {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	size, err := strconv.Atoi(query.Get("maxResults"))
	if err != nil || size <= 0 {
		size = 200
	}
	offset, _ := strconv.Atoi(query.Get("pageToken"))
	if offset < 0 || offset > len(keys) {
		offset = len(keys)
	}

	end := offset + size
	if end > len(keys) {
		end = len(keys)
	}

	members := make([]map[string]any, 0, end-offset)
	for _, k := range keys[offset:end] {
		members = append(members, g[k])
	}

	page := map[string]any{"members": members}
	if end < len(keys) {
		page["nextPageToken"] = strconv.Itoa(end)
	}
	return page
}

func errorBody(resp MockResponse) map[string]any {
	return map[string]any{
		"error": map[string]any{
			"code":    resp.StatusCode,
			"message": resp.Message,
			"errors": []map[string]any{
				{"domain": "global", "reason": resp.Reason, "message": resp.Message},
			},
		},
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if body != nil && status != http.StatusNoContent {
		_ = json.NewEncoder(w).Encode(body)
	}
}
