package directory

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/Sternrassler/directory-groups/internal/testutil"
)

func newTestClient(t *testing.T, mock *testutil.MockDirectory) *HTTPClient {
	t.Helper()

	cfg := DefaultConfig(mock.URL(), "directory-groups-test/1.0")
	cfg.Retry = fastRetryConfig()
	cfg.PageSize = 2

	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		expectError bool
	}{
		{
			name:   "valid config",
			config: DefaultConfig("https://directory.example.com/v1", "TestApp/1.0.0"),
		},
		{
			name:        "missing base url",
			config:      DefaultConfig("", "TestApp/1.0.0"),
			expectError: true,
		},
		{
			name:        "missing user agent",
			config:      DefaultConfig("https://directory.example.com/v1", ""),
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.config)
			if tt.expectError && err == nil {
				t.Error("Expected error but got nil")
			}
			if !tt.expectError && err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	c, err := New(Config{BaseURL: "https://directory.example.com/v1/", UserAgent: "TestApp/1.0.0"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if c.config.BaseURL != "https://directory.example.com/v1" {
		t.Errorf("BaseURL = %q, want trailing slash trimmed", c.config.BaseURL)
	}
	if c.httpClient.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", c.httpClient.Timeout)
	}
	if c.config.PageSize != 200 {
		t.Errorf("PageSize = %d, want 200", c.config.PageSize)
	}
}

func TestHTTPClient_Execute(t *testing.T) {
	mock := testutil.NewMockDirectory()
	defer mock.Close()

	c := newTestClient(t, mock)
	ctx := context.Background()

	if err := c.Execute(ctx, Insert("g1", NewMember("a@example.com", ""))); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if role := mock.Role("g1", "a@example.com"); role != RoleMember {
		t.Errorf("role = %q, want %q", role, RoleMember)
	}

	if err := c.Execute(ctx, Patch("g1", NewMember("a@example.com", RoleOwner))); err != nil {
		t.Fatalf("patch: %v", err)
	}
	if role := mock.Role("g1", "a@example.com"); role != RoleOwner {
		t.Errorf("role = %q, want %q", role, RoleOwner)
	}

	err := c.Execute(ctx, Insert("g1", NewMember("a@example.com", "")))
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("duplicate insert error = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusConflict {
		t.Errorf("StatusCode = %d, want 409", apiErr.StatusCode)
	}

	if err := c.Execute(ctx, Delete("g1", "a@example.com")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if members := mock.Members("g1"); len(members) != 0 {
		t.Errorf("members = %v, want none", members)
	}
}

func TestHTTPClient_Execute_RetriesServerErrors(t *testing.T) {
	mock := testutil.NewMockDirectory()
	defer mock.Close()

	mock.FailRequests(testutil.BackendUnavailable(), testutil.ServerError())

	c := newTestClient(t, mock)
	if err := c.Execute(context.Background(), Insert("g1", NewMember("a@example.com", ""))); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if got := mock.RequestCount(); got != 3 {
		t.Errorf("RequestCount = %d, want 3", got)
	}
}

func TestHTTPClient_Execute_RetryExhausted(t *testing.T) {
	mock := testutil.NewMockDirectory()
	defer mock.Close()

	mock.FailRequests(testutil.ServerError(), testutil.ServerError(), testutil.ServerError())

	c := newTestClient(t, mock)
	err := c.Execute(context.Background(), Delete("g1", "a@example.com"))
	if !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("Execute() error = %v, want ErrRetryExhausted", err)
	}
	if StatusCode(err) != http.StatusInternalServerError {
		t.Errorf("StatusCode(err) = %d, want 500", StatusCode(err))
	}
}

func TestHTTPClient_ExecuteBatch_CorrelatesResponses(t *testing.T) {
	mock := testutil.NewMockDirectory()
	defer mock.Close()

	mock.AddMember("g1", "b@example.com", RoleMember)
	mock.Script("c@example.com", testutil.QuotaExceeded())

	c := newTestClient(t, mock)
	batch := []Mutation{
		Insert("g1", NewMember("a@example.com", "")),
		Insert("g1", NewMember("b@example.com", "")),
		Insert("g1", NewMember("c@example.com", "")),
		Delete("g1", "missing@example.com"),
	}

	results, err := c.ExecuteBatch(context.Background(), batch)
	if err != nil {
		t.Fatalf("ExecuteBatch() error = %v", err)
	}
	if len(results) != len(batch) {
		t.Fatalf("len(results) = %d, want %d", len(results), len(batch))
	}

	expected := []int{0, http.StatusConflict, http.StatusForbidden, http.StatusNotFound}
	for i, r := range results {
		if r.Index != i {
			t.Errorf("results[%d].Index = %d", i, r.Index)
		}
		if got := StatusCode(r.Err); got != expected[i] {
			t.Errorf("results[%d] status = %d, want %d (err %v)", i, got, expected[i], r.Err)
		}
	}

	if sizes := mock.BatchSizes(); len(sizes) != 1 || sizes[0] != 4 {
		t.Errorf("BatchSizes = %v, want [4]", sizes)
	}
}

func TestHTTPClient_ExecuteBatch_Empty(t *testing.T) {
	mock := testutil.NewMockDirectory()
	defer mock.Close()

	results, err := newTestClient(t, mock).ExecuteBatch(context.Background(), nil)
	if err != nil || results != nil {
		t.Errorf("ExecuteBatch(nil) = %v, %v; want nil, nil", results, err)
	}
	if mock.RequestCount() != 0 {
		t.Error("empty batch should not hit the server")
	}
}

func TestHTTPClient_ExecuteBatch_TransportFailure(t *testing.T) {
	mock := testutil.NewMockDirectory()
	defer mock.Close()

	mock.FailRequests(testutil.ServerError(), testutil.ServerError(), testutil.ServerError())

	_, err := newTestClient(t, mock).ExecuteBatch(context.Background(), []Mutation{Delete("g1", "a@example.com")})
	if !errors.Is(err, ErrRetryExhausted) {
		t.Errorf("ExecuteBatch() error = %v, want ErrRetryExhausted", err)
	}
}

func TestHTTPClient_ListMembers(t *testing.T) {
	mock := testutil.NewMockDirectory()
	defer mock.Close()

	mock.AddMember("g1", "a@example.com", RoleMember)
	mock.AddMember("g1", "b@example.com", RoleOwner)
	mock.AddMember("g1", "c@example.com", RoleManager)

	c := newTestClient(t, mock)
	ctx := context.Background()

	page, err := c.ListMembers(ctx, "g1", "")
	if err != nil {
		t.Fatalf("ListMembers() error = %v", err)
	}
	if len(page.Members) != 2 || page.NextPageToken == "" {
		t.Fatalf("first page = %+v, want 2 members and a next token", page)
	}

	page, err = c.ListMembers(ctx, "g1", page.NextPageToken)
	if err != nil {
		t.Fatalf("ListMembers() error = %v", err)
	}
	if len(page.Members) != 1 || page.NextPageToken != "" {
		t.Errorf("second page = %+v, want 1 member and no next token", page)
	}
	if page.Members[0].Role != RoleManager {
		t.Errorf("role = %q, want %q", page.Members[0].Role, RoleManager)
	}
}
