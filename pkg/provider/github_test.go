package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mergeplane/mergeplane/pkg/errors"
	"github.com/mergeplane/mergeplane/pkg/observability"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// githubStub serves canned responses keyed by exact request path.
func githubStub(t *testing.T, responses map[string]interface{}) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := responses[r.URL.Path+pathQuery(r)]
		if !ok {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.String())
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func pathQuery(r *http.Request) string {
	if r.URL.RawQuery == "" {
		return ""
	}
	return "?" + r.URL.RawQuery
}

func filesPage(names ...string) []map[string]string {
	page := make([]map[string]string, 0, len(names))
	for _, n := range names {
		page = append(page, map[string]string{"filename": n})
	}
	return page
}

func TestGetPullRequest(t *testing.T) {
	srv := githubStub(t, map[string]interface{}{
		"/repos/acme/widgets/pulls/7": map[string]interface{}{
			"number": 7,
			"title":  "Add retries",
			"state":  "open",
			"merged": false,
			"head":   map[string]string{"ref": "feat/retries"},
			"base":   map[string]string{"ref": "main"},
		},
		"/repos/acme/widgets/pulls/7/files?page=1&per_page=100": filesPage("pkg/client.go", "pkg/retry.go"),
		"/repos/acme/widgets/compare/main...feat/retries": map[string]int{
			"behind_by": 2,
		},
	})

	c := NewGitHubClient("test-token", srv.URL, testLogger())
	pr, err := c.GetPullRequest(context.Background(), "acme", "widgets", 7)
	require.NoError(t, err)

	assert.Equal(t, 7, pr.Number)
	assert.Equal(t, "Add retries", pr.Title)
	assert.Equal(t, "open", pr.State)
	assert.Equal(t, "feat/retries", pr.HeadBranch)
	assert.Equal(t, "main", pr.BaseBranch)
	assert.Equal(t, []string{"pkg/client.go", "pkg/retry.go"}, pr.ChangedFiles)
	assert.Equal(t, 2, pr.BehindBy)
}

func TestGetPullRequestPaginatesFiles(t *testing.T) {
	// 100 files on the first page means the client must keep walking
	// until a short page; stopping early would truncate the file list
	// and hide conflicts.
	var first []string
	for i := 0; i < 100; i++ {
		first = append(first, fmt.Sprintf("pkg/gen/file_%03d.go", i))
	}

	srv := githubStub(t, map[string]interface{}{
		"/repos/acme/widgets/pulls/7": map[string]interface{}{
			"number": 7,
			"state":  "open",
			"head":   map[string]string{"ref": "feat/big"},
			"base":   map[string]string{"ref": "main"},
		},
		"/repos/acme/widgets/pulls/7/files?page=1&per_page=100": filesPage(first...),
		"/repos/acme/widgets/pulls/7/files?page=2&per_page=100": filesPage("pkg/tail_a.go", "pkg/tail_b.go"),
		"/repos/acme/widgets/compare/main...feat/big":           map[string]int{"behind_by": 0},
	})

	c := NewGitHubClient("test-token", srv.URL, testLogger())
	pr, err := c.GetPullRequest(context.Background(), "acme", "widgets", 7)
	require.NoError(t, err)

	require.Len(t, pr.ChangedFiles, 102)
	assert.Equal(t, "pkg/gen/file_000.go", pr.ChangedFiles[0])
	assert.Equal(t, "pkg/tail_b.go", pr.ChangedFiles[101])
}

func TestGetReviews(t *testing.T) {
	srv := githubStub(t, map[string]interface{}{
		"/repos/acme/widgets/pulls/7/reviews?page=1&per_page=100": []map[string]interface{}{
			{"state": "APPROVED", "user": map[string]string{"login": "alice"}},
			{"state": "CHANGES_REQUESTED", "user": map[string]string{"login": "bob"}},
		},
	})

	c := NewGitHubClient("test-token", srv.URL, testLogger())
	reviews, err := c.GetReviews(context.Background(), "acme", "widgets", 7)
	require.NoError(t, err)
	require.Len(t, reviews, 2)
	assert.Equal(t, Review{Reviewer: "alice", State: "APPROVED"}, reviews[0])
}

func TestGetReviewsPaginates(t *testing.T) {
	var first []map[string]interface{}
	for i := 0; i < 100; i++ {
		first = append(first, map[string]interface{}{
			"state": "COMMENTED",
			"user":  map[string]string{"login": fmt.Sprintf("commenter-%03d", i)},
		})
	}

	srv := githubStub(t, map[string]interface{}{
		"/repos/acme/widgets/pulls/7/reviews?page=1&per_page=100": first,
		"/repos/acme/widgets/pulls/7/reviews?page=2&per_page=100": []map[string]interface{}{
			{"state": "APPROVED", "user": map[string]string{"login": "alice"}},
		},
	})

	c := NewGitHubClient("test-token", srv.URL, testLogger())
	reviews, err := c.GetReviews(context.Background(), "acme", "widgets", 7)
	require.NoError(t, err)

	// The approval on the second page must survive pagination, or
	// approval counting undercounts busy PRs.
	require.Len(t, reviews, 101)
	assert.Equal(t, 1, ApprovalCount(reviews))
}

func TestGetCheckStatus(t *testing.T) {
	tests := []struct {
		name      string
		runs      []map[string]string
		wantState string
	}{
		{
			name: "all green",
			runs: []map[string]string{
				{"status": "completed", "conclusion": "success"},
				{"status": "completed", "conclusion": "skipped"},
				{"status": "completed", "conclusion": "neutral"},
			},
			wantState: "success",
		},
		{
			name: "one failure",
			runs: []map[string]string{
				{"status": "completed", "conclusion": "success"},
				{"status": "completed", "conclusion": "failure"},
			},
			wantState: "failure",
		},
		{
			name: "still running",
			runs: []map[string]string{
				{"status": "in_progress", "conclusion": ""},
				{"status": "completed", "conclusion": "success"},
			},
			wantState: "pending",
		},
		{
			name:      "no checks configured",
			runs:      []map[string]string{},
			wantState: "success",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := githubStub(t, map[string]interface{}{
				"/repos/acme/widgets/pulls/7": map[string]interface{}{
					"head": map[string]string{"sha": "abc123"},
				},
				"/repos/acme/widgets/commits/abc123/check-runs?per_page=100": map[string]interface{}{
					"check_runs": tt.runs,
				},
			})

			c := NewGitHubClient("test-token", srv.URL, testLogger())
			status, err := c.GetCheckStatus(context.Background(), "acme", "widgets", 7)
			require.NoError(t, err)
			assert.Equal(t, tt.wantState, status.State)
			assert.Equal(t, len(tt.runs), status.Total)
		})
	}
}

func TestMergePullRequest(t *testing.T) {
	var gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/repos/acme/widgets/pulls/7/merge" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		gotMethod = body["merge_method"]
		json.NewEncoder(w).Encode(map[string]interface{}{
			"merged": true, "sha": "deadbeef", "message": "Pull Request successfully merged",
		})
	}))
	defer srv.Close()

	c := NewGitHubClient("test-token", srv.URL, testLogger())
	res, err := c.MergePullRequest(context.Background(), "acme", "widgets", 7, "squash")
	require.NoError(t, err)
	assert.True(t, res.Merged)
	assert.Equal(t, "deadbeef", res.SHA)
	assert.Equal(t, "squash", gotMethod)
}

func TestUpdateBranch(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		if r.Method != http.MethodPut || r.URL.Path != "/repos/acme/widgets/pulls/7/update-branch" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := NewGitHubClient("test-token", srv.URL, testLogger())
	require.NoError(t, c.UpdateBranch(context.Background(), "acme", "widgets", 7))
	assert.True(t, called)
}

func TestProviderErrorOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"message": "API rate limit exceeded"}`))
	}))
	defer srv.Close()

	c := NewGitHubClient("test-token", srv.URL, testLogger())
	_, err := c.GetPullRequest(context.Background(), "acme", "widgets", 7)
	require.Error(t, err)

	pe, ok := err.(*errors.ProviderError)
	require.True(t, ok, "error = %T, want ProviderError", err)
	assert.Equal(t, http.StatusForbidden, pe.StatusCode)
	assert.True(t, pe.IsRateLimited())
}

func TestRequestCarriesAuthHeaders(t *testing.T) {
	var auth, accept string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		accept = r.Header.Get("Accept")
		json.NewEncoder(w).Encode([]map[string]interface{}{})
	}))
	defer srv.Close()

	c := NewGitHubClient("test-token", srv.URL, testLogger())
	_, err := c.GetReviews(context.Background(), "acme", "widgets", 7)
	require.NoError(t, err)
	assert.Equal(t, "Bearer test-token", auth)
	assert.Equal(t, "application/vnd.github+json", accept)
}

func TestClientRecordsRequestMetrics(t *testing.T) {
	srv := githubStub(t, map[string]interface{}{
		"/repos/acme/widgets/pulls/7/reviews?page=1&per_page=100": []map[string]interface{}{},
	})

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	c := NewGitHubClient("test-token", srv.URL, testLogger()).WithMetrics(metrics)

	_, err := c.GetReviews(context.Background(), "acme", "widgets", 7)
	require.NoError(t, err)

	got := testutil.ToFloat64(metrics.ProviderRequestsTotal.WithLabelValues("GetReviews", "200"))
	assert.Equal(t, 1.0, got)
}
