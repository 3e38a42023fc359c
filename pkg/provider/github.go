package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/mergeplane/mergeplane/pkg/errors"
	"github.com/mergeplane/mergeplane/pkg/observability"
)

const defaultGitHubBaseURL = "https://api.github.com"

// githubPageSize is the largest page GitHub serves for list endpoints.
// List calls walk pages until a short page marks the end.
const githubPageSize = 100

// GitHubClient implements Client against the GitHub REST API v3.
type GitHubClient struct {
	baseURL string
	client  *http.Client
	log     *logrus.Logger
	metrics *observability.Metrics
}

// NewGitHubClient creates a GitHub client authenticated with a personal
// access or installation token. baseURL overrides the API host for GitHub
// Enterprise; pass "" for github.com.
func NewGitHubClient(token, baseURL string, log *logrus.Logger) *GitHubClient {
	if baseURL == "" {
		baseURL = defaultGitHubBaseURL
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	client := oauth2.NewClient(context.Background(), src)
	client.Timeout = 30 * time.Second

	return &GitHubClient{baseURL: baseURL, client: client, log: log}
}

// WithMetrics instruments API calls. A nil metrics disables recording.
func (c *GitHubClient) WithMetrics(m *observability.Metrics) *GitHubClient {
	c.metrics = m
	return c
}

// GetPullRequest fetches a PR plus its changed file list.
func (c *GitHubClient) GetPullRequest(ctx context.Context, owner, repo string, number int) (*PullRequest, error) {
	var raw struct {
		Number int    `json:"number"`
		Title  string `json:"title"`
		State  string `json:"state"`
		Merged bool   `json:"merged"`
		Head   struct {
			Ref string `json:"ref"`
		} `json:"head"`
		Base struct {
			Ref string `json:"ref"`
		} `json:"base"`
	}
	path := fmt.Sprintf("/repos/%s/%s/pulls/%d", owner, repo, number)
	if err := c.getJSON(ctx, "GetPullRequest", path, &raw); err != nil {
		return nil, err
	}

	pr := &PullRequest{
		Number:     raw.Number,
		Title:      raw.Title,
		HeadBranch: raw.Head.Ref,
		BaseBranch: raw.Base.Ref,
		State:      raw.State,
		Merged:     raw.Merged,
	}

	files, err := c.listFiles(ctx, owner, repo, number)
	if err != nil {
		return nil, err
	}
	pr.ChangedFiles = files

	behind, err := c.compareBehind(ctx, owner, repo, raw.Base.Ref, raw.Head.Ref)
	if err != nil {
		// Behind-by is advisory for requireUpToDate; a failed compare
		// is reported, not papered over.
		return nil, err
	}
	pr.BehindBy = behind

	return pr, nil
}

// GetReviews fetches all submitted reviews for a PR.
func (c *GitHubClient) GetReviews(ctx context.Context, owner, repo string, number int) ([]Review, error) {
	var reviews []Review
	for page := 1; ; page++ {
		var raw []struct {
			State string `json:"state"`
			User  struct {
				Login string `json:"login"`
			} `json:"user"`
		}
		path := fmt.Sprintf("/repos/%s/%s/pulls/%d/reviews?page=%d&per_page=%d",
			owner, repo, number, page, githubPageSize)
		if err := c.getJSON(ctx, "GetReviews", path, &raw); err != nil {
			return nil, err
		}
		for _, r := range raw {
			reviews = append(reviews, Review{Reviewer: r.User.Login, State: r.State})
		}
		if len(raw) < githubPageSize {
			return reviews, nil
		}
	}
}

// GetCheckStatus summarizes check runs for the PR head.
func (c *GitHubClient) GetCheckStatus(ctx context.Context, owner, repo string, number int) (*CheckStatus, error) {
	var head struct {
		Head struct {
			SHA string `json:"sha"`
		} `json:"head"`
	}
	if err := c.getJSON(ctx, "GetCheckStatus",
		fmt.Sprintf("/repos/%s/%s/pulls/%d", owner, repo, number), &head); err != nil {
		return nil, err
	}

	var runs struct {
		CheckRuns []struct {
			Status     string `json:"status"`
			Conclusion string `json:"conclusion"`
		} `json:"check_runs"`
	}
	path := fmt.Sprintf("/repos/%s/%s/commits/%s/check-runs?per_page=100", owner, repo, head.Head.SHA)
	if err := c.getJSON(ctx, "GetCheckStatus", path, &runs); err != nil {
		return nil, err
	}

	status := &CheckStatus{Total: len(runs.CheckRuns)}
	for _, run := range runs.CheckRuns {
		switch {
		case run.Status != "completed":
			status.Pending++
		case run.Conclusion == "success" || run.Conclusion == "neutral" || run.Conclusion == "skipped":
			status.Passed++
		default:
			status.Failed++
		}
	}

	switch {
	case status.Failed > 0:
		status.State = "failure"
	case status.Pending > 0:
		status.State = "pending"
	default:
		status.State = "success"
	}
	return status, nil
}

// UpdateBranch asks GitHub to merge the base branch into the PR head.
func (c *GitHubClient) UpdateBranch(ctx context.Context, owner, repo string, number int) error {
	path := fmt.Sprintf("/repos/%s/%s/pulls/%d/update-branch", owner, repo, number)
	return c.do(ctx, "UpdateBranch", http.MethodPut, path, nil, nil)
}

// MergePullRequest lands the PR with the given method.
func (c *GitHubClient) MergePullRequest(ctx context.Context, owner, repo string, number int, method string) (*MergeResult, error) {
	body := map[string]string{"merge_method": method}
	var raw struct {
		Merged  bool   `json:"merged"`
		SHA     string `json:"sha"`
		Message string `json:"message"`
	}
	path := fmt.Sprintf("/repos/%s/%s/pulls/%d/merge", owner, repo, number)
	if err := c.do(ctx, "MergePullRequest", http.MethodPut, path, body, &raw); err != nil {
		return nil, err
	}
	return &MergeResult{Merged: raw.Merged, SHA: raw.SHA, Message: raw.Message}, nil
}

func (c *GitHubClient) listFiles(ctx context.Context, owner, repo string, number int) ([]string, error) {
	var files []string
	for page := 1; ; page++ {
		var raw []struct {
			Filename string `json:"filename"`
		}
		path := fmt.Sprintf("/repos/%s/%s/pulls/%d/files?page=%d&per_page=%d",
			owner, repo, number, page, githubPageSize)
		if err := c.getJSON(ctx, "GetPullRequest", path, &raw); err != nil {
			return nil, err
		}
		for _, f := range raw {
			files = append(files, f.Filename)
		}
		if len(raw) < githubPageSize {
			return files, nil
		}
	}
}

func (c *GitHubClient) compareBehind(ctx context.Context, owner, repo, base, head string) (int, error) {
	var raw struct {
		BehindBy int `json:"behind_by"`
	}
	path := fmt.Sprintf("/repos/%s/%s/compare/%s...%s", owner, repo, base, head)
	if err := c.getJSON(ctx, "GetPullRequest", path, &raw); err != nil {
		return 0, err
	}
	return raw.BehindBy, nil
}

func (c *GitHubClient) getJSON(ctx context.Context, op, path string, out interface{}) error {
	return c.do(ctx, op, http.MethodGet, path, nil, out)
}

func (c *GitHubClient) do(ctx context.Context, op, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.NewProvider(op, 0, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errors.NewProvider(op, 0, err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if c.metrics != nil {
		status := "error"
		if err == nil {
			status = strconv.Itoa(resp.StatusCode)
		}
		c.metrics.ProviderRequestsTotal.WithLabelValues(op, status).Inc()
		c.metrics.ProviderRequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return errors.NewProvider(op, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.log.WithFields(logrus.Fields{
			"op":     op,
			"status": resp.StatusCode,
			"path":   path,
		}).Warn("github api call failed")
		return errors.NewProvider(op, resp.StatusCode,
			fmt.Errorf("unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(data)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return errors.NewProvider(op, 0, fmt.Errorf("failed to decode response: %w", err))
		}
	}
	return nil
}
