package autobump

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/sony/gobreaker"
)

// Bump PR dispatch outcomes reported by the PR service.
const (
	StatusCreated       = "created"
	StatusAlreadyExists = "already_exists"
)

// BumpPRRequest asks the PR service to open a version-bump pull
// request against one project.
type BumpPRRequest struct {
	ProjectID      string `json:"project_id"`
	OrganizationID string `json:"organization_id"`
	PackageName    string `json:"package_name"`
	TargetVersion  string `json:"target_version"`
	CurrentVersion string `json:"current_version,omitempty"`
}

// BumpPR is the PR service's answer to a successful request.
type BumpPR struct {
	Status string `json:"status"`
	URL    string `json:"pr_url,omitempty"`
	Number int    `json:"pr_number,omitempty"`
}

// PRService creates bump pull requests. The production implementation
// is Client; tests substitute fakes.
type PRService interface {
	CreateBumpPR(ctx context.Context, req BumpPRRequest) (*BumpPR, error)
}

var _ PRService = (*Client)(nil)

// ServiceError is a structured refusal from the PR service, as
// opposed to a transport failure. Refusals below 500 do not count
// against the circuit breaker.
type ServiceError struct {
	StatusCode int
	Reason     string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("pr service: %s (status %d)", e.Reason, e.StatusCode)
}

// prWarnReasons are refusals that are expected in steady state: the
// project cannot receive a PR, which is not the worker's problem to
// fix.
var prWarnReasons = []string{
	"no GitHub App",
	"no GitHub repository",
	"dependency is transitive",
}

// degradedReason returns the matched refusal marker, or "".
func degradedReason(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	for _, r := range prWarnReasons {
		if strings.Contains(msg, r) {
			return r
		}
	}
	return ""
}

// Client is an HTTP PRService with a circuit breaker. A run of
// transport or server errors opens the breaker and later candidates
// fail fast instead of waiting on a dead service.
type Client struct {
	root *url.URL
	c    *http.Client
	cb   *gobreaker.CircuitBreaker
}

// NewClient returns a Client rooted at root. A nil http.Client means
// http.DefaultClient.
func NewClient(root string, c *http.Client) (*Client, error) {
	if c == nil {
		c = http.DefaultClient
	}
	u, err := url.Parse(root)
	if err != nil {
		return nil, fmt.Errorf("autobump: bad PR service URL: %w", err)
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: "pr-service",
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var se *ServiceError
			return errors.As(err, &se) && se.StatusCode < http.StatusInternalServerError
		},
	})
	return &Client{
		root: u,
		c:    c,
		cb:   cb,
	}, nil
}

// CreateBumpPR implements [PRService].
func (c *Client) CreateBumpPR(ctx context.Context, req BumpPRRequest) (*BumpPR, error) {
	u, err := c.root.Parse("bump-prs")
	if err != nil {
		return nil, fmt.Errorf("autobump: bad PR service URL: %w", err)
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("autobump: encode PR request: %w", err)
	}

	pr, err := c.cb.Execute(func() (interface{}, error) {
		return c.do(ctx, u.String(), body)
	})
	if err != nil {
		return nil, err
	}
	return pr.(*BumpPR), nil
}

func (c *Client) do(ctx context.Context, u string, body []byte) (*BumpPR, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("autobump: create PR request: %w", err)
	}
	req.Header.Set("content-type", "application/json")

	res, err := c.c.Do(req)
	if err != nil {
		return nil, fmt.Errorf("autobump: PR service request: %w", err)
	}
	defer res.Body.Close()
	switch {
	case res.StatusCode >= 200 && res.StatusCode < 300:
		var pr BumpPR
		if err := json.NewDecoder(res.Body).Decode(&pr); err != nil {
			return nil, fmt.Errorf("autobump: decode PR response: %w", err)
		}
		if pr.Status == "" {
			pr.Status = StatusCreated
		}
		return &pr, nil
	case res.StatusCode == http.StatusConflict:
		return &BumpPR{Status: StatusAlreadyExists}, nil
	case res.StatusCode < 500:
		return nil, &ServiceError{
			StatusCode: res.StatusCode,
			Reason:     errorReason(res),
		}
	default:
		return nil, fmt.Errorf("autobump: PR service status %d", res.StatusCode)
	}
}

// errorReason pulls the error field out of a refusal body, falling
// back to the HTTP status text.
func errorReason(res *http.Response) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err == nil && body.Error != "" {
		return body.Error
	}
	return http.StatusText(res.StatusCode)
}
