package flowcore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client talks to the Flowcore fleet manager REST API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *Client) do(method, path string, body any, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("flowcore marshal: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("flowcore %s %s: %w", method, path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("flowcore %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	return c.decode(resp, result)
}

func (c *Client) get(path string, result any) error {
	return c.do(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.do(http.MethodPost, path, body, result)
}

func (c *Client) decode(resp *http.Response, result any) error {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("flowcore read body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("flowcore HTTP %d: %s", resp.StatusCode, string(data))
	}
	if result != nil {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("flowcore decode: %w", err)
		}
	}
	return nil
}

// CreateJob submits a transport job.
func (c *Client) CreateJob(req JobRequest) (*JobDetails, error) {
	var details JobDetails
	if err := c.post("/api/v1/jobs", req, &details); err != nil {
		return nil, err
	}
	return &details, nil
}

// GetJobDetails fetches a job by the id we assigned at creation.
func (c *Client) GetJobDetails(jobID string) (*JobDetails, error) {
	var details JobDetails
	if err := c.get("/api/v1/jobs/"+jobID, &details); err != nil {
		return nil, err
	}
	return &details, nil
}

// ListJobs fetches all jobs under our namekey.
func (c *Client) ListJobs(namekey string) ([]JobDetails, error) {
	var jobs []JobDetails
	if err := c.get("/api/v1/jobs?namekey="+namekey, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// CancelJobByRobot cancels whatever job the named robot is running.
func (c *Client) CancelJobByRobot(robotName, reason string) error {
	return c.post("/api/v1/jobs/cancel/robot", JobCancelByRobotName{
		RobotName:    robotName,
		CancelReason: reason,
	}, nil)
}

// CancelJobByNamekey cancels a job by namekey and optional job id.
func (c *Client) CancelJobByNamekey(namekey, jobID, reason string) error {
	return c.post("/api/v1/jobs/cancel/namekey", JobCancelByNamekey{
		Namekey:      namekey,
		JobID:        jobID,
		CancelReason: reason,
	}, nil)
}

// Ping checks API reachability.
func (c *Client) Ping() error {
	return c.get("/api/v1/health", nil)
}

// BaseURL returns the client's base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// Reconfigure updates the client's endpoint settings for hot-reload.
func (c *Client) Reconfigure(baseURL, apiKey string, timeout time.Duration) {
	c.baseURL = baseURL
	c.apiKey = apiKey
	c.httpClient.Timeout = timeout
}
