package faceclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Match is one candidate student from a gallery search.
type Match struct {
	StudentID  string  `json:"user_id"`
	Similarity float64 `json:"similarity"`
	Name       string  `json:"name,omitempty"`
}

// SearchResult contains 1:N identification results.
type SearchResult struct {
	Matches       []Match
	FacesDetected int
}

// EnrollResult contains the enrollment response.
type EnrollResult struct {
	StudentID string
	Success   bool
	Message   string
}

// Client calls the face recognition microservice that backs face-scan
// attendance.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	// Skip returns mock results so the worker runs without the service.
	Skip bool
}

// New creates a client. Face processing is slow, hence the long timeout.
func New(baseURL string, skip bool) *Client {
	return &Client{
		BaseURL: baseURL,
		Skip:    skip,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Health checks if the face service is available.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service unavailable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("face service unhealthy: %s", resp.Status)
	}
	return nil
}

// Identify runs a 1:N search of the scan image against enrolled students.
func (c *Client) Identify(ctx context.Context, imageURL string, threshold float64) (*SearchResult, error) {
	if c.Skip {
		return &SearchResult{
			Matches:       []Match{{StudentID: "mock-student", Similarity: 0.92}},
			FacesDetected: 1,
		}, nil
	}
	if imageURL == "" {
		return nil, fmt.Errorf("image url required")
	}

	payload := map[string]interface{}{
		"image_url": imageURL,
		"top_k":     1,
	}
	if threshold > 0 {
		payload["threshold"] = threshold
	}

	var out struct {
		Matches       []Match `json:"matches"`
		FacesDetected int     `json:"faces_detected"`
	}
	if err := c.post(ctx, "/search", payload, &out); err != nil {
		return nil, err
	}
	return &SearchResult{Matches: out.Matches, FacesDetected: out.FacesDetected}, nil
}

// Enroll adds a student's ID photo to the recognition gallery.
func (c *Client) Enroll(ctx context.Context, studentID, imageURL, name string) (*EnrollResult, error) {
	if c.Skip {
		return &EnrollResult{StudentID: studentID, Success: true, Message: "enrolled (mock)"}, nil
	}

	payload := map[string]interface{}{
		"user_id":   studentID,
		"image_url": imageURL,
	}
	if name != "" {
		payload["name"] = name
	}

	var out struct {
		UserID  string `json:"user_id"`
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	if err := c.post(ctx, "/enroll", payload, &out); err != nil {
		return nil, err
	}
	return &EnrollResult{StudentID: out.UserID, Success: out.Success, Message: out.Message}, nil
}

func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("face service error %s: %s", resp.Status, string(respBody))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
