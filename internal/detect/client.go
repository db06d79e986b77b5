// Package detect talks to the external object detector that finds litter,
// stains and other cleanliness problems in inspection photos.
package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/lox/sanitrack/internal/httputil"
	"github.com/lox/sanitrack/internal/metrics"
	"github.com/lox/sanitrack/internal/scoring"
)

// ErrUpstream wraps failures talking to the detector.
var ErrUpstream = errors.New("detector upstream unavailable")

type Client struct {
	url        string
	client     *http.Client
	maxElapsed time.Duration
}

func NewClient(url string, timeout time.Duration) *Client {
	return &Client{
		url:        url,
		client:     httputil.NewClient(timeout),
		maxElapsed: time.Minute,
	}
}

// Response is the detector's reply. Method names the model that produced it.
type Response struct {
	Method     string              `json:"method"`
	Detections []scoring.Detection `json:"detections"`
}

// Detect uploads an image and returns the detector's findings along with the
// raw response body.
func (c *Client) Detect(ctx context.Context, filename string, image []byte) (*Response, []byte, error) {
	var payload bytes.Buffer
	mw := multipart.NewWriter(&payload)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, nil, err
	}
	if _, err := part.Write(image); err != nil {
		return nil, nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, nil, err
	}

	start := time.Now()
	var body []byte
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload.Bytes()))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", mw.FormDataContentType())

		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("post image: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return fmt.Errorf("detector busy: status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			return backoff.Permanent(fmt.Errorf("detect: status %d: %s", resp.StatusCode, string(b)))
		}

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("read body: %w", err))
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = c.maxElapsed
	err = backoff.Retry(operation, backoff.WithContext(bo, ctx))
	metrics.UpstreamLatency.WithLabelValues("detector").Observe(time.Since(start).Seconds())
	metrics.UpstreamCallsTotal.WithLabelValues("detector", metrics.Status(err)).Inc()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	var out Response
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, nil, fmt.Errorf("%w: unmarshal: %v", ErrUpstream, err)
	}
	if out.Method == "" {
		out.Method = "detector"
	}
	if out.Detections == nil {
		out.Detections = []scoring.Detection{}
	}
	return &out, body, nil
}
