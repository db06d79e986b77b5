package vision

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/lox/sanitrack/internal/metrics"
	"github.com/lox/sanitrack/internal/scoring"
)

const systemPrompt = `You are a sanitation inspection assistant. Analyze the toilet or restroom image and return ONLY a JSON object with these fields:
- litter_count: integer (number of pieces of litter or trash visible)
- wet_floor_detected: boolean (true if the floor appears wet)
- overflow_detected: boolean (true if any toilet, urinal or sink is overflowing)
Return ONLY valid JSON, no markdown, no explanation.`

const userPrompt = "Analyze this restroom image for cleanliness issues."

// ErrUpstream wraps failures talking to the vision model.
var ErrUpstream = errors.New("vision upstream unavailable")

// Analyzer extracts inspection signals from a photo using a chat model with
// image input.
type Analyzer struct {
	client     openai.Client
	model      string
	maxElapsed time.Duration
}

// NewAnalyzer creates an analyzer. It reads the OPENAI_API_KEY environment
// variable for authentication unless opts supply a key.
func NewAnalyzer(model string, opts ...option.RequestOption) (*Analyzer, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" && len(opts) == 0 {
		return nil, errors.New("OPENAI_API_KEY environment variable not set")
	}
	if model == "" {
		model = "gpt-4o-mini"
	}

	clientOpts := []option.RequestOption{option.WithMaxRetries(0)}
	if apiKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(apiKey))
	}
	clientOpts = append(clientOpts, opts...)

	return &Analyzer{
		client:     openai.NewClient(clientOpts...),
		model:      model,
		maxElapsed: time.Minute,
	}, nil
}

// SetMaxElapsed bounds the total time spent retrying one analysis.
func (a *Analyzer) SetMaxElapsed(d time.Duration) {
	if d > 0 {
		a.maxElapsed = d
	}
}

// Result is the outcome of analyzing one image.
type Result struct {
	Signals scoring.Signals
	Raw     []byte // JSON object extracted from the model reply
}

// Analyze sends the image to the model and parses the signals from its reply.
func (a *Analyzer) Analyze(ctx context.Context, image []byte, contentType string) (*Result, error) {
	if len(image) == 0 {
		return nil, errors.New("empty image")
	}
	if contentType == "" {
		contentType = http.DetectContentType(image)
	}
	dataURL := "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(image)

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(a.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: dataURL}),
				openai.TextContentPart(userPrompt),
			}),
		},
		MaxCompletionTokens: openai.Int(200),
	}

	start := time.Now()
	var content string
	operation := func() error {
		resp, err := a.client.Chat.Completions.New(ctx, params)
		if err != nil {
			var apiErr *openai.Error
			if errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500) {
				return err
			}
			return backoff.Permanent(err)
		}
		if len(resp.Choices) == 0 {
			return backoff.Permanent(errors.New("no choices returned"))
		}
		content = resp.Choices[0].Message.Content
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = a.maxElapsed
	err := backoff.Retry(operation, backoff.WithContext(bo, ctx))
	metrics.UpstreamLatency.WithLabelValues("vision").Observe(time.Since(start).Seconds())
	metrics.UpstreamCallsTotal.WithLabelValues("vision", metrics.Status(err)).Inc()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	signals, raw, err := ParseReply(content)
	if err != nil {
		slog.Warn("vision reply not parseable", "error", err, "reply_len", len(content))
		return nil, err
	}
	return &Result{Signals: signals, Raw: raw}, nil
}
