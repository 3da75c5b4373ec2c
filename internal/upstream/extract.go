package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ErrMalformedExtraction is returned when the AI response does not parse as
// the requested schema. The caller skips the batch; the tickets stay
// pending and are re-extracted on the next run.
var ErrMalformedExtraction = errors.New("upstream: extraction output does not match schema")

// Prompt templates are fixed and versioned: the schema the rules depend on
// must not drift with ad-hoc prompt edits. Bump the version when the
// instructions change.
const (
	addressPromptVersion = "address-v2"
	datePromptVersion    = "date-v1"

	addressPrompt = `You extract Vietnamese delivery addresses from courier ticket notes.
For each entry in the input JSON array, read "text" and return a JSON array
(no surrounding prose, no code fences) of objects with exactly these keys:
"id" (copy from input), "input" (the normalized text you parsed),
"address" (street-level address or null), "province", "district", "ward"
(official names, null when absent). Return one output object per input
entry, in the same order.
Input: `

	datePrompt = `You extract requested redelivery dates from courier ticket notes.
For each entry in the input JSON array, read "text" and return a JSON array
(no surrounding prose, no code fences) of objects with exactly these keys:
"id" (copy from input) and "date" (the requested delivery date as
YYYY-MM-DD, or null when the text holds no recognizable date). Dates
without a year are in the current year. Return one output object per input
entry, in the same order.
Input: `
)

// ExtractItem is one ticket's free text sent for extraction.
type ExtractItem struct {
	ID   int64  `json:"id"`
	Text string `json:"text"`
}

// AddressExtraction is the structured answer for one address ticket.
type AddressExtraction struct {
	ID       int64   `json:"id"`
	Input    *string `json:"input"`
	Address  *string `json:"address"`
	Province *string `json:"province"`
	District *string `json:"district"`
	Ward     *string `json:"ward"`
}

// DateExtraction is the structured answer for one date ticket.
type DateExtraction struct {
	ID   int64   `json:"id"`
	Date *string `json:"date"`
}

// ExtractClient calls the AI extraction service. Calls are throttled by a
// shared limiter so bursts of batches stay inside the service's quota.
type ExtractClient struct {
	c       *Client
	baseURL string
	apiKey  string
	limiter *rate.Limiter
	log     zerolog.Logger
}

// NewExtractClient builds an extraction client allowing rpm calls per minute.
func NewExtractClient(c *Client, baseURL, apiKey string, rpm int, log zerolog.Logger) *ExtractClient {
	if rpm <= 0 {
		rpm = 1
	}
	return &ExtractClient{
		c:       c,
		baseURL: baseURL,
		apiKey:  apiKey,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1),
		log:     log.With().Str("component", "extract").Logger(),
	}
}

type generateRequest struct {
	PromptVersion string `json:"prompt_version"`
	Prompt        string `json:"prompt"`
}

type generateResponse struct {
	Text string `json:"text"`
}

// ExtractAddresses sends one batch of address texts and returns the parsed
// answers. Malformed output returns ErrMalformedExtraction with no partial
// results.
func (e *ExtractClient) ExtractAddresses(ctx context.Context, batch []ExtractItem) ([]AddressExtraction, error) {
	raw, err := e.generate(ctx, addressPromptVersion, addressPrompt, batch)
	if err != nil {
		return nil, err
	}
	var out []AddressExtraction
	if err := json.Unmarshal(raw, &out); err != nil {
		e.log.Warn().Err(err).Int("batch", len(batch)).Msg("address extraction output unparseable, batch skipped")
		return nil, ErrMalformedExtraction
	}
	return out, nil
}

// ExtractDates sends one batch of date texts and returns the parsed answers.
func (e *ExtractClient) ExtractDates(ctx context.Context, batch []ExtractItem) ([]DateExtraction, error) {
	raw, err := e.generate(ctx, datePromptVersion, datePrompt, batch)
	if err != nil {
		return nil, err
	}
	var out []DateExtraction
	if err := json.Unmarshal(raw, &out); err != nil {
		e.log.Warn().Err(err).Int("batch", len(batch)).Msg("date extraction output unparseable, batch skipped")
		return nil, ErrMalformedExtraction
	}
	return out, nil
}

func (e *ExtractClient) generate(ctx context.Context, version, prompt string, batch []ExtractItem) (json.RawMessage, error) {
	if len(batch) == 0 {
		return json.RawMessage("[]"), nil
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	input, err := json.Marshal(batch)
	if err != nil {
		return nil, fmt.Errorf("encode extraction batch: %w", err)
	}
	req := generateRequest{PromptVersion: version, Prompt: prompt + string(input)}
	headers := map[string]string{"X-API-Key": e.apiKey}

	var resp generateResponse
	if err := e.c.DoJSON(ctx, http.MethodPost, e.baseURL+"/v1/generate", headers, req, &resp); err != nil {
		return nil, err
	}
	return json.RawMessage(stripFences(resp.Text)), nil
}

// stripFences removes a markdown code fence the model sometimes wraps its
// JSON in despite the instructions.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
	}
	return strings.TrimSpace(s)
}
