package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/nvops/ticket-triage/internal/utils"
)

// TicketResolution is one entry of a mass-update payload.
type TicketResolution struct {
	TicketID       int64  `json:"ticket_id"`
	TrackingID     string `json:"tracking_id"`
	Outcome        string `json:"custom_fields_outcome,omitempty"`
	NewInstruction string `json:"new_instruction,omitempty"`
	ResolverReason string `json:"investigating_hub_notes,omitempty"`
}

// mass-update per-ticket statuses reported by the ticketing service
const (
	MassUpdateSuccess = "SUCCESS"
	MassUpdateFailed  = "FAILED"
)

// TicketingClient commits decisions against the external ticketing service.
// Both operations are batch, best-effort per item: the response maps each
// ticket id to its own status.
type TicketingClient struct {
	c       *Client
	baseURL string
	tokens  *TokenManager
	chunk   int
	log     zerolog.Logger
}

// NewTicketingClient builds a ticketing client; chunk bounds tickets per
// mass-update call.
func NewTicketingClient(c *Client, baseURL string, tokens *TokenManager, chunk int, log zerolog.Logger) *TicketingClient {
	return &TicketingClient{
		c:       c,
		baseURL: baseURL,
		tokens:  tokens,
		chunk:   chunk,
		log:     log.With().Str("component", "ticketing").Logger(),
	}
}

type massUpdateRequest struct {
	Tickets []TicketResolution `json:"tickets"`
}

type massUpdateResponse struct {
	// keyed by ticket id rendered as a string
	Statuses map[string]struct {
		Status string `json:"status"`
	} `json:"statuses"`
}

// Resolve marks the given tickets resolved. The returned map holds, per
// ticket id, whether the ticketing service accepted it; tickets absent from
// the service's response are reported failed.
func (t *TicketingClient) Resolve(ctx context.Context, items []TicketResolution) (map[int64]bool, error) {
	return t.massUpdate(ctx, "/ticketing/tickets/resolve", items)
}

// Cancel cancels the given tickets, with the same per-item semantics as
// Resolve.
func (t *TicketingClient) Cancel(ctx context.Context, items []TicketResolution) (map[int64]bool, error) {
	return t.massUpdate(ctx, "/ticketing/tickets/cancel", items)
}

func (t *TicketingClient) massUpdate(ctx context.Context, path string, items []TicketResolution) (map[int64]bool, error) {
	token, err := t.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	headers := map[string]string{"Authorization": "Bearer " + token}

	out := make(map[int64]bool, len(items))
	url := t.baseURL + path
	for _, chunk := range utils.Chunk(items, t.chunk) {
		var resp massUpdateResponse
		err := t.c.DoJSON(ctx, http.MethodPut, url, headers, massUpdateRequest{Tickets: chunk}, &resp)
		if err != nil {
			t.invalidateOnAuth(err)
			return out, fmt.Errorf("ticket mass update: %w", err)
		}
		for _, item := range chunk {
			entry, ok := resp.Statuses[strconv.FormatInt(item.TicketID, 10)]
			out[item.TicketID] = ok && entry.Status == MassUpdateSuccess
		}
	}
	return out, nil
}

func (t *TicketingClient) invalidateOnAuth(err error) {
	var serr *StatusError
	if errors.As(err, &serr) && serr.Status == http.StatusUnauthorized {
		t.tokens.Invalidate()
	}
}
