package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/nvops/ticket-triage/internal/utils"
)

// OrderInfo is the per-order snapshot returned by the order service, keyed
// by tracking id in search responses.
type OrderInfo struct {
	OrderID        int64   `json:"id"`
	TrackingID     string  `json:"tracking_id"`
	GranularStatus *string `json:"granular_status"`
	Status         *string `json:"status"`
	IsRTS          bool    `json:"is_rts"`
	Address        *string `json:"to_address1"`
	Province       *string `json:"to_province"`
	District       *string `json:"to_district"`
	Ward           *string `json:"to_ward"`
	ZoneName       *string `json:"zone_name"`
}

// AddressUpdate is the payload of a change-address side effect, applied
// when an address-change ticket is approved.
type AddressUpdate struct {
	OrderID  int64  `json:"order_id"`
	Address  string `json:"address1"`
	Province string `json:"province"`
	District string `json:"district"`
	Ward     string `json:"ward"`
}

// OrderClient talks to the order service: batched search and the
// change-address mutation.
type OrderClient struct {
	c       *Client
	baseURL string
	tokens  *TokenManager
	chunk   int
	log     zerolog.Logger
}

// NewOrderClient builds an order client; chunk bounds ids per search call.
func NewOrderClient(c *Client, baseURL string, tokens *TokenManager, chunk int, log zerolog.Logger) *OrderClient {
	return &OrderClient{
		c:       c,
		baseURL: baseURL,
		tokens:  tokens,
		chunk:   chunk,
		log:     log.With().Str("component", "orders").Logger(),
	}
}

type orderSearchRequest struct {
	TrackingIDs []string `json:"tracking_ids"`
}

type orderSearchResponse struct {
	Orders []OrderInfo `json:"orders"`
}

// Search fetches order snapshots for the given tracking ids, chunked to the
// service's per-call limit. A failed chunk only loses that chunk's orders:
// the remaining chunks are still attempted and the partial map is returned
// alongside the joined errors, so the caller can apply what arrived.
func (o *OrderClient) Search(ctx context.Context, trackingIDs []string) (map[string]OrderInfo, error) {
	token, err := o.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	headers := map[string]string{"Authorization": "Bearer " + token}

	out := make(map[string]OrderInfo, len(trackingIDs))
	url := o.baseURL + "/core/orders/search"
	var errs []error
	for _, chunk := range utils.Chunk(trackingIDs, o.chunk) {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		var resp orderSearchResponse
		err := o.c.DoJSON(ctx, http.MethodPost, url, headers, orderSearchRequest{TrackingIDs: chunk}, &resp)
		if err != nil {
			o.invalidateOnAuth(err)
			o.log.Warn().Err(err).Int("chunk", len(chunk)).Msg("order search chunk failed")
			errs = append(errs, fmt.Errorf("order search: %w", err))
			continue
		}
		for _, info := range resp.Orders {
			out[info.TrackingID] = info
		}
	}
	o.log.Debug().Int("requested", len(trackingIDs)).Int("found", len(out)).Msg("order search done")
	return out, errors.Join(errs...)
}

// ChangeAddress applies an approved address change to one order.
func (o *OrderClient) ChangeAddress(ctx context.Context, upd AddressUpdate) error {
	token, err := o.tokens.Token(ctx)
	if err != nil {
		return err
	}
	headers := map[string]string{"Authorization": "Bearer " + token}

	url := fmt.Sprintf("%s/core/orders/%d/address", o.baseURL, upd.OrderID)
	if err := o.c.DoJSON(ctx, http.MethodPut, url, headers, upd, nil); err != nil {
		o.invalidateOnAuth(err)
		return fmt.Errorf("change address order %d: %w", upd.OrderID, err)
	}
	return nil
}

func (o *OrderClient) invalidateOnAuth(err error) {
	var serr *StatusError
	if errors.As(err, &serr) && serr.Status == http.StatusUnauthorized {
		o.tokens.Invalidate()
	}
}
