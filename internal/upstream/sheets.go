package upstream

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
)

// SheetClient appends rows to the reporting spreadsheet. Append-only by
// contract: rows are never amended or removed once written.
type SheetClient struct {
	c             *Client
	baseURL       string
	spreadsheetID string
	log           zerolog.Logger
}

// NewSheetClient builds a sheet client for one spreadsheet.
func NewSheetClient(c *Client, baseURL, spreadsheetID string, log zerolog.Logger) *SheetClient {
	return &SheetClient{
		c:             c,
		baseURL:       baseURL,
		spreadsheetID: spreadsheetID,
		log:           log.With().Str("component", "sheets").Logger(),
	}
}

type appendRequest struct {
	SpreadsheetID string     `json:"spreadsheet_id"`
	Worksheet     string     `json:"worksheet"`
	Values        [][]string `json:"values"`
}

// Append writes rows to the named worksheet. An error means nothing may be
// assumed written; the caller must not mark anything exported.
func (s *SheetClient) Append(ctx context.Context, worksheet string, rows [][]string) error {
	if len(rows) == 0 {
		return nil
	}
	req := appendRequest{SpreadsheetID: s.spreadsheetID, Worksheet: worksheet, Values: rows}
	if err := s.c.DoJSON(ctx, http.MethodPost, s.baseURL+"/v1/append", nil, req, nil); err != nil {
		return fmt.Errorf("sheet append: %w", err)
	}
	s.log.Info().Str("worksheet", worksheet).Int("rows", len(rows)).Msg("rows appended")
	return nil
}
