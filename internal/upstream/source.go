package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// ErrQueryTimeout is returned when the source query job does not finish
// within the polling budget.
var ErrQueryTimeout = errors.New("upstream: source query did not finish in time")

// SourceClient pulls raw ticket rows from the reporting warehouse through
// its query-results API: refresh a saved query, poll the job, then fetch
// the result rows.
type SourceClient struct {
	c       *Client
	baseURL string
	apiKey  string
	log     zerolog.Logger

	pollEvery time.Duration
	pollMax   int
}

// NewSourceClient builds a source client for the query-results API.
func NewSourceClient(c *Client, baseURL, apiKey string, log zerolog.Logger) *SourceClient {
	return &SourceClient{
		c:         c,
		baseURL:   baseURL,
		apiKey:    apiKey,
		log:       log.With().Str("component", "source").Logger(),
		pollEvery: 2 * time.Second,
		pollMax:   60,
	}
}

type refreshResponse struct {
	Job struct {
		ID            string `json:"id"`
		Status        int    `json:"status"`
		QueryResultID *int64 `json:"query_result_id"`
		Error         string `json:"error"`
	} `json:"job"`
}

type queryResultResponse struct {
	QueryResult struct {
		Data struct {
			Rows []json.RawMessage `json:"rows"`
		} `json:"data"`
	} `json:"query_result"`
}

// job status codes of the query-results API
const (
	jobFinished = 3
	jobFailed   = 4
)

// FetchRows refreshes the saved query and returns its raw result rows.
// Rows are returned undecoded; the ingestion stage owns per-category
// decoding so one malformed row cannot poison the pull.
func (s *SourceClient) FetchRows(ctx context.Context, queryID int64) ([]json.RawMessage, error) {
	headers := map[string]string{"Authorization": "Key " + s.apiKey}

	var refreshed refreshResponse
	url := fmt.Sprintf("%s/api/queries/%d/refresh", s.baseURL, queryID)
	if err := s.c.DoJSON(ctx, http.MethodPost, url, headers, nil, &refreshed); err != nil {
		return nil, fmt.Errorf("refresh query %d: %w", queryID, err)
	}

	resultID, err := s.pollJob(ctx, headers, refreshed.Job.ID)
	if err != nil {
		return nil, fmt.Errorf("poll query %d: %w", queryID, err)
	}

	var result queryResultResponse
	url = fmt.Sprintf("%s/api/query_results/%d", s.baseURL, resultID)
	if err := s.c.DoJSON(ctx, http.MethodGet, url, headers, nil, &result); err != nil {
		return nil, fmt.Errorf("fetch result %d: %w", resultID, err)
	}

	s.log.Info().Int64("query_id", queryID).Int("rows", len(result.QueryResult.Data.Rows)).Msg("source rows fetched")
	return result.QueryResult.Data.Rows, nil
}

func (s *SourceClient) pollJob(ctx context.Context, headers map[string]string, jobID string) (int64, error) {
	url := fmt.Sprintf("%s/api/jobs/%s", s.baseURL, jobID)
	for i := 0; i < s.pollMax; i++ {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(s.pollEvery):
		}

		var job refreshResponse
		if err := s.c.DoJSON(ctx, http.MethodGet, url, headers, nil, &job); err != nil {
			return 0, err
		}
		switch job.Job.Status {
		case jobFinished:
			if job.Job.QueryResultID == nil {
				return 0, errors.New("upstream: job finished without result id")
			}
			return *job.Job.QueryResultID, nil
		case jobFailed:
			return 0, fmt.Errorf("upstream: source job failed: %s", job.Job.Error)
		}
	}
	return 0, ErrQueryTimeout
}
