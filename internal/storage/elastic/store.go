// Package elastic stores flight observations in an Elasticsearch index and
// computes baselines with a terms + extended_stats aggregation.
package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"flight-price-alerts/internal/config"
	"flight-price-alerts/internal/domain"
	"flight-price-alerts/internal/storage"
)

// maxResultWindow is the default index.max_result_window.
const maxResultWindow = 10000

const indexMapping = `{
  "mappings": {
    "properties": {
      "sky_id": {"type": "text", "fields": {"keyword": {"type": "keyword", "ignore_above": 256}}},
      "location": {"type": "text", "fields": {"keyword": {"type": "keyword", "ignore_above": 256}}},
      "cheapest_price": {"type": "float"},
      "timestamp": {"type": "date", "format": "date_optional_time"}
    }
  }
}`

// Store implements storage.HistoryStore against one index.
type Store struct {
	client  *elasticsearch.Client
	index   string
	refresh string
	timeout time.Duration
}

var _ storage.HistoryStore = (*Store)(nil)

// NewClient builds a client from the store configuration.
func NewClient(cfg config.ElasticsearchConfig) (*elasticsearch.Client, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}
	return client, nil
}

// NewStore wraps client for index.
func NewStore(client *elasticsearch.Client, index string, cfg config.ElasticsearchConfig) *Store {
	return &Store{
		client:  client,
		index:   index,
		refresh: cfg.Refresh,
		timeout: cfg.RequestTimeout,
	}
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// Close is a no-op; the client holds no persistent resources beyond its transport.
func (s *Store) Close() error {
	return nil
}

// IndexExists reports whether the index exists.
func (s *Store) IndexExists(ctx context.Context) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.client.Indices.Exists([]string{s.index}, s.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return false, fmt.Errorf("check index %s: %w", s.index, err)
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, responseError("check index "+s.index, res)
	}
}

// EnsureIndex creates the index with its mapping when missing.
func (s *Store) EnsureIndex(ctx context.Context) error {
	exists, err := s.IndexExists(ctx)
	if err != nil || exists {
		return err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.client.Indices.Create(s.index,
		s.client.Indices.Create.WithBody(strings.NewReader(indexMapping)),
		s.client.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("create index %s: %w", s.index, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		body := readBody(res)
		// a concurrent run may have created it first
		if res.StatusCode == http.StatusBadRequest && bytes.Contains(body, []byte("resource_already_exists_exception")) {
			return nil
		}
		return fmt.Errorf("create index %s: status %d: %s", s.index, res.StatusCode, bytes.TrimSpace(body))
	}
	return nil
}

// DeleteIndex removes the index if present.
func (s *Store) DeleteIndex(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.client.Indices.Delete([]string{s.index},
		s.client.Indices.Delete.WithContext(ctx),
		s.client.Indices.Delete.WithIgnoreUnavailable(true),
	)
	if err != nil {
		return fmt.Errorf("delete index %s: %w", s.index, err)
	}
	defer res.Body.Close()

	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return responseError("delete index "+s.index, res)
	}
	return nil
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		Status int `json:"status"`
		Error  *struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	} `json:"items"`
}

// IndexRecords submits every record in one _bulk request. Any rejected item fails the call.
func (s *Store) IndexRecords(ctx context.Context, records []domain.NormalizedRecord) error {
	if len(records) == 0 {
		return nil
	}

	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	for _, r := range records {
		body.WriteString(`{"index":{}}` + "\n")
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("encode document: %w", err)
		}
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	opts := []func(*esapi.BulkRequest){
		s.client.Bulk.WithIndex(s.index),
		s.client.Bulk.WithContext(ctx),
	}
	if s.refresh != "" {
		opts = append(opts, s.client.Bulk.WithRefresh(s.refresh))
	}

	res, err := s.client.Bulk(&body, opts...)
	if err != nil {
		return fmt.Errorf("bulk index: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return responseError("bulk index", res)
	}

	var parsed bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return fmt.Errorf("decode bulk response: %w", err)
	}
	if !parsed.Errors {
		return nil
	}

	failed := 0
	var first string
	for _, item := range parsed.Items {
		for _, op := range item {
			if op.Error == nil {
				continue
			}
			failed++
			if first == "" {
				first = op.Error.Type + ": " + op.Error.Reason
			}
		}
	}
	return fmt.Errorf("bulk index: %d of %d documents rejected: %s", failed, len(records), first)
}

type statisticsResponse struct {
	Aggregations *struct {
		ByLocation struct {
			Buckets []struct {
				Key          string `json:"key"`
				DocCount     int64  `json:"doc_count"`
				AveragePrice struct {
					Value *float64 `json:"value"`
				} `json:"average_price"`
				PriceStdDeviation struct {
					StdDeviation *float64 `json:"std_deviation"`
				} `json:"price_std_deviation"`
			} `json:"buckets"`
		} `json:"by_location"`
	} `json:"aggregations"`
}

func statisticsQuery(limit int) map[string]any {
	return map[string]any{
		"size": 0,
		"aggs": map[string]any{
			"by_location": map[string]any{
				"terms": map[string]any{"field": "location.keyword", "size": limit},
				"aggs": map[string]any{
					"average_price":       map[string]any{"avg": map[string]any{"field": "cheapest_price"}},
					"price_std_deviation": map[string]any{"extended_stats": map[string]any{"field": "cheapest_price"}},
				},
			},
		},
	}
}

// LocationStatistics runs the per-location aggregation. A response without an
// aggregations section yields storage.ErrNoAggregations.
func (s *Store) LocationStatistics(ctx context.Context, limit int) ([]storage.LocationAggregate, error) {
	var parsed statisticsResponse
	if err := s.search(ctx, statisticsQuery(limit), &parsed); err != nil {
		return nil, fmt.Errorf("location statistics: %w", err)
	}
	if parsed.Aggregations == nil {
		return nil, storage.ErrNoAggregations
	}

	out := make([]storage.LocationAggregate, 0, len(parsed.Aggregations.ByLocation.Buckets))
	for _, b := range parsed.Aggregations.ByLocation.Buckets {
		agg := storage.LocationAggregate{Location: b.Key, Count: b.DocCount}
		if b.AveragePrice.Value != nil {
			agg.Average = *b.AveragePrice.Value
		}
		if b.PriceStdDeviation.StdDeviation != nil {
			agg.StdDev = *b.PriceStdDeviation.StdDeviation
		}
		out = append(out, agg)
	}
	return out, nil
}

type hitsResponse struct {
	Hits struct {
		Hits []struct {
			Source domain.NormalizedRecord `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// ListObservations returns documents in the filter window ordered by
// timestamp. One extra hit is requested to detect truncation.
func (s *Store) ListObservations(ctx context.Context, filter storage.ObservationFilter) (storage.ObservationPage, error) {
	limit := filter.EffectiveLimit(maxResultWindow - 1)

	var clauses []any
	if filter.Location != "" {
		clauses = append(clauses, map[string]any{"term": map[string]any{"location.keyword": filter.Location}})
	}
	if !filter.From.IsZero() || !filter.To.IsZero() {
		bounds := map[string]any{}
		if !filter.From.IsZero() {
			bounds["gte"] = domain.FormatTimestamp(filter.From)
		}
		if !filter.To.IsZero() {
			bounds["lt"] = domain.FormatTimestamp(filter.To)
		}
		clauses = append(clauses, map[string]any{"range": map[string]any{"timestamp": bounds}})
	}
	query := map[string]any{"match_all": map[string]any{}}
	if len(clauses) > 0 {
		query = map[string]any{"bool": map[string]any{"filter": clauses}}
	}
	body := map[string]any{
		"size":  limit + 1,
		"query": query,
		"sort":  []any{map[string]any{"timestamp": map[string]any{"order": "asc"}}},
	}

	var parsed hitsResponse
	if err := s.search(ctx, body, &parsed); err != nil {
		return storage.ObservationPage{}, fmt.Errorf("list observations: %w", err)
	}

	out := make([]domain.NormalizedRecord, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		out = append(out, h.Source)
	}
	return storage.NewObservationPage(out, limit), nil
}

func (s *Store) search(ctx context.Context, query map[string]any, dst any) error {
	payload, err := json.Marshal(query)
	if err != nil {
		return fmt.Errorf("encode query: %w", err)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(s.index),
		s.client.Search.WithBody(bytes.NewReader(payload)),
	)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		return responseError("search "+s.index, res)
	}
	if err := json.NewDecoder(res.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode search response: %w", err)
	}
	return nil
}

func readBody(res *esapi.Response) []byte {
	data, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	return data
}

func responseError(op string, res *esapi.Response) error {
	body := strings.TrimSpace(string(readBody(res)))
	if res.StatusCode == http.StatusNotFound && strings.Contains(body, "index_not_found_exception") {
		return fmt.Errorf("%s: %w", op, storage.ErrIndexNotFound)
	}
	if body == "" {
		return fmt.Errorf("%s: status %d", op, res.StatusCode)
	}
	return fmt.Errorf("%s: status %d: %s", op, res.StatusCode, body)
}
