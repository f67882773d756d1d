// Package searchinfra implements search.Index on Elasticsearch.
package searchinfra

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/elastic/go-elasticsearch/v9"
	"github.com/elastic/go-elasticsearch/v9/esapi"
	"github.com/goliatone/go-shop-cache/domain"
	"github.com/goliatone/go-shop-cache/search"
	jsoniter "github.com/json-iterator/go"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const indexMapping = `{
  "mappings": {
    "properties": {
      "shopId":         {"type": "keyword"},
      "shopName":       {"type": "text"},
      "category":       {"type": "keyword"},
      "detailCategory": {"type": "keyword"},
      "location":       {"type": "geo_point"},
      "totalScore":     {"type": "double"},
      "reviewNumber":   {"type": "long"},
      "averageScore":   {"type": "double"},
      "deleted":        {"type": "boolean"},
      "updatedAt":      {"type": "date"}
    }
  }
}`

// Config configures the Elasticsearch client.
type Config struct {
	Addresses  []string
	Username   string
	Password   string
	Index      string
	MaxRetries int
	// Transport overrides the HTTP transport, mainly for tests.
	Transport http.RoundTripper
}

// Client is a search.Index backed by Elasticsearch and guarded by a
// circuit breaker.
type Client struct {
	es     *elasticsearch.Client
	index  string
	cb     *gobreaker.CircuitBreaker
	logger *zap.Logger
}

var _ search.Index = (*Client)(nil)

// NewClient creates the Elasticsearch client.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Index == "" {
		return nil, fmt.Errorf("search index name is required")
	}

	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:     cfg.Addresses,
		Username:      cfg.Username,
		Password:      cfg.Password,
		Transport:     cfg.Transport,
		RetryOnStatus: []int{502, 503, 504, 429},
		MaxRetries:    cfg.MaxRetries,
	})
	if err != nil {
		return nil, err
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "elasticsearch-" + cfg.Index,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// A missing document is an answer, not an outage.
		IsSuccessful: func(err error) bool {
			return err == nil || domain.IsNotFound(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("search circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &Client{es: es, index: cfg.Index, cb: cb, logger: logger}, nil
}

// EnsureIndex creates the index with its mapping when it does not exist.
func (c *Client) EnsureIndex(ctx context.Context) error {
	res, err := c.es.Indices.Exists([]string{c.index}, c.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return domain.Unavailable("search.EnsureIndex", c.index, err)
	}
	drain(res)
	if res.StatusCode == http.StatusOK {
		return nil
	}

	res, err = c.es.Indices.Create(c.index,
		c.es.Indices.Create.WithContext(ctx),
		c.es.Indices.Create.WithBody(bytes.NewReader([]byte(indexMapping))),
	)
	if err != nil {
		return domain.Unavailable("search.EnsureIndex", c.index, err)
	}
	defer drain(res)
	if res.IsError() {
		return domain.Unavailable("search.EnsureIndex", c.index, fmt.Errorf("create index: %s", res.Status()))
	}
	c.logger.Info("search index created", zap.String("index", c.index))
	return nil
}

func (c *Client) Upsert(ctx context.Context, doc search.ShopDocument) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return c.do("search.Upsert", doc.ShopID, func() (*esapi.Response, error) {
		return c.es.Index(c.index, bytes.NewReader(body),
			c.es.Index.WithContext(ctx),
			c.es.Index.WithDocumentID(doc.ShopID),
		)
	})
}

// PartialUpdate sends fields as a partial document. A missing document is
// reported as domain.KindNotFound.
func (c *Client) PartialUpdate(ctx context.Context, id string, fields map[string]any) error {
	body, err := json.Marshal(map[string]any{"doc": fields})
	if err != nil {
		return err
	}
	return c.do("search.PartialUpdate", id, func() (*esapi.Response, error) {
		return c.es.Update(c.index, id, bytes.NewReader(body),
			c.es.Update.WithContext(ctx),
			c.es.Update.WithRetryOnConflict(3),
		)
	})
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			Source search.ShopDocument `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

func (c *Client) QueryByGeoAndCategory(ctx context.Context, q search.GeoQuery) ([]search.ShopDocument, error) {
	body, err := json.Marshal(buildGeoQuery(q))
	if err != nil {
		return nil, err
	}

	var parsed searchResponse
	err = c.do("search.Query", "", func() (*esapi.Response, error) {
		res, err := c.es.Search(
			c.es.Search.WithContext(ctx),
			c.es.Search.WithIndex(c.index),
			c.es.Search.WithBody(bytes.NewReader(body)),
		)
		if err != nil || res.IsError() {
			return res, err
		}
		defer drain(res)
		if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
			return nil, err
		}
		return nil, nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]search.ShopDocument, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		out = append(out, hit.Source)
	}
	return out, nil
}

func buildGeoQuery(q search.GeoQuery) map[string]any {
	filters := []any{
		map[string]any{"term": map[string]any{"deleted": false}},
	}
	if q.Category != "" {
		filters = append(filters, map[string]any{"term": map[string]any{"category": string(q.Category)}})
	}
	if q.DistanceKm > 0 {
		filters = append(filters, map[string]any{"geo_distance": map[string]any{
			"distance": fmt.Sprintf("%gkm", q.DistanceKm),
			"location": map[string]any{"lat": q.Lat, "lon": q.Lon},
		}})
	}

	size := q.Limit
	if size <= 0 {
		size = 50
	}
	return map[string]any{
		"size":  size,
		"query": map[string]any{"bool": map[string]any{"filter": filters}},
		"sort": []any{
			map[string]any{"averageScore": map[string]any{"order": "desc"}},
			map[string]any{"shopId": map[string]any{"order": "asc"}},
		},
	}
}

// do runs call through the breaker and maps the response status. call may
// consume the body itself and return a nil response.
func (c *Client) do(op, id string, call func() (*esapi.Response, error)) error {
	_, err := c.cb.Execute(func() (interface{}, error) {
		res, err := call()
		if err != nil {
			return nil, err
		}
		if res == nil {
			return nil, nil
		}
		defer drain(res)
		switch {
		case res.StatusCode == http.StatusNotFound:
			return nil, domain.NotFound(op, "shopDocument", id)
		case res.IsError():
			return nil, fmt.Errorf("%s: %s", op, res.Status())
		}
		return nil, nil
	})
	return domain.Unavailable(op, "shopDocument", err)
}

func drain(res *esapi.Response) {
	if res == nil || res.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, res.Body)
	_ = res.Body.Close()
}
