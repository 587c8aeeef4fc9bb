package retriever

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
)

const (
	DefaultTopK     = 10
	DefaultMinScore = 0.5
)

// Fragment is one scored piece of grounding text returned by the
// similarity-search service.
type Fragment struct {
	Text   string  `json:"text"`
	Score  float64 `json:"score"`
	Source string  `json:"source"`
}

type Config struct {
	BaseURL  string
	TopK     int
	MinScore float64
}

// Client is a thin adapter over the external vector-search service. The index
// itself is a black box; this client only owns the wire call, the top-k bound
// and the minimum-score cutoff.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	// Zero is a valid threshold ("keep everything non-negative"); only a
	// negative value means unset.
	if cfg.MinScore < 0 {
		cfg.MinScore = DefaultMinScore
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Retrieve runs a similarity search for query scoped to one knowledge base
// and returns fragments in descending score order. Fragments scoring below
// the threshold are excluded rather than returned with a low score.
func (c *Client) Retrieve(ctx context.Context, query, kbID string) ([]Fragment, error) {
	reqBody := map[string]interface{}{
		"query":      query,
		"collection": kbID,
		"top_k":      c.cfg.TopK,
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal retrieval request failed: %w", err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/search"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("build retrieval request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("retrieval request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read retrieval response failed: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("retrieval response status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed struct {
		Fragments []Fragment `json:"fragments"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse retrieval json failed: %w", err)
	}

	fragments := parsed.Fragments[:0]
	for _, f := range parsed.Fragments {
		if f.Score >= c.cfg.MinScore {
			fragments = append(fragments, f)
		}
	}
	sort.SliceStable(fragments, func(i, j int) bool {
		return fragments[i].Score > fragments[j].Score
	})
	if len(fragments) > c.cfg.TopK {
		fragments = fragments[:c.cfg.TopK]
	}
	return fragments, nil
}
