package websearch

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const maxErrorBodyBytes = 2048

var ErrNoAPIKey = errors.New("tavily api key is not configured")

type Config struct {
	APIKey   string        `mapstructure:"api_key"`
	BaseURL  string        `mapstructure:"base_url"`
	Timeout  time.Duration `mapstructure:"timeout"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

func DefaultConfig() Config {
	return Config{
		BaseURL:  "https://api.tavily.com",
		Timeout:  20 * time.Second,
		CacheTTL: 6 * time.Hour,
	}
}

// Cache 保存序列化后的搜索响应；*storage.Storage 实现了它。
// Get 在未命中或过期时返回任意 error。
type Cache interface {
	GetCache(ctx context.Context, key string) ([]byte, error)
	PutCache(ctx context.Context, key string, payload []byte, ttl time.Duration) error
}

type Request struct {
	Query          string   `json:"query"`
	SearchDepth    string   `json:"search_depth,omitempty"`
	Topic          string   `json:"topic,omitempty"`
	MaxResults     int      `json:"max_results,omitempty"`
	IncludeAnswer  bool     `json:"include_answer,omitempty"`
	IncludeDomains []string `json:"include_domains,omitempty"`
	ExcludeDomains []string `json:"exclude_domains,omitempty"`
}

type Result struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

type Response struct {
	Query   string   `json:"query"`
	Answer  string   `json:"answer,omitempty"`
	Results []Result `json:"results"`
	// Cached 表示结果来自本地缓存。
	Cached bool `json:"-"`
}

type Client struct {
	cfg   Config
	http  *http.Client
	cache Cache
}

// NewClient 创建 Tavily 客户端；cache 可为 nil。
func NewClient(cfg Config, cache Cache) *Client {
	d := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = d.BaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = d.Timeout
	}
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}, cache: cache}
}

func (c *Client) Enabled() bool {
	return c != nil && strings.TrimSpace(c.cfg.APIKey) != ""
}

func (c *Client) Search(ctx context.Context, r Request) (*Response, error) {
	if !c.Enabled() {
		return nil, ErrNoAPIKey
	}
	r.Query = strings.TrimSpace(r.Query)
	if r.Query == "" {
		return nil, errors.New("search query is empty")
	}

	payload, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	key := cacheKey(payload)

	if c.cache != nil && c.cfg.CacheTTL > 0 {
		if raw, err := c.cache.GetCache(ctx, key); err == nil {
			var resp Response
			if err := json.Unmarshal(raw, &resp); err == nil {
				resp.Cached = true
				return &resp, nil
			}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.cfg.BaseURL, "/")+"/search", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	httpResp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tavily search: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("tavily search: read body: %w", err)
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		if len(body) > maxErrorBodyBytes {
			body = body[:maxErrorBodyBytes]
		}
		return nil, fmt.Errorf("tavily search: status %s: %s", httpResp.Status, strings.TrimSpace(string(body)))
	}

	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("tavily search: decode: %w", err)
	}

	if c.cache != nil && c.cfg.CacheTTL > 0 {
		if err := c.cache.PutCache(ctx, key, body, c.cfg.CacheTTL); err != nil {
			log.Ctx(ctx).Warn().Err(err).Msg("cache tavily response failed")
		}
	}
	return &resp, nil
}

func cacheKey(payload []byte) string {
	sum := sha256.Sum256(append([]byte("tavily:"), payload...))
	return hex.EncodeToString(sum[:])
}
