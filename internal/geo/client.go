package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const maxErrorBodyBytes = 2048

var ErrNotFound = errors.New("location not found")

type Config struct {
	NominatimURL string        `mapstructure:"nominatim_url"`
	OverpassURL  string        `mapstructure:"overpass_url"`
	UserAgent    string        `mapstructure:"user_agent"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

func DefaultConfig() Config {
	return Config{
		NominatimURL: "https://nominatim.openstreetmap.org/search",
		OverpassURL:  "https://overpass-api.de/api/interpreter",
		UserAgent:    "EstateAgent/1.0",
		Timeout:      30 * time.Second,
	}
}

// Place 是一次地理编码的结果。
type Place struct {
	Lat         float64
	Lon         float64
	DisplayName string
	Importance  float64
	Class       string
	Type        string
}

// Element 是 Overpass 返回的 node/way/relation。way 与 relation 的坐标取 center。
type Element struct {
	Type   string            `json:"type"`
	ID     int64             `json:"id"`
	Lat    float64           `json:"lat"`
	Lon    float64           `json:"lon"`
	Center *struct {
		Lat float64 `json:"lat"`
		Lon float64 `json:"lon"`
	} `json:"center,omitempty"`
	Tags map[string]string `json:"tags"`
}

// Coords 返回元素坐标；没有坐标时 ok 为 false。
func (e Element) Coords() (lat, lon float64, ok bool) {
	if e.Lat != 0 || e.Lon != 0 {
		return e.Lat, e.Lon, true
	}
	if e.Center != nil {
		return e.Center.Lat, e.Center.Lon, true
	}
	return 0, 0, false
}

// Client 访问 Nominatim 与 Overpass。Nominatim 的使用策略要求每秒不超过一次请求。
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
}

func NewClient(cfg Config) *Client {
	d := DefaultConfig()
	if cfg.NominatimURL == "" {
		cfg.NominatimURL = d.NominatimURL
	}
	if cfg.OverpassURL == "" {
		cfg.OverpassURL = d.OverpassURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = d.UserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = d.Timeout
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

type nominatimResult struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
	Importance  any    `json:"importance"`
	Class       string `json:"class"`
	Type        string `json:"type"`
}

// Geocode 在埃及范围内查找 query，返回最相关的一个结果。
func (c *Client) Geocode(ctx context.Context, query string) (*Place, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("geocode query is empty")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("q", query)
	q.Set("format", "json")
	q.Set("limit", "1")
	q.Set("countrycodes", "eg")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.NominatimURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "application/json")

	var results []nominatimResult
	if err := c.do(req, &results); err != nil {
		return nil, fmt.Errorf("nominatim: %w", err)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, query)
	}

	r := results[0]
	lat, err := strconv.ParseFloat(r.Lat, 64)
	if err != nil {
		return nil, fmt.Errorf("nominatim: bad lat %q", r.Lat)
	}
	lon, err := strconv.ParseFloat(r.Lon, 64)
	if err != nil {
		return nil, fmt.Errorf("nominatim: bad lon %q", r.Lon)
	}
	p := &Place{Lat: lat, Lon: lon, DisplayName: r.DisplayName, Class: r.Class, Type: r.Type}
	switch v := r.Importance.(type) {
	case float64:
		p.Importance = v
	case string:
		p.Importance, _ = strconv.ParseFloat(v, 64)
	}
	return p, nil
}

// GeocodeInEgypt 依次尝试 "<name>, Egypt"、原名与 "<name>, Cairo, Egypt"，
// 返回第一个落在埃及范围内的结果。
func (c *Client) GeocodeInEgypt(ctx context.Context, name string) (*Place, error) {
	name = strings.TrimSpace(name)
	candidates := []string{name + ", Egypt", name, name + ", Cairo, Egypt"}
	var lastErr error = fmt.Errorf("%w: %s", ErrNotFound, name)
	for _, q := range candidates {
		p, err := c.Geocode(ctx, q)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !errors.Is(err, ErrNotFound) {
				lastErr = err
			}
			continue
		}
		if InEgypt(p.Lat, p.Lon) {
			return p, nil
		}
	}
	return nil, lastErr
}

// Overpass 执行一条 Overpass QL 查询。
func (c *Client) Overpass(ctx context.Context, query string) ([]Element, error) {
	form := url.Values{}
	form.Set("data", query)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.OverpassURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	var out struct {
		Elements []Element `json:"elements"`
	}
	if err := c.do(req, &out); err != nil {
		return nil, fmt.Errorf("overpass: %w", err)
	}
	return out.Elements, nil
}

func (c *Client) do(req *http.Request, v any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return fmt.Errorf("status %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
