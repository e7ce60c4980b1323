package tools

import (
	"context"
	"errors"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/wwwzy/EstateAgent/internal/websearch"
)

var yearRe = regexp.MustCompile(`\b20\d{2}\b`)

// QueryClassification 是市场信息问题的分类结果。
type QueryClassification struct {
	Categories    []string `json:"categories"`
	Locations     []string `json:"locations,omitempty"`
	Years         []string `json:"years,omitempty"`
	Comparative   bool     `json:"comparative,omitempty"`
	FutureFocused bool     `json:"future_focused,omitempty"`
	Regulatory    bool     `json:"regulatory,omitempty"`
}

func classifyMarketQuery(query string, data marketData, now time.Time) QueryClassification {
	lower := strings.ToLower(query)
	var c QueryClassification
	for _, cat := range data.Categories {
		for _, kw := range cat.Keywords {
			if strings.Contains(lower, kw) {
				c.Categories = append(c.Categories, cat.Name)
				break
			}
		}
	}
	if len(c.Categories) == 0 {
		c.Categories = []string{data.DefaultCategory}
	}
	for _, loc := range data.Locations {
		if strings.Contains(lower, loc) {
			c.Locations = append(c.Locations, loc)
		}
	}
	c.Years = yearRe.FindAllString(lower, -1)
	for _, w := range []string{"compare", " vs", "versus", "difference", "better"} {
		if strings.Contains(lower, w) {
			c.Comparative = true
			break
		}
	}
	for _, w := range []string{"future", "forecast", "will ", "outlook", "next year"} {
		if strings.Contains(lower, w) {
			c.FutureFocused = true
			break
		}
	}
	for _, y := range c.Years {
		if n, _ := strconv.Atoi(y); n > now.Year() {
			c.FutureFocused = true
		}
	}
	c.Regulatory = slices.Contains(c.Categories, "regulations_laws") || slices.Contains(c.Categories, "government_policy")
	return c
}

// buildMarketQuery 在原问题后追加主类别的检索词、年份与地点，总长不超过 200 字符。
func buildMarketQuery(query string, c QueryClassification, data marketData, now time.Time) string {
	terms := []string{"egypt real estate"}
	for _, cat := range data.Categories {
		if cat.Name == c.Categories[0] {
			if len(cat.SearchTerms) > 0 {
				terms = append(terms, cat.SearchTerms[0])
			}
			break
		}
	}
	year := strconv.Itoa(now.Year())
	if c.FutureFocused {
		year += " " + strconv.Itoa(now.Year()+1)
	}
	terms = append(terms, year)
	if len(c.Locations) > 0 {
		terms = append(terms, c.Locations[0])
	}
	out := strings.TrimSpace(query) + " " + strings.Join(terms, " ")
	if r := []rune(out); len(r) > 200 {
		out = string(r[:200])
	}
	return out
}

func marketDomains(c QueryClassification, data marketData) []string {
	var out []string
	for _, name := range c.Categories {
		for _, cat := range data.Categories {
			if cat.Name != name {
				continue
			}
			for _, d := range cat.Sources {
				if !slices.Contains(out, d) {
					out = append(out, d)
				}
			}
		}
	}
	if data.MaxDomains > 0 && len(out) > data.MaxDomains {
		out = out[:data.MaxDomains]
	}
	return out
}

// MarketIntelligenceTool 搜索市场趋势、价格、法规与投资类信息（不是房源）。
type MarketIntelligenceTool struct {
	web  WebSearcher
	data *catalog
	now  func() time.Time
}

func (t *MarketIntelligenceTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: "search_market_intelligence",
		Desc: "Research the Egyptian real-estate market: trends, price growth, forecasts, regulations, taxes, mortgage programs, developer activity and rental yields. Not for individual listings.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"query": {
				Desc:     "The market question, e.g. 'Are New Cairo prices still rising?'",
				Type:     schema.String,
				Required: true,
			},
			"max_results": {
				Desc: "Number of sources (default 10, max 20)",
				Type: schema.Integer,
			},
		}),
	}, nil
}

type marketSource struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Domain  string `json:"domain"`
	Snippet string `json:"snippet"`
}

type marketResult struct {
	Query          string              `json:"query"`
	SearchQuery    string              `json:"search_query"`
	Classification QueryClassification `json:"classification"`
	Answer         string              `json:"answer,omitempty"`
	Sources        []marketSource      `json:"sources"`
	Fallback       bool                `json:"fallback,omitempty"`
	Notes          []string            `json:"notes,omitempty"`
}

func (t *MarketIntelligenceTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	var args struct {
		Query      string `json:"query"`
		MaxResults int    `json:"max_results"`
	}
	if err := decodeArgs(argumentsInJSON, &args); err != nil {
		return "", err
	}
	args.Query = strings.TrimSpace(args.Query)
	if args.Query == "" {
		return "", errors.New("query is required")
	}
	if args.MaxResults == 0 {
		args.MaxResults = 10
	}
	args.MaxResults = clamp(args.MaxResults, 1, 20)

	now := time.Now()
	if t.now != nil {
		now = t.now()
	}
	market := t.data.market
	c := classifyMarketQuery(args.Query, market, now)
	res := marketResult{Query: args.Query, Classification: c, SearchQuery: buildMarketQuery(args.Query, c, market, now)}

	resp, err := t.web.Search(ctx, websearch.Request{
		Query:          res.SearchQuery,
		SearchDepth:    "advanced",
		MaxResults:     args.MaxResults,
		IncludeAnswer:  true,
		IncludeDomains: marketDomains(c, market),
	})
	if err != nil || len(resp.Results) == 0 {
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			logWarn(ctx, "search_market_intelligence", err)
		}
		// 去掉域名限制再试一次
		res.Fallback = true
		res.SearchQuery = args.Query + " egypt real estate " + strconv.Itoa(now.Year())
		resp, err = t.web.Search(ctx, websearch.Request{
			Query:         res.SearchQuery,
			SearchDepth:   "basic",
			MaxResults:    args.MaxResults,
			IncludeAnswer: true,
		})
		if err != nil {
			return "", err
		}
	}

	res.Answer = resp.Answer
	res.Sources = make([]marketSource, 0, len(resp.Results))
	for _, r := range resp.Results {
		res.Sources = append(res.Sources, marketSource{
			Title:   r.Title,
			URL:     r.URL,
			Domain:  hostOf(r.URL),
			Snippet: truncate(r.Content, 300),
		})
	}
	res.Notes = marketNotes(c)
	return encodeResult(res)
}

func marketNotes(c QueryClassification) []string {
	var out []string
	has := func(name string) bool { return slices.Contains(c.Categories, name) }
	if has("investment_advice") {
		out = append(out, "Investment returns depend on entry price, payment plan and delivery date; compare several projects.")
	}
	if c.Regulatory {
		out = append(out, "Regulations change; confirm with a licensed lawyer before signing.")
	}
	if has("market_forecast") || c.FutureFocused {
		out = append(out, "Forecasts are estimates; weigh them against current inflation and currency trends.")
	}
	if has("pricing_analysis") {
		out = append(out, "Compare price per square meter across projects in the same area.")
	}
	if has("economic_factors") {
		out = append(out, "Currency and interest-rate moves strongly affect Egyptian property prices.")
	}
	return out
}
