package tools

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/wwwzy/EstateAgent/internal/websearch"
)

var (
	validListingPatterns = []*regexp.Regexp{
		regexp.MustCompile(`/property-`),
		regexp.MustCompile(`/ad/`),
		regexp.MustCompile(`/listing/`),
		regexp.MustCompile(`/property/`),
		regexp.MustCompile(`/unit/`),
		regexp.MustCompile(`-\d{6,}`),
		regexp.MustCompile(`/for-(sale|rent)/`),
	}
	invalidListingPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\.(jpg|jpeg|png|gif|webp|svg|pdf)$`),
		regexp.MustCompile(`/(search|filter|blog|article|news|about|contact|terms|privacy|help|sitemap)`),
		regexp.MustCompile(`(google|facebook|twitter)\.com`),
	}
	trackingParamRe = regexp.MustCompile(`[?&](utm_[^&=]*|fbclid|gclid)=[^&]*`)

	studioRe   = regexp.MustCompile(`\bstudio\b`)
	bedroomRes = []*regexp.Regexp{
		regexp.MustCompile(`(\d+)\s*(?:bed(?:room)?s?|br|غرف نوم|غرفة نوم)`),
		regexp.MustCompile(`(\d+)\s*bd`),
		regexp.MustCompile(`(?:bed(?:room)?s?|غرف)\s*[:：]\s*(\d+)`),
	}
	priceRes = []struct {
		re   *regexp.Regexp
		mult float64
	}{
		{regexp.MustCompile(`([\d,]+(?:\.\d+)?)\s*(?:m(?:illion)?|مليون)(?:[^a-z0-9²]|$)`), 1_000_000},
		{regexp.MustCompile(`([\d,]+(?:\.\d+)?)\s*(?:k|thousand|ألف)(?:[^a-z0-9]|$)`), 1_000},
		{regexp.MustCompile(`([\d,]{6,})`), 1},
	}
	areaRes = []*regexp.Regexp{
		regexp.MustCompile(`(\d+)\s*(?:sqm|m²|m2|متر)`),
		regexp.MustCompile(`(\d+)\s*square\s*meters?`),
	}
	nonWordRe = regexp.MustCompile(`[^\p{L}\p{N}\s]`)
)

// ExtractBedrooms 从标题/摘要中识别卧室数，studio 记为 1。
func ExtractBedrooms(text string) *int {
	lower := strings.ToLower(text)
	if studioRe.MatchString(lower) {
		one := 1
		return &one
	}
	for _, re := range bedroomRes {
		if m := re.FindStringSubmatch(lower); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil && n >= 1 && n <= 10 {
				return &n
			}
		}
	}
	return nil
}

// ExtractPrice 识别 "7.5M"、"750K"、"7,500,000 EGP" 等写法，结果需落在 10 万到 5 亿 EGP 之间。
func ExtractPrice(text string) *int64 {
	lower := strings.ToLower(text)
	for _, p := range priceRes {
		for _, m := range p.re.FindAllStringSubmatch(lower, -1) {
			v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
			if err != nil {
				continue
			}
			price := int64(v * p.mult)
			if price >= 100_000 && price <= 500_000_000 {
				return &price
			}
		}
	}
	return nil
}

func ExtractArea(text string) *int {
	lower := strings.ToLower(text)
	for _, re := range areaRes {
		if m := re.FindStringSubmatch(lower); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil && n >= 20 && n <= 10000 {
				return &n
			}
		}
	}
	return nil
}

// IsListingURL 判断 URL 是否指向单个房源页面，而不是搜索页、文章或图片。
func IsListingURL(u string) bool {
	lower := strings.ToLower(u)
	for _, re := range invalidListingPatterns {
		if re.MatchString(lower) {
			return false
		}
	}
	for _, re := range validListingPatterns {
		if re.MatchString(lower) {
			return true
		}
	}
	return false
}

func cleanURL(u string) string {
	u = trackingParamRe.ReplaceAllString(u, "")
	if i := strings.Index(u, "&"); i >= 0 && !strings.Contains(u, "?") {
		u = u[:i] + "?" + u[i+1:]
	}
	return strings.TrimRight(u, "?&")
}

// Listing 是一条经过校验与打分的房源搜索结果。
type Listing struct {
	Title     string `json:"title"`
	URL       string `json:"url"`
	Source    string `json:"source"`
	Snippet   string `json:"snippet,omitempty"`
	Bedrooms  *int   `json:"bedrooms,omitempty"`
	Price     *int64 `json:"price,omitempty"`
	AreaSqm   *int   `json:"area_sqm,omitempty"`
	Relevance int    `json:"relevance"`
}

func scoreListing(l *Listing, bedrooms *int, maxPrice *int64) {
	score := 0
	if bedrooms != nil && l.Bedrooms != nil {
		if *l.Bedrooms == *bedrooms {
			score += 10
		} else {
			diff := *l.Bedrooms - *bedrooms
			if diff < 0 {
				diff = -diff
			}
			score += max(0, 5-diff)
		}
	}
	if maxPrice != nil && *maxPrice > 0 && l.Price != nil {
		switch ratio := float64(*l.Price) / float64(*maxPrice); {
		case ratio <= 1:
			score += 8
			if ratio >= 0.7 {
				score += 3
			}
		case ratio <= 1.15:
			score += 4
		}
	}
	if l.AreaSqm != nil {
		score += 2
	}
	lower := strings.ToLower(l.URL)
	if strings.Contains(lower, "property-") || strings.Contains(lower, "listing") || strings.Contains(lower, "/ad/") {
		score += 3
	}
	l.Relevance = score
}

// dedupeListings 按去掉查询串的 URL 与归一化标题去重，保留先出现的一条。
func dedupeListings(in []Listing) []Listing {
	seenURL := map[string]bool{}
	seenTitle := map[string]bool{}
	var out []Listing
	for _, l := range in {
		urlKey := strings.ToLower(l.URL)
		if i := strings.IndexAny(urlKey, "?#"); i >= 0 {
			urlKey = urlKey[:i]
		}
		titleKey := []rune(nonWordRe.ReplaceAllString(strings.ToLower(l.Title), ""))
		if len(titleKey) > 60 {
			titleKey = titleKey[:60]
		}
		tk := strings.TrimSpace(string(titleKey))
		if seenURL[urlKey] || (tk != "" && seenTitle[tk]) {
			continue
		}
		seenURL[urlKey] = true
		seenTitle[tk] = true
		out = append(out, l)
	}
	return out
}

func buildListingQuery(location string, bedrooms *int, maxPrice *int64, propertyType, listingType string) string {
	action := "sale"
	if listingType == "rent" {
		action = "rent"
	}
	parts := []string{"for " + action, propertyType, location}
	if bedrooms != nil {
		if *bedrooms == 1 {
			parts = append(parts, "(studio OR 1 bedroom)")
		} else {
			parts = append(parts, fmt.Sprintf("%d bedroom", *bedrooms))
		}
	}
	if maxPrice != nil && *maxPrice >= 1_000_000 {
		parts = append(parts, fmt.Sprintf("price under %.0fM", float64(*maxPrice)/1_000_000))
	}
	parts = append(parts, "Egypt")
	return strings.Join(parts, " ")
}

// ListingSearchTool 通过 Tavily 在埃及房产门户中搜索在售/出租房源。
type ListingSearchTool struct {
	web  WebSearcher
	data *catalog
}

func (t *ListingSearchTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: "search_egyptian_real_estate_tavily",
		Desc: "Search live property listings on Egyptian portals (" + strings.Join(t.data.market.ListingPortals, ", ") + "). Use when the database has few or no matches.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"location": {
				Desc:     "Area name, e.g. 'New Cairo'",
				Type:     schema.String,
				Required: true,
			},
			"bedrooms": {
				Desc: "Number of bedrooms (1 for studio)",
				Type: schema.Integer,
			},
			"max_price": {
				Desc: "Maximum price in EGP",
				Type: schema.Integer,
			},
			"property_type": {
				Desc: "apartment, villa, duplex, townhouse, chalet... (default apartment)",
				Type: schema.String,
			},
			"listing_type": {
				Desc: "sale or rent (default sale)",
				Type: schema.String,
				Enum: []string{"sale", "rent"},
			},
			"num_results": {
				Desc: "Number of listings to return (default 8, max 20)",
				Type: schema.Integer,
			},
		}),
	}, nil
}

type listingResult struct {
	Query    string    `json:"query"`
	Total    int       `json:"validated_results"`
	Listings []Listing `json:"listings"`
	Note     string    `json:"note,omitempty"`
}

func (t *ListingSearchTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	var args struct {
		Location     string `json:"location"`
		Bedrooms     *int   `json:"bedrooms"`
		MaxPrice     *int64 `json:"max_price"`
		PropertyType string `json:"property_type"`
		ListingType  string `json:"listing_type"`
		NumResults   int    `json:"num_results"`
	}
	if err := decodeArgs(argumentsInJSON, &args); err != nil {
		return "", err
	}
	args.Location = strings.TrimSpace(args.Location)
	if args.Location == "" {
		return "", errors.New("location is required")
	}
	if args.PropertyType == "" {
		args.PropertyType = "apartment"
	}
	if args.ListingType != "rent" {
		args.ListingType = "sale"
	}
	if args.NumResults == 0 {
		args.NumResults = 8
	}
	args.NumResults = clamp(args.NumResults, 1, 20)

	query := buildListingQuery(args.Location, args.Bedrooms, args.MaxPrice, args.PropertyType, args.ListingType)
	resp, err := t.web.Search(ctx, websearch.Request{
		Query:          query,
		SearchDepth:    "advanced",
		MaxResults:     20,
		IncludeDomains: t.data.market.ListingPortals,
	})
	if err != nil {
		return "", err
	}

	var listings []Listing
	for _, r := range resp.Results {
		u := cleanURL(r.URL)
		if u == "" || !IsListingURL(u) {
			continue
		}
		text := r.Title + " " + r.Content
		l := Listing{
			Title:    r.Title,
			URL:      u,
			Source:   hostOf(u),
			Snippet:  truncate(r.Content, 240),
			Bedrooms: ExtractBedrooms(text),
			Price:    ExtractPrice(text),
			AreaSqm:  ExtractArea(text),
		}
		scoreListing(&l, args.Bedrooms, args.MaxPrice)
		listings = append(listings, l)
	}
	sort.SliceStable(listings, func(i, j int) bool { return listings[i].Relevance > listings[j].Relevance })
	listings = dedupeListings(listings)

	res := listingResult{Query: query, Total: len(listings), Listings: []Listing{}}
	if len(listings) > args.NumResults {
		listings = listings[:args.NumResults]
	}
	res.Listings = append(res.Listings, listings...)
	if len(listings) == 0 {
		res.Note = "No individual listing pages found. Suggest widening the budget or area, or checking the portals directly."
	}
	return encodeResult(res)
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}
