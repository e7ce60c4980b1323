package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/wwwzy/EstateAgent/internal/embedding"
	"github.com/wwwzy/EstateAgent/internal/storage"
)

const (
	maxMatcherResults = 10
	maxUnitsListed    = 20
)

// ProjectMatcherTool 是数据库优先的项目匹配：地区 + 预算过滤，偏好关键字，户型库存，置信度。
type ProjectMatcherTool struct {
	store ProjectStore
}

func (t *ProjectMatcherTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: "intelligent_project_matcher",
		Desc: "Primary project search over the local database. Filters projects by location and budget, matches optional preferences, counts available units for a bedroom count and reports a confidence level. Use this before any web search.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"location": {
				Desc:     "Area or city, e.g. 'New Cairo', 'North Coast'",
				Type:     schema.String,
				Required: true,
			},
			"bedrooms": {
				Desc: "Number of bedrooms",
				Type: schema.Integer,
			},
			"max_price": {
				Desc: "Maximum budget in EGP",
				Type: schema.Integer,
			},
			"min_price": {
				Desc: "Minimum budget in EGP",
				Type: schema.Integer,
			},
			"preferences": {
				Desc: "Free-text preference matched against project names and descriptions, e.g. 'golf', 'beach'",
				Type: schema.String,
			},
		}),
	}, nil
}

type matcherArgs struct {
	Location    string `json:"location"`
	Bedrooms    *int   `json:"bedrooms"`
	MaxPrice    *int64 `json:"max_price"`
	MinPrice    *int64 `json:"min_price"`
	Preferences string `json:"preferences"`
}

type matchedProject struct {
	projectView
	PreferenceMatch bool `json:"preference_match,omitempty"`
}

type matcherResult struct {
	Location             string           `json:"location"`
	Confidence           string           `json:"confidence"`
	ConfidenceReason     string           `json:"confidence_reason"`
	WebSearchRecommended bool             `json:"web_search_recommended"`
	TotalMatches         int              `json:"total_matches"`
	PreferenceMatches    int              `json:"preference_matches,omitempty"`
	ProjectsWithUnitData int              `json:"projects_with_unit_data,omitempty"`
	Projects             []matchedProject `json:"projects"`
	SuggestedFollowUps   []string         `json:"suggested_follow_ups,omitempty"`
}

func (t *ProjectMatcherTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	var args matcherArgs
	if err := decodeArgs(argumentsInJSON, &args); err != nil {
		return "", err
	}
	args.Location = strings.TrimSpace(args.Location)
	if args.Location == "" {
		return "", errors.New("location is required")
	}

	q := storage.ProjectQuery{Location: args.Location, MinPrice: args.MinPrice, MaxPrice: args.MaxPrice, Limit: 100}
	exact, err := t.store.SearchProjects(ctx, q)
	if err != nil {
		return "", err
	}

	prefNames := map[string]bool{}
	if pref := strings.TrimSpace(args.Preferences); pref != "" {
		q.Keyword = pref
		prefMatches, err := t.store.SearchProjects(ctx, q)
		if err != nil {
			return "", err
		}
		for _, p := range prefMatches {
			prefNames[p.Name] = true
		}
	}

	var units map[string]int64
	if args.Bedrooms != nil && *args.Bedrooms > 0 {
		if units, err = t.store.CountUnitsByBedrooms(ctx, *args.Bedrooms); err != nil {
			return "", err
		}
	}

	res := matcherResult{Location: args.Location, TotalMatches: len(exact), PreferenceMatches: len(prefNames), Projects: []matchedProject{}}
	for _, p := range exact {
		if len(res.Projects) == maxMatcherResults {
			break
		}
		m := matchedProject{projectView: newProjectView(p, 300), PreferenceMatch: prefNames[p.Name]}
		if units != nil {
			n := units[p.Name]
			m.AvailableUnits = &n
			if n > 0 {
				res.ProjectsWithUnitData++
			}
		}
		res.Projects = append(res.Projects, m)
	}

	hasPref := args.Preferences == "" || len(prefNames) > 0
	hasUnits := units == nil || len(units) > 0
	switch {
	case len(exact) >= 3 && hasPref && hasUnits:
		res.Confidence = "HIGH"
		res.ConfidenceReason = "Multiple verified database matches with unit data"
	case len(exact) >= 1:
		res.Confidence = "MEDIUM"
		res.ConfidenceReason = fmt.Sprintf("%d database matches; supplement with a web listing search", len(exact))
		res.WebSearchRecommended = true
	default:
		res.Confidence = "LOW"
		res.ConfidenceReason = "No database coverage for these filters; use a web listing search as the primary source"
		res.WebSearchRecommended = true
	}

	if len(res.Projects) > 0 {
		top := res.Projects[0].Name
		res.SuggestedFollowUps = []string{
			fmt.Sprintf("Show available units in %s", top),
			fmt.Sprintf("Show me payment plans for %s", top),
			fmt.Sprintf("What is near %s?", top),
		}
	}
	return encodeResult(res)
}

// SemanticSearchTool 按描述的语义相似度检索项目；未配置 embedding 引擎时退化为关键字打分。
type SemanticSearchTool struct {
	store    ProjectStore
	embedder embedding.Engine
}

func (t *SemanticSearchTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: "semantic_project_search",
		Desc: "Find projects whose descriptions best match a natural-language request such as 'quiet compound near golf with big gardens'.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"query": {
				Desc:     "Natural-language description of what the user wants",
				Type:     schema.String,
				Required: true,
			},
			"location": {
				Desc: "Optional area filter",
				Type: schema.String,
			},
			"max_price": {
				Desc: "Optional maximum budget in EGP",
				Type: schema.Integer,
			},
			"limit": {
				Desc: "Number of results (default 5, max 20)",
				Type: schema.Integer,
			},
		}),
	}, nil
}

type semanticArgs struct {
	Query    string `json:"query"`
	Location string `json:"location"`
	MaxPrice *int64 `json:"max_price"`
	Limit    int    `json:"limit"`
}

type semanticHit struct {
	projectView
	Score float64 `json:"score"`
}

type semanticResult struct {
	Query   string        `json:"query"`
	Method  string        `json:"method"`
	Results []semanticHit `json:"results"`
}

func (t *SemanticSearchTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	var args semanticArgs
	if err := decodeArgs(argumentsInJSON, &args); err != nil {
		return "", err
	}
	args.Query = strings.TrimSpace(args.Query)
	if args.Query == "" {
		return "", errors.New("query is required")
	}
	if args.Limit == 0 {
		args.Limit = 5
	}
	args.Limit = clamp(args.Limit, 1, 20)

	if t.embedder != nil {
		hits, err := t.byEmbedding(ctx, args)
		if err == nil && len(hits) > 0 {
			return encodeResult(semanticResult{Query: args.Query, Method: "embedding:" + t.embedder.Name(), Results: hits})
		}
		if err != nil {
			// 向量检索失败时退化为关键字匹配
			logWarn(ctx, "semantic_project_search", err)
		}
	}

	hits, err := t.byKeywords(ctx, args)
	if err != nil {
		return "", err
	}
	return encodeResult(semanticResult{Query: args.Query, Method: "keyword", Results: hits})
}

func (t *SemanticSearchTool) byEmbedding(ctx context.Context, args semanticArgs) ([]semanticHit, error) {
	candidates, err := t.store.ProjectsWithEmbeddings(ctx, args.Location, args.MaxPrice)
	if err != nil || len(candidates) == 0 {
		return nil, err
	}
	qv, err := t.embedder.Embed(ctx, args.Query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	vecs := make([][]float32, len(candidates))
	for i, p := range candidates {
		vecs[i] = p.Embedding
	}
	out := []semanticHit{}
	for _, s := range embedding.TopK(qv, vecs, args.Limit) {
		out = append(out, semanticHit{projectView: newProjectView(candidates[s.Index], 300), Score: round2(s.Similarity)})
	}
	return out, nil
}

func (t *SemanticSearchTool) byKeywords(ctx context.Context, args semanticArgs) ([]semanticHit, error) {
	candidates, err := t.store.SearchProjects(ctx, storage.ProjectQuery{Location: args.Location, MaxPrice: args.MaxPrice, Limit: 500})
	if err != nil {
		return nil, err
	}
	terms := keywordTerms(args.Query)
	out := []semanticHit{}
	for _, p := range candidates {
		text := strings.ToLower(p.Name + " " + p.Description + " " + p.LocationName)
		score := 0.0
		for _, term := range terms {
			if strings.Contains(text, term) {
				score++
			}
		}
		if score == 0 {
			continue
		}
		out = append(out, semanticHit{projectView: newProjectView(p, 300), Score: round2(score / float64(len(terms)))})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > args.Limit {
		out = out[:args.Limit]
	}
	return out, nil
}

var stopWords = map[string]bool{
	"the": true, "and": true, "with": true, "for": true, "near": true, "in": true, "a": true,
	"an": true, "of": true, "to": true, "i": true, "want": true, "looking": true, "some": true,
}

func keywordTerms(q string) []string {
	var out []string
	seen := map[string]bool{}
	for _, w := range strings.FieldsFunc(strings.ToLower(q), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r > 127)
	}) {
		if len(w) < 3 || stopWords[w] || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}

// ProjectDetailsTool 返回项目完整信息及付款方案分析。
type ProjectDetailsTool struct {
	store ProjectStore
}

func (t *ProjectDetailsTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: "get_project_details",
		Desc: "Get the full record of one project: developer, location, price range, payment plan analysis, highlights and brochures.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"project_name": {
				Desc:     "Project name (partial names are matched)",
				Type:     schema.String,
				Required: true,
			},
		}),
	}, nil
}

type projectNameArgs struct {
	ProjectName string `json:"project_name"`
}

type projectDetails struct {
	projectView
	Payment    PaymentAnalysis `json:"payment_analysis"`
	Highlights Highlights      `json:"highlights"`
}

func (t *ProjectDetailsTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	var args projectNameArgs
	if err := decodeArgs(argumentsInJSON, &args); err != nil {
		return "", err
	}
	p, err := findProject(ctx, t.store, args.ProjectName)
	if err != nil {
		return notFoundOr(err)
	}
	return encodeResult(projectDetails{
		projectView: newProjectView(*p, 0),
		Payment:     AnalyzePaymentPlans(p.PaymentPlans, p.MidPrice()),
		Highlights:  ExtractHighlights(p.Description),
	})
}

// ProjectAvailabilityTool 列出项目在售单元。
type ProjectAvailabilityTool struct {
	store ProjectStore
}

func (t *ProjectAvailabilityTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: "get_project_availability",
		Desc: "List available units (code, type, bedrooms, price, area) in a project, cheapest first, up to 20.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"project_name": {
				Desc:     "Project name",
				Type:     schema.String,
				Required: true,
			},
			"bedrooms": {
				Desc: "Only units with this number of bedrooms",
				Type: schema.Integer,
			},
		}),
	}, nil
}

type unitView struct {
	Code     string  `json:"code"`
	Type     string  `json:"type,omitempty"`
	Bedrooms int     `json:"bedrooms"`
	Price    int64   `json:"price"`
	Display  string  `json:"price_display"`
	AreaSqm  float64 `json:"area_sqm,omitempty"`
	PerSqm   int64   `json:"price_per_sqm,omitempty"`
}

type availabilityResult struct {
	Project  string     `json:"project"`
	Bedrooms *int       `json:"bedrooms,omitempty"`
	Count    int        `json:"count"`
	Units    []unitView `json:"units"`
	Note     string     `json:"note,omitempty"`
}

func (t *ProjectAvailabilityTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	var args struct {
		ProjectName string `json:"project_name"`
		Bedrooms    *int   `json:"bedrooms"`
	}
	if err := decodeArgs(argumentsInJSON, &args); err != nil {
		return "", err
	}
	p, err := findProject(ctx, t.store, args.ProjectName)
	if err != nil {
		return notFoundOr(err)
	}
	units, err := t.store.ListUnits(ctx, storage.UnitQuery{ProjectName: p.Name, Bedrooms: args.Bedrooms, Limit: maxUnitsListed})
	if err != nil {
		return "", err
	}
	res := availabilityResult{Project: p.Name, Bedrooms: args.Bedrooms, Count: len(units), Units: make([]unitView, 0, len(units))}
	for _, u := range units {
		v := unitView{Code: u.UnitCode, Type: u.UnitType, Bedrooms: u.Bedrooms, Price: u.Price, Display: formatEGP(u.Price), AreaSqm: u.AreaSqm}
		if u.AreaSqm > 0 {
			v.PerSqm = int64(float64(u.Price) / u.AreaSqm)
		}
		res.Units = append(res.Units, v)
	}
	if len(units) == 0 {
		res.Note = "No unit inventory recorded for this project with these filters; contact the developer or check listing portals."
	}
	return encodeResult(res)
}

const (
	infoOverview     = "overview"
	infoPaymentPlans = "payment_plans"
	infoPrices       = "prices"
	infoLocation     = "location"
	infoDetails      = "details"
	infoDocuments    = "documents"
	infoAll          = "all"
)

// ProjectInfoTool 按 info_type 返回项目信息的某个切面。
type ProjectInfoTool struct {
	store ProjectStore
}

func (t *ProjectInfoTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: "get_project_info_tool",
		Desc: "Get one aspect of a project: overview, payment_plans, prices, location, details, documents or all.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"project_name": {
				Desc:     "Project name",
				Type:     schema.String,
				Required: true,
			},
			"info_type": {
				Desc: "Which information to return (default all)",
				Type: schema.String,
				Enum: []string{infoOverview, infoPaymentPlans, infoPrices, infoLocation, infoDetails, infoDocuments, infoAll},
			},
		}),
	}, nil
}

func (t *ProjectInfoTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	var args struct {
		ProjectName string `json:"project_name"`
		InfoType    string `json:"info_type"`
	}
	if err := decodeArgs(argumentsInJSON, &args); err != nil {
		return "", err
	}
	infoType := strings.ToLower(strings.TrimSpace(args.InfoType))
	if infoType == "" {
		infoType = infoAll
	}
	p, err := findProject(ctx, t.store, args.ProjectName)
	if err != nil {
		return notFoundOr(err)
	}

	out := map[string]any{"project": p.Name, "info_type": infoType}
	want := func(k string) bool { return infoType == infoAll || infoType == k }
	matched := false
	if want(infoOverview) {
		matched = true
		out["developer"] = p.DeveloperName
		out["location"] = p.LocationName
		out["summary"] = truncate(p.Description, 400)
	}
	if want(infoPrices) {
		matched = true
		out["min_price"] = p.MinPrice
		out["max_price"] = p.MaxPrice
		out["price_range"] = formatEGP(p.MinPrice) + " - " + formatEGP(p.MaxPrice)
		out["price_category"] = PriceCategory(p.MidPrice())
	}
	if want(infoPaymentPlans) {
		matched = true
		out["payment_analysis"] = AnalyzePaymentPlans(p.PaymentPlans, p.MidPrice())
	}
	if want(infoLocation) {
		matched = true
		out["location"] = p.LocationName
		v := newProjectView(*p, 0)
		if v.MapsLink != "" {
			out["maps_link"] = v.MapsLink
			out["latitude"] = *p.Latitude
			out["longitude"] = *p.Longitude
		}
	}
	if want(infoDetails) {
		matched = true
		out["description"] = p.Description
		out["highlights"] = ExtractHighlights(p.Description)
	}
	if want(infoDocuments) {
		matched = true
		out["brochures"] = splitList(p.PDFDocuments)
		out["thumbnail_url"] = p.ThumbnailURL
	}
	if !matched {
		return "", fmt.Errorf("unknown info_type %q", args.InfoType)
	}
	return encodeResult(out)
}

// CompareProjectsTool 并排比较 2 到 4 个项目。
type CompareProjectsTool struct {
	store ProjectStore
}

func (t *CompareProjectsTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: "compare_projects_tool",
		Desc: "Compare 2 to 4 projects side by side: prices, price category, payment plans and highlights.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"project_names": {
				Desc:     "Project names to compare",
				Type:     schema.Array,
				ElemInfo: &schema.ParameterInfo{Type: schema.String},
				Required: true,
			},
		}),
	}, nil
}

type comparisonRow struct {
	Name          string   `json:"name"`
	Developer     string   `json:"developer,omitempty"`
	Location      string   `json:"location"`
	PriceRange    string   `json:"price_range"`
	PriceCategory string   `json:"price_category"`
	LowestDown    *float64 `json:"lowest_down_payment_percent,omitempty"`
	LongestTerm   *float64 `json:"longest_term_years,omitempty"`
	Amenities     []string `json:"amenities,omitempty"`
}

type comparisonResult struct {
	Projects []comparisonRow   `json:"projects"`
	NotFound []string          `json:"not_found,omitempty"`
	Summary  map[string]string `json:"summary"`
}

func (t *CompareProjectsTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	var args struct {
		ProjectNames []string `json:"project_names"`
	}
	if err := decodeArgs(argumentsInJSON, &args); err != nil {
		return "", err
	}
	if len(args.ProjectNames) < 2 || len(args.ProjectNames) > 4 {
		return "", fmt.Errorf("compare needs 2 to 4 project names, got %d", len(args.ProjectNames))
	}

	res := comparisonResult{Summary: map[string]string{}}
	var found []storage.Project
	seen := map[uint64]bool{}
	for _, name := range args.ProjectNames {
		p, err := findProject(ctx, t.store, name)
		if errors.Is(err, storage.ErrNotFound) {
			res.NotFound = append(res.NotFound, name)
			continue
		}
		if err != nil {
			return "", err
		}
		if seen[p.ID] {
			continue
		}
		seen[p.ID] = true
		found = append(found, *p)

		pay := AnalyzePaymentPlans(p.PaymentPlans, p.MidPrice())
		row := comparisonRow{
			Name:          p.Name,
			Developer:     p.DeveloperName,
			Location:      p.LocationName,
			PriceRange:    formatEGP(p.MinPrice) + " - " + formatEGP(p.MaxPrice),
			PriceCategory: PriceCategory(p.MidPrice()),
			Amenities:     ExtractHighlights(p.Description).Amenities,
		}
		if pay.LowestDown != nil {
			row.LowestDown = pay.LowestDown.DownPaymentPercent
		}
		if pay.LongestTerm != nil {
			row.LongestTerm = pay.LongestTerm.DurationYears
		}
		res.Projects = append(res.Projects, row)
	}
	if len(found) < 2 {
		return encodeResult(res)
	}

	cheapest, priciest := found[0], found[0]
	for _, p := range found[1:] {
		if p.MinPrice < cheapest.MinPrice {
			cheapest = p
		}
		if p.MaxPrice > priciest.MaxPrice {
			priciest = p
		}
	}
	res.Summary["lowest_entry_price"] = cheapest.Name
	res.Summary["highest_ceiling_price"] = priciest.Name

	var bestDown, bestTerm *comparisonRow
	for i := range res.Projects {
		r := &res.Projects[i]
		if r.LowestDown != nil && (bestDown == nil || *r.LowestDown < *bestDown.LowestDown) {
			bestDown = r
		}
		if r.LongestTerm != nil && (bestTerm == nil || *r.LongestTerm > *bestTerm.LongestTerm) {
			bestTerm = r
		}
	}
	if bestDown != nil {
		res.Summary["lowest_down_payment"] = bestDown.Name
	}
	if bestTerm != nil {
		res.Summary["longest_installments"] = bestTerm.Name
	}
	return encodeResult(res)
}

func findProject(ctx context.Context, store ProjectStore, name string) (*storage.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("project_name is required")
	}
	return store.FindProjectByName(ctx, name)
}

// notFoundOr 把"项目不存在"转成给模型的普通文本结果，其它错误原样返回。
func notFoundOr(err error) (string, error) {
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Sprintf("No project found: %v. Try intelligent_project_matcher to list projects in an area.", err), nil
	}
	return "", err
}
