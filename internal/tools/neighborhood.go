package tools

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/wwwzy/EstateAgent/internal/geo"
	"golang.org/x/sync/errgroup"
)

const (
	focusQuiet        = "quiet"
	focusAmenities    = "amenities"
	focusLifestyle    = "lifestyle"
	focusConnectivity = "connectivity"
)

// NeighborhoodTool 基于 OpenStreetMap 数据给一个街区打分：安静程度、设施、生活方式与交通。
type NeighborhoodTool struct {
	geo  Geocoder
	data *catalog
}

func (t *NeighborhoodTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	scenarios := make([]string, 0, len(t.data.neighborhoods.Scenarios))
	for k := range t.data.neighborhoods.Scenarios {
		scenarios = append(scenarios, k)
	}
	slices.Sort(scenarios)
	return &schema.ToolInfo{
		Name: "analyze_egyptian_neighborhood_advanced",
		Desc: "Analyze an Egyptian neighborhood from OpenStreetMap data: quietness, amenities, green spaces and connectivity scored 0-10, weighted for the user's scenario.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"neighborhood": {
				Desc:     "Neighborhood or short alias, e.g. 'rehab', 'degla', 'sheikh zayed'",
				Type:     schema.String,
				Required: true,
			},
			"user_scenario": {
				Desc: "Who the analysis is for (default general)",
				Type: schema.String,
				Enum: scenarios,
			},
			"specific_needs": {
				Desc:     "Extra focus areas: quiet, amenities, lifestyle, connectivity",
				Type:     schema.Array,
				ElemInfo: &schema.ParameterInfo{Type: schema.String},
			},
		}),
	}, nil
}

type trafficAnalysis struct {
	HighTraffic int     `json:"high_traffic_roads"`
	MedTraffic  int     `json:"medium_traffic_roads"`
	LowTraffic  int     `json:"low_traffic_roads"`
	TotalRoads  int     `json:"total_roads"`
	Score       float64 `json:"traffic_score"`
	Indicator   string  `json:"quietness_indicator"`
}

type lifestyleAnalysis struct {
	GreenSpaces int     `json:"green_spaces"`
	Recreation  int     `json:"recreation_facilities"`
	Score       float64 `json:"lifestyle_score"`
	GreenRating string  `json:"green_rating"`
}

type connectivityAnalysis struct {
	TransportNodes int     `json:"transport_nodes"`
	MajorRoads     int     `json:"major_roads"`
	Score          float64 `json:"connectivity_score"`
	Accessibility  string  `json:"accessibility"`
}

type neighborhoodScores struct {
	Quietness    *float64 `json:"quietness,omitempty"`
	Amenities    *float64 `json:"amenities,omitempty"`
	Lifestyle    *float64 `json:"lifestyle,omitempty"`
	Connectivity *float64 `json:"connectivity,omitempty"`
	Overall      float64  `json:"overall"`
}

type neighborhoodReport struct {
	Neighborhood    string                `json:"neighborhood"`
	ResolvedAs      string                `json:"resolved_as"`
	MapsLink        string                `json:"maps_link"`
	Scenario        string                `json:"scenario"`
	Focus           []string              `json:"focus"`
	Scores          neighborhoodScores    `json:"scores"`
	Traffic         *trafficAnalysis      `json:"traffic,omitempty"`
	Amenities       map[string]int        `json:"amenities,omitempty"`
	Lifestyle       *lifestyleAnalysis    `json:"lifestyle,omitempty"`
	Connectivity    *connectivityAnalysis `json:"connectivity,omitempty"`
	Recommendations []string              `json:"recommendations"`
	Suitability     []string              `json:"suitability"`
	Unavailable     []string              `json:"unavailable,omitempty"`
	Source          string                `json:"source"`
}

func (t *NeighborhoodTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	var args struct {
		Neighborhood  string   `json:"neighborhood"`
		UserScenario  string   `json:"user_scenario"`
		SpecificNeeds []string `json:"specific_needs"`
	}
	if err := decodeArgs(argumentsInJSON, &args); err != nil {
		return "", err
	}
	name := strings.TrimSpace(args.Neighborhood)
	if name == "" {
		return "", errors.New("neighborhood is required")
	}
	scenario := strings.ToLower(strings.TrimSpace(args.UserScenario))
	if scenario == "" {
		scenario = "general"
	}
	focus := t.focusFor(scenario, args.SpecificNeeds)

	query := name
	if full, ok := t.data.neighborhoods.Aliases[strings.ToLower(name)]; ok {
		query = full
	}
	place, err := t.geo.GeocodeInEgypt(ctx, query)
	if errors.Is(err, geo.ErrNotFound) {
		return fmt.Sprintf("Could not locate neighborhood %q in Egypt. Try the full area name, e.g. 'Al Rehab City, New Cairo'.", name), nil
	}
	if err != nil {
		return "", err
	}

	rep := neighborhoodReport{
		Neighborhood: name,
		ResolvedAs:   place.DisplayName,
		MapsLink:     geo.MapsLink(place.Lat, place.Lon),
		Scenario:     scenario,
		Focus:        focus,
		Source:       "OpenStreetMap data within 1-2 km of the neighborhood center",
	}
	if err := t.collect(ctx, place.Lat, place.Lon, &rep); err != nil {
		return "", err
	}

	rep.Scores = t.score(&rep, focus)
	rep.Recommendations = recommendations(rep.Scores, focus)
	rep.Suitability = suitability(rep, scenario)
	return encodeResult(rep)
}

// focusFor 把场景与额外需求合并为去重的关注维度列表。"traffic" 视为 "quiet"。
func (t *NeighborhoodTool) focusFor(scenario string, needs []string) []string {
	base, ok := t.data.neighborhoods.Scenarios[scenario]
	if !ok {
		base = t.data.neighborhoods.Scenarios["general"]
	}
	var out []string
	for _, f := range append(append([]string(nil), base...), needs...) {
		f = strings.ToLower(strings.TrimSpace(f))
		if f == "traffic" || f == "quietness" {
			f = focusQuiet
		}
		if _, known := t.data.neighborhoods.FocusWeights[f]; !known || slices.Contains(out, f) {
			continue
		}
		out = append(out, f)
	}
	return out
}

// collect 并发执行四组 Overpass 查询。单组失败只记入 Unavailable，全部失败才返回错误。
func (t *NeighborhoodTool) collect(ctx context.Context, lat, lon float64, rep *neighborhoodReport) error {
	type section struct {
		name  string
		query string
		apply func([]geo.Element)
	}
	n := t.data.neighborhoods
	sections := []section{
		{
			name:  "amenities",
			query: geo.AroundQuery(1500, lat, lon, `node["amenity"]`, `way["amenity"]`, `node["shop"]`, `way["shop"]`, `node["leisure"]`, `way["leisure"]`),
			apply: func(els []geo.Element) { rep.Amenities = categorizeAmenities(els, n.AmenityCategories) },
		},
		{
			name:  "traffic",
			query: geo.AroundQuery(1000, lat, lon, `way["highway"]`, `node["highway"="traffic_signals"]`),
			apply: func(els []geo.Element) { a := analyzeTraffic(els, n); rep.Traffic = &a },
		},
		{
			name:  "lifestyle",
			query: geo.AroundQuery(1500, lat, lon, `way["leisure"]`, `node["leisure"]`, `way["natural"]`, `node["natural"]`),
			apply: func(els []geo.Element) { a := analyzeLifestyle(els, n); rep.Lifestyle = &a },
		},
		{
			name:  "connectivity",
			query: geo.AroundQuery(1500, lat, lon, `node["public_transport"]`, `node["railway"]`, `node["amenity"="bus_station"]`, `way["highway"~"motorway|trunk|primary"]`),
			apply: func(els []geo.Element) { a := analyzeConnectivity(els); rep.Connectivity = &a },
		},
	}

	var mu sync.Mutex
	var lastErr error
	g, gctx := errgroup.WithContext(ctx)
	// Overpass 公共实例对并发敏感
	g.SetLimit(2)
	for _, s := range sections {
		g.Go(func() error {
			els, err := t.geo.Overpass(gctx, s.query)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				logWarn(ctx, "analyze_egyptian_neighborhood_advanced", fmt.Errorf("%s: %w", s.name, err))
				rep.Unavailable = append(rep.Unavailable, s.name)
				lastErr = err
				return nil
			}
			s.apply(els)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if len(rep.Unavailable) == len(sections) {
		return fmt.Errorf("overpass unavailable: %w", lastErr)
	}
	slices.Sort(rep.Unavailable)
	return nil
}

func categorizeAmenities(elements []geo.Element, cats []amenityCategory) map[string]int {
	out := map[string]int{}
	for _, e := range elements {
		if len(e.Tags) == 0 {
			continue
		}
		amenity, shop, leisure := e.Tags["amenity"], e.Tags["shop"], e.Tags["leisure"]
		for _, c := range cats {
			if (amenity != "" && slices.Contains(c.Amenity, amenity)) ||
				(shop != "" && slices.Contains(c.Shop, shop)) ||
				(leisure != "" && slices.Contains(c.Leisure, leisure)) {
				out[c.Name]++
				break
			}
		}
	}
	return out
}

func analyzeTraffic(elements []geo.Element, n neighborhoodData) trafficAnalysis {
	var a trafficAnalysis
	for _, e := range elements {
		hw := e.Tags["highway"]
		if hw == "" || hw == "traffic_signals" {
			continue
		}
		a.TotalRoads++
		switch {
		case slices.Contains(n.Roads.High, hw):
			a.HighTraffic++
		case slices.Contains(n.Roads.Medium, hw):
			a.MedTraffic++
		case slices.Contains(n.Roads.Low, hw):
			a.LowTraffic++
		}
	}
	score := 8.0
	if a.TotalRoads > 0 {
		high := float64(a.HighTraffic) / float64(a.TotalRoads)
		low := float64(a.LowTraffic) / float64(a.TotalRoads)
		score = min(10, max(0, 10-high*8+low*4))
	}
	a.Score = round1(score)
	switch {
	case a.Score >= 8:
		a.Indicator = "Very Quiet"
	case a.Score >= 6:
		a.Indicator = "Quiet"
	case a.Score >= 4:
		a.Indicator = "Moderate"
	default:
		a.Indicator = "Busy"
	}
	return a
}

func analyzeLifestyle(elements []geo.Element, n neighborhoodData) lifestyleAnalysis {
	var a lifestyleAnalysis
	for _, e := range elements {
		leisure := e.Tags["leisure"]
		if slices.Contains(n.GreenLeisure, leisure) {
			a.GreenSpaces++
		}
		if slices.Contains(n.RecreationLeisure, leisure) {
			a.Recreation++
		}
	}
	green := min(float64(a.GreenSpaces)/3*5, 5)
	recreation := min(float64(a.Recreation)/2*5, 5)
	a.Score = round1(green + recreation)
	switch {
	case a.GreenSpaces >= 3:
		a.GreenRating = "Very Green"
	case a.GreenSpaces >= 1:
		a.GreenRating = "Moderately Green"
	default:
		a.GreenRating = "Limited Green"
	}
	return a
}

func analyzeConnectivity(elements []geo.Element) connectivityAnalysis {
	var a connectivityAnalysis
	for _, e := range elements {
		if e.Tags["public_transport"] != "" || e.Tags["railway"] != "" || e.Tags["amenity"] == "bus_station" {
			a.TransportNodes++
		}
		switch e.Tags["highway"] {
		case "motorway", "trunk", "primary":
			a.MajorRoads++
		}
	}
	a.Score = round1(min(float64(a.TransportNodes*3+a.MajorRoads*2)/5, 10))
	switch {
	case a.Score >= 7:
		a.Accessibility = "Excellent"
	case a.Score >= 5:
		a.Accessibility = "Good"
	case a.Score >= 3:
		a.Accessibility = "Fair"
	default:
		a.Accessibility = "Limited"
	}
	return a
}

// score 计算各维度得分；overall 为关注维度的加权平均，缺失维度不参与。
func (t *NeighborhoodTool) score(rep *neighborhoodReport, focus []string) neighborhoodScores {
	var s neighborhoodScores
	if rep.Traffic != nil {
		s.Quietness = ptr(rep.Traffic.Score)
	}
	if rep.Amenities != nil {
		total := 0
		for _, c := range rep.Amenities {
			total += c
		}
		s.Amenities = ptr(round1(min(float64(total)/20*10, 10)))
	}
	if rep.Lifestyle != nil {
		s.Lifestyle = ptr(rep.Lifestyle.Score)
	}
	if rep.Connectivity != nil {
		s.Connectivity = ptr(rep.Connectivity.Score)
	}

	byFocus := map[string]*float64{
		focusQuiet:        s.Quietness,
		focusAmenities:    s.Amenities,
		focusLifestyle:    s.Lifestyle,
		focusConnectivity: s.Connectivity,
	}
	var sum, weights float64
	for _, f := range focus {
		v := byFocus[f]
		if v == nil {
			continue
		}
		w := t.data.neighborhoods.FocusWeights[f]
		sum += *v * w
		weights += w
	}
	if weights > 0 {
		s.Overall = round1(sum / weights)
	}
	return s
}

func ptr(v float64) *float64 { return &v }

func valueOr(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

func recommendations(s neighborhoodScores, focus []string) []string {
	var out []string
	switch {
	case s.Overall >= 8:
		out = append(out, "Excellent choice: balances amenities with quality of life")
	case s.Overall >= 6:
		out = append(out, "Good option: meets most criteria with some trade-offs")
	default:
		out = append(out, "Consider alternatives: may not fully meet these needs")
	}
	if slices.Contains(focus, focusQuiet) && s.Quietness != nil {
		switch q := *s.Quietness; {
		case q >= 8:
			out = append(out, "Very quiet area with minimal traffic noise")
		case q >= 6:
			out = append(out, "Relatively quiet; some traffic but generally peaceful")
		default:
			out = append(out, "Busier area; expect moderate traffic noise")
		}
	}
	if slices.Contains(focus, focusAmenities) && s.Amenities != nil {
		switch a := *s.Amenities; {
		case a >= 7:
			out = append(out, "Well served: good access to shops and services")
		case a >= 4:
			out = append(out, "Adequate amenities: basic services available")
		default:
			out = append(out, "Limited amenities: may require travel for shopping")
		}
	}
	if slices.Contains(focus, focusLifestyle) && s.Lifestyle != nil {
		switch l := *s.Lifestyle; {
		case l >= 7:
			out = append(out, "Green and active: good parks and recreation options")
		case l >= 4:
			out = append(out, "Some green spaces, limited but available")
		default:
			out = append(out, "Urban environment with few green or recreation spaces")
		}
	}
	if slices.Contains(focus, focusConnectivity) && s.Connectivity != nil {
		if *s.Connectivity >= 5 {
			out = append(out, "Well connected to public transport and main roads")
		} else {
			out = append(out, "Limited public transport; a car is likely needed")
		}
	}
	return out
}

func suitability(rep neighborhoodReport, scenario string) []string {
	s := rep.Scores
	quiet := valueOr(s.Quietness, 5)
	amen := valueOr(s.Amenities, 5)
	life := valueOr(s.Lifestyle, 5)
	conn := valueOr(s.Connectivity, 5)

	var out []string
	switch scenario {
	case "quiet":
		switch {
		case quiet >= 7:
			out = append(out, "Perfect for quiet living")
		case quiet >= 5:
			out = append(out, "Moderately quiet; some traffic present")
		default:
			out = append(out, "Not ideal for quiet seekers")
		}
	case "family":
		switch {
		case amen >= 6 && quiet >= 6:
			out = append(out, "Great for families: calm streets with good amenities")
		case amen >= 4 && quiet >= 4:
			out = append(out, "Adequate for families with some compromises")
		default:
			out = append(out, "Challenging for families: limited amenities or busy roads")
		}
		if rep.Amenities["education"] > 0 {
			out = append(out, fmt.Sprintf("%d schools or education facilities nearby", rep.Amenities["education"]))
		}
	case "investor":
		if conn >= 5 && amen >= 5 {
			out = append(out, "Strong rental demand signals: connected and well served")
		} else {
			out = append(out, "Rental demand may be limited by access or services")
		}
	case "young_professional":
		if conn >= 5 && (amen >= 5 || life >= 5) {
			out = append(out, "Good fit for young professionals: commute options and things to do")
		} else {
			out = append(out, "Commute or leisure options may be limited for young professionals")
		}
	case "retiree":
		if quiet >= 6 && rep.Amenities["healthcare"] > 0 {
			out = append(out, "Suits retirees: calm with healthcare nearby")
		} else {
			out = append(out, "Check healthcare access and noise levels before committing")
		}
	}
	switch {
	case s.Overall >= 7:
		out = append(out, "High quality neighborhood")
	case s.Overall >= 5:
		out = append(out, "Good standard neighborhood")
	default:
		out = append(out, "Developing neighborhood")
	}
	return out
}
