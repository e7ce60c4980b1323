package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/cloudwego/eino/components/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wwwzy/EstateAgent/internal/geo"
	"github.com/wwwzy/EstateAgent/internal/sandbox"
	"github.com/wwwzy/EstateAgent/internal/storage"
	"github.com/wwwzy/EstateAgent/internal/websearch"
)

func openStore(t *testing.T) *storage.Storage {
	t.Helper()
	s, err := storage.Open(context.Background(), storage.Config{Path: filepath.Join(t.TempDir(), "tools.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func f64(v float64) *float64 { return &v }

// seededStore 写入四个项目：新开罗三个（其中 Hyde Park 没有坐标）与谢赫扎耶德一个。
func seededStore(t *testing.T) *storage.Storage {
	t.Helper()
	s := openStore(t)
	ctx := context.Background()
	rows := []struct {
		p     storage.Project
		units []storage.Unit
	}{
		{
			p: storage.Project{Name: "Palm Hills New Cairo", DeveloperName: "Palm Hills", LocationName: "New Cairo, Cairo",
				MinPrice: 4_000_000, MaxPrice: 9_000_000, PaymentPlans: "10% down, 8 years | 5% down, 10 years",
				Description: "Quiet family compound with parks and a golf course, 10 minutes from Cairo Festival City.",
				PDFDocuments: "https://example.com/ph.pdf, https://example.com/ph2.pdf",
				Latitude:     f64(30.03), Longitude: f64(31.47)},
			units: []storage.Unit{
				{UnitCode: "PH-101", UnitType: "Apartment", Bedrooms: 3, Price: 4_800_000, AreaSqm: 165},
				{UnitCode: "PH-102", UnitType: "Apartment", Bedrooms: 2, Price: 4_100_000, AreaSqm: 120},
			},
		},
		{
			p: storage.Project{Name: "Mountain View iCity", DeveloperName: "Mountain View", LocationName: "New Cairo, Cairo",
				MinPrice: 2_500_000, MaxPrice: 4_500_000, PaymentPlans: "15% down, 7 years",
				Description: "Modern apartments near the ring road with a clubhouse.",
				Latitude:    f64(30.05), Longitude: f64(31.50)},
			units: []storage.Unit{
				{UnitCode: "MV-1", UnitType: "Apartment", Bedrooms: 3, Price: 3_900_000, AreaSqm: 150},
			},
		},
		{
			p: storage.Project{Name: "Hyde Park New Cairo", DeveloperName: "Hyde Park", LocationName: "New Cairo, Cairo",
				MinPrice: 3_000_000, MaxPrice: 6_000_000, PaymentPlans: "20% down, 6 years",
				Description: "Central park, schools and a mall."},
		},
		{
			p: storage.Project{Name: "Zed Towers", DeveloperName: "Ora", LocationName: "Sheikh Zayed, Giza",
				MinPrice: 8_000_000, MaxPrice: 20_000_000, Description: "Luxury towers with a pool.",
				Latitude: f64(30.04), Longitude: f64(30.98)},
		},
	}
	for i := range rows {
		require.NoError(t, s.UpsertProject(ctx, &rows[i].p, rows[i].units))
	}
	return s
}

type fakeGeo struct {
	mu       sync.Mutex
	places   map[string]geo.Place
	overpass func(query string) ([]geo.Element, error)
	queries  []string
}

func (f *fakeGeo) GeocodeInEgypt(_ context.Context, name string) (*geo.Place, error) {
	p, ok := f.places[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", geo.ErrNotFound, name)
	}
	return &p, nil
}

func (f *fakeGeo) Overpass(_ context.Context, query string) ([]geo.Element, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.mu.Unlock()
	if f.overpass == nil {
		return nil, nil
	}
	return f.overpass(query)
}

type fakeWeb struct {
	mu      sync.Mutex
	reqs    []websearch.Request
	respond func(i int, r websearch.Request) (*websearch.Response, error)
}

func (f *fakeWeb) Search(_ context.Context, r websearch.Request) (*websearch.Response, error) {
	f.mu.Lock()
	i := len(f.reqs)
	f.reqs = append(f.reqs, r)
	f.mu.Unlock()
	return f.respond(i, r)
}

type fakeRunner struct {
	req sandbox.Request
	res *sandbox.Result
	err error
}

func (f *fakeRunner) Run(_ context.Context, req sandbox.Request) (*sandbox.Result, error) {
	f.req = req
	return f.res, f.err
}

func run(t *testing.T, tl tool.InvokableTool, args string) string {
	t.Helper()
	out, err := tl.InvokableRun(context.Background(), args)
	require.NoError(t, err)
	return out
}

func decode[T any](t *testing.T, raw string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(raw), &v), raw)
	return v
}

func toolNames(t *testing.T, list []tool.BaseTool) []string {
	t.Helper()
	var out []string
	for _, tl := range list {
		info, err := tl.Info(context.Background())
		require.NoError(t, err)
		out = append(out, info.Name)
	}
	return out
}

func TestNew_RegistersToolsByAvailableDeps(t *testing.T) {
	store := openStore(t)

	names := toolNames(t, New(Deps{Projects: store}))
	assert.Equal(t, []string{
		"intelligent_project_matcher",
		"semantic_project_search",
		"get_project_details",
		"get_project_availability",
		"get_project_info_tool",
		"compare_projects_tool",
		"google_maps_link_tool",
	}, names)

	all := toolNames(t, New(Deps{
		Projects: store,
		Memories: store,
		Geo:      &fakeGeo{},
		Web:      &fakeWeb{},
		Sandbox:  &fakeRunner{},
	}))
	assert.Len(t, all, 15)
	assert.Contains(t, all, "analyze_egyptian_neighborhood_advanced")
	assert.Contains(t, all, "search_egyptian_real_estate_tavily")
	assert.Contains(t, all, "search_market_intelligence")
	assert.Contains(t, all, "manage_memory")
	assert.Contains(t, all, "search_memory")
	assert.Contains(t, all, "execute_python_query")

	seen := map[string]bool{}
	for _, n := range all {
		assert.False(t, seen[n], "duplicate tool %s", n)
		seen[n] = true
	}
}

func TestCatalog_Loads(t *testing.T) {
	c, err := loadCatalog()
	require.NoError(t, err)
	assert.Equal(t, "Al Rehab City, New Cairo, Cairo Governorate, Egypt", c.neighborhoods.Aliases["rehab"])
	assert.InDelta(t, 0.4, c.neighborhoods.FocusWeights["quiet"], 1e-9)
	assert.Contains(t, c.market.ListingPortals, "nawy.com")
	assert.Equal(t, "market_trends", c.market.DefaultCategory)
	for _, cat := range c.market.Categories {
		assert.NotEmpty(t, cat.Keywords, cat.Name)
		assert.NotEmpty(t, cat.Sources, cat.Name)
	}
}

func TestDecodeArgs(t *testing.T) {
	var v struct {
		A int `json:"a"`
	}
	require.NoError(t, decodeArgs("", &v))
	require.NoError(t, decodeArgs(`{"a": 3}`, &v))
	assert.Equal(t, 3, v.A)
	err := decodeArgs(`{"a": "x"}`, &v)
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "invalid arguments"))
}
