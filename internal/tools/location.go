package tools

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/wwwzy/EstateAgent/internal/geo"
	"github.com/wwwzy/EstateAgent/internal/storage"
)

const (
	maxNearbyProjects = 5
	maxNearbyPlaces   = 10
)

// FindPropertiesTool 对地名做地理编码，返回半径内按距离排序的项目。
type FindPropertiesTool struct {
	store ProjectStore
	geo   Geocoder
}

func (t *FindPropertiesTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: "find_properties_tool",
		Desc: "Find projects within a radius of an Egyptian place (landmark, district, street), nearest first, with Google Maps links.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"place_name": {
				Desc:     "Place to search around, e.g. 'Cairo Festival City'",
				Type:     schema.String,
				Required: true,
			},
			"radius_km": {
				Desc: "Search radius in kilometers (default 5, max 50)",
				Type: schema.Number,
			},
		}),
	}, nil
}

type nearbyProject struct {
	Name       string  `json:"name"`
	Location   string  `json:"location"`
	DistanceKm float64 `json:"distance_km"`
	PriceRange string  `json:"price_range"`
	MapsLink   string  `json:"maps_link"`
}

type findPropertiesResult struct {
	Place     string          `json:"place"`
	Resolved  string          `json:"resolved_as"`
	PlaceLink string          `json:"place_maps_link"`
	RadiusKm  float64         `json:"radius_km"`
	Total     int             `json:"total_in_radius"`
	Projects  []nearbyProject `json:"projects"`
}

func (t *FindPropertiesTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	var args struct {
		PlaceName string  `json:"place_name"`
		RadiusKm  float64 `json:"radius_km"`
	}
	if err := decodeArgs(argumentsInJSON, &args); err != nil {
		return "", err
	}
	args.PlaceName = strings.TrimSpace(args.PlaceName)
	if args.PlaceName == "" {
		return "", errors.New("place_name is required")
	}
	if args.RadiusKm <= 0 {
		args.RadiusKm = 5
	}
	if args.RadiusKm > 50 {
		args.RadiusKm = 50
	}

	place, err := t.geo.GeocodeInEgypt(ctx, args.PlaceName)
	if errors.Is(err, geo.ErrNotFound) {
		return fmt.Sprintf("Could not locate %q in Egypt. Try a more specific place name.", args.PlaceName), nil
	}
	if err != nil {
		return "", err
	}

	projects, err := t.store.ProjectsWithCoordinates(ctx)
	if err != nil {
		return "", err
	}
	res := findPropertiesResult{
		Place:     args.PlaceName,
		Resolved:  place.DisplayName,
		PlaceLink: geo.MapsLink(place.Lat, place.Lon),
		RadiusKm:  args.RadiusKm,
		Projects:  []nearbyProject{},
	}
	for _, p := range projects {
		d := geo.HaversineKm(place.Lat, place.Lon, *p.Latitude, *p.Longitude)
		if d > args.RadiusKm {
			continue
		}
		res.Projects = append(res.Projects, nearbyProject{
			Name:       p.Name,
			Location:   p.LocationName,
			DistanceKm: round2(d),
			PriceRange: formatEGP(p.MinPrice) + " - " + formatEGP(p.MaxPrice),
			MapsLink:   geo.MapsLink(*p.Latitude, *p.Longitude),
		})
	}
	sort.SliceStable(res.Projects, func(i, j int) bool { return res.Projects[i].DistanceKm < res.Projects[j].DistanceKm })
	res.Total = len(res.Projects)
	if len(res.Projects) > maxNearbyProjects {
		res.Projects = res.Projects[:maxNearbyProjects]
	}
	return encodeResult(res)
}

// MapsLinkTool 返回项目的 Google Maps 链接。没有坐标时退化为按名称搜索的链接。
type MapsLinkTool struct {
	store ProjectStore
}

func (t *MapsLinkTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: "google_maps_link_tool",
		Desc: "Get a Google Maps link for a project.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"project_name": {
				Desc:     "Project name",
				Type:     schema.String,
				Required: true,
			},
		}),
	}, nil
}

func (t *MapsLinkTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	var args projectNameArgs
	if err := decodeArgs(argumentsInJSON, &args); err != nil {
		return "", err
	}
	p, err := findProject(ctx, t.store, args.ProjectName)
	if err != nil {
		return notFoundOr(err)
	}
	out := map[string]any{"project": p.Name, "location": p.LocationName}
	if p.Latitude != nil && p.Longitude != nil {
		out["maps_link"] = geo.MapsLink(*p.Latitude, *p.Longitude)
		out["exact"] = true
	} else {
		out["maps_link"] = "https://www.google.com/maps/search/?api=1&query=" + url.QueryEscape(p.Name+", "+p.LocationName)
		out["exact"] = false
	}
	return encodeResult(out)
}

// NearbyPlacesTool 通过 Overpass 查询项目周边的设施。
type NearbyPlacesTool struct {
	store ProjectStore
	geo   Geocoder
}

func (t *NearbyPlacesTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: "nearby_places_tool",
		Desc: "List named places (schools, hospitals, malls, restaurants...) around a project using OpenStreetMap.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"project_name": {
				Desc:     "Project name",
				Type:     schema.String,
				Required: true,
			},
			"radius_m": {
				Desc: "Radius in meters (default 2000, max 10000)",
				Type: schema.Integer,
			},
			"amenity": {
				Desc: "Optional OSM amenity type, e.g. school, hospital, pharmacy, restaurant",
				Type: schema.String,
			},
		}),
	}, nil
}

type place struct {
	Name       string  `json:"name"`
	Type       string  `json:"type"`
	DistanceKm float64 `json:"distance_km"`
	MapsLink   string  `json:"maps_link"`
}

func (t *NearbyPlacesTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	var args struct {
		ProjectName string `json:"project_name"`
		RadiusM     int    `json:"radius_m"`
		Amenity     string `json:"amenity"`
	}
	if err := decodeArgs(argumentsInJSON, &args); err != nil {
		return "", err
	}
	if args.RadiusM == 0 {
		args.RadiusM = 2000
	}
	args.RadiusM = clamp(args.RadiusM, 100, 10000)

	p, err := findProject(ctx, t.store, args.ProjectName)
	if err != nil {
		return notFoundOr(err)
	}
	lat, lon, err := t.projectCoords(ctx, p)
	if err != nil {
		return notFoundOr(err)
	}

	var selectors []string
	if a := strings.ToLower(strings.TrimSpace(args.Amenity)); a != "" {
		selectors = []string{fmt.Sprintf(`node["amenity"=%q]`, a), fmt.Sprintf(`way["amenity"=%q]`, a)}
	} else {
		selectors = []string{`node["amenity"]`, `node["shop"]`, `node["leisure"]`}
	}
	elements, err := t.geo.Overpass(ctx, geo.AroundQuery(args.RadiusM, lat, lon, selectors...))
	if err != nil {
		return "", err
	}

	places := uniqueNamedPlaces(elements, lat, lon)
	total := len(places)
	if len(places) > maxNearbyPlaces {
		places = places[:maxNearbyPlaces]
	}
	return encodeResult(map[string]any{
		"project":  p.Name,
		"radius_m": args.RadiusM,
		"amenity":  args.Amenity,
		"total":    total,
		"places":   places,
	})
}

// projectCoords 优先使用项目坐标，否则对项目所在地区做地理编码。
func (t *NearbyPlacesTool) projectCoords(ctx context.Context, p *storage.Project) (float64, float64, error) {
	if p.Latitude != nil && p.Longitude != nil {
		return *p.Latitude, *p.Longitude, nil
	}
	pl, err := t.geo.GeocodeInEgypt(ctx, p.LocationName)
	if errors.Is(err, geo.ErrNotFound) {
		return 0, 0, fmt.Errorf("no coordinates for %s: %w", p.Name, storage.ErrNotFound)
	}
	if err != nil {
		return 0, 0, err
	}
	return pl.Lat, pl.Lon, nil
}

// uniqueNamedPlaces 只保留有名称的元素，同名去重，按距离排序。
func uniqueNamedPlaces(elements []geo.Element, lat, lon float64) []place {
	seen := map[string]bool{}
	out := []place{}
	for _, e := range elements {
		name := strings.TrimSpace(e.Tags["name:en"])
		if name == "" {
			name = strings.TrimSpace(e.Tags["name"])
		}
		if name == "" || seen[strings.ToLower(name)] {
			continue
		}
		elat, elon, ok := e.Coords()
		if !ok {
			continue
		}
		seen[strings.ToLower(name)] = true
		typ := e.Tags["amenity"]
		if typ == "" {
			typ = e.Tags["shop"]
		}
		if typ == "" {
			typ = e.Tags["leisure"]
		}
		out = append(out, place{
			Name:       name,
			Type:       typ,
			DistanceKm: round2(geo.HaversineKm(lat, lon, elat, elon)),
			MapsLink:   geo.MapsLink(elat, elon),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DistanceKm < out[j].DistanceKm })
	return out
}
