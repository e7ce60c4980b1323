package tools

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wwwzy/EstateAgent/internal/geo"
)

func el(tags ...string) geo.Element {
	m := map[string]string{}
	for i := 0; i+1 < len(tags); i += 2 {
		m[tags[i]] = tags[i+1]
	}
	return geo.Element{Type: "node", Lat: 30.06, Lon: 31.49, Tags: m}
}

var (
	trafficEls = []geo.Element{
		el("highway", "primary"), el("highway", "primary"), el("highway", "residential"),
		el("highway", "footway"), el("highway", "traffic_signals"),
	}
	lifestyleEls = []geo.Element{
		el("leisure", "park"), el("leisure", "park"), el("leisure", "garden"), el("leisure", "sports_centre"),
	}
	connectivityEls = []geo.Element{
		el("public_transport", "stop_position"), el("railway", "station"), el("highway", "primary"),
	}
	amenityEls = []geo.Element{
		el("amenity", "school"), el("amenity", "clinic"), el("amenity", "restaurant"),
		el("amenity", "cafe"), el("shop", "supermarket"), el("amenity", "bench"), {},
	}
)

func TestNeighborhoodAnalyzers(t *testing.T) {
	n := mustCatalog().neighborhoods

	tr := analyzeTraffic(trafficEls, n)
	assert.Equal(t, 4, tr.TotalRoads)
	assert.Equal(t, 2, tr.HighTraffic)
	assert.Equal(t, 1, tr.MedTraffic)
	assert.Equal(t, 1, tr.LowTraffic)
	assert.Equal(t, 7.0, tr.Score)
	assert.Equal(t, "Quiet", tr.Indicator)

	empty := analyzeTraffic(nil, n)
	assert.Equal(t, 8.0, empty.Score)
	assert.Equal(t, "Very Quiet", empty.Indicator)

	ls := analyzeLifestyle(lifestyleEls, n)
	assert.Equal(t, 3, ls.GreenSpaces)
	assert.Equal(t, 1, ls.Recreation)
	assert.Equal(t, 7.5, ls.Score)
	assert.Equal(t, "Very Green", ls.GreenRating)

	cn := analyzeConnectivity(connectivityEls)
	assert.Equal(t, 2, cn.TransportNodes)
	assert.Equal(t, 1, cn.MajorRoads)
	assert.Equal(t, 1.6, cn.Score)
	assert.Equal(t, "Limited", cn.Accessibility)

	cats := categorizeAmenities(amenityEls, n.AmenityCategories)
	assert.Equal(t, map[string]int{"education": 1, "healthcare": 1, "food": 2, "shopping": 1}, cats)
}

func TestNeighborhood_FocusFor(t *testing.T) {
	tl := &NeighborhoodTool{data: mustCatalog()}
	assert.Equal(t,
		[]string{focusAmenities, focusLifestyle, focusQuiet, focusConnectivity},
		tl.focusFor("family", []string{"Traffic", "connectivity", "bogus"}))
	assert.Equal(t,
		[]string{focusAmenities, focusQuiet, focusLifestyle, focusConnectivity},
		tl.focusFor("astronaut", nil))
}

func rehabGeo(failing ...string) *fakeGeo {
	return &fakeGeo{
		places: map[string]geo.Place{
			"Al Rehab City, New Cairo, Cairo Governorate, Egypt": {Lat: 30.06, Lon: 31.49, DisplayName: "Al Rehab City"},
		},
		overpass: func(q string) ([]geo.Element, error) {
			var section string
			var els []geo.Element
			switch {
			case strings.Contains(q, "public_transport"):
				section, els = "connectivity", connectivityEls
			case strings.Contains(q, "traffic_signals"):
				section, els = "traffic", trafficEls
			case strings.Contains(q, `["natural"]`):
				section, els = "lifestyle", lifestyleEls
			default:
				section, els = "amenities", amenityEls
			}
			for _, f := range failing {
				if f == section {
					return nil, errors.New("overpass 429")
				}
			}
			return els, nil
		},
	}
}

func TestNeighborhood_PartialFailure(t *testing.T) {
	g := rehabGeo("connectivity")
	tl := &NeighborhoodTool{geo: g, data: mustCatalog()}

	rep := decode[neighborhoodReport](t, run(t, tl, `{"neighborhood":"Rehab","user_scenario":"quiet"}`))
	assert.Equal(t, "Al Rehab City", rep.ResolvedAs)
	assert.Equal(t, []string{focusQuiet, focusLifestyle}, rep.Focus)
	assert.Equal(t, []string{"connectivity"}, rep.Unavailable)
	assert.Nil(t, rep.Connectivity)
	assert.Nil(t, rep.Scores.Connectivity)
	require.NotNil(t, rep.Scores.Quietness)
	assert.Equal(t, 7.0, *rep.Scores.Quietness)
	assert.Equal(t, 2.5, *rep.Scores.Amenities)
	// (7*0.4 + 7.5*0.2) / 0.6
	assert.Equal(t, 7.2, rep.Scores.Overall)
	assert.Equal(t, []string{"Perfect for quiet living", "High quality neighborhood"}, rep.Suitability)
	assert.Contains(t, rep.Recommendations, "Relatively quiet; some traffic but generally peaceful")
	assert.Len(t, g.queries, 4)
}

func TestNeighborhood_Family(t *testing.T) {
	tl := &NeighborhoodTool{geo: rehabGeo(), data: mustCatalog()}

	rep := decode[neighborhoodReport](t, run(t, tl, `{"neighborhood":"rehab","user_scenario":"family"}`))
	assert.Empty(t, rep.Unavailable)
	// (2.5*0.3 + 7.5*0.2 + 7*0.4) / 0.9
	assert.Equal(t, 5.6, rep.Scores.Overall)
	assert.Contains(t, rep.Suitability, "1 schools or education facilities nearby")
	assert.Contains(t, rep.Recommendations, "Limited amenities: may require travel for shopping")
}

func TestNeighborhood_Errors(t *testing.T) {
	tl := &NeighborhoodTool{geo: rehabGeo("amenities", "traffic", "lifestyle", "connectivity"), data: mustCatalog()}
	_, err := tl.InvokableRun(context.Background(), `{"neighborhood":"rehab"}`)
	require.Error(t, err)

	out := run(t, tl, `{"neighborhood":"Narnia"}`)
	assert.True(t, strings.HasPrefix(out, "Could not locate neighborhood"), out)

	_, err = tl.InvokableRun(context.Background(), `{}`)
	require.Error(t, err)
}
