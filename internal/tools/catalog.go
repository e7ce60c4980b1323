package tools

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed data/neighborhoods.yaml
var neighborhoodsYAML []byte

//go:embed data/market.yaml
var marketYAML []byte

type amenityCategory struct {
	Name    string   `yaml:"name"`
	Amenity []string `yaml:"amenity"`
	Shop    []string `yaml:"shop"`
	Leisure []string `yaml:"leisure"`
}

type neighborhoodData struct {
	Aliases map[string]string `yaml:"aliases"`
	Roads   struct {
		High   []string `yaml:"high_traffic"`
		Medium []string `yaml:"medium_traffic"`
		Low    []string `yaml:"low_traffic"`
	} `yaml:"roads"`
	AmenityCategories []amenityCategory   `yaml:"amenity_categories"`
	GreenLeisure      []string            `yaml:"green_leisure"`
	RecreationLeisure []string            `yaml:"recreation_leisure"`
	Scenarios         map[string][]string `yaml:"scenarios"`
	FocusWeights      map[string]float64  `yaml:"focus_weights"`
}

type marketCategory struct {
	Name        string   `yaml:"name"`
	Keywords    []string `yaml:"keywords"`
	Sources     []string `yaml:"sources"`
	SearchTerms []string `yaml:"search_terms"`
}

type marketData struct {
	Categories      []marketCategory `yaml:"categories"`
	DefaultCategory string           `yaml:"default_category"`
	MaxDomains      int              `yaml:"max_domains"`
	Locations       []string         `yaml:"locations"`
	ListingPortals  []string         `yaml:"listing_portals"`
}

// catalog 是内嵌的静态参考数据。
type catalog struct {
	neighborhoods neighborhoodData
	market        marketData
}

var (
	catalogOnce sync.Once
	catalogVal  *catalog
	catalogErr  error
)

func loadCatalog() (*catalog, error) {
	catalogOnce.Do(func() {
		c := &catalog{}
		if err := yaml.Unmarshal(neighborhoodsYAML, &c.neighborhoods); err != nil {
			catalogErr = fmt.Errorf("parse neighborhoods.yaml: %w", err)
			return
		}
		if err := yaml.Unmarshal(marketYAML, &c.market); err != nil {
			catalogErr = fmt.Errorf("parse market.yaml: %w", err)
			return
		}
		aliases := make(map[string]string, len(c.neighborhoods.Aliases))
		for k, v := range c.neighborhoods.Aliases {
			aliases[strings.ToLower(k)] = v
		}
		c.neighborhoods.Aliases = aliases
		catalogVal = c
	})
	return catalogVal, catalogErr
}

// mustCatalog 只在内嵌文件损坏时 panic，这属于构建错误。
func mustCatalog() *catalog {
	c, err := loadCatalog()
	if err != nil {
		panic(err)
	}
	return c
}
