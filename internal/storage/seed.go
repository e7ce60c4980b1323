package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Dataset 是 seed 文件的结构，支持 YAML 与 JSON 两种格式。
type Dataset struct {
	Projects []SeedProject `yaml:"projects" json:"projects"`
}

type SeedProject struct {
	Name         string     `yaml:"name" json:"name"`
	Developer    string     `yaml:"developer" json:"developer"`
	Location     string     `yaml:"location" json:"location"`
	MinPrice     int64      `yaml:"min_price" json:"min_price"`
	MaxPrice     int64      `yaml:"max_price" json:"max_price"`
	PaymentPlans []string   `yaml:"payment_plans" json:"payment_plans"`
	Description  string     `yaml:"description" json:"description"`
	ThumbnailURL string     `yaml:"thumbnail_url" json:"thumbnail_url"`
	PDFDocuments []string   `yaml:"pdf_documents" json:"pdf_documents"`
	Latitude     *float64   `yaml:"latitude" json:"latitude"`
	Longitude    *float64   `yaml:"longitude" json:"longitude"`
	Units        []SeedUnit `yaml:"units" json:"units"`
}

type SeedUnit struct {
	Code     string  `yaml:"code" json:"code"`
	Type     string  `yaml:"type" json:"type"`
	Bedrooms int     `yaml:"bedrooms" json:"bedrooms"`
	Price    int64   `yaml:"price" json:"price"`
	AreaSqm  float64 `yaml:"area_sqm" json:"area_sqm"`
}

type ImportStats struct {
	Projects int
	Units    int
}

func LoadDataset(path string) (*Dataset, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}
	var ds Dataset
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(raw, &ds)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(raw, &ds)
	default:
		return nil, fmt.Errorf("unsupported dataset format: %s", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("decode dataset: %w", err)
	}
	return &ds, nil
}

// ImportDataset 逐个项目 upsert；返回导入后的项目（带 ID），供调用方继续生成向量。
func (s *Storage) ImportDataset(ctx context.Context, ds *Dataset) ([]Project, ImportStats, error) {
	var stats ImportStats
	if ds == nil {
		return nil, stats, nil
	}
	out := make([]Project, 0, len(ds.Projects))
	for _, sp := range ds.Projects {
		p := Project{
			Name:          strings.TrimSpace(sp.Name),
			DeveloperName: sp.Developer,
			LocationName:  sp.Location,
			MinPrice:      sp.MinPrice,
			MaxPrice:      sp.MaxPrice,
			PaymentPlans:  strings.Join(sp.PaymentPlans, " | "),
			Description:   sp.Description,
			ThumbnailURL:  sp.ThumbnailURL,
			PDFDocuments:  strings.Join(sp.PDFDocuments, ","),
			Latitude:      sp.Latitude,
			Longitude:     sp.Longitude,
		}
		units := make([]Unit, 0, len(sp.Units))
		for _, su := range sp.Units {
			units = append(units, Unit{
				UnitCode: su.Code,
				UnitType: su.Type,
				Bedrooms: su.Bedrooms,
				Price:    su.Price,
				AreaSqm:  su.AreaSqm,
			})
		}
		if err := s.UpsertProject(ctx, &p, units); err != nil {
			return out, stats, fmt.Errorf("import %q: %w", sp.Name, err)
		}
		stats.Projects++
		stats.Units += len(units)
		out = append(out, p)
	}
	return out, stats, nil
}
