package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ProjectQuery 描述项目检索条件；零值表示不过滤。
type ProjectQuery struct {
	// Location 按 location_name 做不区分大小写的包含匹配。
	Location string
	// MinPrice/MaxPrice 与项目价格区间求交集：max_price >= MinPrice 且 min_price <= MaxPrice。
	MinPrice *int64
	MaxPrice *int64
	// Keyword 匹配 name 或 description。
	Keyword string
	Limit   int
}

type UnitQuery struct {
	ProjectName string
	Bedrooms    *int
	Limit       int
}

func (s *Storage) SearchProjects(ctx context.Context, q ProjectQuery) ([]Project, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("storage not initialized")
	}

	db := s.db.WithContext(ctx).Model(&Project{})
	if loc := strings.TrimSpace(q.Location); loc != "" {
		db = db.Where("LOWER(location_name) LIKE ?", likePattern(loc))
	}
	if q.MinPrice != nil {
		db = db.Where("max_price >= ?", *q.MinPrice)
	}
	if q.MaxPrice != nil {
		db = db.Where("min_price <= ?", *q.MaxPrice)
	}
	if kw := strings.TrimSpace(q.Keyword); kw != "" {
		p := likePattern(kw)
		db = db.Where("(LOWER(description) LIKE ? OR LOWER(name) LIKE ?)", p, p)
	}

	var out []Project
	err := db.Order("(min_price + max_price) / 2 ASC").Order("id ASC").
		Limit(normalizeLimit(q.Limit)).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("search projects: %w", err)
	}
	return out, nil
}

// FindProjectsByName 按名称模糊查找，完全匹配优先，其次前缀匹配。
func (s *Storage) FindProjectsByName(ctx context.Context, name string, limit int) ([]Project, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("storage not initialized")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("project name is empty")
	}
	lower := strings.ToLower(name)

	var out []Project
	err := s.db.WithContext(ctx).Model(&Project{}).
		Where("LOWER(name) LIKE ?", likePattern(name)).
		Order(clause.OrderBy{Expression: clause.Expr{
			SQL:                "CASE WHEN LOWER(name) = ? THEN 1 WHEN LOWER(name) LIKE ? THEN 2 ELSE 3 END",
			Vars:               []interface{}{lower, lower + "%"},
			WithoutParentheses: true,
		}}).
		Order("id ASC").
		Limit(normalizeLimit(limit)).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("find projects by name: %w", err)
	}
	return out, nil
}

// FindProjectByName 返回最匹配的一个项目，不存在时返回 ErrNotFound。
func (s *Storage) FindProjectByName(ctx context.Context, name string) (*Project, error) {
	list, err := s.FindProjectsByName(ctx, name, 1)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("project %q: %w", name, ErrNotFound)
	}
	return &list[0], nil
}

// ProjectsWithCoordinates 返回所有带经纬度的项目，用于按距离检索。
func (s *Storage) ProjectsWithCoordinates(ctx context.Context) ([]Project, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("storage not initialized")
	}
	var out []Project
	err := s.db.WithContext(ctx).
		Where("latitude IS NOT NULL AND longitude IS NOT NULL").
		Order("id ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("projects with coordinates: %w", err)
	}
	return out, nil
}

// ProjectsWithEmbeddings 返回已生成向量的项目，可按地区与价格上限过滤。
func (s *Storage) ProjectsWithEmbeddings(ctx context.Context, location string, maxPrice *int64) ([]Project, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("storage not initialized")
	}
	db := s.db.WithContext(ctx).Model(&Project{}).
		Where("embedding IS NOT NULL AND embedding <> '' AND embedding <> 'null'")
	if loc := strings.TrimSpace(location); loc != "" {
		db = db.Where("LOWER(location_name) LIKE ?", likePattern(loc))
	}
	if maxPrice != nil {
		db = db.Where("min_price <= ?", *maxPrice)
	}
	var out []Project
	if err := db.Order("id ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("projects with embeddings: %w", err)
	}
	return out, nil
}

// CountUnitsByBedrooms 返回 project_name -> 该卧室数的在售单元数。
func (s *Storage) CountUnitsByBedrooms(ctx context.Context, bedrooms int) (map[string]int64, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("storage not initialized")
	}
	var rows []struct {
		ProjectName string
		Available   int64
	}
	err := s.db.WithContext(ctx).Model(&Unit{}).
		Select("project_name, COUNT(*) AS available").
		Where("bedrooms = ?", bedrooms).
		Group("project_name").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("count units by bedrooms: %w", err)
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.ProjectName] = r.Available
	}
	return out, nil
}

func (s *Storage) ListUnits(ctx context.Context, q UnitQuery) ([]Unit, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("storage not initialized")
	}
	db := s.db.WithContext(ctx).Model(&Unit{})
	if name := strings.TrimSpace(q.ProjectName); name != "" {
		db = db.Where("LOWER(project_name) LIKE ?", likePattern(name))
	}
	if q.Bedrooms != nil {
		db = db.Where("bedrooms = ?", *q.Bedrooms)
	}
	var out []Unit
	if err := db.Order("price ASC").Order("id ASC").Limit(normalizeLimit(q.Limit)).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list units: %w", err)
	}
	return out, nil
}

// UpsertProject 以名称为唯一键写入项目，并用 units 整体替换该项目的单元列表。
func (s *Storage) UpsertProject(ctx context.Context, p *Project, units []Unit) error {
	if s == nil || s.db == nil {
		return errors.New("storage not initialized")
	}
	if p == nil || strings.TrimSpace(p.Name) == "" {
		return errors.New("project name is required")
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Project
		err := tx.Where("name = ?", p.Name).First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if err := tx.Create(p).Error; err != nil {
				return fmt.Errorf("insert project: %w", err)
			}
		case err != nil:
			return fmt.Errorf("lookup project: %w", err)
		default:
			p.ID = existing.ID
			p.CreatedAt = existing.CreatedAt
			if err := tx.Save(p).Error; err != nil {
				return fmt.Errorf("update project: %w", err)
			}
		}

		if units == nil {
			return nil
		}
		if err := tx.Where("project_id = ?", p.ID).Delete(&Unit{}).Error; err != nil {
			return fmt.Errorf("delete units: %w", err)
		}
		if len(units) == 0 {
			return nil
		}
		for i := range units {
			units[i].ID = 0
			units[i].ProjectID = p.ID
			units[i].ProjectName = p.Name
		}
		if err := tx.CreateInBatches(units, 200).Error; err != nil {
			return fmt.Errorf("insert units: %w", err)
		}
		return nil
	})
}

func (s *Storage) SetProjectEmbedding(ctx context.Context, id uint64, vec []float32) error {
	if s == nil || s.db == nil {
		return errors.New("storage not initialized")
	}
	raw, err := json.Marshal(vec)
	if err != nil {
		return fmt.Errorf("marshal embedding: %w", err)
	}
	res := s.db.WithContext(ctx).Model(&Project{}).Where("id = ?", id).Update("embedding", gorm.Expr("?", string(raw)))
	if res.Error != nil {
		return fmt.Errorf("set project embedding: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("project %d: %w", id, ErrNotFound)
	}
	return nil
}

func (s *Storage) CountProjects(ctx context.Context) (int64, error) {
	return s.count(ctx, &Project{})
}

func (s *Storage) CountUnits(ctx context.Context) (int64, error) {
	return s.count(ctx, &Unit{})
}

func likePattern(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	return "%" + v + "%"
}
