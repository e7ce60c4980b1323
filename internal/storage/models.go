package storage

import "time"

// Project 对应一个在售楼盘/项目。价格单位为 EGP。
type Project struct {
	ID            uint64 `gorm:"primaryKey"`
	Name          string `gorm:"size:255;not null;uniqueIndex"`
	DeveloperName string `gorm:"size:255;index"`
	// LocationName 为区域描述，例如 "New Cairo, Cairo"；按 LIKE 模糊匹配。
	LocationName string `gorm:"size:255;not null;index"`
	MinPrice     int64  `gorm:"not null;default:0"`
	MaxPrice     int64  `gorm:"not null;default:0"`
	// PaymentPlans 多个方案以 "|" 分隔，例如 "10% down, 8 years | 5% down, 10 years"。
	PaymentPlans string `gorm:"type:text"`
	Description  string `gorm:"type:text"`
	ThumbnailURL string `gorm:"size:1024"`
	// PDFDocuments 逗号分隔的宣传册链接。
	PDFDocuments string   `gorm:"type:text"`
	Latitude     *float64 `gorm:"index:idx_projects_geo,priority:1"`
	Longitude    *float64 `gorm:"index:idx_projects_geo,priority:2"`
	// Embedding 为描述文本的向量，由 seed 时的 embedding 引擎生成；为空时语义搜索退化为关键字匹配。
	Embedding []float32 `gorm:"serializer:json;type:text"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"`
}

// MidPrice 返回价格区间中点，用于排序与价格分档。
func (p Project) MidPrice() int64 {
	return (p.MinPrice + p.MaxPrice) / 2
}

// Unit 是项目下的一个具体在售单元。
type Unit struct {
	ID          uint64 `gorm:"primaryKey"`
	ProjectID   uint64 `gorm:"not null;index"`
	ProjectName string `gorm:"size:255;not null;index"`
	UnitCode    string `gorm:"size:64;not null"`
	UnitType    string `gorm:"size:64"`
	Bedrooms    int    `gorm:"not null;index"`
	Price       int64  `gorm:"not null"`
	AreaSqm     float64
	CreatedAt   time.Time `gorm:"not null;autoCreateTime"`
}

// User 保存账号资料与其唯一的会话线程 ID。
// ThreadID 在创建账号时生成一次，之后不再变化。
type User struct {
	ID                 string    `gorm:"primaryKey;size:36"`
	Email              string    `gorm:"size:255;not null;uniqueIndex"`
	Name               string    `gorm:"size:255"`
	ThreadID           string    `gorm:"size:64;not null;uniqueIndex"`
	PreferredLocations []string  `gorm:"serializer:json;type:text"`
	AverageBudget      int64     `gorm:"not null;default:0"`
	FamilySize         int       `gorm:"not null;default:0"`
	IsInvestor         bool      `gorm:"not null;default:false"`
	IsActive           bool      `gorm:"not null;default:true"`
	CreatedAt          time.Time `gorm:"not null;autoCreateTime"`
	UpdatedAt          time.Time `gorm:"not null;autoUpdateTime"`
}

// Checkpoint 保存一个线程最新的会话状态快照 (JSON)。每个线程只有一行，按 ThreadID 覆盖写。
type Checkpoint struct {
	ThreadID  string    `gorm:"primaryKey;size:64"`
	State     []byte    `gorm:"not null"`
	Version   int64     `gorm:"not null;default:0"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time `gorm:"not null;index"`
}

// AuditRecord 记录一次工具调用及其结果，用于追溯。
type AuditRecord struct {
	ID uint64 `gorm:"primaryKey"`
	// TraceID 串联一次用户消息触发的整轮处理。
	TraceID  string `gorm:"size:64;index"`
	ThreadID string `gorm:"size:64;index"`
	// Action 为工具名，例如 intelligent_project_matcher。
	Action       string    `gorm:"size:128;not null;index"`
	ParamsJSON   string    `gorm:"type:text"`
	ResultJSON   string    `gorm:"type:text"`
	Status       string    `gorm:"size:32;not null;index"`
	ErrorMessage string    `gorm:"type:text"`
	StartedAt    time.Time `gorm:"index"`
	FinishedAt   time.Time `gorm:"index"`
	CreatedAt    time.Time `gorm:"not null;autoCreateTime;index"`
}

// Memory 是按用户命名空间隔离的长期记忆条目。
type Memory struct {
	ID        string    `gorm:"primaryKey;size:36"`
	Namespace string    `gorm:"size:255;not null;index"`
	Content   string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime;index"`
}

// SearchCache 缓存外部搜索接口的响应，Key 为请求参数的摘要。
type SearchCache struct {
	Key       string    `gorm:"column:cache_key;primaryKey;size:64"`
	Payload   []byte    `gorm:"not null"`
	ExpiresAt time.Time `gorm:"not null;index"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
}
