package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ProfileUpdate 中 nil 字段表示保持不变。
type ProfileUpdate struct {
	Name               *string
	PreferredLocations *[]string
	AverageBudget      *int64
	FamilySize         *int
	IsInvestor         *bool
}

// CreateUser 创建账号并为其铸造唯一的 ThreadID。
func (s *Storage) CreateUser(ctx context.Context, u *User) error {
	if s == nil || s.db == nil {
		return errors.New("storage not initialized")
	}
	if u == nil {
		return errors.New("user is nil")
	}
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if u.Email == "" {
		return errors.New("email is required")
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.ThreadID == "" {
		u.ThreadID = uuid.NewString()
	}
	u.IsActive = true
	if err := s.db.WithContext(ctx).Create(u).Error; err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *Storage) GetUser(ctx context.Context, id string) (*User, error) {
	return s.findUser(ctx, "id = ?", id)
}

func (s *Storage) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.findUser(ctx, "email = ?", strings.ToLower(strings.TrimSpace(email)))
}

func (s *Storage) GetUserByThreadID(ctx context.Context, threadID string) (*User, error) {
	return s.findUser(ctx, "thread_id = ?", threadID)
}

func (s *Storage) findUser(ctx context.Context, where string, arg any) (*User, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("storage not initialized")
	}
	var u User
	err := s.db.WithContext(ctx).Where(where, arg).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("user %v: %w", arg, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

func (s *Storage) ListUsers(ctx context.Context, limit int) ([]User, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("storage not initialized")
	}
	var out []User
	if err := s.db.WithContext(ctx).Order("created_at ASC").Limit(normalizeLimit(limit)).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return out, nil
}

func (s *Storage) UpdateUserProfile(ctx context.Context, id string, up ProfileUpdate) (*User, error) {
	u, err := s.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if up.Name != nil {
		u.Name = strings.TrimSpace(*up.Name)
	}
	if up.PreferredLocations != nil {
		u.PreferredLocations = normalizeLocations(*up.PreferredLocations)
	}
	if up.AverageBudget != nil {
		u.AverageBudget = *up.AverageBudget
	}
	if up.FamilySize != nil {
		u.FamilySize = *up.FamilySize
	}
	if up.IsInvestor != nil {
		u.IsInvestor = *up.IsInvestor
	}
	u.UpdatedAt = time.Now().UTC()
	if err := s.db.WithContext(ctx).Save(u).Error; err != nil {
		return nil, fmt.Errorf("update user profile: %w", err)
	}
	return u, nil
}

func (s *Storage) CountUsers(ctx context.Context) (int64, error) {
	return s.count(ctx, &User{})
}

func normalizeLocations(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" || seen[strings.ToLower(v)] {
			continue
		}
		seen[strings.ToLower(v)] = true
		out = append(out, v)
	}
	return out
}
