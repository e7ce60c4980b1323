package agent

import (
	"context"

	"github.com/wwwzy/EstateAgent/internal/storage"
)

// StoreProfiles 从 users 表读取画像。
type StoreProfiles struct {
	store *storage.Storage
}

func NewStoreProfiles(store *storage.Storage) *StoreProfiles {
	return &StoreProfiles{store: store}
}

func (p *StoreProfiles) GetProfile(ctx context.Context, userID string) (UserProfile, error) {
	u, err := p.store.GetUser(ctx, userID)
	if err != nil {
		return UserProfile{}, err
	}
	return ProfileFromUser(u), nil
}

func ProfileFromUser(u *storage.User) UserProfile {
	if u == nil {
		return UserProfile{}
	}
	investor := u.IsInvestor
	return UserProfile{
		ID:                 u.ID,
		Name:               u.Name,
		Email:              u.Email,
		PreferredLocations: append([]string(nil), u.PreferredLocations...),
		Budget:             u.AverageBudget,
		FamilySize:         u.FamilySize,
		IsInvestor:         &investor,
	}
}
