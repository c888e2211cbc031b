package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"storefront/internal/checkout"
	"storefront/internal/store"
)

// ProfileService resolves signed-in shoppers to their checkout profile
type ProfileService struct {
	store profileStore
}

func NewProfileService(store profileStore) *ProfileService {
	return &ProfileService{store: store}
}

// Resolve returns the profile for userID, or nil for a guest
func (ps *ProfileService) Resolve(ctx context.Context, userID string) (*checkout.CustomerProfile, error) {
	if userID == "" {
		return nil, nil
	}

	p, err := ps.store.GetProfile(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}

	return &checkout.CustomerProfile{
		UserID:      p.ID,
		Email:       p.Email,
		DisplayName: strings.TrimSpace(p.FirstName + " " + p.LastName),
		Phone:       p.Phone,
	}, nil
}
