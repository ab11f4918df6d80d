package service

import (
	"context"
	"errors"

	"github.com/prperemyshlev/servicehub-auth/internal/clock"
	"github.com/prperemyshlev/servicehub-auth/internal/domain"
	"github.com/prperemyshlev/servicehub-auth/internal/repository"
)

// resolveAttempts bounds the retries after losing a race on a phone slot.
const resolveAttempts = 3

type identityResolver struct {
	users repository.UserRepository
	clock clock.Clock
}

// NewIdentityResolver creates a resolver over users
func NewIdentityResolver(users repository.UserRepository, clk clock.Clock) IdentityResolver {
	if clk == nil {
		clk = clock.Real{}
	}
	return &identityResolver{users: users, clock: clk}
}

// Resolve looks the phone up in role's slot, then in the other role's slot
// (linking the role onto that user), and otherwise creates a new user.
func (r *identityResolver) Resolve(ctx context.Context, phone string, role domain.Role) (*domain.User, error) {
	for attempt := 0; attempt < resolveAttempts; attempt++ {
		user, err := r.users.GetByPhone(ctx, role, phone)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, domain.NewInternal("failed to look up user", err)
		}

		now := r.clock.Now()

		other, err := r.users.GetByPhone(ctx, role.Other(), phone)
		switch {
		case err == nil:
			linked, err := r.users.LinkRole(ctx, other.ID, role, phone, now)
			switch {
			case err == nil:
				return linked, nil
			case errors.Is(err, repository.ErrConflict):
				return nil, domain.NewConflict("This account already has a different " + string(role) + " phone number")
			case errors.Is(err, repository.ErrDuplicatePhone), errors.Is(err, repository.ErrNotFound):
				continue
			default:
				return nil, domain.NewInternal("failed to link role", err)
			}
		case !errors.Is(err, repository.ErrNotFound):
			return nil, domain.NewInternal("failed to look up user", err)
		}

		user = domain.NewUserForRole(phone, role, now)
		err = r.users.Create(ctx, user)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, repository.ErrDuplicatePhone) {
			return nil, domain.NewInternal("failed to create user", err)
		}
	}

	return nil, domain.NewConflict("Phone number is already claimed for this role")
}
