package customers

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/vidorahq/vidora-billing/internal/gateway"
	"github.com/vidorahq/vidora-billing/pkg/db"
	"github.com/vidorahq/vidora-billing/pkg/db/models"
	"github.com/vidorahq/vidora-billing/pkg/enums"
	pkgerrors "github.com/vidorahq/vidora-billing/pkg/errors"
)

type userFinder interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// Service resolves provider customer records, creating them lazily on first
// use.
type Service interface {
	Resolve(ctx context.Context, userID uuid.UUID, provider enums.Provider) (string, error)
}

// ServiceParams groups dependencies for the customer service.
type ServiceParams struct {
	Repo   Repository
	Users  userFinder
	Router *gateway.Router
}

type service struct {
	repo   Repository
	users  userFinder
	router *gateway.Router
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("customers repo required")
	}
	if params.Users == nil {
		return nil, fmt.Errorf("users repo required")
	}
	if params.Router == nil {
		return nil, fmt.Errorf("gateway router required")
	}
	return &service{repo: params.Repo, users: params.Users, router: params.Router}, nil
}

func (s *service) Resolve(ctx context.Context, userID uuid.UUID, provider enums.Provider) (string, error) {
	existing, err := s.repo.Find(ctx, userID, provider)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "looking up billing customer")
	}
	if existing != nil {
		return existing.CustomerRef, nil
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading user")
	}
	if user == nil {
		return "", pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
	}

	adapter, err := s.router.Adapter(provider)
	if err != nil {
		return "", gateway.Coded(err)
	}

	ref, err := adapter.CreateCustomer(ctx, gateway.CreateCustomerInput{
		Email:    user.Email,
		Name:     user.DisplayName,
		Metadata: map[string]string{"user_id": userID.String()},
	})
	if err != nil {
		return "", gateway.Coded(err)
	}

	customer := &models.BillingCustomer{
		UserID:      userID,
		Provider:    provider,
		CustomerRef: ref,
	}
	if err := s.repo.Create(ctx, customer); err != nil {
		// A concurrent resolve may have inserted the row first; reuse it.
		if db.IsUniqueViolation(err, "") {
			if existing, findErr := s.repo.Find(ctx, userID, provider); findErr == nil && existing != nil {
				return existing.CustomerRef, nil
			}
		}
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "saving billing customer")
	}
	return ref, nil
}
