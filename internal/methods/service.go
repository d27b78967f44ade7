package methods

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vidorahq/vidora-billing/internal/gateway"
	"github.com/vidorahq/vidora-billing/pkg/db"
	"github.com/vidorahq/vidora-billing/pkg/db/models"
	"github.com/vidorahq/vidora-billing/pkg/enums"
	pkgerrors "github.com/vidorahq/vidora-billing/pkg/errors"
	"github.com/vidorahq/vidora-billing/pkg/logger"
)

type customerResolver interface {
	Resolve(ctx context.Context, userID uuid.UUID, provider enums.Provider) (string, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service vaults provider-tokenized payment instruments. Raw card data never
// reaches this layer; the provider token is the only reference stored.
type Service interface {
	Attach(ctx context.Context, input AttachInput) (*models.PaymentMethod, error)
	List(ctx context.Context, userID uuid.UUID) ([]models.PaymentMethod, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.PaymentMethod, error)
}

// AttachInput captures a tokenized instrument to vault.
type AttachInput struct {
	UserID        uuid.UUID
	Provider      enums.Provider
	ProviderToken string
	Type          enums.PaymentMethodType
	CardBrand     *string
	CardLast4     *string
	CardExpMonth  *int
	CardExpYear   *int
	IsDefault     bool
	Metadata      map[string]string
}

// ServiceParams groups dependencies for the payment method service.
type ServiceParams struct {
	Repo              Repository
	Customers         customerResolver
	Router            *gateway.Router
	TransactionRunner txRunner
	Logger            *logger.Logger
}

type service struct {
	repo      Repository
	customers customerResolver
	router    *gateway.Router
	txRunner  txRunner
	logg      *logger.Logger
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("methods repo required")
	}
	if params.Customers == nil {
		return nil, fmt.Errorf("customer resolver required")
	}
	if params.Router == nil {
		return nil, fmt.Errorf("gateway router required")
	}
	if params.TransactionRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	return &service{
		repo:      params.Repo,
		customers: params.Customers,
		router:    params.Router,
		txRunner:  params.TransactionRunner,
		logg:      params.Logger,
	}, nil
}

func (s *service) Attach(ctx context.Context, input AttachInput) (*models.PaymentMethod, error) {
	token := strings.TrimSpace(input.ProviderToken)
	if token == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "provider token is required")
	}
	if !input.Provider.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown provider")
	}
	methodType := input.Type
	if methodType == "" {
		methodType = enums.PaymentMethodTypeCard
	}
	if !methodType.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown payment method type")
	}

	customerRef, err := s.customers.Resolve(ctx, input.UserID, input.Provider)
	if err != nil {
		return nil, err
	}

	adapter, err := s.router.Adapter(input.Provider)
	if err != nil {
		return nil, gateway.Coded(err)
	}
	if err := adapter.AttachPaymentMethod(ctx, customerRef, token); err != nil {
		return nil, gateway.Coded(err)
	}

	method := &models.PaymentMethod{
		UserID:        input.UserID,
		Provider:      input.Provider,
		ProviderToken: token,
		Type:          methodType,
		CardBrand:     input.CardBrand,
		CardLast4:     input.CardLast4,
		CardExpMonth:  input.CardExpMonth,
		CardExpYear:   input.CardExpYear,
		IsDefault:     input.IsDefault,
		Metadata:      marshalMetadata(input.Metadata),
	}

	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if input.IsDefault {
			if err := repo.ClearDefault(ctx, input.UserID); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "clearing default method")
			}
		}
		if err := repo.Create(ctx, method); err != nil {
			if db.IsUniqueViolation(err, "") {
				return pkgerrors.New(pkgerrors.CodeConflict, "payment method already vaulted")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "saving payment method")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.logg != nil {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"method_id": method.ID.String(),
			"provider":  string(input.Provider),
		}), "payment_method.attached")
	}
	return method, nil
}

func marshalMetadata(meta map[string]string) json.RawMessage {
	if len(meta) == 0 {
		return nil
	}
	raw, _ := json.Marshal(meta)
	return raw
}

func (s *service) List(ctx context.Context, userID uuid.UUID) ([]models.PaymentMethod, error) {
	out, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing payment methods")
	}
	return out, nil
}

func (s *service) FindByID(ctx context.Context, id uuid.UUID) (*models.PaymentMethod, error) {
	method, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading payment method")
	}
	return method, nil
}
