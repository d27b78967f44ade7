package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vidorahq/vidora-billing/pkg/db/models"
	dbtypes "github.com/vidorahq/vidora-billing/pkg/db/types"
	"github.com/vidorahq/vidora-billing/pkg/enums"
	pkgerrors "github.com/vidorahq/vidora-billing/pkg/errors"
	"github.com/vidorahq/vidora-billing/pkg/money"
)

// Service exposes the sellable catalog to the API and the lifecycle manager.
type Service interface {
	ListPlans(ctx context.Context) ([]models.SubscriptionPlan, error)
	GetPlan(ctx context.Context, id uuid.UUID) (*models.SubscriptionPlan, error)
	CreatePlan(ctx context.Context, input CreatePlanInput) (*models.SubscriptionPlan, error)
	SetPlanStatus(ctx context.Context, id uuid.UUID, status enums.PlanStatus) error
	// ResolveCoupon validates the code against expiry, the redemption cap and
	// the checkout currency, and returns the coupon for discount math.
	ResolveCoupon(ctx context.Context, code string, currency string, now time.Time) (*models.Coupon, error)
}

// CreatePlanInput captures a new catalog entry.
type CreatePlanInput struct {
	Code             string
	Name             string
	Period           enums.BillingPeriod
	Prices           map[string]decimal.Decimal
	TrialDays        int
	Features         []string
	ProviderPriceRef string
}

type service struct {
	repo Repository
}

// NewService builds a catalog service.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("catalog repo required")
	}
	return &service{repo: repo}, nil
}

func (s *service) ListPlans(ctx context.Context) ([]models.SubscriptionPlan, error) {
	plans, err := s.repo.ListActivePlans(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing plans")
	}
	return plans, nil
}

func (s *service) GetPlan(ctx context.Context, id uuid.UUID) (*models.SubscriptionPlan, error) {
	plan, err := s.repo.FindPlanByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading plan")
	}
	if plan == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "plan not found")
	}
	return plan, nil
}

func (s *service) CreatePlan(ctx context.Context, input CreatePlanInput) (*models.SubscriptionPlan, error) {
	code := strings.TrimSpace(input.Code)
	if code == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "plan code is required")
	}
	if strings.TrimSpace(input.Name) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "plan name is required")
	}
	if !input.Period.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid billing period")
	}
	if len(input.Prices) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one price is required")
	}
	for currency, price := range input.Prices {
		if err := money.ValidateAmount(price, currency); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, fmt.Sprintf("invalid %s price", currency))
		}
	}
	if input.TrialDays < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "trial days cannot be negative")
	}

	existing, err := s.repo.FindPlanByCode(ctx, code)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "checking plan code")
	}
	if existing != nil {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "plan code already in use")
	}

	plan := &models.SubscriptionPlan{
		Code:             code,
		Name:             strings.TrimSpace(input.Name),
		Status:           enums.PlanStatusActive,
		Period:           input.Period,
		Prices:           dbtypes.PriceTable(input.Prices),
		TrialDays:        input.TrialDays,
		Features:         input.Features,
		ProviderPriceRef: strings.TrimSpace(input.ProviderPriceRef),
	}
	if err := s.repo.CreatePlan(ctx, plan); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "saving plan")
	}
	return plan, nil
}

func (s *service) SetPlanStatus(ctx context.Context, id uuid.UUID, status enums.PlanStatus) error {
	if !status.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid plan status")
	}
	if err := s.repo.SetPlanStatus(ctx, id, status); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "updating plan status")
	}
	return nil
}

func (s *service) ResolveCoupon(ctx context.Context, code string, currency string, now time.Time) (*models.Coupon, error) {
	coupon, err := s.repo.FindCouponByCode(ctx, code)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading coupon")
	}
	if coupon == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "coupon not found")
	}
	if !coupon.IsRedeemable(now) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "coupon is expired or exhausted")
	}
	if coupon.AmountOff != nil && coupon.Currency != nil && !strings.EqualFold(*coupon.Currency, currency) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "coupon does not apply to this currency")
	}
	return coupon, nil
}
