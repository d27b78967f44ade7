package refunds

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/vidorahq/vidora-billing/internal/gateway"
	"github.com/vidorahq/vidora-billing/internal/payments"
	"github.com/vidorahq/vidora-billing/pkg/db/models"
	"github.com/vidorahq/vidora-billing/pkg/enums"
	pkgerrors "github.com/vidorahq/vidora-billing/pkg/errors"
	"github.com/vidorahq/vidora-billing/pkg/logger"
	"github.com/vidorahq/vidora-billing/pkg/money"
	"github.com/vidorahq/vidora-billing/pkg/outbox"
)

// recoveryWindow is how long a processing row may sit before the recovery
// sweep declares the outcome unknown and fails the request.
const recoveryWindow = 24 * time.Hour

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type eventEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service drives the dual-approval refund workflow. Every transition is a
// compare-and-swap on the expected prior status; a lost race surfaces as a
// state conflict, never a silent overwrite.
type Service interface {
	Create(ctx context.Context, input CreateRefundInput) (*models.RefundRequest, error)
	FirstApprove(ctx context.Context, requestID, approverID uuid.UUID, note string) (*models.RefundRequest, error)
	SecondApprove(ctx context.Context, requestID, approverID uuid.UUID, note string) (*models.RefundRequest, error)
	Reject(ctx context.Context, requestID, staffID uuid.UUID, note string) (*models.RefundRequest, error)
	// Execute issues the gateway refund for an approved request. The move to
	// processing commits before the gateway call so a crash mid-flight leaves
	// a durable intent for Recover instead of a re-issuable request.
	Execute(ctx context.Context, requestID uuid.UUID) (*models.RefundRequest, error)
	// Recover settles a request stuck in processing by polling the provider
	// rather than re-issuing the refund.
	Recover(ctx context.Context, requestID uuid.UUID) (*models.RefundRequest, error)
	Get(ctx context.Context, requestID uuid.UUID) (*models.RefundRequest, error)
	ListByPayment(ctx context.Context, paymentID uuid.UUID) ([]models.RefundRequest, error)
	ListByStatus(ctx context.Context, status enums.RefundStatus, limit int) ([]models.RefundRequest, error)
}

// ServiceParams groups dependencies for the refund service.
type ServiceParams struct {
	Repo              Repository
	Payments          payments.Repository
	Router            *gateway.Router
	Outbox            eventEmitter
	TransactionRunner txRunner
	Logger            *logger.Logger
}

// CreateRefundInput opens a request against a payment. A nil Amount means the
// full remaining refundable balance.
type CreateRefundInput struct {
	PaymentID    uuid.UUID
	RequestedBy  uuid.UUID
	Amount       *decimal.Decimal
	Reason       enums.RefundReason
	ReasonDetail string
	InternalNote string
}

type service struct {
	repo     Repository
	payments payments.Repository
	router   *gateway.Router
	outbox   eventEmitter
	txRunner txRunner
	logg     *logger.Logger
}

// NewService builds a refund service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("refunds repo required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payments repo required")
	}
	if params.Router == nil {
		return nil, fmt.Errorf("gateway router required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	if params.TransactionRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:     params.Repo,
		payments: params.Payments,
		router:   params.Router,
		outbox:   params.Outbox,
		txRunner: params.TransactionRunner,
		logg:     params.Logger,
	}, nil
}

func (s *service) Create(ctx context.Context, input CreateRefundInput) (*models.RefundRequest, error) {
	if !input.Reason.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid refund reason")
	}
	detail := strings.TrimSpace(input.ReasonDetail)
	if input.Reason.RequiresDetail() && detail == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "a free-text detail is required for this reason")
	}

	payment, err := s.loadPayment(ctx, input.PaymentID)
	if err != nil {
		return nil, err
	}
	if payment.Status != enums.PaymentStatusSucceeded && payment.Status != enums.PaymentStatusPartiallyRefunded {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payment is not refundable").
			WithDetails(map[string]string{"status": payment.Status.String()})
	}

	refundable := payment.RefundableAmount()
	amount := refundable
	if input.Amount != nil {
		amount = *input.Amount
		if err := money.ValidateAmount(amount, payment.Currency); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid refund amount")
		}
		if amount.GreaterThan(refundable) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund amount exceeds the refundable balance").
				WithDetails(map[string]string{"refundable": refundable.String()})
		}
	}
	if !amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "nothing left to refund")
	}

	open, err := s.repo.FindOpenByPayment(ctx, input.PaymentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "checking open refund requests")
	}
	if open != nil {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "payment already has a refund request in flight").
			WithDetails(map[string]string{"refundRequestId": open.ID.String()})
	}

	request := &models.RefundRequest{
		PaymentID:   payment.ID,
		RequestedBy: input.RequestedBy,
		Amount:      amount,
		Currency:    payment.Currency,
		Reason:      input.Reason,
		Status:      enums.RefundStatusPending,
	}
	if detail != "" {
		request.ReasonDetail = &detail
	}
	if note := strings.TrimSpace(input.InternalNote); note != "" {
		request.InternalNote = &note
	}

	if err := s.repo.Create(ctx, request); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "saving refund request")
	}

	s.logg.Info(s.logg.WithRefundRequestID(ctx, request.ID.String()), "refund request opened")
	return request, nil
}

func (s *service) FirstApprove(ctx context.Context, requestID, approverID uuid.UUID, note string) (*models.RefundRequest, error) {
	request, err := s.loadRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if approverID == request.RequestedBy {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "the requester cannot approve their own refund")
	}
	if !request.Status.CanTransitionTo(enums.RefundStatusFirstApproved) {
		return nil, s.transitionConflict(request, enums.RefundStatusFirstApproved)
	}

	now := time.Now().UTC()
	updates := map[string]any{
		"first_approver_id": approverID,
		"first_approved_at": now,
	}
	if trimmed := strings.TrimSpace(note); trimmed != "" {
		updates["first_approve_note"] = trimmed
	}
	if err := s.transition(ctx, request, enums.RefundStatusFirstApproved, updates); err != nil {
		return nil, err
	}
	request.FirstApproverID = &approverID
	request.FirstApprovedAt = &now

	s.logg.Info(s.logg.WithRefundRequestID(ctx, request.ID.String()), "refund first approval recorded")
	return request, nil
}

func (s *service) SecondApprove(ctx context.Context, requestID, approverID uuid.UUID, note string) (*models.RefundRequest, error) {
	request, err := s.loadRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if approverID == request.RequestedBy {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "the requester cannot approve their own refund")
	}
	if request.FirstApproverID != nil && approverID == *request.FirstApproverID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "second approval must come from a different staff member")
	}
	if !request.Status.CanTransitionTo(enums.RefundStatusApproved) {
		return nil, s.transitionConflict(request, enums.RefundStatusApproved)
	}

	now := time.Now().UTC()
	updates := map[string]any{
		"second_approver_id": approverID,
		"second_approved_at": now,
	}
	if trimmed := strings.TrimSpace(note); trimmed != "" {
		updates["second_approve_note"] = trimmed
	}
	if err := s.transition(ctx, request, enums.RefundStatusApproved, updates); err != nil {
		return nil, err
	}
	request.SecondApproverID = &approverID
	request.SecondApprovedAt = &now

	s.logg.Info(s.logg.WithRefundRequestID(ctx, request.ID.String()), "refund fully approved")
	return request, nil
}

func (s *service) Reject(ctx context.Context, requestID, staffID uuid.UUID, note string) (*models.RefundRequest, error) {
	request, err := s.loadRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !request.Status.CanTransitionTo(enums.RefundStatusRejected) {
		return nil, s.transitionConflict(request, enums.RefundStatusRejected)
	}

	now := time.Now().UTC()
	updates := map[string]any{
		"rejected_by": staffID,
		"rejected_at": now,
	}
	if trimmed := strings.TrimSpace(note); trimmed != "" {
		updates["reject_note"] = trimmed
	}
	if err := s.transition(ctx, request, enums.RefundStatusRejected, updates); err != nil {
		return nil, err
	}
	request.RejectedBy = &staffID
	request.RejectedAt = &now

	s.logg.Info(s.logg.WithRefundRequestID(ctx, request.ID.String()), "refund request rejected")
	return request, nil
}

func (s *service) Execute(ctx context.Context, requestID uuid.UUID) (*models.RefundRequest, error) {
	request, err := s.loadRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !request.Status.CanTransitionTo(enums.RefundStatusProcessing) {
		return nil, s.transitionConflict(request, enums.RefundStatusProcessing)
	}

	payment, err := s.loadPayment(ctx, request.PaymentID)
	if err != nil {
		return nil, err
	}
	adapter, err := s.router.Adapter(payment.Provider)
	if err != nil {
		return nil, gateway.Coded(err)
	}

	ctx = s.logg.WithRefundRequestID(s.logg.WithProvider(ctx, payment.Provider.String()), request.ID.String())

	// Durable intent: once this commits, the gateway call happens at most
	// once per request. Recovery polls instead of re-issuing.
	now := time.Now().UTC()
	if err := s.transition(ctx, request, enums.RefundStatusProcessing, map[string]any{"processing_at": now}); err != nil {
		return nil, err
	}
	request.ProcessingAt = &now

	result, err := adapter.CreateRefund(ctx, gateway.CreateRefundInput{
		ProviderPaymentID: payment.ProviderPaymentID,
		Amount:            &request.Amount,
		Currency:          request.Currency,
		Reason:            request.Reason.String(),
		RefundKey:         request.ID.String(),
	})
	if err != nil {
		var declined *gateway.DeclinedError
		if errors.As(err, &declined) {
			if failErr := s.settleFailure(ctx, request, declined.Message); failErr != nil {
				return nil, failErr
			}
			return request, nil
		}
		// Transport failure: outcome unknown, leave the durable intent for
		// the recovery sweep.
		s.logg.Error(ctx, "refund gateway call did not resolve", err)
		return nil, gateway.Coded(err)
	}

	if err := s.settleCompletion(ctx, request, payment, result.RefundID); err != nil {
		return nil, err
	}
	return request, nil
}

func (s *service) Recover(ctx context.Context, requestID uuid.UUID) (*models.RefundRequest, error) {
	request, err := s.loadRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if request.Status != enums.RefundStatusProcessing {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "request is not awaiting recovery").
			WithDetails(map[string]string{"status": request.Status.String()})
	}

	payment, err := s.loadPayment(ctx, request.PaymentID)
	if err != nil {
		return nil, err
	}
	adapter, err := s.router.Adapter(payment.Provider)
	if err != nil {
		return nil, gateway.Coded(err)
	}

	ctx = s.logg.WithRefundRequestID(s.logg.WithProvider(ctx, payment.Provider.String()), request.ID.String())

	// Prefer a direct refund lookup where the provider supports one; it is
	// conclusive in both directions.
	if querier, ok := adapter.(gateway.RefundStatusQuerier); ok {
		result, err := querier.GetRefundStatus(ctx, payment.ProviderPaymentID, request.ID.String())
		switch {
		case errors.Is(err, gateway.ErrRefundQueryUnsupported):
			// fall through to the payment status probe
		case err != nil:
			return nil, gateway.Coded(err)
		case result.Success:
			if err := s.settleCompletion(ctx, request, payment, result.RefundID); err != nil {
				return nil, err
			}
			s.logg.Info(ctx, "stuck refund settled from provider state")
			return request, nil
		default:
			// The provider has no record of the refund.
			return s.failPastWindow(ctx, request)
		}
	}

	status, err := adapter.GetPaymentStatus(ctx, payment.ProviderPaymentID)
	if err != nil {
		return nil, gateway.Coded(err)
	}

	switch classifyRefundState(status, payment, request.Amount) {
	case refundApplied:
		// The provider applied the refund before the crash.
		if err := s.settleCompletion(ctx, request, payment, ""); err != nil {
			return nil, err
		}
		s.logg.Info(ctx, "stuck refund settled from provider state")
		return request, nil
	case refundAbsent:
		return s.failPastWindow(ctx, request)
	default:
		// Never auto-fail a refund the provider may have applied; the row
		// stays processing for the next sweep or an operator.
		s.logg.Warn(ctx, "refund state ambiguous at the provider")
		return request, nil
	}
}

// failPastWindow fails the request once the provider has conclusively shown
// no refund for longer than the recovery window; younger rows keep waiting.
func (s *service) failPastWindow(ctx context.Context, request *models.RefundRequest) (*models.RefundRequest, error) {
	if request.ProcessingAt == nil || time.Since(*request.ProcessingAt) <= recoveryWindow {
		return request, nil
	}
	if err := s.settleFailure(ctx, request, "provider shows no refund after the recovery window"); err != nil {
		return nil, err
	}
	s.logg.Warn(ctx, "stuck refund declared failed")
	return request, nil
}

type refundProbe int

const (
	refundAmbiguous refundProbe = iota
	refundApplied
	refundAbsent
)

// classifyRefundState decides whether the stuck refund is visible in the
// provider's payment status. Only one request can be open per payment, so a
// first refund appearing on a previously unrefunded payment must be ours;
// with prior refunds the provider's cumulative total has to cover this
// request too before it counts as applied.
func classifyRefundState(result *gateway.PaymentResult, payment *models.Payment, amount decimal.Decimal) refundProbe {
	switch result.Status {
	case enums.PaymentStatusRefunded:
		return refundApplied
	case enums.PaymentStatusPartiallyRefunded:
		if result.RefundedAmount.IsPositive() {
			if result.RefundedAmount.GreaterThanOrEqual(payment.RefundedAmount.Add(amount)) {
				return refundApplied
			}
			return refundAbsent
		}
		if payment.RefundedAmount.IsZero() {
			return refundApplied
		}
		return refundAmbiguous
	case enums.PaymentStatusSucceeded:
		return refundAbsent
	default:
		return refundAmbiguous
	}
}

func (s *service) Get(ctx context.Context, requestID uuid.UUID) (*models.RefundRequest, error) {
	return s.loadRequest(ctx, requestID)
}

func (s *service) ListByPayment(ctx context.Context, paymentID uuid.UUID) ([]models.RefundRequest, error) {
	requests, err := s.repo.ListByPayment(ctx, paymentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing refund requests")
	}
	return requests, nil
}

func (s *service) ListByStatus(ctx context.Context, status enums.RefundStatus, limit int) ([]models.RefundRequest, error) {
	if !status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown refund status")
	}
	requests, err := s.repo.ListByStatus(ctx, status, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing refund requests")
	}
	return requests, nil
}

// settleCompletion applies completed plus the payment bookkeeping in one
// transaction: both move or neither does. The payment row is re-read under
// FOR UPDATE inside the transaction so the new payment status comes from the
// committed refund total, not the caller's earlier read.
func (s *service) settleCompletion(ctx context.Context, request *models.RefundRequest, payment *models.Payment, providerRefundID string) error {
	now := time.Now().UTC()
	updates := map[string]any{"completed_at": now}
	if providerRefundID != "" {
		updates["provider_refund_id"] = providerRefundID
	}

	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		paymentsRepo := s.payments.WithTx(tx)
		locked, err := paymentsRepo.FindByIDForUpdate(ctx, payment.ID)
		if err != nil {
			return err
		}
		if locked == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}

		newTotal := locked.RefundedAmount.Add(request.Amount)
		paymentStatus := enums.PaymentStatusPartiallyRefunded
		if newTotal.GreaterThanOrEqual(locked.Amount) {
			paymentStatus = enums.PaymentStatusRefunded
		}

		applied, err := s.repo.WithTx(tx).TransitionStatus(ctx, request.ID, enums.RefundStatusProcessing, enums.RefundStatusCompleted, updates)
		if err != nil {
			return err
		}
		if !applied {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "refund request was modified concurrently")
		}
		if err := paymentsRepo.ApplyRefund(ctx, payment.ID, request.Amount, paymentStatus); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.OutboxEventRefundCompleted,
			AggregateType: enums.OutboxAggregateRefundRequest,
			AggregateID:   request.ID,
			Data: map[string]any{
				"refundRequestId": request.ID.String(),
				"paymentId":       payment.ID.String(),
				"amount":          request.Amount.String(),
				"currency":        request.Currency,
				"reason":          request.Reason.String(),
			},
		})
	})
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil {
			return typed
		}
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "settling refund completion")
	}

	request.Status = enums.RefundStatusCompleted
	request.CompletedAt = &now
	if providerRefundID != "" {
		request.ProviderRefundID = &providerRefundID
	}
	s.logg.Info(ctx, "refund completed")
	return nil
}

func (s *service) settleFailure(ctx context.Context, request *models.RefundRequest, reason string) error {
	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		applied, err := s.repo.WithTx(tx).TransitionStatus(ctx, request.ID, enums.RefundStatusProcessing, enums.RefundStatusFailed, map[string]any{
			"failure_reason": reason,
		})
		if err != nil {
			return err
		}
		if !applied {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "refund request was modified concurrently")
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.OutboxEventRefundFailed,
			AggregateType: enums.OutboxAggregateRefundRequest,
			AggregateID:   request.ID,
			Data: map[string]any{
				"refundRequestId": request.ID.String(),
				"paymentId":       request.PaymentID.String(),
				"reason":          reason,
			},
		})
	})
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil {
			return typed
		}
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "settling refund failure")
	}

	request.Status = enums.RefundStatusFailed
	request.FailureReason = &reason
	s.logg.Warn(ctx, "refund failed at the gateway")
	return nil
}

func (s *service) transition(ctx context.Context, request *models.RefundRequest, to enums.RefundStatus, updates map[string]any) error {
	applied, err := s.repo.TransitionStatus(ctx, request.ID, request.Status, to, updates)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "advancing refund request")
	}
	if !applied {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "refund request was modified concurrently")
	}
	request.Status = to
	return nil
}

func (s *service) transitionConflict(request *models.RefundRequest, to enums.RefundStatus) error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("refund request cannot move from %s to %s", request.Status, to)).
		WithDetails(map[string]string{"status": request.Status.String()})
}

func (s *service) loadRequest(ctx context.Context, requestID uuid.UUID) (*models.RefundRequest, error) {
	request, err := s.repo.FindByID(ctx, requestID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading refund request")
	}
	if request == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "refund request not found")
	}
	return request, nil
}

func (s *service) loadPayment(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error) {
	payment, err := s.payments.FindByID(ctx, paymentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading payment")
	}
	if payment == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
	}
	return payment, nil
}
