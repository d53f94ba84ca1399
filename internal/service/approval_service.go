package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/loyalty-enrollment-api/internal/models"
	"github.com/noah-isme/loyalty-enrollment-api/internal/repository"
	"github.com/noah-isme/loyalty-enrollment-api/pkg/config"
	appErrors "github.com/noah-isme/loyalty-enrollment-api/pkg/errors"
)

const defaultRequestTTL = 72 * time.Hour

// KindHandler carries out the kind-specific part of a decision inside the
// resolving transaction. It returns the card the decision produced, if any.
type KindHandler interface {
	Handle(ctx context.Context, stores Stores, req *models.ApprovalRequest, approve bool) (*string, error)
}

// KindHandlerFunc allows using plain functions.
type KindHandlerFunc func(ctx context.Context, stores Stores, req *models.ApprovalRequest, approve bool) (*string, error)

// Handle implements KindHandler.
func (f KindHandlerFunc) Handle(ctx context.Context, stores Stores, req *models.ApprovalRequest, approve bool) (*string, error) {
	return f(ctx, stores, req, approve)
}

// EnrollmentKindHandler activates the enrollment on approval and does
// nothing on rejection.
func EnrollmentKindHandler(activator *Activator) KindHandler {
	return KindHandlerFunc(func(ctx context.Context, stores Stores, req *models.ApprovalRequest, approve bool) (*string, error) {
		if !approve {
			return nil, nil
		}
		result, err := activator.Activate(ctx, stores, req.Key(), req.BusinessID)
		if err != nil {
			return nil, err
		}
		cardID := result.CardID
		return &cardID, nil
	})
}

// ResolveInput is a customer's decision on an approval request.
type ResolveInput struct {
	RequestID string
	Approve   bool
	// ActorCustomerID, when set, must own the request.
	ActorCustomerID *models.CustomerID
}

// CreateEnrollmentRequestInput asks a customer to join a program.
type CreateEnrollmentRequestInput struct {
	CustomerID models.CustomerID `validate:"gt=0"`
	BusinessID models.BusinessID `validate:"gt=0"`
	ProgramID  models.ProgramID  `validate:"gt=0"`
}

// ApprovalService opens and resolves approval requests. Every call is one
// transaction.
type ApprovalService struct {
	tx        Transactor
	handlers  map[models.RequestKind]KindHandler
	ttl       time.Duration
	clock     func() time.Time
	validator *validator.Validate
	metrics   *MetricsService
	logger    *zap.Logger
}

// ApprovalServiceOption configures the service.
type ApprovalServiceOption func(*ApprovalService)

// WithKindHandlers sets the handler map keyed by request kind. Kinds outside
// the known set and nil handlers are ignored.
func WithKindHandlers(handlers map[models.RequestKind]KindHandler) ApprovalServiceOption {
	return func(s *ApprovalService) {
		for kind, handler := range handlers {
			if !kind.Valid() || handler == nil {
				continue
			}
			s.handlers[kind] = handler
		}
	}
}

// WithApprovalClock overrides the clock used for expiry and timestamps.
func WithApprovalClock(fn func() time.Time) ApprovalServiceOption {
	return func(s *ApprovalService) {
		if fn != nil {
			s.clock = fn
		}
	}
}

// NewApprovalService constructs the service. ENROLLMENT requests are handled
// by activator; other kinds need a handler supplied through options.
func NewApprovalService(tx Transactor, activator *Activator, cfg config.EngineConfig, metrics *MetricsService, logger *zap.Logger, opts ...ApprovalServiceOption) *ApprovalService {
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := cfg.RequestTTL
	if ttl <= 0 {
		ttl = defaultRequestTTL
	}
	svc := &ApprovalService{
		tx:        tx,
		handlers:  make(map[models.RequestKind]KindHandler),
		ttl:       ttl,
		clock:     time.Now,
		validator: validator.New(),
		metrics:   metrics,
		logger:    logger,
	}
	if activator != nil {
		svc.handlers[models.RequestKindEnrollment] = EnrollmentKindHandler(activator)
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// Resolve applies a decision to a request. Replaying the decision a request
// already carries returns the earlier outcome without writing anything.
func (s *ApprovalService) Resolve(ctx context.Context, in ResolveInput) (*models.ResolveOutcome, error) {
	if _, err := uuid.Parse(strings.TrimSpace(in.RequestID)); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "request id must be a UUID")
	}
	var outcome *models.ResolveOutcome
	err := s.tx.WithinTx(ctx, func(ctx context.Context, stores Stores) error {
		var err error
		outcome, err = s.resolve(ctx, stores, in)
		return err
	})
	if err != nil {
		s.metrics.RecordResolve(ResolveOutcomeFailed)
		return nil, err
	}
	switch {
	case outcome.AlreadyResolved:
		s.metrics.RecordResolve(ResolveOutcomeAlreadyResolved)
	case outcome.Status == models.ApprovalStatusApproved:
		s.metrics.RecordResolve(ResolveOutcomeApproved)
	default:
		s.metrics.RecordResolve(ResolveOutcomeRejected)
	}
	return outcome, nil
}

func (s *ApprovalService) resolve(ctx context.Context, stores Stores, in ResolveInput) (*models.ResolveOutcome, error) {
	req, err := stores.Requests.GetForUpdate(ctx, strings.TrimSpace(in.RequestID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "approval request not found")
		}
		return nil, wrapStorage(err, "failed to load approval request")
	}
	if in.ActorCustomerID != nil && *in.ActorCustomerID != req.CustomerID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "approval request belongs to another customer")
	}

	decision := models.DecisionStatus(in.Approve)
	if req.Status.Resolved() {
		switch req.Status {
		case decision:
			return s.previousOutcome(ctx, stores, req)
		case models.ApprovalStatusExpired:
			return nil, appErrors.ErrExpired
		default:
			return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("approval request already %s", strings.ToLower(string(req.Status))))
		}
	}

	now := s.clock().UTC()
	if req.ExpiredAt(now) {
		return nil, appErrors.ErrExpired
	}
	handler, ok := s.handlers[req.Kind]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported request kind: %s", req.Kind))
	}

	if err := stores.Requests.MarkResolved(ctx, req.ID, decision, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "approval request already processed")
		}
		return nil, wrapStorage(err, "failed to resolve approval request")
	}
	if req.NotificationID != nil {
		if _, err := stores.Notifications.MarkActioned(ctx, *req.NotificationID); err != nil {
			return nil, wrapStorage(err, "failed to update request notification")
		}
	}

	relStatus := models.RelationshipDeclined
	if in.Approve {
		relStatus = models.RelationshipActive
	}
	if err := stores.Relationships.Upsert(ctx, &models.Relationship{
		CustomerID: req.CustomerID,
		BusinessID: req.BusinessID,
		Status:     relStatus,
		UpdatedAt:  now,
	}); err != nil {
		return nil, wrapStorage(err, "failed to update relationship")
	}
	if err := s.notifyDecision(ctx, stores, req, decision, now); err != nil {
		return nil, err
	}

	cardID, err := handler.Handle(ctx, stores, req, in.Approve)
	if err != nil {
		return nil, err
	}

	s.logger.Info("approval request resolved",
		zap.String("request_id", req.ID),
		zap.String("status", string(decision)),
		zap.Stringer("pair", req.Key()),
	)
	return &models.ResolveOutcome{RequestID: req.ID, Status: decision, CardID: cardID}, nil
}

// previousOutcome rebuilds the result of an earlier resolve from storage.
func (s *ApprovalService) previousOutcome(ctx context.Context, stores Stores, req *models.ApprovalRequest) (*models.ResolveOutcome, error) {
	outcome := &models.ResolveOutcome{RequestID: req.ID, Status: req.Status, AlreadyResolved: true}
	if req.Status != models.ApprovalStatusApproved || req.Kind != models.RequestKindEnrollment {
		return outcome, nil
	}
	card, err := stores.Cards.FindActive(ctx, req.Key())
	if err != nil {
		return nil, wrapStorage(err, "failed to load loyalty card")
	}
	if card == nil {
		s.logger.Warn("approved request has no active card; reconciliation will repair it",
			zap.String("request_id", req.ID),
			zap.Stringer("pair", req.Key()),
		)
		return outcome, nil
	}
	cardID := card.ID
	outcome.CardID = &cardID
	return outcome, nil
}

func (s *ApprovalService) notifyDecision(ctx context.Context, stores Stores, req *models.ApprovalRequest, decision models.ApprovalStatus, now time.Time) error {
	notificationType := models.NotificationEnrollmentRejected
	title := "Enrollment declined"
	message := fmt.Sprintf("Customer %s declined to join program %s.", req.CustomerID, req.ProgramID)
	if decision == models.ApprovalStatusApproved {
		notificationType = models.NotificationEnrollmentApproved
		title = "Enrollment accepted"
		message = fmt.Sprintf("Customer %s joined program %s.", req.CustomerID, req.ProgramID)
	}
	return createNotification(ctx, stores, &models.Notification{
		CustomerID: req.CustomerID,
		BusinessID: req.BusinessID,
		Recipient:  models.RecipientBusiness,
		Type:       notificationType,
		Title:      title,
		Message:    message,
		CreatedAt:  now,
	}, map[string]interface{}{
		"requestId":  req.ID,
		"programId":  req.ProgramID,
		"customerId": req.CustomerID,
	})
}

// CreateEnrollmentRequest opens an ENROLLMENT request for the pair. An
// unexpired pending request for the same pair is returned instead of
// creating a second one; an expired one is retired first.
func (s *ApprovalService) CreateEnrollmentRequest(ctx context.Context, in CreateEnrollmentRequestInput) (*models.ApprovalRequest, error) {
	if err := s.validator.Struct(in); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "customerId, businessId and programId must be positive")
	}
	var created *models.ApprovalRequest
	err := s.tx.WithinTx(ctx, func(ctx context.Context, stores Stores) error {
		var err error
		created, err = s.createEnrollmentRequest(ctx, stores, in)
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *ApprovalService) createEnrollmentRequest(ctx context.Context, stores Stores, in CreateEnrollmentRequestInput) (*models.ApprovalRequest, error) {
	key := models.EnrollmentKey{CustomerID: in.CustomerID, ProgramID: in.ProgramID}
	now := s.clock().UTC()

	enrollment, err := stores.Enrollments.FindByKey(ctx, key)
	if err != nil {
		return nil, wrapStorage(err, "failed to load enrollment")
	}
	if enrollment != nil && enrollment.Status == models.StatusActive {
		return nil, appErrors.Clone(appErrors.ErrConflict, "customer is already enrolled in this program")
	}

	pending, err := stores.Requests.FindPending(ctx, key, models.RequestKindEnrollment)
	if err != nil {
		return nil, wrapStorage(err, "failed to load pending request")
	}
	if pending != nil {
		if !pending.ExpiredAt(now) {
			return pending, nil
		}
		if err := expireRequest(ctx, stores, pending, now); err != nil {
			return nil, err
		}
	}

	requestID := uuid.NewString()
	notification := &models.Notification{
		CustomerID:     in.CustomerID,
		BusinessID:     in.BusinessID,
		Recipient:      models.RecipientCustomer,
		Type:           models.NotificationEnrollmentRequest,
		Title:          "Loyalty program invitation",
		Message:        fmt.Sprintf("Business %s invites you to join program %s.", in.BusinessID, in.ProgramID),
		RequiresAction: true,
		CreatedAt:      now,
	}
	if err := createNotification(ctx, stores, notification, map[string]interface{}{
		"requestId":  requestID,
		"programId":  in.ProgramID,
		"businessId": in.BusinessID,
	}); err != nil {
		return nil, err
	}

	notificationID := notification.ID
	req := &models.ApprovalRequest{
		ID:             requestID,
		CustomerID:     in.CustomerID,
		BusinessID:     in.BusinessID,
		ProgramID:      in.ProgramID,
		Kind:           models.RequestKindEnrollment,
		Status:         models.ApprovalStatusPending,
		NotificationID: &notificationID,
		RequestedAt:    now,
		ExpiresAt:      now.Add(s.ttl),
	}
	if err := stores.Requests.Create(ctx, req); err != nil {
		if repository.IsUniqueViolation(err, repository.ConstraintPendingApproval) {
			// A concurrent creator won; the retry returns its request.
			return nil, appErrors.WrapAs(appErrors.ErrTransient, err, "enrollment request created concurrently")
		}
		return nil, wrapStorage(err, "failed to create approval request")
	}
	s.logger.Info("enrollment request created",
		zap.String("request_id", req.ID),
		zap.Stringer("pair", key),
		zap.Time("expires_at", req.ExpiresAt),
	)
	return req, nil
}

// Get returns a request visible to the actor.
func (s *ApprovalService) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.ApprovalRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if _, err := uuid.Parse(strings.TrimSpace(id)); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "request id must be a UUID")
	}
	var req *models.ApprovalRequest
	err := s.tx.WithinTx(ctx, func(ctx context.Context, stores Stores) error {
		var err error
		req, err = stores.Requests.GetByID(ctx, strings.TrimSpace(id))
		return err
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, err
	}
	switch actor.Role {
	case models.RoleAdmin:
	case models.RoleCustomer:
		if customerID, ok := actor.CustomerID(); !ok || customerID != req.CustomerID {
			return nil, appErrors.ErrForbidden
		}
	case models.RoleBusiness:
		if businessID, ok := actor.BusinessID(); !ok || businessID != req.BusinessID {
			return nil, appErrors.ErrForbidden
		}
	default:
		return nil, appErrors.ErrForbidden
	}
	return req, nil
}

// expireRequest moves an expired pending request to EXPIRED, closes its
// notification and tells the business.
func expireRequest(ctx context.Context, stores Stores, req *models.ApprovalRequest, now time.Time) error {
	if err := stores.Requests.MarkResolved(ctx, req.ID, models.ApprovalStatusExpired, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrConflict, "approval request already processed")
		}
		return wrapStorage(err, "failed to expire approval request")
	}
	if req.NotificationID != nil {
		if _, err := stores.Notifications.MarkActioned(ctx, *req.NotificationID); err != nil {
			return wrapStorage(err, "failed to update request notification")
		}
	}
	return createNotification(ctx, stores, &models.Notification{
		CustomerID: req.CustomerID,
		BusinessID: req.BusinessID,
		Recipient:  models.RecipientBusiness,
		Type:       models.NotificationEnrollmentExpired,
		Title:      "Enrollment request expired",
		Message:    fmt.Sprintf("Customer %s did not answer the invitation to program %s.", req.CustomerID, req.ProgramID),
		CreatedAt:  now,
	}, map[string]interface{}{
		"requestId":  req.ID,
		"programId":  req.ProgramID,
		"customerId": req.CustomerID,
	})
}

func createNotification(ctx context.Context, stores Stores, n *models.Notification, data map[string]interface{}) error {
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return appErrors.WrapAs(appErrors.ErrInternal, err, "failed to encode notification")
		}
		n.Data = raw
	}
	if err := stores.Notifications.Create(ctx, n); err != nil {
		return wrapStorage(err, "failed to create notification")
	}
	return nil
}
