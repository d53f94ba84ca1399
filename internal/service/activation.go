package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/loyalty-enrollment-api/internal/models"
	"github.com/noah-isme/loyalty-enrollment-api/internal/repository"
	appErrors "github.com/noah-isme/loyalty-enrollment-api/pkg/errors"
)

// Activator brings a (customer, program) pair to the state ACTIVE enrollment
// plus exactly one ACTIVE card. It never opens a transaction of its own; the
// caller's stores decide the boundary.
type Activator struct {
	issuer *CardIssuer
	clock  func() time.Time
	logger *zap.Logger
}

// ActivatorOption configures the activator.
type ActivatorOption func(*Activator)

// WithActivatorClock overrides the clock used for row timestamps.
func WithActivatorClock(fn func() time.Time) ActivatorOption {
	return func(a *Activator) {
		if fn != nil {
			a.clock = fn
		}
	}
}

// NewActivator constructs an activator minting cards through issuer.
func NewActivator(issuer *CardIssuer, logger *zap.Logger, opts ...ActivatorOption) *Activator {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Activator{issuer: issuer, clock: time.Now, logger: logger}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Activate locks the enrollment, then the card, and creates or reactivates
// whichever is missing. Locks are always taken in that order so concurrent
// activations of one pair serialize on the enrollment row.
func (a *Activator) Activate(ctx context.Context, stores Stores, key models.EnrollmentKey, businessID models.BusinessID) (*models.ActivationResult, error) {
	now := a.clock().UTC()
	result := &models.ActivationResult{}

	enrollment, err := a.lockEnrollment(ctx, stores, key, businessID, now, result)
	if err != nil {
		return nil, err
	}
	if !result.EnrollmentCreated && enrollment.Status != models.StatusActive {
		if err := stores.Enrollments.UpdateStatus(ctx, key, models.StatusActive, now); err != nil {
			return nil, wrapStorage(err, "failed to reactivate enrollment")
		}
		result.EnrollmentReactivated = true
	}

	card, err := stores.Cards.FindForUpdate(ctx, key)
	if err != nil {
		return nil, wrapStorage(err, "failed to lock loyalty card")
	}
	switch {
	case card == nil:
		card, err = a.issuer.Mint(ctx, stores.Cards, key, businessID)
		if err != nil {
			if repository.IsUniqueViolation(err, repository.ConstraintCardPair) {
				return nil, appErrors.WrapAs(appErrors.ErrTransient, err, "loyalty card issued concurrently")
			}
			return nil, wrapStorage(err, "failed to issue loyalty card")
		}
		result.CardMinted = true
		if err := a.notifyCardCreated(ctx, stores, card); err != nil {
			return nil, err
		}
	case card.Status != models.StatusActive:
		if err := stores.Cards.UpdateStatus(ctx, card.ID, models.StatusActive, now); err != nil {
			return nil, wrapStorage(err, "failed to reactivate loyalty card")
		}
		card.Status = models.StatusActive
		result.CardReactivated = true
	}

	if result.EnrollmentCreated && !result.CardMinted && card.Points != 0 {
		if err := stores.Enrollments.SyncPoints(ctx, key, card.Points, now); err != nil {
			return nil, wrapStorage(err, "failed to sync enrollment points")
		}
	}

	result.CardID = card.ID
	if result.Changed() {
		a.logger.Info("enrollment activated",
			zap.Stringer("pair", key),
			zap.String("card_id", card.ID),
			zap.Bool("enrollment_created", result.EnrollmentCreated),
			zap.Bool("card_minted", result.CardMinted),
		)
	}
	return result, nil
}

func (a *Activator) lockEnrollment(ctx context.Context, stores Stores, key models.EnrollmentKey, businessID models.BusinessID, now time.Time, result *models.ActivationResult) (*models.Enrollment, error) {
	enrollment, err := stores.Enrollments.FindForUpdate(ctx, key)
	if err != nil {
		return nil, wrapStorage(err, "failed to lock enrollment")
	}
	if enrollment != nil {
		return enrollment, nil
	}

	enrollment = &models.Enrollment{
		CustomerID: key.CustomerID,
		ProgramID:  key.ProgramID,
		BusinessID: businessID,
		Status:     models.StatusActive,
		EnrolledAt: now,
		UpdatedAt:  now,
	}
	created, err := stores.Enrollments.InsertIfAbsent(ctx, enrollment)
	if err != nil {
		return nil, wrapStorage(err, "failed to create enrollment")
	}
	if created {
		result.EnrollmentCreated = true
		return enrollment, nil
	}

	// Another transaction inserted the row first; take its lock instead.
	enrollment, err = stores.Enrollments.FindForUpdate(ctx, key)
	if err != nil {
		return nil, wrapStorage(err, "failed to lock enrollment")
	}
	if enrollment == nil {
		return nil, appErrors.Clone(appErrors.ErrTransient, fmt.Sprintf("enrollment %s changed concurrently", key))
	}
	return enrollment, nil
}

func (a *Activator) notifyCardCreated(ctx context.Context, stores Stores, card *models.LoyaltyCard) error {
	return createNotification(ctx, stores, &models.Notification{
		CustomerID: card.CustomerID,
		BusinessID: card.BusinessID,
		Recipient:  models.RecipientCustomer,
		Type:       models.NotificationCardCreated,
		Title:      "Your loyalty card is ready",
		Message:    fmt.Sprintf("Card %s was issued for program %s.", card.CardNumber, card.ProgramID),
		CreatedAt:  card.CreatedAt,
	}, map[string]interface{}{
		"cardId":     card.ID,
		"cardNumber": card.CardNumber,
		"programId":  card.ProgramID,
		"businessId": card.BusinessID,
	})
}
