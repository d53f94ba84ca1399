package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/loyalty-enrollment-api/internal/models"
	appErrors "github.com/noah-isme/loyalty-enrollment-api/pkg/errors"
)

const (
	defaultCardNumberAttempts = 5
	cardSuffixLength          = 6
	cardSuffixAlphabet        = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	cardTimestampLayout       = "060102150405"
)

// CardIssuer mints loyalty cards with storage-enforced unique numbers.
type CardIssuer struct {
	attempts int
	suffix   func() (string, error)
	clock    func() time.Time
	metrics  *MetricsService
	logger   *zap.Logger
}

// CardIssuerOption configures the issuer.
type CardIssuerOption func(*CardIssuer)

// WithCardSuffixSource overrides the random suffix generator.
func WithCardSuffixSource(fn func() (string, error)) CardIssuerOption {
	return func(i *CardIssuer) {
		if fn != nil {
			i.suffix = fn
		}
	}
}

// WithCardClock overrides the clock used for the number timestamp.
func WithCardClock(fn func() time.Time) CardIssuerOption {
	return func(i *CardIssuer) {
		if fn != nil {
			i.clock = fn
		}
	}
}

// NewCardIssuer constructs an issuer trying at most attempts numbers per card.
func NewCardIssuer(attempts int, metrics *MetricsService, logger *zap.Logger, opts ...CardIssuerOption) *CardIssuer {
	if attempts <= 0 {
		attempts = defaultCardNumberAttempts
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	issuer := &CardIssuer{
		attempts: attempts,
		suffix:   randomCardSuffix,
		clock:    time.Now,
		metrics:  metrics,
		logger:   logger,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(issuer)
		}
	}
	return issuer
}

// Mint inserts a new ACTIVE card for the pair. A number already taken is
// replaced by a fresh suffix; after the configured attempts the issuer gives
// up with CARD_NUMBER_GENERATION_FAILED.
func (i *CardIssuer) Mint(ctx context.Context, cards CardStore, key models.EnrollmentKey, businessID models.BusinessID) (*models.LoyaltyCard, error) {
	now := i.clock().UTC()
	for attempt := 1; attempt <= i.attempts; attempt++ {
		suffix, err := i.suffix()
		if err != nil {
			return nil, appErrors.WrapAs(appErrors.ErrInternal, err, "failed to generate card number")
		}
		card := &models.LoyaltyCard{
			ID:         uuid.NewString(),
			CustomerID: key.CustomerID,
			ProgramID:  key.ProgramID,
			BusinessID: businessID,
			CardNumber: FormatCardNumber(businessID, key.ProgramID, key.CustomerID, now, suffix),
			Status:     models.StatusActive,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		inserted, err := cards.Insert(ctx, card)
		if err != nil {
			return nil, err
		}
		if inserted {
			i.metrics.RecordCardMinted()
			return card, nil
		}
		i.metrics.RecordCardCollision()
		i.logger.Debug("card number collision",
			zap.String("card_number", card.CardNumber),
			zap.Int("attempt", attempt),
		)
	}
	return nil, appErrors.Clone(appErrors.ErrCardNumberGeneration,
		fmt.Sprintf("no free card number for %s after %d attempts", key, i.attempts))
}

// FormatCardNumber renders LC-<business>-<program>-<customer>-<yyMMddHHmmss>-<suffix>.
func FormatCardNumber(businessID models.BusinessID, programID models.ProgramID, customerID models.CustomerID, at time.Time, suffix string) string {
	return fmt.Sprintf("LC-%s-%s-%s-%s-%s", businessID, programID, customerID, at.UTC().Format(cardTimestampLayout), suffix)
}

func randomCardSuffix() (string, error) {
	limit := big.NewInt(int64(len(cardSuffixAlphabet)))
	buf := make([]byte, cardSuffixLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		buf[i] = cardSuffixAlphabet[n.Int64()]
	}
	return string(buf), nil
}
