package service

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/noah-isme/loyalty-enrollment-api/internal/models"
	"github.com/noah-isme/loyalty-enrollment-api/internal/repository"
	appErrors "github.com/noah-isme/loyalty-enrollment-api/pkg/errors"
)

// memStore is a transactional in-memory store. Transactions are serialized
// by a mutex and run against a copy of the state that replaces the committed
// state only when fn succeeds.
type memStore struct {
	mu    sync.Mutex
	state *memState

	// failNotification makes Notifications.Create fail for a type.
	failNotification map[models.NotificationType]error
	commits          int
}

type relationshipKey struct {
	customer models.CustomerID
	business models.BusinessID
}

type memState struct {
	requests      map[string]models.ApprovalRequest
	notifications map[string]models.Notification
	enrollments   map[models.EnrollmentKey]models.Enrollment
	cards         map[string]models.LoyaltyCard
	relationships map[relationshipKey]models.Relationship
}

func newMemStore() *memStore {
	return &memStore{
		state: &memState{
			requests:      map[string]models.ApprovalRequest{},
			notifications: map[string]models.Notification{},
			enrollments:   map[models.EnrollmentKey]models.Enrollment{},
			cards:         map[string]models.LoyaltyCard{},
			relationships: map[relationshipKey]models.Relationship{},
		},
		failNotification: map[models.NotificationType]error{},
	}
}

func (s *memState) clone() *memState {
	c := &memState{
		requests:      make(map[string]models.ApprovalRequest, len(s.requests)),
		notifications: make(map[string]models.Notification, len(s.notifications)),
		enrollments:   make(map[models.EnrollmentKey]models.Enrollment, len(s.enrollments)),
		cards:         make(map[string]models.LoyaltyCard, len(s.cards)),
		relationships: make(map[relationshipKey]models.Relationship, len(s.relationships)),
	}
	for k, v := range s.requests {
		c.requests[k] = v
	}
	for k, v := range s.notifications {
		c.notifications[k] = v
	}
	for k, v := range s.enrollments {
		c.enrollments[k] = v
	}
	for k, v := range s.cards {
		c.cards[k] = v
	}
	for k, v := range s.relationships {
		c.relationships[k] = v
	}
	return c
}

func (m *memStore) WithinTx(ctx context.Context, fn func(ctx context.Context, stores Stores) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return appErrors.WrapAs(appErrors.ErrTransient, err, "")
	}
	working := m.state.clone()
	stores := Stores{
		Requests:      &memRequests{s: working},
		Notifications: &memNotifications{s: working, fail: m.failNotification},
		Enrollments:   &memEnrollments{s: working},
		Cards:         &memCards{s: working},
		Relationships: &memRelationships{s: working},
	}
	if err := fn(ctx, stores); err != nil {
		return wrapStorage(err, "storage failure")
	}
	m.state = working
	m.commits++
	return nil
}

// locked runs fn against the committed state.
func (m *memStore) locked(fn func(s *memState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m.state)
}

func (m *memStore) seedRequest(req models.ApprovalRequest) models.ApprovalRequest {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Kind == "" {
		req.Kind = models.RequestKindEnrollment
	}
	if req.Status == "" {
		req.Status = models.ApprovalStatusPending
	}
	m.locked(func(s *memState) {
		if req.NotificationID == nil {
			n := models.Notification{
				ID:             uuid.NewString(),
				CustomerID:     req.CustomerID,
				BusinessID:     req.BusinessID,
				Recipient:      models.RecipientCustomer,
				Type:           models.NotificationEnrollmentRequest,
				RequiresAction: true,
				ActionTaken:    req.Status.Resolved(),
			}
			s.notifications[n.ID] = n
			req.NotificationID = &n.ID
		}
		s.requests[req.ID] = req
	})
	return req
}

func (m *memStore) seedEnrollment(e models.Enrollment) {
	m.locked(func(s *memState) { s.enrollments[e.Key()] = e })
}

func (m *memStore) seedCard(c models.LoyaltyCard) models.LoyaltyCard {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CardNumber == "" {
		c.CardNumber = "LC-seed-" + c.ID
	}
	m.locked(func(s *memState) { s.cards[c.ID] = c })
	return c
}

func (m *memStore) request(id string) models.ApprovalRequest {
	var req models.ApprovalRequest
	m.locked(func(s *memState) { req = s.requests[id] })
	return req
}

func (m *memStore) enrollment(key models.EnrollmentKey) (models.Enrollment, bool) {
	var (
		e  models.Enrollment
		ok bool
	)
	m.locked(func(s *memState) { e, ok = s.enrollments[key] })
	return e, ok
}

func (m *memStore) cardsFor(key models.EnrollmentKey) []models.LoyaltyCard {
	var out []models.LoyaltyCard
	m.locked(func(s *memState) {
		for _, c := range s.cards {
			if c.Key() == key {
				out = append(out, c)
			}
		}
	})
	return out
}

func (m *memStore) notificationsOf(t models.NotificationType) []models.Notification {
	var out []models.Notification
	m.locked(func(s *memState) {
		for _, n := range s.notifications {
			if n.Type == t {
				out = append(out, n)
			}
		}
	})
	return out
}

func (m *memStore) notification(id string) models.Notification {
	var n models.Notification
	m.locked(func(s *memState) { n = s.notifications[id] })
	return n
}

func (m *memStore) relationship(customer models.CustomerID, business models.BusinessID) (models.Relationship, bool) {
	var (
		rel models.Relationship
		ok  bool
	)
	m.locked(func(s *memState) { rel, ok = s.relationships[relationshipKey{customer, business}] })
	return rel, ok
}

func (m *memStore) totals() (requests, notifications, enrollments, cards int) {
	m.locked(func(s *memState) {
		requests, notifications, enrollments, cards = len(s.requests), len(s.notifications), len(s.enrollments), len(s.cards)
	})
	return
}

func uniqueViolation(constraint string) error {
	return &pq.Error{Code: "23505", Constraint: constraint}
}

type memRequests struct{ s *memState }

func (r *memRequests) Create(ctx context.Context, req *models.ApprovalRequest) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	for _, existing := range r.s.requests {
		if existing.Status == models.ApprovalStatusPending && req.Status == models.ApprovalStatusPending &&
			existing.Key() == req.Key() && existing.Kind == req.Kind {
			return uniqueViolation(repository.ConstraintPendingApproval)
		}
	}
	r.s.requests[req.ID] = *req
	return nil
}

func (r *memRequests) GetByID(ctx context.Context, id string) (*models.ApprovalRequest, error) {
	req, ok := r.s.requests[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &req, nil
}

func (r *memRequests) GetForUpdate(ctx context.Context, id string) (*models.ApprovalRequest, error) {
	return r.GetByID(ctx, id)
}

func (r *memRequests) FindPending(ctx context.Context, key models.EnrollmentKey, kind models.RequestKind) (*models.ApprovalRequest, error) {
	for _, req := range r.s.requests {
		if req.Key() == key && req.Kind == kind && req.Status == models.ApprovalStatusPending {
			found := req
			return &found, nil
		}
	}
	return nil, nil
}

func (r *memRequests) MarkResolved(ctx context.Context, id string, status models.ApprovalStatus, respondedAt time.Time) error {
	req, ok := r.s.requests[id]
	if !ok || req.Status != models.ApprovalStatusPending {
		return sql.ErrNoRows
	}
	req.Status = status
	req.RespondedAt = &respondedAt
	r.s.requests[id] = req
	return nil
}

type memNotifications struct {
	s    *memState
	fail map[models.NotificationType]error
}

func (n *memNotifications) Create(ctx context.Context, notification *models.Notification) error {
	if err := n.fail[notification.Type]; err != nil {
		return err
	}
	if notification.ID == "" {
		notification.ID = uuid.NewString()
	}
	n.s.notifications[notification.ID] = *notification
	return nil
}

func (n *memNotifications) MarkActioned(ctx context.Context, id string) (bool, error) {
	notification, ok := n.s.notifications[id]
	if !ok || notification.ActionTaken {
		return false, nil
	}
	notification.ActionTaken = true
	notification.IsRead = true
	n.s.notifications[id] = notification
	return true, nil
}

type memEnrollments struct{ s *memState }

func (e *memEnrollments) FindByKey(ctx context.Context, key models.EnrollmentKey) (*models.Enrollment, error) {
	enrollment, ok := e.s.enrollments[key]
	if !ok {
		return nil, nil
	}
	return &enrollment, nil
}

func (e *memEnrollments) FindForUpdate(ctx context.Context, key models.EnrollmentKey) (*models.Enrollment, error) {
	return e.FindByKey(ctx, key)
}

func (e *memEnrollments) InsertIfAbsent(ctx context.Context, enrollment *models.Enrollment) (bool, error) {
	if _, ok := e.s.enrollments[enrollment.Key()]; ok {
		return false, nil
	}
	e.s.enrollments[enrollment.Key()] = *enrollment
	return true, nil
}

func (e *memEnrollments) UpdateStatus(ctx context.Context, key models.EnrollmentKey, status models.RecordStatus, at time.Time) error {
	enrollment, ok := e.s.enrollments[key]
	if !ok {
		return nil
	}
	enrollment.Status = status
	enrollment.UpdatedAt = at
	e.s.enrollments[key] = enrollment
	return nil
}

func (e *memEnrollments) SyncPoints(ctx context.Context, key models.EnrollmentKey, points int64, at time.Time) error {
	enrollment, ok := e.s.enrollments[key]
	if !ok {
		return nil
	}
	enrollment.CurrentPoints = points
	enrollment.UpdatedAt = at
	e.s.enrollments[key] = enrollment
	return nil
}

type memCards struct{ s *memState }

func (c *memCards) FindForUpdate(ctx context.Context, key models.EnrollmentKey) (*models.LoyaltyCard, error) {
	for _, card := range c.s.cards {
		if card.Key() == key {
			found := card
			return &found, nil
		}
	}
	return nil, nil
}

func (c *memCards) FindActive(ctx context.Context, key models.EnrollmentKey) (*models.LoyaltyCard, error) {
	card, err := c.FindForUpdate(ctx, key)
	if err != nil || card == nil || card.Status != models.StatusActive {
		return nil, err
	}
	return card, nil
}

func (c *memCards) Insert(ctx context.Context, card *models.LoyaltyCard) (bool, error) {
	for _, existing := range c.s.cards {
		if existing.CardNumber == card.CardNumber {
			return false, nil
		}
	}
	for _, existing := range c.s.cards {
		if existing.Key() == card.Key() {
			return false, uniqueViolation(repository.ConstraintCardPair)
		}
	}
	if card.ID == "" {
		card.ID = uuid.NewString()
	}
	c.s.cards[card.ID] = *card
	return true, nil
}

func (c *memCards) UpdateStatus(ctx context.Context, id string, status models.RecordStatus, at time.Time) error {
	card, ok := c.s.cards[id]
	if !ok {
		return nil
	}
	card.Status = status
	card.UpdatedAt = at
	c.s.cards[id] = card
	return nil
}

type memRelationships struct{ s *memState }

func (r *memRelationships) Upsert(ctx context.Context, rel *models.Relationship) error {
	r.s.relationships[relationshipKey{rel.CustomerID, rel.BusinessID}] = *rel
	return nil
}

// memScanner implements IntegrityScanner over the committed state.
type memScanner struct{ m *memStore }

func (sc *memScanner) ListEnrollmentsMissingCard(ctx context.Context, after models.EnrollmentKey, limit int) ([]models.PairCandidate, error) {
	var out []models.PairCandidate
	sc.m.locked(func(s *memState) {
		for key, e := range s.enrollments {
			if e.Status != models.StatusActive || !after.Less(key) || hasActiveCard(s, key) {
				continue
			}
			out = append(out, models.PairCandidate{CustomerID: key.CustomerID, ProgramID: key.ProgramID, BusinessID: e.BusinessID})
		}
	})
	return pagePairs(out, limit), nil
}

func (sc *memScanner) ListCardsMissingEnrollment(ctx context.Context, after models.EnrollmentKey, limit int) ([]models.PairCandidate, error) {
	var out []models.PairCandidate
	sc.m.locked(func(s *memState) {
		for _, c := range s.cards {
			key := c.Key()
			if c.Status != models.StatusActive || !after.Less(key) {
				continue
			}
			if e, ok := s.enrollments[key]; ok && e.Status == models.StatusActive {
				continue
			}
			out = append(out, models.PairCandidate{CustomerID: key.CustomerID, ProgramID: key.ProgramID, BusinessID: c.BusinessID})
		}
	})
	return pagePairs(out, limit), nil
}

func (sc *memScanner) ListRequestAnomalies(ctx context.Context, afterID string, limit int) ([]models.RequestAnomaly, error) {
	var out []models.RequestAnomaly
	sc.m.locked(func(s *memState) {
		for id, req := range s.requests {
			if id <= afterID {
				continue
			}
			row := models.RequestAnomaly{ApprovalRequest: req}
			if req.NotificationID != nil {
				if n, ok := s.notifications[*req.NotificationID]; ok {
					row.NotificationFound = true
					row.ActionTaken = n.ActionTaken
				}
			}
			pending := req.Status == models.ApprovalStatusPending
			if row.NotificationFound && pending != row.ActionTaken {
				continue
			}
			out = append(out, row)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (sc *memScanner) ListExpiredPending(ctx context.Context, now time.Time, afterID string, limit int) ([]models.ApprovalRequest, error) {
	var out []models.ApprovalRequest
	sc.m.locked(func(s *memState) {
		for id, req := range s.requests {
			if id > afterID && req.Status == models.ApprovalStatusPending && !req.ExpiresAt.After(now) {
				out = append(out, req)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func hasActiveCard(s *memState, key models.EnrollmentKey) bool {
	for _, c := range s.cards {
		if c.Key() == key && c.Status == models.StatusActive {
			return true
		}
	}
	return false
}

func pagePairs(rows []models.PairCandidate, limit int) []models.PairCandidate {
	sort.Slice(rows, func(i, j int) bool { return rows[i].Key().Less(rows[j].Key()) })
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows
}
