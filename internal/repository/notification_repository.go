package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/loyalty-enrollment-api/internal/models"
)

// NotificationRepository is the durable notification sink. Delivery happens
// elsewhere; rows only guarantee that the message exists.
type NotificationRepository struct {
	db DBTX
}

// NewNotificationRepository constructs the repository.
func NewNotificationRepository(db DBTX) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Create inserts a notification.
func (r *NotificationRepository) Create(ctx context.Context, n *models.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	if len(n.Data) == 0 {
		n.Data = json.RawMessage("{}")
	}
	const query = `INSERT INTO notifications
	(id, customer_id, business_id, recipient, type, title, message, data, requires_action, action_taken, is_read, created_at)
	VALUES (:id, :customer_id, :business_id, :recipient, :type, :title, :message, :data, :requires_action, :action_taken, :is_read, :created_at)`
	// jsonb is bound as text; lib/pq would encode a []byte as bytea.
	args := map[string]interface{}{
		"id":              n.ID,
		"customer_id":     n.CustomerID,
		"business_id":     n.BusinessID,
		"recipient":       n.Recipient,
		"type":            n.Type,
		"title":           n.Title,
		"message":         n.Message,
		"data":            string(n.Data),
		"requires_action": n.RequiresAction,
		"action_taken":    n.ActionTaken,
		"is_read":         n.IsRead,
		"created_at":      n.CreatedAt,
	}
	if _, err := r.db.NamedExecContext(ctx, query, args); err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

// MarkActioned flags a notification as actioned and read. It reports false
// when the row was already actioned or does not exist.
func (r *NotificationRepository) MarkActioned(ctx context.Context, id string) (bool, error) {
	const query = `UPDATE notifications SET action_taken = TRUE, is_read = TRUE WHERE id = $1 AND action_taken = FALSE`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("mark notification actioned: %w", err)
	}
	return rowsChanged(result, "notification")
}
