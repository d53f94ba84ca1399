package models

import (
	"encoding/json"
	"time"
)

// NotificationType enumerates the messages produced by the engine.
type NotificationType string

const (
	NotificationEnrollmentRequest  NotificationType = "ENROLLMENT_REQUEST"
	NotificationEnrollmentApproved NotificationType = "ENROLLMENT_APPROVED"
	NotificationEnrollmentRejected NotificationType = "ENROLLMENT_REJECTED"
	NotificationEnrollmentExpired  NotificationType = "ENROLLMENT_EXPIRED"
	NotificationCardCreated        NotificationType = "CARD_CREATED"
)

// NotificationRecipient tells the delivery channel whose inbox a row is for.
type NotificationRecipient string

const (
	RecipientCustomer NotificationRecipient = "CUSTOMER"
	RecipientBusiness NotificationRecipient = "BUSINESS"
)

// Notification is a durable message consumed by an external delivery channel.
type Notification struct {
	ID             string                `db:"id" json:"id"`
	CustomerID     CustomerID            `db:"customer_id" json:"customerId"`
	BusinessID     BusinessID            `db:"business_id" json:"businessId"`
	Recipient      NotificationRecipient `db:"recipient" json:"recipient"`
	Type           NotificationType      `db:"type" json:"type"`
	Title          string                `db:"title" json:"title"`
	Message        string                `db:"message" json:"message"`
	Data           json.RawMessage       `db:"data" json:"data,omitempty"`
	RequiresAction bool                  `db:"requires_action" json:"requiresAction"`
	ActionTaken    bool                  `db:"action_taken" json:"actionTaken"`
	IsRead         bool                  `db:"is_read" json:"isRead"`
	CreatedAt      time.Time             `db:"created_at" json:"createdAt"`
}
