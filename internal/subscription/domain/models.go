// Package domain contains persistence models for subscriptions.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// SubscriptionStatus represents lifecycle states for a subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusDraft     SubscriptionStatus = "DRAFT"
	SubscriptionStatusActive    SubscriptionStatus = "ACTIVE"
	SubscriptionStatusSuspended SubscriptionStatus = "SUSPENDED"
	SubscriptionStatusCancelled SubscriptionStatus = "CANCELLED"
	SubscriptionStatusClosed    SubscriptionStatus = "CLOSED"
)

// Terminal reports whether no further transitions are allowed.
func (s SubscriptionStatus) Terminal() bool {
	return s == SubscriptionStatusCancelled || s == SubscriptionStatusClosed
}

// Subscription captures a customer's recurring billing agreement.
// NextBillingAt is the start of the next unbilled period and is only
// advanced by the billing cycle, in the same transaction that creates
// the period's invoice.
type Subscription struct {
	ID         snowflake.ID       `gorm:"primaryKey"`
	OrgID      snowflake.ID       `gorm:"not null;index"`
	CustomerID snowflake.ID       `gorm:"not null;index"`
	PlanID     snowflake.ID       `gorm:"not null;index"`
	Status     SubscriptionStatus `gorm:"type:text;not null"`

	StartAt       time.Time  `gorm:"not null"`
	NextBillingAt time.Time  `gorm:"not null"`
	EndAt         *time.Time `gorm:""`

	ActivatedAt *time.Time `gorm:""`
	SuspendedAt *time.Time `gorm:""`
	ResumedAt   *time.Time `gorm:""`
	CanceledAt  *time.Time `gorm:""`
	ClosedAt    *time.Time `gorm:""`

	Metadata  datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }
