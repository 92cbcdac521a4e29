// Package domain contains discount and tax rule definitions. Rules are
// stateless inputs to invoice generation: the composer receives a
// snapshot resolved at a point in time, so later edits never alter
// already issued invoices.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// DiscountType represents how a discount value is interpreted.
type DiscountType string

const (
	DiscountTypePercent DiscountType = "PERCENT"
	DiscountTypeFixed   DiscountType = "FIXED"
)

// DiscountRule is an org-scoped discount definition. Value is a
// percentage in [0,100] for PERCENT and a minor-unit amount for FIXED.
// A nil PlanID/ProductID means the rule applies org-wide.
type DiscountRule struct {
	ID    snowflake.ID `gorm:"primaryKey"`
	OrgID snowflake.ID `gorm:"not null;index"`

	Code  string          `gorm:"type:text;not null"`
	Type  DiscountType    `gorm:"type:text;not null"`
	Value decimal.Decimal `gorm:"type:numeric(14,4);not null"`

	PlanID    *snowflake.ID `gorm:"index"`
	ProductID *snowflake.ID `gorm:"index"`

	ValidFrom time.Time  `gorm:"not null"`
	ValidTo   *time.Time `gorm:""`

	IsEnabled bool `gorm:"not null;default:true"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (DiscountRule) TableName() string { return "discount_rules" }

// ActiveAt reports whether the validity window covers t.
func (r DiscountRule) ActiveAt(t time.Time) bool {
	if t.Before(r.ValidFrom) {
		return false
	}
	if r.ValidTo != nil && !t.Before(*r.ValidTo) {
		return false
	}
	return true
}

func (r *DiscountRule) Validate() error {
	switch r.Type {
	case DiscountTypePercent:
		if r.Value.IsNegative() || r.Value.GreaterThan(decimal.NewFromInt(100)) {
			return ErrInvalidRule
		}
	case DiscountTypeFixed:
		if r.Value.IsNegative() {
			return ErrInvalidRule
		}
	default:
		return ErrInvalidRule
	}
	if r.ValidTo != nil && !r.ValidTo.After(r.ValidFrom) {
		return ErrInvalidRule
	}
	return nil
}

// TaxRule is an org-scoped tax definition. Rate is a percentage with
// minor-unit precision (e.g. 5.5 for 5.5%). Taxes apply to the
// discounted net and are summed, never compounded.
type TaxRule struct {
	ID    snowflake.ID `gorm:"primaryKey"`
	OrgID snowflake.ID `gorm:"not null;index"`

	Code string          `gorm:"type:text;not null"`
	Name string          `gorm:"type:text;not null"`
	Rate decimal.Decimal `gorm:"type:numeric(8,4);not null"`

	PlanID    *snowflake.ID `gorm:"index"`
	ProductID *snowflake.ID `gorm:"index"`

	IsEnabled bool `gorm:"not null;default:true"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (TaxRule) TableName() string { return "tax_rules" }

func (r *TaxRule) Validate() error {
	if r.Code == "" {
		return ErrInvalidRule
	}
	if r.Rate.IsNegative() {
		return ErrInvalidRule
	}
	return nil
}

// RuleScope narrows rule resolution to a plan/product within an org.
type RuleScope struct {
	OrgID     snowflake.ID
	PlanID    snowflake.ID
	ProductID snowflake.ID
}
