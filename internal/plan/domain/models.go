// Package domain contains recurring plan templates. A plan version is
// immutable once an active subscription references it; edits create a
// new version via Supersede.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Cadence is the recurring billing period of a plan.
type Cadence string

const (
	CadenceDaily   Cadence = "DAILY"
	CadenceWeekly  Cadence = "WEEKLY"
	CadenceMonthly Cadence = "MONTHLY"
	CadenceYearly  Cadence = "YEARLY"
)

func (c Cadence) Valid() bool {
	switch c {
	case CadenceDaily, CadenceWeekly, CadenceMonthly, CadenceYearly:
		return true
	default:
		return false
	}
}

// AddTo returns the end of the period that starts at t. Calendar
// arithmetic (AddDate) keeps monthly anchors on the same day-of-month
// where the target month allows it.
func (c Cadence) AddTo(t time.Time) time.Time {
	switch c {
	case CadenceDaily:
		return t.AddDate(0, 0, 1)
	case CadenceWeekly:
		return t.AddDate(0, 0, 7)
	case CadenceMonthly:
		return t.AddDate(0, 1, 0)
	case CadenceYearly:
		return t.AddDate(1, 0, 0)
	default:
		return t
	}
}

// Plan is a versioned recurring billing template.
type Plan struct {
	ID       snowflake.ID `gorm:"primaryKey"`
	OrgID    snowflake.ID `gorm:"not null;index"`
	Code     string       `gorm:"type:text;not null;uniqueIndex:ux_plan_code_version,priority:2"`
	Version  int          `gorm:"not null;default:1;uniqueIndex:ux_plan_code_version,priority:3"`
	Name     string       `gorm:"type:text;not null"`
	Cadence  Cadence      `gorm:"type:text;not null"`
	Currency string       `gorm:"type:text;not null"`

	Lines []PlanLine `gorm:"foreignKey:PlanID"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Plan) TableName() string { return "plans" }

func (p *Plan) Validate() error {
	if p.Code == "" {
		return ErrInvalidPlan
	}
	if !p.Cadence.Valid() {
		return ErrInvalidCadence
	}
	if len(p.Currency) != 3 {
		return ErrInvalidCurrency
	}
	return nil
}

// PlanLine prices one product on a plan.
type PlanLine struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	OrgID       snowflake.ID `gorm:"not null;index"`
	PlanID      snowflake.ID `gorm:"not null;index"`
	ProductID   snowflake.ID `gorm:"not null;index"`
	Description string       `gorm:"type:text;not null"`
	UnitAmount  int64        `gorm:"not null"`
	Quantity    int64        `gorm:"not null;default:1"`
	Position    int          `gorm:"not null;default:0"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (PlanLine) TableName() string { return "plan_lines" }
