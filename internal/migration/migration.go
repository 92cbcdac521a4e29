// Package migration keeps the schema usable out of the box for local
// and self-hosted environments. All core billing tables are created
// automatically on startup.
package migration

import (
	"errors"

	"gorm.io/gorm"

	customerdomain "github.com/smallbiznis/invora/internal/customer/domain"
	invoicedomain "github.com/smallbiznis/invora/internal/invoice/domain"
	paymentdomain "github.com/smallbiznis/invora/internal/payment/domain"
	plandomain "github.com/smallbiznis/invora/internal/plan/domain"
	pricingdomain "github.com/smallbiznis/invora/internal/pricing/domain"
	subscriptiondomain "github.com/smallbiznis/invora/internal/subscription/domain"
)

func RunMigrations(db *gorm.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	return db.AutoMigrate(
		&customerdomain.Customer{},
		&plandomain.Plan{},
		&plandomain.PlanLine{},
		&pricingdomain.DiscountRule{},
		&pricingdomain.TaxRule{},
		&subscriptiondomain.Subscription{},
		&invoicedomain.Invoice{},
		&invoicedomain.InvoiceLine{},
		&invoicedomain.NumberSequence{},
		&paymentdomain.Payment{},
	)
}
