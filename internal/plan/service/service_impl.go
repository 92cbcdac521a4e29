package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/invora/internal/clock"
	"github.com/smallbiznis/invora/internal/orgcontext"
	plandomain "github.com/smallbiznis/invora/internal/plan/domain"
	"github.com/smallbiznis/invora/pkg/db/option"
	"github.com/smallbiznis/invora/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID    *snowflake.Node
	clock    clock.Clock
	planrepo repository.Repository[plandomain.Plan]
}

func NewService(p ServiceParam) plandomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("plan.service"),

		genID:    p.GenID,
		clock:    p.Clock,
		planrepo: repository.ProvideStore[plandomain.Plan](p.DB),
	}
}

func (s *Service) Create(ctx context.Context, req plandomain.CreatePlanRequest) (plandomain.Plan, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return plandomain.Plan{}, plandomain.ErrInvalidOrganization
	}
	if len(req.Lines) == 0 {
		return plandomain.Plan{}, plandomain.ErrInvalidLines
	}

	now := s.clock.Now()
	plan := plandomain.Plan{
		ID:        s.genID.Generate(),
		OrgID:     orgID,
		Code:      strings.TrimSpace(req.Code),
		Version:   1,
		Name:      strings.TrimSpace(req.Name),
		Cadence:   req.Cadence,
		Currency:  strings.ToUpper(strings.TrimSpace(req.Currency)),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := plan.Validate(); err != nil {
		return plandomain.Plan{}, err
	}

	lines, err := s.buildLines(orgID, plan.ID, req.Lines, now)
	if err != nil {
		return plandomain.Plan{}, err
	}

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&plan).Error; err != nil {
			return err
		}
		return tx.Create(&lines).Error
	}); err != nil {
		return plandomain.Plan{}, err
	}

	plan.Lines = lines
	return plan, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (plandomain.Plan, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return plandomain.Plan{}, plandomain.ErrInvalidOrganization
	}

	planID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return plandomain.Plan{}, plandomain.ErrInvalidPlan
	}

	plan, err := s.planrepo.FindOne(ctx,
		&plandomain.Plan{ID: planID, OrgID: orgID},
		option.WithPreload("Lines"),
	)
	if err != nil {
		return plandomain.Plan{}, err
	}
	if plan == nil {
		return plandomain.Plan{}, plandomain.ErrPlanNotFound
	}
	return *plan, nil
}

// Supersede copies the plan into version n+1 with new lines. The
// referenced version stays untouched so issued invoices keep pointing
// at the exact prices they were generated from.
func (s *Service) Supersede(ctx context.Context, planID string, lineReqs []plandomain.CreatePlanLineRequest) (plandomain.Plan, error) {
	current, err := s.GetByID(ctx, planID)
	if err != nil {
		return plandomain.Plan{}, err
	}
	if len(lineReqs) == 0 {
		return plandomain.Plan{}, plandomain.ErrInvalidLines
	}

	now := s.clock.Now()
	next := plandomain.Plan{
		ID:        s.genID.Generate(),
		OrgID:     current.OrgID,
		Code:      current.Code,
		Version:   current.Version + 1,
		Name:      current.Name,
		Cadence:   current.Cadence,
		Currency:  current.Currency,
		CreatedAt: now,
		UpdatedAt: now,
	}

	lines, err := s.buildLines(current.OrgID, next.ID, lineReqs, now)
	if err != nil {
		return plandomain.Plan{}, err
	}

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&next).Error; err != nil {
			return err
		}
		return tx.Create(&lines).Error
	}); err != nil {
		return plandomain.Plan{}, err
	}

	next.Lines = lines
	return next, nil
}

func (s *Service) buildLines(orgID, planID snowflake.ID, reqs []plandomain.CreatePlanLineRequest, now time.Time) ([]plandomain.PlanLine, error) {
	lines := make([]plandomain.PlanLine, 0, len(reqs))
	for i, req := range reqs {
		productID, err := snowflake.ParseString(strings.TrimSpace(req.ProductID))
		if err != nil || productID == 0 {
			return nil, plandomain.ErrInvalidLines
		}
		if req.UnitAmount < 0 || req.Quantity <= 0 {
			return nil, plandomain.ErrInvalidLines
		}
		lines = append(lines, plandomain.PlanLine{
			ID:          s.genID.Generate(),
			OrgID:       orgID,
			PlanID:      planID,
			ProductID:   productID,
			Description: strings.TrimSpace(req.Description),
			UnitAmount:  req.UnitAmount,
			Quantity:    req.Quantity,
			Position:    i,
			CreatedAt:   now,
		})
	}
	return lines, nil
}
