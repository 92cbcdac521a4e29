package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	customerdomain "github.com/smallbiznis/invora/internal/customer/domain"
	"github.com/smallbiznis/invora/internal/orgcontext"
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
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID        *snowflake.Node
	customerRepo repository.Repository[customerdomain.Customer]
}

func NewService(p ServiceParam) customerdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("customer.service"),

		genID:        p.GenID,
		customerRepo: repository.ProvideStore[customerdomain.Customer](p.DB),
	}
}

func (s *Service) Create(ctx context.Context, req customerdomain.CreateCustomerRequest) (customerdomain.Customer, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return customerdomain.Customer{}, err
	}

	name := strings.TrimSpace(req.Name)
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if name == "" || email == "" {
		return customerdomain.Customer{}, customerdomain.ErrInvalidCustomer
	}

	customer := customerdomain.Customer{
		ID:       s.genID.Generate(),
		OrgID:    orgID,
		Name:     name,
		Email:    email,
		Currency: strings.ToUpper(strings.TrimSpace(req.Currency)),
	}
	if err := s.customerRepo.Create(ctx, &customer); err != nil {
		return customerdomain.Customer{}, err
	}
	return customer, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (customerdomain.Customer, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return customerdomain.Customer{}, err
	}

	customerID, err := snowflake.ParseString(id)
	if err != nil {
		return customerdomain.Customer{}, customerdomain.ErrInvalidCustomer
	}

	customer, err := s.customerRepo.FindOne(ctx, &customerdomain.Customer{ID: customerID, OrgID: orgID})
	if err != nil {
		return customerdomain.Customer{}, err
	}
	if customer == nil {
		return customerdomain.Customer{}, customerdomain.ErrCustomerNotFound
	}
	return *customer, nil
}

func (s *Service) ListByOrg(ctx context.Context) ([]customerdomain.Customer, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	items, err := s.customerRepo.Find(ctx, &customerdomain.Customer{OrgID: orgID})
	if err != nil {
		return nil, err
	}
	customers := make([]customerdomain.Customer, 0, len(items))
	for _, item := range items {
		customers = append(customers, *item)
	}
	return customers, nil
}

func (s *Service) orgIDFromContext(ctx context.Context) (snowflake.ID, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return 0, customerdomain.ErrInvalidOrganization
	}
	return orgID, nil
}
