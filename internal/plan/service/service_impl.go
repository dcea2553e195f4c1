package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/walue/internal/clock"
	"github.com/smallbiznis/walue/internal/plan/catalog"
	"github.com/smallbiznis/walue/internal/plan/domain"
	"github.com/smallbiznis/walue/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("plan.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreatePlanRequest) (domain.Plan, error) {
	plan, err := domain.NewPlan(
		s.genID.Generate(),
		req.Name,
		req.BaseFee,
		req.CallMarkupPercentage,
		req.MessageMarkupPercentage,
		req.Features,
		s.clock.Now(),
	)
	if err != nil {
		return domain.Plan{}, err
	}

	existing, err := s.repo.FindByCode(ctx, s.db, plan.Code)
	if err != nil {
		return domain.Plan{}, err
	}
	if existing != nil {
		return domain.Plan{}, domain.ErrCodeTaken
	}

	if err := s.repo.Insert(ctx, s.db, &plan); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.Plan{}, domain.ErrCodeTaken
		}
		return domain.Plan{}, err
	}

	s.log.Info("plan created", zap.String("plan_id", plan.ID.String()), zap.String("code", plan.Code))
	return plan, nil
}

func (s *Service) Update(ctx context.Context, req domain.UpdatePlanRequest) (domain.Plan, error) {
	current, err := s.load(ctx, req.ID)
	if err != nil {
		return domain.Plan{}, err
	}

	name := current.Name
	if req.Name != nil {
		name = *req.Name
	}
	baseFee := current.BaseFee
	if req.BaseFee != nil {
		baseFee = *req.BaseFee
	}
	callMarkup := current.CallMarkupPercentage
	if req.CallMarkupPercentage != nil {
		callMarkup = *req.CallMarkupPercentage
	}
	messageMarkup := current.MessageMarkupPercentage
	if req.MessageMarkupPercentage != nil {
		messageMarkup = *req.MessageMarkupPercentage
	}
	features := []string(current.Features)
	if req.Features != nil {
		features = req.Features
	}

	updated, err := domain.NewPlan(current.ID, name, baseFee, callMarkup, messageMarkup, features, s.clock.Now())
	if err != nil {
		return domain.Plan{}, err
	}
	updated.CreatedAt = current.CreatedAt

	if updated.Code != current.Code {
		other, err := s.repo.FindByCode(ctx, s.db, updated.Code)
		if err != nil {
			return domain.Plan{}, err
		}
		if other != nil {
			return domain.Plan{}, domain.ErrCodeTaken
		}
	}

	if err := s.repo.Update(ctx, s.db, &updated); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.Plan{}, domain.ErrCodeTaken
		}
		return domain.Plan{}, err
	}
	return updated, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	plan, err := s.load(ctx, id)
	if err != nil {
		return err
	}

	count, err := s.repo.CountTenants(ctx, s.db, plan.ID)
	if err != nil {
		return err
	}
	if count > 0 {
		return domain.ErrPlanInUse
	}
	return s.repo.Delete(ctx, s.db, plan.ID)
}

func (s *Service) Get(ctx context.Context, id string) (domain.Plan, error) {
	plan, err := s.load(ctx, id)
	if err != nil {
		return domain.Plan{}, err
	}
	return *plan, nil
}

func (s *Service) GetByCode(ctx context.Context, code string) (domain.Plan, error) {
	plan, err := s.repo.FindByCode(ctx, s.db, strings.ToLower(strings.TrimSpace(code)))
	if err != nil {
		return domain.Plan{}, err
	}
	if plan == nil {
		return domain.Plan{}, domain.ErrNotFound
	}
	return *plan, nil
}

func (s *Service) List(ctx context.Context) ([]domain.Plan, error) {
	items, err := s.repo.List(ctx, s.db)
	if err != nil {
		return nil, err
	}
	plans := make([]domain.Plan, 0, len(items))
	for _, item := range items {
		if item != nil {
			plans = append(plans, *item)
		}
	}
	return plans, nil
}

// EnsureCatalog inserts built-in plans whose code is not present yet.
// Existing plans are left untouched so admin edits survive restarts.
func (s *Service) EnsureCatalog(ctx context.Context) error {
	entries, err := catalog.Load()
	if err != nil {
		return err
	}

	for _, entry := range entries {
		_, err := s.Create(ctx, domain.CreatePlanRequest{
			Name:                    entry.Name,
			BaseFee:                 entry.BaseFee,
			CallMarkupPercentage:    entry.CallMarkupPercentage,
			MessageMarkupPercentage: entry.MessageMarkupPercentage,
			Features:                entry.Features,
		})
		switch err {
		case nil, domain.ErrCodeTaken:
		default:
			return err
		}
	}
	return nil
}

func (s *Service) load(ctx context.Context, raw string) (*domain.Plan, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id == 0 {
		return nil, domain.ErrInvalidID
	}
	plan, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, domain.ErrNotFound
	}
	return plan, nil
}
