package usecase

import (
	"context"

	"marketplace-billing/internal/domain/model"
)

// PlanUseCase exposes the read-only catalog.
type PlanUseCase struct{}

// NewPlanUseCase constructs a PlanUseCase.
func NewPlanUseCase() *PlanUseCase {
	return &PlanUseCase{}
}

// List returns all plans, or only those of family when it is non-empty.
func (uc *PlanUseCase) List(ctx context.Context, family string) ([]model.Plan, error) {
	all := model.Plans()
	if family == "" {
		return all, nil
	}
	f, err := model.ParsePlanFamily(family)
	if err != nil {
		return nil, err
	}
	out := make([]model.Plan, 0, len(all))
	for _, p := range all {
		if p.Family == f {
			out = append(out, p)
		}
	}
	return out, nil
}

// Get resolves one plan.
func (uc *PlanUseCase) Get(ctx context.Context, family, id string) (model.Plan, error) {
	f, err := model.ParsePlanFamily(family)
	if err != nil {
		return model.Plan{}, err
	}
	return model.LookupPlan(f, model.PlanID(id))
}
