package pricing

import (
	"github.com/smallbiznis/invora/internal/pricing/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("pricing",
	fx.Provide(repository.NewRuleSource),
)
