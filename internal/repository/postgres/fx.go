package postgres

import (
	"github.com/Conte777/tgvault/internal/domain/resolver"
	"github.com/Conte777/tgvault/internal/infrastructure/cache"
	"go.uber.org/fx"
)

// Module provides the channel and user repositories and the lookups built on them
var Module = fx.Module("repositories",
	fx.Provide(
		NewChannelRepository,
		NewUserRepository,
		func(r *ChannelRepository) cache.CheckpointSource { return r },
		func(r *UserRepository) resolver.HintSource { return r },
	),
)
