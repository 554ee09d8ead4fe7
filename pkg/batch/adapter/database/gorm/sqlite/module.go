package sqlite

import (
	"go.uber.org/fx"

	"github.com/tigerroll/riskbatch/pkg/batch/adapter/database"
)

// Module contributes the SQLite DBProvider to the db_providers group.
var Module = fx.Options(
	fx.Provide(
		fx.Annotate(
			NewProvider,
			fx.ResultTags(`group:"`+database.DBProviderGroup+`"`),
		),
	),
)
