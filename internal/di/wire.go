//go:build wireinject
// +build wireinject

package di

import (
	"SignalDesk/pkg/config"
	"SignalDesk/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Ambient
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideRedisCache,
		ProvideClickHouseClient,
		ProvideMarkFeed,

		// Signals
		ProvidePriceSource,
		ProvideSignalBuilder,
		ProvideSignalEngine,
		ProvideSignalCache,
		ProvideSignalService,
		ProvideSignalPoller,

		// Ledger and strategies
		ProvideLedgerView,
		ProvideStrategyService,
		ProvideKafkaConsumer,

		// Transport
		ProvideHTTPServer,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
