package app

import (
	"context"
	"fmt"

	"github.com/R3E-Network/liquidity_layer/internal/app/messaging/local"
	aggregatorsvc "github.com/R3E-Network/liquidity_layer/internal/app/services/aggregator"
	gasbanksvc "github.com/R3E-Network/liquidity_layer/internal/app/services/gasbank"
	peerssvc "github.com/R3E-Network/liquidity_layer/internal/app/services/peers"
	"github.com/R3E-Network/liquidity_layer/internal/app/storage"
	"github.com/R3E-Network/liquidity_layer/internal/app/storage/memory"
	"github.com/R3E-Network/liquidity_layer/internal/app/system"
	"github.com/R3E-Network/liquidity_layer/internal/app/vault"
	"github.com/R3E-Network/liquidity_layer/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Requests storage.RequestStore
	Peers    storage.PeerStore
	GasBank  storage.GasBankStore
}

// Deps carries the domain identity and the external adapters of the
// coordinator. A nil Gateway falls back to an in-process loopback router with
// only the local coordinator registered, which suits single-domain
// development. A nil Vault falls back to the in-memory vault.
type Deps struct {
	Domain  string
	Address string
	Gateway aggregatorsvc.Gateway
	Escrow  aggregatorsvc.Escrow
	Vault   aggregatorsvc.TokenVault
}

// Application ties the coordinator services together and manages their
// lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Aggregator *aggregatorsvc.Service
	Peers      *peerssvc.Service
	GasBank    *gasbanksvc.Service
	Vault      aggregatorsvc.TokenVault
}

// New builds a fully initialised application with the provided stores and
// adapters.
func New(stores Stores, deps Deps, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}
	if deps.Domain == "" {
		return nil, fmt.Errorf("local domain is required")
	}

	mem := memory.New()
	if stores.Requests == nil {
		stores.Requests = mem
	}
	if stores.Peers == nil {
		stores.Peers = mem
	}
	if stores.GasBank == nil {
		stores.GasBank = mem
	}

	if deps.Vault == nil {
		deps.Vault = vault.NewMemory(log)
	}

	manager := system.NewManager()

	peerService := peerssvc.New(deps.Domain, stores.Peers, log)
	gasService := gasbanksvc.New(stores.GasBank, log)

	gateway := deps.Gateway
	aggService := aggregatorsvc.New(deps.Domain, stores.Requests, stores.Peers, gateway, deps.Vault, log)
	if gateway == nil {
		log.Warn("no gateway configured; using in-process loopback router")
		router := local.New(0, log)
		router.Register(deps.Domain, deps.Address, aggService)
		gateway = router.Gateway(deps.Domain)
		aggService = aggregatorsvc.New(deps.Domain, stores.Requests, stores.Peers, gateway, deps.Vault, log)
	}
	aggService.AttachFeePayer(gasService)
	if deps.Escrow != nil {
		aggService.AttachEscrow(deps.Escrow)
	} else {
		log.Warn("no escrow configured; fulfilled items will not be released")
	}

	for _, name := range []string{"aggregator", "peers", "gasbank"} {
		if err := manager.Register(system.NoopService{ServiceName: name}); err != nil {
			return nil, fmt.Errorf("register %s service: %w", name, err)
		}
	}

	reconciler := aggregatorsvc.NewReconciler(stores.Requests, log)
	if err := manager.Register(reconciler); err != nil {
		return nil, fmt.Errorf("register %s: %w", reconciler.Name(), err)
	}

	return &Application{
		manager:    manager,
		log:        log,
		Aggregator: aggService,
		Peers:      peerService,
		GasBank:    gasService,
		Vault:      deps.Vault,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
