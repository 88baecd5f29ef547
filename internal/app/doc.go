// Package app composes the liquidity layer coordinator into a running
// application. It wires stores, services, and adapters together and owns the
// application lifecycle. It is NOT a business logic layer - business logic
// belongs in internal/app/services/.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, wiring, and lifecycle
//	├── domain/             # Domain models (pure data structures)
//	│   ├── request/        # Purchase requests, funds, settlement callbacks
//	│   ├── peer/           # Trusted coordinator registry entries
//	│   └── gasbank/        # Gas bank ledger entries
//	├── storage/            # Storage interfaces and implementations
//	│   ├── interfaces.go   # Store interfaces (RequestStore, PeerStore, ...)
//	│   ├── memory/         # In-memory implementation for testing
//	│   └── postgres/       # PostgreSQL implementation for production
//	├── services/           # Business logic
//	│   ├── aggregator/     # Purchase coordination and fund settlement
//	│   ├── peers/          # Peer registry management
//	│   └── gasbank/        # Delivery fee accounting
//	├── messaging/          # Gateway adapters
//	│   ├── local/          # In-process loopback router for simulation
//	│   └── relay/          # HTTP relay client for production
//	├── market/             # Escrow client releasing purchased items
//	├── vault/              # Token balance accounting
//	├── httpapi/            # HTTP API handlers, routing, and middleware
//	├── system/             # Service lifecycle management
//	├── runtime/            # Config loading, server setup, shutdown
//	└── metrics/            # Prometheus collectors
//
// # Responsibilities
//
// The app package is responsible for:
//
//   - Composing services from internal/app/services/ with their dependencies
//   - Defining storage interfaces that services depend on
//   - Providing domain models shared across services
//   - Exposing HTTP API endpoints for external access
//   - Managing application-level concerns (auth, metrics, lifecycle)
//
// # Dependency Direction
//
// The dependency flow is:
//
//	cmd/aggregator/
//	      │
//	      ▼
//	internal/app/runtime/ (config, server, shutdown)
//	      │
//	      ▼
//	internal/app/ (composition)
//	      │
//	      ├──► internal/app/services/ (business logic)
//	      │           │
//	      │           └──► internal/app/storage/ (interfaces only)
//	      │
//	      ├──► internal/app/messaging/ (gateway adapters)
//	      │
//	      └──► internal/app/storage/memory|postgres/ (implementations)
//
// # Example: Adding a New Domain
//
// When adding a new domain (e.g., "refunds"):
//
//  1. Create domain models in internal/app/domain/refunds/
//  2. Add storage interface to internal/app/storage/interfaces.go
//  3. Implement storage in internal/app/storage/postgres/ and memory/
//  4. Create service in internal/app/services/refunds/service.go
//  5. Wire service in internal/app/application.go
//  6. Add HTTP handlers in internal/app/httpapi/handler.go
package app
