// Package app composes the marketpulse application.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, wiring, and lifecycle
//	├── domain/market/      # Market status and gainer models
//	├── services/market/    # Market service and cache refresher
//	├── storage/            # Cache and archive interfaces
//	│   ├── memory/         # In-process cache and archive
//	│   ├── rediscache/     # Shared Redis cache
//	│   └── postgres/       # PostgreSQL snapshot archive
//	├── httpapi/            # HTTP routes and handlers
//	├── system/             # Service lifecycle manager
//	└── metrics/            # Prometheus collectors
//
// # Dependency Direction
//
//	cmd/marketpulse/
//	      │
//	      ▼
//	internal/app/ (composition)
//	      │
//	      ├──► internal/app/services/market (business logic)
//	      │           │
//	      │           └──► internal/app/storage (interfaces only)
//	      │
//	      ├──► internal/polygon (upstream client)
//	      │
//	      └──► internal/app/storage/{memory,rediscache,postgres}
//
// Nil fields in Options fall back to the backends selected by configuration:
// the in-memory cache unless REDIS_URL is set, and no archive unless
// DATABASE_URL is set.
package app
