// Package app composes the contactbook services into a running application.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, wiring, and lifecycle
//	├── domain/             # Domain models (pure data structures)
//	│   ├── user/           # Account owners
//	│   └── contact/        # Address book entries and birthday math
//	├── storage/            # Storage interfaces and implementations
//	│   ├── interfaces.go   # UserStore, ContactStore, Pinger
//	│   ├── memory/         # In-memory implementation for tests and demos
//	│   └── postgres/       # PostgreSQL implementation for production
//	├── services/           # Business logic (auth, users, contacts, mail, ...)
//	├── httpapi/            # HTTP routing and handlers
//	├── runtime/            # Process wiring from configuration
//	├── system/             # Lifecycle management
//	└── metrics/            # Prometheus collectors
//
// # Dependency Direction
//
//	cmd/contactbook/
//	      │
//	      ▼
//	internal/app/runtime (configuration, drivers, HTTP server)
//	      │
//	      ├──► internal/app/httpapi (transport)
//	      │
//	      └──► internal/app (composition)
//	                  │
//	                  ├──► internal/app/services/* (business logic)
//	                  │
//	                  └──► internal/app/storage/* (persistence)
//
// Background work (mail delivery, scheduled jobs) is registered with a
// system.Manager so it starts with the application and stops in reverse
// order on shutdown.
package app
