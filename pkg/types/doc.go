/*
Package types holds the data model shared across every orchestrator
component: object identity and tiering, catalog entries, migration
jobs and their per-file transfers, bus events, and authenticated
principals.

# Ownership

Each group of types in this package is owned by exactly one component,
named in the type's own doc comment in types.go. Other components read
and copy these values but never mutate another component's struct in
place — a MigrationJob only changes shape inside the Migration Engine,
a CatalogEntry only inside the Object Catalog, and so on. This keeps
the type graph acyclic: nothing here imports another internal package,
so every component can depend on types without depending on each
other.

# Layering

	┌──────────────────────────────────────────────┐
	│              Control API (C9)                 │
	└──────────────────────────────────────────────┘
	     │            │            │            │
	┌────┴───┐  ┌─────┴─────┐ ┌────┴────┐ ┌─────┴─────┐
	│Catalog │  │ Migration │ │Classifier│ │   Auth    │
	│  (C2)  │  │Engine (C6)│ │  (C5)    │ │   (C8)    │
	└────┬───┘  └─────┬─────┘ └────┬────┘ └───────────┘
	     │            │            │
	┌────┴────────────┴────────────┴───┐
	│      Provider Adapter Layer (C1)   │
	└─────────────────────────────────────┘

ObjectRef and Tier flow from the Provider Adapter Layer up through the
Catalog and Classifier. MigrationJob and FileTransfer are produced and
owned entirely by the Migration Engine. Event and EventType are owned
by the Event Bus (C7) and referenced by every component that publishes
onto it. Principal and Role are owned by the Auth/Identity component
(C8) and consumed at the Control API boundary.
*/
package types
