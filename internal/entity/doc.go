// Package entity provides the entity registry for the Gray Logic Hub.
//
// Every entity an integration exposes (a Kodi media player, a devolo
// diagnostic sensor) is recorded here once, keyed by its platform and the
// platform's unique id. The registry assigns the entity id, remembers whether
// the entity is disabled and survives restarts through SQLite.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────────┐
//	│                       Entity Registry                        │
//	│                                                              │
//	│  ┌──────────────────┐          ┌──────────────────┐          │
//	│  │     Registry     │─────────▶│    Repository    │          │
//	│  │  (registry.go)   │          │ (repository.go)  │          │
//	│  │ • id assignment  │          │ • SQLite queries │          │
//	│  │ • ordered cache  │          └──────────────────┘          │
//	│  │ • update events  │                                        │
//	│  └──────────────────┘                                        │
//	└───────────│──────────────────────────────────────────────────┘
//	            ▼
//	   entity_registry_updated on the event bus
//
// # Usage
//
//	repo := entity.NewSQLiteRepository(db)
//	reg := entity.NewRegistry(repo, events)
//	if err := reg.Load(ctx); err != nil {
//	    return err
//	}
//
//	e, err := reg.GetOrCreate(ctx, entity.Registration{
//	    Domain:         "binary_sensor",
//	    Platform:       "devolo_home_network",
//	    UniqueID:       "1234567890_connected_to_router",
//	    DisabledBy:     entity.DisabledByIntegration,
//	    EntityCategory: entity.CategoryDiagnostic,
//	})
//
// # Thread Safety
//
// All Registry methods are safe for concurrent use. Returned entries are
// values; mutating them does not affect the registry.
package entity
