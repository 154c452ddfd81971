// Package fixtures provides test data factories for sect stores.
//
// # Factory Pattern
//
// Create a factory over any store (memory, SQLite or SurrealDB):
//
//	f := fixtures.New(store)
//
// # Creating Test Data
//
//	sect := f.CreateSect(t, "leader")
//	f.AddMember(t, sect, "member-1")
//	f.SetBuilding(t, sect, model.BuildingSpiritField, 2)
//	f.SummonRaid(t, sect, "2024-01-08", 10_000)
//
// # Customization
//
//	sect := f.CreateSect(t, "leader",
//		fixtures.WithSectName("Jade Peak"),
//		fixtures.WithBuilding(model.BuildingLibrary, 3))
package fixtures
