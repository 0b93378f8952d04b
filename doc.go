// Package meridian is an embedded object database presented as live,
// observable collections.
//
// A Session opens a single-file store against a declared schema set.
// Objects are reached through live handles that always read the latest
// committed state; collections (Results and List) are lazily resolved
// views that re-evaluate on access. Mutations run inside Session.Write,
// which is atomic: either every change in the closure commits, or none
// do. Committed changes can be observed through subscriptions that
// deliver index-level diffs (insertions, deletions, modifications, and
// moves) in commit order.
//
//	session, err := meridian.Open(meridian.Config{
//		Path: "fleet.meridian",
//		Schema: []meridian.ObjectSchema{{
//			Name: "Car",
//			Properties: []meridian.Property{
//				{Name: "make", Type: meridian.StringType, PrimaryKey: true},
//				{Name: "year", Type: meridian.IntType},
//			},
//		}},
//	})
//	if err != nil { ... }
//	defer session.Close()
//
//	err = session.Write(func() error {
//		_, err := session.Create("Car", map[string]any{"make": "Tesla", "year": 2022})
//		return err
//	})
package meridian
