// Package di provides a token-based dependency injection runtime.
//
// Services are identified by tokens rather than concrete types, registered in
// a Registry with a scope (singleton, transient, request or instance), and
// resolved through a Container. Construction follows a two-pass protocol:
// factories run once in a recording pass where every Inject call registers a
// dependency request, the container resolves all requests, and the factory
// runs a second time in a frozen replay pass where each Inject call returns
// the resolved value in the originally recorded order.
//
// Factories must be side-effect free apart from field assignment: the factory
// body runs twice, and values returned by Inject during the recording pass are
// pending placeholders that must only be assigned, never dereferenced.
//
//	var Database = di.NewToken("database")
//	var Repo = di.NewToken("repo")
//
//	registry := di.NewRegistry(nil)
//	registry.Set(Database, di.ScopeSingleton, newDatabase, 0)
//	registry.Set(Repo, di.ScopeSingleton, func(cc *di.ConstructionContext) (any, error) {
//		r := &UserRepo{}
//		r.db = di.Inject[*DB](cc, Database)
//		return r, nil
//	}, 0)
//
//	container := di.New(registry)
//	repo, err := di.Resolve[*UserRepo](ctx, container, Repo)
//
// Request-scoped services are resolved through a ScopedContainer obtained from
// Container.BeginRequest; ending the request tears down every request-scoped
// instance and cascades invalidation to anything that depended on one.
package di
