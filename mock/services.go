// Package mock provides shared service fixtures for the di test suites.
package mock

import (
	"context"
	"errors"
	"sync/atomic"

	di "github.com/navios-org/navios-di"
)

// Tokens shared across suites.
var (
	Database   = di.NewToken("database")
	Repository = di.NewToken("repository")
	Session    = di.NewToken("session")
	Settings   = di.NewToken("settings", di.WithSchema("required,min=2"))
)

// DB is a leaf service tracking its lifecycle.
type DB struct {
	DSN           string
	Connected     bool
	ShutdownCalls atomic.Int32
}

// Shutdown implements di.Shutdowner.
func (d *DB) Shutdown(context.Context) error {
	d.Connected = false
	d.ShutdownCalls.Add(1)
	return nil
}

// DBFactory builds connected DB instances. An optional DSN argument is
// honored when present.
func DBFactory(cc *di.ConstructionContext) (any, error) {
	return &DB{DSN: "memory://test", Connected: true}, nil
}

// Repo depends on DB through a synchronous injection.
type Repo struct {
	DB *DB
}

// RepoFactory wires Repo onto the Database token.
func RepoFactory(cc *di.ConstructionContext) (any, error) {
	r := &Repo{}
	r.DB = di.Inject[*DB](cc, Database)
	return r, nil
}

// Counter is the canonical request-scoped fixture.
type Counter struct {
	RequestID string
	N         atomic.Int64
}

// CounterFactory captures the owning request's id.
func CounterFactory(cc *di.ConstructionContext) (any, error) {
	c := &Counter{}
	if req := cc.Request(); req != nil {
		c.RequestID = req.RequestID()
	}
	return c, nil
}

// ErrBroken is the failure injected by FailingFactory.
var ErrBroken = errors.New("simulated construction failure")

// FailingFactory always fails.
func FailingFactory(*di.ConstructionContext) (any, error) {
	return nil, ErrBroken
}

// Ring services form a circular graph broken by an async injection:
// RingA sync-injects RingB, RingB async-injects RingA.
var (
	RingAToken = di.NewToken("ring-a")
	RingBToken = di.NewToken("ring-b")
)

type RingA struct {
	B *RingB
}

type RingB struct {
	A *di.Async[*RingA]
}

func RingAFactory(cc *di.ConstructionContext) (any, error) {
	a := &RingA{}
	a.B = di.Inject[*RingB](cc, RingBToken)
	return a, nil
}

func RingBFactory(cc *di.ConstructionContext) (any, error) {
	b := &RingB{}
	b.A = di.AsyncInject[*RingA](cc, RingAToken)
	return b, nil
}
