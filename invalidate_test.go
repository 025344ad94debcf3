package di_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	di "github.com/navios-org/navios-di"
	"github.com/navios-org/navios-di/mock"
)

type InvalidateTestSuite struct {
	suite.Suite
	registry  *di.Registry
	container *di.Container
}

func (s *InvalidateTestSuite) SetupTest() {
	s.registry = di.NewRegistry(nil)
	s.container = di.New(s.registry)
}

func (s *InvalidateTestSuite) TearDownTest() {
	s.NoError(s.container.Close(context.Background()))
}

func (s *InvalidateTestSuite) TestInvalidateByInstance() {
	s.registry.Set(mock.Database, di.ScopeSingleton, mock.DBFactory, 0)

	first, err := di.Resolve[*mock.DB](context.Background(), s.container, mock.Database)
	s.NoError(err)
	s.NoError(s.container.Invalidate(context.Background(), first))
	s.Equal(int32(1), first.ShutdownCalls.Load())

	second, err := di.Resolve[*mock.DB](context.Background(), s.container, mock.Database)
	s.NoError(err)
	s.NotSame(first, second, "resolution after invalidation constructs anew")
}

func (s *InvalidateTestSuite) TestInvalidateByName() {
	s.registry.Set(mock.Database, di.ScopeSingleton, mock.DBFactory, 0)
	db, err := di.Resolve[*mock.DB](context.Background(), s.container, mock.Database)
	s.NoError(err)

	infos := s.container.Snapshot()
	s.Require().Len(infos, 1)
	s.NoError(s.container.Invalidate(context.Background(), infos[0].Instance))
	s.Equal(int32(1), db.ShutdownCalls.Load())
}

func (s *InvalidateTestSuite) TestInvalidateStringInstanceByIdentity() {
	tok := di.NewToken("banner")
	s.registry.Set(tok, di.ScopeSingleton, func(cc *di.ConstructionContext) (any, error) {
		return "welcome to navios", nil
	}, 0)

	got, err := s.container.Get(context.Background(), tok)
	s.NoError(err)
	s.Equal("welcome to navios", got)

	// The string matches no holder name, so identity lookup takes over.
	s.NoError(s.container.Invalidate(context.Background(), "welcome to navios"))
	_, ok := s.container.TryGetSync(tok)
	s.False(ok)
}

func (s *InvalidateTestSuite) TestInvalidateUnknownTarget() {
	err := s.container.Invalidate(context.Background(), "no-such-instance")
	var unknown *di.UnknownInstanceError
	s.ErrorAs(err, &unknown)

	err = s.container.Invalidate(context.Background(), &mock.DB{})
	s.ErrorAs(err, &unknown)
}

func (s *InvalidateTestSuite) TestCascadeReachesDependents() {
	s.registry.Set(mock.Database, di.ScopeSingleton, mock.DBFactory, 0)
	s.registry.Set(mock.Repository, di.ScopeSingleton, mock.RepoFactory, 0)

	repo, err := di.Resolve[*mock.Repo](context.Background(), s.container, mock.Repository)
	s.NoError(err)

	var destroyed []string
	s.container.Bus().Subscribe(di.TopicDestroyed, func(ev di.Event) error {
		destroyed = append(destroyed, ev.Instance)
		return nil
	})

	s.NoError(s.container.Invalidate(context.Background(), repo.DB))
	s.Len(destroyed, 2, "the dependent repository is destroyed with its database")

	fresh, err := di.Resolve[*mock.Repo](context.Background(), s.container, mock.Repository)
	s.NoError(err)
	s.NotSame(repo, fresh)
	s.NotSame(repo.DB, fresh.DB)
}

func (s *InvalidateTestSuite) TestCascadeStopsAtUnrelatedHolders() {
	other := di.NewToken("unrelated")
	s.registry.Set(mock.Database, di.ScopeSingleton, mock.DBFactory, 0)
	s.registry.Set(other, di.ScopeSingleton, func(cc *di.ConstructionContext) (any, error) {
		return &mock.DB{DSN: "other", Connected: true}, nil
	}, 0)

	db, err := di.Resolve[*mock.DB](context.Background(), s.container, mock.Database)
	s.NoError(err)
	bystander, err := di.Resolve[*mock.DB](context.Background(), s.container, other)
	s.NoError(err)

	s.NoError(s.container.Invalidate(context.Background(), db))

	cached, ok := s.container.TryGetSync(other)
	s.True(ok)
	s.Same(bystander, cached)
}

func (s *InvalidateTestSuite) TestCascadeRoundBudget() {
	// A four-deep chain cannot settle in two rounds.
	c1 := di.NewToken("chain-1")
	c2 := di.NewToken("chain-2")
	c3 := di.NewToken("chain-3")
	c4 := di.NewToken("chain-4")
	type link struct{ Prev any }
	s.registry.Set(c1, di.ScopeSingleton, func(cc *di.ConstructionContext) (any, error) {
		return &link{}, nil
	}, 0)
	for _, pair := range []struct {
		tok  *di.Token
		prev *di.Token
	}{{c2, c1}, {c3, c2}, {c4, c3}} {
		prev := pair.prev
		s.registry.Set(pair.tok, di.ScopeSingleton, func(cc *di.ConstructionContext) (any, error) {
			return &link{Prev: di.Inject[*link](cc, prev)}, nil
		}, 0)
	}

	limited := di.New(s.registry, di.WithCascadeRounds(2))
	defer limited.Close(context.Background())

	head, err := di.Resolve[*link](context.Background(), limited, c1)
	s.NoError(err)
	_, err = limited.Get(context.Background(), c4)
	s.NoError(err)

	err = limited.Invalidate(context.Background(), head)
	var nc *di.CascadeNotConvergedError
	s.ErrorAs(err, &nc)
}

func (s *InvalidateTestSuite) TestTransientParticipatesInCascade() {
	s.registry.Set(mock.Database, di.ScopeSingleton, mock.DBFactory, 0)
	s.registry.Set(mock.Repository, di.ScopeTransient, mock.RepoFactory, 0)

	first, err := di.Resolve[*mock.Repo](context.Background(), s.container, mock.Repository)
	s.NoError(err)
	second, err := di.Resolve[*mock.Repo](context.Background(), s.container, mock.Repository)
	s.NoError(err)
	s.NotSame(first, second)
	s.Same(first.DB, second.DB)

	var destroyed int
	s.container.Bus().Subscribe(di.TopicDestroyed, func(di.Event) error {
		destroyed++
		return nil
	})

	s.NoError(s.container.Invalidate(context.Background(), first.DB))
	s.Equal(3, destroyed, "both transient dependents fall with the shared database")
}

func TestInvalidateTestSuite(t *testing.T) {
	suite.Run(t, new(InvalidateTestSuite))
}
