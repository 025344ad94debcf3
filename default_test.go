package di_test

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/suite"

	di "github.com/navios-org/navios-di"
	"github.com/navios-org/navios-di/mock"
)

type DefaultTestSuite struct {
	suite.Suite
}

func (s *DefaultTestSuite) TearDownTest() {
	di.Reset()
}

func (s *DefaultTestSuite) TestDefaultIsStable() {
	first := di.Default()
	second := di.Default()
	s.Same(first, second)
	s.Same(first.Registry(), di.DefaultRegistry())
}

func (s *DefaultTestSuite) TestResetDropsState() {
	di.DefaultRegistry().Set(mock.Database, di.ScopeSingleton, mock.DBFactory, 0)
	db, err := di.Resolve[*mock.DB](context.Background(), di.Default(), mock.Database)
	s.NoError(err)
	s.NotNil(db)

	di.Reset()
	_, err = di.Default().Get(context.Background(), mock.Database)
	var nr *di.NotRegisteredError
	s.ErrorAs(err, &nr)
}

func (s *DefaultTestSuite) TestLongArgumentsKeepIdentity() {
	tok := di.NewToken("keyed")
	registry := di.NewRegistry(nil)
	registry.Set(tok, di.ScopeSingleton, func(cc *di.ConstructionContext) (any, error) {
		return &mock.DB{DSN: di.Arg[string](cc, 0), Connected: true}, nil
	}, 0)
	container := di.New(registry)
	defer container.Close(context.Background())

	long := strings.Repeat("x", 512)
	other := strings.Repeat("x", 511) + "y"

	a, err := di.Resolve[*mock.DB](context.Background(), container, tok, long)
	s.NoError(err)
	again, err := di.Resolve[*mock.DB](context.Background(), container, tok, long)
	s.NoError(err)
	b, err := di.Resolve[*mock.DB](context.Background(), container, tok, other)
	s.NoError(err)

	s.Same(a, again, "equal oversized arguments map to one instance")
	s.NotSame(a, b, "distinct oversized arguments stay distinct")
}

func (s *DefaultTestSuite) TestMultibyteArgumentsKeepNamesValid() {
	tok := di.NewToken("keyed-wide")
	registry := di.NewRegistry(nil)
	registry.Set(tok, di.ScopeSingleton, func(cc *di.ConstructionContext) (any, error) {
		return &mock.DB{DSN: di.Arg[string](cc, 0), Connected: true}, nil
	}, 0)
	container := di.New(registry)
	defer container.Close(context.Background())

	wide := strings.Repeat("ü", 256)
	a, err := di.Resolve[*mock.DB](context.Background(), container, tok, wide)
	s.NoError(err)
	again, err := di.Resolve[*mock.DB](context.Background(), container, tok, wide)
	s.NoError(err)
	s.Same(a, again)

	for _, info := range container.Snapshot() {
		s.True(utf8.ValidString(info.Instance), "truncation must not split a rune")
	}
}

func TestDefaultTestSuite(t *testing.T) {
	suite.Run(t, new(DefaultTestSuite))
}
