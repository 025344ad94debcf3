package di_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	di "github.com/navios-org/navios-di"
	"github.com/navios-org/navios-di/mock"
)

type ConcurrentTestSuite struct {
	suite.Suite
	registry  *di.Registry
	container *di.Container
}

func (s *ConcurrentTestSuite) SetupTest() {
	s.registry = di.NewRegistry(nil)
	s.container = di.New(s.registry)
}

func (s *ConcurrentTestSuite) TearDownTest() {
	s.NoError(s.container.Close(context.Background()))
}

func (s *ConcurrentTestSuite) TestConcurrentSingletonBuildsOnce() {
	var created atomic.Int32
	s.container.Bus().Subscribe(di.TopicCreated, func(di.Event) error {
		created.Add(1)
		return nil
	})
	s.registry.Set(mock.Database, di.ScopeSingleton, func(cc *di.ConstructionContext) (any, error) {
		time.Sleep(10 * time.Millisecond)
		return &mock.DB{DSN: "memory://shared", Connected: true}, nil
	}, 0)

	const workers = 64
	results := make([]*mock.DB, workers)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			defer wg.Done()
			db, err := di.Resolve[*mock.DB](context.Background(), s.container, mock.Database)
			s.NoError(err)
			results[i] = db
		}(i)
	}
	wg.Wait()

	for i := 1; i < workers; i++ {
		s.Same(results[0], results[i])
	}
	s.Equal(int32(1), created.Load(), "concurrent callers collapse onto one construction")
}

func (s *ConcurrentTestSuite) TestConcurrentTransientsAreDistinct() {
	s.registry.Set(mock.Database, di.ScopeTransient, mock.DBFactory, 0)

	const workers = 32
	results := make([]*mock.DB, workers)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			defer wg.Done()
			db, err := di.Resolve[*mock.DB](context.Background(), s.container, mock.Database)
			s.NoError(err)
			results[i] = db
		}(i)
	}
	wg.Wait()

	distinct := make(map[*mock.DB]struct{}, workers)
	for _, db := range results {
		s.NotNil(db)
		distinct[db] = struct{}{}
	}
	s.Len(distinct, workers)
}

func (s *ConcurrentTestSuite) TestConcurrentFailuresShareOneError() {
	s.registry.Set(mock.Database, di.ScopeSingleton, func(cc *di.ConstructionContext) (any, error) {
		time.Sleep(10 * time.Millisecond)
		return nil, mock.ErrBroken
	}, 0)

	const workers = 16
	errs := make([]error, workers)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.container.Get(context.Background(), mock.Database)
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		s.ErrorIs(errs[i], mock.ErrBroken)
		s.Same(errs[0], errs[i], "every waiter observes the same settled error")
	}
}

func (s *ConcurrentTestSuite) TestWaiterContextCancellation() {
	release := make(chan struct{})
	s.registry.Set(mock.Database, di.ScopeSingleton, func(cc *di.ConstructionContext) (any, error) {
		<-release
		return &mock.DB{Connected: true}, nil
	}, 0)

	go func() {
		_, _ = s.container.Get(context.Background(), mock.Database)
	}()
	// Let the builder claim the holder before the waiter arrives.
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.container.Get(ctx, mock.Database)
	s.ErrorIs(err, context.DeadlineExceeded)

	close(release)
	db, err := di.Resolve[*mock.DB](context.Background(), s.container, mock.Database)
	s.NoError(err)
	s.True(db.Connected)
}

func TestConcurrentTestSuite(t *testing.T) {
	suite.Run(t, new(ConcurrentTestSuite))
}
