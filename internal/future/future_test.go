package future

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoResolves(t *testing.T) {
	f := Go(func() (int, error) { return 42, nil })

	v, err := f.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	// Awaiting again returns the same outcome
	v, err = f.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestGoRejects(t *testing.T) {
	boom := errors.New("boom")
	f := Go(func() (string, error) { return "", boom })

	_, err := f.Await(context.Background())
	assert.ErrorIs(t, err, boom)
}

// TestAwaitContextDoesNotCancelWork verifies that abandoning the wait leaves
// the operation running to completion
func TestAwaitContextDoesNotCancelWork(t *testing.T) {
	release := make(chan struct{})
	var finished atomic.Bool
	f := Go(func() (int, error) {
		<-release
		finished.Store(true)
		return 1, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := f.Await(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	v, err := f.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.True(t, finished.Load())
}

func TestResultNonBlocking(t *testing.T) {
	release := make(chan struct{})
	f := Go(func() (int, error) {
		<-release
		return 7, nil
	})

	_, ok, _ := f.Result()
	assert.False(t, ok)

	close(release)
	<-f.Done()
	v, ok, err := f.Result()
	assert.True(t, ok)
	assert.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestResolvedAndRejected(t *testing.T) {
	v, err := Resolved("x").Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "x", v)

	boom := errors.New("boom")
	_, err = Rejected[int](boom).Await(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestThen(t *testing.T) {
	f := Then(Resolved(2), func(v int) (string, error) {
		return string(rune('a' + v)), nil
	})
	v, err := f.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "c", v)

	boom := errors.New("boom")
	called := false
	g := Then(Rejected[int](boom), func(int) (int, error) {
		called = true
		return 0, nil
	})
	_, err = g.Await(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.False(t, called)
}

func TestAll(t *testing.T) {
	vals, err := All(context.Background(), Resolved(1), Resolved(2), Resolved(3))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, vals)

	boom := errors.New("boom")
	_, err = All(context.Background(), Resolved(1), Rejected[int](boom))
	assert.ErrorIs(t, err, boom)
}

func TestOnDone(t *testing.T) {
	got := make(chan int, 1)
	Resolved(5).OnDone(func(v int, err error) {
		got <- v
	})
	select {
	case v := <-got:
		assert.Equal(t, 5, v)
	case <-time.After(time.Second):
		t.Fatal("OnDone callback not invoked")
	}
}

func TestGroupWait(t *testing.T) {
	var g Group
	release := make(chan struct{})
	f := Go(func() (int, error) {
		<-release
		return 0, nil
	})
	g.Track(f.Done())

	waited := make(chan struct{})
	go func() {
		g.Wait()
		close(waited)
	}()

	select {
	case <-waited:
		t.Fatal("Wait returned before tracked future completed")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	select {
	case <-waited:
	case <-time.After(time.Second):
		t.Fatal("Wait did not return")
	}
}

func TestGroupTrackAfterWait(t *testing.T) {
	var g Group
	g.Wait()

	never := make(chan struct{})
	assert.False(t, g.Track(never), "closed group ignores new futures")

	done := make(chan struct{})
	go func() {
		g.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait blocked on a future tracked after close")
	}
}

func TestGroupTrackConcurrentWithWait(t *testing.T) {
	for round := 0; round < 200; round++ {
		var g Group
		var tracked atomic.Int64
		start := make(chan struct{})
		finished := make(chan struct{})

		for i := 0; i < 8; i++ {
			go func() {
				<-start
				for j := 0; j < 10; j++ {
					f := Resolved(j)
					if g.Track(f.Done()) {
						tracked.Add(1)
					}
				}
				finished <- struct{}{}
			}()
		}
		close(start)
		g.Wait()
		for i := 0; i < 8; i++ {
			<-finished
		}
		g.Wait()
		assert.LessOrEqual(t, tracked.Load(), int64(80))
	}
}
