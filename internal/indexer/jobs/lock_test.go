package jobs

import (
	"net/http"
	"sync"
	"sync/atomic"
	"testing"

	apperrors "github.com/Adithya-Monish-Kumar-K/wiki-search/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLock_ExclusivePerKind(t *testing.T) {
	l := NewLock()

	release, err := l.TryAcquire(KindRebuildIndex)
	require.NoError(t, err)
	assert.True(t, l.Running(KindRebuildIndex))

	_, err = l.TryAcquire(KindRebuildIndex)
	require.ErrorIs(t, err, apperrors.ErrJobRunning)
	assert.Equal(t, http.StatusConflict, apperrors.HTTPStatusCode(err))

	exportRelease, err := l.TryAcquire(KindExport)
	require.NoError(t, err, "different kinds do not conflict")
	exportRelease()

	release()
	release()
	assert.False(t, l.Running(KindRebuildIndex))

	again, err := l.TryAcquire(KindRebuildIndex)
	require.NoError(t, err)
	again()
}

func TestLock_ConcurrentAcquireHasOneWinner(t *testing.T) {
	l := NewLock()
	var wins atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := l.TryAcquire(KindRebuildIndex); err == nil {
				wins.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()
	assert.EqualValues(t, 1, wins.Load())
}

func TestLock_Status(t *testing.T) {
	l := NewLock()
	assert.Empty(t, l.Status())

	r1, _ := l.TryAcquire(KindRebuildIndex)
	r2, _ := l.TryAcquire(KindExport)
	defer r1()
	defer r2()

	status := l.Status()
	require.Len(t, status, 2)
	assert.Equal(t, KindExport, status[0].Kind)
	assert.Equal(t, KindRebuildIndex, status[1].Kind)
}
