package latch

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSharedLatchesAllowConcurrentReaders(t *testing.T) {
	m := New()
	var concurrent int32
	var maxConcurrent int32
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release := m.AcquireShared(1)
			defer release()
			n := atomic.AddInt32(&concurrent, 1)
			for {
				old := atomic.LoadInt32(&maxConcurrent)
				if n <= old || atomic.CompareAndSwapInt32(&maxConcurrent, old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&concurrent, -1)
		}()
	}
	wg.Wait()
	assert.Greater(t, maxConcurrent, int32(1))
}

func TestExclusiveLatchExcludesReaders(t *testing.T) {
	m := New()
	release := m.AcquireExclusive(2)

	done := make(chan struct{})
	go func() {
		r := m.AcquireShared(2)
		r()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("shared latch acquired while exclusive latch held")
	case <-time.After(20 * time.Millisecond):
	}
	release()
	<-done
}

func TestWaitingWriterBlocksNewReaders(t *testing.T) {
	m := New()
	firstReader := m.AcquireShared(3)

	writerAcquired := make(chan struct{})
	go func() {
		release := m.AcquireExclusive(3)
		close(writerAcquired)
		release()
	}()
	time.Sleep(10 * time.Millisecond) // let the writer start waiting

	newReaderAcquired := make(chan struct{})
	go func() {
		r := m.AcquireShared(3)
		close(newReaderAcquired)
		r()
	}()

	select {
	case <-newReaderAcquired:
		t.Fatal("new reader acquired while writer was waiting")
	case <-time.After(20 * time.Millisecond):
	}

	firstReader()
	<-writerAcquired
	<-newReaderAcquired
}

func TestResetClearsTrackedLatches(t *testing.T) {
	m := New()
	release := m.AcquireShared(9)
	release()
	m.Reset()
	assert.Empty(t, m.latches)
}
