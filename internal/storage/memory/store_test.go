package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/forgo/sect/internal/model"
	"github.com/forgo/sect/internal/storage/storetest"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Store { return New() })
}

func TestGetSect_ReturnsCopy(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	sectID := "sect:1"
	s.sects[sectID] = copySect(&model.Sect{ID: sectID, Name: "Original"})

	got, _ := s.GetSect(ctx, sectID)
	got.Name = "Mutated"

	again, _ := s.GetSect(ctx, sectID)
	assert.Equal(t, "Original", again.Name)
}

func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	t.Parallel()
	k := newKeyedMutex()

	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("same")
			defer unlock()
			v := counter
			time.Sleep(time.Microsecond)
			counter = v + 1
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
	assert.Empty(t, k.locks, "released keys are forgotten")
}

func TestKeyedMutex_DifferentKeysDoNotBlock(t *testing.T) {
	t.Parallel()
	k := newKeyedMutex()
	unlockA := k.Lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := k.Lock("b")
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on a different key blocked")
	}
}
