package utils

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	tomb "gopkg.in/tomb.v2"
)

func TestWorkerPool_RunsEveryTask(t *testing.T) {
	var tb tomb.Tomb
	pool := NewWorkerPool(4, zerolog.Nop())

	var sum atomic.Int64
	pool.Setup(&tb, func(t *tomb.Tomb, task any) error {
		sum.Add(int64(task.(int)))
		return nil
	})
	for i := 1; i <= 200; i++ {
		pool.AddTask(&tb, i)
	}
	pool.Close()

	assert.NoError(t, tb.Wait())
	assert.Equal(t, int64(200*201/2), sum.Load())
}

func TestWorkerPool_ErrorKillsTomb(t *testing.T) {
	var tb tomb.Tomb
	pool := NewWorkerPool(2, zerolog.Nop())
	boom := errors.New("boom")

	pool.Setup(&tb, func(t *tomb.Tomb, task any) error {
		if task.(int) == 3 {
			return boom
		}
		return nil
	})
	for i := 0; i < 5; i++ {
		pool.AddTask(&tb, i)
	}
	pool.Close()

	assert.ErrorIs(t, tb.Wait(), boom)
}
