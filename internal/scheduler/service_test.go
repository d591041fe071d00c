package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dshanske/wordpress-webmention/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSweeper struct {
	runs atomic.Int32
}

func (c *countingSweeper) RunPending(ctx context.Context) (int, error) {
	c.runs.Add(1)
	return 0, nil
}

func TestOnce_Next(t *testing.T) {
	at := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	schedule := once{at: at}

	assert.Equal(t, at, schedule.Next(at.Add(-time.Minute)))
	assert.True(t, schedule.Next(at).IsZero())
	assert.True(t, schedule.Next(at.Add(time.Second)).IsZero())
}

func TestStart_InvalidSchedule(t *testing.T) {
	service := NewService(&config.Config{SweepSchedule: "not a schedule"})

	err := service.Start(&countingSweeper{})

	assert.Error(t, err)
}

func TestStart_RunsSweep(t *testing.T) {
	service := NewService(&config.Config{SweepSchedule: "@every 1s"})
	sweeper := &countingSweeper{}

	require.NoError(t, service.Start(sweeper))
	defer service.Stop()

	assert.Eventually(t, func() bool { return sweeper.runs.Load() > 0 }, 3*time.Second, 50*time.Millisecond)
}

func TestScheduleAfter_RunsOnceAndRemovesEntry(t *testing.T) {
	service := NewService(&config.Config{SweepSchedule: "@every 1h"})
	require.NoError(t, service.Start(&countingSweeper{}))
	defer service.Stop()

	var runs atomic.Int32
	service.ScheduleAfter(0, func() { runs.Add(1) })
	assert.Equal(t, 2, service.Pending())

	assert.Eventually(t, func() bool { return runs.Load() == 1 }, 3*time.Second, 50*time.Millisecond)
	assert.Eventually(t, func() bool { return service.Pending() == 1 }, time.Second, 50*time.Millisecond)

	time.Sleep(1200 * time.Millisecond)
	assert.Equal(t, int32(1), runs.Load())
}
