package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dshanske/wordpress-webmention/internal/config"
	"github.com/dshanske/wordpress-webmention/internal/models"
	"github.com/dshanske/wordpress-webmention/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// fakeScheduler records scheduled delays instead of running tasks
type fakeScheduler struct {
	delays []time.Duration
	tasks  []func()
}

func (f *fakeScheduler) ScheduleAfter(delay time.Duration, task func()) {
	f.delays = append(f.delays, delay)
	f.tasks = append(f.tasks, task)
}

// MockSender is a mock implementation of DocumentSender
type MockSender struct {
	mock.Mock
}

func (m *MockSender) SendAllForDocument(ctx context.Context, documentID string) ([]models.SendOutcome, error) {
	args := m.Called(ctx, documentID)
	outcomes, _ := args.Get(0).([]models.SendOutcome)
	return outcomes, args.Error(1)
}

// MockSweeper is a mock implementation of Sweeper
type MockSweeper struct {
	mock.Mock
}

func (m *MockSweeper) RunPending(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func testConfig() *config.Config {
	return &config.Config{
		RetryBaseDelay: 900 * time.Second,
		MaxRetries:     3,
		SendOnPublish:  true,
	}
}

func TestReschedule_LinearBackoff(t *testing.T) {
	store := storage.NewMemoryStore("https://example.com")
	scheduler := &fakeScheduler{}
	service := NewService(testConfig(), store, scheduler)
	ctx := context.Background()

	var tries []int
	for i := 0; i < 3; i++ {
		attempt, err := service.Reschedule(ctx, "42")
		require.NoError(t, err)
		require.NotNil(t, attempt)
		tries = append(tries, attempt.TryCount)
	}

	assert.Equal(t, []int{1, 2, 3}, tries)
	assert.Equal(t, []time.Duration{900 * time.Second, 1800 * time.Second, 2700 * time.Second}, scheduler.delays)

	pending, _ := store.ListPending(ctx)
	assert.Equal(t, []string{"42"}, pending)

	attempt, err := service.Reschedule(ctx, "42")
	require.NoError(t, err)
	assert.Nil(t, attempt)
	assert.Len(t, scheduler.delays, 3)

	count, _ := store.GetTryCount(ctx, "42")
	assert.Equal(t, 0, count)
}

func TestReschedule_ExhaustedHook(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 1
	service := NewService(cfg, storage.NewMemoryStore("https://example.com"), &fakeScheduler{})

	var exhausted []string
	service.SetExhaustedHook(func(ctx context.Context, documentID string, tries int) {
		exhausted = append(exhausted, documentID)
		assert.Equal(t, 1, tries)
	})

	_, err := service.Reschedule(context.Background(), "42")
	require.NoError(t, err)
	assert.Empty(t, exhausted)

	_, err = service.Reschedule(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, []string{"42"}, exhausted)
}

func TestReschedule_NextRunAt(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	service := NewService(testConfig(), storage.NewMemoryStore("https://example.com"), &fakeScheduler{})
	service.now = func() time.Time { return now }

	attempt, err := service.Reschedule(context.Background(), "42")

	require.NoError(t, err)
	assert.Equal(t, now.Add(15*time.Minute), attempt.NextRunAt)
}

func TestRunPending(t *testing.T) {
	store := storage.NewMemoryStore("https://example.com")
	ctx := context.Background()
	require.NoError(t, store.MarkPending(ctx, "1"))
	require.NoError(t, store.MarkPending(ctx, "2"))

	sender := &MockSender{}
	sender.On("SendAllForDocument", mock.Anything, "1").Run(func(args mock.Arguments) {
		// the flag is already cleared while sending
		pending, _ := store.ListPending(ctx)
		assert.NotContains(t, pending, "1")
	}).Return([]models.SendOutcome{}, nil)
	sender.On("SendAllForDocument", mock.Anything, "2").Return(nil, errors.New("document vanished"))

	service := NewService(testConfig(), store, &fakeScheduler{})
	service.SetSender(sender)

	processed, err := service.RunPending(ctx)

	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	sender.AssertExpectations(t)

	pending, _ := store.ListPending(ctx)
	assert.Empty(t, pending)
}

func TestRunPending_ScheduledSweepRunsSender(t *testing.T) {
	store := storage.NewMemoryStore("https://example.com")
	scheduler := &fakeScheduler{}
	sender := &MockSender{}
	sender.On("SendAllForDocument", mock.Anything, "42").Return([]models.SendOutcome{}, nil)

	service := NewService(testConfig(), store, scheduler)
	service.SetSender(sender)

	_, err := service.Reschedule(context.Background(), "42")
	require.NoError(t, err)
	require.Len(t, scheduler.tasks, 1)

	scheduler.tasks[0]()

	sender.AssertCalled(t, "SendAllForDocument", mock.Anything, "42")
}

func TestScheduledSweepsUseConfiguredSweeper(t *testing.T) {
	store := storage.NewMemoryStore("https://example.com")
	scheduler := &fakeScheduler{}
	sender := &MockSender{}
	sweeper := &MockSweeper{}
	sweeper.On("RunPending", mock.Anything).Return(1, nil)

	service := NewService(testConfig(), store, scheduler)
	service.SetSender(sender)
	service.SetSweeper(sweeper)

	_, err := service.Reschedule(context.Background(), "42")
	require.NoError(t, err)
	_, err = service.MarkPublished(context.Background(), "7")
	require.NoError(t, err)
	require.Len(t, scheduler.tasks, 2)

	for _, task := range scheduler.tasks {
		task()
	}

	sweeper.AssertNumberOfCalls(t, "RunPending", 2)
	sender.AssertNotCalled(t, "SendAllForDocument", mock.Anything, mock.Anything)
}

func TestMarkPublished(t *testing.T) {
	tests := []struct {
		name          string
		sendOnPublish bool
		flagged       bool
	}{
		{name: "Enabled", sendOnPublish: true, flagged: true},
		{name: "Disabled", sendOnPublish: false, flagged: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.SendOnPublish = tt.sendOnPublish
			store := storage.NewMemoryStore("https://example.com")
			scheduler := &fakeScheduler{}
			service := NewService(cfg, store, scheduler)

			flagged, err := service.MarkPublished(context.Background(), "42")

			require.NoError(t, err)
			assert.Equal(t, tt.flagged, flagged)
			pending, _ := store.ListPending(context.Background())
			if tt.flagged {
				assert.Equal(t, []string{"42"}, pending)
				assert.Equal(t, []time.Duration{0}, scheduler.delays)
			} else {
				assert.Empty(t, pending)
				assert.Empty(t, scheduler.delays)
			}
		})
	}
}
