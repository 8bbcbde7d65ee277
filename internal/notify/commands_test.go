package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"bookingsync/internal/models"
	"bookingsync/internal/service"
	"bookingsync/internal/worker"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type fakeUpdater struct {
	mu      sync.Mutex
	sent    []tgbotapi.Chattable
	updates chan tgbotapi.Update
	stopped bool
}

func newFakeUpdater() *fakeUpdater {
	return &fakeUpdater{updates: make(chan tgbotapi.Update, 10)}
}

func (f *fakeUpdater) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, nil
}

func (f *fakeUpdater) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}

func (f *fakeUpdater) StopReceivingUpdates() {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
}

func (f *fakeUpdater) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.sent {
		if m, ok := c.(tgbotapi.MessageConfig); ok {
			out = append(out, m.Text)
		}
	}
	return out
}

func (f *fakeUpdater) documents() []tgbotapi.DocumentConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []tgbotapi.DocumentConfig
	for _, c := range f.sent {
		if d, ok := c.(tgbotapi.DocumentConfig); ok {
			out = append(out, d)
		}
	}
	return out
}

type mockOperator struct {
	mock.Mock
}

func (m *mockOperator) Status(ctx context.Context) (*models.SyncStatus, error) {
	args := m.Called(ctx)
	st, _ := args.Get(0).(*models.SyncStatus)
	return st, args.Error(1)
}

func (m *mockOperator) RunSync(ctx context.Context, source string, since *time.Time) (*worker.RunResult, error) {
	args := m.Called(ctx, source, since)
	res, _ := args.Get(0).(*worker.RunResult)
	return res, args.Error(1)
}

type fakeRetries struct {
	entries []models.RetryEntry
	err     error
}

func (f *fakeRetries) List(context.Context, models.RetryFilter) ([]models.RetryEntry, error) {
	return f.entries, f.err
}

type fakeReports struct{}

func (fakeReports) Build(context.Context) (*excelize.File, error) {
	f := excelize.NewFile()
	_ = f.SetCellValue("Sheet1", "A1", "Order ID")
	return f, nil
}

func command(chatID int64, text string) tgbotapi.Update {
	name := strings.Fields(text)[0]
	return tgbotapi.Update{Message: &tgbotapi.Message{
		Text:     text,
		Chat:     &tgbotapi.Chat{ID: chatID},
		From:     &tgbotapi.User{ID: 1},
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(name)}},
	}}
}

func newTestCommandBot(op Operator, retries RetryLister) (*CommandBot, *fakeUpdater) {
	up := newFakeUpdater()
	return NewCommandBot(up, 42, op, retries, fakeReports{}, time.UTC, nil), up
}

func TestCommandBot_Status(t *testing.T) {
	op := new(mockOperator)
	last := time.Date(2025, 3, 1, 8, 30, 0, 0, time.UTC)
	op.On("Status", mock.Anything).Return(&models.SyncStatus{
		Health:         models.HealthHealthy,
		SuccessRate:    95,
		State:          &models.SyncState{LastSyncTime: &last},
		PendingRetries: 2,
	}, nil)

	b, up := newTestCommandBot(op, &fakeRetries{})
	b.processUpdate(context.Background(), command(42, "/status"))

	texts := up.texts()
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "Health: healthy (95% of runs ok)")
	assert.Contains(t, texts[0], "Checkpoint: 2025-03-01 08:30")
	assert.Contains(t, texts[0], "Pending retries: 2")
}

func TestCommandBot_IgnoresOtherChats(t *testing.T) {
	op := new(mockOperator)
	b, up := newTestCommandBot(op, &fakeRetries{})

	b.processUpdate(context.Background(), command(99, "/status"))
	b.processUpdate(context.Background(), tgbotapi.Update{Message: &tgbotapi.Message{Text: "hello", Chat: &tgbotapi.Chat{ID: 42}}})

	assert.Empty(t, up.texts())
	op.AssertNotCalled(t, "Status", mock.Anything)
}

func TestCommandBot_Retries(t *testing.T) {
	b, up := newTestCommandBot(new(mockOperator), &fakeRetries{entries: []models.RetryEntry{
		{OrderID: "5001", OrderNumber: "1042", FailureCategory: "transient", RetryCount: 1, MaxRetries: 5, FailureReason: "calendar unavailable"},
	}})
	b.processUpdate(context.Background(), command(42, "/retries"))

	texts := up.texts()
	require.Len(t, texts, 1)
	assert.Equal(t, "1 order(s) waiting:\n#1042 (transient) 1/5 calendar unavailable", texts[0])
}

func TestCommandBot_ErrorReply(t *testing.T) {
	b, up := newTestCommandBot(new(mockOperator), &fakeRetries{err: errors.New("db locked")})
	b.processUpdate(context.Background(), command(42, "/retries"))

	assert.Equal(t, []string{"Command failed: db locked"}, up.texts())
}

func TestCommandBot_Sync(t *testing.T) {
	op := new(mockOperator)
	release := make(chan struct{})
	op.On("RunSync", mock.Anything, models.SyncSourceManual, (*time.Time)(nil)).
		Run(func(mock.Arguments) { <-release }).
		Return(&worker.RunResult{
			Run:   &models.SyncRun{ID: "0123456789abcdef", Status: models.RunStatusCompleted},
			Stats: &service.SyncStats{Total: 3, Processed: 3, Successful: 3},
		}, nil).Once()

	b, up := newTestCommandBot(op, &fakeRetries{})
	b.processUpdate(context.Background(), command(42, "/sync"))
	b.processUpdate(context.Background(), command(42, "/sync"))
	close(release)

	require.Eventually(t, func() bool { return len(up.texts()) == 3 }, time.Second, 10*time.Millisecond)
	texts := up.texts()
	assert.Equal(t, "Sync started", texts[0])
	assert.Equal(t, "A sync started from chat is still running", texts[1])
	assert.True(t, strings.HasPrefix(texts[2], "Sync 01234567 completed\nchecked 3"), texts[2])
	op.AssertExpectations(t)
}

func TestCommandBot_Report(t *testing.T) {
	b, up := newTestCommandBot(new(mockOperator), &fakeRetries{})
	b.processUpdate(context.Background(), command(42, "/report"))

	docs := up.documents()
	require.Len(t, docs, 1)
	assert.Equal(t, int64(42), docs[0].ChatID)
	file, ok := docs[0].File.(tgbotapi.FileBytes)
	require.True(t, ok)
	assert.True(t, strings.HasSuffix(file.Name, ".xlsx"))
	assert.NotEmpty(t, file.Bytes)
}

func TestCommandBot_Unknown(t *testing.T) {
	b, up := newTestCommandBot(new(mockOperator), &fakeRetries{})
	b.processUpdate(context.Background(), command(42, "/frobnicate"))

	texts := up.texts()
	require.Len(t, texts, 1)
	assert.True(t, strings.HasPrefix(texts[0], "Unknown command /frobnicate"))
}

func TestCommandBot_StartStops(t *testing.T) {
	op := new(mockOperator)
	op.On("Status", mock.Anything).Return(&models.SyncStatus{Health: models.HealthUnknown, SuccessRate: -1}, nil)
	b, up := newTestCommandBot(op, &fakeRetries{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Start(ctx)
		close(done)
	}()

	up.updates <- command(42, "/status")
	require.Eventually(t, func() bool { return len(up.texts()) == 1 }, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("command bot did not stop")
	}
	up.mu.Lock()
	assert.True(t, up.stopped)
	up.mu.Unlock()
}
