package listener

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errPollClosed = errors.New("poll closed")

// scriptedPoller returns one batch per call, then fails.
type scriptedPoller struct {
	mu       sync.Mutex
	batches  [][]tgbotapi.Update
	offsets  []int
	answered []string
}

func (p *scriptedPoller) Updates(ctx context.Context, offset int, timeout time.Duration) ([]tgbotapi.Update, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.offsets = append(p.offsets, offset)
	if len(p.batches) == 0 {
		return nil, errPollClosed
	}
	batch := p.batches[0]
	p.batches = p.batches[1:]
	return batch, nil
}

func (p *scriptedPoller) AnswerCallback(ctx context.Context, callbackID, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.answered = append(p.answered, callbackID)
	return nil
}

func TestPollLoopAdvancesOffsetAndAnswersCallbacks(t *testing.T) {
	f := newFixture(t)

	start := command(100, "/start")
	start.UpdateID = 10
	cb := callback(100, "brands_done")
	cb.UpdateID = 11
	cb.CallbackQuery.ID = "cb-11"
	help := command(100, "/help")
	help.UpdateID = 14

	poller := &scriptedPoller{batches: [][]tgbotapi.Update{{start, cb}, {help}}}
	offset := 0
	backoff := time.Minute

	err := pollLoop(context.Background(), poller, f.h, &offset, time.Second, &backoff, slog.Default())
	require.ErrorIs(t, err, errPollClosed)

	assert.Equal(t, []int{0, 12, 15}, poller.offsets)
	assert.Equal(t, 15, offset)
	assert.Equal(t, []string{"cb-11"}, poller.answered)
	assert.Equal(t, reconnectBackoff, backoff, "a successful poll resets the backoff")

	require.Len(t, f.out.replies, 3)
	assert.Contains(t, f.out.replies[0].text, "xush kelibsiz")
	assert.Equal(t, textRestart, f.out.replies[1].text, "stale button")
	assert.Equal(t, textHelp, f.out.replies[2].text)
}

func TestStartStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		Start(ctx, &scriptedPoller{}, f.h, time.Second, slog.Default())
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop after cancel")
	}
}
