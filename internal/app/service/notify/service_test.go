package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fatflowers/knightly/internal/platform/mailer"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []mailer.Message
	err  error
	done chan struct{}
}

func (f *fakeSender) Send(_ context.Context, msg mailer.Message) mailer.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	if f.done != nil {
		defer close(f.done)
	}
	if f.err != nil {
		return mailer.Result{Err: f.err}
	}
	return mailer.Result{Success: true, MessageID: "<m1@test>"}
}

func newTestService(t *testing.T, sender mailer.Sender) *Service {
	tpl, err := mailer.NewTemplates()
	require.NoError(t, err)
	return New(tpl, sender, "https://knightly.test/", zap.NewNop().Sugar(), nil)
}

func TestSend(t *testing.T) {
	sender := &fakeSender{}
	s := newTestService(t, sender)

	res := s.Send(context.Background(), "p@knightly.test", mailer.TemplateTrialEnded, map[string]any{"Name": "Judit", "Link": s.Link("/pricing")})
	require.True(t, res.Success)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "p@knightly.test", sender.sent[0].To)
	assert.Contains(t, sender.sent[0].Text, "https://knightly.test/pricing")
}

func TestSendFailures(t *testing.T) {
	sender := &fakeSender{err: errors.New("relay down")}
	s := newTestService(t, sender)

	res := s.Send(context.Background(), "p@knightly.test", mailer.TemplateWelcome, map[string]any{})
	assert.False(t, res.Success)
	assert.EqualError(t, res.Err, "relay down")

	res = s.Send(context.Background(), "p@knightly.test", "missing_template", nil)
	assert.False(t, res.Success)
	assert.Len(t, sender.sent, 1)
}

func TestSendAsyncSurvivesCanceledContext(t *testing.T) {
	sender := &fakeSender{done: make(chan struct{})}
	s := newTestService(t, sender)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.SendAsync(ctx, "p@knightly.test", mailer.TemplateWelcome, map[string]any{"Name": "Hou"})

	select {
	case <-sender.done:
	case <-time.After(2 * time.Second):
		t.Fatal("async send did not run")
	}
}

type blockingSender struct {
	release chan struct{}
}

func (b *blockingSender) Send(context.Context, mailer.Message) mailer.Result {
	<-b.release
	return mailer.Result{Success: true}
}

func TestWaitDrainsAsyncSends(t *testing.T) {
	sender := &blockingSender{release: make(chan struct{})}
	s := newTestService(t, sender)

	s.SendAsync(context.Background(), "p@knightly.test", mailer.TemplateWelcome, map[string]any{"Name": "Hou"})

	short, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Wait(short), context.DeadlineExceeded)

	close(sender.release)
	ctx, cancel2 := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel2()
	assert.NoError(t, s.Wait(ctx))
}
