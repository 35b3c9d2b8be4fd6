package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/knightly/internal/platform/mailer"
	"github.com/fatflowers/knightly/pkg/config"
	"github.com/fatflowers/knightly/pkg/logctx"
	"github.com/fatflowers/knightly/pkg/metrics"
)

// asyncSendTimeout bounds a fire-and-forget send.
const asyncSendTimeout = 30 * time.Second

// Renderer renders a named template into a message.
type Renderer interface {
	Render(name string, data any) (mailer.Message, error)
}

// Service renders templates and hands them to the mail sender.
type Service struct {
	renderer    Renderer
	sender      mailer.Sender
	frontendURL string
	log         *zap.SugaredLogger
	metrics     *metrics.Recorder

	inflight sync.WaitGroup
}

func NewService(cfg *config.Config, tpl *mailer.Templates, sender mailer.Sender, log *zap.SugaredLogger, rec *metrics.Recorder) *Service {
	return New(tpl, sender, cfg.FrontendURL, log, rec)
}

func New(renderer Renderer, sender mailer.Sender, frontendURL string, log *zap.SugaredLogger, rec *metrics.Recorder) *Service {
	return &Service{
		renderer:    renderer,
		sender:      sender,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		log:         log,
		metrics:     rec,
	}
}

// Link builds an absolute frontend URL for path.
func (s *Service) Link(path string) string {
	return s.frontendURL + "/" + strings.TrimLeft(path, "/")
}

// Send renders and delivers synchronously. Failures are returned in the
// result and logged; they are never retried here.
func (s *Service) Send(ctx context.Context, to, template string, data map[string]any) mailer.Result {
	log := logctx.FromCtx(ctx, s.log)
	msg, err := s.renderer.Render(template, data)
	if err != nil {
		s.metrics.Notification(template, false)
		log.Errorw("render notification failed", "template", template, "err", err)
		return mailer.Result{Err: fmt.Errorf("render %s: %w", template, err)}
	}
	msg.To = to
	res := s.sender.Send(ctx, msg)
	s.metrics.Notification(template, res.Success)
	if !res.Success {
		log.Warnw("notification not delivered", "template", template, "to", to, "err", res.Err)
		return res
	}
	log.Infow("notification delivered", "template", template, "message_id", res.MessageID)
	return res
}

// SendAsync delivers on its own goroutine, detached from ctx cancellation.
// The caller never observes the outcome.
func (s *Service) SendAsync(ctx context.Context, to, template string, data map[string]any) {
	detached := context.WithoutCancel(ctx)
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		sendCtx, cancel := context.WithTimeout(detached, asyncSendTimeout)
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				logctx.FromCtx(detached, s.log).Errorw("async notification panicked", "template", template, "panic", r)
			}
		}()
		s.Send(sendCtx, to, template, data)
	}()
}

// Wait blocks until every SendAsync delivery has finished or ctx is done.
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("notifications still in flight: %w", ctx.Err())
	}
}

func registerDrain(lc fx.Lifecycle, s *Service, log *zap.SugaredLogger) {
	lc.Append(fx.StopHook(func(ctx context.Context) error {
		if err := s.Wait(ctx); err != nil {
			log.Warnw("notification drain incomplete", "err", err)
			return err
		}
		return nil
	}))
}

var Module = fx.Options(
	fx.Provide(NewService),
	fx.Invoke(registerDrain),
)
