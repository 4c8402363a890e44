package handlers

import (
	"context"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/vesta-tgbot-go/internal/middleware"
)

// Sender is the part of the Bot API the handlers use; *tgbotapi.BotAPI satisfies it
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// LimitedSender paces outbound calls through a shared token bucket
type LimitedSender struct {
	next    Sender
	limiter *middleware.SendLimiter
	wait    time.Duration
}

func NewLimitedSender(next Sender, limiter *middleware.SendLimiter) *LimitedSender {
	return &LimitedSender{next: next, limiter: limiter, wait: 30 * time.Second}
}

func (s *LimitedSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if err := s.acquire(); err != nil {
		return tgbotapi.Message{}, err
	}
	return s.next.Send(c)
}

func (s *LimitedSender) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	return s.next.Request(c)
}

func (s *LimitedSender) acquire() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.wait)
	defer cancel()
	return s.limiter.Wait(ctx)
}
