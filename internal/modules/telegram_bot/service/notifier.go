package service

import (
	"context"
	"errors"
	"sync"
	"time"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var ErrQueueFull = errors.New("telegram: notification queue is full")

type outgoing struct {
	chatID int64
	text   string
}

// Notifier очередь исходящих уведомлений движков. Send не блокирует:
// при переполнении сообщение теряется. Без бота уведомления пишутся в лог.
type Notifier struct {
	bot     botAPI
	queue   chan outgoing
	limiter *rate.Limiter
	log     *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewNotifier(bot botAPI, size int, log *zap.Logger) *Notifier {
	if size <= 0 {
		size = 256
	}
	return &Notifier{
		bot:   bot,
		queue: make(chan outgoing, size),
		// лимит Bot API ~30 сообщений в секунду на бота
		limiter: rate.NewLimiter(rate.Limit(25), 5),
		log:     log.Named("notifier"),
	}
}

func (n *Notifier) Send(_ context.Context, chatID int64, msg string) error {
	if n.bot == nil {
		n.log.Info("notification", zap.Int64("chat", chatID), zap.String("text", msg))
		return nil
	}
	select {
	case n.queue <- outgoing{chatID: chatID, text: msg}:
		return nil
	default:
		n.log.Warn("notification dropped", zap.Int64("chat", chatID))
		return ErrQueueFull
	}
}

// Run отправляет очередь до остановки. При Stop остаток очереди дочитывается.
func (n *Notifier) Run() {
	if n.bot == nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	n.mu.Lock()
	n.cancel = cancel
	n.done = make(chan struct{})
	done := n.done
	n.mu.Unlock()

	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				n.drain()
				return
			case m := <-n.queue:
				if err := n.limiter.Wait(ctx); err != nil {
					n.deliver(m)
					n.drain()
					return
				}
				n.deliver(m)
			}
		}
	}()
}

func (n *Notifier) Stop(ctx context.Context) error {
	n.mu.Lock()
	cancel, done := n.cancel, n.done
	n.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *Notifier) drain() {
	deadline := time.After(3 * time.Second)
	for {
		select {
		case m := <-n.queue:
			n.deliver(m)
		case <-deadline:
			return
		default:
			return
		}
	}
}

func (n *Notifier) deliver(m outgoing) {
	if _, err := n.bot.Send(tgbot.NewMessage(m.chatID, m.text)); err != nil {
		n.log.Warn("notification not delivered", zap.Int64("chat", m.chatID), zap.Error(err))
	}
}
