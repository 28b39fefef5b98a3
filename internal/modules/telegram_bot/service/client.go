package service

import (
	"context"
	"sync"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"grid_bot/internal/models"
	"grid_bot/internal/supervisor"
)

// botAPI часть *tgbot.BotAPI, которой мы пользуемся.
type botAPI interface {
	Send(c tgbot.Chattable) (tgbot.Message, error)
	Request(c tgbot.Chattable) (*tgbot.APIResponse, error)
	GetUpdatesChan(config tgbot.UpdateConfig) tgbot.UpdatesChannel
	StopReceivingUpdates()
}

// Operator операторские действия супервизора.
type Operator interface {
	Start(ctx context.Context, userID int64) (supervisor.StartResult, error)
	Stop(ctx context.Context, userID int64) (supervisor.ActionResult, error)
	Status(ctx context.Context, userID int64) (supervisor.StatusResult, error)
	AllStatuses(ctx context.Context) (supervisor.AdminStatuses, error)
	Recover(ctx context.Context, userID int64) (supervisor.RecoverResult, error)
	Refresh(ctx context.Context, userID int64, single bool) (supervisor.ActionResult, error)
	ClearRefresh(ctx context.Context, userID int64) (supervisor.ActionResult, error)
	StopRepeat(ctx context.Context, userID int64) (supervisor.ActionResult, error)
}

// Repo настройки и история сделок пользователя.
type Repo interface {
	LoadSettings(ctx context.Context, userID int64) (models.UserSettings, error)
	SaveSettings(ctx context.Context, s models.UserSettings) error
	ListTrades(ctx context.Context, userID int64, limit int) ([]models.TradeRecord, error)
}

// Telegram операторский чат: команды, кнопки, редактирование настроек.
type Telegram struct {
	bot    botAPI
	ops    Operator
	repo   Repo
	admins map[int64]bool
	await  *awaitStore
	log    *zap.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewTelegram(bot botAPI, ops Operator, repo Repo, adminIDs []int64, log *zap.Logger) *Telegram {
	admins := make(map[int64]bool, len(adminIDs))
	for _, id := range adminIDs {
		admins[id] = true
	}
	return &Telegram{
		bot:    bot,
		ops:    ops,
		repo:   repo,
		admins: admins,
		await:  newAwaitStore(),
		log:    log.Named("telegram"),
	}
}

func (t *Telegram) Send(_ context.Context, chatID int64, msg string) (tgbot.Message, error) {
	return t.bot.Send(tgbot.NewMessage(chatID, msg))
}

func (t *Telegram) SendMessage(_ context.Context, message tgbot.MessageConfig) (tgbot.Message, error) {
	return t.bot.Send(message)
}

func (t *Telegram) reply(ctx context.Context, chatID int64, msg string) {
	if _, err := t.Send(ctx, chatID, msg); err != nil {
		t.log.Warn("reply failed", zap.Int64("chat", chatID), zap.Error(err))
	}
}

// Start запускает long polling в отдельной горутине.
func (t *Telegram) Start(_ context.Context) {
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel

	u := tgbot.NewUpdate(0)
	u.Timeout = 30
	updates := t.bot.GetUpdatesChan(u)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				t.handleUpdate(ctx, update)
			}
		}
	}()
}

func (t *Telegram) Stop() {
	if t.cancel != nil {
		t.cancel()
	}
	t.bot.StopReceivingUpdates()
	t.wg.Wait()
}
