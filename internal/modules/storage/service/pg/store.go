package pg

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/denisbrodbeck/machineid"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"grid_bot/internal/models"
	"grid_bot/internal/modules/storage/service"
	"grid_bot/internal/modules/storage/service/pg/bot_commands"
	"grid_bot/internal/modules/storage/service/pg/trades"
	"grid_bot/internal/modules/storage/service/pg/user_bots"
	"grid_bot/internal/modules/storage/service/pg/user_settings"
	"grid_bot/internal/retry"
	"grid_bot/pkg/db"
)

var claimPolicy = retry.Policy{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}

var _ service.Store = (*Store)(nil)

// Store postgres-реализация хранилища поверх менеджера транзакций.
type Store struct {
	db       db.TxManager
	settings *user_settings.UserSettings
	bots     *user_bots.UserBots
	trades   *trades.Trades
	commands *bot_commands.BotCommands

	worker string
	log    *zap.Logger
}

func New(tx db.TxManager, log *zap.Logger) *Store {
	return &Store{
		db:       tx,
		settings: user_settings.New(),
		bots:     user_bots.New(),
		trades:   trades.New(),
		commands: bot_commands.New(),
		worker:   workerID(),
		log:      log.Named("pg"),
	}
}

// workerID стабильный идентификатор процесса для picked_by.
func workerID() string {
	id, err := machineid.ProtectedID("grid_bot")
	if err != nil {
		host, _ := os.Hostname()
		id = host
	}
	if len(id) > 12 {
		id = id[:12]
	}
	return fmt.Sprintf("%s-%d", id, os.Getpid())
}

func (s *Store) Migrate(ctx context.Context) error {
	return s.db.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		return Migrate(ctxTx, tx)
	})
}

func (s *Store) Ping(ctx context.Context) error { return s.db.Ping(ctx) }

func (s *Store) LoadSettings(ctx context.Context, userID int64) (out models.UserSettings, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.LoadSettings: %w", err)
		}
	}()
	return s.settings.GetByID(ctx, s.db.Conn(), userID)
}

func (s *Store) SaveSettings(ctx context.Context, us models.UserSettings) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.SaveSettings: %w", err)
		}
	}()
	return s.db.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		return s.settings.Upsert(ctxTx, tx, us)
	})
}

func (s *Store) ListSettings(ctx context.Context) ([]models.UserSettings, error) {
	out, err := s.settings.List(ctx, s.db.Conn())
	if err != nil {
		return nil, fmt.Errorf("pg.ListSettings: %w", err)
	}
	return out, nil
}

func (s *Store) SaveTradeRecord(ctx context.Context, rec models.TradeRecord) error {
	if _, err := s.trades.Insert(ctx, s.db.Conn(), rec); err != nil {
		return fmt.Errorf("pg.SaveTradeRecord: %w", err)
	}
	return nil
}

func (s *Store) ListTrades(ctx context.Context, userID int64, limit int) ([]models.TradeRecord, error) {
	if limit <= 0 {
		limit = service.DefaultTradesLimit
	}
	out, err := s.trades.ListByUser(ctx, s.db.Conn(), userID, limit)
	if err != nil {
		return nil, fmt.Errorf("pg.ListTrades: %w", err)
	}
	return out, nil
}

func (s *Store) UpdateRunStatus(ctx context.Context, rec models.RunStatusRecord) error {
	if err := s.bots.Upsert(ctx, s.db.Conn(), rec); err != nil {
		return fmt.Errorf("pg.UpdateRunStatus: %w", err)
	}
	return nil
}

func (s *Store) Heartbeat(ctx context.Context, userID int64, state string, at time.Time) error {
	if err := s.bots.Heartbeat(ctx, s.db.Conn(), userID, state, at); err != nil {
		return fmt.Errorf("pg.Heartbeat: %w", err)
	}
	return nil
}

func (s *Store) GetRunStatus(ctx context.Context, userID int64) (models.RunStatusRecord, bool, error) {
	rec, ok, err := s.bots.Get(ctx, s.db.Conn(), userID)
	if err != nil {
		return models.RunStatusRecord{}, false, fmt.Errorf("pg.GetRunStatus: %w", err)
	}
	return rec, ok, nil
}

func (s *Store) ListRunStatuses(ctx context.Context) ([]models.RunStatusRecord, error) {
	out, err := s.bots.List(ctx, s.db.Conn())
	if err != nil {
		return nil, fmt.Errorf("pg.ListRunStatuses: %w", err)
	}
	return out, nil
}

func (s *Store) EnqueueCommand(ctx context.Context, userID int64, typ models.CommandType) (models.Command, error) {
	cmd, err := s.commands.Insert(ctx, s.db.Conn(), uuid.NewString(), userID, typ, time.Now())
	if err != nil {
		return models.Command{}, fmt.Errorf("pg.EnqueueCommand: %w", err)
	}
	return cmd, nil
}

// ClaimCommand берёт старейшую команду в транзакции. Повторяются только конфликты транзакций.
func (s *Store) ClaimCommand(ctx context.Context, userID int64) (cmd *models.Command, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.ClaimCommand: %w", err)
		}
	}()
	err = retry.Do(ctx, claimPolicy, func(int) error {
		err := s.db.RunRepeatableRead(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
			var cerr error
			cmd, cerr = s.commands.ClaimOldest(ctxTx, tx, userID, s.worker)
			return cerr
		})
		if err != nil && !db.IsRetryable(err) {
			return retry.Permanent(err)
		}
		return err
	}, func(err error, wait time.Duration) {
		s.log.Debug("claim retry", zap.Int64("user", userID), zap.Duration("wait", wait), zap.Error(err))
	})
	return cmd, err
}

func (s *Store) CompleteCommand(ctx context.Context, id string, cmdErr error) error {
	status, msg := models.CommandDone, ""
	if cmdErr != nil {
		status, msg = models.CommandFailed, cmdErr.Error()
	}
	if err := s.commands.Complete(ctx, s.db.Conn(), id, status, msg); err != nil {
		return fmt.Errorf("pg.CompleteCommand: %w", err)
	}
	return nil
}
