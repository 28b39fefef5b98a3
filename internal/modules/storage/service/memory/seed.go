package memory

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"grid_bot/internal/models"
)

type seedFile struct {
	Users []models.UserSettings `yaml:"users"`
}

type settingsSaver interface {
	SaveSettings(ctx context.Context, s models.UserSettings) error
}

// LoadSeed читает yaml со списком пользователей и сохраняет их настройки.
// Возвращает число загруженных пользователей.
func LoadSeed(ctx context.Context, store settingsSaver, path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read seed %s: %w", path, err)
	}
	var f seedFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return 0, fmt.Errorf("decode seed %s: %w", path, err)
	}
	for i, us := range f.Users {
		if us.UserID == 0 {
			return i, fmt.Errorf("seed %s: user #%d without user_id", path, i+1)
		}
		if err := store.SaveSettings(ctx, us); err != nil {
			return i, err
		}
	}
	return len(f.Users), nil
}
