package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"gorm.io/datatypes"

	"copyfund/internal/models"
	"copyfund/internal/repository"
)

const (
	FeatureSIPExecution     = "feature.sip_execution"
	FeatureWalletMonitor    = "feature.wallet_monitor"
	FeatureRetentionSweeper = "feature.retention_sweeper"

	// SettingSetupStatus holds the persisted SetupStatus record.
	SettingSetupStatus = "setup.status"
)

// FeatureKeys lists the job switches in a stable order.
func FeatureKeys() []string {
	return []string{FeatureSIPExecution, FeatureWalletMonitor, FeatureRetentionSweeper}
}

func DefaultFeatureSwitches() map[string]bool {
	return map[string]bool{
		FeatureSIPExecution:     true,
		FeatureWalletMonitor:    true,
		FeatureRetentionSweeper: true,
	}
}

type SystemSettingsService struct {
	Repo repository.Repository
	Now  func() time.Time
}

func (s *SystemSettingsService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// EnsureDefaultSwitches writes missing switches. Existing values are never
// overwritten, so an operator's OFF survives restarts.
func (s *SystemSettingsService) EnsureDefaultSwitches(ctx context.Context) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	now := s.now()
	for key, enabled := range DefaultFeatureSwitches() {
		existing, err := s.Repo.GetSystemSettingByKey(ctx, key)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		raw, _ := json.Marshal(enabled)
		item := &models.SystemSetting{
			Key:         key,
			Value:       datatypes.JSON(raw),
			Description: "feature switch",
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.Repo.UpsertSystemSetting(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

func (s *SystemSettingsService) IsEnabled(ctx context.Context, key string, fallback bool) bool {
	if s == nil || s.Repo == nil {
		return fallback
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fallback
	}
	item, err := s.Repo.GetSystemSettingByKey(ctx, key)
	if err != nil || item == nil || len(item.Value) == 0 {
		return fallback
	}
	var enabled bool
	if err := json.Unmarshal(item.Value, &enabled); err != nil {
		return fallback
	}
	return enabled
}

func (s *SystemSettingsService) SetEnabled(ctx context.Context, key string, enabled bool) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	raw, _ := json.Marshal(enabled)
	item := &models.SystemSetting{
		Key:         key,
		Value:       datatypes.JSON(raw),
		Description: "feature switch",
		UpdatedAt:   s.now(),
	}
	return s.Repo.UpsertSystemSetting(ctx, item)
}

// SetupStatus replaces an in-process "setup done" flag so restarts and
// replicas agree on whether setup already ran.
type SetupStatus struct {
	Completed   bool      `json:"completed"`
	CompletedAt time.Time `json:"completed_at"`
	SeededFunds int       `json:"seeded_funds"`
	Version     int       `json:"version"`
}

func (s *SystemSettingsService) SetupStatus(ctx context.Context) (SetupStatus, error) {
	if s == nil || s.Repo == nil {
		return SetupStatus{}, nil
	}
	item, err := s.Repo.GetSystemSettingByKey(ctx, SettingSetupStatus)
	if err != nil || item == nil || len(item.Value) == 0 {
		return SetupStatus{}, err
	}
	var out SetupStatus
	if err := json.Unmarshal(item.Value, &out); err != nil {
		return SetupStatus{}, err
	}
	return out, nil
}

func (s *SystemSettingsService) SaveSetupStatus(ctx context.Context, status SetupStatus) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	raw, err := json.Marshal(status)
	if err != nil {
		return err
	}
	now := s.now()
	return s.Repo.UpsertSystemSetting(ctx, &models.SystemSetting{
		Key:         SettingSetupStatus,
		Value:       datatypes.JSON(raw),
		Description: "setup status",
		CreatedAt:   now,
		UpdatedAt:   now,
	})
}
