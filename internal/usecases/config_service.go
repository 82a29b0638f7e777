package usecases

import (
	"context"
	"errors"
	"fmt"

	"talk2chat/internal/entities"
	"talk2chat/internal/interfaces"
	"talk2chat/internal/logging"
)

// ConfigService writes widget configs for provisioning tools.
type ConfigService struct {
	directory interfaces.TenantDirectory
	writer    interfaces.ConfigWriter
}

func NewConfigService(directory interfaces.TenantDirectory, writer interfaces.ConfigWriter) *ConfigService {
	return &ConfigService{directory: directory, writer: writer}
}

// Save stores cfg for its tenant. Every account id it claims must be free
// or already held by the same tenant, otherwise inbound traffic for that
// account would route to two tenants.
func (s *ConfigService) Save(ctx context.Context, cfg *entities.WidgetConfig) error {
	if cfg.TenantID != nil {
		if _, err := s.directory.GetTenant(ctx, *cfg.TenantID); err != nil {
			return err
		}
	}
	for _, ch := range entities.RoutedChannels {
		account := cfg.AccountID(ch)
		if account == "" {
			continue
		}
		owner, err := s.directory.FindConfig(ctx, ch, account)
		if errors.Is(err, entities.ErrTenantNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if !entities.SameTenant(owner.TenantID, cfg.TenantID) {
			return fmt.Errorf("%s account %s: %w", ch, account, entities.ErrAccountClaimed)
		}
	}

	cfg.CompanyEmail = ""
	if err := s.writer.SaveConfig(ctx, cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	tenant := "global"
	if cfg.TenantID != nil {
		tenant = *cfg.TenantID
	}
	logging.Info().Str("config_id", cfg.ID).Str("tenant_id", tenant).Msg("widget config saved")
	return nil
}
