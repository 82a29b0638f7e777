package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"talk2chat/internal/entities"
	"talk2chat/internal/interfaces"
)

// ConfigRepository reads and writes global_widget_config rows. Secrets are
// opened on read and sealed on write when a cipher is set.
type ConfigRepository struct {
	db     *pgxpool.Pool
	cipher interfaces.ConfigCipher
}

func NewConfigRepository(db *pgxpool.Pool, cipher interfaces.ConfigCipher) *ConfigRepository {
	return &ConfigRepository{db: db, cipher: cipher}
}

const configSelect = `
	SELECT c.id, c.tenant_id, COALESCE(t.company_email, ''), c.integrations, c.ai
	FROM global_widget_config c
	LEFT JOIN tenants t ON t.id = c.tenant_id
	WHERE (c.tenant_id IS NULL OR (t.deleted_at IS NULL AND t.status <> 'deleted'))`

// channelMatch maps a channel to the JSON path holding its account id.
var channelMatch = map[entities.Channel]string{
	entities.ChannelWhatsApp:  `c.integrations->'whatsapp'->>'phone_number_id' = $1`,
	entities.ChannelInstagram: `c.integrations->'instagram'->>'page_id' = $1`,
	entities.ChannelFacebook:  `c.integrations->'facebook'->>'page_id' = $1`,
	entities.ChannelEmail:     `lower(c.integrations->'email'->>'inbound_address') = $1`,
	entities.ChannelTelegram:  `c.integrations->'telegram'->>'webhook_key' = $1`,
}

func (r *ConfigRepository) scanConfig(row pgx.Row) (*entities.WidgetConfig, error) {
	var cfg entities.WidgetConfig
	err := row.Scan(&cfg.ID, &cfg.TenantID, &cfg.CompanyEmail, &cfg.Integrations, &cfg.AI)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, entities.ErrTenantNotFound
	}
	if err != nil {
		return nil, err
	}
	if r.cipher != nil {
		if err := r.cipher.OpenConfig(&cfg); err != nil {
			return nil, fmt.Errorf("open config %s: %w", cfg.ID, err)
		}
	}
	return &cfg, nil
}

func (r *ConfigRepository) GetConfig(ctx context.Context, tenantID *string) (*entities.WidgetConfig, error) {
	return r.scanConfig(r.db.QueryRow(ctx, configSelect+` AND c.tenant_id IS NOT DISTINCT FROM $1 LIMIT 1`, tenantID))
}

func (r *ConfigRepository) FindConfig(ctx context.Context, channel entities.Channel, accountID string) (*entities.WidgetConfig, error) {
	match, ok := channelMatch[channel]
	if !ok || accountID == "" {
		return nil, entities.ErrTenantNotFound
	}
	if channel == entities.ChannelEmail {
		accountID = strings.ToLower(strings.TrimSpace(accountID))
	}
	return r.scanConfig(r.db.QueryRow(ctx, configSelect+` AND `+match+` LIMIT 1`, accountID))
}

// SaveConfig upserts the config keyed by tenant.
func (r *ConfigRepository) SaveConfig(ctx context.Context, cfg *entities.WidgetConfig) error {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	stored, err := sealedCopy(cfg, r.cipher)
	if err != nil {
		return err
	}

	conflict := `ON CONFLICT (tenant_id) DO UPDATE`
	if cfg.TenantID == nil {
		conflict = `ON CONFLICT ((tenant_id IS NULL)) WHERE tenant_id IS NULL DO UPDATE`
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO global_widget_config (id, tenant_id, integrations, ai, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		`+conflict+` SET integrations = EXCLUDED.integrations, ai = EXCLUDED.ai, updated_at = NOW()
	`, stored.ID, stored.TenantID, stored.Integrations, stored.AI)
	return err
}

// Directory answers every TenantDirectory lookup from postgres.
type Directory struct {
	*TenantRepository
	*ConfigRepository
}

func NewDirectory(db *pgxpool.Pool, cipher interfaces.ConfigCipher) *Directory {
	return &Directory{
		TenantRepository: NewTenantRepository(db),
		ConfigRepository: NewConfigRepository(db, cipher),
	}
}

var (
	_ interfaces.TenantDirectory = (*Directory)(nil)
	_ interfaces.ConfigWriter    = (*Directory)(nil)
)

// sealedCopy returns cfg with its secrets sealed, leaving cfg itself
// untouched for the caller.
func sealedCopy(cfg *entities.WidgetConfig, cipher interfaces.ConfigCipher) (entities.WidgetConfig, error) {
	stored := *cfg
	stored.CompanyEmail = ""
	if cfg.AI.Keys != nil {
		stored.AI.Keys = make(map[string]string, len(cfg.AI.Keys))
		for k, v := range cfg.AI.Keys {
			stored.AI.Keys[k] = v
		}
	}
	if cipher != nil {
		if err := cipher.SealConfig(&stored); err != nil {
			return entities.WidgetConfig{}, fmt.Errorf("seal config: %w", err)
		}
	}
	return stored, nil
}
