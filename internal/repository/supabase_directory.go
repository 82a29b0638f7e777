package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/supabase-community/supabase-go"

	"talk2chat/internal/entities"
	"talk2chat/internal/interfaces"
)

// SupabaseDirectory resolves tenants and widget configs through the hosted
// PostgREST API instead of a direct database connection.
type SupabaseDirectory struct {
	client *supabase.Client
	cipher interfaces.ConfigCipher
}

func NewSupabaseDirectory(url, key string, cipher interfaces.ConfigCipher) (*SupabaseDirectory, error) {
	if url == "" {
		return nil, fmt.Errorf("supabase URL is required")
	}
	if key == "" {
		return nil, fmt.Errorf("supabase API key is required")
	}
	client, err := supabase.NewClient(url, key, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create supabase client: %w", err)
	}
	return &SupabaseDirectory{client: client, cipher: cipher}, nil
}

var (
	_ interfaces.TenantDirectory = (*SupabaseDirectory)(nil)
	_ interfaces.ConfigWriter    = (*SupabaseDirectory)(nil)
)

// PostgREST filter columns for each channel's account id.
var supabaseChannelColumn = map[entities.Channel]string{
	entities.ChannelWhatsApp:  "integrations->whatsapp->>phone_number_id",
	entities.ChannelInstagram: "integrations->instagram->>page_id",
	entities.ChannelFacebook:  "integrations->facebook->>page_id",
	entities.ChannelEmail:     "integrations->email->>inbound_address",
	entities.ChannelTelegram:  "integrations->telegram->>webhook_key",
}

func liveTenant(tenants []entities.Tenant) (*entities.Tenant, error) {
	for i := range tenants {
		if tenants[i].Active() || tenants[i].Status == entities.TenantSuspended {
			return &tenants[i], nil
		}
	}
	return nil, entities.ErrTenantNotFound
}

func (d *SupabaseDirectory) GetTenant(ctx context.Context, id string) (*entities.Tenant, error) {
	var tenants []entities.Tenant
	_, err := d.client.From("tenants").
		Select("*", "", false).
		Eq("id", id).
		ExecuteTo(&tenants)
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	return liveTenant(tenants)
}

// likeLiteral escapes LIKE wildcards so ilike compares the value as typed.
// PostgREST also reads '*' as '%', so a value carrying one cannot be matched
// literally; callers re-check every row for an exact match.
var likeLiteral = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (d *SupabaseDirectory) GetTenantByCompanyEmail(ctx context.Context, email string) (*entities.Tenant, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, entities.ErrTenantNotFound
	}
	var tenants []entities.Tenant
	_, err := d.client.From("tenants").
		Select("*", "", false).
		Ilike("company_email", likeLiteral.Replace(email)).
		ExecuteTo(&tenants)
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant by email: %w", err)
	}
	exact := tenants[:0]
	for _, t := range tenants {
		if strings.EqualFold(strings.TrimSpace(t.CompanyEmail), email) {
			exact = append(exact, t)
		}
	}
	return liveTenant(exact)
}

func (d *SupabaseDirectory) GetConfig(ctx context.Context, tenantID *string) (*entities.WidgetConfig, error) {
	q := d.client.From("global_widget_config").Select("*", "", false)
	if tenantID == nil {
		q = q.Is("tenant_id", "null")
	} else {
		q = q.Eq("tenant_id", *tenantID)
	}
	var configs []entities.WidgetConfig
	if _, err := q.Limit(1, "").ExecuteTo(&configs); err != nil {
		return nil, fmt.Errorf("failed to get widget config: %w", err)
	}
	return d.firstLive(ctx, configs)
}

func (d *SupabaseDirectory) FindConfig(ctx context.Context, channel entities.Channel, accountID string) (*entities.WidgetConfig, error) {
	column, ok := supabaseChannelColumn[channel]
	if !ok || accountID == "" {
		return nil, entities.ErrTenantNotFound
	}
	q := d.client.From("global_widget_config").Select("*", "", false)
	if channel == entities.ChannelEmail {
		accountID = strings.TrimSpace(accountID)
		q = q.Ilike(column, likeLiteral.Replace(accountID))
	} else {
		q = q.Eq(column, accountID)
	}
	var configs []entities.WidgetConfig
	if _, err := q.ExecuteTo(&configs); err != nil {
		return nil, fmt.Errorf("failed to find widget config: %w", err)
	}
	exact := configs[:0]
	for _, cfg := range configs {
		if accountMatches(&cfg, channel, accountID) {
			exact = append(exact, cfg)
		}
	}
	return d.firstLive(ctx, exact)
}

func accountMatches(cfg *entities.WidgetConfig, channel entities.Channel, accountID string) bool {
	got := cfg.AccountID(channel)
	if channel == entities.ChannelEmail {
		return got != "" && strings.EqualFold(got, accountID)
	}
	return got == accountID
}

// firstLive skips configs whose tenant was deleted and fills CompanyEmail.
func (d *SupabaseDirectory) firstLive(ctx context.Context, configs []entities.WidgetConfig) (*entities.WidgetConfig, error) {
	for i := range configs {
		cfg := &configs[i]
		if cfg.TenantID != nil {
			tenant, err := d.GetTenant(ctx, *cfg.TenantID)
			if err == entities.ErrTenantNotFound {
				continue
			}
			if err != nil {
				return nil, err
			}
			cfg.CompanyEmail = tenant.CompanyEmail
		}
		if d.cipher != nil {
			if err := d.cipher.OpenConfig(cfg); err != nil {
				return nil, fmt.Errorf("open config %s: %w", cfg.ID, err)
			}
		}
		return cfg, nil
	}
	return nil, entities.ErrTenantNotFound
}

// configRow is the writable shape of a global_widget_config row.
type configRow struct {
	ID           string                `json:"id"`
	TenantID     *string               `json:"tenant_id"`
	Integrations entities.Integrations `json:"integrations"`
	AI           entities.AISettings   `json:"ai"`
}

// SaveConfig upserts by id, reusing the id of the tenant's current row so
// the global record stays single.
func (d *SupabaseDirectory) SaveConfig(ctx context.Context, cfg *entities.WidgetConfig) error {
	if cfg.ID == "" {
		q := d.client.From("global_widget_config").Select("id", "", false)
		if cfg.TenantID == nil {
			q = q.Is("tenant_id", "null")
		} else {
			q = q.Eq("tenant_id", *cfg.TenantID)
		}
		var existing []struct {
			ID string `json:"id"`
		}
		if _, err := q.Limit(1, "").ExecuteTo(&existing); err != nil {
			return fmt.Errorf("failed to look up widget config: %w", err)
		}
		if len(existing) > 0 {
			cfg.ID = existing[0].ID
		} else {
			cfg.ID = uuid.NewString()
		}
	}
	stored, err := sealedCopy(cfg, d.cipher)
	if err != nil {
		return err
	}
	row := configRow{ID: stored.ID, TenantID: stored.TenantID, Integrations: stored.Integrations, AI: stored.AI}
	if _, _, err := d.client.From("global_widget_config").Upsert(row, "id", "minimal", "").Execute(); err != nil {
		return fmt.Errorf("failed to save widget config: %w", err)
	}
	return nil
}
