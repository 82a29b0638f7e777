package usecases

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"talk2chat/internal/entities"
	"talk2chat/internal/interfaces"
)

// IdentityResolver maps the destination of an inbound event (phone number
// id, page id, inbound address, tenant id) to the owning widget config.
type IdentityResolver struct {
	dir interfaces.TenantDirectory
}

func NewIdentityResolver(dir interfaces.TenantDirectory) *IdentityResolver {
	return &IdentityResolver{dir: dir}
}

// Resolve returns the config that owns destination on channel, or
// entities.ErrTenantNotFound. Deleted tenants never resolve.
func (r *IdentityResolver) Resolve(ctx context.Context, channel entities.Channel, destination string) (*entities.WidgetConfig, error) {
	destination = strings.TrimSpace(destination)

	switch channel {
	case entities.ChannelWeb:
		return r.resolveWeb(ctx, destination)
	case entities.ChannelEmail:
		return r.resolveEmail(ctx, destination)
	case entities.ChannelInstagram, entities.ChannelFacebook:
		return r.resolveMeta(ctx, channel, destination)
	case entities.ChannelWhatsApp, entities.ChannelTelegram:
		if destination == "" {
			return nil, entities.ErrTenantNotFound
		}
		return r.dir.FindConfig(ctx, channel, destination)
	}
	return nil, fmt.Errorf("resolve %s: %w", channel, entities.ErrTenantNotFound)
}

// resolveWeb treats destination as a tenant id; empty selects the global
// inbox. A live tenant without a stored config still routes, with no
// integrations.
func (r *IdentityResolver) resolveWeb(ctx context.Context, tenantID string) (*entities.WidgetConfig, error) {
	if tenantID == "" {
		cfg, err := r.dir.GetConfig(ctx, nil)
		if errors.Is(err, entities.ErrTenantNotFound) {
			return &entities.WidgetConfig{}, nil
		}
		return cfg, err
	}

	tenant, err := r.dir.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	cfg, err := r.dir.GetConfig(ctx, &tenant.ID)
	if errors.Is(err, entities.ErrTenantNotFound) {
		id := tenant.ID
		return &entities.WidgetConfig{TenantID: &id, CompanyEmail: tenant.CompanyEmail}, nil
	}
	return cfg, err
}

// resolveEmail matches the configured inbound address first, then a
// tenant whose company email is the recipient.
func (r *IdentityResolver) resolveEmail(ctx context.Context, address string) (*entities.WidgetConfig, error) {
	if address == "" {
		return nil, entities.ErrTenantNotFound
	}
	address = strings.ToLower(address)

	cfg, err := r.dir.FindConfig(ctx, entities.ChannelEmail, address)
	if err == nil || !errors.Is(err, entities.ErrTenantNotFound) {
		return cfg, err
	}

	tenant, err := r.dir.GetTenantByCompanyEmail(ctx, address)
	if err != nil {
		return nil, err
	}
	return r.dir.GetConfig(ctx, &tenant.ID)
}

// resolveMeta also tries the sibling page id: Meta delivers Instagram and
// Messenger traffic for a linked page under one app.
func (r *IdentityResolver) resolveMeta(ctx context.Context, channel entities.Channel, pageID string) (*entities.WidgetConfig, error) {
	if pageID == "" {
		return nil, entities.ErrTenantNotFound
	}
	cfg, err := r.dir.FindConfig(ctx, channel, pageID)
	if err == nil || !errors.Is(err, entities.ErrTenantNotFound) {
		return cfg, err
	}

	sibling := entities.ChannelInstagram
	if channel == entities.ChannelInstagram {
		sibling = entities.ChannelFacebook
	}
	return r.dir.FindConfig(ctx, sibling, pageID)
}
