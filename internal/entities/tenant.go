package entities

import "time"

type TenantStatus string

const (
	TenantActive    TenantStatus = "active"
	TenantSuspended TenantStatus = "suspended"
	TenantDeleted   TenantStatus = "deleted"
)

// UnmeteredCredits marks a tenant whose AI replies draw on no balance.
const UnmeteredCredits = -1

type Tenant struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Plan         string       `json:"plan"`
	Status       TenantStatus `json:"status"`
	AICredits    int          `json:"ai_credits"`     // UnmeteredCredits disables the balance
	AIUsageLimit int          `json:"ai_usage_limit"` // monthly AI replies, 0 = unlimited
	CompanyEmail string       `json:"company_email"`
	DeletedAt    *time.Time   `json:"deleted_at,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
}

func (t *Tenant) Active() bool {
	return t.Status == TenantActive && t.DeletedAt == nil
}

// CreditsExhausted is true once a metered balance reaches zero.
func (t *Tenant) CreditsExhausted() bool {
	return t.AICredits == 0
}

// OverUsageLimit reports whether monthUsed replies reach the monthly cap.
func (t *Tenant) OverUsageLimit(monthUsed int) bool {
	return t.AIUsageLimit > 0 && monthUsed >= t.AIUsageLimit
}
