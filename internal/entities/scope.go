package entities

// Scope is the slice of the inbox a realtime viewer may see: the global
// inbox when TenantID is nil, otherwise exactly one tenant.
type Scope struct {
	TenantID *string
	UserID   string
}

func GlobalScope() Scope { return Scope{} }

func TenantScope(id string) Scope { return Scope{TenantID: &id} }

func (s Scope) Global() bool { return s.TenantID == nil }

// Allows reports whether evt belongs to this scope.
func (s Scope) Allows(evt Event) bool {
	return SameTenant(s.TenantID, evt.TenantID)
}

func (s Scope) String() string {
	if s.TenantID == nil {
		return "global"
	}
	return "tenant:" + *s.TenantID
}
