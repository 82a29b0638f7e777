package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"talk2chat/internal/entities"
	"talk2chat/internal/interfaces"
)

// MemoryStore keeps tenants, configs, sessions and messages in process. It
// backs local runs without DATABASE_URL and the package tests.
type MemoryStore struct {
	mu       sync.RWMutex
	tenants  map[string]*entities.Tenant
	configs  map[string]*entities.WidgetConfig // keyed by tenant id, "" for global
	sessions map[string]*entities.ChatSession
	messages map[string]*entities.ChatMessage
	bySess   map[string][]string // session id -> message ids in insert order
	profiles map[string]*entities.Profile
	usage    map[string]map[string]int // tenant -> yyyy-mm-dd -> replies
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tenants:  make(map[string]*entities.Tenant),
		configs:  make(map[string]*entities.WidgetConfig),
		sessions: make(map[string]*entities.ChatSession),
		messages: make(map[string]*entities.ChatMessage),
		bySess:   make(map[string][]string),
		profiles: make(map[string]*entities.Profile),
		usage:    make(map[string]map[string]int),
		now:      time.Now,
	}
}

var (
	_ interfaces.TenantDirectory   = (*MemoryStore)(nil)
	_ interfaces.SessionRepository = (*MemoryStore)(nil)
	_ interfaces.UsageRepository   = (*MemoryStore)(nil)
	_ interfaces.ProfileRepository = (*MemoryStore)(nil)
	_ interfaces.ConfigWriter      = (*MemoryStore)(nil)
	_ interfaces.MessageRepository = memoryMessages{}
)

func tenantKey(id *string) string {
	if id == nil {
		return ""
	}
	return *id
}

// PutTenant stores a copy of t.
func (s *MemoryStore) PutTenant(t entities.Tenant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.Status == "" {
		t.Status = entities.TenantActive
	}
	s.tenants[t.ID] = &t
}

// PutConfig stores a copy of cfg keyed by its tenant.
func (s *MemoryStore) PutConfig(cfg entities.WidgetConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	s.configs[tenantKey(cfg.TenantID)] = &cfg
}

// SaveConfig replaces the tenant's config, keeping its id.
func (s *MemoryStore) SaveConfig(_ context.Context, cfg *entities.WidgetConfig) error {
	stored, err := sealedCopy(cfg, nil)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.configs[tenantKey(cfg.TenantID)]; ok && cfg.ID == "" {
		cfg.ID = prev.ID
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	stored.ID = cfg.ID
	if cfg.TenantID != nil {
		id := *cfg.TenantID
		stored.TenantID = &id
	}
	s.configs[tenantKey(cfg.TenantID)] = &stored
	return nil
}

func (s *MemoryStore) PutProfile(p entities.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.UserID] = &p
}

func (s *MemoryStore) liveTenant(id string) (*entities.Tenant, bool) {
	t, ok := s.tenants[id]
	if !ok || t.Status == entities.TenantDeleted || t.DeletedAt != nil {
		return nil, false
	}
	return t, true
}

func (s *MemoryStore) GetTenant(_ context.Context, id string) (*entities.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.liveTenant(id)
	if !ok {
		return nil, entities.ErrTenantNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) GetTenantByCompanyEmail(_ context.Context, email string) (*entities.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	email = strings.ToLower(strings.TrimSpace(email))
	for id := range s.tenants {
		t, ok := s.liveTenant(id)
		if ok && email != "" && strings.ToLower(t.CompanyEmail) == email {
			cp := *t
			return &cp, nil
		}
	}
	return nil, entities.ErrTenantNotFound
}

func (s *MemoryStore) configCopy(cfg *entities.WidgetConfig) (*entities.WidgetConfig, bool) {
	if cfg.TenantID != nil {
		t, ok := s.liveTenant(*cfg.TenantID)
		if !ok {
			return nil, false
		}
		cp := *cfg
		cp.CompanyEmail = t.CompanyEmail
		return &cp, true
	}
	cp := *cfg
	return &cp, true
}

func (s *MemoryStore) GetConfig(_ context.Context, tenantID *string) (*entities.WidgetConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.configs[tenantKey(tenantID)]
	if !ok {
		return nil, entities.ErrTenantNotFound
	}
	cp, ok := s.configCopy(cfg)
	if !ok {
		return nil, entities.ErrTenantNotFound
	}
	return cp, nil
}

func (s *MemoryStore) FindConfig(_ context.Context, channel entities.Channel, accountID string) (*entities.WidgetConfig, error) {
	if channel == entities.ChannelEmail {
		accountID = strings.ToLower(strings.TrimSpace(accountID))
	}
	if accountID == "" {
		return nil, entities.ErrTenantNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, cfg := range s.configs {
		if cfg.AccountID(channel) != accountID {
			continue
		}
		if cp, ok := s.configCopy(cfg); ok {
			return cp, nil
		}
	}
	return nil, entities.ErrTenantNotFound
}

func copySession(src *entities.ChatSession) *entities.ChatSession {
	cp := *src
	cp.Tags = append([]string(nil), src.Tags...)
	if src.Metadata != nil {
		cp.Metadata = make(map[string]any, len(src.Metadata))
		for k, v := range src.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

func (s *MemoryStore) findOpenLocked(key entities.SessionKey) *entities.ChatSession {
	var found *entities.ChatSession
	for _, sess := range s.sessions {
		if sess.Deleted || sess.Status.Terminal() || sess.Channel != key.Channel ||
			sess.ExternalID != key.ExternalID || !entities.SameTenant(sess.TenantID, key.TenantID) {
			continue
		}
		if found == nil || sess.CreatedAt.After(found.CreatedAt) {
			found = sess
		}
	}
	return found
}

func (s *MemoryStore) FindOpen(_ context.Context, key entities.SessionKey) (*entities.ChatSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if found := s.findOpenLocked(key); found != nil {
		return copySession(found), nil
	}
	return nil, nil
}

func (s *MemoryStore) Create(_ context.Context, sess *entities.ChatSession) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing := s.findOpenLocked(sess.Key()); existing != nil {
		*sess = *copySession(existing)
		return false, nil
	}
	if sess.Tags == nil {
		sess.Tags = []string{}
	}
	s.sessions[sess.ID] = copySession(sess)
	return true, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*entities.ChatSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok || sess.Deleted {
		return nil, entities.ErrSessionNotFound
	}
	return copySession(sess), nil
}

func (s *MemoryStore) mutateSession(id string, fn func(*entities.ChatSession)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || sess.Deleted {
		return entities.ErrSessionNotFound
	}
	fn(sess)
	return nil
}

func (s *MemoryStore) Touch(_ context.Context, id string, at time.Time) error {
	return s.mutateSession(id, func(sess *entities.ChatSession) {
		if at.After(sess.LastActivity) {
			sess.LastActivity = at
		}
	})
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id string, status entities.SessionStatus) error {
	return s.mutateSession(id, func(sess *entities.ChatSession) {
		sess.Status = status
		sess.LastActivity = s.now()
	})
}

func (s *MemoryStore) Assign(_ context.Context, id string, agentID *string) error {
	return s.mutateSession(id, func(sess *entities.ChatSession) { sess.AssignedTo = agentID })
}

func (s *MemoryStore) SetTags(_ context.Context, id string, tags []string) error {
	return s.mutateSession(id, func(sess *entities.ChatSession) { sess.Tags = append([]string{}, tags...) })
}

func (s *MemoryStore) SetInsights(_ context.Context, id string, in entities.Insights) error {
	ptr := func(v string) *string {
		if v == "" {
			return nil
		}
		return &v
	}
	return s.mutateSession(id, func(sess *entities.ChatSession) {
		sess.Summary = ptr(in.Summary)
		sess.Sentiment = ptr(in.Sentiment)
		sess.ResolutionCategory = ptr(in.ResolutionCategory)
	})
}

// Sessions lists every stored session, oldest first.
func (s *MemoryStore) Sessions() []entities.ChatSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]entities.ChatSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, *copySession(sess))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func copyMessage(src *entities.ChatMessage) entities.ChatMessage {
	cp := *src
	if src.Metadata != nil {
		cp.Metadata = make(map[string]any, len(src.Metadata))
		for k, v := range src.Metadata {
			cp.Metadata[k] = v
		}
	}
	return cp
}

func (s *MemoryStore) Append(_ context.Context, m *entities.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[m.SessionID]; !ok {
		return entities.ErrSessionNotFound
	}
	cp := copyMessage(m)
	s.messages[m.ID] = &cp
	s.bySess[m.SessionID] = append(s.bySess[m.SessionID], m.ID)
	return nil
}

func (s *MemoryStore) GetMessage(ctx context.Context, id string) (*entities.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, entities.ErrMessageNotFound
	}
	cp := copyMessage(m)
	return &cp, nil
}

func (s *MemoryStore) Recent(_ context.Context, sessionID string, limit int) ([]entities.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.bySess[sessionID]
	out := make([]entities.ChatMessage, 0, len(ids))
	for _, id := range ids {
		out = append(out, copyMessage(s.messages[id]))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *MemoryStore) UpdateDelivery(_ context.Context, id string, d entities.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return entities.ErrMessageNotFound
	}
	m.DeliveryStatus = d.Status
	m.DeliveryAttempts = d.Attempts
	m.DeliveryError = d.Error
	if d.ProviderMessageID != "" {
		if m.Metadata == nil {
			m.Metadata = map[string]any{}
		}
		m.Metadata[entities.MetaProviderMessageID] = d.ProviderMessageID
	}
	return nil
}

func (s *MemoryStore) RecordAIReply(_ context.Context, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tenants[tenantID]; ok && t.AICredits > 0 {
		t.AICredits--
	}
	day := s.now().Format("2006-01-02")
	if s.usage[tenantID] == nil {
		s.usage[tenantID] = make(map[string]int)
	}
	s.usage[tenantID][day]++
	return nil
}

func (s *MemoryStore) MonthAIReplies(_ context.Context, tenantID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	month := s.now().Format("2006-01")
	total := 0
	for day, n := range s.usage[tenantID] {
		if strings.HasPrefix(day, month) {
			total += n
		}
	}
	return total, nil
}

func (s *MemoryStore) GetProfile(_ context.Context, userID string) (*entities.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userID]
	if !ok {
		return nil, entities.ErrProfileNotFound
	}
	cp := *p
	return &cp, nil
}

// Messages returns the store as a MessageRepository. MemoryStore.Get is
// taken by session lookups, so message lookups go through this view.
func (s *MemoryStore) Messages() interfaces.MessageRepository {
	return memoryMessages{s}
}

type memoryMessages struct{ *MemoryStore }

func (m memoryMessages) Get(ctx context.Context, id string) (*entities.ChatMessage, error) {
	return m.GetMessage(ctx, id)
}
