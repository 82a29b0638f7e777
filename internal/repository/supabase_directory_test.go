package repository

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"talk2chat/internal/entities"
	"talk2chat/internal/infrastructure"
	"talk2chat/internal/interfaces"
)

// restStub answers PostgREST reads with fixed rows per table, ignoring the
// filters, and records the query each table saw last.
type restStub struct {
	mu      sync.Mutex
	rows    map[string]string
	queries map[string]url.Values
	posted  map[string][]byte
}

func newRestStub(t *testing.T, rows map[string]string) (*restStub, *SupabaseDirectory) {
	t.Helper()
	return newRestStubWithCipher(t, rows, nil)
}

func newRestStubWithCipher(t *testing.T, rows map[string]string, cipher interfaces.ConfigCipher) (*restStub, *SupabaseDirectory) {
	t.Helper()
	stub := &restStub{rows: rows, queries: map[string]url.Values{}, posted: map[string][]byte{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		table := strings.TrimPrefix(r.URL.Path, "/rest/v1/")
		stub.mu.Lock()
		stub.queries[table] = r.URL.Query()
		if r.Method == http.MethodPost {
			stub.posted[table], _ = io.ReadAll(r.Body)
			stub.mu.Unlock()
			w.WriteHeader(http.StatusCreated)
			return
		}
		body, ok := stub.rows[table]
		stub.mu.Unlock()
		if !ok {
			body = "[]"
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	dir, err := NewSupabaseDirectory(srv.URL, "service-key", cipher)
	if err != nil {
		t.Fatalf("NewSupabaseDirectory: %v", err)
	}
	return stub, dir
}

func (s *restStub) setRows(table, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[table] = body
}

func (s *restStub) body(table string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.posted[table]
}

func (s *restStub) query(table string) url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries[table]
}

func TestSupabaseFindConfigEmailMatchesExactly(t *testing.T) {
	configs := `[
		{"id":"cfg-victim","tenant_id":"t2","integrations":{"email":{"inbound_address":"victim@acme.test"}}},
		{"id":"cfg-near","tenant_id":"t3","integrations":{"email":{"inbound_address":"axb@acme.test"}}},
		{"id":"cfg-exact","tenant_id":"t1","integrations":{"email":{"inbound_address":"A_B@acme.test"}}}
	]`
	tenants := `[{"id":"t1","status":"active","ai_credits":1,"company_email":"ops@acme.test"}]`
	stub, dir := newRestStub(t, map[string]string{
		"global_widget_config": configs,
		"tenants":              tenants,
	})
	ctx := context.Background()

	tests := []struct {
		name    string
		address string
		wantID  string
		wantErr bool
	}{
		{"wildcard address matches nothing", "*", "", true},
		{"percent address matches nothing", "%@acme.test", "", true},
		{"underscore is literal", " a_b@acme.test ", "cfg-exact", false},
		{"near miss", "a_c@acme.test", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := dir.FindConfig(ctx, entities.ChannelEmail, tt.address)
			if tt.wantErr {
				if !errors.Is(err, entities.ErrTenantNotFound) {
					t.Fatalf("err = %v, want ErrTenantNotFound (got config %+v)", err, cfg)
				}
				return
			}
			if err != nil {
				t.Fatalf("FindConfig: %v", err)
			}
			if cfg.ID != tt.wantID {
				t.Errorf("config = %s, want %s", cfg.ID, tt.wantID)
			}
			if cfg.CompanyEmail != "ops@acme.test" {
				t.Errorf("company email = %q", cfg.CompanyEmail)
			}
		})
	}

	if _, err := dir.FindConfig(ctx, entities.ChannelEmail, "a_b%@acme.test"); !errors.Is(err, entities.ErrTenantNotFound) {
		t.Fatalf("err = %v", err)
	}
	got := stub.query("global_widget_config").Get("integrations->email->>inbound_address")
	if got != `ilike.a\_b\%@acme.test` {
		t.Errorf("filter = %q, want wildcards escaped", got)
	}
}

func TestSupabaseFindConfigExactForIDs(t *testing.T) {
	_, dir := newRestStub(t, map[string]string{
		"global_widget_config": `[{"id":"cfg-1","tenant_id":"t1","integrations":{"whatsapp":{"phone_number_id":"1555"}}}]`,
		"tenants":              `[{"id":"t1","status":"active"}]`,
	})
	ctx := context.Background()
	if cfg, err := dir.FindConfig(ctx, entities.ChannelWhatsApp, "1555"); err != nil || cfg.ID != "cfg-1" {
		t.Fatalf("FindConfig = %+v, %v", cfg, err)
	}
	if _, err := dir.FindConfig(ctx, entities.ChannelWhatsApp, "9999"); !errors.Is(err, entities.ErrTenantNotFound) {
		t.Errorf("mismatched row accepted: %v", err)
	}
}

func TestSupabaseTenantByCompanyEmail(t *testing.T) {
	stub, dir := newRestStub(t, map[string]string{
		"tenants": `[
			{"id":"t2","status":"active","company_email":"victim@acme.test"},
			{"id":"t1","status":"active","company_email":"Sales_Team@Acme.test"}
		]`,
	})
	ctx := context.Background()

	tenant, err := dir.GetTenantByCompanyEmail(ctx, "sales_team@acme.test")
	if err != nil {
		t.Fatalf("GetTenantByCompanyEmail: %v", err)
	}
	if tenant.ID != "t1" {
		t.Errorf("tenant = %s, want t1", tenant.ID)
	}
	if got := stub.query("tenants").Get("company_email"); got != `ilike.sales\_team@acme.test` {
		t.Errorf("filter = %q", got)
	}

	for _, email := range []string{"*", "%", "  "} {
		if _, err := dir.GetTenantByCompanyEmail(ctx, email); !errors.Is(err, entities.ErrTenantNotFound) {
			t.Errorf("%q: err = %v, want ErrTenantNotFound", email, err)
		}
	}
}

func TestSupabaseSaveConfigSealsSecrets(t *testing.T) {
	cipher, err := infrastructure.NewCredentialCipher("test-secret")
	if err != nil {
		t.Fatal(err)
	}
	stub, dir := newRestStubWithCipher(t, map[string]string{
		"global_widget_config": `[{"id":"cfg-1"}]`,
		"tenants":              `[{"id":"t1","status":"active"}]`,
	}, cipher)
	ctx := context.Background()

	cfg := &entities.WidgetConfig{
		TenantID:     strPtr("t1"),
		CompanyEmail: "ops@acme.test",
		Integrations: entities.Integrations{
			WhatsApp: entities.WhatsAppIntegration{PhoneNumberID: "1555", APIKey: "wa-key"},
		},
		AI: entities.AISettings{Keys: map[string]string{"openai": "sk-123"}},
	}
	if err := dir.SaveConfig(ctx, cfg); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}
	if cfg.ID != "cfg-1" {
		t.Errorf("id = %q, want the existing row id", cfg.ID)
	}
	if cfg.Integrations.WhatsApp.APIKey != "wa-key" || cfg.AI.Keys["openai"] != "sk-123" {
		t.Errorf("caller's config was sealed in place: %+v", cfg)
	}
	if got := stub.query("global_widget_config").Get("on_conflict"); got != "id" {
		t.Errorf("on_conflict = %q", got)
	}

	raw := stub.body("global_widget_config")
	var row map[string]json.RawMessage
	if err := json.Unmarshal(raw, &row); err != nil {
		t.Fatalf("posted body %s: %v", raw, err)
	}
	if _, ok := row["company_email"]; ok {
		t.Error("company_email is not a config column")
	}
	var stored entities.WidgetConfig
	if err := json.Unmarshal(raw, &stored); err != nil {
		t.Fatal(err)
	}
	if stored.Integrations.WhatsApp.PhoneNumberID != "1555" {
		t.Error("routing id must stay in clear")
	}
	if !strings.HasPrefix(stored.Integrations.WhatsApp.APIKey, "enc:") || !strings.HasPrefix(stored.AI.Keys["openai"], "enc:") {
		t.Errorf("secrets stored in clear: %s", raw)
	}

	stub.setRows("global_widget_config", "["+string(raw)+"]")
	read, err := dir.FindConfig(ctx, entities.ChannelWhatsApp, "1555")
	if err != nil {
		t.Fatalf("FindConfig: %v", err)
	}
	if read.Integrations.WhatsApp.APIKey != "wa-key" || read.AI.Keys["openai"] != "sk-123" {
		t.Errorf("read back = %+v", read)
	}
}

func TestSealedCopyLeavesOriginal(t *testing.T) {
	cipher, _ := infrastructure.NewCredentialCipher("test-secret")
	cfg := &entities.WidgetConfig{
		CompanyEmail: "ops@acme.test",
		Integrations: entities.Integrations{Telegram: entities.TelegramIntegration{WebhookKey: "k", BotToken: "1:a"}},
		AI:           entities.AISettings{Keys: map[string]string{"anthropic": "ak"}},
	}
	stored, err := sealedCopy(cfg, cipher)
	if err != nil {
		t.Fatal(err)
	}
	if stored.CompanyEmail != "" {
		t.Error("company email copied into the stored row")
	}
	if !strings.HasPrefix(stored.Integrations.Telegram.BotToken, "enc:") || !strings.HasPrefix(stored.AI.Keys["anthropic"], "enc:") {
		t.Errorf("stored = %+v", stored)
	}
	if cfg.Integrations.Telegram.BotToken != "1:a" || cfg.AI.Keys["anthropic"] != "ak" || cfg.CompanyEmail == "" {
		t.Errorf("original changed: %+v", cfg)
	}
}
