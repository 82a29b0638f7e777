package usecases

import (
	"errors"
	"testing"

	"talk2chat/internal/entities"
)

const whatsAppText = `{
  "object": "whatsapp_business_account",
  "entry": [{
    "id": "WABA",
    "changes": [{
      "field": "messages",
      "value": {
        "messaging_product": "whatsapp",
        "metadata": {"display_phone_number": "15550000", "phone_number_id": "1555"},
        "contacts": [{"profile": {"name": "Budi"}, "wa_id": "62811"}],
        "messages": [{"from": "62811", "id": "wamid.A", "timestamp": "1700000000", "type": "text", "text": {"body": "Halo"}}]
      }
    }]
  }]
}`

const whatsAppImage = `{
  "object": "whatsapp_business_account",
  "entry": [{"changes": [{"value": {
    "metadata": {"phone_number_id": "1555"},
    "messages": [{"from": "62811", "id": "wamid.B", "type": "image", "image": {"id": "media-1", "mime_type": "image/jpeg"}}]
  }}]}]
}`

const whatsAppButton = `{
  "object": "whatsapp_business_account",
  "entry": [{"changes": [{"value": {
    "metadata": {"phone_number_id": "1555"},
    "messages": [{"from": "62811", "id": "wamid.C", "type": "interactive", "interactive": {"type": "button_reply", "button_reply": {"id": "yes", "title": "Yes please"}}}]
  }}]}]
}`

const whatsAppStatus = `{
  "object": "whatsapp_business_account",
  "entry": [{"changes": [{"value": {"metadata": {"phone_number_id": "1555"}, "statuses": [{"id": "wamid.A", "status": "read"}]}}]}]
}`

const instagramText = `{
  "object": "instagram",
  "entry": [{"id": "ig-page", "time": 1700000000, "messaging": [{
    "sender": {"id": "igsid-1"}, "recipient": {"id": "ig-page"}, "timestamp": 1700000000,
    "message": {"mid": "m_1", "text": "Is this in stock?"}
  }]}]
}`

const facebookEcho = `{
  "object": "page",
  "entry": [{"id": "fb-page", "messaging": [{
    "sender": {"id": "fb-page"}, "recipient": {"id": "psid-1"},
    "message": {"mid": "m_2", "text": "our reply", "is_echo": true}
  }]}]
}`

func TestParseMeta(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		wantChannel entities.Channel
		wantDest    string
		wantFrom    string
		wantContent string
		wantName    string
		wantErr     error
	}{
		{"whatsapp text", whatsAppText, entities.ChannelWhatsApp, "1555", "62811", "Halo", "Budi", nil},
		{"whatsapp image without caption", whatsAppImage, entities.ChannelWhatsApp, "1555", "62811", "[image]", "", nil},
		{"whatsapp button reply", whatsAppButton, entities.ChannelWhatsApp, "1555", "62811", "Yes please", "", nil},
		{"whatsapp status callback", whatsAppStatus, "", "", "", "", "", entities.ErrNothingToRoute},
		{"instagram text", instagramText, entities.ChannelInstagram, "ig-page", "igsid-1", "Is this in stock?", "Instagram User", nil},
		{"facebook echo", facebookEcho, "", "", "", "", "", entities.ErrNothingToRoute},
		{"unknown object", `{"object":"user"}`, "", "", "", "", "", entities.ErrMalformedPayload},
		{"not json", `{"object":`, "", "", "", "", "", entities.ErrMalformedPayload},
		{"whatsapp without entry", `{"object":"whatsapp_business_account","entry":[]}`, "", "", "", "", "", entities.ErrMalformedPayload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			evt, err := ParseMeta([]byte(tt.body))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseMeta: %v", err)
			}
			if evt.Channel != tt.wantChannel || evt.Destination != tt.wantDest || evt.ExternalID != tt.wantFrom {
				t.Errorf("routing = %s/%s/%s", evt.Channel, evt.Destination, evt.ExternalID)
			}
			if evt.Content != tt.wantContent || evt.SenderName != tt.wantName {
				t.Errorf("content=%q name=%q", evt.Content, evt.SenderName)
			}
		})
	}
}

func TestParseWhatsAppKeepsAttachment(t *testing.T) {
	evt, err := ParseWhatsApp([]byte(whatsAppImage))
	if err != nil {
		t.Fatal(err)
	}
	atts, ok := evt.Metadata[entities.MetaAttachments].([]Attachment)
	if !ok || len(atts) != 1 || atts[0].ID != "media-1" {
		t.Errorf("attachments = %#v", evt.Metadata[entities.MetaAttachments])
	}
	if evt.ProviderMessageID != "wamid.B" {
		t.Errorf("provider id = %q", evt.ProviderMessageID)
	}
}

func TestParseWhatsAppMissingRoutingKeys(t *testing.T) {
	body := `{"object":"whatsapp_business_account","entry":[{"changes":[{"value":{"messages":[{"type":"text","text":{"body":"hi"}}]}}]}]}`
	_, err := ParseWhatsApp([]byte(body))
	var perr *entities.PayloadError
	if !errors.As(err, &perr) {
		t.Fatalf("err = %v, want PayloadError", err)
	}
	if len(perr.Fields) != 2 {
		t.Errorf("fields = %v, want destination and sender", perr.Fields)
	}
}

func TestParseEmail(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		wantFrom    string
		wantTo      string
		wantName    string
		wantContent string
		wantSubject string
		wantErr     error
	}{
		{
			name:     "postmark style",
			body:     `{"From":"Jane Doe <Jane@Example.com>","To":"support@acme.test","Subject":"Order 42","TextBody":"Where is it?"}`,
			wantFrom: "jane@example.com", wantTo: "support@acme.test", wantName: "Jane Doe", wantContent: "Where is it?", wantSubject: "Order 42",
		},
		{
			name:     "lowercase keys and list recipient",
			body:     `{"from":"bob@example.com","to":["Help <Support@Acme.test>"],"subject":" Hi ","text":"hello"}`,
			wantFrom: "bob@example.com", wantTo: "support@acme.test", wantName: "bob", wantContent: "hello", wantSubject: "Hi",
		},
		{
			name:     "body field",
			body:     `{"from":"a@b.test","to":"x@y.test, z@y.test","body":"plain"}`,
			wantFrom: "a@b.test", wantTo: "x@y.test", wantName: "a", wantContent: "plain",
		},
		{name: "no text", body: `{"from":"a@b.test","to":"x@y.test"}`, wantErr: entities.ErrNothingToRoute},
		{name: "no sender", body: `{"to":"x@y.test","text":"hi"}`, wantErr: entities.ErrMalformedPayload},
		{name: "bad json", body: `[`, wantErr: entities.ErrMalformedPayload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			evt, err := ParseEmail([]byte(tt.body))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseEmail: %v", err)
			}
			if evt.ExternalID != tt.wantFrom || evt.Destination != tt.wantTo || evt.SenderName != tt.wantName {
				t.Errorf("from=%q to=%q name=%q", evt.ExternalID, evt.Destination, evt.SenderName)
			}
			if evt.Content != tt.wantContent || evt.Metadata[entities.MetaSubject] != tt.wantSubject {
				t.Errorf("content=%q subject=%v", evt.Content, evt.Metadata[entities.MetaSubject])
			}
		})
	}
}

func TestParseWeb(t *testing.T) {
	evt, err := ParseWeb([]byte(`{"visitor_id":"v-1","tenant_id":"t1","content":"hi","metadata":{"page":"/pricing"}}`))
	if err != nil {
		t.Fatal(err)
	}
	if evt.Destination != "t1" || evt.ExternalID != "v-1" || evt.Metadata["page"] != "/pricing" {
		t.Errorf("evt = %+v", evt)
	}

	global, err := ParseWeb([]byte(`{"visitor_id":"v-2","content":"hi"}`))
	if err != nil || global.Destination != "" {
		t.Errorf("global web evt = %+v, %v", global, err)
	}
	if _, err := ParseWeb([]byte(`{"visitor_id":"v-2","content":"  "}`)); !errors.Is(err, entities.ErrNothingToRoute) {
		t.Errorf("blank content err = %v", err)
	}
	if _, err := ParseWeb([]byte(`{"content":"hi"}`)); !errors.Is(err, entities.ErrMalformedPayload) {
		t.Errorf("missing visitor err = %v", err)
	}
}

func TestParseTelegram(t *testing.T) {
	body := `{"update_id":1,"message":{"message_id":7,"from":{"id":99,"first_name":"Ana","last_name":"Lee","username":"ana"},"chat":{"id":99,"type":"private"},"date":1700000000,"text":"hola"}}`
	evt, err := ParseTelegram("tg-key", []byte(body))
	if err != nil {
		t.Fatal(err)
	}
	if evt.Destination != "tg-key" || evt.ExternalID != "99" || evt.SenderName != "Ana Lee" || evt.ProviderMessageID != "7" {
		t.Errorf("evt = %+v", evt)
	}

	if _, err := ParseTelegram("tg-key", []byte(`{"update_id":2}`)); !errors.Is(err, entities.ErrNothingToRoute) {
		t.Errorf("update without message err = %v", err)
	}
	if _, err := ParseTelegram("tg-key", []byte(`{"update_id":3,"message":{"message_id":1,"text":"x"}}`)); !errors.Is(err, entities.ErrMalformedPayload) {
		t.Errorf("message without chat err = %v", err)
	}
}
