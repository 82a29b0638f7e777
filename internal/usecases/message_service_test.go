package usecases

import (
	"context"
	"errors"
	"testing"

	"talk2chat/internal/entities"
)

func whatsAppEvent(from, text string) InboundEvent {
	return InboundEvent{
		Channel:     entities.ChannelWhatsApp,
		Destination: "1555",
		ExternalID:  from,
		SenderName:  "Budi",
		Content:     text,
	}
}

func TestHandleInboundWhatsAppFirstContactWithoutKey(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res, err := f.svc.HandleInbound(ctx, whatsAppEvent("62811", "Halo"))
	if err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	if !res.Created || res.Reply != nil {
		t.Fatalf("created=%v reply=%v", res.Created, res.Reply)
	}
	if got := len(f.store.Sessions()); got != 1 {
		t.Fatalf("sessions = %d, want 1", got)
	}
	msgs := f.messages(t, res.Session.ID)
	if len(msgs) != 1 || msgs[0].SenderType != entities.SenderVisitor || msgs[0].Content != "Halo" {
		t.Fatalf("messages = %+v", msgs)
	}
	if f.provider.callCount() != 0 || f.relay.count() != 0 {
		t.Errorf("provider calls=%d relays=%d, want none without a key", f.provider.callCount(), f.relay.count())
	}
	if *res.Session.TenantID != "t1" || res.Session.VisitorName != "Budi" {
		t.Errorf("session = %+v", res.Session)
	}

	want := []entities.EventType{entities.EventSessionInsert, entities.EventMessageInsert}
	got := f.pub.types()
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func TestHandleInboundAIReplyRelayedOnce(t *testing.T) {
	f := newFixture(t, map[string]string{"openai": "sk-env"})
	ctx := context.Background()

	res, err := f.svc.HandleInbound(ctx, whatsAppEvent("62811", "Do you ship to Bali?"))
	if err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	if res.Reply == nil || res.Reply.SenderType != entities.SenderAI {
		t.Fatalf("reply = %+v", res.Reply)
	}
	if f.relay.count() != 1 {
		t.Fatalf("relays = %d, want 1", f.relay.count())
	}
	sent := f.relay.sent[0]
	if sent.To != "62811" || sent.Credentials.Token != "wa-token" || sent.Credentials.AccountID != "1555" {
		t.Errorf("outbound = %+v", sent)
	}

	stored, err := f.store.GetMessage(ctx, res.Reply.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.DeliveryStatus != entities.DeliverySent || stored.ProviderMessageID() != "provider-1" {
		t.Errorf("delivery = %s id=%q", stored.DeliveryStatus, stored.ProviderMessageID())
	}
	if used, _ := f.store.MonthAIReplies(ctx, "t1"); used != 1 {
		t.Errorf("month usage = %d, want 1", used)
	}
	if f.provider.lastCall().apiKey != "sk-env" {
		t.Errorf("api key = %q", f.provider.lastCall().apiKey)
	}
}

func TestHandleInboundWebNeverRelays(t *testing.T) {
	f := newFixture(t, map[string]string{"openai": "sk-env"})
	ctx := context.Background()

	first, err := f.svc.HandleInbound(ctx, InboundEvent{Channel: entities.ChannelWeb, Destination: "t1", ExternalID: "visitor-1", Content: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.svc.HandleInbound(ctx, InboundEvent{Channel: entities.ChannelWeb, Destination: "t1", ExternalID: "visitor-1", Content: "anyone?"})
	if err != nil {
		t.Fatal(err)
	}

	if first.Session.ID != second.Session.ID || second.Created {
		t.Fatalf("web messages split across sessions %s / %s", first.Session.ID, second.Session.ID)
	}
	if f.relay.count() != 0 {
		t.Errorf("web replies relayed %d times", f.relay.count())
	}
	msgs := f.messages(t, first.Session.ID)
	if countSender(msgs, entities.SenderVisitor) != 2 || countSender(msgs, entities.SenderAI) != 2 {
		t.Errorf("messages = %+v", msgs)
	}
}

func TestHandleInboundUnknownEmailRecipient(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.HandleInbound(context.Background(), InboundEvent{
		Channel:     entities.ChannelEmail,
		Destination: "nobody@elsewhere.test",
		ExternalID:  "jane@example.com",
		Content:     "hello?",
	})
	if !errors.Is(err, entities.ErrTenantNotFound) {
		t.Fatalf("err = %v, want ErrTenantNotFound", err)
	}
	if n := len(f.store.Sessions()); n != 0 {
		t.Errorf("sessions = %d, want 0", n)
	}
	if len(f.pub.types()) != 0 {
		t.Error("events published for an unroutable message")
	}
}

func TestHandleInboundAssignedSessionGetsNoAI(t *testing.T) {
	f := newFixture(t, map[string]string{"openai": "sk-env"})
	ctx := context.Background()

	// Seed the session, then hand it to an agent.
	f.provider.err = errors.New("unused")
	res, err := f.svc.HandleInbound(ctx, whatsAppEvent("62811", "first"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Assign(ctx, res.Session.ID, strPtr("agent-1")); err != nil {
		t.Fatal(err)
	}
	calls := f.provider.callCount()
	f.provider.err = nil

	res, err = f.svc.HandleInbound(ctx, whatsAppEvent("62811", "second"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Reply != nil || f.provider.callCount() != calls {
		t.Errorf("assigned session got an AI reply")
	}
	if countSender(f.messages(t, res.Session.ID), entities.SenderAI) != 0 {
		t.Error("AI message stored for assigned session")
	}
}

func TestResolvedSessionStartsFresh(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	first, _ := f.svc.HandleInbound(ctx, whatsAppEvent("62811", "help"))
	if _, err := f.svc.SetStatus(ctx, first.Session.ID, entities.StatusResolved); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	second, err := f.svc.HandleInbound(ctx, whatsAppEvent("62811", "me again"))
	if err != nil {
		t.Fatal(err)
	}
	if second.Session.ID == first.Session.ID || !second.Created {
		t.Error("resolved session was reopened")
	}
	if _, err := f.svc.SetStatus(ctx, first.Session.ID, entities.StatusActive); !errors.Is(err, entities.ErrInvalidTransition) {
		t.Errorf("reopen err = %v, want ErrInvalidTransition", err)
	}
}

func TestPostAgentMessage(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	res, _ := f.svc.HandleInbound(ctx, whatsAppEvent("62811", "help"))

	msg, dr, err := f.svc.PostAgentMessage(ctx, res.Session.ID, "agent-1", "Sari", "  On it!  ")
	if err != nil {
		t.Fatalf("PostAgentMessage: %v", err)
	}
	if msg.Content != "On it!" || msg.SenderType != entities.SenderAgent {
		t.Errorf("message = %+v", msg)
	}
	if dr.Status != entities.DeliverySent || f.relay.count() != 1 {
		t.Errorf("dispatch = %+v relays=%d", dr, f.relay.count())
	}

	// Relay failures come back to the caller but keep the stored message.
	f.relay.errs = []error{&entities.RelayError{Channel: entities.ChannelWhatsApp, Status: 401}}
	msg, _, err = f.svc.PostAgentMessage(ctx, res.Session.ID, "agent-1", "Sari", "still there?")
	var relayErr *entities.RelayError
	if !errors.As(err, &relayErr) {
		t.Fatalf("err = %v, want RelayError", err)
	}
	stored, _ := f.store.GetMessage(ctx, msg.ID)
	if stored == nil || stored.DeliveryStatus != entities.DeliveryFailed {
		t.Errorf("stored = %+v", stored)
	}

	if _, _, err := f.svc.PostAgentMessage(ctx, res.Session.ID, "agent-1", "Sari", "   "); !errors.Is(err, entities.ErrNothingToRoute) {
		t.Errorf("empty content err = %v", err)
	}
}

func TestMessengerReplyThroughSiblingPage(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	// t1 only configured Instagram; Messenger traffic for the linked page
	// arrives under the same page id.
	res, err := f.svc.HandleInbound(ctx, InboundEvent{Channel: entities.ChannelFacebook, Destination: "ig-page", ExternalID: "psid-9", Content: "halo"})
	if err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	if res.Session.Channel != entities.ChannelFacebook || res.Session.TenantID == nil || *res.Session.TenantID != "t1" {
		t.Fatalf("session = %+v", res.Session)
	}

	_, dr, err := f.svc.PostAgentMessage(ctx, res.Session.ID, "agent-1", "Sari", "On it")
	if err != nil || dr.Status != entities.DeliverySent {
		t.Fatalf("PostAgentMessage = %+v, %v", dr, err)
	}
	sent := f.relay.sent[len(f.relay.sent)-1]
	if sent.Credentials.AccountID != "ig-page" || sent.Credentials.Token != "ig-token" {
		t.Errorf("relayed with %+v, want the instagram page credentials", sent.Credentials)
	}
}

func TestSessionMutationsPublishUpdates(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	res, _ := f.svc.HandleInbound(ctx, whatsAppEvent("62811", "help"))
	before := len(f.pub.types())

	sess, err := f.svc.SetTags(ctx, res.Session.ID, []string{" VIP ", "vip", "billing", ""})
	if err != nil {
		t.Fatal(err)
	}
	if len(sess.Tags) != 2 || sess.Tags[0] != "vip" || sess.Tags[1] != "billing" {
		t.Errorf("tags = %v", sess.Tags)
	}
	if sess, _ = f.svc.Assign(ctx, res.Session.ID, strPtr("agent-1")); sess.AssignedTo == nil {
		t.Error("assign did not stick")
	}
	if sess, _ = f.svc.Unassign(ctx, res.Session.ID); sess.AssignedTo != nil {
		t.Error("unassign did not clear the agent")
	}
	if _, err := f.svc.SetStatus(ctx, res.Session.ID, entities.StatusEscalated); err != nil {
		t.Fatal(err)
	}

	types := f.pub.types()[before:]
	if len(types) != 4 {
		t.Fatalf("events = %v, want 4 updates", types)
	}
	for _, ty := range types {
		if ty != entities.EventSessionUpdate {
			t.Errorf("event %s, want session_update", ty)
		}
	}
}

func TestHistoryOrdered(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	res, _ := f.svc.HandleInbound(ctx, whatsAppEvent("62811", "one"))
	_, _ = f.svc.HandleInbound(ctx, whatsAppEvent("62811", "two"))
	_, _, _ = f.svc.PostAgentMessage(ctx, res.Session.ID, "a", "A", "three")

	msgs, err := f.svc.History(ctx, res.Session.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 || msgs[0].Content != "one" || msgs[2].Content != "three" {
		t.Errorf("history = %+v", msgs)
	}
	if _, err := f.svc.History(ctx, "missing", 10); !errors.Is(err, entities.ErrSessionNotFound) {
		t.Errorf("missing session err = %v", err)
	}
}

func TestNormalizeTags(t *testing.T) {
	tags := make([]string, 0, 30)
	for i := 0; i < 30; i++ {
		tags = append(tags, string(rune('a'+i%26))+string(rune('a'+i/26)))
	}
	if got := NormalizeTags(tags); len(got) != MaxTags {
		t.Errorf("len = %d, want %d", len(got), MaxTags)
	}
}
