package usecases

import (
	"context"
	"errors"
	"strings"
	"testing"

	"talk2chat/internal/entities"
)

func TestParseInsights(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    entities.Insights
		wantErr bool
	}{
		{
			name: "plain json",
			raw:  `{"summary":"Asked about shipping.","sentiment":"positive","resolution_category":"Shipping"}`,
			want: entities.Insights{Summary: "Asked about shipping.", Sentiment: "positive", ResolutionCategory: "shipping"},
		},
		{
			name: "fenced with prose",
			raw:  "Here you go:\n```json\n{\"summary\": \" Refund issued. \", \"sentiment\": \"NEGATIVE\", \"resolution_category\": \"refund\"}\n```",
			want: entities.Insights{Summary: "Refund issued.", Sentiment: "negative", ResolutionCategory: "refund"},
		},
		{
			name: "unknown sentiment",
			raw:  `{"summary":"ok","sentiment":"mixed"}`,
			want: entities.Insights{Summary: "ok", Sentiment: "neutral"},
		},
		{name: "no object", raw: "I cannot summarize this.", wantErr: true},
		{name: "broken object", raw: `{"summary": }`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseInsights(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("insights = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestSummarizeStoresInsights(t *testing.T) {
	f := newFixture(t, map[string]string{"openai": "sk-env"})
	f.provider.reply = `{"summary":"Shipping question answered.","sentiment":"positive","resolution_category":"shipping"}`
	sess, _ := seedSession(t, f, visitor("Do you ship to Bali?"), entities.ChatMessage{SenderType: entities.SenderAgent, Content: "Yes, 3 days."})
	s := NewSummarizer(f.ai, f.store, f.store.Messages(), f.pub)

	in, err := s.Summarize(context.Background(), sess)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if in.Sentiment != "positive" {
		t.Errorf("insights = %+v", in)
	}

	stored, _ := f.store.Get(context.Background(), sess.ID)
	if stored.Summary == nil || *stored.Summary != "Shipping question answered." || *stored.ResolutionCategory != "shipping" {
		t.Errorf("stored = %+v", stored)
	}
	call := f.provider.lastCall()
	transcript := call.messages[len(call.messages)-1].Content
	if !strings.Contains(transcript, "visitor: Do you ship to Bali?") || !strings.Contains(transcript, "agent: Yes, 3 days.") {
		t.Errorf("transcript = %q", transcript)
	}
	if types := f.pub.types(); len(types) != 1 || types[0] != entities.EventSessionUpdate {
		t.Errorf("events = %v", types)
	}
}

func TestSummarizeEmptySession(t *testing.T) {
	f := newFixture(t, map[string]string{"openai": "sk-env"})
	sess, _ := seedSession(t, f)
	s := NewSummarizer(f.ai, f.store, f.store.Messages(), f.pub)
	if _, err := s.Summarize(context.Background(), sess); !errors.Is(err, entities.ErrNothingToRoute) {
		t.Errorf("err = %v, want ErrNothingToRoute", err)
	}
	if f.provider.callCount() != 0 {
		t.Error("provider called for an empty transcript")
	}
}
