package infrastructure

import (
	"strings"
	"testing"
)

func TestMigrationsKeepHistoryOnSessionDelete(t *testing.T) {
	var table string
	for _, m := range migrations {
		if strings.Contains(strings.ToUpper(m.sql), "ON DELETE CASCADE") {
			t.Errorf("%s cascades deletes", m.name)
		}
		if m.name == "global_chat_messages table" {
			table = m.sql
		}
	}
	if !strings.Contains(table, "REFERENCES global_chat_sessions(id),") {
		t.Errorf("messages must reference their session without an action:\n%s", table)
	}
}

func TestMigrationsAreIdempotent(t *testing.T) {
	for _, m := range migrations {
		t.Run(m.name, func(t *testing.T) {
			sql := strings.ToUpper(m.sql)
			if !strings.Contains(sql, "IF NOT EXISTS") && !strings.Contains(sql, "IF EXISTS") {
				t.Errorf("migration reruns on every start and must be guarded:\n%s", m.sql)
			}
		})
	}
}
