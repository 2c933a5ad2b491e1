// Evertrail - Audit Event Pipeline and Trail Analytics
// Copyright 2026 Evertrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/evertrail/evertrail

package bus

import (
	"strings"
	"testing"
)

func TestWildcardTopicsCoverAllNamespaces(t *testing.T) {
	topics := WildcardTopics()
	if len(topics) != len(Namespaces) {
		t.Fatalf("len = %d, want %d", len(topics), len(Namespaces))
	}

	seen := make(map[string]bool, len(topics))
	for i, topic := range topics {
		if !strings.HasSuffix(topic, ".>") {
			t.Errorf("topic %q missing trailing wildcard", topic)
		}
		if got, want := topic, Namespaces[i]+".>"; got != want {
			t.Errorf("topic[%d] = %q, want %q", i, got, want)
		}
		if seen[topic] {
			t.Errorf("duplicate topic %q", topic)
		}
		seen[topic] = true
	}

	for _, ns := range []string{"security", "compliance", "ai"} {
		if !seen[ns+".>"] {
			t.Errorf("namespace %s not covered", ns)
		}
	}
}

func TestDefaultStreamConfig(t *testing.T) {
	cfg := DefaultStreamConfig()
	if cfg.Name != "AUDIT" {
		t.Errorf("name = %s, want AUDIT", cfg.Name)
	}
	if len(cfg.Subjects) != len(Namespaces) {
		t.Errorf("subjects = %d, want %d", len(cfg.Subjects), len(Namespaces))
	}
	if cfg.MaxAge <= 0 {
		t.Error("expected bounded stream age")
	}
}
