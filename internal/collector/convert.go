// Evertrail - Audit Event Pipeline and Trail Analytics
// Copyright 2026 Evertrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/evertrail/evertrail

package collector

import (
	"fmt"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/evertrail/evertrail/internal/audit"
)

// parseMessage decodes a bus payload into a raw audit event. The bus
// subject fills in the event type when the payload omits it, and missing
// actor/result fields are inferred so every observed event is auditable.
func parseMessage(payload []byte, subject string) (*audit.RawEvent, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("empty payload on subject %q", subject)
	}

	var raw audit.RawEvent
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("decode event on subject %q: %w", subject, err)
	}

	if raw.EventType == "" {
		raw.EventType = subject
	}
	if raw.EventType == "" {
		return nil, fmt.Errorf("event without type on subject %q", subject)
	}
	if raw.Result == "" {
		raw.Result = audit.ResultSuccess
	}
	if raw.Actor.Type == "" {
		raw.Actor.Type = inferActorType(raw.EventType, raw.Actor.ID)
	}

	return &raw, nil
}

// inferActorType derives the actor type for events published without one.
// AI and system namespaces imply machine actors; otherwise the actor ID
// prefix convention decides, defaulting to system for anonymous events.
func inferActorType(eventType, actorID string) audit.ActorType {
	switch {
	case strings.HasPrefix(eventType, "ai."):
		return audit.ActorAI
	case strings.HasPrefix(eventType, "system."):
		return audit.ActorSystem
	}

	switch {
	case strings.HasPrefix(actorID, "team-"):
		return audit.ActorTeam
	case strings.HasPrefix(actorID, "partner-"):
		return audit.ActorPartner
	case actorID != "":
		return audit.ActorUser
	default:
		return audit.ActorSystem
	}
}
