// Copyright 2024-2026 Aiku AI

package bridge

import "strings"

// entityKind names which cache a dressed field resolves against.
type entityKind int

const (
	kindUser entityKind = iota
	kindChannel
	kindTeam
	kindBot
)

// dressMaxDepth bounds how deep nested maps are dressed. Arrays do not
// consume depth; only map nesting does.
const dressMaxDepth = 2

// dressFields is the enrichment schema: payload fields whose string value
// is an entity id worth resolving. Exact names are listed here; suffixed
// variants (reply_user, parent_user_id, ...) match via dressSuffixes.
var dressFields = map[string]entityKind{
	"user":        kindUser,
	"user_id":     kindUser,
	"creator":     kindUser,
	"inviter":     kindUser,
	"channel":     kindChannel,
	"channel_id":  kindChannel,
	"team":        kindTeam,
	"team_id":     kindTeam,
	"source_team": kindTeam,
	"bot":         kindBot,
	"bot_id":      kindBot,
}

var dressSuffixes = map[string]entityKind{
	"_user":       kindUser,
	"_user_id":    kindUser,
	"_channel":    kindChannel,
	"_channel_id": kindChannel,
	"_team":       kindTeam,
	"_team_id":    kindTeam,
	"_bot_id":     kindBot,
}

// dressKind classifies a field name against the schema; exact names win
// over suffix matches.
func dressKind(field string) (entityKind, bool) {
	if kind, ok := dressFields[field]; ok {
		return kind, true
	}
	for suffix, kind := range dressSuffixes {
		if strings.HasSuffix(field, suffix) {
			return kind, true
		}
	}
	return 0, false
}

// Dress returns a copy of obj with resolved-entity side fields attached:
// for every schema field whose id resolves in the cache, a sibling
// "<field>Object" carries the full entity. The input is never mutated.
// Ids that miss the cache are left alone, and an existing "<field>Object"
// key is never overwritten, so dressing is idempotent. Bot misses kick off
// a background fetch so a later event for the same bot dresses fully.
func (s *Session) Dress(obj map[string]any) map[string]any {
	if obj == nil {
		return nil
	}
	return s.dressMap(obj, 0)
}

func (s *Session) dressMap(obj map[string]any, depth int) map[string]any {
	out := make(map[string]any, len(obj))
	for key, value := range obj {
		out[key] = s.dressValue(value, depth)
	}
	for key, value := range obj {
		id, ok := value.(string)
		if !ok || id == "" {
			continue
		}
		kind, ok := dressKind(key)
		if !ok {
			continue
		}
		objectKey := key + "Object"
		if _, exists := out[objectKey]; exists {
			continue
		}
		if entity, found := s.resolveEntity(kind, id); found {
			out[objectKey] = entity
		}
	}
	return out
}

// dressValue recurses into nested containers. Maps cost a level of depth;
// arrays are walked transparently at the current depth.
func (s *Session) dressValue(value any, depth int) any {
	switch v := value.(type) {
	case map[string]any:
		if depth >= dressMaxDepth {
			return v
		}
		return s.dressMap(v, depth+1)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = s.dressValue(item, depth)
		}
		return out
	default:
		return value
	}
}

// resolveEntity looks an id up in the cache for one schema kind. The team
// kind only matches the session's own team; foreign team ids stay bare.
func (s *Session) resolveEntity(kind entityKind, id string) (any, bool) {
	switch kind {
	case kindUser:
		if m, ok := s.state.MemberByID(id); ok {
			return m, true
		}
	case kindChannel:
		if ch, ok := s.state.ChannelByID(id); ok {
			return ch, true
		}
	case kindTeam:
		if team, ok := s.state.Team(); ok && team.ID == id {
			return team, true
		}
	case kindBot:
		if bot, ok := s.FindBotByID(id); ok {
			return bot, true
		}
	}
	return nil, false
}
