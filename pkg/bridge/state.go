// Copyright 2024-2026 Aiku AI

package bridge

import (
	"encoding/json"
	"strings"
	"sync"
)

// Channel is a conference, group, or direct-message channel. The id prefix
// encodes the kind (C/G/D), mirrored by the boolean flags.
type Channel struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	IsChannel  bool   `json:"is_channel,omitempty"`
	IsGroup    bool   `json:"is_group,omitempty"`
	IsIM       bool   `json:"is_im,omitempty"`
	IsMPIM     bool   `json:"is_mpim,omitempty"`
	IsArchived bool   `json:"is_archived,omitempty"`
	IsMember   bool   `json:"is_member,omitempty"`
	// User is the peer member id for direct-message channels.
	User string `json:"user,omitempty"`
}

// Member is a workspace user.
type Member struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	RealName string `json:"real_name,omitempty"`
	Deleted  bool   `json:"deleted,omitempty"`
	IsBot    bool   `json:"is_bot,omitempty"`
	TeamID   string `json:"team_id,omitempty"`
}

// Bot is a bot integration. Bots are fetched lazily on first reference and
// memoized until the next full refresh.
type Bot struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	AppID   string `json:"app_id,omitempty"`
	Deleted bool   `json:"deleted,omitempty"`
}

// Team is the single workspace record for a session.
type Team struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Domain string `json:"domain,omitempty"`
}

// Self is the authenticated identity behind the session's token.
type Self struct {
	ID     string `json:"user_id"`
	Name   string `json:"user"`
	TeamID string `json:"team_id"`
	Team   string `json:"team"`
}

// DNDStatus mirrors a member's do-not-disturb settings.
type DNDStatus struct {
	DNDEnabled    bool  `json:"dnd_enabled"`
	NextStartTS   int64 `json:"next_dnd_start_ts,omitempty"`
	NextEndTS     int64 `json:"next_dnd_end_ts,omitempty"`
	SnoozeEnabled bool  `json:"snooze_enabled,omitempty"`
}

// Snapshot is a point-in-time copy of the cache handed to collaborators.
type Snapshot struct {
	Channels map[string]Channel   `json:"channels"`
	Members  map[string]Member    `json:"members"`
	Bots     map[string]Bot       `json:"bots"`
	Team     *Team                `json:"team,omitempty"`
	Self     *Self                `json:"self,omitempty"`
	Presence map[string]string    `json:"presence"`
	DND      map[string]DNDStatus `json:"dnd"`
}

// State is the in-memory entity cache a session keeps in sync with the
// backend. Every sub-map starts absent and initializes lazily: lookups on
// a not-yet-loaded map are plain misses, never a panic.
type State struct {
	mu       sync.RWMutex
	channels map[string]Channel
	members  map[string]Member
	bots     map[string]Bot
	team     *Team
	self     *Self
	presence map[string]string
	dnd      map[string]DNDStatus
}

// NewState creates an empty cache.
func NewState() *State {
	return &State{}
}

// decodePayload round-trips a raw API map into a typed entity.
func decodePayload(src, dst any) error {
	raw, err := json.Marshal(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}

func (s *State) UpsertChannel(ch Channel) {
	if ch.ID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.channels == nil {
		s.channels = make(map[string]Channel)
	}
	s.channels[ch.ID] = ch
}

// RemoveChannel deletes a single channel. Entries are only ever removed
// individually for explicit deletion events; wholesale replacement happens
// via ReplaceChannels during a full refresh.
func (s *State) RemoveChannel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.channels, id)
}

// ReplaceChannels swaps in the full-refresh channel set.
func (s *State) ReplaceChannels(channels map[string]Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels = channels
}

func (s *State) UpsertMember(m Member) {
	if m.ID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.members == nil {
		s.members = make(map[string]Member)
	}
	s.members[m.ID] = m
}

// ReplaceMembers swaps in the full-refresh member set.
func (s *State) ReplaceMembers(members map[string]Member) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members = members
}

func (s *State) UpsertBot(b Bot) {
	if b.ID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bots == nil {
		s.bots = make(map[string]Bot)
	}
	s.bots[b.ID] = b
}

// BotIDs returns the ids of every memoized bot.
func (s *State) BotIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.bots))
	for id := range s.bots {
		ids = append(ids, id)
	}
	return ids
}

func (s *State) SetTeam(t Team) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.team = &t
}

func (s *State) SetSelf(self Self) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.self = &self
}

func (s *State) UpsertPresence(memberID, presence string) {
	if memberID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.presence == nil {
		s.presence = make(map[string]string)
	}
	s.presence[memberID] = presence
}

// ResetPresence discards all presence state. There is no bulk presence
// API, so stale entries cannot be reconciled; a fresh connection starts
// empty.
func (s *State) ResetPresence() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presence = nil
}

func (s *State) UpsertDND(memberID string, status DNDStatus) {
	if memberID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dnd == nil {
		s.dnd = make(map[string]DNDStatus)
	}
	s.dnd[memberID] = status
}

// Clear empties the whole cache. Used on session teardown.
func (s *State) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels = nil
	s.members = nil
	s.bots = nil
	s.team = nil
	s.self = nil
	s.presence = nil
	s.dnd = nil
}

func (s *State) ChannelByID(id string) (Channel, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ch, ok := s.channels[id]
	return ch, ok
}

// ChannelByName resolves a channel reference. "@name" forces a direct
// channel via member lookup, "#name" forces a named, non-archived room,
// and a bare name tries direct first, then room. A miss is (zero, false),
// never an error.
func (s *State) ChannelByName(name string) (Channel, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch {
	case strings.HasPrefix(name, "@"):
		return s.directChannelLocked(strings.TrimPrefix(name, "@"))
	case strings.HasPrefix(name, "#"):
		return s.roomChannelLocked(strings.TrimPrefix(name, "#"))
	default:
		if ch, ok := s.directChannelLocked(name); ok {
			return ch, true
		}
		return s.roomChannelLocked(name)
	}
}

// directChannelLocked resolves a member name to their direct-message
// channel. Deleted members never match.
func (s *State) directChannelLocked(memberName string) (Channel, bool) {
	var member Member
	found := false
	for _, m := range s.members {
		if m.Name == memberName && !m.Deleted {
			member = m
			found = true
			break
		}
	}
	if !found {
		return Channel{}, false
	}
	for _, ch := range s.channels {
		if ch.IsIM && ch.User == member.ID {
			return ch, true
		}
	}
	return Channel{}, false
}

// roomChannelLocked matches non-archived conference/group channels by
// their literal name.
func (s *State) roomChannelLocked(name string) (Channel, bool) {
	for _, ch := range s.channels {
		if ch.IsIM || ch.IsArchived {
			continue
		}
		if ch.Name == name {
			return ch, true
		}
	}
	return Channel{}, false
}

func (s *State) MemberByID(id string) (Member, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[id]
	return m, ok
}

// MemberByName matches non-deleted members by name.
func (s *State) MemberByName(name string) (Member, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.members {
		if m.Name == name && !m.Deleted {
			return m, true
		}
	}
	return Member{}, false
}

func (s *State) BotByID(id string) (Bot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bots[id]
	return b, ok
}

func (s *State) Team() (Team, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.team == nil {
		return Team{}, false
	}
	return *s.team, true
}

func (s *State) Self() (Self, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.self == nil {
		return Self{}, false
	}
	return *s.self, true
}

func (s *State) Presence(memberID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.presence[memberID]
	return p, ok
}

func (s *State) DND(memberID string) (DNDStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.dnd[memberID]
	return d, ok
}

// Snapshot copies the whole cache.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		Channels: make(map[string]Channel, len(s.channels)),
		Members:  make(map[string]Member, len(s.members)),
		Bots:     make(map[string]Bot, len(s.bots)),
		Presence: make(map[string]string, len(s.presence)),
		DND:      make(map[string]DNDStatus, len(s.dnd)),
	}
	for id, ch := range s.channels {
		snap.Channels[id] = ch
	}
	for id, m := range s.members {
		snap.Members[id] = m
	}
	for id, b := range s.bots {
		snap.Bots[id] = b
	}
	for id, p := range s.presence {
		snap.Presence[id] = p
	}
	for id, d := range s.dnd {
		snap.DND[id] = d
	}
	if s.team != nil {
		team := *s.team
		snap.Team = &team
	}
	if s.self != nil {
		self := *s.self
		snap.Self = &self
	}
	return snap
}
