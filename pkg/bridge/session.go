// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"go.mau.fi/util/exsync"

	"github.com/aiku/slackflow/pkg/rtm"
)

// outputBufferSize bounds the delivery channel; events past a stalled
// consumer are dropped with a warning rather than blocking the session.
const outputBufferSize = 256

// Transport is the real-time connection a session drives. Production
// sessions use *rtm.Client; tests substitute a fake.
type Transport interface {
	Start(ctx context.Context)
	Events() <-chan rtm.Event
	Call(ctx context.Context, method string, args map[string]any, awaitReply bool) (map[string]any, error)
	CallAPI(ctx context.Context, method string, args map[string]any) (map[string]any, error)
	Close() error
}

// Session is one live bridge session: the connection state machine, the
// entity cache, and the event pipeline for a single token. Sessions are
// created through a Registry, never directly.
type Session struct {
	token     string
	cfg       *Config
	log       zerolog.Logger
	transport Transport
	state     *State
	registry  *Registry
	machine   *stateMachine

	out chan rtm.Event

	// pendingBots deduplicates concurrent background fetches per bot id.
	pendingBots *exsync.Map[string, chan struct{}]

	refreshMu   sync.Mutex
	refreshStop chan struct{}

	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
	closed    chan struct{}
	initOnce  sync.Once
}

// newSession wires a session onto a real RTM transport. The session does
// not connect until start.
func newSession(cfg *Config, registry *Registry) (*Session, error) {
	log := registry.log.With().Str("token_tail", tokenTail(cfg.Token)).Logger()
	api := rtm.NewAPIClient(cfg.Token,
		rtm.WithBaseURL(cfg.APIURL),
		rtm.WithAPILogger(log))
	opts := []rtm.Option{rtm.WithLogger(log)}
	if cfg.PingInterval > 0 {
		opts = append(opts, rtm.WithPingInterval(cfg.PingInterval))
	}
	if cfg.ReplyTimeout > 0 {
		opts = append(opts, rtm.WithReplyTimeout(cfg.ReplyTimeout))
	}
	return newSessionWith(cfg, registry, rtm.NewClient(api, opts...), log), nil
}

// newSessionWith assembles a session around an arbitrary transport.
func newSessionWith(cfg *Config, registry *Registry, transport Transport, log zerolog.Logger) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		token:       cfg.Token,
		cfg:         cfg,
		log:         log,
		transport:   transport,
		state:       NewState(),
		registry:    registry,
		machine:     newStateMachine(),
		out:         make(chan rtm.Event, outputBufferSize),
		pendingBots: exsync.NewMap[string, chan struct{}](),
		runCtx:      ctx,
		runCancel:   cancel,
		closed:      make(chan struct{}),
	}
}

// start launches the event loop and watchdog and kicks the transport off.
func (s *Session) start() {
	s.wg.Add(2)
	go s.eventLoop()
	go s.watchdog()
	s.transport.Start(s.runCtx)
}

// Events returns the session's delivery channel: filtered, dressed push
// events plus lifecycle markers. Closed when the session closes.
func (s *Session) Events() <-chan rtm.Event {
	return s.out
}

// Status returns the current connection state.
func (s *Session) Status() Status {
	return s.machine.Status()
}

// SubscribeTransitions registers a state-change listener. The cancel func
// releases it.
func (s *Session) SubscribeTransitions() (<-chan Transition, func()) {
	return s.machine.subscribe()
}

// GetState returns a point-in-time copy of the entity cache.
func (s *Session) GetState() Snapshot {
	return s.state.Snapshot()
}

func (s *Session) FindChannelByName(name string) (Channel, bool) {
	return s.state.ChannelByName(name)
}

func (s *Session) FindChannelByID(id string) (Channel, bool) {
	return s.state.ChannelByID(id)
}

func (s *Session) FindMemberByName(name string) (Member, bool) {
	return s.state.MemberByName(name)
}

func (s *Session) FindMemberByID(id string) (Member, bool) {
	return s.state.MemberByID(id)
}

// FindBotByID looks a bot up in the cache. A miss reports false immediately
// and starts at most one background fetch per id, so a later lookup for the
// same bot hits.
func (s *Session) FindBotByID(id string) (Bot, bool) {
	if id == "" {
		return Bot{}, false
	}
	if bot, ok := s.state.BotByID(id); ok {
		return bot, true
	}
	marker := make(chan struct{})
	if _, loaded := s.pendingBots.GetOrSet(id, marker); loaded {
		return Bot{}, false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(marker)
		defer s.pendingBots.Delete(id)
		if err := s.fetchBot(s.runCtx, id); err != nil {
			s.log.Warn().Err(err).Str("bot_id", id).Msg("Background bot fetch failed")
		}
	}()
	return Bot{}, false
}

// botFetchDone exposes the pending fetch for a bot id; the channel closes
// when the background fetch settles. Useful for callers that want to retry
// a lookup once population finishes.
func (s *Session) botFetchDone(id string) (<-chan struct{}, bool) {
	return s.pendingBots.Get(id)
}

// eventLoop consumes the transport's event stream until the session closes.
func (s *Session) eventLoop() {
	defer s.wg.Done()
	events := s.transport.Events()
	for {
		select {
		case <-s.closed:
			return
		case evt := <-events:
			s.handleTransportEvent(evt)
		}
	}
}

// handleTransportEvent maps transport lifecycle onto the state machine and
// routes everything else into the push pipeline.
func (s *Session) handleTransportEvent(evt rtm.Event) {
	switch evt.Type {
	case rtm.EventTypeConnecting:
		s.setStatus(StatusConnecting)
	case rtm.EventTypeAuthenticated:
		s.setStatus(StatusAuthenticated)
	case rtm.EventTypeConnected:
		s.setStatus(StatusConnected)
	case rtm.EventTypeHello:
		s.setStatus(StatusReady)
		s.deliver(evt)
	case rtm.EventTypeReconnecting:
		s.setStatus(StatusReconnecting)
	case rtm.EventTypeDisconnecting:
		s.setStatus(StatusDisconnecting)
	case rtm.EventTypeDisconnected:
		s.setStatus(StatusDisconnected)
	case rtm.EventTypeError:
		s.setStatus(StatusError)
		s.deliver(evt)
	default:
		s.handlePush(evt)
		s.deliver(evt)
	}
}

// setStatus advances the state machine and runs the transition's side
// effects: a fresh connection resets presence and (re)starts the refresh
// cycle, losing the connection stops it.
func (s *Session) setStatus(to Status) {
	tr, changed := s.machine.set(to)
	if !changed {
		return
	}
	s.log.Debug().Stringer("from", tr.From).Stringer("to", tr.To).Msg("Connection state changed")
	switch {
	case to == StatusConnected:
		s.state.ResetPresence()
		s.armPeriodicRefresh()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runRefresh()
		}()
	case !to.Active():
		s.disarmPeriodicRefresh()
	}
}

// runRefresh performs one full refresh, emitting the state-initialized
// marker after the first success.
func (s *Session) runRefresh() {
	if err := s.RefreshState(s.runCtx); err != nil {
		s.log.Error().Err(err).Msg("State refresh failed")
		return
	}
	s.initOnce.Do(func() {
		s.deliver(rtm.Event{Type: EventTypeStateInitialized})
	})
}

// armPeriodicRefresh starts the background refresh ticker, replacing any
// previous one.
func (s *Session) armPeriodicRefresh() {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	if s.refreshStop != nil {
		close(s.refreshStop)
	}
	stop := make(chan struct{})
	s.refreshStop = stop
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.RefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-s.closed:
				return
			case <-ticker.C:
				s.runRefresh()
			}
		}
	}()
}

func (s *Session) disarmPeriodicRefresh() {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	if s.refreshStop != nil {
		close(s.refreshStop)
		s.refreshStop = nil
	}
}

// handlePush applies a push event's incremental cache mutation. Unknown
// event types mutate nothing; they still flow to the consumer.
func (s *Session) handlePush(evt rtm.Event) {
	switch evt.Type {
	case "user_change", "team_join":
		var m Member
		if decodePayload(evt.Data["user"], &m) == nil {
			s.state.UpsertMember(m)
		}
	case "bot_added", "bot_changed":
		var b Bot
		if decodePayload(evt.Data["bot"], &b) == nil {
			s.state.UpsertBot(b)
		}
	case "channel_deleted", "group_deleted":
		if id := channelIDFrom(evt.Data["channel"]); id != "" {
			s.state.RemoveChannel(id)
		}
	case "channel_created", "channel_joined", "channel_rename",
		"channel_archive", "channel_unarchive",
		"group_joined", "group_rename", "group_open",
		"group_archive", "group_unarchive",
		"im_created", "im_open":
		// Channel push payloads are partial; fetch the authoritative record
		// instead of merging fragments.
		if id := channelIDFrom(evt.Data["channel"]); id != "" {
			s.goFetchChannel(id)
		}
	case "presence_change":
		presence, _ := evt.Data["presence"].(string)
		if user, ok := evt.Data["user"].(string); ok {
			s.state.UpsertPresence(user, presence)
		}
		if users, ok := evt.Data["users"].([]any); ok {
			for _, u := range users {
				if id, ok := u.(string); ok {
					s.state.UpsertPresence(id, presence)
				}
			}
		}
	case "dnd_updated", "dnd_updated_user":
		user, _ := evt.Data["user"].(string)
		var status DNDStatus
		if user != "" && decodePayload(evt.Data["dnd_status"], &status) == nil {
			s.state.UpsertDND(user, status)
		}
	case "team_rename", "team_domain_change", "team_plan_change",
		"team_pref_change", "team_profile_change", "team_profile_delete",
		"team_profile_reorder", "email_domain_changed":
		// Team pushes carry only the changed field; re-fetch the record.
		s.goRefreshTeam()
	}
}

// channelIDFrom accepts both payload shapes a channel push uses: a bare id
// string or an object with an "id" field.
func channelIDFrom(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case map[string]any:
		id, _ := v["id"].(string)
		return id
	default:
		return ""
	}
}

func (s *Session) goFetchChannel(id string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		resp, err := s.transport.CallAPI(s.runCtx, "conversations.info", map[string]any{"channel": id})
		if err != nil {
			s.log.Warn().Err(err).Str("channel_id", id).Msg("Channel fetch failed")
			return
		}
		var ch Channel
		if decodePayload(resp["channel"], &ch) == nil {
			s.state.UpsertChannel(ch)
		}
	}()
}

func (s *Session) goRefreshTeam() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.refreshTeam(s.runCtx); err != nil {
			s.log.Warn().Err(err).Msg("Team refresh failed")
		}
	}()
}

// deliver pushes an event through the filter and dressing into the output
// channel. A full channel drops the event rather than stalling the session.
func (s *Session) deliver(evt rtm.Event) {
	if !s.passesFilter(evt) {
		return
	}
	evt.Data = s.Dress(evt.Data)
	select {
	case s.out <- evt:
	case <-s.closed:
	default:
		s.log.Warn().Str("type", evt.Type).Msg("Dropping event, consumer not keeping up")
	}
}

// passesFilter applies the configured event filter. Lifecycle and synthetic
// events are always delivered.
func (s *Session) passesFilter(evt rtm.Event) bool {
	switch evt.Type {
	case rtm.EventTypeHello, rtm.EventTypeError, EventTypeStateInitialized:
		return true
	}
	subtype, _ := evt.Data["subtype"].(string)
	return s.cfg.filter.allows(evt.Type, subtype)
}

// RefreshState performs a full cache refresh: channels, members, bots,
// team, identity, and do-not-disturb status, fetched concurrently. Partial
// failure is tolerated and logged; the refresh only errors when every
// sub-fetch fails.
func (s *Session) RefreshState(ctx context.Context) error {
	refreshers := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"channels", s.refreshChannels},
		{"members", s.refreshMembers},
		{"bots", s.refreshBots},
		{"team", s.refreshTeam},
		{"identity", s.refreshIdentity},
		{"dnd", s.refreshDND},
	}

	var (
		mu   sync.Mutex
		errs *multierror.Error
		wg   sync.WaitGroup
	)
	for _, r := range refreshers {
		wg.Add(1)
		go func(name string, fn func(context.Context) error) {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				s.log.Warn().Err(err).Str("subsystem", name).Msg("Refresh subsystem failed")
				mu.Lock()
				errs = multierror.Append(errs, fmt.Errorf("%s: %w", name, err))
				mu.Unlock()
			}
		}(r.name, r.fn)
	}
	wg.Wait()

	if errs.ErrorOrNil() != nil && len(errs.Errors) == len(refreshers) {
		return fmt.Errorf("state refresh failed entirely: %w", errs)
	}
	s.log.Debug().Msg("State refresh complete")
	return nil
}

func (s *Session) refreshChannels(ctx context.Context) error {
	items, err := fetchAll(ctx, s.transport.CallAPI, "conversations.list", "channels", map[string]any{
		"types": "public_channel,private_channel,mpim,im",
		"limit": 1000,
	})
	if err != nil {
		return err
	}
	channels := make(map[string]Channel, len(items))
	for _, item := range items {
		var ch Channel
		if decodePayload(item, &ch) == nil && ch.ID != "" {
			channels[ch.ID] = ch
		}
	}
	s.state.ReplaceChannels(channels)
	return nil
}

func (s *Session) refreshMembers(ctx context.Context) error {
	items, err := fetchAll(ctx, s.transport.CallAPI, "users.list", "members", map[string]any{
		"limit": 1000,
	})
	if err != nil {
		return err
	}
	members := make(map[string]Member, len(items))
	for _, item := range items {
		var m Member
		if decodePayload(item, &m) == nil && m.ID != "" {
			members[m.ID] = m
		}
	}
	s.state.ReplaceMembers(members)
	return nil
}

// refreshBots re-fetches every already-memoized bot. Bots have no list
// endpoint; the set only grows through lazy fetches.
func (s *Session) refreshBots(ctx context.Context) error {
	var errs *multierror.Error
	for _, id := range s.state.BotIDs() {
		if err := s.fetchBot(ctx, id); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

func (s *Session) fetchBot(ctx context.Context, id string) error {
	resp, err := s.transport.CallAPI(ctx, "bots.info", map[string]any{"bot": id})
	if err != nil {
		return fmt.Errorf("bots.info %s: %w", id, err)
	}
	var b Bot
	if err := decodePayload(resp["bot"], &b); err != nil {
		return fmt.Errorf("bots.info %s: %w", id, err)
	}
	s.state.UpsertBot(b)
	return nil
}

func (s *Session) refreshTeam(ctx context.Context) error {
	resp, err := s.transport.CallAPI(ctx, "team.info", nil)
	if err != nil {
		return err
	}
	var team Team
	if err := decodePayload(resp["team"], &team); err != nil {
		return err
	}
	s.state.SetTeam(team)
	return nil
}

func (s *Session) refreshIdentity(ctx context.Context) error {
	resp, err := s.transport.CallAPI(ctx, "auth.test", nil)
	if err != nil {
		return err
	}
	var self Self
	if err := decodePayload(resp, &self); err != nil {
		return err
	}
	s.state.SetSelf(self)
	return nil
}

// refreshDND fetches the session's own do-not-disturb status. It needs the
// identity; when the concurrent identity fetch has not landed yet it
// resolves it itself.
func (s *Session) refreshDND(ctx context.Context) error {
	self, ok := s.state.Self()
	if !ok {
		resp, err := s.transport.CallAPI(ctx, "auth.test", nil)
		if err != nil {
			return err
		}
		if err := decodePayload(resp, &self); err != nil {
			return err
		}
	}
	resp, err := s.transport.CallAPI(ctx, "dnd.info", nil)
	if err != nil {
		return err
	}
	var status DNDStatus
	if err := decodePayload(resp, &status); err != nil {
		return err
	}
	s.state.UpsertDND(self.ID, status)
	return nil
}

// Close tears the session down: the transport disconnects, background work
// drains, the cache empties, and the token is released for reuse. Safe to
// call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.setStatus(StatusDisconnecting)
		_ = s.transport.Close()
		s.disarmPeriodicRefresh()
		close(s.closed)
		s.runCancel()
		if s.registry != nil {
			s.registry.remove(s.token)
		}
		s.wg.Wait()
		s.machine.set(StatusDisconnected)
		s.machine.closeSubs()
		s.state.Clear()
		close(s.out)
		s.log.Info().Msg("Session closed")
	})
	return nil
}
