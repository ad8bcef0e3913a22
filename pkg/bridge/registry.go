// Copyright 2024-2026 Aiku AI

package bridge

import (
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"go.mau.fi/util/exsync"
)

// Registry owns the token→session mapping. At most one live session exists
// per token; every Session call with the same token returns the same
// instance until that session closes.
type Registry struct {
	log      zerolog.Logger
	sessions *exsync.Map[string, *Session]
}

// NewRegistry creates an empty registry.
func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{
		log:      log,
		sessions: exsync.NewMap[string, *Session](),
	}
}

// Session returns the live session for the config's token, creating and
// starting one if none exists. Concurrent callers with the same token race
// on creation; exactly one candidate wins and starts, the rest share it.
func (r *Registry) Session(cfg *Config) (*Session, error) {
	if err := cfg.PostProcess(); err != nil {
		return nil, err
	}
	if existing, ok := r.sessions.Get(cfg.Token); ok {
		return existing, nil
	}
	candidate, err := newSession(cfg, r)
	if err != nil {
		return nil, err
	}
	session, loaded := r.sessions.GetOrSet(cfg.Token, candidate)
	if loaded {
		// Lost the creation race; discard the never-started candidate.
		candidate.runCancel()
		return session, nil
	}
	session.start()
	r.log.Info().Str("token_tail", tokenTail(cfg.Token)).Msg("Session started")
	return session, nil
}

// Lookup returns the live session for a token without creating one.
func (r *Registry) Lookup(token string) (*Session, bool) {
	return r.sessions.Get(token)
}

// remove unregisters a closing session. The token is free for a fresh
// session immediately after.
func (r *Registry) remove(token string) {
	r.sessions.Delete(token)
}

// Close shuts every live session down, collecting their errors.
func (r *Registry) Close() error {
	var errs *multierror.Error
	for token, session := range r.sessions.CopyData() {
		if err := session.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
		r.sessions.Delete(token)
	}
	return errs.ErrorOrNil()
}

// tokenTail is the loggable suffix of a token. Full tokens never hit logs.
func tokenTail(token string) string {
	if len(token) <= 4 {
		return token
	}
	return token[len(token)-4:]
}
