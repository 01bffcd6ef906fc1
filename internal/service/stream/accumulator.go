// Package stream folds fragment streams into one growing assistant message
// per session, driving the session store with ordered patches.
package stream

import (
	"errors"
	"log"
	"strings"
	"sync"

	"github.com/mxfan/gemchat/backend/internal/model/chat"
	"github.com/mxfan/gemchat/backend/internal/service/ai"
	chatservice "github.com/mxfan/gemchat/backend/internal/service/chat"
)

// ErrStreamActive is returned by Begin while a stream is already running for
// the same session. The accumulator refuses rather than queues.
var ErrStreamActive = errors.New("a stream is already active for this session")

// FailureText replaces accumulated content when a stream fails. Partial
// output is discarded on failure by policy.
const FailureText = "**Error:** Failed to generate response. Please try again."

type run struct {
	messageID string
	text      strings.Builder
	thought   strings.Builder
}

// Accumulator tracks at most one in-flight assistant message per session,
// through the states idle, streaming, and the terminal finalized or failed.
// All store writes go through the store's defensive operations, so a session
// deleted mid-stream turns the remaining patches into no-ops.
type Accumulator struct {
	store *chatservice.Service

	mu     sync.Mutex
	active map[string]*run
}

// New builds an accumulator over the given store.
func New(store *chatservice.Service) *Accumulator {
	return &Accumulator{
		store:  store,
		active: make(map[string]*run),
	}
}

// Begin transitions a session from idle to streaming for the given
// placeholder message. The placeholder must already be appended so the first
// fragment has an anchor.
func (a *Accumulator) Begin(sessionID, messageID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, busy := a.active[sessionID]; busy {
		return ErrStreamActive
	}
	a.active[sessionID] = &run{messageID: messageID}
	return nil
}

// Active reports whether a stream is running for the session.
func (a *Accumulator) Active(sessionID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, busy := a.active[sessionID]
	return busy
}

// Apply folds the next fragment into the in-flight message and patches the
// store with the new cumulative content. Fragments must be applied in
// arrival order; callers invoke Apply from the single goroutine consuming
// the stream. Unknown sessions are ignored.
func (a *Accumulator) Apply(sessionID string, frag ai.Fragment) {
	a.mu.Lock()
	r, ok := a.active[sessionID]
	a.mu.Unlock()
	if !ok {
		return
	}

	patch := chat.MessagePatch{}
	switch frag.Kind {
	case ai.FragmentReasoning:
		r.thought.WriteString(frag.Text)
		thought := r.thought.String()
		patch.Thought = &thought
	default:
		r.text.WriteString(frag.Text)
		text := r.text.String()
		patch.Text = &text
	}
	a.store.UpdateMessage(sessionID, r.messageID, patch)
}

// Finish transitions streaming to finalized: the accumulated text stands as
// final content and the streaming flag drops.
func (a *Accumulator) Finish(sessionID string) {
	a.mu.Lock()
	r, ok := a.active[sessionID]
	if ok {
		delete(a.active, sessionID)
	}
	a.mu.Unlock()
	if !ok {
		return
	}

	done := false
	a.store.UpdateMessage(sessionID, r.messageID, chat.MessagePatch{Streaming: &done})
}

// Fail transitions streaming to failed: the designated error text overwrites
// whatever partial content accumulated, and the streaming flag drops.
func (a *Accumulator) Fail(sessionID string, cause error) {
	a.mu.Lock()
	r, ok := a.active[sessionID]
	if ok {
		delete(a.active, sessionID)
	}
	a.mu.Unlock()
	if !ok {
		return
	}

	log.Printf("[stream] session=%s failed: %v", sessionID, cause)
	text := FailureText
	done := false
	a.store.UpdateMessage(sessionID, r.messageID, chat.MessagePatch{Text: &text, Streaming: &done})
}
