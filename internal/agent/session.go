package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// ErrRoundsExhausted is returned by Session.Reserve when the tool-round
// budget for a question is spent.
var ErrRoundsExhausted = errors.New("tool round budget exhausted")

// Step records one tool invocation during a question.
type Step struct {
	Tool   string
	Query  string
	Output string
	At     time.Time
}

// Session tracks tool usage for a single question. Tool handlers
// reserve a round before doing work, so the round cap holds even when
// the model ignores its turn limit.
//
// Session is safe for concurrent use; Genkit may run tool handlers in
// parallel.
type Session struct {
	mu    sync.Mutex
	limit int
	used  int
	steps []Step
}

// NewSession creates a Session allowing at most limit tool rounds.
// A non-positive limit allows none.
func NewSession(limit int) *Session {
	return &Session{limit: limit}
}

// Reserve claims one tool round. It returns ErrRoundsExhausted once the
// budget is spent.
func (s *Session) Reserve() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.used >= s.limit {
		return ErrRoundsExhausted
	}
	s.used++
	return nil
}

// Record appends a completed tool step.
func (s *Session) Record(step Step) {
	if step.At.IsZero() {
		step.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, step)
}

// Rounds returns the number of reserved tool rounds.
func (s *Session) Rounds() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.used
}

// Steps returns a copy of the recorded steps in order.
func (s *Session) Steps() []Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Step, len(s.steps))
	copy(out, s.steps)
	return out
}

// Transcript renders the recorded steps as a readable tool log, one
// block per step. Used to build the streaming summarization prompt.
func (s *Session) Transcript() string {
	steps := s.Steps()
	if len(steps) == 0 {
		return ""
	}
	var b strings.Builder
	for _, st := range steps {
		fmt.Fprintf(&b, "Tool: %s\nTool query: %s\nTool output: %s\n\n",
			st.Tool, st.Query, st.Output)
	}
	return strings.TrimRight(b.String(), "\n")
}

// sessionKey is the context key type for Session values.
type sessionKey struct{}

// WithSession returns a context carrying sess.
func WithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, sess)
}

// SessionFromContext extracts the Session placed by WithSession.
func SessionFromContext(ctx context.Context) (*Session, bool) {
	sess, ok := ctx.Value(sessionKey{}).(*Session)
	return sess, ok
}
