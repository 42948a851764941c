// Package bus is the request/response channel between the popup, the page
// overlays and the background coordinator. Every Send is delivered to exactly
// one handler and resolves exactly once.
package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/lotas/kurzfassung/internal/applog"
	"github.com/lotas/kurzfassung/internal/types"
)

// Action names a message type.
type Action string

const (
	ActionSummarize         Action = "summarize"
	ActionGetSelectedText   Action = "getSelectedText"
	ActionShowSummaryResult Action = "showSummaryResult"
	ActionShowSummaryError  Action = "showSummaryError"
)

// ErrNoHandler is returned for actions nobody registered.
var ErrNoHandler = errors.New("bus: no handler for action")

// Message is the envelope shared by every action. Only the fields relevant to
// the action are set.
type Message struct {
	Action       Action            `json:"action"`
	Text         string            `json:"text,omitempty"`
	Compression  types.Compression `json:"compression,omitempty"`
	APIKey       string            `json:"apiKey,omitempty"`
	Summary      string            `json:"summary,omitempty"`
	OriginalText string            `json:"originalText,omitempty"`
	Error        string            `json:"error,omitempty"`
}

// Reply answers a Message.
type Reply struct {
	Success        bool                 `json:"success"`
	Summary        string               `json:"summary,omitempty"`
	Error          string               `json:"error,omitempty"`
	Classification types.Classification `json:"classification,omitempty"`
	Text           string               `json:"text,omitempty"`
}

// ReplyFromResult converts a summarization result to its wire form.
func ReplyFromResult(res types.Result) Reply {
	if res.Failed() {
		return Reply{Error: res.Message, Classification: res.Classification}
	}
	return Reply{Success: true, Summary: res.Summary}
}

// ErrorReply is a failed reply with no classification.
func ErrorReply(msg string) Reply {
	return Reply{Error: msg}
}

// Handler answers one message.
type Handler func(ctx context.Context, msg Message) Reply

// Sender is what UI surfaces need from the bus.
type Sender interface {
	Send(ctx context.Context, msg Message) *Pending
}

// Bus routes messages to registered handlers.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Action]Handler
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{handlers: make(map[Action]Handler)}
}

// Handle registers h for action, replacing any previous handler.
func (b *Bus) Handle(action Action, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[action] = h
}

// Send delivers msg to its handler on a new goroutine and returns the pending
// reply. The handler keeps running if the caller stops waiting; its reply is
// then dropped.
func (b *Bus) Send(ctx context.Context, msg Message) *Pending {
	p := newPending()

	b.mu.RLock()
	h, ok := b.handlers[msg.Action]
	b.mu.RUnlock()
	if !ok {
		p.resolve(Reply{}, fmt.Errorf("%w %q", ErrNoHandler, msg.Action))
		return p
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				err := fmt.Errorf("handler %s panicked: %v", msg.Action, r)
				applog.Error("bus.panic", err)
				p.resolve(ErrorReply("Unknown error occurred"), nil)
			}
		}()
		p.resolve(h(ctx, msg), nil)
	}()
	return p
}

// Pending is a reply that has not necessarily arrived yet.
type Pending struct {
	once  sync.Once
	done  chan struct{}
	reply Reply
	err   error
}

func newPending() *Pending {
	return &Pending{done: make(chan struct{})}
}

// Resolved returns a Pending that is already answered.
func Resolved(reply Reply, err error) *Pending {
	p := newPending()
	p.resolve(reply, err)
	return p
}

func (p *Pending) resolve(reply Reply, err error) {
	p.once.Do(func() {
		p.reply = reply
		p.err = err
		close(p.done)
	})
}

// Done is closed once the reply is available.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the reply arrives or ctx ends.
func (p *Pending) Wait(ctx context.Context) (Reply, error) {
	select {
	case <-p.done:
		return p.reply, p.err
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
}
