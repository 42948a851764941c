// Package overlay is the in-page surface: the quick-summarize button that
// follows a text selection, and the result and error panels. Each browser tab
// gets its own Overlay; the host pushes the rendered HTML to the tab.
package overlay

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/lotas/kurzfassung/internal/applog"
	"github.com/lotas/kurzfassung/internal/bus"
	"github.com/lotas/kurzfassung/internal/settings"
	"github.com/lotas/kurzfassung/internal/types"
)

const (
	debounceDelay  = 300 * time.Millisecond
	buttonLifetime = 8 * time.Second
	resultLifetime = 15 * time.Second
	errorLifetime  = 6 * time.Second

	// minButtonLen is exclusive: the button needs more than this many runes.
	minButtonLen = 40
)

const noKeyMessage = "Please set your API key in the extension popup first."

// State is where an overlay is in the quick-summarize flow.
type State int

const (
	Idle State = iota
	SelectionPending
	ButtonShown
	Processing
	ResultShown
	ErrorShown
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case SelectionPending:
		return "selection_pending"
	case ButtonShown:
		return "button_shown"
	case Processing:
		return "processing"
	case ResultShown:
		return "result_shown"
	case ErrorShown:
		return "error_shown"
	}
	return "unknown"
}

// Timer is a pending callback.
type Timer interface {
	Stop() bool
}

// Clock schedules callbacks.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Rect is the bounding box of the selection in viewport coordinates.
type Rect struct {
	Right  float64 `json:"right"`
	Bottom float64 `json:"bottom"`
}

// Selection is a snapshot of the page selection taken on mouse-up.
type Selection struct {
	Text          string  `json:"text"`
	Rect          Rect    `json:"rect"`
	ScrollX       float64 `json:"scrollX"`
	ScrollY       float64 `json:"scrollY"`
	ViewportWidth float64 `json:"viewportWidth"`
}

// slot is a timer that only fires for the generation it was armed with.
type slot struct {
	timer Timer
	gen   int
}

func (s *slot) stop() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen++
}

// Overlay is the state of one tab.
type Overlay struct {
	tabID    int
	sender   bus.Sender
	settings settings.Store
	clock    Clock
	onChange func(tabID int, html string)

	mu        sync.Mutex
	doc       *Document
	state     State
	selection Selection
	button    *Element
	buttonFor string
	buttonGen int

	debounce    slot
	buttonTimer slot
	resultTimer slot
	errorTimer  slot
}

// Option configures an Overlay.
type Option func(*Overlay)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(o *Overlay) { o.clock = c }
}

// WithOnChange registers a hook called with the page HTML after every change.
// It runs with the overlay locked and must not call back into it.
func WithOnChange(fn func(tabID int, html string)) Option {
	return func(o *Overlay) { o.onChange = fn }
}

// New builds an idle overlay for tabID.
func New(tabID int, sender bus.Sender, store settings.Store, opts ...Option) *Overlay {
	o := &Overlay{
		tabID:    tabID,
		sender:   sender,
		settings: store,
		clock:    realClock{},
		doc:      NewDocument(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State returns the current flow state.
func (o *Overlay) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// HTML renders everything currently injected into the page.
func (o *Overlay) HTML() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, _ := o.doc.HTML()
	return s
}

// SelectedText returns the trimmed current selection.
func (o *Overlay) SelectedText() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return strings.TrimSpace(o.selection.Text)
}

// SetSelection records the selection without touching the button.
func (o *Overlay) SetSelection(sel Selection) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.selection = sel
}

// OnMouseUp records sel and restarts the debounce that decides whether to
// offer the quick button.
func (o *Overlay) OnMouseUp(sel Selection) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.selection = sel
	o.debounce.stop()
	gen := o.debounce.gen
	o.debounce.timer = o.clock.AfterFunc(debounceDelay, func() { o.selectionSettled(gen) })
	// A click on the button is preceded by its own mouse-up, so a shown
	// button keeps the flow in ButtonShown until the debounce settles.
	if o.state != Processing && o.state != ButtonShown {
		o.state = SelectionPending
	}
}

func (o *Overlay) selectionSettled(gen int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if gen != o.debounce.gen {
		return
	}
	o.debounce.timer = nil

	text := strings.TrimSpace(o.selection.Text)
	changed := o.removeButton()

	if types.TextLen(text) > minButtonLen {
		left, top := ButtonPosition(o.selection)
		o.button = buttonElement(left, top)
		o.buttonFor = text
		o.doc.Append(o.button)
		o.state = ButtonShown

		bgen := o.buttonTimer.gen
		o.buttonTimer.timer = o.clock.AfterFunc(buttonLifetime, func() { o.buttonExpired(bgen) })
		changed = true
	} else if o.state == SelectionPending || o.state == ButtonShown {
		o.state = Idle
	}

	if changed {
		o.emit()
	}
}

func (o *Overlay) buttonExpired(gen int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if gen != o.buttonTimer.gen {
		return
	}
	o.buttonTimer.timer = nil
	if o.state != ButtonShown {
		return
	}
	o.removeButton()
	o.state = Idle
	o.emit()
}

// ClickOutside dismisses an idle quick button.
func (o *Overlay) ClickOutside() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != ButtonShown {
		return
	}
	o.removeButton()
	o.state = Idle
	o.emit()
}

// ClickButton runs the quick summarization for the selection the button was
// shown for. It blocks until the outcome has been rendered.
func (o *Overlay) ClickButton(ctx context.Context) {
	o.mu.Lock()
	if o.state != ButtonShown || o.button == nil {
		o.mu.Unlock()
		return
	}
	o.buttonTimer.stop()
	o.debounce.stop()
	o.button = processing(o.button)
	o.doc.Replace(o.button)
	o.state = Processing
	text := o.buttonFor
	gen := o.buttonGen
	o.emit()
	o.mu.Unlock()

	s := o.settings.Get(ctx)
	if !s.HasKey() {
		o.mu.Lock()
		o.showError(noKeyMessage)
		o.finishButton(gen)
		o.emit()
		o.mu.Unlock()
		return
	}

	applog.Info("overlay.summarize", "tab", o.tabID, "text_len", types.TextLen(text))
	reply, err := o.sender.Send(ctx, bus.Message{
		Action:      bus.ActionSummarize,
		Text:        text,
		Compression: types.CompressionRegular,
		APIKey:      s.APIKey,
	}).Wait(ctx)

	o.mu.Lock()
	defer o.mu.Unlock()
	switch {
	case err != nil:
		applog.Error("overlay.summarize", err, "tab", o.tabID)
		o.showError("Failed to generate summary")
	case reply.Success:
		o.showResult(reply.Summary, text)
	case reply.Error != "":
		o.showError(reply.Error)
	default:
		o.showError("Failed to generate summary")
	}
	o.finishButton(gen)
	o.emit()
}

// ShowResult renders the result panel, replacing any previous one.
func (o *Overlay) ShowResult(summary, original string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.showResult(summary, original)
	o.emit()
}

// ShowError renders the error panel, replacing any previous one.
func (o *Overlay) ShowError(message string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.showError(message)
	o.emit()
}

// CloseResult removes the result panel.
func (o *Overlay) CloseResult() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.resultTimer.stop()
	if o.doc.Remove(ResultID) {
		if o.state == ResultShown {
			o.state = Idle
		}
		o.emit()
	}
}

// Click routes a page click by its target.
func (o *Overlay) Click(ctx context.Context, target string) {
	switch target {
	case TargetButton:
		o.ClickButton(ctx)
	case TargetClose:
		o.CloseResult()
	case TargetOutside:
		o.ClickOutside()
	}
}

// Handle answers the bus actions addressed to a tab.
func (o *Overlay) Handle(ctx context.Context, msg bus.Message) bus.Reply {
	switch msg.Action {
	case bus.ActionGetSelectedText:
		return bus.Reply{Success: true, Text: o.SelectedText()}
	case bus.ActionShowSummaryResult:
		o.ShowResult(msg.Summary, msg.OriginalText)
		return bus.Reply{Success: true}
	case bus.ActionShowSummaryError:
		o.ShowError(msg.Error)
		return bus.Reply{Success: true}
	}
	return bus.ErrorReply("Unsupported action: " + string(msg.Action))
}

func (o *Overlay) showResult(summary, original string) {
	o.resultTimer.stop()
	o.doc.Append(resultElement(summary, original))
	o.state = ResultShown

	gen := o.resultTimer.gen
	o.resultTimer.timer = o.clock.AfterFunc(resultLifetime, func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		if gen != o.resultTimer.gen {
			return
		}
		o.resultTimer.timer = nil
		if o.doc.Remove(ResultID) {
			if o.state == ResultShown {
				o.state = Idle
			}
			o.emit()
		}
	})
}

func (o *Overlay) showError(message string) {
	o.errorTimer.stop()
	o.doc.Append(errorElement(message))
	o.state = ErrorShown

	gen := o.errorTimer.gen
	o.errorTimer.timer = o.clock.AfterFunc(errorLifetime, func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		if gen != o.errorTimer.gen {
			return
		}
		o.errorTimer.timer = nil
		if o.doc.Remove(ErrorID) {
			if o.state == ErrorShown {
				o.state = Idle
			}
			o.emit()
		}
	})
}

// removeButton drops the quick button and its timer. It reports whether the
// page changed.
func (o *Overlay) removeButton() bool {
	o.buttonTimer.stop()
	o.button = nil
	o.buttonFor = ""
	o.buttonGen++
	return o.doc.Remove(ButtonID)
}

// finishButton removes the button a finished job was started from. A newer
// button shown meanwhile stays and keeps the flow in ButtonShown.
func (o *Overlay) finishButton(gen int) {
	if gen == o.buttonGen {
		o.removeButton()
		return
	}
	if o.button != nil {
		o.state = ButtonShown
	}
}

func (o *Overlay) emit() {
	if o.onChange == nil {
		return
	}
	s, err := o.doc.HTML()
	if err != nil {
		applog.Error("overlay.render", err, "tab", o.tabID)
		return
	}
	o.onChange(o.tabID, s)
}

// Registry holds one overlay per tab, created on first use.
type Registry struct {
	mu       sync.Mutex
	overlays map[int]*Overlay
	factory  func(tabID int) *Overlay
}

// NewRegistry returns a registry that builds overlays with factory.
func NewRegistry(factory func(tabID int) *Overlay) *Registry {
	return &Registry{overlays: make(map[int]*Overlay), factory: factory}
}

// Get returns the overlay for tabID, creating it if needed.
func (r *Registry) Get(tabID int) *Overlay {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.overlays[tabID]
	if !ok {
		o = r.factory(tabID)
		r.overlays[tabID] = o
	}
	return o
}

// Lookup returns the overlay for tabID if one exists.
func (r *Registry) Lookup(tabID int) (*Overlay, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.overlays[tabID]
	return o, ok
}

// Remove forgets tabID.
func (r *Registry) Remove(tabID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.overlays, tabID)
}

// Len is the number of tracked tabs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.overlays)
}
