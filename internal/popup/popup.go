// Package popup is the state machine behind the extension popup: API key
// setup, the two input tabs, and the summarize round trip over the bus.
// It has no rendering; internal/tui draws it.
package popup

import (
	"context"
	"errors"
	"strings"

	"github.com/lotas/kurzfassung/internal/applog"
	"github.com/lotas/kurzfassung/internal/bus"
	"github.com/lotas/kurzfassung/internal/settings"
	"github.com/lotas/kurzfassung/internal/types"
)

// Screen is the visible section.
type Screen int

const (
	ScreenInit Screen = iota
	ScreenAPISetup
	ScreenMain
)

// Tab is the input tab on the main screen.
type Tab int

const (
	TabText Tab = iota
	TabSelected
)

// FlashKind colours a flash message.
type FlashKind int

const (
	FlashSuccess FlashKind = iota + 1
	FlashError
)

// Flash is a transient status line. Seq identifies it so a stale clear
// does not wipe a newer message.
type Flash struct {
	Text string
	Kind FlashKind
	Seq  int
}

// Visible reports whether there is a message to show.
func (f Flash) Visible() bool {
	return f.Text != ""
}

var errNoSource = errors.New("popup: no selection source")

// SelectionSource fetches the selection of the active browser tab.
type SelectionSource interface {
	SelectedText(ctx context.Context) (string, error)
}

// Popup is the popup state. It is not safe for concurrent use; the TUI
// mutates it only from its update loop.
type Popup struct {
	store  settings.Store
	sender bus.Sender
	source SelectionSource

	apiKey string

	Screen      Screen
	ActiveTab   Tab
	Loading     bool
	Result      string
	HasResult   bool
	Flash       Flash
	Selected    string
	compression [2]types.Compression
}

// New returns a popup in ScreenInit. Call Init before use.
func New(store settings.Store, sender bus.Sender, source SelectionSource) *Popup {
	return &Popup{
		store:       store,
		sender:      sender,
		source:      source,
		compression: [2]types.Compression{types.CompressionRegular, types.CompressionRegular},
	}
}

// HasAPIKey reports whether a key is loaded.
func (p *Popup) HasAPIKey() bool {
	return p.apiKey != ""
}

// Init loads the stored key and picks the first screen.
func (p *Popup) Init(ctx context.Context) {
	p.apiKey = p.store.Get(ctx).APIKey
	if p.apiKey != "" {
		p.Screen = ScreenMain
	} else {
		p.Screen = ScreenAPISetup
	}
}

// SaveKey validates and stores input. On success the caller shows the
// confirmation briefly and then calls EnterMain.
func (p *Popup) SaveKey(ctx context.Context, input string) error {
	key := strings.TrimSpace(input)
	if err := settings.Validate(key); err != nil {
		p.flash(err.Error(), FlashError)
		return err
	}
	if err := p.store.Set(ctx, key); err != nil {
		applog.Error("popup.save_key", err)
		p.flash("Error saving API key: "+err.Error(), FlashError)
		return err
	}
	p.apiKey = key
	p.flash("API key saved successfully!", FlashSuccess)
	return nil
}

// EnterMain shows the main screen.
func (p *Popup) EnterMain() {
	p.Screen = ScreenMain
}

// ShowSetup returns to key setup.
func (p *Popup) ShowSetup() {
	p.Screen = ScreenAPISetup
}

// SwitchTab changes the input tab and hides any result.
func (p *Popup) SwitchTab(tab Tab) {
	p.ActiveTab = tab
	p.HasResult = false
	p.Result = ""
}

// Compression returns the level picked on tab.
func (p *Popup) Compression(tab Tab) types.Compression {
	return p.compression[tab]
}

// SetCompression picks the level for tab.
func (p *Popup) SetCompression(tab Tab, level types.Compression) {
	p.compression[tab] = level
}

// CycleCompression moves tab's level to the next one.
func (p *Popup) CycleCompression(tab Tab) {
	cur := p.compression[tab]
	for i, c := range types.Compressions {
		if c == cur {
			p.compression[tab] = types.Compressions[(i+1)%len(types.Compressions)]
			return
		}
	}
	p.compression[tab] = types.CompressionRegular
}

// BeginSubmit validates text for the active tab and sends the summarize
// request. It returns nil when nothing was sent; the reason is in Flash.
func (p *Popup) BeginSubmit(ctx context.Context, text string) *bus.Pending {
	text = strings.TrimSpace(text)
	if text == "" {
		if p.ActiveTab == TabSelected {
			p.flash("Please get selected text first", FlashError)
		} else {
			p.flash("Please enter some text to summarize", FlashError)
		}
		return nil
	}
	if !p.HasAPIKey() {
		p.flash("Please set your API key first", FlashError)
		p.ShowSetup()
		return nil
	}

	n := types.TextLen(text)
	if n < types.MinTextLen {
		p.flash("Text is too short to summarize (minimum 10 characters)", FlashError)
		return nil
	}
	if n > types.MaxTextLen {
		p.flash("Text is too long (maximum 100,000 characters)", FlashError)
		return nil
	}

	p.Loading = true
	p.HasResult = false
	p.Result = ""

	level := p.compression[p.ActiveTab]
	applog.Info("popup.submit", "tab", p.ActiveTab, "compression", level, "text_len", n)
	return p.sender.Send(ctx, bus.Message{
		Action:      bus.ActionSummarize,
		Text:        text,
		Compression: level,
		APIKey:      p.apiKey,
	})
}

// Finish applies the reply to a request started by BeginSubmit.
func (p *Popup) Finish(reply bus.Reply, err error) {
	p.Loading = false
	if err != nil {
		applog.Error("popup.submit", err)
		p.flash("Extension error: "+err.Error(), FlashError)
		return
	}

	if reply.Success {
		if strings.TrimSpace(reply.Summary) == "" {
			p.flash("API returned empty summary. Please try again.", FlashError)
			return
		}
		p.Result = reply.Summary
		p.HasResult = true
		return
	}

	msg := reply.Error
	if msg == "" {
		msg = "Failed to generate summary"
	}
	p.flash("Error: "+msg, FlashError)

	if reply.Classification == types.ClassInvalidKey || strings.Contains(strings.ToLower(msg), "api key") {
		p.apiKey = ""
		p.ShowSetup()
	}
}

// Submit runs BeginSubmit and Finish back to back.
func (p *Popup) Submit(ctx context.Context, text string) {
	pending := p.BeginSubmit(ctx, text)
	if pending == nil {
		return
	}
	p.Finish(pending.Wait(ctx))
}

// FetchSelection asks the active tab for its selection. It does not touch
// popup state and may run off the update loop.
func (p *Popup) FetchSelection(ctx context.Context) (string, error) {
	if p.source == nil {
		return "", errNoSource
	}
	return p.source.SelectedText(ctx)
}

// FinishCapture applies a FetchSelection outcome.
func (p *Popup) FinishCapture(text string, err error) {
	if err != nil {
		applog.Error("popup.capture", err)
		p.flash("Error: Please refresh the webpage and try again.", FlashError)
		return
	}
	if text == "" {
		p.flash("No text selected. Please select text on the webpage first.", FlashError)
		return
	}
	p.Selected = text
	p.flash("Text captured successfully!", FlashSuccess)
}

// CaptureSelection fetches and stores the active tab's selection.
func (p *Popup) CaptureSelection(ctx context.Context) {
	p.FinishCapture(p.FetchSelection(ctx))
}

// ClearFlash hides the flash message with seq, if it is still showing.
func (p *Popup) ClearFlash(seq int) {
	if p.Flash.Seq == seq {
		p.Flash = Flash{Seq: seq}
	}
}

func (p *Popup) flash(text string, kind FlashKind) {
	p.Flash = Flash{Text: text, Kind: kind, Seq: p.Flash.Seq + 1}
}
