package overlay

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/lotas/kurzfassung/internal/bus"
	"github.com/lotas/kurzfassung/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "AIzaVALIDKEY1234567890123456789"

const longSelection = "The quick brown fox jumps over the lazy dog near the river bank."

// fakeClock fires timers only when advanced.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Duration
	f       func()
	done    bool
	stopped bool
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now + d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.done || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves time forward, firing due timers in order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now + d
	for {
		var due []*fakeTimer
		for _, t := range c.timers {
			if !t.done && !t.stopped && t.at <= target {
				due = append(due, t)
			}
		}
		if len(due) == 0 {
			break
		}
		sort.SliceStable(due, func(i, j int) bool { return due[i].at < due[j].at })
		next := due[0]
		next.done = true
		c.now = next.at
		c.mu.Unlock()
		next.f()
		c.mu.Lock()
	}
	c.now = target
	c.mu.Unlock()
}

type memStore struct{ key string }

func (m *memStore) Get(ctx context.Context) types.Settings { return types.Settings{APIKey: m.key} }
func (m *memStore) Set(ctx context.Context, k string) error { m.key = k; return nil }

type fakeSender struct {
	mu    sync.Mutex
	sent  []bus.Message
	reply bus.Reply
	err   error
}

func (s *fakeSender) Send(ctx context.Context, msg bus.Message) *bus.Pending {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return bus.Resolved(s.reply, s.err)
}

type fixture struct {
	clock   *fakeClock
	sender  *fakeSender
	store   *memStore
	overlay *Overlay
	renders []string
}

func newFixture(t *testing.T, key string) *fixture {
	t.Helper()
	f := &fixture{clock: &fakeClock{}, sender: &fakeSender{}, store: &memStore{key: key}}
	f.overlay = New(7, f.sender, f.store,
		WithClock(f.clock),
		WithOnChange(func(tabID int, html string) {
			assert.Equal(t, 7, tabID)
			f.renders = append(f.renders, html)
		}))
	return f
}

func (f *fixture) page(t *testing.T) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(f.overlay.HTML()))
	require.NoError(t, err)
	return doc
}

func (f *fixture) showButton(t *testing.T) {
	t.Helper()
	f.overlay.OnMouseUp(selection(longSelection))
	f.clock.Advance(debounceDelay)
	require.Equal(t, ButtonShown, f.overlay.State())
}

func selection(text string) Selection {
	return Selection{
		Text:          text,
		Rect:          Rect{Right: 500, Bottom: 100},
		ScrollX:       0,
		ScrollY:       200,
		ViewportWidth: 1000,
	}
}

func TestButtonAppearsAfterDebounce(t *testing.T) {
	f := newFixture(t, testKey)

	f.overlay.OnMouseUp(selection("  " + longSelection + "  "))
	assert.Equal(t, SelectionPending, f.overlay.State())

	f.clock.Advance(299 * time.Millisecond)
	assert.Zero(t, f.page(t).Find("#"+ButtonID).Length())

	f.clock.Advance(time.Millisecond)
	btn := f.page(t).Find("#" + ButtonID)
	require.Equal(t, 1, btn.Length())
	assert.Equal(t, "🤖 Summarize", btn.Text())
	style, _ := btn.Attr("style")
	assert.Contains(t, style, "left: 500px;")
	assert.Contains(t, style, "top: 308px;")
	assert.Equal(t, ButtonShown, f.overlay.State())
	assert.Len(t, f.renders, 1)
}

func TestMouseUpRestartsDebounce(t *testing.T) {
	f := newFixture(t, testKey)

	f.overlay.OnMouseUp(selection(longSelection))
	f.clock.Advance(200 * time.Millisecond)
	f.overlay.OnMouseUp(selection(longSelection))
	f.clock.Advance(200 * time.Millisecond)
	assert.Zero(t, f.page(t).Find("#"+ButtonID).Length())

	f.clock.Advance(100 * time.Millisecond)
	assert.Equal(t, 1, f.page(t).Find("#"+ButtonID).Length())
}

func TestButtonNeedsMoreThanFortyRunes(t *testing.T) {
	f := newFixture(t, testKey)

	f.overlay.OnMouseUp(selection(strings.Repeat("ä", 40)))
	f.clock.Advance(debounceDelay)
	assert.Equal(t, Idle, f.overlay.State())
	assert.Empty(t, f.overlay.HTML())

	f.overlay.OnMouseUp(selection(strings.Repeat("ä", 41)))
	f.clock.Advance(debounceDelay)
	assert.Equal(t, ButtonShown, f.overlay.State())
}

func TestShortSelectionRemovesStaleButton(t *testing.T) {
	f := newFixture(t, testKey)
	f.showButton(t)

	f.overlay.OnMouseUp(selection("tiny"))
	f.clock.Advance(debounceDelay)

	assert.Zero(t, f.page(t).Find("#"+ButtonID).Length())
	assert.Equal(t, Idle, f.overlay.State())
}

func TestButtonPositionClampsToViewport(t *testing.T) {
	sel := selection(longSelection)
	sel.Rect.Right = 990
	left, top := ButtonPosition(sel)
	assert.Equal(t, 870.0, left)
	assert.Equal(t, 308.0, top)
}

func TestButtonExpires(t *testing.T) {
	f := newFixture(t, testKey)
	f.showButton(t)

	f.clock.Advance(buttonLifetime - time.Millisecond)
	assert.Equal(t, ButtonShown, f.overlay.State())

	f.clock.Advance(time.Millisecond)
	assert.Equal(t, Idle, f.overlay.State())
	assert.Empty(t, f.overlay.HTML())
}

func TestClickOutsideDismissesButton(t *testing.T) {
	f := newFixture(t, testKey)
	f.showButton(t)

	f.overlay.Click(context.Background(), TargetOutside)

	assert.Equal(t, Idle, f.overlay.State())
	assert.Empty(t, f.overlay.HTML())
}

func TestMouseUpOnButtonKeepsItClickable(t *testing.T) {
	f := newFixture(t, testKey)
	f.sender.reply = bus.Reply{Success: true, Summary: "Fox jumps."}
	f.showButton(t)

	// The browser reports the mouse-up of the click before the click itself.
	f.overlay.OnMouseUp(selection(longSelection))
	assert.Equal(t, ButtonShown, f.overlay.State())

	f.overlay.Click(context.Background(), TargetButton)
	require.Len(t, f.sender.sent, 1)
	assert.Equal(t, longSelection, f.sender.sent[0].Text)
	assert.Equal(t, ResultShown, f.overlay.State())

	// The pending debounce from that mouse-up must not bring the button back.
	f.clock.Advance(debounceDelay)
	doc := f.page(t)
	assert.Zero(t, doc.Find("#"+ButtonID).Length())
	assert.Equal(t, 1, doc.Find("#"+ResultID).Length())
	assert.Equal(t, ResultShown, f.overlay.State())
}

func TestMouseUpThenClickOutside(t *testing.T) {
	f := newFixture(t, testKey)
	f.showButton(t)

	f.overlay.OnMouseUp(selection(""))
	f.overlay.Click(context.Background(), TargetOutside)
	assert.Equal(t, Idle, f.overlay.State())
	assert.Empty(t, f.overlay.HTML())

	f.clock.Advance(debounceDelay)
	assert.Equal(t, Idle, f.overlay.State())
	assert.Empty(t, f.sender.sent)
}

func TestClickButtonWithoutKey(t *testing.T) {
	f := newFixture(t, "")
	f.showButton(t)

	f.overlay.ClickButton(context.Background())

	doc := f.page(t)
	assert.Zero(t, doc.Find("#"+ButtonID).Length())
	assert.Contains(t, doc.Find("#"+ErrorID).Text(), "Please set your API key in the extension popup first.")
	assert.Empty(t, f.sender.sent)
	assert.Equal(t, ErrorShown, f.overlay.State())
}

func TestClickButtonShowsResult(t *testing.T) {
	f := newFixture(t, testKey)
	f.sender.reply = bus.Reply{Success: true, Summary: "Fox jumps.\nDog sleeps."}
	f.showButton(t)

	f.overlay.ClickButton(context.Background())

	require.Len(t, f.sender.sent, 1)
	assert.Equal(t, bus.Message{
		Action:      bus.ActionSummarize,
		Text:        longSelection,
		Compression: types.CompressionRegular,
		APIKey:      testKey,
	}, f.sender.sent[0])

	doc := f.page(t)
	assert.Zero(t, doc.Find("#"+ButtonID).Length())
	panel := doc.Find("#" + ResultID)
	require.Equal(t, 1, panel.Length())
	assert.Equal(t, 1, panel.Find("br").Length())
	assert.Contains(t, panel.Text(), "Fox jumps.")
	assert.Contains(t, panel.Text(), "Original: "+longSelection)
	assert.Equal(t, 1, panel.Find(`[data-action="close"]`).Length())
	assert.Equal(t, ResultShown, f.overlay.State())

	f.clock.Advance(resultLifetime)
	assert.Empty(t, f.overlay.HTML())
	assert.Equal(t, Idle, f.overlay.State())
}

func TestClickButtonShowsFailure(t *testing.T) {
	f := newFixture(t, testKey)
	f.sender.reply = bus.Reply{Error: "Rate limit exceeded. Please wait and try again.", Classification: types.ClassRateLimited}
	f.showButton(t)

	f.overlay.ClickButton(context.Background())

	panel := f.page(t).Find("#" + ErrorID)
	require.Equal(t, 1, panel.Length())
	assert.Contains(t, panel.Text(), "Error: Rate limit exceeded.")

	f.clock.Advance(errorLifetime)
	assert.Empty(t, f.overlay.HTML())
}

func TestClickButtonTransportError(t *testing.T) {
	f := newFixture(t, testKey)
	f.sender.err = errors.New("socket closed")
	f.showButton(t)

	f.overlay.ClickButton(context.Background())

	assert.Contains(t, f.page(t).Find("#"+ErrorID).Text(), "Failed to generate summary")
}

func TestProcessingDoesNotHoldLock(t *testing.T) {
	clock := &fakeClock{}
	b := bus.New()
	entered := make(chan struct{})
	release := make(chan struct{})
	b.Handle(bus.ActionSummarize, func(ctx context.Context, msg bus.Message) bus.Reply {
		close(entered)
		<-release
		return bus.Reply{Success: true, Summary: "done"}
	})
	o := New(1, b, &memStore{key: testKey}, WithClock(clock))

	o.OnMouseUp(selection(longSelection))
	clock.Advance(debounceDelay)

	finished := make(chan struct{})
	go func() {
		o.ClickButton(context.Background())
		close(finished)
	}()
	<-entered

	assert.Equal(t, Processing, o.State())
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(o.HTML()))
	require.NoError(t, err)
	btn := doc.Find("#" + ButtonID)
	assert.Equal(t, "⏳ Processing...", btn.Text())
	_, disabled := btn.Attr("disabled")
	assert.True(t, disabled)

	// The 8s lifetime no longer applies once clicked.
	clock.Advance(buttonLifetime)
	assert.Equal(t, Processing, o.State())

	close(release)
	<-finished
	assert.Equal(t, ResultShown, o.State())
}

func TestResultReplacesPrevious(t *testing.T) {
	f := newFixture(t, testKey)

	f.overlay.ShowResult("first", "orig")
	f.clock.Advance(10 * time.Second)
	f.overlay.ShowResult("second", "orig")
	f.clock.Advance(10 * time.Second)

	panels := f.page(t).Find("#" + ResultID)
	require.Equal(t, 1, panels.Length())
	assert.Contains(t, panels.Text(), "second")

	f.clock.Advance(5 * time.Second)
	assert.Empty(t, f.overlay.HTML())
}

func TestCloseResult(t *testing.T) {
	f := newFixture(t, testKey)
	f.overlay.ShowResult("summary", "orig")

	f.overlay.Click(context.Background(), TargetClose)
	assert.Empty(t, f.overlay.HTML())
	assert.Equal(t, Idle, f.overlay.State())

	// The stopped timer must not fire later.
	n := len(f.renders)
	f.clock.Advance(resultLifetime)
	assert.Len(t, f.renders, n)
}

func TestResultIsEscaped(t *testing.T) {
	f := newFixture(t, testKey)
	f.overlay.ShowResult(`<script>alert("x")</script>`, "<b>orig</b>")

	doc := f.page(t)
	assert.Zero(t, doc.Find("script").Length())
	assert.Zero(t, doc.Find("#"+ResultID+" b").Length())
	assert.Contains(t, doc.Text(), `<script>alert("x")</script>`)
}

func TestResultPreviewTruncated(t *testing.T) {
	f := newFixture(t, testKey)
	original := strings.Repeat("x", 130)
	f.overlay.ShowResult("s", original)

	assert.Contains(t, f.page(t).Text(), "Original: "+strings.Repeat("x", 120)+"...")
	assert.Equal(t, "short", Preview("short"))
}

func TestHandleBusMessages(t *testing.T) {
	f := newFixture(t, testKey)
	f.overlay.SetSelection(selection("  picked text  "))

	reply := f.overlay.Handle(context.Background(), bus.Message{Action: bus.ActionGetSelectedText})
	assert.Equal(t, bus.Reply{Success: true, Text: "picked text"}, reply)
	assert.Equal(t, Idle, f.overlay.State())

	reply = f.overlay.Handle(context.Background(), bus.Message{Action: bus.ActionShowSummaryError, Error: "Content blocked: SAFETY"})
	assert.True(t, reply.Success)
	assert.Contains(t, f.page(t).Find("#"+ErrorID).Text(), "Content blocked: SAFETY")

	reply = f.overlay.Handle(context.Background(), bus.Message{Action: bus.ActionShowSummaryResult, Summary: "s", OriginalText: "o"})
	assert.True(t, reply.Success)
	assert.Equal(t, 1, f.page(t).Find("#"+ResultID).Length())

	reply = f.overlay.Handle(context.Background(), bus.Message{Action: bus.ActionSummarize})
	assert.False(t, reply.Success)
}

func TestRegistry(t *testing.T) {
	created := 0
	r := NewRegistry(func(tabID int) *Overlay {
		created++
		return New(tabID, &fakeSender{}, &memStore{})
	})

	_, ok := r.Lookup(3)
	assert.False(t, ok)

	a := r.Get(3)
	assert.Same(t, a, r.Get(3))
	assert.NotSame(t, a, r.Get(4))
	assert.Equal(t, 2, created)

	r.Remove(3)
	assert.Equal(t, 1, r.Len())
}
