// Package background is the long-lived side of the extension: it owns the
// summarization client, answers summarize requests from the bus, and handles
// the right-click context menu.
package background

import (
	"context"
	"strings"

	"github.com/lotas/kurzfassung/internal/applog"
	"github.com/lotas/kurzfassung/internal/bus"
	"github.com/lotas/kurzfassung/internal/settings"
	"github.com/lotas/kurzfassung/internal/types"
)

// MenuItemID identifies the single context-menu entry.
const MenuItemID = "summarizeSelection"

// MenuItem is a context-menu registration.
type MenuItem struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Contexts []string `json:"contexts"`
}

// ContextMenuClick is what the browser reports when the entry is used.
type ContextMenuClick struct {
	MenuItemID    string
	SelectionText string
	TabID         int
}

// Platform is the browser surface the coordinator drives.
type Platform interface {
	CreateContextMenu(ctx context.Context, item MenuItem) error
	OpenPopup(ctx context.Context) error
	SendToTab(ctx context.Context, tabID int, msg bus.Message) (bus.Reply, error)
}

// Summarizer produces a summary or a classified failure.
type Summarizer interface {
	Summarize(ctx context.Context, text string, level types.Compression, apiKey string) types.Result
}

// Coordinator is the only component that uses the API key in a request.
type Coordinator struct {
	client   Summarizer
	settings settings.Store
	platform Platform
}

// New builds a coordinator.
func New(client Summarizer, store settings.Store, platform Platform) *Coordinator {
	return &Coordinator{client: client, settings: store, platform: platform}
}

// Register installs the summarize handler on b.
func (c *Coordinator) Register(b *bus.Bus) {
	b.Handle(bus.ActionSummarize, c.HandleSummarize)
}

// HandleSummarize validates the request shape and delegates to the client.
// It returns only after the provider call completes.
func (c *Coordinator) HandleSummarize(ctx context.Context, msg bus.Message) bus.Reply {
	if msg.Action != bus.ActionSummarize {
		return bus.ErrorReply("Unsupported action: " + string(msg.Action))
	}
	if strings.TrimSpace(msg.Text) == "" {
		return bus.Reply{Error: "No text provided for summarization", Classification: types.ClassValidation}
	}
	if msg.APIKey == "" {
		return bus.Reply{Error: "Invalid API key format", Classification: types.ClassInvalidKey}
	}

	applog.Info("background.summarize", "compression", msg.Compression, "text_len", types.TextLen(msg.Text))
	return bus.ReplyFromResult(c.client.Summarize(ctx, msg.Text, msg.Compression, msg.APIKey))
}

// Startup registers the context-menu entry. The browser side replaces an
// entry with the same id, so calling it on every reconnect leaves one entry.
func (c *Coordinator) Startup(ctx context.Context) error {
	err := c.platform.CreateContextMenu(ctx, MenuItem{
		ID:       MenuItemID,
		Title:    "🤖 Summarize selected text",
		Contexts: []string{"selection"},
	})
	if err != nil {
		applog.Error("background.menu", err)
		return err
	}
	applog.Info("background.menu", "id", MenuItemID)
	return nil
}

// OnContextMenuClick summarizes the clicked selection with the regular level
// and shows the outcome in the originating tab. Without a key it opens the
// popup instead.
func (c *Coordinator) OnContextMenuClick(ctx context.Context, click ContextMenuClick) error {
	if click.MenuItemID != MenuItemID || click.SelectionText == "" {
		return nil
	}

	s := c.settings.Get(ctx)
	if !s.HasKey() {
		applog.Info("background.menu_no_key", "tab", click.TabID)
		return c.platform.OpenPopup(ctx)
	}

	reply := c.HandleSummarize(ctx, bus.Message{
		Action:      bus.ActionSummarize,
		Text:        click.SelectionText,
		Compression: types.CompressionRegular,
		APIKey:      s.APIKey,
	})

	var out bus.Message
	if reply.Success {
		out = bus.Message{
			Action:       bus.ActionShowSummaryResult,
			Summary:      reply.Summary,
			OriginalText: click.SelectionText,
		}
	} else {
		out = bus.Message{Action: bus.ActionShowSummaryError, Error: reply.Error}
	}

	if _, err := c.platform.SendToTab(ctx, click.TabID, out); err != nil {
		applog.Error("background.send_tab", err, "tab", click.TabID, "action", out.Action)
		return err
	}
	return nil
}
