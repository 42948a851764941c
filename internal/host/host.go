// Package host connects the browser extension socket to the background
// coordinator and the per-tab overlays.
package host

import (
	"context"
	"fmt"

	"github.com/lotas/kurzfassung/internal/applog"
	"github.com/lotas/kurzfassung/internal/background"
	"github.com/lotas/kurzfassung/internal/bus"
	"github.com/lotas/kurzfassung/internal/overlay"
	"github.com/lotas/kurzfassung/internal/server"
	"github.com/lotas/kurzfassung/internal/settings"
)

// Host routes extension events. It implements background.Platform and
// popup.SelectionSource.
type Host struct {
	srv         *server.Server
	bus         *bus.Bus
	coordinator *background.Coordinator
	overlays    *overlay.Registry
}

// New wires a coordinator around client and registers it on b. Overlay
// options are applied to every tab's overlay.
func New(srv *server.Server, b *bus.Bus, client background.Summarizer, store settings.Store, opts ...overlay.Option) *Host {
	h := &Host{srv: srv, bus: b}
	h.coordinator = background.New(client, store, h)
	h.coordinator.Register(b)

	opts = append([]overlay.Option{overlay.WithOnChange(h.render)}, opts...)
	h.overlays = overlay.NewRegistry(func(tabID int) *overlay.Overlay {
		return overlay.New(tabID, b, store, opts...)
	})
	return h
}

// Bus returns the bus the coordinator is registered on.
func (h *Host) Bus() *bus.Bus {
	return h.bus
}

// Overlay returns the overlay for tabID, creating it if needed.
func (h *Host) Overlay(tabID int) *overlay.Overlay {
	return h.overlays.Get(tabID)
}

// Serve listens for the extension and routes its events until ctx ends.
func (h *Host) Serve(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() { errc <- h.srv.ListenAndServe(ctx) }()
	go h.Run(ctx)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return nil
	}
}

// Run consumes server messages until ctx ends.
func (h *Host) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-h.srv.Messages():
			if !ok {
				return
			}
			h.dispatch(ctx, msg)
		}
	}
}

func (h *Host) dispatch(ctx context.Context, msg server.IncomingMsg) {
	switch msg.Type {
	case server.TypeHello:
		applog.Info("host.hello", "version", msg.Version)
		h.coordinator.Startup(ctx)

	case server.TypeRequest:
		if msg.Message == nil {
			h.srv.Reply(msg.ID, bus.ErrorReply("Unknown error occurred"))
			return
		}
		go h.answer(ctx, msg.ID, *msg.Message)

	case server.TypeContextMenuClicked:
		go h.coordinator.OnContextMenuClick(ctx, background.ContextMenuClick{
			MenuItemID:    msg.MenuItemID,
			SelectionText: msg.SelectionText,
			TabID:         msg.TabID,
		})

	case server.TypePageSelection:
		sel, err := server.ParseSelection(msg)
		if err != nil {
			applog.Error("host.selection", err, "tab", msg.TabID)
			return
		}
		h.overlays.Get(msg.TabID).OnMouseUp(sel)

	case server.TypePageClick:
		if o, ok := h.overlays.Lookup(msg.TabID); ok {
			go o.Click(ctx, msg.Target)
		}

	case server.TypeTabClosed:
		h.overlays.Remove(msg.TabID)

	default:
		applog.Info("host.unknown", "type", msg.Type)
	}
}

// answer runs a bus request from the extension and sends back the reply.
func (h *Host) answer(ctx context.Context, id string, msg bus.Message) {
	reply, err := h.bus.Send(ctx, msg).Wait(ctx)
	if err != nil {
		applog.Error("host.request", err, "action", msg.Action)
		reply = bus.ErrorReply(err.Error())
	}
	if err := h.srv.Reply(id, reply); err != nil {
		applog.Error("host.reply", err, "id", id)
	}
}

func (h *Host) render(tabID int, html string) {
	if err := h.srv.Send(server.OutgoingMsg{Action: server.ActionOverlayRender, TabID: tabID, HTML: html}); err != nil {
		applog.Error("host.render", err, "tab", tabID)
	}
}

// CreateContextMenu asks the extension to register item.
func (h *Host) CreateContextMenu(ctx context.Context, item background.MenuItem) error {
	return h.srv.Send(server.OutgoingMsg{
		Action: server.ActionCreateMenu,
		Menu:   &server.MenuItem{ID: item.ID, Title: item.Title, Contexts: item.Contexts},
	})
}

// OpenPopup asks the extension to open its popup.
func (h *Host) OpenPopup(ctx context.Context) error {
	return h.srv.Send(server.OutgoingMsg{Action: server.ActionOpenPopup})
}

// SendToTab delivers msg to the overlay of tabID.
func (h *Host) SendToTab(ctx context.Context, tabID int, msg bus.Message) (bus.Reply, error) {
	return h.overlays.Get(tabID).Handle(ctx, msg), nil
}

// SelectedText returns the selection in the browser's active tab.
func (h *Host) SelectedText(ctx context.Context) (string, error) {
	reply, err := h.srv.Request(ctx, server.OutgoingMsg{Action: server.ActionQueryActive})
	if err != nil {
		return "", fmt.Errorf("query active tab: %w", err)
	}
	tab, err := server.ParseTab(reply.Tab)
	if err != nil {
		return "", err
	}
	r, err := h.SendToTab(ctx, tab.BrowserID, bus.Message{Action: bus.ActionGetSelectedText})
	if err != nil {
		return "", err
	}
	return r.Text, nil
}
