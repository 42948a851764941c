package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lotas/kurzfassung/internal/overlay"
	"github.com/lotas/kurzfassung/internal/types"
)

type wireTab struct {
	ID           int    `json:"id"`
	URL          string `json:"url"`
	Title        string `json:"title"`
	LastAccessed int64  `json:"lastAccessed"`
	WindowID     int    `json:"windowId"`
	Index        int    `json:"index"`
}

// ParseTab converts a raw JSON tab into a Tab.
func ParseTab(raw json.RawMessage) (*types.Tab, error) {
	if len(raw) == 0 {
		return nil, errors.New("parse tab: empty")
	}
	var wt wireTab
	if err := json.Unmarshal(raw, &wt); err != nil {
		return nil, fmt.Errorf("parse tab: %w", err)
	}
	return &types.Tab{
		BrowserID:    wt.ID,
		URL:          wt.URL,
		Title:        wt.Title,
		LastAccessed: time.UnixMilli(wt.LastAccessed),
		WindowIndex:  wt.WindowID,
		TabIndex:     wt.Index,
	}, nil
}

// ParseSelection decodes the selection snapshot of a page.selection message.
func ParseSelection(msg IncomingMsg) (overlay.Selection, error) {
	var sel overlay.Selection
	if len(msg.Selection) == 0 {
		return sel, errors.New("parse selection: empty")
	}
	if err := json.Unmarshal(msg.Selection, &sel); err != nil {
		return sel, fmt.Errorf("parse selection: %w", err)
	}
	return sel, nil
}
