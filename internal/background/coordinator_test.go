package background

import (
	"context"
	"sync"
	"testing"

	"github.com/lotas/kurzfassung/internal/bus"
	"github.com/lotas/kurzfassung/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "AIzaVALIDKEY1234567890123456789"

type memStore struct{ key string }

func (m *memStore) Get(ctx context.Context) types.Settings { return types.Settings{APIKey: m.key} }
func (m *memStore) Set(ctx context.Context, k string) error { m.key = k; return nil }

type fakeClient struct {
	mu     sync.Mutex
	calls  []types.Request
	result types.Result
}

func (f *fakeClient) Summarize(ctx context.Context, text string, level types.Compression, apiKey string) types.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, types.Request{Text: text, Compression: level, APIKey: apiKey})
	return f.result
}

type sentMsg struct {
	tabID int
	msg   bus.Message
}

type fakePlatform struct {
	menus     []MenuItem
	popups    int
	sent      []sentMsg
	sendError error
}

func (p *fakePlatform) CreateContextMenu(ctx context.Context, item MenuItem) error {
	p.menus = append(p.menus, item)
	return nil
}

func (p *fakePlatform) OpenPopup(ctx context.Context) error {
	p.popups++
	return nil
}

func (p *fakePlatform) SendToTab(ctx context.Context, tabID int, msg bus.Message) (bus.Reply, error) {
	p.sent = append(p.sent, sentMsg{tabID, msg})
	return bus.Reply{Success: true}, p.sendError
}

func TestHandleSummarizeViaBus(t *testing.T) {
	client := &fakeClient{result: types.Success("Fox runs.")}
	c := New(client, &memStore{}, &fakePlatform{})
	b := bus.New()
	c.Register(b)

	reply, err := b.Send(context.Background(), bus.Message{
		Action:      bus.ActionSummarize,
		Text:        "The quick brown fox jumps over the lazy dog.",
		Compression: types.CompressionBrief,
		APIKey:      testKey,
	}).Wait(context.Background())
	require.NoError(t, err)

	assert.Equal(t, bus.Reply{Success: true, Summary: "Fox runs."}, reply)
	require.Len(t, client.calls, 1)
	assert.Equal(t, types.CompressionBrief, client.calls[0].Compression)
	assert.Equal(t, testKey, client.calls[0].APIKey)
}

func TestHandleSummarizeRejectsBadShape(t *testing.T) {
	client := &fakeClient{result: types.Success("unused")}
	c := New(client, &memStore{}, &fakePlatform{})

	reply := c.HandleSummarize(context.Background(), bus.Message{Action: bus.ActionSummarize, Text: "  ", APIKey: testKey})
	assert.False(t, reply.Success)
	assert.Equal(t, types.ClassValidation, reply.Classification)

	reply = c.HandleSummarize(context.Background(), bus.Message{Action: bus.ActionSummarize, Text: "some text here"})
	assert.Equal(t, types.ClassInvalidKey, reply.Classification)

	reply = c.HandleSummarize(context.Background(), bus.Message{Action: bus.ActionGetSelectedText, Text: "x", APIKey: testKey})
	assert.False(t, reply.Success)

	assert.Empty(t, client.calls)
}

func TestHandleSummarizePassesFailureThrough(t *testing.T) {
	client := &fakeClient{result: types.Failure(types.ClassRateLimited, "Rate limit exceeded. Please wait and try again.")}
	c := New(client, &memStore{}, &fakePlatform{})

	reply := c.HandleSummarize(context.Background(), bus.Message{Action: bus.ActionSummarize, Text: "some text here", APIKey: testKey})
	assert.False(t, reply.Success)
	assert.Equal(t, types.ClassRateLimited, reply.Classification)
	assert.Contains(t, reply.Error, "Rate limit")
}

func TestStartupRegistersOneMenuEntry(t *testing.T) {
	p := &fakePlatform{}
	c := New(&fakeClient{}, &memStore{}, p)

	require.NoError(t, c.Startup(context.Background()))
	require.Len(t, p.menus, 1)
	assert.Equal(t, MenuItemID, p.menus[0].ID)
	assert.Equal(t, []string{"selection"}, p.menus[0].Contexts)
}

func TestContextMenuWithoutKeyOpensPopup(t *testing.T) {
	client := &fakeClient{}
	p := &fakePlatform{}
	c := New(client, &memStore{}, p)

	err := c.OnContextMenuClick(context.Background(), ContextMenuClick{MenuItemID: MenuItemID, SelectionText: "selected words", TabID: 7})
	require.NoError(t, err)

	assert.Equal(t, 1, p.popups)
	assert.Empty(t, client.calls)
	assert.Empty(t, p.sent)
}

func TestContextMenuSuccessShowsResult(t *testing.T) {
	client := &fakeClient{result: types.Success("Short.")}
	p := &fakePlatform{}
	c := New(client, &memStore{key: testKey}, p)

	err := c.OnContextMenuClick(context.Background(), ContextMenuClick{MenuItemID: MenuItemID, SelectionText: "a long selection of text", TabID: 7})
	require.NoError(t, err)

	require.Len(t, client.calls, 1)
	assert.Equal(t, types.CompressionRegular, client.calls[0].Compression)
	require.Len(t, p.sent, 1)
	assert.Equal(t, 7, p.sent[0].tabID)
	assert.Equal(t, bus.Message{
		Action:       bus.ActionShowSummaryResult,
		Summary:      "Short.",
		OriginalText: "a long selection of text",
	}, p.sent[0].msg)
}

func TestContextMenuFailureShowsError(t *testing.T) {
	client := &fakeClient{result: types.Failure(types.ClassBlockedContent, "Content blocked: SAFETY")}
	p := &fakePlatform{}
	c := New(client, &memStore{key: testKey}, p)

	require.NoError(t, c.OnContextMenuClick(context.Background(), ContextMenuClick{MenuItemID: MenuItemID, SelectionText: "text", TabID: 3}))

	require.Len(t, p.sent, 1)
	assert.Equal(t, bus.ActionShowSummaryError, p.sent[0].msg.Action)
	assert.Equal(t, "Content blocked: SAFETY", p.sent[0].msg.Error)
}

func TestContextMenuIgnoresOtherEntries(t *testing.T) {
	client := &fakeClient{}
	p := &fakePlatform{}
	c := New(client, &memStore{key: testKey}, p)

	require.NoError(t, c.OnContextMenuClick(context.Background(), ContextMenuClick{MenuItemID: "other", SelectionText: "text"}))
	require.NoError(t, c.OnContextMenuClick(context.Background(), ContextMenuClick{MenuItemID: MenuItemID}))

	assert.Empty(t, client.calls)
	assert.Zero(t, p.popups)
}
