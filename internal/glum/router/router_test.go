package router_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/bdobrica/glum/internal/glum/chat"
	"github.com/bdobrica/glum/internal/glum/completion"
	"github.com/bdobrica/glum/internal/glum/history"
	"github.com/bdobrica/glum/internal/glum/persona"
	"github.com/bdobrica/glum/internal/glum/router"
)

const selfID = "@glum:example.org"

type sent struct {
	thread, text string
}

type fakeMessenger struct {
	mu          sync.Mutex
	threads     map[string]*chat.ThreadInfo
	users       map[string]*chat.UserInfo
	threadFails int
	threadCalls map[string]int
	userCalls   map[string]int
	sent        []sent
	sendErr     error
	read        []string
	sessionErr  error
	calls       []string
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{
		threads: map[string]*chat.ThreadInfo{
			"dm": {ID: "dm", Kind: chat.OneToOne, ParticipantIDs: []string{selfID, "@frodo:example.org"}},
			"shire": {
				ID:             "shire",
				Kind:           chat.Group,
				Name:           "Kraj",
				SelfNickname:   "Arya",
				ParticipantIDs: []string{selfID, "@frodo:example.org", "@sam:example.org"},
				Nicknames:      map[string]string{"@frodo:example.org": "Frodo"},
			},
		},
		users: map[string]*chat.UserInfo{
			"@frodo:example.org": {ID: "@frodo:example.org", Name: "Frodo Pytlík", IsContact: true},
		},
		threadCalls: map[string]int{},
		userCalls:   map[string]int{},
	}
}

func (m *fakeMessenger) SelfID() string                             { return selfID }
func (m *fakeMessenger) Connect(context.Context) error              { return nil }
func (m *fakeMessenger) Close() error                               { return nil }
func (m *fakeMessenger) Listen(context.Context, chat.Handler) error { return nil }

func (m *fakeMessenger) FetchThreadInfo(_ context.Context, id string) (*chat.ThreadInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threadCalls[id]++
	if m.threadFails > 0 {
		m.threadFails--
		return nil, errors.New("homeserver unavailable")
	}
	info, ok := m.threads[id]
	if !ok {
		return nil, chat.ErrUnknownThread
	}
	return info, nil
}

func (m *fakeMessenger) FetchUserInfo(_ context.Context, id string) (*chat.UserInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.userCalls[id]++
	u, ok := m.users[id]
	if !ok {
		return nil, fmt.Errorf("no profile for %s", id)
	}
	return u, nil
}

func (m *fakeMessenger) SendMessage(_ context.Context, thread, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, sent{thread, text})
	return nil
}

func (m *fakeMessenger) MarkDelivered(context.Context, string, string) error { return nil }

func (m *fakeMessenger) MarkRead(_ context.Context, _, msgID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.read = append(m.read, msgID)
	return nil
}

func (m *fakeMessenger) SaveSession(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "session")
	return m.sessionErr
}

type echoReplier struct {
	mu      sync.Mutex
	prompts []string
}

func (r *echoReplier) Reply(_ context.Context, req completion.Request, t completion.Transcript) completion.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prompts = append(r.prompts, req.SystemPrompt)
	msgs := t.Messages()
	last := msgs[len(msgs)-1].Content
	return completion.Result{Text: "re " + last[strings.Index(last, ": ")+2:], Attempts: 1}
}

func testRegistry(t *testing.T) *persona.Registry {
	t.Helper()
	reg := persona.NewRegistry(nil)
	for _, p := range []*persona.Persona{
		{Name: "Glum", SystemPrompt: "Jsi Glum."},
		{Name: "Arya", SystemPrompt: "You are Arya."},
	} {
		if err := reg.Add(p); err != nil {
			t.Fatal(err)
		}
	}
	return reg
}

type fixture struct {
	router    *router.Router
	messenger *fakeMessenger
	replier   *echoReplier
	backend   *history.FileBackend
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		messenger: newFakeMessenger(),
		replier:   &echoReplier{},
		backend:   history.NewFileBackend(filepath.Join(t.TempDir(), "memory")),
	}
	f.router = router.New(router.Config{
		Messenger: f.messenger,
		Registry:  testRegistry(t),
		Replier:   f.replier,
		Histories: f.backend,
	})
	return f
}

func TestFirstContactFetchesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i, text := range []string{"Ahoj", "Jak je?", "Nazdar"} {
		err := f.router.HandleEvent(ctx, chat.Event{
			ThreadID:  "dm",
			MessageID: fmt.Sprintf("$%d", i),
			AuthorID:  "@frodo:example.org",
			Text:      text,
		})
		if err != nil {
			t.Fatalf("HandleEvent: %v", err)
		}
	}

	if f.messenger.threadCalls["dm"] != 1 || f.messenger.userCalls["@frodo:example.org"] != 1 {
		t.Errorf("thread calls = %v, user calls = %v", f.messenger.threadCalls, f.messenger.userCalls)
	}
	if _, ok := f.messenger.userCalls[selfID]; ok {
		t.Error("bot account looked up as a participant")
	}
	want := []sent{{"dm", "re Ahoj"}, {"dm", "re Jak je?"}, {"dm", "re Nazdar"}}
	if diff := cmp.Diff(want, f.messenger.sent, cmp.AllowUnexported(sent{})); diff != "" {
		t.Errorf("sent (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"$0", "$1", "$2"}, f.messenger.read); diff != "" {
		t.Errorf("read receipts (-want +got):\n%s", diff)
	}
	if f.router.ConversationCount() != 1 {
		t.Errorf("conversations = %d", f.router.ConversationCount())
	}
}

func TestFailedCreationIsNotCached(t *testing.T) {
	f := newFixture(t)
	f.messenger.threadFails = 1
	ctx := context.Background()
	evt := chat.Event{ThreadID: "dm", AuthorID: "@frodo:example.org", Text: "Ahoj"}

	if err := f.router.HandleEvent(ctx, evt); err == nil {
		t.Fatal("expected error from failed thread lookup")
	}
	if f.router.ConversationCount() != 0 {
		t.Fatal("failed conversation was cached")
	}
	if err := f.router.HandleEvent(ctx, evt); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if f.messenger.threadCalls["dm"] != 2 || len(f.messenger.sent) != 1 {
		t.Errorf("thread calls = %d, sent = %v", f.messenger.threadCalls["dm"], f.messenger.sent)
	}
}

func TestUnknownThread(t *testing.T) {
	f := newFixture(t)
	err := f.router.HandleEvent(context.Background(), chat.Event{ThreadID: "mordor", AuthorID: "@frodo:example.org", Text: "?"})
	if !errors.Is(err, chat.ErrUnknownThread) {
		t.Fatalf("err = %v, want ErrUnknownThread", err)
	}
}

func TestGroupUsesNicknameAndMentions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	events := []chat.Event{
		{ThreadID: "shire", MessageID: "$1", AuthorID: "@sam:example.org", Text: "Kde je Frodo?"},
		{ThreadID: "shire", MessageID: "$2", AuthorID: "@frodo:example.org", Text: "@glum:example.org pomoz", Mentions: []string{selfID}},
		{ThreadID: "shire", MessageID: "$3", AuthorID: selfID, Text: "re pomoz"},
	}
	for _, evt := range events {
		if err := f.router.HandleEvent(ctx, evt); err != nil {
			t.Fatalf("HandleEvent: %v", err)
		}
	}

	if diff := cmp.Diff([]string{"You are Arya."}, f.replier.prompts); diff != "" {
		t.Errorf("system prompts (-want +got):\n%s", diff)
	}
	conv, ok := f.router.Lookup("shire")
	if !ok {
		t.Fatal("conversation missing")
	}
	var got []string
	for _, m := range conv.History().Messages() {
		got = append(got, m.Content)
	}
	want := []string{
		"Unknown: Kde je Frodo?",
		"Frodo (Frodo Pytlík): pomoz",
		"Arya: re pomoz",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("history (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"$1", "$2"}, f.messenger.read); diff != "" {
		t.Errorf("own message marked read (-want +got):\n%s", diff)
	}
}

func TestHistoryLoadedOnCreation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	saved := []history.Message{
		history.NewMessage(history.RoleUser, "Frodo (Frodo Pytlík)", "Minule jsme mluvili."),
	}
	if err := f.backend.Save(ctx, "dm", saved); err != nil {
		t.Fatal(err)
	}

	if err := f.router.HandleEvent(ctx, chat.Event{ThreadID: "dm", AuthorID: "@frodo:example.org", Text: "Pamatuješ?"}); err != nil {
		t.Fatal(err)
	}
	conv, _ := f.router.Lookup("dm")
	if got := conv.History().Len(); got != 3 {
		t.Errorf("history len = %d, want 3", got)
	}
}

type failingBackend struct{ history.Backend }

func (failingBackend) Save(context.Context, string, []history.Message) error {
	return errors.New("read-only filesystem")
}

func TestShutdownFlushesEverything(t *testing.T) {
	ctx := context.Background()
	m := newFakeMessenger()
	sessionErr := errors.New("session store gone")
	m.sessionErr = sessionErr
	backend := failingBackend{history.NewFileBackend(t.TempDir())}
	r := router.New(router.Config{
		Messenger: m,
		Registry:  testRegistry(t),
		Replier:   &echoReplier{},
		Histories: backend,
	})
	for _, th := range []string{"dm", "shire"} {
		if err := r.HandleEvent(ctx, chat.Event{ThreadID: th, AuthorID: "@frodo:example.org", Text: "Ahoj"}); err != nil {
			t.Fatal(err)
		}
	}

	err := r.Shutdown(ctx)
	if err == nil {
		t.Fatal("expected joined error")
	}
	if !errors.Is(err, sessionErr) {
		t.Errorf("session error missing from %v", err)
	}
	for _, th := range []string{"dm", "shire"} {
		if !strings.Contains(err.Error(), "save history of "+th) {
			t.Errorf("history error for %s missing from %v", th, err)
		}
	}
	if diff := cmp.Diff([]string{"session"}, m.calls); diff != "" {
		t.Errorf("session saves (-want +got):\n%s", diff)
	}
}

func TestSaveAllPersists(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.router.HandleEvent(ctx, chat.Event{ThreadID: "dm", AuthorID: "@frodo:example.org", Text: "Ahoj"}); err != nil {
		t.Fatal(err)
	}
	if err := f.router.SaveAll(ctx); err != nil {
		t.Fatalf("SaveAll: %v", err)
	}
	msgs, err := f.backend.Load(ctx, "dm")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Errorf("persisted %d messages, want 2", len(msgs))
	}
}

func TestDefaultPersonaForUnnamedThreads(t *testing.T) {
	m := newFakeMessenger()
	rep := &echoReplier{}
	r := router.New(router.Config{
		Messenger:      m,
		Registry:       testRegistry(t),
		Replier:        rep,
		Histories:      history.NewFileBackend(t.TempDir()),
		DefaultPersona: "Glum",
	})
	ctx := context.Background()
	for _, th := range []string{"dm", "shire"} {
		if err := r.HandleEvent(ctx, chat.Event{ThreadID: th, AuthorID: "@frodo:example.org", Text: "Ahoj", Mentions: []string{selfID}}); err != nil {
			t.Fatal(err)
		}
	}
	if diff := cmp.Diff([]string{"Jsi Glum.", "You are Arya."}, rep.prompts); diff != "" {
		t.Errorf("system prompts (-want +got):\n%s", diff)
	}
}

func TestUndeliveredReplyIsRetracted(t *testing.T) {
	f := newFixture(t)
	f.messenger.sendErr = errors.New("network down")
	ctx := context.Background()

	err := f.router.HandleEvent(ctx, chat.Event{ThreadID: "dm", AuthorID: "@frodo:example.org", Text: "Ahoj"})
	if err == nil || !strings.Contains(err.Error(), "network down") {
		t.Fatalf("err = %v, want send failure", err)
	}
	conv, ok := f.router.Lookup("dm")
	if !ok {
		t.Fatal("conversation missing")
	}
	want := []history.Message{{Role: history.RoleUser, Content: "Frodo Pytlík: Ahoj"}}
	if diff := cmp.Diff(want, conv.History().Messages()); diff != "" {
		t.Errorf("history after failed send (-want +got):\n%s", diff)
	}

	// The retracted reply is no longer an expected echo, so the same text
	// sent from the bot account elsewhere is recorded.
	f.messenger.sendErr = nil
	if err := f.router.HandleEvent(ctx, chat.Event{ThreadID: "dm", AuthorID: selfID, Text: "re Ahoj"}); err != nil {
		t.Fatal(err)
	}
	msgs := conv.History().Messages()
	if len(msgs) != 2 || msgs[1].Role != history.RoleAssistant || !strings.HasSuffix(msgs[1].Content, ": re Ahoj") {
		t.Errorf("history = %v", msgs)
	}

	if err := f.router.HandleEvent(ctx, chat.Event{ThreadID: "dm", AuthorID: "@frodo:example.org", Text: "Jsi tam?"}); err != nil {
		t.Fatal(err)
	}
	msgs = conv.History().Messages()
	if len(msgs) != 4 || msgs[3].Content != msgs[1].Content[:strings.Index(msgs[1].Content, ": ")]+": re Jsi tam?" {
		t.Errorf("history after delivered reply = %v", msgs)
	}
	if diff := cmp.Diff([]sent{{"dm", "re Jsi tam?"}}, f.messenger.sent, cmp.AllowUnexported(sent{})); diff != "" {
		t.Errorf("sent (-want +got):\n%s", diff)
	}
}

func TestKnownNamesSkipUserLookups(t *testing.T) {
	f := newFixture(t)
	f.messenger.threads["bag-end"] = &chat.ThreadInfo{
		ID:             "bag-end",
		Kind:           chat.Group,
		ParticipantIDs: []string{selfID, "@frodo:example.org", "@sam:example.org", "@pippin:example.org"},
		Nicknames:      map[string]string{"@frodo:example.org": "Frodo"},
		Names: map[string]string{
			"@frodo:example.org": "Frodo Pytlík",
			"@sam:example.org":   "Samvěd Křepelka",
		},
	}
	ctx := context.Background()

	for _, author := range []string{"@sam:example.org", "@pippin:example.org"} {
		if err := f.router.HandleEvent(ctx, chat.Event{ThreadID: "bag-end", AuthorID: author, Text: "Ahoj"}); err != nil {
			t.Fatal(err)
		}
	}

	if diff := cmp.Diff(map[string]int{"@pippin:example.org": 1}, f.messenger.userCalls); diff != "" {
		t.Errorf("user lookups (-want +got):\n%s", diff)
	}
	conv, _ := f.router.Lookup("bag-end")
	var got []string
	for _, m := range conv.History().Messages() {
		got = append(got, m.Content)
	}
	if diff := cmp.Diff([]string{"Samvěd Křepelka: Ahoj", "Unknown: Ahoj"}, got); diff != "" {
		t.Errorf("history (-want +got):\n%s", diff)
	}
}
