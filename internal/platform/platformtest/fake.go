// Package platformtest provides an in-memory messaging platform for tests.
package platformtest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"orderdesk-bot/internal/platform"
)

const BotID = "bot-1"

// Platform is a concurrency-safe fake of the messaging platform.
type Platform struct {
	mu sync.Mutex

	nextID        int
	channels      map[string]*platform.Channel
	threads       map[string]*platform.Thread
	deleted       map[string]bool
	threadMembers map[string][]string
	messages      map[string][]platform.Message
	direct        map[string][]platform.OutgoingMessage
	members       map[string]platform.Member
	calls         map[string]int

	// Fail injects an error for the named method ("SendDirect", "ArchiveThread", ...).
	Fail map[string]error
	// FailDirect injects an error for direct messages to a specific user.
	FailDirect map[string]error
	// FailThread injects an error for any write into a specific thread.
	FailThread map[string]error
}

func New() *Platform {
	return &Platform{
		channels:      make(map[string]*platform.Channel),
		threads:       make(map[string]*platform.Thread),
		deleted:       make(map[string]bool),
		threadMembers: make(map[string][]string),
		messages:      make(map[string][]platform.Message),
		direct:        make(map[string][]platform.OutgoingMessage),
		members:       make(map[string]platform.Member),
		calls:         make(map[string]int),
		Fail:          make(map[string]error),
		FailDirect:    make(map[string]error),
		FailThread:    make(map[string]error),
	}
}

func (p *Platform) id(prefix string) string {
	p.nextID++
	return fmt.Sprintf("%s-%d", prefix, p.nextID)
}

func (p *Platform) enter(method string) error {
	p.calls[method]++
	return p.Fail[method]
}

// AddChannel registers a guild text channel.
func (p *Platform) AddChannel(guildID, id, name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.channels[id] = &platform.Channel{ID: id, GuildID: guildID, Name: name}
}

// AddMember registers a guild member.
func (p *Platform) AddMember(userID string, roles ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.members[userID] = platform.Member{UserID: userID, Username: "user_" + userID, Roles: roles}
}

// AddThread inserts a pre-existing thread, e.g. a stale one from an earlier run.
func (p *Platform) AddThread(t platform.Thread, members ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	tt := t
	p.threads[t.ID] = &tt
	p.threadMembers[t.ID] = append([]string(nil), members...)
}

// PostAs appends a message authored by authorID without counting it as a bot write.
func (p *Platform) PostAs(channelID, authorID string, msg platform.OutgoingMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages[channelID] = append(p.messages[channelID], platform.Message{
		ID:        p.id("msg"),
		ChannelID: channelID,
		AuthorID:  authorID,
		Content:   msg.Content,
		Embeds:    msg.Embeds,
		CreatedAt: time.Now(),
	})
}

func (p *Platform) FindChannel(_ context.Context, guildID, channelID, name string) (*platform.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter("FindChannel"); err != nil {
		return nil, err
	}
	if channelID != "" {
		if c, ok := p.channels[channelID]; ok {
			cc := *c
			return &cc, nil
		}
	}
	if name != "" {
		for _, c := range p.channels {
			if c.GuildID == guildID && c.Name == name {
				cc := *c
				return &cc, nil
			}
		}
	}
	return nil, platform.ErrNotFound
}

func (p *Platform) CreateStaffChannel(_ context.Context, guildID, name, _ string) (*platform.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter("CreateStaffChannel"); err != nil {
		return nil, err
	}
	c := &platform.Channel{ID: p.id("chan"), GuildID: guildID, Name: name}
	p.channels[c.ID] = c
	cc := *c
	return &cc, nil
}

func (p *Platform) ListThreads(_ context.Context, _, parentID string) ([]platform.Thread, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter("ListThreads"); err != nil {
		return nil, err
	}
	var out []platform.Thread
	for _, t := range p.threads {
		if t.ParentID == parentID {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (p *Platform) GetThread(_ context.Context, threadID string) (*platform.Thread, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter("GetThread"); err != nil {
		return nil, err
	}
	t, ok := p.threads[threadID]
	if !ok {
		return nil, platform.ErrNotFound
	}
	tt := *t
	return &tt, nil
}

func (p *Platform) CreatePrivateThread(_ context.Context, parentID, name string) (*platform.Thread, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter("CreatePrivateThread"); err != nil {
		return nil, err
	}
	parent, ok := p.channels[parentID]
	if !ok {
		return nil, platform.ErrNotFound
	}
	t := &platform.Thread{ID: p.id("thread"), GuildID: parent.GuildID, ParentID: parentID, Name: name}
	p.threads[t.ID] = t
	tt := *t
	return &tt, nil
}

func (p *Platform) DeleteThread(_ context.Context, threadID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter("DeleteThread"); err != nil {
		return err
	}
	if _, ok := p.threads[threadID]; !ok {
		return platform.ErrNotFound
	}
	delete(p.threads, threadID)
	p.deleted[threadID] = true
	return nil
}

func (p *Platform) ArchiveThread(_ context.Context, threadID string, lock bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter("ArchiveThread"); err != nil {
		return err
	}
	if err := p.FailThread[threadID]; err != nil {
		return err
	}
	t, ok := p.threads[threadID]
	if !ok {
		return platform.ErrNotFound
	}
	t.Archived = true
	if lock {
		t.Locked = true
	}
	return nil
}

// SetArchived flips the archived flag as if the platform auto-archived the thread.
func (p *Platform) SetArchived(threadID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.threads[threadID]; ok {
		t.Archived = true
	}
}

func (p *Platform) AddThreadMember(_ context.Context, threadID, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter("AddThreadMember"); err != nil {
		return err
	}
	if _, ok := p.threads[threadID]; !ok {
		return platform.ErrNotFound
	}
	p.threadMembers[threadID] = append(p.threadMembers[threadID], userID)
	return nil
}

func (p *Platform) ThreadMembers(_ context.Context, threadID string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter("ThreadMembers"); err != nil {
		return nil, err
	}
	return append([]string(nil), p.threadMembers[threadID]...), nil
}

func (p *Platform) SendMessage(_ context.Context, channelID string, msg platform.OutgoingMessage) (*platform.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter("SendMessage"); err != nil {
		return nil, err
	}
	if err := p.FailThread[channelID]; err != nil {
		return nil, err
	}
	m := platform.Message{
		ID:        p.id("msg"),
		ChannelID: channelID,
		AuthorID:  BotID,
		Content:   msg.Content,
		Embeds:    msg.Embeds,
		CreatedAt: time.Now(),
	}
	p.messages[channelID] = append(p.messages[channelID], m)
	return &m, nil
}

func (p *Platform) Messages(_ context.Context, channelID string, limit int) ([]platform.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter("Messages"); err != nil {
		return nil, err
	}
	all := p.messages[channelID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return append([]platform.Message(nil), all...), nil
}

func (p *Platform) DeleteMessage(_ context.Context, channelID, messageID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter("DeleteMessage"); err != nil {
		return err
	}
	msgs := p.messages[channelID]
	for i, m := range msgs {
		if m.ID == messageID {
			p.messages[channelID] = append(msgs[:i:i], msgs[i+1:]...)
			return nil
		}
	}
	return platform.ErrNotFound
}

func (p *Platform) SendDirect(_ context.Context, userID string, msg platform.OutgoingMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter("SendDirect"); err != nil {
		return err
	}
	if err := p.FailDirect[userID]; err != nil {
		return err
	}
	p.direct[userID] = append(p.direct[userID], msg)
	return nil
}

func (p *Platform) Member(_ context.Context, _, userID string) (*platform.Member, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter("Member"); err != nil {
		return nil, err
	}
	m, ok := p.members[userID]
	if !ok {
		return nil, platform.ErrNotFound
	}
	return &m, nil
}

func (p *Platform) RoleMembers(_ context.Context, _, roleID string) ([]platform.Member, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter("RoleMembers"); err != nil {
		return nil, err
	}
	var out []platform.Member
	for _, m := range p.members {
		if m.HasRole(roleID) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (p *Platform) BotUserID() string {
	return BotID
}

// Threads returns every live thread whose name contains substr.
func (p *Platform) Threads(substr string) []platform.Thread {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []platform.Thread
	for _, t := range p.threads {
		if strings.Contains(strings.ToUpper(t.Name), strings.ToUpper(substr)) {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// WasDeleted reports whether threadID was deleted.
func (p *Platform) WasDeleted(threadID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.deleted[threadID]
}

// Sent returns the messages currently present in channelID.
func (p *Platform) Sent(channelID string) []platform.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]platform.Message(nil), p.messages[channelID]...)
}

// ChannelByName looks up a channel created during the test.
func (p *Platform) ChannelByName(name string) (platform.Channel, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.channels {
		if c.Name == name {
			return *c, true
		}
	}
	return platform.Channel{}, false
}

// Direct returns the direct messages delivered to userID.
func (p *Platform) Direct(userID string) []platform.OutgoingMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]platform.OutgoingMessage(nil), p.direct[userID]...)
}

// Members returns the ids added to threadID.
func (p *Platform) Members(threadID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.threadMembers[threadID]...)
}

// Calls returns how many times method was invoked.
func (p *Platform) Calls(method string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[method]
}

var mutating = []string{
	"CreateStaffChannel", "CreatePrivateThread", "DeleteThread", "ArchiveThread",
	"AddThreadMember", "SendMessage", "DeleteMessage", "SendDirect",
}

// Mutations counts every write the platform has received.
func (p *Platform) Mutations() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, m := range mutating {
		n += p.calls[m]
	}
	return n
}
