package platform

import (
	"errors"
	"time"
)

// ErrNotFound возвращается когда канал, тред или участник отсутствует на платформе
var ErrNotFound = errors.New("not found")

type Channel struct {
	ID      string
	GuildID string
	Name    string
}

// Thread is a private per-order channel under the claim channel.
type Thread struct {
	ID       string
	GuildID  string
	ParentID string
	Name     string
	Archived bool
	Locked   bool
}

// URL returns the jump link for the thread.
func (t Thread) URL() string {
	return "https://discord.com/channels/" + t.GuildID + "/" + t.ID
}

// Mention renders a channel mention usable in message content.
func (t Thread) Mention() string {
	return "<#" + t.ID + ">"
}

type Member struct {
	UserID   string
	Username string
	Roles    []string
	Bot      bool
}

// HasRole reports whether the member holds roleID.
func (m Member) HasRole(roleID string) bool {
	for _, r := range m.Roles {
		if r == roleID {
			return true
		}
	}
	return false
}

type EmbedField struct {
	Name   string
	Value  string
	Inline bool
}

type Embed struct {
	Title       string
	Description string
	URL         string
	Color       int
	Fields      []EmbedField
	Footer      string
	Timestamp   time.Time
}

// Field returns the value of the first field named name.
func (e Embed) Field(name string) (string, bool) {
	for _, f := range e.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

type ButtonStyle int

const (
	ButtonPrimary ButtonStyle = iota + 1
	ButtonSuccess
	ButtonDanger
	ButtonLink
)

type Button struct {
	Label    string
	Style    ButtonStyle
	CustomID string
	URL      string
}

// OutgoingMessage is everything the bot can post in one call.
type OutgoingMessage struct {
	Content string
	Embeds  []Embed
	Buttons []Button
}

type Message struct {
	ID        string
	ChannelID string
	AuthorID  string
	Content   string
	Embeds    []Embed
	CreatedAt time.Time
}

// UserMention renders a user mention.
func UserMention(userID string) string {
	return "<@" + userID + ">"
}

// RoleMention renders a role mention.
func RoleMention(roleID string) string {
	return "<@&" + roleID + ">"
}
