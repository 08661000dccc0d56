package discord

import (
	"time"
	"unicode/utf8"

	"orderdesk-bot/internal/platform"

	"github.com/bwmarrin/discordgo"
)

func toThread(ch *discordgo.Channel) platform.Thread {
	t := platform.Thread{
		ID:       ch.ID,
		GuildID:  ch.GuildID,
		ParentID: ch.ParentID,
		Name:     ch.Name,
	}
	if md := ch.ThreadMetadata; md != nil {
		t.Archived = md.Archived
		t.Locked = md.Locked
	}
	return t
}

func toChannel(ch *discordgo.Channel) *platform.Channel {
	return &platform.Channel{ID: ch.ID, GuildID: ch.GuildID, Name: ch.Name}
}

func toMember(m *discordgo.Member) platform.Member {
	out := platform.Member{Roles: m.Roles}
	if m.User != nil {
		out.UserID = m.User.ID
		out.Username = m.User.Username
		out.Bot = m.User.Bot
	}
	return out
}

func toMessage(m *discordgo.Message) platform.Message {
	out := platform.Message{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		Content:   m.Content,
		CreatedAt: m.Timestamp,
	}
	if m.Author != nil {
		out.AuthorID = m.Author.ID
	}
	for _, e := range m.Embeds {
		out.Embeds = append(out.Embeds, fromEmbed(e))
	}
	return out
}

func fromEmbed(e *discordgo.MessageEmbed) platform.Embed {
	out := platform.Embed{
		Title:       e.Title,
		Description: e.Description,
		URL:         e.URL,
		Color:       e.Color,
	}
	if e.Footer != nil {
		out.Footer = e.Footer.Text
	}
	if e.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339, e.Timestamp); err == nil {
			out.Timestamp = ts
		}
	}
	for _, f := range e.Fields {
		out.Fields = append(out.Fields, platform.EmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
	}
	return out
}

// Discord rejects the whole message with 400 when any of these is exceeded.
const (
	maxContent       = 2000
	maxEmbedTitle    = 256
	maxEmbedDesc     = 4096
	maxEmbedFields   = 25
	maxFieldName     = 256
	maxFieldValue    = 1024
	maxFooter        = 2048
	maxEmbedsTotal   = 6000
	maxButtonLabel   = 80
	maxCustomID      = 100
	maxButtonsPerRow = 5
)

const ellipsis = "…"

// clip cuts s to at most n characters, marking the cut with an ellipsis.
func clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	return string(r[:n-1]) + ellipsis
}

func embedSize(e *discordgo.MessageEmbed) int {
	n := utf8.RuneCountInString(e.Title) + utf8.RuneCountInString(e.Description)
	if e.Footer != nil {
		n += utf8.RuneCountInString(e.Footer.Text)
	}
	for _, f := range e.Fields {
		n += utf8.RuneCountInString(f.Name) + utf8.RuneCountInString(f.Value)
	}
	return n
}

// fitEmbeds keeps the embeds of one message under the shared character budget
// by dropping trailing fields, then shortening descriptions.
func fitEmbeds(embeds []*discordgo.MessageEmbed) {
	total := 0
	for _, e := range embeds {
		total += embedSize(e)
	}
	for i := len(embeds) - 1; i >= 0 && total > maxEmbedsTotal; i-- {
		e := embeds[i]
		for len(e.Fields) > 0 && total > maxEmbedsTotal {
			last := e.Fields[len(e.Fields)-1]
			total -= utf8.RuneCountInString(last.Name) + utf8.RuneCountInString(last.Value)
			e.Fields = e.Fields[:len(e.Fields)-1]
		}
		if total > maxEmbedsTotal {
			size := utf8.RuneCountInString(e.Description)
			e.Description = clip(e.Description, size-(total-maxEmbedsTotal))
			total -= size - utf8.RuneCountInString(e.Description)
		}
	}
}

func toEmbed(e platform.Embed) *discordgo.MessageEmbed {
	out := &discordgo.MessageEmbed{
		Title:       clip(e.Title, maxEmbedTitle),
		Description: clip(e.Description, maxEmbedDesc),
		URL:         e.URL,
		Color:       e.Color,
	}
	if e.Footer != "" {
		out.Footer = &discordgo.MessageEmbedFooter{Text: clip(e.Footer, maxFooter)}
	}
	if !e.Timestamp.IsZero() {
		out.Timestamp = e.Timestamp.UTC().Format(time.RFC3339)
	}
	for _, f := range e.Fields {
		if len(out.Fields) == maxEmbedFields {
			break
		}
		out.Fields = append(out.Fields, &discordgo.MessageEmbedField{
			Name:   clip(f.Name, maxFieldName),
			Value:  clip(f.Value, maxFieldValue),
			Inline: f.Inline,
		})
	}
	return out
}

var buttonStyles = map[platform.ButtonStyle]discordgo.ButtonStyle{
	platform.ButtonPrimary: discordgo.PrimaryButton,
	platform.ButtonSuccess: discordgo.SuccessButton,
	platform.ButtonDanger:  discordgo.DangerButton,
	platform.ButtonLink:    discordgo.LinkButton,
}

func toComponents(buttons []platform.Button) []discordgo.MessageComponent {
	if len(buttons) == 0 {
		return nil
	}

	var btns []discordgo.Button
	for _, b := range buttons {
		style, ok := buttonStyles[b.Style]
		if !ok {
			style = discordgo.SecondaryButton
		}
		btn := discordgo.Button{Label: clip(b.Label, maxButtonLabel), Style: style}
		if style == discordgo.LinkButton {
			btn.URL = b.URL
		} else {
			// обрезанный id указал бы на другой заказ, такую кнопку не отправляем
			if b.CustomID == "" || len(b.CustomID) > maxCustomID {
				continue
			}
			btn.CustomID = b.CustomID
		}
		btns = append(btns, btn)
	}

	var rows []discordgo.MessageComponent
	for start := 0; start < len(btns); start += maxButtonsPerRow {
		end := min(start+maxButtonsPerRow, len(btns))
		row := discordgo.ActionsRow{}
		for _, b := range btns[start:end] {
			row.Components = append(row.Components, b)
		}
		rows = append(rows, row)
	}
	return rows
}

func toMessageSend(msg platform.OutgoingMessage) *discordgo.MessageSend {
	send := &discordgo.MessageSend{
		Content:    clip(msg.Content, maxContent),
		Components: toComponents(msg.Buttons),
		AllowedMentions: &discordgo.MessageAllowedMentions{
			Parse: []discordgo.AllowedMentionType{
				discordgo.AllowedMentionTypeUsers,
				discordgo.AllowedMentionTypeRoles,
			},
		},
	}
	for _, e := range msg.Embeds {
		send.Embeds = append(send.Embeds, toEmbed(e))
	}
	fitEmbeds(send.Embeds)
	return send
}
