package messages

import (
	"strconv"
	"strings"
	"time"

	"orderdesk-bot/internal/platform"
	"orderdesk-bot/internal/stories/orders"
)

const (
	colorInfo    = 0x5865F2
	colorSuccess = 0x57F287
	colorOrder   = 0xFEE75C

	// CompleteButtonPrefix prefixes the custom id of the "Mark Complete" button.
	CompleteButtonPrefix = "complete_order:"

	dateLayout = "January 2, 2006"
)

// Formatter builds every message the bot posts.
type Formatter struct {
	texts *Texts
	now   func() time.Time
}

func NewFormatter(texts *Texts) *Formatter {
	return &Formatter{texts: texts, now: time.Now}
}

// MustDefault loads the embedded English texts; it panics only if the binary is broken.
func MustDefault() *Formatter {
	texts, err := NewTexts()
	if err != nil {
		panic(err)
	}
	return NewFormatter(texts)
}

func (f *Formatter) Text(key string, params map[string]string) string {
	return f.texts.Get(key, params)
}

func (f *Formatter) field(name string) string {
	return f.texts.Get("order.fields."+name, nil)
}

func (f *Formatter) Instructions(o orders.Order) platform.OutgoingMessage {
	return platform.OutgoingMessage{
		Embeds: []platform.Embed{{
			Title:       f.Text("instructions.title", nil),
			Description: f.Text("instructions.body", map[string]string{"customer": platform.UserMention(o.UserID)}),
			Color:       colorInfo,
		}},
	}
}

// OrderDetails is the order summary posted into the thread, with the completion button.
func (f *Formatter) OrderDetails(o orders.Order) platform.OutgoingMessage {
	return platform.OutgoingMessage{
		Embeds: []platform.Embed{f.OrderEmbed(o)},
		Buttons: []platform.Button{{
			Label:    f.Text("order.complete_button", nil),
			Style:    platform.ButtonSuccess,
			CustomID: CompleteButtonPrefix + o.ID,
		}},
	}
}

func (f *Formatter) OrderEmbed(o orders.Order) platform.Embed {
	unknown := f.Text("order.unknown", nil)
	orDefault := func(s string) string {
		if strings.TrimSpace(s) == "" {
			return unknown
		}
		return s
	}

	fields := []platform.EmbedField{
		{Name: f.field("order_id"), Value: o.ID, Inline: true},
		{Name: f.field("customer"), Value: platform.UserMention(o.UserID), Inline: true},
		{Name: f.field("product"), Value: orDefault(o.ProductSummary())},
	}
	if o.Email != "" {
		fields = append(fields, platform.EmbedField{Name: f.field("email"), Value: o.Email, Inline: true})
	}
	if o.RobloxUsername != "" {
		fields = append(fields, platform.EmbedField{Name: f.field("roblox"), Value: o.RobloxUsername, Inline: true})
	}

	if o.HasDiscount() {
		fields = append(fields,
			platform.EmbedField{Name: f.field("original_price"), Value: "~~" + o.Original().String() + "~~", Inline: true},
			platform.EmbedField{Name: f.field("total_paid"), Value: o.TotalPaid.String(), Inline: true},
			platform.EmbedField{Name: f.field("savings"), Value: o.Savings().String(), Inline: true},
		)
	} else {
		fields = append(fields, platform.EmbedField{Name: f.field("total_paid"), Value: o.TotalPaid.String(), Inline: true})
	}

	if o.Promo != nil {
		fields = append(fields, platform.EmbedField{Name: f.field("promo"), Value: formatPromo(o.Promo), Inline: true})
	}
	if o.Affiliate != nil {
		fields = append(fields, platform.EmbedField{Name: f.field("affiliate"), Value: formatAffiliate(o.Affiliate), Inline: true})
	}

	date := unknown
	if !o.OrderDate.IsZero() {
		date = o.OrderDate.Format(dateLayout)
	}
	fields = append(fields, platform.EmbedField{Name: f.field("order_date"), Value: date, Inline: true})

	return platform.Embed{
		Title:     f.Text("order.title", nil),
		Color:     colorOrder,
		Fields:    fields,
		Footer:    orders.ThreadName(o.ID),
		Timestamp: f.now(),
	}
}

func formatPromo(p *orders.PromoCode) string {
	s := "`" + p.Code + "`"
	if p.Discount == "" {
		return s
	}
	switch strings.ToLower(p.Type) {
	case "percent", "percentage":
		return s + " (" + strings.TrimSuffix(p.Discount, "%") + "% off)"
	case "fixed", "amount":
		if m, err := orders.ParseMoney(p.Discount); err == nil {
			return s + " (" + m.String() + " off)"
		}
	}
	return s + " (" + p.Discount + ")"
}

func formatAffiliate(a *orders.AffiliateCode) string {
	s := "`" + a.Code + "`"
	if a.Username != "" {
		s += " via " + a.Username
	}
	if a.Discount != "" {
		s += " (" + a.Discount + ")"
	}
	return s
}

// Ping mentions the customer and the staff role in one message.
func (f *Formatter) Ping(customerID, staffRoleID string) platform.OutgoingMessage {
	return platform.OutgoingMessage{
		Content: f.Text("ping", map[string]string{
			"customer": platform.UserMention(customerID),
			"staff":    platform.RoleMention(staffRoleID),
		}),
	}
}

// IsOrderDetails reports whether msg is an order summary posted by botID.
func (f *Formatter) IsOrderDetails(msg platform.Message, botID string) bool {
	if msg.AuthorID != botID || len(msg.Embeds) == 0 {
		return false
	}
	return msg.Embeds[0].Title == f.Text("order.title", nil)
}

// ParseOrderDetails recovers the order summary fields from a thread's history.
// The most recent summary wins.
func (f *Formatter) ParseOrderDetails(history []platform.Message, botID string) map[string]string {
	var latest *platform.Message
	for i := range history {
		m := &history[i]
		if !f.IsOrderDetails(*m, botID) {
			continue
		}
		if latest == nil || m.CreatedAt.After(latest.CreatedAt) || m.CreatedAt.Equal(latest.CreatedAt) {
			latest = m
		}
	}
	if latest == nil {
		return nil
	}

	out := make(map[string]string, len(latest.Embeds[0].Fields))
	for _, field := range latest.Embeds[0].Fields {
		out[field.Name] = field.Value
	}
	return out
}

func (f *Formatter) DeliveryConfirmation(staffID string) platform.OutgoingMessage {
	return platform.OutgoingMessage{
		Content: f.Text("complete.thread", map[string]string{"staff": platform.UserMention(staffID)}),
	}
}

func (f *Formatter) DeliveryDM(orderID string, thread platform.Thread) platform.OutgoingMessage {
	return platform.OutgoingMessage{
		Embeds: []platform.Embed{{
			Title: f.Text("complete.dm_title", nil),
			Description: f.Text("complete.dm_body", map[string]string{
				"suffix": orders.Suffix(orderID),
				"thread": thread.URL(),
			}),
			Color:     colorSuccess,
			Timestamp: f.now(),
		}},
	}
}

// CompletionLog is the audit entry appended to the staff-only log channel.
func (f *Formatter) CompletionLog(orderID string, thread platform.Thread, staffID string, details map[string]string) platform.OutgoingMessage {
	embed := platform.Embed{
		Title: f.Text("complete.log_title", nil),
		Description: f.Text("complete.log_body", map[string]string{
			"order_id": orderID,
			"staff":    platform.UserMention(staffID),
			"thread":   thread.Mention(),
		}),
		Color:     colorSuccess,
		Footer:    thread.Name,
		Timestamp: f.now(),
	}

	// порядок полей как в исходном сообщении с деталями
	for _, key := range []string{"product", "customer", "email", "roblox", "original_price", "total_paid", "savings", "promo", "affiliate", "order_date"} {
		name := f.field(key)
		if v, ok := details[name]; ok && v != "" {
			embed.Fields = append(embed.Fields, platform.EmbedField{Name: name, Value: v, Inline: true})
		}
	}

	return platform.OutgoingMessage{Embeds: []platform.Embed{embed}}
}

// StaffSummary is posted to the staff channel and sent to each staff member.
// thread is nil while the customer has not joined yet.
func (f *Formatter) StaffSummary(o orders.Order, thread *platform.Thread) platform.Embed {
	embed := f.OrderEmbed(o)
	embed.Title = f.Text("staff.title", map[string]string{"suffix": o.Suffix()})
	if thread != nil {
		embed.URL = thread.URL()
		embed.Description = thread.Mention()
	} else {
		embed.Description = f.Text("staff.pending", nil)
	}
	return embed
}

func (f *Formatter) StaffChannelNotice(o orders.Order, thread *platform.Thread, staffRoleID string) platform.OutgoingMessage {
	return platform.OutgoingMessage{
		Content: f.Text("staff.channel", map[string]string{"staff": platform.RoleMention(staffRoleID)}),
		Embeds:  []platform.Embed{f.StaffSummary(o, thread)},
	}
}

func (f *Formatter) StaffDM(o orders.Order, thread *platform.Thread) platform.OutgoingMessage {
	link := f.Text("staff.pending", nil)
	if thread != nil {
		link = thread.URL()
	}
	return platform.OutgoingMessage{
		Content: f.Text("staff.dm", map[string]string{"suffix": o.Suffix(), "thread": link}),
		Embeds:  []platform.Embed{f.StaffSummary(o, thread)},
	}
}

// StaffPlain is the plain-text summary for the Telegram mirror.
func (f *Formatter) StaffPlain(o orders.Order, thread *platform.Thread) string {
	var b strings.Builder
	b.WriteString(f.Text("staff.title", map[string]string{"suffix": o.Suffix()}))
	b.WriteString("\n")
	b.WriteString(f.field("order_id") + ": " + o.ID + "\n")
	if p := o.ProductSummary(); p != "" {
		b.WriteString(f.field("product") + ": " + p + "\n")
	}
	b.WriteString(f.field("total_paid") + ": " + o.TotalPaid.String() + "\n")
	if thread != nil {
		b.WriteString(thread.URL())
	} else {
		b.WriteString(f.Text("staff.pending", nil))
	}
	return b.String()
}

func (f *Formatter) CustomerDM(o orders.Order, thread platform.Thread) platform.OutgoingMessage {
	embed := f.OrderEmbed(o)
	embed.Title = f.Text("customer.dm_title", nil)
	embed.Description = f.Text("customer.dm_body", map[string]string{
		"suffix": o.Suffix(),
		"thread": thread.Mention(),
		"url":    thread.URL(),
	})
	embed.URL = thread.URL()
	return platform.OutgoingMessage{
		Embeds:  []platform.Embed{embed},
		Buttons: []platform.Button{{Label: thread.Name, Style: platform.ButtonLink, URL: thread.URL()}},
	}
}

// mentionOrEmpty renders "<@id> " or nothing when the customer is unknown.
func mentionOrEmpty(userID string) string {
	if userID == "" {
		return ""
	}
	return platform.UserMention(userID) + " "
}

func (f *Formatter) StaffNote(customerID, message string) platform.OutgoingMessage {
	return platform.OutgoingMessage{
		Content: f.Text("thread.notify", map[string]string{
			"customer": mentionOrEmpty(customerID),
			"message":  message,
		}),
	}
}

func (f *Formatter) ServerLink(customerID, link string) platform.OutgoingMessage {
	return platform.OutgoingMessage{
		Content: f.Text("thread.server_link", map[string]string{
			"customer": mentionOrEmpty(customerID),
			"link":     link,
		}),
	}
}

// Reply renders a command reply; count is formatted when present.
func (f *Formatter) Reply(key string, params map[string]string) string {
	return f.Text("replies."+key, params)
}

func Count(n int) string {
	return strconv.Itoa(n)
}
