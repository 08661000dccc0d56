// Package discord routes gateway events (slash commands, buttons, member joins)
// into the order dispatcher.
package discord

import (
	"context"
	"log/slog"
	"time"

	"orderdesk-bot/internal/stories/dispatch"

	"github.com/bwmarrin/discordgo"
)

const (
	optionOrderID = "order_id"
	optionMessage = "message"
	optionLink    = "link"

	handlerTimeout = 2 * time.Minute
	refuseTimeout  = 3 * time.Second

	outsideGuildReply = "❌ Order commands only work inside the store server."
)

type dispatcher interface {
	Execute(ctx context.Context, inv dispatch.Invocation) string
	PressButton(ctx context.Context, customID, invoker string, roles []string) string
	HandleMemberJoined(ctx context.Context, userID string) (int, error)
}

type responder interface {
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	InteractionResponseEdit(interaction *discordgo.Interaction, newresp *discordgo.WebhookEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

type Router struct {
	ctx        context.Context
	responder  responder
	dispatcher dispatcher
	guildID    string
	logger     *slog.Logger
}

// NewRouter binds handlers to ctx; cancelling it aborts in-flight work.
func NewRouter(ctx context.Context, r responder, d dispatcher, guildID string, logger *slog.Logger) *Router {
	return &Router{
		ctx:        ctx,
		responder:  r,
		dispatcher: d,
		guildID:    guildID,
		logger:     logger,
	}
}

// Attach registers the gateway handlers on the session and returns a func removing them.
func (r *Router) Attach(s *discordgo.Session) func() {
	removeInteraction := s.AddHandler(func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
		r.HandleInteraction(i.Interaction)
	})
	removeMember := s.AddHandler(func(_ *discordgo.Session, m *discordgo.GuildMemberAdd) {
		r.HandleMemberAdd(m.Member)
	})
	return func() {
		removeInteraction()
		removeMember()
	}
}

// Commands is the staff command set.
func Commands() []*discordgo.ApplicationCommand {
	orderID := &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        optionOrderID,
		Description: "Order ID",
		Required:    true,
	}
	return []*discordgo.ApplicationCommand{
		{
			Name:        dispatch.CommandComplete,
			Description: "Mark an order delivered and archive its thread",
			Options:     []*discordgo.ApplicationCommandOption{orderID},
		},
		{
			Name:        dispatch.CommandOrderStatus,
			Description: "Show the current state of an order",
			Options:     []*discordgo.ApplicationCommandOption{orderID},
		},
		{
			Name:        dispatch.CommandNotifyCustomer,
			Description: "Post a message to the customer in the order thread",
			Options: []*discordgo.ApplicationCommandOption{orderID, {
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        optionMessage,
				Description: "Message for the customer",
				Required:    true,
			}},
		},
		{
			Name:        dispatch.CommandSendServerLink,
			Description: "Send the private server link to the order thread",
			Options: []*discordgo.ApplicationCommandOption{orderID, {
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        optionLink,
				Description: "Private server URL",
				Required:    true,
			}},
		},
	}
}

// RegisterCommands overwrites the guild command set.
func RegisterCommands(ctx context.Context, s *discordgo.Session, appID, guildID string) error {
	_, err := s.ApplicationCommandBulkOverwrite(appID, guildID, Commands(), discordgo.WithContext(ctx))
	return err
}

// HandleInteraction acknowledges the interaction ephemerally, runs it and edits in the reply.
// Interactions from DMs or other guilds are refused without reaching the dispatcher,
// so listed staff users can only act inside the configured guild.
func (r *Router) HandleInteraction(i *discordgo.Interaction) {
	var run func(ctx context.Context) string

	invoker, roles := invokerOf(i)
	if i.GuildID != r.guildID {
		if i.Type == discordgo.InteractionApplicationCommand || i.Type == discordgo.InteractionMessageComponent {
			r.refuse(i, invoker)
		}
		return
	}
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		inv := invocation(i.ApplicationCommandData())
		inv.Invoker, inv.Roles = invoker, roles
		run = func(ctx context.Context) string {
			return r.dispatcher.Execute(ctx, inv)
		}
	case discordgo.InteractionMessageComponent:
		customID := i.MessageComponentData().CustomID
		run = func(ctx context.Context) string {
			return r.dispatcher.PressButton(ctx, customID, invoker, roles)
		}
	default:
		return
	}

	logger := r.logger.With("interaction_id", i.ID, "user_id", invoker)

	ctx, cancel := context.WithTimeout(r.ctx, handlerTimeout)
	defer cancel()

	err := r.responder.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	}, discordgo.WithContext(ctx))
	if err != nil {
		logger.Error("Failed to acknowledge interaction", "error", err)
		return
	}

	reply := run(ctx)

	// ответ редактируем без контекста обработчика, иначе таймаут оставит "думает..."
	if _, err := r.responder.InteractionResponseEdit(i, &discordgo.WebhookEdit{Content: &reply}); err != nil {
		logger.Error("Failed to send interaction reply", "error", err)
	}
}

func (r *Router) refuse(i *discordgo.Interaction, invoker string) {
	r.logger.Warn("Interaction outside the order guild refused", "interaction_id", i.ID, "user_id", invoker, "guild_id", i.GuildID)

	ctx, cancel := context.WithTimeout(r.ctx, refuseTimeout)
	defer cancel()

	err := r.responder.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: outsideGuildReply,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	}, discordgo.WithContext(ctx))
	if err != nil {
		r.logger.Error("Failed to refuse interaction", "interaction_id", i.ID, "error", err)
	}
}

// HandleMemberAdd opens threads for orders queued before the member joined.
func (r *Router) HandleMemberAdd(m *discordgo.Member) {
	if m == nil || m.User == nil || m.User.Bot || m.GuildID != r.guildID {
		return
	}

	ctx, cancel := context.WithTimeout(r.ctx, handlerTimeout)
	defer cancel()

	opened, err := r.dispatcher.HandleMemberJoined(ctx, m.User.ID)
	if err != nil {
		r.logger.Error("Failed to process member join", "user_id", m.User.ID, "error", err)
		return
	}
	if opened > 0 {
		r.logger.Info("Opened queued order threads", "user_id", m.User.ID, "count", opened)
	}
}

func invokerOf(i *discordgo.Interaction) (string, []string) {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID, i.Member.Roles
	}
	if i.User != nil {
		return i.User.ID, nil
	}
	return "", nil
}

func invocation(data discordgo.ApplicationCommandInteractionData) dispatch.Invocation {
	inv := dispatch.Invocation{Name: data.Name}
	for _, opt := range data.Options {
		if opt.Type != discordgo.ApplicationCommandOptionString {
			continue
		}
		switch opt.Name {
		case optionOrderID:
			inv.OrderID = opt.StringValue()
		case optionMessage:
			inv.Message = opt.StringValue()
		case optionLink:
			inv.Link = opt.StringValue()
		}
	}
	return inv
}
