package keepalive

import (
	"context"

	"orderdesk-bot/internal/platform"
)

type (
	// Platform is the slice of the messaging platform a heartbeat needs.
	Platform interface {
		GetThread(ctx context.Context, threadID string) (*platform.Thread, error)
		SendMessage(ctx context.Context, channelID string, msg platform.OutgoingMessage) (*platform.Message, error)
		DeleteMessage(ctx context.Context, channelID, messageID string) error
	}
)
