package threads

import (
	"errors"
	"time"
)

var ErrClaimChannelNotFound = errors.New("claim channel not found")

// ThreadLink is written back to the order record after creation.
type ThreadLink struct {
	ThreadID      string
	ThreadURL     string
	DiscordUserID string
}

type Config struct {
	GuildID          string
	ClaimChannelID   string
	ClaimChannelName string
	StaffRoleID      string
	LogChannelName   string

	// GraceDelay separates the delivery message from archiving.
	GraceDelay time.Duration
	// MemberAddDelay paces staff additions to a new thread.
	MemberAddDelay time.Duration
	// HistoryLimit bounds how far back completion looks for order details.
	HistoryLimit int
}
