package digestserver

import (
	"context"
	"errors"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/anatolykoptev/go_ytdigest/internal/store"
	"github.com/anatolykoptev/go_ytdigest/internal/toolutil"
)

// ChannelAddInput is the input of channel_add.
type ChannelAddInput struct {
	UserID  int64  `json:"user_id" jsonschema:"User id"`
	Channel string `json:"channel" jsonschema:"Channel id (UC...), @handle, or youtube.com channel URL"`
}

// ChannelRemoveInput is the input of channel_remove.
type ChannelRemoveInput struct {
	UserID int64 `json:"user_id" jsonschema:"User id"`
	ID     int64 `json:"id" jsonschema:"Channel row id from channel_list"`
}

// UserInput is the input of tools that only need a user.
type UserInput struct {
	UserID int64 `json:"user_id" jsonschema:"User id"`
}

// ChannelListOutput lists a user's channels.
type ChannelListOutput struct {
	Channels []store.Channel `json:"channels"`
}

// OKOutput acknowledges a mutation.
type OKOutput struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

func (s *Server) channelAdd(ctx context.Context, _ *mcp.CallToolRequest, in ChannelAddInput) (*mcp.CallToolResult, *store.Channel, error) {
	if err := toolutil.RequireUser(in.UserID); err != nil {
		return nil, nil, err
	}
	if strings.TrimSpace(in.Channel) == "" {
		return nil, nil, errors.New("channel is required")
	}
	c, err := s.accounts.AddChannel(ctx, in.UserID, in.Channel)
	if err != nil {
		return nil, nil, toolutil.UserError("channel_add", err)
	}
	return nil, c, nil
}

func (s *Server) registerChannelAdd(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "channel_add",
		Description: "Register a YouTube channel for a user. Accepts a canonical channel id, an @handle, or a channel URL; all forms resolve to the canonical id, so the same channel cannot be added twice.",
	}, s.channelAdd)
}

func (s *Server) channelList(ctx context.Context, _ *mcp.CallToolRequest, in UserInput) (*mcp.CallToolResult, *ChannelListOutput, error) {
	if err := toolutil.RequireUser(in.UserID); err != nil {
		return nil, nil, err
	}
	list, err := s.accounts.ListChannels(ctx, in.UserID)
	if err != nil {
		return nil, nil, toolutil.UserError("channel_list", err)
	}
	if list == nil {
		list = []store.Channel{}
	}
	return nil, &ChannelListOutput{Channels: list}, nil
}

func (s *Server) registerChannelList(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "channel_list",
		Description: "List a user's registered channels, most recently added first.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, s.channelList)
}

func (s *Server) channelRemove(ctx context.Context, _ *mcp.CallToolRequest, in ChannelRemoveInput) (*mcp.CallToolResult, *OKOutput, error) {
	if err := toolutil.RequireUser(in.UserID); err != nil {
		return nil, nil, err
	}
	if err := s.accounts.RemoveChannel(ctx, in.UserID, in.ID); err != nil {
		return nil, nil, toolutil.UserError("channel_remove", err)
	}
	return nil, &OKOutput{OK: true}, nil
}

func (s *Server) registerChannelRemove(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "channel_remove",
		Description: "Remove one of a user's channels by row id. Scanned and generated items are kept.",
	}, s.channelRemove)
}
