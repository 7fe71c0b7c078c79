package digestserver

import (
	"context"
	"errors"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/anatolykoptev/go_ytdigest/internal/engine/pipeline"
	"github.com/anatolykoptev/go_ytdigest/internal/store"
	"github.com/anatolykoptev/go_ytdigest/internal/toolutil"
)

// PageInput is the input of the paginated listings.
type PageInput struct {
	UserID   int64 `json:"user_id" jsonschema:"User id"`
	Page     int   `json:"page,omitempty" jsonschema:"Page number, starting at 1"`
	PageSize int   `json:"page_size,omitempty" jsonschema:"Items per page (default 10, max 100)"`
}

// VideoInput names one video of a user.
type VideoInput struct {
	UserID  int64  `json:"user_id" jsonschema:"User id"`
	VideoID string `json:"video_id" jsonschema:"YouTube video id"`
}

// GenerateInput is the input of summary_generate.
type GenerateInput struct {
	UserID   int64    `json:"user_id" jsonschema:"User id"`
	VideoIDs []string `json:"video_ids" jsonschema:"Scanned video ids to summarize (at most 20)"`
}

// ResetOutput reports how many scanned items were forgotten.
type ResetOutput struct {
	Removed int64 `json:"removed"`
}

func (s *Server) summaryList(ctx context.Context, _ *mcp.CallToolRequest, in PageInput) (*mcp.CallToolResult, *store.Page[store.GeneratedItem], error) {
	if err := toolutil.RequireUser(in.UserID); err != nil {
		return nil, nil, err
	}
	page, err := s.ledger.ListGenerated(ctx, in.UserID, in.Page, in.PageSize)
	if err != nil {
		return nil, nil, toolutil.UserError("summary_list", err)
	}
	return nil, page, nil
}

func (s *Server) registerSummaryList(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "summary_list",
		Description: "List a user's Korean summaries, newest first, with delivery status.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, s.summaryList)
}

func (s *Server) summaryDelete(ctx context.Context, _ *mcp.CallToolRequest, in VideoInput) (*mcp.CallToolResult, *OKOutput, error) {
	if err := toolutil.RequireUser(in.UserID); err != nil {
		return nil, nil, err
	}
	if strings.TrimSpace(in.VideoID) == "" {
		return nil, nil, errors.New("video_id is required")
	}
	if err := s.ledger.DeleteGenerated(ctx, in.UserID, strings.TrimSpace(in.VideoID)); err != nil {
		return nil, nil, toolutil.UserError("summary_delete", err)
	}
	return nil, &OKOutput{OK: true, Message: "summary deleted; use summary_generate to create it again"}, nil
}

func (s *Server) registerSummaryDelete(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "summary_delete",
		Description: "Delete one summary. The video stays scanned, so it is not summarized again automatically; summary_generate can recreate it.",
	}, s.summaryDelete)
}

func (s *Server) summaryGenerate(ctx context.Context, _ *mcp.CallToolRequest, in GenerateInput) (*mcp.CallToolResult, *RunOutput, error) {
	if err := toolutil.RequireUser(in.UserID); err != nil {
		return nil, nil, err
	}
	ids := toolutil.CleanIDs(in.VideoIDs)
	if len(ids) == 0 {
		return nil, nil, errors.New("video_ids is required")
	}
	if len(ids) > pipeline.MaxManualSelection {
		ids = ids[:pipeline.MaxManualSelection]
	}
	u, err := s.ledger.GetUser(ctx, in.UserID)
	if err != nil {
		return nil, nil, toolutil.UserError("summary_generate", err)
	}
	if !u.HasAPIKey() {
		return nil, nil, toolutil.UserError("summary_generate", pipeline.ErrMissingAPIKey)
	}
	return nil, &RunOutput{RunID: s.pipeline.TriggerGenerate(in.UserID, ids), Scope: "user", Count: len(ids)}, nil
}

func (s *Server) registerSummaryGenerate(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "summary_generate",
		Description: "Summarize selected scanned videos in the background, including ones that failed or were abandoned after repeated failures. Returns a run id; poll cycle_status for the outcome.",
	}, s.summaryGenerate)
}

func (s *Server) scannedList(ctx context.Context, _ *mcp.CallToolRequest, in PageInput) (*mcp.CallToolResult, *store.Page[store.ScannedItem], error) {
	if err := toolutil.RequireUser(in.UserID); err != nil {
		return nil, nil, err
	}
	page, err := s.ledger.ListScanned(ctx, in.UserID, in.Page, in.PageSize)
	if err != nil {
		return nil, nil, toolutil.UserError("scanned_list", err)
	}
	return nil, page, nil
}

func (s *Server) registerScannedList(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "scanned_list",
		Description: "List a user's scanned videos, newest first, with processing state (pending, summarized, transcript_unavailable, summary_failed, abandoned), attempts and last error.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, s.scannedList)
}

func (s *Server) scannedReset(ctx context.Context, _ *mcp.CallToolRequest, in UserInput) (*mcp.CallToolResult, *ResetOutput, error) {
	if err := toolutil.RequireUser(in.UserID); err != nil {
		return nil, nil, err
	}
	n, err := s.ledger.ResetScanned(ctx, in.UserID)
	if err != nil {
		return nil, nil, toolutil.UserError("scanned_reset", err)
	}
	return nil, &ResetOutput{Removed: n}, nil
}

func (s *Server) registerScannedReset(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "scanned_reset",
		Description: "Forget a user's scanned videos that have no summary, so the next cycle treats them as new.",
	}, s.scannedReset)
}
