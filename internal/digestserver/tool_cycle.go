package digestserver

import (
	"context"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/anatolykoptev/go_ytdigest/internal/engine/pipeline"
	"github.com/anatolykoptev/go_ytdigest/internal/toolutil"
)

// CycleRunInput is the input of cycle_run.
type CycleRunInput struct {
	UserID int64 `json:"user_id,omitempty" jsonschema:"User id; omit or 0 to run every user"`
}

// RunOutput identifies a background run.
type RunOutput struct {
	RunID string `json:"run_id"`
	Scope string `json:"scope"`
	Count int    `json:"count,omitempty"`
}

// CycleStatusOutput is the latest report for a user or for the last all-users cycle.
type CycleStatusOutput struct {
	Found  bool                  `json:"found"`
	Report *pipeline.Report      `json:"report,omitempty"`
	Cycle  *pipeline.CycleReport `json:"cycle,omitempty"`
}

func (s *Server) cycleRun(_ context.Context, _ *mcp.CallToolRequest, in CycleRunInput) (*mcp.CallToolResult, *RunOutput, error) {
	if in.UserID < 0 {
		return nil, nil, toolutil.ErrUserRequired
	}
	if in.UserID == 0 {
		return nil, &RunOutput{RunID: s.pipeline.TriggerAll(), Scope: "all"}, nil
	}
	return nil, &RunOutput{RunID: s.pipeline.TriggerUser(in.UserID), Scope: "user"}, nil
}

func (s *Server) registerCycleRun(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "cycle_run",
		Description: "Start a scan cycle in the background for one user (or every user) and return a run id at once. New videos are summarized and delivered; poll cycle_status for the outcome.",
	}, s.cycleRun)
}

func (s *Server) cycleStatus(_ context.Context, _ *mcp.CallToolRequest, in CycleRunInput) (*mcp.CallToolResult, *CycleStatusOutput, error) {
	if in.UserID < 0 {
		return nil, nil, errors.New("user_id must not be negative")
	}
	if in.UserID == 0 {
		cr, ok := s.pipeline.LastCycle()
		return nil, &CycleStatusOutput{Found: ok, Cycle: cr}, nil
	}
	rep, ok := s.pipeline.LastReport(in.UserID)
	return nil, &CycleStatusOutput{Found: ok, Report: rep}, nil
}

func (s *Server) registerCycleStatus(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "cycle_status",
		Description: "Show the latest run report for a user (status, counts, per-video outcomes), or the last all-users cycle when user_id is omitted.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, s.cycleStatus)
}
