// Package digestserver exposes account, channel and summary management as
// MCP tools for the operator front end.
package digestserver

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/anatolykoptev/go_ytdigest/internal/account"
	"github.com/anatolykoptev/go_ytdigest/internal/engine/pipeline"
	"github.com/anatolykoptev/go_ytdigest/internal/store"
)

// Ledger is the read and cleanup side of the store used by the tools.
type Ledger interface {
	ListGenerated(ctx context.Context, userID int64, page, size int) (*store.Page[store.GeneratedItem], error)
	ListScanned(ctx context.Context, userID int64, page, size int) (*store.Page[store.ScannedItem], error)
	DeleteGenerated(ctx context.Context, userID int64, videoID string) error
	ResetScanned(ctx context.Context, userID int64) (int64, error)
	GetUser(ctx context.Context, id int64) (*store.User, error)
}

// Server holds the dependencies of the tool handlers.
type Server struct {
	accounts *account.Service
	pipeline *pipeline.Pipeline
	ledger   Ledger
}

// New returns a Server.
func New(accounts *account.Service, p *pipeline.Pipeline, ledger Ledger) *Server {
	return &Server{accounts: accounts, pipeline: p, ledger: ledger}
}

// ToolCount is the number of tools RegisterTools adds.
const ToolCount = 13

// RegisterTools registers every tool on the given MCP server.
func (s *Server) RegisterTools(server *mcp.Server) {
	s.registerUserRegister(server)
	s.registerUserLogin(server)
	s.registerUserSettings(server)
	s.registerChannelAdd(server)
	s.registerChannelList(server)
	s.registerChannelRemove(server)
	s.registerCycleRun(server)
	s.registerCycleStatus(server)
	s.registerSummaryList(server)
	s.registerSummaryDelete(server)
	s.registerSummaryGenerate(server)
	s.registerScannedList(server)
	s.registerScannedReset(server)
}
