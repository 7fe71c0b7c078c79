package digestserver

import (
	"context"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/anatolykoptev/go_ytdigest/internal/account"
	"github.com/anatolykoptev/go_ytdigest/internal/store"
	"github.com/anatolykoptev/go_ytdigest/internal/toolutil"
)

// UserCredentialsInput is the input of user_register and user_login.
type UserCredentialsInput struct {
	Email    string `json:"email" jsonschema:"Account email address"`
	Password string `json:"password" jsonschema:"Account password (at least 8 characters)"`
}

// UserSettingsInput is the input of user_settings. Omitted fields keep their value.
type UserSettingsInput struct {
	UserID         int64   `json:"user_id" jsonschema:"User id"`
	RecipientEmail *string `json:"recipient_email,omitempty" jsonschema:"Address that receives summary emails"`
	APIKey         *string `json:"api_key,omitempty" jsonschema:"LLM API key; stored encrypted, empty string removes it"`
	Model          *string `json:"model,omitempty" jsonschema:"Completion model, e.g. gpt-4o-mini"`
	SummaryPrompt  *string `json:"summary_prompt,omitempty" jsonschema:"Extra instructions appended to the summary prompt"`
	Delivery       *string `json:"delivery,omitempty" jsonschema:"Delivery mode: email or web"`
}

// UserOutput is a user without secrets.
type UserOutput struct {
	ID             int64  `json:"id"`
	AccountEmail   string `json:"account_email"`
	RecipientEmail string `json:"recipient_email"`
	Model          string `json:"model"`
	SummaryPrompt  string `json:"summary_prompt,omitempty"`
	Delivery       string `json:"delivery"`
	HasAPIKey      bool   `json:"has_api_key"`
	CreatedAt      string `json:"created_at"`
}

func userOutput(u *store.User) *UserOutput {
	return &UserOutput{
		ID:             u.ID,
		AccountEmail:   u.AccountEmail,
		RecipientEmail: u.RecipientEmail,
		Model:          u.Model,
		SummaryPrompt:  u.SummaryPrompt,
		Delivery:       u.Delivery,
		HasAPIKey:      u.HasAPIKey(),
		CreatedAt:      u.CreatedAt,
	}
}

func (s *Server) userRegister(ctx context.Context, _ *mcp.CallToolRequest, in UserCredentialsInput) (*mcp.CallToolResult, *UserOutput, error) {
	if in.Email == "" || in.Password == "" {
		return nil, nil, errors.New("email and password are required")
	}
	u, err := s.accounts.Register(ctx, in.Email, in.Password)
	if err != nil {
		return nil, nil, toolutil.UserError("user_register", err)
	}
	return nil, userOutput(u), nil
}

func (s *Server) registerUserRegister(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "user_register",
		Description: "Create an account. The recipient address defaults to the account email and delivery defaults to email. Returns the new user id.",
	}, s.userRegister)
}

func (s *Server) userLogin(ctx context.Context, _ *mcp.CallToolRequest, in UserCredentialsInput) (*mcp.CallToolResult, *UserOutput, error) {
	u, err := s.accounts.Authenticate(ctx, in.Email, in.Password)
	if err != nil {
		return nil, nil, toolutil.UserError("user_login", err)
	}
	return nil, userOutput(u), nil
}

func (s *Server) registerUserLogin(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "user_login",
		Description: "Check an email and password pair and return the matching user.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, s.userLogin)
}

func (s *Server) userSettings(ctx context.Context, _ *mcp.CallToolRequest, in UserSettingsInput) (*mcp.CallToolResult, *UserOutput, error) {
	if err := toolutil.RequireUser(in.UserID); err != nil {
		return nil, nil, err
	}
	u, err := s.accounts.UpdateSettings(ctx, in.UserID, account.Settings{
		RecipientEmail: in.RecipientEmail,
		APIKey:         in.APIKey,
		Model:          in.Model,
		SummaryPrompt:  in.SummaryPrompt,
		Delivery:       in.Delivery,
	})
	if err != nil {
		return nil, nil, toolutil.UserError("user_settings", err)
	}
	return nil, userOutput(u), nil
}

func (s *Server) registerUserSettings(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "user_settings",
		Description: "Update a user's recipient email, API key, model, extra summary instructions or delivery mode (email or web). Only the given fields change.",
	}, s.userSettings)
}
