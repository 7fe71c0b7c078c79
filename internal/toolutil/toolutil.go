// Package toolutil provides shared helpers for the go_ytdigest MCP tools.
package toolutil

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/anatolykoptev/go_ytdigest/internal/account"
	"github.com/anatolykoptev/go_ytdigest/internal/engine/pipeline"
)

// ErrUserRequired is returned when a tool call has no user_id.
var ErrUserRequired = errors.New("user_id is required")

// RequireUser validates a user id argument.
func RequireUser(id int64) error {
	if id <= 0 {
		return ErrUserRequired
	}
	return nil
}

// UserError converts a domain error into the error returned to the tool
// caller: the reader-facing message when one exists, otherwise the error
// itself. Unrecognised errors are logged with the tool name.
func UserError(tool string, err error) error {
	if err == nil {
		return nil
	}
	if msg := account.Message(err); msg != "" {
		return errors.New(msg)
	}
	if msg := pipeline.UserMessage(err); msg != pipeline.GenericMessage {
		return errors.New(msg)
	}
	slog.Warn(tool+": failed", slog.Any("error", err))
	return err
}

// CleanIDs trims a list of ids and drops blanks.
func CleanIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}
