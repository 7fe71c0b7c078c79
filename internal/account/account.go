// Package account manages users, their settings and their channel list.
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"

	"github.com/anatolykoptev/go_ytdigest/internal/engine/sources"
	"github.com/anatolykoptev/go_ytdigest/internal/store"
)

// MinPasswordLen is the shortest accepted password, in characters.
const MinPasswordLen = 8

var (
	ErrEmailTaken         = errors.New("account email already registered")
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrWeakPassword       = errors.New("password too short")
	ErrInvalidSettings    = errors.New("invalid settings")
	ErrDuplicateChannel   = errors.New("channel already registered")
)

// Store is the persistence the service needs.
type Store interface {
	CreateUser(ctx context.Context, u *store.User) error
	GetUser(ctx context.Context, id int64) (*store.User, error)
	GetUserByEmail(ctx context.Context, email string) (*store.User, error)
	UpdateUserSettings(ctx context.Context, u *store.User) error
	AddChannel(ctx context.Context, c *store.Channel) error
	ListChannels(ctx context.Context, userID int64) ([]store.Channel, error)
	DeleteChannel(ctx context.Context, userID, id int64) error
}

// Resolver maps reader input to a canonical channel id.
type Resolver interface {
	ResolveChannel(ctx context.Context, input string) (string, error)
}

// FeedSource is used to look up a channel's title when it is added.
type FeedSource interface {
	FetchFeed(ctx context.Context, channelID string) (*sources.Feed, error)
}

// Sealer encrypts API keys before they are stored.
type Sealer interface {
	Seal(plaintext string) (string, error)
}

// Service implements account and channel management.
type Service struct {
	store    Store
	resolver Resolver
	feeds    FeedSource
	sealer   Sealer
	logger   *slog.Logger
	cost     int
}

// New returns a Service.
func New(st Store, resolver Resolver, feeds FeedSource, sealer Sealer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    st,
		resolver: resolver,
		feeds:    feeds,
		sealer:   sealer,
		logger:   logger.With(slog.String("component", "account")),
		cost:     bcrypt.DefaultCost,
	}
}

func normalizeEmail(s string) (string, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return "", ErrInvalidEmail
	}
	return s, nil
}

// Register creates an account. The recipient address starts out as the
// account email and delivery defaults to email.
func (s *Service) Register(ctx context.Context, email, password string) (*store.User, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if utf8.RuneCountInString(password) < MinPasswordLen {
		return nil, ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrWeakPassword, err)
	}

	u := &store.User{
		AccountEmail:   email,
		PasswordHash:   string(hash),
		RecipientEmail: email,
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	s.logger.Info("user registered", slog.Int64("user", u.ID))
	return u, nil
}

// Authenticate checks an email and password pair.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*store.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	u, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

// Settings is a partial settings update; nil fields are left unchanged.
type Settings struct {
	RecipientEmail *string
	APIKey         *string // plaintext; an empty string removes the stored key
	Model          *string
	SummaryPrompt  *string
	Delivery       *string
}

// UpdateSettings applies a settings change. The API key is sealed before it
// reaches the store.
func (s *Service) UpdateSettings(ctx context.Context, userID int64, in Settings) (*store.User, error) {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if in.RecipientEmail != nil {
		addr := strings.TrimSpace(*in.RecipientEmail)
		if addr != "" {
			if addr, err = normalizeEmail(addr); err != nil {
				return nil, fmt.Errorf("%w: recipient: %w", ErrInvalidSettings, err)
			}
		}
		u.RecipientEmail = addr
	}
	if in.Model != nil {
		model := strings.TrimSpace(*in.Model)
		if model == "" {
			return nil, fmt.Errorf("%w: model is empty", ErrInvalidSettings)
		}
		u.Model = model
	}
	if in.SummaryPrompt != nil {
		u.SummaryPrompt = strings.TrimSpace(*in.SummaryPrompt)
	}
	if in.Delivery != nil {
		mode := strings.TrimSpace(*in.Delivery)
		if mode != store.DeliveryEmail && mode != store.DeliveryWeb {
			return nil, fmt.Errorf("%w: delivery must be %q or %q", ErrInvalidSettings, store.DeliveryEmail, store.DeliveryWeb)
		}
		u.Delivery = mode
	}
	if u.Delivery == store.DeliveryEmail && u.RecipientEmail == "" {
		return nil, fmt.Errorf("%w: email delivery needs a recipient address", ErrInvalidSettings)
	}
	if in.APIKey != nil {
		key := strings.TrimSpace(*in.APIKey)
		if key == "" {
			u.APIKeySealed = ""
		} else {
			sealed, err := s.sealer.Seal(key)
			if err != nil {
				return nil, fmt.Errorf("seal api key: %w", err)
			}
			u.APIKeySealed = sealed
		}
	}

	if err := s.store.UpdateUserSettings(ctx, u); err != nil {
		return nil, err
	}
	s.logger.Info("settings updated", slog.Int64("user", u.ID), slog.Bool("api_key", u.HasAPIKey()))
	return u, nil
}

// AddChannel resolves input (id, handle or URL) and registers the channel.
// The same channel entered in another form is rejected as a duplicate.
func (s *Service) AddChannel(ctx context.Context, userID int64, input string) (*store.Channel, error) {
	input = strings.TrimSpace(input)
	id, err := s.resolver.ResolveChannel(ctx, input)
	if err != nil {
		return nil, err
	}

	title := ""
	if s.feeds != nil {
		if feed, err := s.feeds.FetchFeed(ctx, id); err != nil {
			s.logger.Warn("channel title lookup failed", slog.String("channel", id), slog.Any("error", err))
		} else {
			title = feed.Title
		}
	}

	c := &store.Channel{UserID: userID, ChannelID: id, Source: input, Title: title}
	if err := s.store.AddChannel(ctx, c); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return nil, ErrDuplicateChannel
		}
		return nil, err
	}
	s.logger.Info("channel added", slog.Int64("user", userID), slog.String("channel", id))
	return c, nil
}

// ListChannels returns the user's channels.
func (s *Service) ListChannels(ctx context.Context, userID int64) ([]store.Channel, error) {
	return s.store.ListChannels(ctx, userID)
}

// RemoveChannel deletes one of the user's channels by row id.
func (s *Service) RemoveChannel(ctx context.Context, userID, id int64) error {
	return s.store.DeleteChannel(ctx, userID, id)
}

// Message maps account errors to the reader-facing text. Unknown errors
// yield "".
func Message(err error) string {
	switch {
	case errors.Is(err, ErrEmailTaken):
		return "이미 등록된 계정 이메일입니다."
	case errors.Is(err, ErrInvalidEmail):
		return "올바른 이메일 주소를 입력해 주세요."
	case errors.Is(err, ErrWeakPassword):
		return "비밀번호는 8자 이상이어야 합니다."
	case errors.Is(err, ErrInvalidCredentials):
		return "이메일 또는 비밀번호가 올바르지 않습니다."
	case errors.Is(err, ErrInvalidSettings):
		return "설정 값이 올바르지 않습니다."
	case errors.Is(err, ErrDuplicateChannel):
		return "이미 등록된 채널입니다."
	case errors.Is(err, sources.ErrResolution):
		return "채널 ID 또는 URL을 확인해 주세요."
	}
	return ""
}
