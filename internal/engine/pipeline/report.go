package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/anatolykoptev/go_ytdigest/internal/engine/digest"
	"github.com/anatolykoptev/go_ytdigest/internal/engine/notify"
	"github.com/anatolykoptev/go_ytdigest/internal/engine/sources"
	"github.com/anatolykoptev/go_ytdigest/internal/store"
	"github.com/anatolykoptev/go_ytdigest/internal/vault"
)

// Status of a user run.
type Status string

const (
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusSkipped Status = "skipped"
	StatusAborted Status = "aborted"
)

// Outcome of one video within a run.
type Outcome string

const (
	OutcomeGenerated             Outcome = "generated"
	OutcomeDeliveryFailed        Outcome = "delivery_failed"
	OutcomeTranscriptUnavailable Outcome = "transcript_unavailable"
	OutcomeSummaryFailed         Outcome = "summary_failed"
	OutcomeAbandoned             Outcome = "abandoned"
	OutcomeReleased              Outcome = "released"
	OutcomeTaken                 Outcome = "taken" // another run owns or committed the video
	OutcomeNotFound              Outcome = "not_found"
	OutcomeAlreadyGenerated      Outcome = "already_generated"
)

// VideoResult is what happened to one video.
type VideoResult struct {
	VideoID string  `json:"video_id"`
	Title   string  `json:"title,omitempty"`
	Outcome Outcome `json:"outcome"`
	Retry   bool    `json:"retry,omitempty"`
	Message string  `json:"message,omitempty"`
}

// ChannelError records a channel whose feed could not be read.
type ChannelError struct {
	ChannelID string `json:"channel_id"`
	Message   string `json:"message"`
}

// Report summarizes one run for one user.
type Report struct {
	RunID         string         `json:"run_id"`
	UserID        int64          `json:"user_id"`
	Status        Status         `json:"status"`
	Message       string         `json:"message,omitempty"`
	StartedAt     string         `json:"started_at"`
	FinishedAt    string         `json:"finished_at,omitempty"`
	Channels      int            `json:"channels"`
	Scanned       int            `json:"scanned"`
	Retried       int            `json:"retried"`
	Generated     int            `json:"generated"`
	Delivered     int            `json:"delivered"`
	Failed        int            `json:"failed"`
	Abandoned     int64          `json:"abandoned"`
	ChannelErrors []ChannelError `json:"channel_errors,omitempty"`
	Videos        []VideoResult  `json:"videos,omitempty"`
}

// CycleReport covers one all-users cycle.
type CycleReport struct {
	RunID      string    `json:"run_id"`
	StartedAt  string    `json:"started_at"`
	FinishedAt string    `json:"finished_at,omitempty"`
	Users      []*Report `json:"users"`
	Errors     int       `json:"errors"`
}

func (r *Report) add(v VideoResult) {
	r.Videos = append(r.Videos, v)
	switch v.Outcome {
	case OutcomeGenerated:
		r.Generated++
		r.Delivered++
	case OutcomeDeliveryFailed:
		r.Generated++
		r.Failed++
	case OutcomeTranscriptUnavailable, OutcomeSummaryFailed, OutcomeAbandoned, OutcomeReleased:
		r.Failed++
	}
}

func (r *Report) finish(status Status, err error) {
	r.Status = status
	if err != nil {
		r.Message = UserMessage(err)
	}
	r.FinishedAt = stamp(time.Now())
}

func stamp(t time.Time) string { return t.UTC().Format(time.RFC3339) }

// GenericMessage is returned by UserMessage for errors it does not recognise.
const GenericMessage = "처리 중 오류가 발생했습니다."

// UserMessage maps an error to a short message for the reader. It never
// exposes upstream detail.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, vault.ErrDecryption):
		return "저장된 API 키를 확인할 수 없습니다. 설정에서 API 키를 다시 입력해 주세요."
	case errors.Is(err, ErrMissingAPIKey):
		return "API 키가 설정되지 않았습니다."
	case errors.Is(err, sources.ErrTranscriptUnavailable):
		return "영어 자막을 가져올 수 없습니다."
	case errors.Is(err, digest.ErrSummarization):
		return "자막 번역 요약 생성에 실패했습니다."
	case errors.Is(err, sources.ErrFeedUnavailable):
		return "채널 피드를 불러올 수 없습니다."
	case errors.Is(err, sources.ErrResolution):
		return "채널을 찾을 수 없습니다."
	case errors.Is(err, notify.ErrMailerNotConfigured):
		return "메일 발송 설정이 없습니다."
	case errors.Is(err, notify.ErrDelivery):
		return "요약 메일 발송에 실패했습니다."
	case errors.Is(err, store.ErrNotFound):
		return "항목을 찾을 수 없습니다."
	case errors.Is(err, context.DeadlineExceeded):
		return "처리 시간이 초과되었습니다."
	case errors.Is(err, context.Canceled):
		return "처리가 취소되었습니다."
	default:
		return GenericMessage
	}
}
