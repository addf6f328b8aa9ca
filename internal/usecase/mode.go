package usecase

import (
	"fmt"
	"time"

	"BlogPublisher/internal/domain"
)

// ModePolicy is everything that differs between the scheduled and immediate paths.
type ModePolicy struct {
	Mode domain.Mode
	// Live posts with CMS status "publish" instead of "draft".
	Live bool
}

// PolicyFor returns the policy for mode. Unknown modes fall back to scheduled.
func PolicyFor(mode domain.Mode) ModePolicy {
	if mode == domain.ModeImmediate {
		return ModePolicy{Mode: domain.ModeImmediate, Live: true}
	}
	return ModePolicy{Mode: domain.ModeScheduled, Live: false}
}

// Eligible decides whether record may be published now. explicit is set when
// the caller named the record; the immediate path then accepts any
// non-terminal status. The returned reason explains a refusal.
func (p ModePolicy) Eligible(record domain.ContentRecord, now time.Time, explicit bool) (bool, string) {
	if record.AlreadyPublished() {
		return false, fmt.Sprintf("already published as post %s", record.RemotePostID)
	}

	switch p.Mode {
	case domain.ModeImmediate:
		switch record.Status {
		case domain.StatusReadyToPublish:
			return true, ""
		case domain.StatusDraft, domain.StatusScheduled:
			if explicit {
				return true, ""
			}
		}
		return false, fmt.Sprintf("status %q is not ready to publish", statusLabel(record))

	default:
		if record.Status != domain.StatusScheduled {
			return false, fmt.Sprintf("status %q is not scheduled", statusLabel(record))
		}
		if record.PublishAt == nil {
			return false, "scheduled without a publish date"
		}
		if record.PublishAt.After(now) {
			return false, "not due until " + record.PublishAt.Format(time.RFC3339)
		}
		return true, ""
	}
}

func statusLabel(record domain.ContentRecord) string {
	if record.Status == domain.StatusUnknown && record.RawStatus != "" {
		return record.RawStatus
	}
	return string(record.Status)
}
