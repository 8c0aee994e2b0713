// Package domain implements the compliance resolution and certification engine.
package domain

import (
	"strings"
	"time"
)

// ActivityType enumerates the learning formats an activity can take.
type ActivityType string

const (
	ActivityTypeVideo      ActivityType = "video"
	ActivityTypeWebinar    ActivityType = "webinar"
	ActivityTypeArticle    ActivityType = "article"
	ActivityTypePodcast    ActivityType = "podcast"
	ActivityTypeWorkshop   ActivityType = "workshop"
	ActivityTypeCourse     ActivityType = "course"
	ActivityTypeConference ActivityType = "conference"
	ActivityTypeOther      ActivityType = "other"
)

var activityTypes = map[ActivityType]struct{}{
	ActivityTypeVideo: {}, ActivityTypeWebinar: {}, ActivityTypeArticle: {}, ActivityTypePodcast: {},
	ActivityTypeWorkshop: {}, ActivityTypeCourse: {}, ActivityTypeConference: {}, ActivityTypeOther: {},
}

// Valid reports whether t is a known activity type.
func (t ActivityType) Valid() bool {
	_, ok := activityTypes[t]
	return ok
}

// PublishState tracks the editorial lifecycle of an activity.
type PublishState string

const (
	PublishStateDraft     PublishState = "draft"
	PublishStatePublished PublishState = "published"
)

// Activity is a learning unit that may confer credit. Activities are retired, never deleted,
// so certificates that reference them stay resolvable.
type Activity struct {
	ID           string
	Title        string
	Provider     string
	Type         ActivityType
	PublishState PublishState
	Version      int
	Active       bool
	PublishedAt  *time.Time
	PublishedBy  string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ActivityInput carries the editable fields of an activity.
type ActivityInput struct {
	Title    string
	Provider string
	Type     ActivityType
}

func (in ActivityInput) validate() error {
	if strings.TrimSpace(in.Title) == "" {
		return validationf("title is required")
	}
	if !in.Type.Valid() {
		return validationf("unknown activity type %q", in.Type)
	}
	return nil
}
