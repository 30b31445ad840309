package recurrence

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/bugradar/bugradar/internal/domain"
	"github.com/bugradar/bugradar/internal/service/metrics"
)

// Days is the length of every recurrence series.
const Days = 7

// ErrMessageRequired is returned when no log message is given.
var ErrMessageRequired = errors.New("log_message is required")

type dailyCounter interface {
	DailyEventCounts(ctx context.Context, filter domain.DailyCountFilter) (map[string]int64, error)
}

// Service groups events by message into a daily series.
type Service struct {
	repo dailyCounter
	loc  *time.Location
	now  func() time.Time
}

// New returns a recurrence service using loc for day boundaries.
func New(repo dailyCounter, loc *time.Location) Service {
	if loc == nil {
		loc = time.UTC
	}
	return Service{repo: repo, loc: loc, now: time.Now}
}

// Series returns exactly Days points for events matching logMessage, oldest
// first, covering today and the previous days in the service's location.
func (s Service) Series(ctx context.Context, projectID, logMessage string) ([]domain.DailyCount, error) {
	if strings.TrimSpace(logMessage) == "" {
		return nil, ErrMessageRequired
	}
	now := s.now()
	match := Match(logMessage)
	counts, err := s.repo.DailyEventCounts(ctx, domain.DailyCountFilter{
		ProjectID: projectID,
		Since:     metrics.StartOfDay(now, s.loc).AddDate(0, 0, -(Days - 1)),
		Location:  s.loc,
		Message:   &match,
	})
	if err != nil {
		return nil, err
	}
	return metrics.DailySeries(counts, now, s.loc, Days), nil
}

// Match derives the message predicate. A JSON object carrying a non-empty
// string "msg" matches events containing that text; anything else must match
// the stored message exactly.
func Match(logMessage string) domain.MessageMatch {
	if gjson.Valid(logMessage) {
		msg := gjson.Get(logMessage, "msg")
		if msg.Type == gjson.String && msg.Str != "" {
			return domain.MessageMatch{Text: msg.Str, Contains: true}
		}
	}
	return domain.MessageMatch{Text: logMessage}
}
