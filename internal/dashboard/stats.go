// Package dashboard serves read-only aggregates over login attempts and
// managed devices for the operator dashboard.
package dashboard

import (
	"context"
	"fmt"
	"time"

	"github.com/CallumSergeant/alarm/internal/services"
	"github.com/CallumSergeant/alarm/pkg/models"
)

const (
	day         = 24 * time.Hour
	week        = 7 * day
	topLimit    = 5
	unusualHour = 10
)

// Counts summarizes one login outcome over the standard windows.
type Counts struct {
	Last24h       int `json:"last_24h"`
	Previous24h   int `json:"previous_24h"`
	Difference    int `json:"difference"`
	AbsDifference int `json:"abs_difference"`
	Last7d        int `json:"last_7d"`
	AllTime       int `json:"all_time"`
}

// Hourly is a per-hour-of-day histogram of the last 24 hours. Index i holds
// attempts whose UTC timestamp falls in hour i.
type Hourly [24]int

// Labels returns "00:00" through "23:00".
func (Hourly) Labels() []string {
	out := make([]string, 24)
	for h := range out {
		out[h] = fmt.Sprintf("%02d:00", h)
	}
	return out
}

// Total sums every bucket.
func (h Hourly) Total() int {
	n := 0
	for _, c := range h {
		n += c
	}
	return n
}

// Peak returns the busiest hour and its count. Ties go to the earliest hour.
func (h Hourly) Peak() (hour, count int) {
	for i, c := range h {
		if c > count {
			hour, count = i, c
		}
	}
	return hour, count
}

// Stats is the body of GET /admin/stats.
type Stats struct {
	GeneratedAt   time.Time              `json:"generated_at"`
	Failed        Counts                 `json:"failed"`
	Successful    Counts                 `json:"successful"`
	Labels        []string               `json:"labels"`
	FailedHourly  Hourly                 `json:"failed_hourly"`
	SuccessHourly Hourly                 `json:"successful_hourly"`
	TopFailed     []services.SourceCount `json:"top_failed"`
	TopSuccessful []services.SourceCount `json:"top_successful"`
	Insights      []string               `json:"insights"`
}

// Reporter computes dashboard aggregates.
type Reporter struct {
	attempts services.LoginAttemptRepository
	now      func() time.Time
}

// NewReporter creates a Reporter. now defaults to time.Now.
func NewReporter(attempts services.LoginAttemptRepository, now func() time.Time) *Reporter {
	if now == nil {
		now = time.Now
	}
	return &Reporter{attempts: attempts, now: now}
}

// Stats computes counts, hourly histograms, top sources and insights as of now.
func (r *Reporter) Stats(ctx context.Context) (*Stats, error) {
	now := r.now().UTC()
	st := &Stats{GeneratedAt: now, Labels: Hourly{}.Labels()}

	var err error
	if st.Failed, err = r.counts(ctx, models.LoginFailed, now); err != nil {
		return nil, err
	}
	if st.Successful, err = r.counts(ctx, models.LoginAccepted, now); err != nil {
		return nil, err
	}
	if st.FailedHourly, err = r.hourly(ctx, models.LoginFailed, now); err != nil {
		return nil, err
	}
	if st.SuccessHourly, err = r.hourly(ctx, models.LoginAccepted, now); err != nil {
		return nil, err
	}

	lastWeek := services.TimeRange{Start: now.Add(-week), End: now}
	if st.TopFailed, err = r.attempts.TopSources(ctx, models.LoginFailed, lastWeek, topLimit); err != nil {
		return nil, err
	}
	if st.TopSuccessful, err = r.attempts.TopSources(ctx, models.LoginAccepted, lastWeek, topLimit); err != nil {
		return nil, err
	}

	top, err := r.attempts.SourcesAtLeast(ctx, models.LoginFailed, now.Add(-day), 2)
	if err != nil {
		return nil, err
	}
	st.Insights = Insights(st.FailedHourly, top)
	return st, nil
}

func (r *Reporter) counts(ctx context.Context, action models.LoginOutcome, now time.Time) (Counts, error) {
	var c Counts
	var err error
	if c.Last24h, err = r.attempts.Count(ctx, action, services.TimeRange{Start: now.Add(-day)}); err != nil {
		return c, err
	}
	if c.Previous24h, err = r.attempts.Count(ctx, action, services.TimeRange{Start: now.Add(-2 * day), End: now.Add(-day)}); err != nil {
		return c, err
	}
	if c.Last7d, err = r.attempts.Count(ctx, action, services.TimeRange{Start: now.Add(-week)}); err != nil {
		return c, err
	}
	if c.AllTime, err = r.attempts.Count(ctx, action, services.TimeRange{}); err != nil {
		return c, err
	}
	c.Difference = c.Last24h - c.Previous24h
	c.AbsDifference = c.Difference
	if c.AbsDifference < 0 {
		c.AbsDifference = -c.AbsDifference
	}
	return c, nil
}

func (r *Reporter) hourly(ctx context.Context, action models.LoginOutcome, now time.Time) (Hourly, error) {
	var h Hourly
	stamps, err := r.attempts.Timestamps(ctx, action, now.Add(-day))
	if err != nil {
		return h, err
	}
	for _, ts := range stamps {
		h[ts.UTC().Hour()]++
	}
	return h, nil
}

// Insights derives operator hints from the failed-login histogram and the
// failing sources of the last day, busiest first.
func Insights(failed Hourly, top []services.SourceCount) []string {
	insights := []string{}
	hour, peak := failed.Peak()

	if peak > unusualHour {
		insights = append(insights,
			fmt.Sprintf("Unusual activity detected: %d failed logins at %02d:00.", peak, hour))
	}
	if len(top) > 0 && top[0].Count > 1 {
		insights = append(insights,
			fmt.Sprintf("Suspicious activity: IP %s attempted %d failed logins.", top[0].SourceIP, top[0].Count))
	}

	total := failed.Total()
	if total == 0 {
		insights = append(insights, "No failed login attempts detected in the last 24 hours. All clear!")
	}
	if float64(peak) > float64(total)/24*2 {
		insights = append(insights,
			fmt.Sprintf("Spike detected: Failed logins at %02d:00 were over double the daily average.", hour))
	}
	return insights
}
