package server

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/CallumSergeant/alarm/internal/services"
)

// queryTimeLayouts are accepted for start and end query parameters. The short
// form matches what datetime-local inputs submit and is read as UTC.
var queryTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseQueryTime parses a time query value in any accepted layout.
func ParseQueryTime(s string) (time.Time, error) {
	for _, layout := range queryTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q", s)
}

// ParseTimeRange reads the optional start and end query parameters.
func ParseTimeRange(r *http.Request) (services.TimeRange, error) {
	var tr services.TimeRange
	q := r.URL.Query()
	if s := q.Get("start"); s != "" {
		t, err := ParseQueryTime(s)
		if err != nil {
			return tr, fmt.Errorf("start: %w", err)
		}
		tr.Start = t
	}
	if s := q.Get("end"); s != "" {
		t, err := ParseQueryTime(s)
		if err != nil {
			return tr, fmt.Errorf("end: %w", err)
		}
		tr.End = t
	}
	return tr, nil
}

// ParseListOptions reads limit, offset and sort. Invalid numbers are ignored
// and left to the repository defaults.
func ParseListOptions(r *http.Request) services.ListOptions {
	q := r.URL.Query()
	opts := services.ListOptions{SortOrder: q.Get("sort")}
	if n, err := strconv.Atoi(q.Get("limit")); err == nil {
		opts.Limit = n
	}
	if n, err := strconv.Atoi(q.Get("offset")); err == nil {
		opts.Offset = n
	}
	return opts
}
