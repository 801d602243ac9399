// Package blocklist maintains the set of banned source addresses shared with
// every managed device.
package blocklist

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/CallumSergeant/alarm/internal/event"
	"github.com/CallumSergeant/alarm/internal/metrics"
	"github.com/CallumSergeant/alarm/internal/services"
	"github.com/CallumSergeant/alarm/pkg/models"
)

// Outcome describes what ReportBan changed.
type Outcome string

const (
	OutcomeCreated     Outcome = "created"
	OutcomeReactivated Outcome = "reactivated"
	OutcomeUnchanged   Outcome = "unchanged"
)

// Changed reports whether the address went from not banned to banned.
func (o Outcome) Changed() bool { return o != OutcomeUnchanged }

// Partition is the blocklist as served to devices.
type Partition struct {
	Banned   []string `json:"blocked_ips"`
	Unbanned []string `json:"unblocked_ips"`
}

// Store applies ban changes atomically and announces them on the bus.
type Store struct {
	repo    services.BlockedIPRepository
	bus     event.Publisher
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewStore creates a Store. bus and m may be nil; now defaults to time.Now.
func NewStore(repo services.BlockedIPRepository, bus event.Publisher, m *metrics.Metrics, logger *zap.Logger, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{repo: repo, bus: bus, metrics: m, logger: logger, now: now}
}

// ValidateIP normalizes ip and rejects anything that is not an IPv4 or IPv6
// address.
func ValidateIP(ip string) (string, error) {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return "", fmt.Errorf("%w: IP address is required", services.ErrValidation)
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return "", fmt.Errorf("%w: invalid IP address %q", services.ErrValidation, ip)
	}
	return addr.Unmap().String(), nil
}

// ReportBan makes sure ip is banned. A new address is inserted; an unbanned
// one is reactivated with a fresh banned_at; a banned one is left alone.
// Concurrent calls for the same address converge on a single row.
func (s *Store) ReportBan(ctx context.Context, ip, reason string) (Outcome, error) {
	ip, err := ValidateIP(ip)
	if err != nil {
		return OutcomeUnchanged, err
	}
	return s.ban(ctx, ip, reason)
}

// Ban is ReportBan for sources already recorded by ingestion. The address is
// stored as recorded; only an empty address is rejected.
func (s *Store) Ban(ctx context.Context, ip, reason string) (Outcome, error) {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return OutcomeUnchanged, fmt.Errorf("%w: IP address is required", services.ErrValidation)
	}
	return s.ban(ctx, ip, reason)
}

func (s *Store) ban(ctx context.Context, ip, reason string) (Outcome, error) {
	now := s.now()

	outcome := OutcomeCreated
	err := s.repo.Insert(ctx, ip, reason, now)
	if errors.Is(err, services.ErrAlreadyExists) {
		var changed bool
		changed, err = s.repo.Reactivate(ctx, ip, now)
		outcome = OutcomeUnchanged
		if changed {
			outcome = OutcomeReactivated
		}
	}
	if err != nil {
		return OutcomeUnchanged, fmt.Errorf("%w: ban %s: %v", services.ErrStorage, ip, err)
	}

	s.metrics.ObserveBan(string(outcome))
	if outcome.Changed() {
		s.logger.Info("address banned",
			zap.String("ip", ip),
			zap.String("outcome", string(outcome)),
			zap.String("reason", reason),
		)
		s.publish(ctx, event.TopicBlocklistBanned, ip)
	}
	return outcome, nil
}

// Toggle flips the ban state of an existing address.
func (s *Store) Toggle(ctx context.Context, ip string) (*models.BlockedIP, error) {
	b, err := s.repo.Toggle(ctx, strings.TrimSpace(ip))
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveBan("toggled")

	topic := event.TopicBlocklistUnbanned
	if b.CurrentlyBanned {
		topic = event.TopicBlocklistBanned
	}
	s.logger.Info("ban toggled", zap.String("ip", b.IPAddress), zap.Bool("banned", b.CurrentlyBanned))
	s.emit(ctx, topic, *b)
	return b, nil
}

// List returns every address split by ban state. Neither slice is nil and
// no address appears in both.
func (s *Store) List(ctx context.Context) (Partition, error) {
	banned, unbanned, err := s.repo.Addresses(ctx)
	if err != nil {
		return Partition{}, err
	}
	return Partition{Banned: banned, Unbanned: unbanned}, nil
}

// Search returns full rows matching f, newest ban first.
func (s *Store) Search(ctx context.Context, f services.BlockedIPFilter) ([]models.BlockedIP, error) {
	return s.repo.List(ctx, f)
}

func (s *Store) publish(ctx context.Context, topic, ip string) {
	if s.bus == nil {
		return
	}
	b, err := s.repo.Get(ctx, ip)
	if err != nil {
		s.logger.Warn("failed to load ban for event", zap.String("ip", ip), zap.Error(err))
		return
	}
	s.emit(ctx, topic, *b)
}

func (s *Store) emit(ctx context.Context, topic string, b models.BlockedIP) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, event.Event{Topic: topic, Source: "blocklist", Payload: b}); err != nil {
		s.logger.Warn("failed to publish blocklist event", zap.String("topic", topic), zap.Error(err))
	}
}
