// Package membership applies member changes to directory groups.
//
// Bulk calls are split into batch windows of Config.BatchSize mutations.
// Every per-item answer is classified as success, ignored, retryable or
// fatal. Retryable items (quota exhaustion, backend unavailable) are sent
// once more on their own after all windows are done. Fatal items never stop
// the remaining work; they are collected and returned as one error: the
// failure itself when exactly one mutation failed, an *AggregateError when
// several did.
//
// Every call runs inside the admission gate for Config.ServiceName and holds
// one pooled client for its whole duration. The gate is always taken first.
package membership

import (
	"context"
	"errors"
	"fmt"

	"github.com/Sternrassler/directory-groups/pkg/cache"
	"github.com/Sternrassler/directory-groups/pkg/directory"
	"github.com/Sternrassler/directory-groups/pkg/logging"
	"github.com/Sternrassler/directory-groups/pkg/pagination"
	"github.com/Sternrassler/directory-groups/pkg/ratelimit"
	"github.com/rs/zerolog"
)

// DefaultServiceName is the gate key used for member operations.
const DefaultServiceName = "GroupMemberRequestFactory"

// ClientPool lends directory clients for the duration of fn.
type ClientPool interface {
	Use(ctx context.Context, fn func(directory.Client) error) error
}

// SnapshotCache stores membership listings between reads.
type SnapshotCache interface {
	Get(ctx context.Context, groupKey string) (*cache.Entry, error)
	Set(ctx context.Context, groupKey string, members []directory.Member) error
	Invalidate(ctx context.Context, groupKey string) error
}

// Config holds the manager configuration.
type Config struct {
	// BatchSize is the number of mutations per batch call. Values of 1 or
	// less disable batching. Must not exceed MaxBatchSize.
	BatchSize int

	// ServiceName keys the admission gate.
	ServiceName string

	// Cache is optional. When set, GetMembership serves snapshots from it and
	// member changes invalidate the group's snapshot.
	Cache SnapshotCache

	// Paging bounds member listings.
	Paging pagination.Config
}

// DefaultConfig returns the default manager configuration.
func DefaultConfig() Config {
	return Config{
		BatchSize:   DefaultBatchSize,
		ServiceName: DefaultServiceName,
		Paging:      pagination.DefaultConfig(),
	}
}

// Manager is the entry point for reading and changing group membership. It is
// safe for concurrent use.
type Manager struct {
	gate        ratelimit.Gate
	clients     ClientPool
	cache       SnapshotCache
	coordinator *Coordinator
	service     string
	paging      pagination.Config
	logger      zerolog.Logger
}

// NewManager creates a new manager.
func NewManager(gate ratelimit.Gate, clients ClientPool, cfg Config) (*Manager, error) {
	if gate == nil {
		return nil, fmt.Errorf("gate is required")
	}

	if clients == nil {
		return nil, fmt.Errorf("client pool is required")
	}

	if cfg.BatchSize > MaxBatchSize {
		return nil, fmt.Errorf("batch_size must be <= %d (got %d)", MaxBatchSize, cfg.BatchSize)
	}

	if cfg.ServiceName == "" {
		cfg.ServiceName = DefaultServiceName
	}

	logger := logging.NewLogger("membership")

	return &Manager{
		gate:        gate,
		clients:     clients,
		cache:       cfg.Cache,
		coordinator: NewCoordinator(cfg.BatchSize, logger),
		service:     cfg.ServiceName,
		paging:      cfg.Paging,
		logger:      logger,
	}, nil
}

// withClient runs fn inside the gate with a pooled client. The gate is always
// taken before the pool; every call path must keep that order. The gate is
// released even when no client could be checked out.
func (m *Manager) withClient(ctx context.Context, fn func(directory.Client) error) error {
	return ratelimit.Within(ctx, m.gate, m.service, func() error {
		return m.clients.Use(ctx, fn)
	})
}

// execute sends one mutation and returns the directory's error as is.
func (m *Manager) execute(ctx context.Context, mut directory.Mutation) error {
	m.logger.Info().
		Str("kind", mut.Kind()).
		Str("member", mut.MemberKey()).
		Str("role", mut.Member().Role).
		Str("group", mut.GroupKey()).
		Msg("Changing group member")

	err := m.withClient(ctx, func(c directory.Client) error {
		return c.Execute(ctx, mut)
	})

	m.invalidate(ctx, mut.GroupKey())
	return err
}

// apply runs a bulk call through the coordinator.
func (m *Manager) apply(ctx context.Context, groupKey string, mutations []directory.Mutation, opts ClassifyOptions) error {
	if len(mutations) == 0 {
		return nil
	}

	for _, mut := range mutations {
		m.logger.Debug().
			Str("kind", mut.Kind()).
			Str("member", mut.MemberKey()).
			Str("role", mut.Member().Role).
			Str("group", groupKey).
			Msg("Queuing member change")
	}

	err := m.withClient(ctx, func(c directory.Client) error {
		return m.coordinator.Execute(ctx, c, groupKey, mutations, opts).Err()
	})

	m.invalidate(ctx, groupKey)
	return err
}

// AddMember adds one member to a group.
func (m *Manager) AddMember(ctx context.Context, groupKey string, member directory.Member) error {
	return m.execute(ctx, directory.Insert(groupKey, member))
}

// AddMemberByID adds the member identified by memberID, an email address or
// opaque id, with role (RoleMember if empty).
func (m *Manager) AddMemberByID(ctx context.Context, groupKey, memberID, role string) error {
	return m.AddMember(ctx, groupKey, directory.NewMember(memberID, role))
}

// RemoveMember removes one member from a group.
func (m *Manager) RemoveMember(ctx context.Context, groupKey, memberKey string) error {
	return m.execute(ctx, directory.Delete(groupKey, memberKey))
}

// ChangeMemberRole sets the role of one member to member.Role.
func (m *Manager) ChangeMemberRole(ctx context.Context, groupKey string, member directory.Member) error {
	return m.execute(ctx, directory.Patch(groupKey, member))
}

// AddMembers adds members to a group. Unless throwOnExistingMember is set,
// members that are already in the group are not reported as failures.
func (m *Manager) AddMembers(ctx context.Context, groupKey string, members []directory.Member, throwOnExistingMember bool) error {
	mutations := make([]directory.Mutation, 0, len(members))
	for _, member := range members {
		mutations = append(mutations, directory.Insert(groupKey, member))
	}

	return m.apply(ctx, groupKey, mutations, ClassifyOptions{IgnoreExistingMember: !throwOnExistingMember})
}

// RemoveMembers removes members from a group. Unless throwOnMissingMember is
// set, members that are not in the group are not reported as failures.
func (m *Manager) RemoveMembers(ctx context.Context, groupKey string, memberKeys []string, throwOnMissingMember bool) error {
	mutations := make([]directory.Mutation, 0, len(memberKeys))
	for _, key := range memberKeys {
		mutations = append(mutations, directory.Delete(groupKey, key))
	}

	return m.apply(ctx, groupKey, mutations, ClassifyOptions{IgnoreMissingMember: !throwOnMissingMember})
}

// ChangeMemberRoles sets the role of each member to its Role field.
func (m *Manager) ChangeMemberRoles(ctx context.Context, groupKey string, members []directory.Member) error {
	mutations := make([]directory.Mutation, 0, len(members))
	for _, member := range members {
		mutations = append(mutations, directory.Patch(groupKey, member))
	}

	return m.apply(ctx, groupKey, mutations, ClassifyOptions{})
}

// GetMembership lists the members of a group. Members without an email are
// skipped. The gate and a pooled client are held for each page rather than
// the whole listing, acquired in the same order as for member changes.
func (m *Manager) GetMembership(ctx context.Context, groupKey string) (*Membership, error) {
	if m.cache != nil {
		entry, err := m.cache.Get(ctx, groupKey)
		switch {
		case err == nil:
			return NewMembership(groupKey, entry.Members), nil
		case !errors.Is(err, cache.ErrCacheMiss):
			m.logger.Warn().Err(err).Str("group", groupKey).Msg("Cache get error")
		}
	}

	m.logger.Info().Str("group", groupKey).Msg("Getting members from group")

	members, err := pagination.Collect(ctx, m.paging, func(ctx context.Context, token string) ([]directory.Member, string, error) {
		var page *directory.MemberPage
		err := m.withClient(ctx, func(c directory.Client) error {
			var err error
			page, err = c.ListMembers(ctx, groupKey, token)
			return err
		})
		if err != nil {
			return nil, "", err
		}
		return page.Members, page.NextPageToken, nil
	})
	if err != nil {
		return nil, fmt.Errorf("get membership of %s: %w", groupKey, err)
	}

	withEmail := make([]directory.Member, 0, len(members))
	for _, member := range members {
		if member.Email != "" {
			withEmail = append(withEmail, member)
		}
	}

	m.logger.Info().
		Str("group", groupKey).
		Int("count", len(withEmail)).
		Msg("Returned members from group")

	if m.cache != nil {
		if err := m.cache.Set(ctx, groupKey, withEmail); err != nil {
			m.logger.Warn().Err(err).Str("group", groupKey).Msg("Failed to cache membership")
		}
	}

	return NewMembership(groupKey, withEmail), nil
}

// invalidate drops the cached snapshot of a changed group.
func (m *Manager) invalidate(ctx context.Context, groupKey string) {
	if m.cache == nil {
		return
	}
	if err := m.cache.Invalidate(ctx, groupKey); err != nil {
		m.logger.Warn().Err(err).Str("group", groupKey).Msg("Failed to invalidate membership cache")
	}
}
