package routing

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// Service is the routing table with a read-mostly cache over the store.
type Service struct {
	store            Store
	defaultPartition string
	logger           *slog.Logger

	mu     sync.RWMutex
	cache  map[string]string
	loaded bool
}

// NewService creates a routing service. defaultPartition receives traffic
// for unrecognized channel keys.
func NewService(log *slog.Logger, store Store, defaultPartition string) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:            store,
		defaultPartition: defaultPartition,
		logger:           log.With(slog.String("service", "routing")),
		cache:            map[string]string{},
	}
}

// DefaultPartition returns the catch-all partition name.
func (s *Service) DefaultPartition() string {
	return s.defaultPartition
}

// ResolvePartition resolves a channel key to its partition name. Resolution
// is total: unknown keys resolve to the default partition with a warning
// instead of an error, so malformed webhook instance fields degrade to the
// catch-all channel.
func (s *Service) ResolvePartition(ctx context.Context, channelKey string) string {
	key := normalizeKey(channelKey)
	if key == "" {
		return s.defaultPartition
	}

	if partition, ok := s.lookup(key); ok {
		return partition
	}
	if err := s.reload(ctx); err != nil {
		s.logger.Warn("routing table reload failed", slog.Any("error", err))
		return s.defaultPartition
	}
	if partition, ok := s.lookup(key); ok {
		return partition
	}

	s.logger.Warn("unknown channel key, using default partition",
		slog.String("channel_key", channelKey),
		slog.String("partition", s.defaultPartition))
	return s.defaultPartition
}

// Known reports whether the key maps to a provisioned channel.
func (s *Service) Known(ctx context.Context, channelKey string) bool {
	key := normalizeKey(channelKey)
	if _, ok := s.lookup(key); ok {
		return true
	}
	if err := s.reload(ctx); err != nil {
		return false
	}
	_, ok := s.lookup(key)
	return ok
}

// Partitions returns the distinct partition names of all provisioned
// channels, default partition included.
func (s *Service) Partitions(ctx context.Context) ([]string, error) {
	mappings, err := s.store.ListMappings(ctx)
	if err != nil {
		return nil, fmt.Errorf("list mappings: %w", err)
	}
	seen := map[string]bool{s.defaultPartition: true}
	partitions := []string{s.defaultPartition}
	for _, m := range mappings {
		if !seen[m.PartitionName] {
			seen[m.PartitionName] = true
			partitions = append(partitions, m.PartitionName)
		}
	}
	return partitions, nil
}

// Create provisions a new channel: the physical partition plus one mapping
// row per alias. Concurrent creation of the same alias is serialized by the
// store's uniqueness guarantee; the loser gets ErrChannelExists and no
// second partition is ever created.
func (s *Service) Create(ctx context.Context, partition string, aliases ...string) error {
	partition = normalizeKey(partition)
	if partition == "" {
		return fmt.Errorf("partition name is required")
	}
	mappings := make([]Mapping, 0, len(aliases)+1)
	mappings = append(mappings, Mapping{ChannelKey: partition, PartitionName: partition})
	for _, alias := range aliases {
		if key := normalizeKey(alias); key != "" && key != partition {
			mappings = append(mappings, Mapping{ChannelKey: key, PartitionName: partition})
		}
	}

	if err := s.store.CreatePartition(ctx, partition); err != nil {
		return fmt.Errorf("create partition: %w", err)
	}
	if err := s.store.InsertMappings(ctx, mappings); err != nil {
		return err
	}
	s.invalidate()
	return nil
}

// AddAlias points one more key at an existing partition. The target must
// already be provisioned: an alias at a partition with no mapping rows
// would route live traffic at a table that does not exist.
func (s *Service) AddAlias(ctx context.Context, partition, alias string) error {
	key := normalizeKey(alias)
	if key == "" {
		return fmt.Errorf("alias is required")
	}
	target := normalizeKey(partition)
	partitions, err := s.Partitions(ctx)
	if err != nil {
		return err
	}
	known := false
	for _, p := range partitions {
		if p == target {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("partition %q: %w", target, ErrUnknownPartition)
	}
	if err := s.store.InsertMappings(ctx, []Mapping{{ChannelKey: key, PartitionName: target}}); err != nil {
		return err
	}
	s.invalidate()
	return nil
}

// Rename moves a channel's partition and its mappings as one logical
// operation. The store runs both inside one transaction, so a failed
// relocation rolls the mapping update back and never leaves an alias
// pointing at a missing table.
func (s *Service) Rename(ctx context.Context, oldPartition, newPartition string) error {
	oldPartition = normalizeKey(oldPartition)
	newPartition = normalizeKey(newPartition)
	if oldPartition == "" || newPartition == "" {
		return fmt.Errorf("both partition names are required")
	}
	if err := s.store.RenamePartition(ctx, oldPartition, newPartition); err != nil {
		return fmt.Errorf("rename partition: %w", err)
	}
	s.invalidate()
	return nil
}

// Delete drops a channel's partition and every alias pointing at it.
func (s *Service) Delete(ctx context.Context, partition string) error {
	if err := s.store.DropPartition(ctx, normalizeKey(partition)); err != nil {
		return fmt.Errorf("drop partition: %w", err)
	}
	s.invalidate()
	return nil
}

func (s *Service) lookup(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.loaded {
		return "", false
	}
	partition, ok := s.cache[key]
	return partition, ok
}

func (s *Service) reload(ctx context.Context) error {
	mappings, err := s.store.ListMappings(ctx)
	if err != nil {
		return err
	}
	cache := make(map[string]string, len(mappings))
	for _, m := range mappings {
		cache[normalizeKey(m.ChannelKey)] = m.PartitionName
	}
	s.mu.Lock()
	s.cache = cache
	s.loaded = true
	s.mu.Unlock()
	return nil
}

// invalidate drops the cache before the mutation is reported complete, so
// no reader can observe a stale mapping after a create/rename/delete.
func (s *Service) invalidate() {
	s.mu.Lock()
	s.cache = map[string]string{}
	s.loaded = false
	s.mu.Unlock()
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}
