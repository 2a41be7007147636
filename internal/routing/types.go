// Package routing maps channel identifiers to physical message partitions.
// A channel can be reached under several aliases (human slug, provider
// instance id); all of them resolve to the same partition, and unknown keys
// fall back to the catch-all partition so no webhook traffic is dropped.
package routing

import (
	"context"
	"errors"
)

var (
	// ErrChannelExists indicates a mapping for the alias already exists.
	ErrChannelExists = errors.New("channel alias already mapped")
	// ErrUnknownPartition indicates the partition has no mapping rows.
	ErrUnknownPartition = errors.New("unknown partition")
)

// Mapping is one alias row of the routing table.
type Mapping struct {
	ChannelKey    string `json:"channel_key"`
	PartitionName string `json:"partition_name"`
}

// Store persists the routing table and performs partition DDL.
type Store interface {
	ListMappings(ctx context.Context) ([]Mapping, error)
	// InsertMappings writes alias rows; duplicate aliases return ErrChannelExists.
	InsertMappings(ctx context.Context, mappings []Mapping) error
	// CreatePartition creates the physical message table if absent.
	CreatePartition(ctx context.Context, partition string) error
	// RenamePartition moves the table and repoints every alias in one
	// transaction; a failure leaves both untouched.
	RenamePartition(ctx context.Context, oldPartition, newPartition string) error
	// DropPartition removes the table and its alias rows.
	DropPartition(ctx context.Context, partition string) error
}
