// Package topic centralizes the telemetry topic layout so the gateway and
// any consumer agree on one contract.
package topic

import (
	"fmt"
)

// Topic segments shared between the gateway and telemetry consumers.
// Changing these values breaks existing subscribers.
const (
	// SuffixLinkState carries serial link state transitions.
	// Structure: {root}/link/state/{gatewayID}
	SuffixLinkState = "link/state"

	// SuffixHeartbeat carries the periodic gateway heartbeat.
	// Structure: {root}/heartbeat/{gatewayID}
	SuffixHeartbeat = "heartbeat"
)

// Builder constructs telemetry topic strings under one root namespace.
type Builder struct {
	root string
}

// NewBuilder creates a Builder with the given root namespace
// (e.g. "dgate/v1").
func NewBuilder(root string) *Builder {
	return &Builder{root: root}
}

// LinkState returns the topic for a gateway's link state transitions.
func (b *Builder) LinkState(gatewayID string) string {
	return b.build(SuffixLinkState, gatewayID)
}

// LinkStateWildcard returns the filter matching all gateways' link states.
func (b *Builder) LinkStateWildcard() string {
	return b.build(SuffixLinkState, "+")
}

// Heartbeat returns the topic for a gateway's heartbeat.
func (b *Builder) Heartbeat(gatewayID string) string {
	return b.build(SuffixHeartbeat, gatewayID)
}

// HeartbeatWildcard returns the filter matching all gateways' heartbeats.
func (b *Builder) HeartbeatWildcard() string {
	return b.build(SuffixHeartbeat, "+")
}

func (b *Builder) build(suffix, id string) string {
	return fmt.Sprintf("%s/%s/%s", b.root, suffix, id)
}
