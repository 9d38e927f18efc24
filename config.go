package consensus

import (
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/raftkit/consensus/storage"
)

const (
	defaultMinElectionTimeout = 150 * time.Millisecond
	defaultMaxElectionTimeout = 300 * time.Millisecond
	defaultHeartbeatInterval  = 50 * time.Millisecond
)

// Options configures a Node. ConfigError is detected the first time a Node
// is built from these Options (NewNode), not eagerly at struct
// construction, matching the "detected at first use" propagation rule.
type Options struct {
	// ID overrides the generated node identity. Optional.
	ID string

	// IDGenerator produces an identity when ID is empty. Defaults to
	// uuid.NewString, grounded in the same library the wider example
	// stack (etcd, influxdb) uses for node and member identifiers.
	IDGenerator func() string

	MinElectionTimeout time.Duration
	MaxElectionTimeout time.Duration
	HeartbeatInterval  time.Duration

	// Persistence is the durable backend for term/vote/log metadata and
	// applied-entry delivery. Required.
	Persistence storage.Backend

	// Logger receives structured events for role transitions, term
	// changes, vote grants, commit advances, and errors. Defaults to a
	// no-op logger.
	Logger *zap.Logger

	// Rand sources randomised election timeouts. Defaults to a
	// time-seeded generator; tests inject a deterministic one.
	Rand *rand.Rand
}

func (o *Options) setDefaults() error {
	if o.ID == "" {
		gen := o.IDGenerator
		if gen == nil {
			gen = uuid.NewString
		}
		o.ID = gen()
	}
	if o.MinElectionTimeout == 0 {
		o.MinElectionTimeout = defaultMinElectionTimeout
	}
	if o.MaxElectionTimeout == 0 {
		o.MaxElectionTimeout = defaultMaxElectionTimeout
	}
	if o.HeartbeatInterval == 0 {
		o.HeartbeatInterval = defaultHeartbeatInterval
	}
	if o.MaxElectionTimeout < o.MinElectionTimeout {
		return configError("maxElectionTimeout (%s) < minElectionTimeout (%s)", o.MaxElectionTimeout, o.MinElectionTimeout)
	}
	if o.HeartbeatInterval >= o.MinElectionTimeout {
		return configError("heartbeatInterval (%s) must be strictly less than minElectionTimeout (%s)", o.HeartbeatInterval, o.MinElectionTimeout)
	}
	if o.Persistence == nil {
		return configError("persistence backend is required")
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Rand == nil {
		o.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return nil
}
