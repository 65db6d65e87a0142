package model

import "time"

// EventKind classifies an inbound change to the installation's repository set.
type EventKind string

const (
	EventRepositoriesAdded   EventKind = "repositories_added"
	EventRepositoriesRemoved EventKind = "repositories_removed"
	// EventMembershipChanged covers changes whose delta cannot be enumerated.
	EventMembershipChanged EventKind = "membership_changed"
)

// RepositoryEvent is a webhook notification translated into domain terms.
type RepositoryEvent struct {
	Kind         EventKind
	Repositories []Repository
	Reason       string
}

// DeliveryOutcome records what processing a webhook delivery did to the cache.
type DeliveryOutcome string

const (
	OutcomeReceived DeliveryOutcome = "received"
	OutcomeApplied  DeliveryOutcome = "applied"
	OutcomeDeferred DeliveryOutcome = "deferred" // Cache not populated; next refresh supersedes.
	OutcomePurged   DeliveryOutcome = "purged"
	OutcomeIgnored  DeliveryOutcome = "ignored"
)

// Delivery is one webhook delivery as recorded in the delivery ledger.
type Delivery struct {
	ID             string
	Event          string
	Action         string
	InstallationID int64
	Outcome        DeliveryOutcome
	ReceivedAt     time.Time
}
