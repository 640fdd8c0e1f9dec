package models

import (
	"time"
)

// OfferKind is the normalized category of a profile's price/offer label.
type OfferKind int

const (
	// OfferUnknown marks a profile whose price affordance was missing or
	// could not be classified. Such profiles are still recorded as present.
	OfferUnknown OfferKind = iota
	OfferSubscribed
	OfferFreeTrial
	OfferDiscount
	OfferFree
	OfferNone
)

func (k OfferKind) String() string {
	switch k {
	case OfferSubscribed:
		return "SUBSCRIBED"
	case OfferFreeTrial:
		return "FREE_TRIAL"
	case OfferDiscount:
		return "OFFER"
	case OfferFree:
		return "FREE"
	case OfferNone:
		return "NO_OFFER"
	default:
		return "UNKNOWN"
	}
}

// ZeroPriced reports whether this offer kind always normalizes to price 0.
func (k OfferKind) ZeroPriced() bool {
	return k == OfferSubscribed || k == OfferFreeTrial || k == OfferFree
}

// SubscriptionState describes the operator's subscription relationship to
// a profile as derived from the price label.
type SubscriptionState string

const (
	StateSubscribed    SubscriptionState = "SUBSCRIBED"
	StateNotSubscribed SubscriptionState = "NO_SUBSCRIPTION"
	StateUnknown       SubscriptionState = "UNKNOWN"
)

// RunStatus is the lifecycle status of a scrape run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusError     RunStatus = "error"
	RunStatusFailed    RunStatus = "failed"
)

// RawProfile is one profile as sampled from the list view, before any
// label parsing. PriceLabel is empty when the item had no visible price
// affordance.
type RawProfile struct {
	Username   string
	PriceLabel string
	Lists      []string
}

// Observation is one normalized snapshot of a profile at a point in time.
// Price is nil when the profile had no recognizable price affordance.
// Observations are append-only once written.
type Observation struct {
	Username  string
	Price     *float64
	Offer     OfferKind
	State     SubscriptionState
	Lists     []string
	ScrapedAt time.Time
	RunID     int64
}

// Profile is the latest known projection for a username.
type Profile struct {
	Username  string            `json:"username"`
	Price     *float64          `json:"price"`
	State     SubscriptionState `json:"subscription_status"`
	Lists     []string          `json:"lists"`
	FirstSeen time.Time         `json:"first_seen"`
	LastSeen  time.Time         `json:"last_seen"`
	LastRunID int64             `json:"last_run_id"`
}

// ListMembership is a time-bounded assertion that a username belonged to
// a named list. RemovedAt nil means the membership is currently open.
type ListMembership struct {
	ID        int64      `json:"id"`
	Username  string     `json:"username"`
	ListName  string     `json:"list_name"`
	AddedAt   time.Time  `json:"added_at"`
	RemovedAt *time.Time `json:"removed_at,omitempty"`
	RunID     int64      `json:"run_id"`
}

// ScrapeRun is one bounded execution of the collection loop against one
// list id.
type ScrapeRun struct {
	ID           int64      `json:"id"`
	ListID       string     `json:"list_id"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ProfileCount int        `json:"profile_count"`
	Status       RunStatus  `json:"status"`
}

// RunSummary is returned to callers of ScrapeList.
type RunSummary struct {
	RunID        int64         `json:"run_id"`
	ListID       string        `json:"list_id"`
	Status       RunStatus     `json:"status"`
	ProfileCount int           `json:"profile_count"`
	Duration     time.Duration `json:"duration"`
}

// PricePoint is one entry of a profile's price history.
type PricePoint struct {
	Price     *float64          `json:"price"`
	State     SubscriptionState `json:"subscription_status"`
	ScrapedAt time.Time         `json:"scraped_at"`
}

// PriceChange pairs two consecutive observations where the price moved.
type PriceChange struct {
	Username  string    `json:"username"`
	OldPrice  float64   `json:"old_price"`
	NewPrice  float64   `json:"new_price"`
	ChangedAt time.Time `json:"changed_at"`
}

// HistoricalLow is a profile currently at its lowest price ever observed.
type HistoricalLow struct {
	Username     string  `json:"username"`
	CurrentPrice float64 `json:"current_price"`
	TimesSeen    int     `json:"times_seen"`
}

// PriceTrend is a strictly decreasing three-point price sequence.
type PriceTrend struct {
	Username string  `json:"username"`
	Oldest   float64 `json:"oldest"`
	Middle   float64 `json:"middle"`
	Latest   float64 `json:"latest"`
}
