package domain

import (
	"fmt"
	"time"
)

// ActivityType is the closed set of stock-mutation kinds. Values arriving from
// the outside must go through ParseActivityType.
type ActivityType string

const (
	ActivityManualIncrease ActivityType = "MANUAL_INCREASE"
	ActivityManualDecrease ActivityType = "MANUAL_DECREASE"
	ActivityOrderSale      ActivityType = "ORDER_SALE"
	ActivityOrderRelease   ActivityType = "ORDER_RELEASE"
	ActivityExternalSync   ActivityType = "EXTERNAL_SYNC"
)

func ParseActivityType(s string) (ActivityType, error) {
	switch t := ActivityType(s); t {
	case ActivityManualIncrease, ActivityManualDecrease, ActivityOrderSale,
		ActivityOrderRelease, ActivityExternalSync:
		return t, nil
	}
	return "", fmt.Errorf("unknown activity type %q", s)
}

// Actor identifiers recorded in ChangedBy.
const (
	ActorSystem         = "system"
	ActorExternalSystem = "External System"
)

// ActivityRecord is one append-only audit entry for a committed stock change.
// NewStock - OldStock always equals QuantityDelta.
type ActivityRecord struct {
	ID            string
	BusinessID    string
	ProductID     string
	VariantID     string
	Type          ActivityType
	QuantityDelta int
	OldStock      int
	NewStock      int
	Reason        string
	ChangedBy     string
	CreatedAt     time.Time
}

// ActivityFilter narrows activity-log reads for reporting callers.
type ActivityFilter struct {
	BusinessID string
	ProductID  string
	Since      time.Time
	Until      time.Time
	Limit      int
}
