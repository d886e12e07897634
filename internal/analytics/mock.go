package analytics

import (
	"context"
	"sync"
	"time"

	"github.com/openadcp/salesagent/internal/adcp"
)

var _ DeliveryService = (*MockDelivery)(nil)

// MockDelivery is an in-memory DeliveryService used in tests and when no
// ClickHouse DSN is configured.
type MockDelivery struct {
	mu     sync.Mutex
	events []DeliveryEvent
}

// NewMockDelivery creates a new in-memory delivery store.
func NewMockDelivery() *MockDelivery {
	return &MockDelivery{}
}

// RecordDelivery appends the event to the in-memory log.
func (m *MockDelivery) RecordDelivery(_ context.Context, event DeliveryEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

// PackageTotals aggregates the recorded events for the window.
func (m *MockDelivery) PackageTotals(_ context.Context, tenantID, mediaBuyID string, start, end time.Time) (map[string]adcp.DeliveryTotals, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	totals := make(map[string]adcp.DeliveryTotals)
	for _, e := range m.events {
		if e.TenantID != tenantID || e.MediaBuyID != mediaBuyID {
			continue
		}
		if e.Timestamp.Before(start) || !e.Timestamp.Before(end) {
			continue
		}
		t := totals[e.PackageID]
		t.Impressions += e.Impressions
		t.Clicks += e.Clicks
		t.VideoCompletions += e.VideoCompletions
		t.Spend += e.Spend
		totals[e.PackageID] = t
	}
	return totals, nil
}

// EventCount returns the number of recorded events.
func (m *MockDelivery) EventCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}
