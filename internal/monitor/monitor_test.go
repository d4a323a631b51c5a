package monitor

import (
	"context"
	"testing"
)

func TestSample_ReturnsPlausiblePercentages(t *testing.T) {
	m := NewSystemMonitor()
	stats, err := m.Sample(context.Background())
	if err != nil {
		t.Fatalf("sample failed: %v", err)
	}
	if stats.RAMPercent < 0 || stats.RAMPercent > 100 {
		t.Errorf("RAMPercent = %v, out of range", stats.RAMPercent)
	}
	if stats.CPUPercent < 0 || stats.CPUPercent > 100 {
		t.Errorf("CPUPercent = %v, out of range", stats.CPUPercent)
	}
}
