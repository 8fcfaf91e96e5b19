package storage

import (
	"math"
	"testing"
)

// TestReadReportsSaneNumbers verifies the arithmetic against a real
// filesystem.
func TestReadReportsSaneNumbers(t *testing.T) {
	usage, err := Read(t.TempDir())
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	if usage.TotalGB <= 0 {
		t.Errorf("Expected positive total, got %v", usage.TotalGB)
	}
	if usage.FreeGB < 0 || usage.FreeGB > usage.TotalGB {
		t.Errorf("Free %v out of range for total %v", usage.FreeGB, usage.TotalGB)
	}
	if got := usage.TotalGB - usage.FreeGB; math.Abs(got-usage.UsedGB) > 1e-9 {
		t.Errorf("Used %v does not match total-free %v", usage.UsedGB, got)
	}
	if usage.PercentUsed < 0 || usage.PercentUsed > 100 {
		t.Errorf("Percent used %v out of range", usage.PercentUsed)
	}
}

// TestReadMissingPath verifies a missing path surfaces an error.
func TestReadMissingPath(t *testing.T) {
	if _, err := Read("/nonexistent/recordings/root"); err == nil {
		t.Error("Expected an error for a missing path")
	}
}
