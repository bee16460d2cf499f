package lending

import (
	"math"
	"testing"
)

func TestEvaluateHealthNoDebt(t *testing.T) {
	report := evaluateHealth(1_000_000, 8000, 0)
	if !report.Healthy {
		t.Fatalf("debt-free position must be healthy")
	}
	if report.HealthFactorBps != 0 {
		t.Fatalf("debt-free factor: got %d want 0", report.HealthFactorBps)
	}
}

func TestEvaluateHealthBoundary(t *testing.T) {
	// weighted = 100_000 * 0.8 = 80_000.
	atBoundary := evaluateHealth(100_000, 8000, 80_000)
	if !atBoundary.Healthy {
		t.Fatalf("factor exactly 1.0 must be healthy")
	}
	if atBoundary.HealthFactorBps != BpsBase {
		t.Fatalf("boundary factor: got %d want %d", atBoundary.HealthFactorBps, BpsBase)
	}

	below := evaluateHealth(100_000, 8000, 80_001)
	if below.Healthy {
		t.Fatalf("factor below 1.0 must be unhealthy")
	}
}

func TestEvaluateHealthFactorScale(t *testing.T) {
	// weighted 40_000 over 50_000 debt: factor 0.8 -> 8000 bps.
	report := evaluateHealth(50_000, 8000, 50_000)
	if report.HealthFactorBps != 8000 {
		t.Fatalf("factor: got %d want 8000", report.HealthFactorBps)
	}
	if report.Healthy {
		t.Fatalf("0.8 factor must be unhealthy")
	}
}

func TestEvaluateHealthFactorSaturates(t *testing.T) {
	report := evaluateHealth(math.MaxUint64, BpsBase, 1)
	if report.HealthFactorBps != math.MaxUint64 {
		t.Fatalf("expected saturated factor, got %d", report.HealthFactorBps)
	}
}
