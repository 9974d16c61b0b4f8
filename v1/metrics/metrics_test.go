package metrics

import "testing"

func TestRegisterCoreMetrics(t *testing.T) {
	reg := NewRegistry()
	RegisterCoreMetrics(reg)
	AcquiredCounter.Inc()
	ConflictCounter.Inc()
	ReleasedCounter.Inc()
	StoreErrorCounter.Inc()
	HeldGauge.Set(2)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	names := make(map[string]struct{}, len(families))
	for _, f := range families {
		names[f.GetName()] = struct{}{}
	}
	for _, want := range []string{
		"dlock_acquired_total",
		"dlock_conflicts_total",
		"dlock_released_total",
		"dlock_store_errors_total",
		"dlock_held",
	} {
		if _, ok := names[want]; !ok {
			t.Fatalf("metric %s not registered", want)
		}
	}
}

func TestRegisterCoreMetricsDuplicatePanics(t *testing.T) {
	reg := NewRegistry()
	RegisterCoreMetrics(reg)
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	RegisterCoreMetrics(reg)
}
