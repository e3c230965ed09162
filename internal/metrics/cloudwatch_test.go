package metrics

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestToFloat64(t *testing.T) {
	cases := []struct {
		in   interface{}
		want float64
		ok   bool
	}{
		{int(3), 3, true},
		{int32(4), 4, true},
		{int64(5), 5, true},
		{float32(1.5), 1.5, true},
		{float64(2.5), 2.5, true},
		{"12", 0, false},
		{nil, 0, false},
	}
	for _, tc := range cases {
		got, ok := toFloat64(tc.in)
		if ok != tc.ok || got != tc.want {
			t.Errorf("toFloat64(%v) = %v, %v; want %v, %v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestMetricUnitFromString(t *testing.T) {
	if unit, ok := metricUnitFromString("Percent"); !ok || unit != "Percent" {
		t.Errorf("expected Percent unit, got %v ok=%v", unit, ok)
	}
	if _, ok := metricUnitFromString("furlongs"); ok {
		t.Error("unknown unit must not resolve")
	}
}

func TestCreateDashboardNoClientIsNoop(t *testing.T) {
	prev := cwState.Load()
	cwState.Store(&cloudWatchState{namespace: "Liqflow", dashboardName: "Liqflow"})
	t.Cleanup(func() { cwState.Store(prev) })

	if err := CreateDashboardFromTemplate(context.Background()); err != nil {
		t.Fatalf("expected nil without a client, got %v", err)
	}
}

func TestPublishMetricDatumNoClientIsNoop(t *testing.T) {
	prev := cwState.Load()
	cwState.Store(&cloudWatchState{})
	t.Cleanup(func() { cwState.Store(prev) })

	// Must not panic or attempt network IO without a configured client.
	publishMetricDatum(context.Background(), "collector", "cycles", 1, nil)
}

func TestDashboardTemplateIsValidJSON(t *testing.T) {
	if len(dashboardTemplate) == 0 {
		t.Fatal("embedded dashboard template is empty")
	}
	body := strings.ReplaceAll(dashboardTemplate, "\"Liqflow\"", "\"Custom\"")
	body = strings.ReplaceAll(body, "\"ap-south-1\"", "\"us-east-1\"")
	if !json.Valid([]byte(body)) {
		t.Fatal("dashboard template invalid after namespace and region substitution")
	}
}
