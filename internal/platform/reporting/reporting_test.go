package reporting

import (
	"strings"
	"testing"
)

func TestPredefinedMeasures(t *testing.T) {
	expectedIDs := []string{
		"ar-aging",
		"claims-by-status",
		"denial-reasons",
		"payment-volume",
	}

	if len(PredefinedMeasures) != len(expectedIDs) {
		t.Fatalf("expected %d predefined measures, got %d", len(expectedIDs), len(PredefinedMeasures))
	}
	for i, expectedID := range expectedIDs {
		if PredefinedMeasures[i].ID != expectedID {
			t.Errorf("expected measure[%d].ID = %s, got %s", i, expectedID, PredefinedMeasures[i].ID)
		}
	}
}

func TestPredefinedMeasures_HaveSQL(t *testing.T) {
	for _, m := range PredefinedMeasures {
		if m.SQL == "" {
			t.Errorf("measure %s has empty SQL", m.ID)
		}
		if m.Name == "" {
			t.Errorf("measure %s has empty name", m.ID)
		}
		if m.Description == "" {
			t.Errorf("measure %s has empty description", m.ID)
		}
	}
}

func TestARAgingMeasure_BucketsOutstandingOnly(t *testing.T) {
	m := FindMeasure("ar-aging")
	if m == nil {
		t.Fatal("expected to find ar-aging measure")
	}
	for _, bucket := range []string{"0-30", "31-60", "61-90", "90+"} {
		if !strings.Contains(m.SQL, bucket) {
			t.Errorf("ar-aging must define the %s bucket", bucket)
		}
	}
	if !strings.Contains(m.SQL, "balance > 0") {
		t.Error("ar-aging must exclude settled invoices")
	}
}

func TestFindMeasure_NotFound(t *testing.T) {
	if m := FindMeasure("nonexistent"); m != nil {
		t.Error("expected nil for nonexistent measure")
	}
}

func TestFindMeasure_AllPredefined(t *testing.T) {
	for _, def := range PredefinedMeasures {
		found := FindMeasure(def.ID)
		if found == nil {
			t.Fatalf("expected to find %s", def.ID)
		}
		if found.Name != def.Name {
			t.Errorf("expected %s, got %s", def.Name, found.Name)
		}
	}
}
