package internaldefs

import (
	"testing"

	goReset "github.com/MrEthical07/goReset"
)

func TestCumulativeBucketsZeroFillsShortInput(t *testing.T) {
	got := CumulativeBuckets([]uint64{2, 0, 3})
	want := [8]uint64{2, 2, 5, 5, 5, 5, 5, 5}
	if got != want {
		t.Fatalf("CumulativeBuckets=%v want %v", got, want)
	}
	if CumulativeBuckets(nil) != ([8]uint64{}) {
		t.Fatal("expected zero buckets for nil input")
	}
}

func TestFamiliesHaveUniqueNamesAndLabels(t *testing.T) {
	names := make(map[string]bool)
	for _, fam := range Families {
		if names[fam.Name] {
			t.Fatalf("duplicate family %s", fam.Name)
		}
		names[fam.Name] = true

		if fam.Label == "" && len(fam.Series) != 1 {
			t.Fatalf("%s: unlabelled family must have exactly one series", fam.Name)
		}
		seen := make(map[string]bool)
		for _, s := range fam.Series {
			if fam.Label != "" && s.LabelValue == "" {
				t.Fatalf("%s: empty %s value", fam.Name, fam.Label)
			}
			if seen[s.LabelValue] {
				t.Fatalf("%s: duplicate %s=%q", fam.Name, fam.Label, s.LabelValue)
			}
			seen[s.LabelValue] = true
		}
	}
}

func TestSampleEmpty(t *testing.T) {
	if !(Sample{}).Empty() {
		t.Fatal("zero sample should be empty")
	}
	s := Sample{Snapshot: goReset.MetricsSnapshot{Counters: map[goReset.MetricID]uint64{goReset.MetricPINIssued: 0}}}
	if s.Empty() {
		t.Fatal("enabled metrics should render even at zero")
	}
	if (Sample{Dropped: 1}).Empty() {
		t.Fatal("audit drops alone should render")
	}
}
