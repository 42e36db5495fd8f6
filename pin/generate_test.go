package pin

import (
	"bytes"
	"errors"
	"testing"
)

func TestGenerateLengths(t *testing.T) {
	for _, length := range []int{Length6, Length8} {
		for i := 0; i < 200; i++ {
			code, err := Generate(length)
			if err != nil {
				t.Fatalf("Generate(%d) failed: %v", length, err)
			}
			if len(code) != length {
				t.Fatalf("Generate(%d) returned %q with length %d", length, code, len(code))
			}
			if !IsNumeric(code) {
				t.Fatalf("Generate(%d) returned non-numeric %q", length, code)
			}
		}
	}
}

func TestGenerateRejectsUnsupportedLength(t *testing.T) {
	for _, length := range []int{-1, 0, 4, 5, 7, 9, 10} {
		if _, err := Generate(length); !errors.Is(err, ErrInvalidLength) {
			t.Fatalf("Generate(%d): expected ErrInvalidLength, got %v", length, err)
		}
	}
}

func TestGeneratePropagatesReaderFailure(t *testing.T) {
	if _, err := generateFrom(bytes.NewReader(nil), Length6); err == nil {
		t.Fatal("expected error from exhausted random source")
	}
}

// chi-square over 10 buckets (9 degrees of freedom); 40 is far beyond the 0.01% quantile (~33.7).
const chiSquareLimit = 40.0

func chiSquare(counts [10]int, total int) float64 {
	expected := float64(total) / 10
	var sum float64
	for _, c := range counts {
		d := float64(c) - expected
		sum += d * d / expected
	}
	return sum
}

func TestGenerateDigitsAreUniform(t *testing.T) {
	const samples = 3000

	for _, length := range []int{Length6, Length8} {
		var all [10]int
		var first [10]int
		for i := 0; i < samples; i++ {
			code, err := Generate(length)
			if err != nil {
				t.Fatalf("Generate failed: %v", err)
			}
			first[code[0]-'0']++
			for j := 0; j < len(code); j++ {
				all[code[j]-'0']++
			}
		}

		if x := chiSquare(all, samples*length); x > chiSquareLimit {
			t.Fatalf("length %d: digit distribution not uniform, chi-square=%.2f counts=%v", length, x, all)
		}
		if x := chiSquare(first, samples); x > chiSquareLimit {
			t.Fatalf("length %d: leading digit not uniform, chi-square=%.2f counts=%v", length, x, first)
		}
	}
}

func TestIsNumeric(t *testing.T) {
	cases := map[string]bool{
		"":         false,
		"012345":   true,
		"12a456":   false,
		" 123456":  false,
		"99999999": true,
	}
	for in, want := range cases {
		if got := IsNumeric(in); got != want {
			t.Fatalf("IsNumeric(%q)=%v want %v", in, got, want)
		}
	}
}
