package matching

import (
	"math"
	"reflect"
	"regexp"
	"testing"
)

func TestNormalizeColumnName(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "lowercase", input: "Email", want: "email"},
		{name: "underscores stripped", input: "Customer_Email", want: "customeremail"},
		{name: "dashes stripped", input: "customer-email", want: "customeremail"},
		{name: "spaces stripped", input: " Customer Email ", want: "customeremail"},
		{name: "punctuation stripped", input: "amount ($)", want: "amount"},
		{name: "digits kept", input: "Address_Line_2", want: "addressline2"},
		{name: "only separators", input: "_-_", want: ""},
		{name: "empty", input: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeColumnName(tt.input); got != tt.want {
				t.Errorf("NormalizeColumnName(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{name: "snake case", input: "order_id", want: []string{"order", "id"}},
		{name: "mixed separators", input: "Customer E-Mail", want: []string{"customer", "e", "mail"}},
		{name: "single word", input: "Total", want: []string{"total"}},
		{name: "repeated separators", input: "a__b", want: []string{"a", "b"}},
		{name: "only separators", input: "__", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Tokenize(tt.input)

			if len(got) == 0 && len(tt.want) == 0 {
				return
			}

			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Tokenize(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want float64
	}{
		{name: "identical", a: "email", b: "email", want: 1},
		{name: "same normalized form", a: "Customer_Email", b: "customerEmail", want: 1},
		{name: "separator variants", a: "order id", b: "order_id", want: 1},
		{name: "short header names a token exactly", a: "ID", b: "order_id", want: 1},
		{name: "no shared bigrams", a: "Total", b: "amount", want: 0},
		{name: "empty side", a: "", b: "amount", want: 0},
		{name: "symbols only", a: "#$%", b: "amount", want: 0},
		{name: "single characters", a: "a", b: "b", want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Similarity(tt.a, tt.b); got != tt.want {
				t.Errorf("Similarity(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestSimilarityPartialOverlap(t *testing.T) {
	// mail vs email share the bigrams ma, ai, il: Dice 6/7.
	got := Similarity("Mail", "customer_email")

	want := 6.0 / 7.0
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("Similarity(Mail, customer_email) = %v, want %v", got, want)
	}
}

func TestSimilarityIsSymmetric(t *testing.T) {
	pairs := [][2]string{
		{"Mail", "customer_email"},
		{"ID", "order_id"},
		{"order_date", "date_of_order"},
		{"qty", "quantity"},
	}

	for _, p := range pairs {
		ab := Similarity(p[0], p[1])
		ba := Similarity(p[1], p[0])

		if ab != ba {
			t.Errorf("Similarity(%q, %q) = %v but reversed = %v", p[0], p[1], ab, ba)
		}

		if ab < 0 || ab > 1 {
			t.Errorf("Similarity(%q, %q) = %v, outside [0,1]", p[0], p[1], ab)
		}
	}
}

func TestFingerprint(t *testing.T) {
	hexPattern := regexp.MustCompile(`^[0-9a-f]{64}$`)

	a := Fingerprint([]string{"id", "email", "amount"})
	if !hexPattern.MatchString(a) {
		t.Fatalf("Fingerprint() = %q, want 64 hex chars", a)
	}

	// Column order must not matter.
	b := Fingerprint([]string{"amount", "id", "email"})
	if a != b {
		t.Errorf("Fingerprint is order-sensitive: %q != %q", a, b)
	}

	// Different layouts must differ.
	c := Fingerprint([]string{"id", "email"})
	if a == c {
		t.Errorf("Fingerprint collision between different layouts")
	}

	d := Fingerprint([]string{"id", "email", "total"})
	if a == d {
		t.Errorf("Fingerprint collision between different names")
	}
}
