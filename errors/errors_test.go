package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestClassification(t *testing.T) {
	provider := Provider("imgbb", errors.New("503 service unavailable"))
	exhausted := &AllProvidersExhaustedError{Attempts: 3, LastProvider: "imgbb", LastErr: provider}

	cases := []struct {
		name      string
		err       error
		want      Category
		retryable bool
	}{
		{"provider", provider, CategoryProvider, true},
		{"exhausted wrapping provider", exhausted, CategoryExhausted, false},
		{"wrapped exhausted", fmt.Errorf("upload: %w", exhausted), CategoryExhausted, false},
		{"exhausted without cause", &AllProvidersExhaustedError{LastErr: ErrNoProviders}, CategoryExhausted, false},
		{"classified above exhausted", New(CategoryStorage, "persist", exhausted), CategoryStorage, false},
		{"cancelled", Cancelled("upload", nil), CategoryCancelled, false},
		{"decode", Decode("decode", ErrUnsupportedFormat), CategoryDecode, false},
		{"plain", errors.New("plain"), "", false},
		{"nil", nil, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CategoryOf(tc.err); got != tc.want {
				t.Fatalf("CategoryOf = %q, want %q", got, tc.want)
			}
			if tc.want != "" && !IsCategory(tc.err, tc.want) {
				t.Fatalf("IsCategory(%s) = false", tc.want)
			}
			if got := IsRetryable(tc.err); got != tc.retryable {
				t.Fatalf("IsRetryable = %v, want %v", got, tc.retryable)
			}
		})
	}
}

func TestExhaustedError(t *testing.T) {
	provider := Provider("imgbb", errors.New("503 service unavailable"))
	err := error(&AllProvidersExhaustedError{Attempts: 6, LastProvider: "imgbb", LastErr: provider})

	want := "all providers exhausted after 6 attempts; last error from imgbb: 503 service unavailable"
	if err.Error() != want {
		t.Fatalf("Error() = %q", err.Error())
	}
	var pe *ProcessingError
	if !errors.As(err, &pe) || pe.Op != "imgbb" {
		t.Fatal("the last provider failure must stay reachable")
	}
	if IsCancelled(err) {
		t.Fatal("exhaustion is not a cancellation")
	}
}

func TestCancelledDefaultsToContextCanceled(t *testing.T) {
	if err := Cancelled("op", nil); !errors.Is(err, context.Canceled) || !IsCancelled(err) {
		t.Fatalf("got %v", err)
	}
	if Wrap(CategoryStorage, "op", nil) != nil {
		t.Fatal("Wrap(nil) must be nil")
	}
}
