package drifterr_test

import (
	"errors"
	"testing"

	"github.com/drifthq/drift/pkg/drifterr"
)

func TestContinuableOnlyForProviderKind(t *testing.T) {
	cases := map[drifterr.Kind]bool{
		drifterr.KindValidation:       false,
		drifterr.KindResourceNotFound: false,
		drifterr.KindProviderNotFound: false,
		drifterr.KindState:            false,
		drifterr.KindProvider:         true,
	}
	for kind, want := range cases {
		if got := kind.Continuable(); got != want {
			t.Errorf("%s.Continuable() = %v, want %v", kind, got, want)
		}
	}
}

func TestIsMatchesByKind(t *testing.T) {
	err := drifterr.NewProviderNotFound("no provider", nil).WithResource("r1")
	if !drifterr.Is(err, drifterr.KindProviderNotFound) {
		t.Fatal("Is() should match on Kind")
	}
	if drifterr.Is(err, drifterr.KindState) {
		t.Fatal("Is() should not match a different Kind")
	}
	if drifterr.Is(errors.New("plain"), drifterr.KindState) {
		t.Fatal("Is() should not match a non-DriftError")
	}
}

func TestIsFatal(t *testing.T) {
	if drifterr.IsFatal(drifterr.NewProvider("op failed", nil)) {
		t.Fatal("KindProvider should not be fatal")
	}
	if !drifterr.IsFatal(drifterr.NewState("state failed", nil)) {
		t.Fatal("KindState should be fatal")
	}
	if !drifterr.IsFatal(errors.New("unclassified")) {
		t.Fatal("an unclassified error should be treated as fatal")
	}
	if drifterr.IsFatal(nil) {
		t.Fatal("nil should not be fatal")
	}
}

func TestUnwrapAndErrorMessage(t *testing.T) {
	cause := errors.New("connection refused")
	err := drifterr.NewProvider("create failed", cause).WithResource("web").WithOperation("create")

	if !errors.Is(err, cause) {
		t.Fatal("errors.Is should see through Unwrap to the cause")
	}
	msg := err.Error()
	if msg == "" {
		t.Fatal("Error() returned empty string")
	}
}

func TestWithDetail(t *testing.T) {
	err := drifterr.NewValidation("bad graph", nil).WithDetail("count", 3)
	if err.Details["count"] != 3 {
		t.Fatalf("Details[count] = %v, want 3", err.Details["count"])
	}
}
