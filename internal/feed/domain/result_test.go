package domain

import (
	"errors"
	"testing"
)

func TestParseResultIsolatedFromCallerMutation(t *testing.T) {
	vehicle := &VehicleInterest{Make: "Honda"}
	warnings := []Warning{NewWarning(CodeFallbackParsingUsed, "", "fallback")}
	res := Succeed(ParsedLead{ExternalID: "x1", VehicleInterest: vehicle}, ParserFallback, warnings...)

	vehicle.Make = "Mutated"
	warnings[0].Code = "MUTATED"

	lead, ok := res.Lead()
	if !ok {
		t.Fatalf("expected success")
	}
	if lead.VehicleInterest.Make != "Honda" {
		t.Fatalf("lead changed through caller pointer: %q", lead.VehicleInterest.Make)
	}
	if !res.HasWarning(CodeFallbackParsingUsed) {
		t.Fatalf("warnings changed through caller slice")
	}

	lead.VehicleInterest.Make = "Again"
	again, _ := res.Lead()
	if again.VehicleInterest.Make != "Honda" {
		t.Fatalf("lead changed through returned pointer")
	}
}

func TestFailureMapsToSentinel(t *testing.T) {
	res := Fail(CodeMinimalFieldsMissing, true, NewError("customer.name", "missing"))
	if res.OK() {
		t.Fatalf("expected failure")
	}
	if !errors.Is(res.Err(), ErrMinimalFieldsMissing) {
		t.Fatalf("unexpected error %v", res.Err())
	}
	if !res.AttemptedFallback() {
		t.Fatalf("expected attemptedFallback")
	}
	if _, ok := res.Lead(); ok {
		t.Fatalf("failure must not expose a lead")
	}
}
