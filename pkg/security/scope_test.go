package security

import "testing"

func TestActionHierarchy(t *testing.T) {
	if !ActionAdmin.Allows(ActionWrite) || !ActionAdmin.Allows(ActionRead) {
		t.Fatalf("admin should allow write and read")
	}
	if ActionRead.Allows(ActionWrite) {
		t.Fatalf("read should not allow write")
	}
	if !ActionWrite.Allows(ActionRead) {
		t.Fatalf("write should allow read")
	}
}

func TestScopeAllows(t *testing.T) {
	s, err := NewScope(ActionRead, "/public/**")
	if err != nil {
		t.Fatalf("new scope: %v", err)
	}
	if !s.Allows(ActionRead, "/public/x") {
		t.Fatalf("expected scope to allow read on /public/x")
	}
	if s.Allows(ActionWrite, "/public/x") {
		t.Fatalf("read scope should not allow write")
	}
	if s.Allows(ActionRead, "/private/x") {
		t.Fatalf("scope should not match outside its pattern")
	}
}

func TestParseScope(t *testing.T) {
	s, err := ParseScope("write:/lights/**")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !s.Allows(ActionWrite, "/lights/1") {
		t.Fatalf("expected write access")
	}
	if _, err := ParseScope("nocolon"); err == nil {
		t.Fatalf("expected error for malformed scope")
	}
}

func TestCpskValidatorChain(t *testing.T) {
	cpsk := NewCpskValidator()
	scope, _ := NewScope(ActionRead, "/public/**")
	cpsk.Register("cpsk_abc", TokenInfo{TokenID: "cpsk_abc", Subject: "alice", Scopes: []Scope{scope}})

	chain := NewValidatorChain(cpsk)

	res := chain.Validate("cpsk_abc")
	if res.Outcome != ValidationValid {
		t.Fatalf("expected valid, got %v (%s)", res.Outcome, res.Reason)
	}
	if res.Info.Subject != "alice" {
		t.Fatalf("expected subject alice, got %q", res.Info.Subject)
	}

	res = chain.Validate("cpsk_unknown")
	if res.Outcome != ValidationInvalid {
		t.Fatalf("expected invalid for unknown token, got %v", res.Outcome)
	}

	res = chain.Validate("ext_something")
	if res.Outcome != ValidationInvalid {
		t.Fatalf("expected invalid (no validator accepts), got %v", res.Outcome)
	}
}
