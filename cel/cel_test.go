package cel

import "testing"

func TestValidatorPassAndFail(t *testing.T) {
	v, err := NewValidator("productValue", `value.origin >= 0 && value.name != ""`)
	if err != nil {
		t.Fatalf("NewValidator failed: %v", err)
	}

	ok, err := v.Validate(map[string]any{"name": "Acme", "origin": int64(1)})
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if !ok {
		t.Fatalf("expected value to pass validation")
	}

	ok, err = v.Validate(map[string]any{"name": "", "origin": int64(1)})
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if ok {
		t.Fatalf("expected empty name to fail validation")
	}
}

func TestValidatorRejectsBadInputs(t *testing.T) {
	if _, err := NewValidator("", "true"); err == nil {
		t.Fatalf("expected empty name to be rejected")
	}
	if _, err := NewValidator("x", ""); err == nil {
		t.Fatalf("expected empty expression to be rejected")
	}
	if _, err := NewValidator("x", "value ==="); err == nil {
		t.Fatalf("expected malformed expression to be rejected")
	}
}
