package validator

import "testing"

type uploadPayload struct {
	Filename string `json:"filename" validate:"required"`
	SHA256   string `json:"sha256" validate:"required,len=64,hexadecimal"`
	Size     int64  `json:"size" validate:"gt=0"`
}

func TestValidateStructPasses(t *testing.T) {
	payload := uploadPayload{
		Filename: "clip.mp4",
		SHA256:   "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef",
		Size:     1024,
	}

	if err := ValidateStruct(payload); err != nil {
		t.Fatalf("expected payload to validate, got %v", err)
	}
}

func TestValidateStructCollectsFailures(t *testing.T) {
	payload := uploadPayload{
		SHA256: "short",
		Size:   0,
	}

	err := ValidateStruct(payload)
	if err == nil {
		t.Fatal("expected validation failure")
	}

	failures, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}

	if len(failures) != 3 {
		t.Fatalf("expected 3 failures, got %d: %v", len(failures), failures)
	}

	// JSON tag names are reported, not struct field names.
	if failures[0].Field != "filename" {
		t.Fatalf("expected json field name, got %s", failures[0].Field)
	}
}

func TestValidationErrorsMessage(t *testing.T) {
	errs := ValidationErrors{
		{Field: "sha256", Tag: "len", Param: "64"},
		{Field: "size", Tag: "gt", Param: "0"},
	}

	msg := errs.Error()
	if msg != "sha256 failed on len=64; size failed on gt=0" {
		t.Fatalf("unexpected message: %s", msg)
	}
}
