package runtime

import "testing"

type stubHandler struct{ typ string }

func (h *stubHandler) Type() string       { return h.typ }
func (h *stubHandler) Run(*Context) error { return nil }

func TestRegistryRejectsDuplicateJobType(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&stubHandler{typ: "video_enhance"}); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := r.Register(&stubHandler{typ: "video_enhance"}); err == nil {
		t.Fatal("duplicate job_type registered")
	}
	if _, ok := r.Get("video_enhance"); !ok {
		t.Fatal("registered handler not found")
	}
}

func TestRegistryRejectsInvalidHandlers(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(nil); err == nil {
		t.Fatal("nil handler registered")
	}
	if err := r.Register(&stubHandler{}); err == nil {
		t.Fatal("empty-type handler registered")
	}
}
