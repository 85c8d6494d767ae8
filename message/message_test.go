package message

import (
	"errors"
	"testing"
)

func TestTagsAreDistinct(t *testing.T) {
	tags := map[int]string{}
	for _, m := range []Message{&Request{}, &Response{}, &Notification{}} {
		if prev, dup := tags[m.Tag()]; dup {
			t.Fatalf("tag %d shared by %T and %s", m.Tag(), m, prev)
		}
		tags[m.Tag()] = "seen"
	}
}

func TestParamsConstructors(t *testing.T) {
	if p := None(); p.Kind != ParamsNone {
		t.Errorf("None kind = %d", p.Kind)
	}
	if p := Positional(1, 2); p.Kind != ParamsPositional || len(p.List) != 2 {
		t.Errorf("Positional = %+v", p)
	}
	if p := Named(map[string]any{"a": 1}); p.Kind != ParamsNamed || p.Map["a"] != 1 {
		t.Errorf("Named = %+v", p)
	}
	if p := Scalar("x"); p.Kind != ParamsScalar || p.Value != "x" {
		t.Errorf("Scalar = %+v", p)
	}
}

func TestErrorInfoIsError(t *testing.T) {
	var err error = &ErrorInfo{Kind: "HandlerError", Message: "boom"}
	if err.Error() != "HandlerError: boom" {
		t.Errorf("Error() = %q", err.Error())
	}
	var ei *ErrorInfo
	if !errors.As(err, &ei) || ei.Kind != "HandlerError" {
		t.Errorf("errors.As failed on ErrorInfo")
	}
}
