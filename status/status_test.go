package status

import (
	"errors"
	"net/http"
	"testing"
)

func TestCode(t *testing.T) {
	cases := []struct {
		k    Kind
		want int
	}{
		{KindNotFound, http.StatusNotFound},
		{KindLockedResource, Locked},
		{KindFailedDependency, FailedDependency},
		{KindInsufficientStorage, InsufficientStorage},
	}
	for _, c := range cases {
		if got := c.k.Code(); got != c.want {
			t.Errorf("Kind(%d).Code() = %d, want %d", c.k, got, c.want)
		}
	}
}

func TestWrapUnwraps(t *testing.T) {
	cause := errors.New("disk exploded")
	err := Wrap(KindConflict, cause, "couldn't rename")
	se, ok := As(err)
	if !ok {
		t.Fatal("expected *Error")
	}
	if se.Kind != KindConflict {
		t.Errorf("Kind = %v, want KindConflict", se.Kind)
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is should see through the *Error to its cause")
	}
}

func TestIsSecret(t *testing.T) {
	if !IsSecret(ErrSecret) {
		t.Error("ErrSecret should report IsSecret")
	}
	if IsSecret(ErrNotFound) {
		t.Error("ErrNotFound should not report IsSecret")
	}
}
