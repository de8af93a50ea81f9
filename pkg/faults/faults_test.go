package faults

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindAndCodeExtraction(t *testing.T) {
	err := New(DataUnavailable, "stale_data", "last candle %dm old", 20)

	if KindOf(err) != DataUnavailable {
		t.Errorf("kind = %s, want data_unavailable", KindOf(err))
	}
	if CodeOf(err) != "stale_data" {
		t.Errorf("code = %s, want stale_data", CodeOf(err))
	}
	if !Is(err, DataUnavailable) {
		t.Error("Is must match the kind")
	}
	if Is(err, IntegrityFault) {
		t.Error("Is must not match other kinds")
	}
}

func TestWrappedFaultSurvivesErrorChains(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(cause, ExecutionFailure, "order_rejected", "placing order")
	wrapped := fmt.Errorf("attempt 3: %w", err)

	if KindOf(wrapped) != ExecutionFailure {
		t.Errorf("kind = %s through a wrap, want execution_failure", KindOf(wrapped))
	}
	if !errors.Is(wrapped, cause) {
		t.Error("cause must stay reachable")
	}
}

func TestUntypedErrorsHaveNoKind(t *testing.T) {
	if KindOf(errors.New("plain")) != "" {
		t.Error("plain errors carry no kind")
	}
	if CodeOf(nil) != "" {
		t.Error("nil has no code")
	}
}
