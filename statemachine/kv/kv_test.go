package kv

import "testing"

func TestStateMachine_PutGetDelete(t *testing.T) {
	sm := New()

	if err := sm.Apply(1, Command{Op: OpPut, Key: "k1", Value: "v1"}); err != nil {
		t.Fatal(err)
	}
	res, ok := sm.Result(1)
	if !ok || !res.OK {
		t.Fatalf("expected ok result, got %+v ok=%v", res, ok)
	}

	v, ok := sm.Get("k1")
	if !ok || v != "v1" {
		t.Fatalf("expected v1, got %q ok=%v", v, ok)
	}

	if err := sm.Apply(2, Command{Op: OpDelete, Key: "k1"}); err != nil {
		t.Fatal(err)
	}
	if _, ok := sm.Get("k1"); ok {
		t.Fatal("key should be gone after delete")
	}
}

func TestStateMachine_CASSuccessAndFailure(t *testing.T) {
	sm := New()

	// CAS on a missing key succeeds when Expected is empty.
	if err := sm.Apply(1, Command{Op: OpCAS, Key: "k1", Expected: "", Value: "v1"}); err != nil {
		t.Fatal(err)
	}
	res, _ := sm.Result(1)
	if !res.OK {
		t.Fatalf("expected cas on missing key to succeed, got %+v", res)
	}

	// CAS with a stale Expected fails without an error, so the applier
	// does not retry it.
	if err := sm.Apply(2, Command{Op: OpCAS, Key: "k1", Expected: "stale", Value: "v2"}); err != nil {
		t.Fatal(err)
	}
	res, _ = sm.Result(2)
	if res.OK || res.ErrCode != "cas_failed" {
		t.Fatalf("expected cas_failed, got %+v", res)
	}

	v, _ := sm.Get("k1")
	if v != "v1" {
		t.Fatalf("failed cas must not change the value, got %q", v)
	}
}

func TestStateMachine_BadRequestOnEmptyKey(t *testing.T) {
	sm := New()
	if err := sm.Apply(1, Command{Op: OpPut, Key: ""}); err != nil {
		t.Fatal(err)
	}
	res, _ := sm.Result(1)
	if res.OK || res.ErrCode != "bad_request" {
		t.Fatalf("expected bad_request, got %+v", res)
	}
}

func TestStateMachine_UnexpectedCommandTypeErrors(t *testing.T) {
	sm := New()
	if err := sm.Apply(1, "not a Command"); err == nil {
		t.Fatal("expected an error for a non-Command payload")
	}
}

// A durable backend that round-trips commands through JSON hands them back
// as map[string]any rather than the original Command value; Apply must
// still make sense of them the same way after a restart.
func TestStateMachine_AcceptsJSONRoundTrippedCommand(t *testing.T) {
	sm := New()
	reloaded := map[string]any{"op": "put", "key": "k1", "value": "v1"}
	if err := sm.Apply(1, reloaded); err != nil {
		t.Fatal(err)
	}
	v, ok := sm.Get("k1")
	if !ok || v != "v1" {
		t.Fatalf("expected v1, got %q ok=%v", v, ok)
	}
}
