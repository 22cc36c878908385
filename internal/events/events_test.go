package events

import (
	"encoding/json"
	"testing"
)

func TestKindCoversAllMessages(t *testing.T) {
	cases := map[string]any{
		"status":         StatusMsg{JobID: "j"},
		"output":         OutputMsg{JobID: "j"},
		"depot_complete": DepotCompleteMsg{JobID: "j"},
		"complete":       CompleteMsg{JobID: "j"},
		"error":          ErrorMsg{JobID: "j"},
		"cancelled":      CancelledMsg{JobID: "j"},
	}
	for want, msg := range cases {
		if got := Kind(msg); got != want {
			t.Errorf("Kind(%T) = %q, want %q", msg, got, want)
		}
		if got := JobID(msg); got != "j" {
			t.Errorf("JobID(%T) = %q, want j", msg, got)
		}
	}
	if Kind(struct{}{}) != "" {
		t.Error("Kind of unknown type must be empty")
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	orig := DepotCompleteMsg{JobID: "job-1", DepotID: "441", Current: 2, Total: 3}
	data, err := json.Marshal(orig)
	if err != nil {
		t.Fatal(err)
	}

	decoded, err := Decode("depot_complete", data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got, ok := decoded.(DepotCompleteMsg)
	if !ok {
		t.Fatalf("decoded type = %T", decoded)
	}
	if got != orig {
		t.Errorf("decoded = %+v, want %+v", got, orig)
	}
}

func TestDecodeUnknownKind(t *testing.T) {
	if _, err := Decode("bogus", []byte("{}")); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestStatusMsgOmitsEmptyFields(t *testing.T) {
	data, err := json.Marshal(StatusMsg{JobID: "j", Step: StepGeneratingKeys})
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	if _, ok := m["depotId"]; ok {
		t.Error("empty depotId must be omitted from the wire form")
	}
	if m["step"] != StepGeneratingKeys {
		t.Errorf("step = %v", m["step"])
	}
}
