package orders

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/carebridge/followcall/internal/models"
)

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry()
	if r.Len() != 4 {
		t.Fatalf("expected 4 default orders, got %d", r.Len())
	}
	for _, id := range []string{"wound_care", "pain_medication", "activity_restrictions", "follow_up_appointment"} {
		if _, ok := r.Get(id); !ok {
			t.Errorf("default order %s missing", id)
		}
	}
	order, _ := r.Get("activity_restrictions")
	if order.GeneratesCalls {
		t.Error("activity_restrictions should not generate calls")
	}
}

func TestAddRejectsIncompleteOrder(t *testing.T) {
	r := NewRegistry()

	err := r.Add(&models.DischargeOrder{ID: "bad", Label: "Bad", GeneratesCalls: true})
	if !errors.Is(err, models.ErrMissingCallTemplate) {
		t.Errorf("expected ErrMissingCallTemplate, got %v", err)
	}

	err = r.Add(&models.DischargeOrder{
		ID:             "bad",
		Label:          "Bad",
		GeneratesCalls: true,
		CallTemplate:   &models.CallTemplate{Timing: "within_24_hours", CallType: models.CallTypeFollowUp},
	})
	if !errors.Is(err, models.ErrIncompleteCallTemplate) {
		t.Errorf("expected ErrIncompleteCallTemplate for zero priority, got %v", err)
	}

	err = r.Add(&models.DischargeOrder{
		ID:             "bad",
		GeneratesCalls: false,
		CallTemplate:   &models.CallTemplate{Timing: "within_24_hours"},
	})
	if !errors.Is(err, models.ErrUnexpectedCallTemplate) {
		t.Errorf("expected ErrUnexpectedCallTemplate, got %v", err)
	}

	if err := r.Add(&models.DischargeOrder{Label: "no id"}); err == nil {
		t.Error("order without id should be rejected")
	}
}

func TestAddReplacesByID(t *testing.T) {
	r := NewRegistry()
	first := &models.DischargeOrder{ID: "info", Label: "First", GeneratesCalls: false}
	second := &models.DischargeOrder{ID: "info", Label: "Second", GeneratesCalls: false}
	if err := r.Add(first); err != nil {
		t.Fatal(err)
	}
	if err := r.Add(second); err != nil {
		t.Fatal(err)
	}
	if r.Len() != 1 {
		t.Errorf("replacement changed length to %d", r.Len())
	}
	got, _ := r.Get("info")
	if got.Label != "Second" {
		t.Errorf("expected replacement, got %q", got.Label)
	}
}

func TestAllPreservesInsertionOrder(t *testing.T) {
	r := NewRegistry()
	for _, id := range []string{"c", "a", "b"} {
		if err := r.Add(&models.DischargeOrder{ID: id, Label: id}); err != nil {
			t.Fatal(err)
		}
	}
	all := r.All()
	if len(all) != 3 || all[0].ID != "c" || all[1].ID != "a" || all[2].ID != "b" {
		t.Errorf("insertion order lost: %v", all)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orders.json")
	data := `[
	  {
	    "id": "drain_care",
	    "label": "Drain care",
	    "discharge_order": "Empty the surgical drain twice daily and record the output.",
	    "generates_calls": true,
	    "call_template": {
	      "timing": "12_hours_after_discharge",
	      "call_type": "discharge_reminder",
	      "priority": 1,
	      "prompt_template": "Remind {patient_name}: {discharge_order}"
	    }
	  },
	  {
	    "id": "diet",
	    "label": "Diet",
	    "discharge_order": "Clear liquids for 24 hours, then advance as tolerated.",
	    "generates_calls": false
	  }
	]`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	r, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if r.Len() != 2 {
		t.Fatalf("expected 2 orders, got %d", r.Len())
	}
	drain, ok := r.Get("drain_care")
	if !ok {
		t.Fatal("drain_care missing")
	}
	if drain.CallTemplate == nil || drain.CallTemplate.Timing != "12_hours_after_discharge" {
		t.Errorf("call template lost: %+v", drain.CallTemplate)
	}
}

func TestLoadFromFileRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orders.json")
	data := `[{"id": "bad", "label": "Bad", "generates_calls": true}]`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFromFile(path); err == nil {
		t.Error("invalid order file should be rejected")
	}
}

func TestLoadFromFileMissing(t *testing.T) {
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Error("missing file should be an error")
	}
}
