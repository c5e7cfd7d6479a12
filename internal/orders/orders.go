// Package orders holds the discharge-order registry calls are generated from.
//
// Orders are authored outside this service; the registry ships a default set
// and can load replacements from a JSON file. Every order is validated on the
// way in so a generates_calls order always carries a complete call template.
package orders

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/carebridge/followcall/internal/models"
)

// Registry is an in-memory, insertion-ordered set of discharge orders.
type Registry struct {
	byID  map[string]*models.DischargeOrder
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]*models.DischargeOrder)}
}

// DefaultRegistry returns a registry populated with the built-in order set.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for i := range defaultOrders {
		// Defaults are static and known-valid.
		_ = r.Add(&defaultOrders[i])
	}
	return r
}

// Add validates an order and inserts it, replacing any order with the same id.
func (r *Registry) Add(order *models.DischargeOrder) error {
	if order.ID == "" {
		return fmt.Errorf("discharge order is missing an id")
	}
	if err := order.Validate(); err != nil {
		return fmt.Errorf("discharge order %s: %w", order.ID, err)
	}
	if _, exists := r.byID[order.ID]; !exists {
		r.order = append(r.order, order.ID)
	}
	r.byID[order.ID] = order
	return nil
}

// Get looks up an order by id.
func (r *Registry) Get(id string) (*models.DischargeOrder, bool) {
	o, ok := r.byID[id]
	return o, ok
}

// All returns the orders in insertion order.
func (r *Registry) All() []*models.DischargeOrder {
	out := make([]*models.DischargeOrder, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// Len reports the number of registered orders.
func (r *Registry) Len() int {
	return len(r.byID)
}

// LoadFromFile reads a JSON array of discharge orders into a fresh registry.
func LoadFromFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read orders file: %w", err)
	}
	var parsed []models.DischargeOrder
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse orders file %s: %w", path, err)
	}

	r := NewRegistry()
	for i := range parsed {
		if err := r.Add(&parsed[i]); err != nil {
			return nil, err
		}
	}
	slog.Info("orders.LoadFromFile: loaded discharge orders", "path", path, "count", r.Len())
	return r, nil
}

// defaultOrders is the built-in post-operative order set.
var defaultOrders = []models.DischargeOrder{
	{
		ID:             "wound_care",
		Label:          "Wound care",
		Instructions:   "Keep the incision clean and dry. Change the dressing once daily and watch for redness, swelling, or discharge.",
		GeneratesCalls: true,
		CallTemplate: &models.CallTemplate{
			Timing:         "24_hours_after_discharge",
			CallType:       models.CallTypeDischargeReminder,
			Priority:       2,
			PromptTemplate: "You are calling {patient_name} about their post-operative wound care. Remind them: {discharge_order}. Ask whether they have noticed any redness, swelling, or discharge.",
		},
	},
	{
		ID:             "pain_medication",
		Label:          "Pain medication",
		Instructions:   "Take the prescribed pain medication with food every 6 hours as needed. Do not exceed the stated daily maximum.",
		GeneratesCalls: true,
		CallTemplate: &models.CallTemplate{
			Timing:         "daily_for_3_days_starting_12_hours_after_discharge",
			CallType:       models.CallTypeMedicationReminder,
			Priority:       1,
			PromptTemplate: "You are calling {patient_name} about their medication. Remind them: {discharge_order}. Ask how their pain has been on a scale of one to ten.",
		},
	},
	{
		ID:             "activity_restrictions",
		Label:          "Activity restrictions",
		Instructions:   "No lifting more than 10 pounds and no driving for two weeks. Short walks are encouraged.",
		GeneratesCalls: false,
	},
	{
		ID:             "follow_up_appointment",
		Label:          "Follow-up appointment",
		Instructions:   "Attend the surgical follow-up appointment with your care team.",
		GeneratesCalls: true,
		CallTemplate: &models.CallTemplate{
			Timing:         "within_24_hours",
			CallType:       models.CallTypeFollowUp,
			Priority:       3,
			PromptTemplate: "You are calling {patient_name} to confirm their follow-up appointment. Remind them: {discharge_order}.",
		},
	},
}
