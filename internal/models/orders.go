package models

// CallTemplate describes how calls are generated from a discharge order.
// Timing is a short spec string interpreted by the scheduler (for example
// "24_hours_after_discharge" or "daily_for_3_days_starting_12_hours_after_discharge").
type CallTemplate struct {
	Timing         string   `json:"timing"`
	CallType       CallType `json:"call_type"`
	Priority       int      `json:"priority"`
	PromptTemplate string   `json:"prompt_template"` // supports {patient_name} and {discharge_order}
}

// DischargeOrder is a nurse-authored instruction template. Orders that
// generate calls carry a complete CallTemplate.
type DischargeOrder struct {
	ID             string        `json:"id"`
	Label          string        `json:"label"`
	Instructions   string        `json:"discharge_order"`
	GeneratesCalls bool          `json:"generates_calls"`
	CallTemplate   *CallTemplate `json:"call_template,omitempty"`
}

// Validate enforces the generates_calls / call_template pairing.
func (o *DischargeOrder) Validate() error {
	if !o.GeneratesCalls {
		if o.CallTemplate != nil {
			return ErrUnexpectedCallTemplate
		}
		return nil
	}
	if o.CallTemplate == nil {
		return ErrMissingCallTemplate
	}
	t := o.CallTemplate
	if t.Timing == "" || t.PromptTemplate == "" || !IsValidCallType(t.CallType) || t.Priority <= 0 {
		return ErrIncompleteCallTemplate
	}
	return nil
}
