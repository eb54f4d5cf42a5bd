package llm

// AdapterWarning records a request field the adapter stripped or renamed.
// Warnings are diagnostic only and never surfaced as user-visible errors.
type AdapterWarning struct {
	Model  string `json:"model"`
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

const warnReasonUnsupported = "unsupported"

// Adapt rewrites a generic request into one legal for the model's provider
// family: unsupported fields are dropped with a warning, and the
// token-limit param is renamed to whatever the family expects.
//
// Adapt is a pure function. Same (request, model) always yields the same
// output and warnings; it performs no I/O and never fails on unknown
// models (those degrade to the legacy descriptor). It is idempotent:
// adapting an already-adapted request is a no-op.
func (t *CapabilityTable) Adapt(req *Request, model string) (*Request, []AdapterWarning) {
	cap := t.Lookup(model)
	out := req.Clone()
	out.Model = model

	var warnings []AdapterWarning

	if !cap.SupportsTools && len(out.Tools) > 0 {
		out.Tools = nil
		warnings = append(warnings, AdapterWarning{
			Model:  model,
			Field:  "tools",
			Reason: warnReasonUnsupported,
		})
	}

	if !cap.SupportsTemperature && out.Temperature != nil {
		out.Temperature = nil
		warnings = append(warnings, AdapterWarning{
			Model:  model,
			Field:  "temperature",
			Reason: warnReasonUnsupported,
		})
	}

	if !cap.SupportsResponseFormat && out.ResponseFormat != "" && out.ResponseFormat != ResponseFormatText {
		out.ResponseFormat = ""
		warnings = append(warnings, AdapterWarning{
			Model:  model,
			Field:  "response_format",
			Reason: warnReasonUnsupported,
		})
	}

	out.TokenParam = cap.TokenParam

	return out, warnings
}
