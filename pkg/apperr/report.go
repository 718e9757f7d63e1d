package apperr

import "fmt"

// Report is the envelope every pipeline invocation returns
type Report struct {
	Success bool         `json:"success"`
	Result  any          `json:"result"`
	Error   *ReportError `json:"error"`
}

// ReportError is the serialized form of an Error
type ReportError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Devel   Devel  `json:"devel"`
}

// Devel holds the diagnostic part of a ReportError
type Devel struct {
	Details string `json:"details"`
	Stage   string `json:"stage"`
	Kind    string `json:"kind"`
	Type    string `json:"type"`
}

// NewReport builds a successful report when err is nil, a failed one otherwise.
func NewReport(result any, err error) Report {
	if err == nil {
		return Report{Success: true, Result: result}
	}
	e, ok := As(err)
	if !ok {
		e = Internal("run", err)
	}

	details := e.Details
	if e.Err != nil {
		if details != "" {
			details += ": "
		}
		details += e.Err.Error()
	}
	typ := ""
	if e.Err != nil {
		typ = fmt.Sprintf("%T", e.Err)
	}

	return Report{
		Success: false,
		Error: &ReportError{
			Code:    e.Code,
			Message: e.Message,
			Devel: Devel{
				Details: details,
				Stage:   e.Stage,
				Kind:    e.Kind.String(),
				Type:    typ,
			},
		},
	}
}
