package proxy

import "fmt"

// APIError is the envelope the gateway returns alongside a non-2xx status
type APIError struct {
	Data   interface{} `json:"data"`
	Err    string      `json:"error"`
	Code   string      `json:"code"`
	Status int         `json:"-"`
}

func (e *APIError) Error() string {
	if e.IsEmpty() {
		return fmt.Sprintf("gateway error: status %d, empty (or not in json) response", e.Status)
	}
	return fmt.Sprintf("gateway error: %s (%s)", e.Err, e.Code)
}

// IsEmpty reports whether the error body could not be parsed
func (e *APIError) IsEmpty() bool {
	return e == nil || (e.Err == "" && e.Code == "")
}
