package models

// Detection is a single labeled object returned by the detection collaborator.
type Detection struct {
	Object     string   `json:"object"`
	Confidence *float64 `json:"confidence,omitempty"`
}
