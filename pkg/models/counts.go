package models

// Counts summarises the effect of a rebuild or refresh
type Counts struct {
	Updated     int `json:"updated"`
	Added       int `json:"added"`
	Deleted     int `json:"deleted"`
	Unreachable int `json:"unreachable"`
	Failed      int `json:"failed,omitempty"`
}

// Changed reports whether the snapshot content changed
func (c Counts) Changed() bool {
	return c.Updated+c.Added+c.Deleted > 0
}
