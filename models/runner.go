package models

import "strings"

// Runner is a roster entry as served by the results store. It is cached in
// memory only.
type Runner struct {
	Bib    string `json:"bib"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// Inactive reports whether the runner is marked DNS or DNF. Any other value,
// including empty, counts as active.
func (r Runner) Inactive() bool {
	switch strings.ToUpper(strings.TrimSpace(r.Status)) {
	case "DNS", "DNF":
		return true
	}
	return false
}

// DisplayStatus is the participation status shown to operators.
func (r Runner) DisplayStatus() string {
	if s := strings.TrimSpace(r.Status); s != "" {
		return strings.ToUpper(s)
	}
	return "Active"
}
