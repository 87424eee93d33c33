package entity

import "fmt"

// TargetRef identifies the business object a workflow runs against. The
// engine never dereferences the target; it only keys on the pair.
type TargetRef struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// String renders the pair as "type/id", the form used in logs and lock keys.
func (t TargetRef) String() string {
	return fmt.Sprintf("%s/%s", t.Type, t.ID)
}
