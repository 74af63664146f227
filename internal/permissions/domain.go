package permissions

import "time"

// ModuleGrant is one role's allowed actions for one module. An absent grant,
// or an empty action list, means no access to that module.
type ModuleGrant struct {
	Role      string
	Module    string
	Actions   []string
	UpdatedAt time.Time
}
