package control

// Toggle is the operator's local mitigation switch. Local state changes
// immediately on Flip; the backend's acknowledged value is tracked alongside
// it and never overrides it.
type Toggle struct {
	enabled   bool
	confirmed *bool
}

// NewToggle returns a toggle in its initial Enabled state.
func NewToggle() *Toggle {
	return &Toggle{enabled: true}
}

// Flip inverts the local value and returns the new one.
func (t *Toggle) Flip() bool {
	t.enabled = !t.enabled
	return t.enabled
}

// Set replaces the local value.
func (t *Toggle) Set(enabled bool) {
	t.enabled = enabled
}

// Enabled reports the local value.
func (t *Toggle) Enabled() bool {
	return t.enabled
}

// Acknowledge records the value the backend reports as active.
func (t *Toggle) Acknowledge(enabled bool) {
	t.confirmed = &enabled
}

// Confirmed returns the last acknowledged value, if any.
func (t *Toggle) Confirmed() (enabled, ok bool) {
	if t.confirmed == nil {
		return false, false
	}
	return *t.confirmed, true
}

// Pending reports whether the backend has acknowledged a value that differs
// from the local one.
func (t *Toggle) Pending() bool {
	return t.confirmed != nil && *t.confirmed != t.enabled
}

// String returns "Enabled" or "Disabled".
func (t *Toggle) String() string {
	if t.enabled {
		return "Enabled"
	}
	return "Disabled"
}
