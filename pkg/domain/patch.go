package domain

import (
	"bytes"
	"encoding/json"
	"time"
)

// Optional distinguishes a field that was omitted from a field that was
// explicitly set, including explicitly set to its zero value.
type Optional[T any] struct {
	value T
	set   bool
}

// Set returns an Optional holding v.
func Set[T any](v T) Optional[T] {
	return Optional[T]{value: v, set: true}
}

// Get returns the held value and whether it was set.
func (o Optional[T]) Get() (T, bool) {
	return o.value, o.set
}

// IsSet reports whether the field was provided.
func (o Optional[T]) IsSet() bool { return o.set }

// Apply writes the held value into dst when set.
func (o Optional[T]) Apply(dst *T) {
	if o.set {
		*dst = o.value
	}
}

// MarshalJSON renders an unset field as null.
func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if !o.set {
		return []byte("null"), nil
	}
	return json.Marshal(o.value)
}

// UnmarshalJSON marks the field as set. It is only invoked for keys present in
// the payload, so an explicit null becomes "set to the zero value" while an
// omitted key keeps the field unset.
func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	var zero T
	o.value = zero
	o.set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	return json.Unmarshal(data, &o.value)
}

// ReportPatch is a partial update of a report.
type ReportPatch struct {
	Note        Optional[string]     `json:"note"`
	Submitted   Optional[bool]       `json:"submitted"`
	SubmittedAt Optional[*time.Time] `json:"submitted_at"`
}

// Empty reports whether the patch changes nothing.
func (p ReportPatch) Empty() bool {
	return !p.Note.IsSet() && !p.Submitted.IsSet() && !p.SubmittedAt.IsSet()
}

// Apply writes every set field into r.
func (p ReportPatch) Apply(r *Report) {
	p.Note.Apply(&r.Note)
	p.Submitted.Apply(&r.Submitted)
	if at, ok := p.SubmittedAt.Get(); ok {
		if at == nil {
			r.SubmittedAt = nil
		} else {
			t := at.UTC()
			r.SubmittedAt = &t
		}
	}
}
