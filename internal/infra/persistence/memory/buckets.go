package memory

// Bucket names one persisted slice of a Snapshot. Target points at the
// snapshot field so durable stores can marshal from and unmarshal into it.
type Bucket struct {
	Name   string
	Target any
}

// Buckets lists the persisted buckets of s in a stable order.
func (s *Snapshot) Buckets() []Bucket {
	return []Bucket{
		{Name: "reports", Target: &s.Reports},
		{Name: "games", Target: &s.Games},
		{Name: "pitches", Target: &s.Pitches},
		{Name: "preselections", Target: &s.Preselections},
		{Name: "teams", Target: &s.Teams},
		{Name: "memberships", Target: &s.Memberships},
		{Name: "disciplinary_actions", Target: &s.Actions},
		{Name: "injuries", Target: &s.Injuries},
		{Name: "sequences", Target: &s.Sequences},
	}
}
