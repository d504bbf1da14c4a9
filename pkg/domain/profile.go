package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Profile sections.
const (
	SectionPersonal   = "personal"
	SectionEducation  = "education"
	SectionEmployment = "employment"
	SectionTravel     = "travel"
	SectionCRS        = "crs"
)

// ProfileSections lists the sections that count toward completion.
var ProfileSections = []string{SectionPersonal, SectionEducation, SectionEmployment, SectionTravel, SectionCRS}

// Profile is a user's immigration profile. Section contents are opaque
// JSON documents owned by the client.
type Profile struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	TenantID     uuid.UUID
	Personal     json.RawMessage
	Education    json.RawMessage
	Employment   json.RawMessage
	Travel       json.RawMessage
	CRSInputs    json.RawMessage
	CRSBreakdown map[string]int
	CRSScore     int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CompletedSections returns the sections holding a non-empty document.
func (p *Profile) CompletedSections() []string {
	var done []string
	filled := map[string]json.RawMessage{
		SectionPersonal:   p.Personal,
		SectionEducation:  p.Education,
		SectionEmployment: p.Employment,
		SectionTravel:     p.Travel,
		SectionCRS:        p.CRSInputs,
	}
	for _, s := range ProfileSections {
		if !isEmptyJSON(filled[s]) {
			done = append(done, s)
		}
	}
	return done
}

// Completion returns the percentage of completed sections.
func (p *Profile) Completion() int {
	return len(p.CompletedSections()) * 100 / len(ProfileSections)
}

// ScoreBreakdown sums the CRS breakdown. Negative entries are ignored.
func ScoreBreakdown(breakdown map[string]int) int {
	total := 0
	for _, pts := range breakdown {
		if pts > 0 {
			total += pts
		}
	}
	return total
}

// ProfileUpdate carries the sections a client submits. Nil sections are left as is.
type ProfileUpdate struct {
	Personal     json.RawMessage
	Education    json.RawMessage
	Employment   json.RawMessage
	Travel       json.RawMessage
	CRSInputs    json.RawMessage
	CRSBreakdown map[string]int
}

// Apply merges u into p and recomputes the score.
func (u ProfileUpdate) Apply(p *Profile) {
	if u.Personal != nil {
		p.Personal = u.Personal
	}
	if u.Education != nil {
		p.Education = u.Education
	}
	if u.Employment != nil {
		p.Employment = u.Employment
	}
	if u.Travel != nil {
		p.Travel = u.Travel
	}
	if u.CRSInputs != nil {
		p.CRSInputs = u.CRSInputs
	}
	if u.CRSBreakdown != nil {
		p.CRSBreakdown = u.CRSBreakdown
	}
	p.CRSScore = ScoreBreakdown(p.CRSBreakdown)
}

func isEmptyJSON(raw json.RawMessage) bool {
	switch string(raw) {
	case "", "null", "{}", "[]", `""`:
		return true
	}
	return false
}
