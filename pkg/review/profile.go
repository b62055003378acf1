package review

// Profile holds the review-policy knobs that vary per deployment: the SLA
// window, the approaching threshold, and the escalation authorities per
// persona. The defaults match the upstream behavior.
type Profile struct {
	// SLAWindowDays is the review window granted from the anchor date.
	SLAWindowDays int `yaml:"sla_window_days" json:"sla_window_days"`
	// ApproachingDays marks the remaining-days threshold at or below which
	// the SLA state becomes APPROACHING.
	ApproachingDays int `yaml:"approaching_days" json:"approaching_days"`
	// DefaultAuthority receives evidence escalations when the reviewer tags
	// no authority.
	DefaultAuthority string `yaml:"default_authority" json:"default_authority"`
	// TransferEscalationAuthority receives transfer-level (end-user)
	// escalations.
	TransferEscalationAuthority string `yaml:"transfer_escalation_authority" json:"transfer_escalation_authority"`
	// MaxDescriptionLen bounds upload descriptions.
	MaxDescriptionLen int `yaml:"max_description_len" json:"max_description_len"`
	// Authorities optionally overrides the default escalation authority per
	// jurisdiction.
	Authorities map[string]string `yaml:"authorities,omitempty" json:"authorities,omitempty"`
}

// DefaultProfile returns the built-in review policy.
func DefaultProfile() Profile {
	return Profile{
		SLAWindowDays:               7,
		ApproachingDays:             2,
		DefaultAuthority:            "Legal",
		TransferEscalationAuthority: "Admin",
		MaxDescriptionLen:           2000,
	}
}

// normalize fills zero-valued fields from the defaults so a partially
// specified profile never disables a rule outright.
func (p Profile) normalize() Profile {
	d := DefaultProfile()
	if p.SLAWindowDays <= 0 {
		p.SLAWindowDays = d.SLAWindowDays
	}
	if p.ApproachingDays <= 0 {
		p.ApproachingDays = d.ApproachingDays
	}
	if p.DefaultAuthority == "" {
		p.DefaultAuthority = d.DefaultAuthority
	}
	if p.TransferEscalationAuthority == "" {
		p.TransferEscalationAuthority = d.TransferEscalationAuthority
	}
	if p.MaxDescriptionLen <= 0 {
		p.MaxDescriptionLen = d.MaxDescriptionLen
	}
	return p
}

// AuthorityFor returns the escalation authority for a jurisdiction, falling
// back to the default authority.
func (p Profile) AuthorityFor(jurisdiction string) string {
	if a, ok := p.Authorities[jurisdiction]; ok && a != "" {
		return a
	}
	return p.DefaultAuthority
}
