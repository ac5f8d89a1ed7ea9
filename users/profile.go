package users

// Membership status values with special meaning to the client.
const (
	NoActiveMembership      = "No Active Membership"
	UnknownMembershipStatus = "unknown"
)

// Profile is the authenticated user's account view.
type Profile struct {
	ID               string  `json:"id"`
	Email            string  `json:"email"`
	Phone            string  `json:"phone,omitempty"`
	Name             string  `json:"name"`
	MembershipID     string  `json:"membershipId,omitempty"`
	MembershipPlan   string  `json:"membershipPlan,omitempty"`
	MembershipStatus string  `json:"membershipStatus"`
	MonthlyFee       float64 `json:"monthlyFee,omitempty"`
	RenewalDate      string  `json:"renewalDate,omitempty"`
	CanCancel        bool    `json:"canCancel"`
	CanReactivate    bool    `json:"canReactivate"`
	AutoRenew        bool    `json:"autoRenew"`
	ReferralCode     string  `json:"referralCode,omitempty"`
	RewardsBalance   float64 `json:"rewardsBalance,omitempty"`
	CreatedAt        string  `json:"createdAt,omitempty"`
	UpdatedAt        string  `json:"updatedAt,omitempty"`
}

// HasActiveMembership is false only for the exact "No Active Membership" status.
// Missing or unrecognised statuses count as active.
func (p Profile) HasActiveMembership() bool {
	return p.MembershipStatus != NoActiveMembership
}

// Clone returns a copy that shares no memory with p.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

// ProfilePatch holds the fields a client may change locally or send to PUT /profile.
// Nil fields are left untouched.
type ProfilePatch struct {
	Name             *string  `json:"name,omitempty"`
	Phone            *string  `json:"phone,omitempty"`
	Email            *string  `json:"email,omitempty"`
	MembershipPlan   *string  `json:"membershipPlan,omitempty"`
	MembershipStatus *string  `json:"membershipStatus,omitempty"`
	MonthlyFee       *float64 `json:"monthlyFee,omitempty"`
	RenewalDate      *string  `json:"renewalDate,omitempty"`
	AutoRenew        *bool    `json:"autoRenew,omitempty"`
	RewardsBalance   *float64 `json:"rewardsBalance,omitempty"`
}

// Apply returns a copy of p with the patch merged in.
func (p Profile) Apply(patch ProfilePatch) Profile {
	set(&p.Name, patch.Name)
	set(&p.Phone, patch.Phone)
	set(&p.Email, patch.Email)
	set(&p.MembershipPlan, patch.MembershipPlan)
	set(&p.MembershipStatus, patch.MembershipStatus)
	set(&p.MonthlyFee, patch.MonthlyFee)
	set(&p.RenewalDate, patch.RenewalDate)
	set(&p.AutoRenew, patch.AutoRenew)
	set(&p.RewardsBalance, patch.RewardsBalance)
	return p
}

// Empty reports whether the patch changes nothing.
func (patch ProfilePatch) Empty() bool {
	return patch == ProfilePatch{}
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}
