package authapi

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/jrsteele09/membership-session/credentials"
	"github.com/jrsteele09/membership-session/internal/utils"
	"github.com/jrsteele09/membership-session/users"
)

// flexString accepts JSON strings and numbers.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// flexFloat accepts numbers and decimal strings such as "19.99".
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err == nil {
		*f = flexFloat(v)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}

// wireProfile accepts both the snake_case and camelCase profile shapes.
type wireProfile struct {
	ID        flexString `json:"id"`
	Email     string     `json:"email"`
	Phone     string     `json:"phone"`
	Name      string     `json:"name"`
	FirstName string     `json:"first_name"`
	LastName  string     `json:"last_name"`

	MembershipID          flexString `json:"membership_id"`
	MembershipIDCamel     flexString `json:"membershipId"`
	MembershipPlan        string     `json:"membership_plan"`
	MembershipPlanCamel   string     `json:"membershipPlan"`
	MembershipStatus      string     `json:"membership_status"`
	MembershipStatusCamel string     `json:"membershipStatus"`
	MonthlyFee            *flexFloat `json:"monthly_fee"`
	MonthlyFeeCamel       *flexFloat `json:"monthlyFee"`
	RenewalDate           string     `json:"renewal_date"`
	RenewalDateCamel      string     `json:"renewalDate"`
	CanCancel             *bool      `json:"can_cancel"`
	CanCancelCamel        *bool      `json:"canCancel"`
	CanReactivate         *bool      `json:"can_reactivate"`
	CanReactivateCamel    *bool      `json:"canReactivate"`
	AutoRenew             *bool      `json:"auto_renew"`
	AutoRenewCamel        *bool      `json:"autoRenew"`
	ReferralCode          string     `json:"referral_code"`
	ReferralCodeCamel     string     `json:"referralCode"`
	RewardsBalance        *flexFloat `json:"rewards_balance"`
	RewardsBalanceCamel   *flexFloat `json:"rewardsBalance"`
	CreatedAt             string     `json:"created_at"`
	CreatedAtCamel        string     `json:"createdAt"`
	UpdatedAt             string     `json:"updated_at"`
	UpdatedAtCamel        string     `json:"updatedAt"`
}

func (w wireProfile) profile() users.Profile {
	name := w.Name
	if name == "" {
		name = strings.TrimSpace(w.FirstName + " " + w.LastName)
	}
	status := utils.FirstNonEmpty(w.MembershipStatus, w.MembershipStatusCamel)
	if status == "" {
		status = users.UnknownMembershipStatus
	}
	return users.Profile{
		ID:               string(w.ID),
		Email:            w.Email,
		Phone:            w.Phone,
		Name:             name,
		MembershipID:     utils.FirstNonEmpty(string(w.MembershipID), string(w.MembershipIDCamel)),
		MembershipPlan:   utils.FirstNonEmpty(w.MembershipPlan, w.MembershipPlanCamel),
		MembershipStatus: status,
		MonthlyFee:       float64(utils.Value(utils.FirstNonNil(w.MonthlyFee, w.MonthlyFeeCamel))),
		RenewalDate:      utils.FirstNonEmpty(w.RenewalDate, w.RenewalDateCamel),
		CanCancel:        utils.Value(utils.FirstNonNil(w.CanCancel, w.CanCancelCamel)),
		CanReactivate:    utils.Value(utils.FirstNonNil(w.CanReactivate, w.CanReactivateCamel)),
		AutoRenew:        utils.Value(utils.FirstNonNil(w.AutoRenew, w.AutoRenewCamel)),
		ReferralCode:     utils.FirstNonEmpty(w.ReferralCode, w.ReferralCodeCamel),
		RewardsBalance:   float64(utils.Value(utils.FirstNonNil(w.RewardsBalance, w.RewardsBalanceCamel))),
		CreatedAt:        utils.FirstNonEmpty(w.CreatedAt, w.CreatedAtCamel),
		UpdatedAt:        utils.FirstNonEmpty(w.UpdatedAt, w.UpdatedAtCamel),
	}
}

// wireTokens accepts every token alias the backend has used.
type wireTokens struct {
	AccessToken       string `json:"accessToken"`
	AccessTokenSnake  string `json:"access_token"`
	Access            string `json:"access"`
	RefreshToken      string `json:"refreshToken"`
	RefreshTokenSnake string `json:"refresh_token"`
	Refresh           string `json:"refresh"`
}

func (w wireTokens) pair() credentials.Pair {
	return credentials.Pair{
		AccessToken:  utils.FirstNonEmpty(w.AccessToken, w.AccessTokenSnake, w.Access),
		RefreshToken: utils.FirstNonEmpty(w.RefreshToken, w.RefreshTokenSnake, w.Refresh),
	}
}

// wireAuth is a login or registration response. The profile is either nested under
// "user" or inlined next to the tokens.
type wireAuth struct {
	wireTokens
	User json.RawMessage `json:"user"`
}

type wireMessage struct {
	Message string `json:"message"`
	Detail  string `json:"detail"`
}

func (w wireMessage) text() string {
	return utils.FirstNonEmpty(w.Message, w.Detail)
}

type refreshRequest struct {
	Refresh string `json:"refresh"`
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Email       string `json:"email"`
	Code        string `json:"code"`
	NewPassword string `json:"new_password"`
}

// Device is the push registration payload.
type Device struct {
	Platform  string `json:"platform"`
	PushToken string `json:"push_token"`
	DeviceID  string `json:"device_id,omitempty"`
}
