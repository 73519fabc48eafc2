package domain

import "strings"

// Profile attribute names as stored by the identity provider.
const (
	AttrDisplayName     = "displayName"
	AttrResponsibleName = "responsibleName"
	AttrPhoneNumber     = "phoneNumber"
	AttrAddress         = "address"
	AttrProfession      = "profession"
	AttrEmail           = "email"
	AttrRole            = "role"
)

// Profile is the typed view of a user's attribute bag.
type Profile struct {
	DisplayName     string `json:"displayName"`
	ResponsibleName string `json:"responsibleName"`
	PhoneNumber     string `json:"phoneNumber"`
	Address         string `json:"address"`
	Profession      string `json:"profession"`
	Email           string `json:"email,omitempty"`
}

// ProfileStatus reports whether a profile holds every field its role requires.
type ProfileStatus struct {
	IsComplete    bool     `json:"isComplete"`
	MissingFields []string `json:"missingFields"`
}

// RequiredProfileFields lists the attributes a role must fill in.
// Producers additionally need a profession.
func RequiredProfileFields(role string) []string {
	fields := []string{AttrDisplayName, AttrResponsibleName, AttrPhoneNumber, AttrAddress}
	if role == RoleProducer {
		fields = append(fields, AttrProfession)
	}
	return fields
}

// Field returns the value of a named attribute.
func (p Profile) Field(name string) string {
	switch name {
	case AttrDisplayName:
		return p.DisplayName
	case AttrResponsibleName:
		return p.ResponsibleName
	case AttrPhoneNumber:
		return p.PhoneNumber
	case AttrAddress:
		return p.Address
	case AttrProfession:
		return p.Profession
	case AttrEmail:
		return p.Email
	}
	return ""
}

// MissingFields returns the role-required fields that are blank.
func (p Profile) MissingFields(role string) []string {
	missing := []string{}
	for _, f := range RequiredProfileFields(role) {
		if strings.TrimSpace(p.Field(f)) == "" {
			missing = append(missing, f)
		}
	}
	return missing
}

// Completion evaluates the profile against the role's requirements.
func (p Profile) Completion(role string) ProfileStatus {
	missing := p.MissingFields(role)
	return ProfileStatus{IsComplete: len(missing) == 0, MissingFields: missing}
}

// UpdateProfileRequest is the body for PUT /v1/session/profile.
type UpdateProfileRequest struct {
	DisplayName     string `json:"displayName"`
	ResponsibleName string `json:"responsibleName"`
	PhoneNumber     string `json:"phoneNumber"`
	Address         string `json:"address"`
	Profession      string `json:"profession"`
}

// ToProfile converts the request body to a Profile.
func (r UpdateProfileRequest) ToProfile() Profile {
	return Profile{
		DisplayName:     r.DisplayName,
		ResponsibleName: r.ResponsibleName,
		PhoneNumber:     r.PhoneNumber,
		Address:         r.Address,
		Profession:      r.Profession,
	}
}

// IdentityUser is a user record as returned by the admin API.
type IdentityUser struct {
	ID            string
	Username      string
	Email         string
	Enabled       bool
	EmailVerified bool
	Profile       Profile
	// Attributes is the raw attribute bag, kept so updates can preserve
	// attributes this service does not model.
	Attributes map[string][]string
}

// NewUser is the payload for creating a user through the admin API.
type NewUser struct {
	Email    string
	Password string
	Role     string
}

// ClientRole is a role scoped to a registered client.
type ClientRole struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
