package keycloak

import (
	"maps"

	"github.com/marche-conclu/marketplace-bff/internal/domain"
)

// ProfileFromAttributes reads the first value of each profile attribute.
func ProfileFromAttributes(attrs map[string][]string) domain.Profile {
	return domain.Profile{
		DisplayName:     first(attrs, domain.AttrDisplayName),
		ResponsibleName: first(attrs, domain.AttrResponsibleName),
		PhoneNumber:     first(attrs, domain.AttrPhoneNumber),
		Address:         first(attrs, domain.AttrAddress),
		Profession:      first(attrs, domain.AttrProfession),
		Email:           first(attrs, domain.AttrEmail),
	}
}

// MergeProfileAttributes overlays a profile on an existing attribute bag.
// Attributes outside the profile are kept and a blank profession leaves
// the stored one untouched.
func MergeProfileAttributes(existing map[string][]string, p domain.Profile) map[string][]string {
	out := make(map[string][]string, len(existing)+6)
	maps.Copy(out, existing)

	out[domain.AttrDisplayName] = []string{p.DisplayName}
	out[domain.AttrResponsibleName] = []string{p.ResponsibleName}
	out[domain.AttrPhoneNumber] = []string{p.PhoneNumber}
	out[domain.AttrAddress] = []string{p.Address}
	out[domain.AttrEmail] = []string{p.Email}
	if p.Profession != "" {
		out[domain.AttrProfession] = []string{p.Profession}
	}
	return out
}

func first(attrs map[string][]string, key string) string {
	if v := attrs[key]; len(v) > 0 {
		return v[0]
	}
	return ""
}
