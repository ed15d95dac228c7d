package provider

import "fmt"

// FactorKind tags the factor variant
type FactorKind string

const (
	FactorTOTP FactorKind = "totp"
)

// FactorStatus is the provider-side verification status of a factor
type FactorStatus string

const (
	FactorUnverified FactorStatus = "unverified"
	FactorVerified   FactorStatus = "verified"
)

// Factor is a registered second-authentication method
type Factor struct {
	ID     string       `json:"id"`
	Kind   FactorKind   `json:"kind"`
	Status FactorStatus `json:"status"`
}

// TOTPEnrollment carries what the user needs to add a TOTP factor to an authenticator app
type TOTPEnrollment struct {
	Secret string `json:"secret"`
	URI    string `json:"uri"`
}

// Enrollment is a newly created factor. Exactly one variant field is set, matching Factor.Kind.
type Enrollment struct {
	Factor Factor          `json:"factor"`
	TOTP   *TOTPEnrollment `json:"totp,omitempty"`
}

// Validate checks the variant payload matches the kind
func (e Enrollment) Validate() error {
	switch e.Factor.Kind {
	case FactorTOTP:
		if e.TOTP == nil || e.TOTP.Secret == "" {
			return fmt.Errorf("totp enrollment %s has no secret", e.Factor.ID)
		}
		return nil
	default:
		return fmt.Errorf("unsupported factor kind %q", e.Factor.Kind)
	}
}

// EnrollmentState is the subject's factor set as reported by the provider
type EnrollmentState struct {
	Factors []Factor
}

// HasVerifiedFactor reports whether any factor is verified
func (s EnrollmentState) HasVerifiedFactor() bool {
	_, ok := s.VerifiedFactor()
	return ok
}

// VerifiedFactor returns the first verified factor
func (s EnrollmentState) VerifiedFactor() (Factor, bool) {
	for _, f := range s.Factors {
		if f.Status == FactorVerified {
			return f, true
		}
	}
	return Factor{}, false
}

// Unverified returns the unverified factors of a kind
func (s EnrollmentState) Unverified(kind FactorKind) []Factor {
	var out []Factor
	for _, f := range s.Factors {
		if f.Kind == kind && f.Status == FactorUnverified {
			out = append(out, f)
		}
	}
	return out
}
