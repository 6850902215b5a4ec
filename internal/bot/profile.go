package bot

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"attestation-core/internal/ledger"
	"attestation-core/pkg/hashutil"
)

// profilePattern matches the chat link a wallet sends when the user
// reveals a private profile: (profile:<base64 json>).
var profilePattern = regexp.MustCompile(`\(profile:(.+?)\)`)

// PrivateProfile is the revealed real-name profile. Unit points at the
// attestation that committed to these fields; SrcProfile holds the field
// values, each either a plain string or a [value, blinding] pair.
type PrivateProfile struct {
	Unit       string                 `json:"unit"`
	PayloadHash string                `json:"payload_hash"`
	SrcProfile map[string]interface{} `json:"src_profile"`
}

// ExtractProfileBlob pulls the base64 profile out of a chat message, if
// there is one.
func ExtractProfileBlob(text string) (string, bool) {
	m := profilePattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// ParseProfileBlob decodes the base64 JSON profile.
func ParseProfileBlob(b64 string) (*PrivateProfile, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, errors.New("invalid private profile")
	}
	var p PrivateProfile
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errors.New("invalid private profile")
	}
	if p.Unit == "" || len(p.SrcProfile) == 0 {
		return nil, errors.New("invalid private profile")
	}
	return &p, nil
}

// Fields unwraps the profile values. A blinded field arrives as
// [value, blinding]; only the value matters here.
func (p *PrivateProfile) Fields() map[string]string {
	fields := make(map[string]string, len(p.SrcProfile))
	for key, val := range p.SrcProfile {
		switch v := val.(type) {
		case string:
			fields[key] = v
		case []interface{}:
			if len(v) > 0 {
				if s, ok := v[0].(string); ok {
					fields[key] = s
				}
			}
		}
	}
	return fields
}

// ValidateProfile checks the revealed profile against the attestation it
// references on the ledger and returns the attested address and the
// attestor who posted it.
func ValidateProfile(ctx context.Context, node ledger.Client, p *PrivateProfile) (address, attestorAddress string, err error) {
	info, err := node.GetAttestation(ctx, p.Unit)
	if err != nil {
		return "", "", fmt.Errorf("read attestation %s: %w", p.Unit, err)
	}
	if info.App != "attestation" {
		return "", "", fmt.Errorf("unit %s is not an attestation", p.Unit)
	}

	var payload struct {
		Address string `json:"address"`
		Profile struct {
			ProfileHash string `json:"profile_hash"`
		} `json:"profile"`
	}
	if err := json.Unmarshal(info.Payload, &payload); err != nil {
		return "", "", fmt.Errorf("parse attestation payload: %w", err)
	}
	if payload.Address == "" {
		return "", "", errors.New("attestation payload has no address")
	}

	// the public attestation commits to the private fields by hash
	if payload.Profile.ProfileHash != "" {
		hash, err := hashutil.GetBase64Hash(p.SrcProfile)
		if err != nil {
			return "", "", fmt.Errorf("hash src_profile: %w", err)
		}
		if hash != payload.Profile.ProfileHash {
			return "", "", errors.New("private profile does not match the attested profile hash")
		}
	}

	return payload.Address, info.AttestorAddress, nil
}

// MissingFields returns the required fields the profile does not carry.
func (p *PrivateProfile) MissingFields(required []string) []string {
	fields := p.Fields()
	var missing []string
	for _, key := range required {
		if fields[key] == "" {
			missing = append(missing, key)
		}
	}
	return missing
}
