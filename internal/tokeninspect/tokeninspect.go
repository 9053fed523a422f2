// Copyright 2025 James Ross
package tokeninspect

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/caseworks/reportpipeline/internal/report"
)

// ErrInvalidToken is returned when a bearer token is malformed: wrong
// segment count, or a segment that fails base64url/JSON decoding.
var ErrInvalidToken = errors.New("tokeninspect: invalid token")

var reservedRoles = map[string]bool{
	"offline_access":    true,
	"uma_authorization": true,
}

func isReservedRole(role string) bool {
	if reservedRoles[role] {
		return true
	}
	return strings.HasPrefix(role, "default-roles-")
}

// claims mirrors the subset of the Keycloak-shaped claims payload (spec §6)
// this inspector understands. Only the middle (claims) segment of the
// three-part bearer token is ever decoded; the token is never
// signature-verified here — verification is the issuer's job, this
// component only extracts the access-control facts the pipeline needs.
type claims struct {
	ResourceAccess map[string]struct {
		Roles []string `json:"roles"`
	} `json:"resource_access"`
	RealmAccess struct {
		Roles []string `json:"roles"`
	} `json:"realm_access"`
	PreferredUsername string `json:"preferred_username"`

	CountyID   string          `json:"countyId"`
	CountyID2  string          `json:"county_id"`
	Attributes struct {
		CountyID []string `json:"countyId"`
	} `json:"attributes"`

	// FieldMaskingRules may arrive as either shape; decode both possibilities
	// lazily from raw JSON (see resolveMaskingRules).
	FieldMaskingRulesRaw json.RawMessage `json:"field_masking_rules"`
}

// View is the typed, read-only projection of a bearer token's claims that
// the rest of the pipeline consumes.
type View struct {
	Role         string
	TenantID     string
	HasTenant    bool
	UserID       string
	MaskingRules []report.MaskingRule
}

// clientID is the resource_access client key this deployment's roles are
// nested under. Configurable per deployment; kept as a package-level
// default matching the identity provider's client registration.
const clientID = "report-pipeline"

// Inspect parses a three-segment base64url bearer token and extracts the
// role, tenant id, and inline masking rules (spec §4.1). Pure function, no I/O.
func Inspect(token string) (View, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return View{}, fmt.Errorf("%w: expected 3 segments, got %d", ErrInvalidToken, len(parts))
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return View{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	var c claims
	if err := json.Unmarshal(payload, &c); err != nil {
		return View{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	role := extractRole(c)
	tenantID, hasTenant := extractTenant(c)
	rules, err := resolveMaskingRules(c.FieldMaskingRulesRaw)
	if err != nil {
		return View{}, fmt.Errorf("%w: masking rules: %v", ErrInvalidToken, err)
	}

	return View{
		Role:         role,
		TenantID:     tenantID,
		HasTenant:    hasTenant,
		UserID:       c.PreferredUsername,
		MaskingRules: rules,
	}, nil
}

func extractRole(c claims) string {
	if ra, ok := c.ResourceAccess[clientID]; ok {
		for _, r := range ra.Roles {
			if !isReservedRole(r) {
				return r
			}
		}
	}
	for _, r := range c.RealmAccess.Roles {
		if !isReservedRole(r) {
			return r
		}
	}
	return c.PreferredUsername
}

// extractTenant returns the county id and whether one was present at all.
// Absence is a hard failure only for tenant-restricted roles; that decision
// is made by the caller (§4.1), not here.
func extractTenant(c claims) (string, bool) {
	if c.CountyID != "" {
		return c.CountyID, true
	}
	if len(c.Attributes.CountyID) > 0 {
		return c.Attributes.CountyID[0], true
	}
	if c.CountyID2 != "" {
		return c.CountyID2, true
	}
	return "", false
}

// legacyMaskingRule is the object-shaped wire representation (spec §6
// "legacy shape"): a field name maps directly to its rule body.
type legacyMaskingRule struct {
	MaskingType    string `json:"maskingType"`
	AccessLevel    string `json:"accessLevel"`
	MaskingPattern string `json:"maskingPattern"`
	Enabled        *bool  `json:"enabled"`
}

// resolveMaskingRules accepts either of the two accepted wire shapes for
// field_masking_rules: a Protocol-Mapper array of colon-joined strings, or a
// legacy field-name-keyed object (spec §6).
func resolveMaskingRules(raw json.RawMessage) ([]report.MaskingRule, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var asArray []string
	if err := json.Unmarshal(raw, &asArray); err == nil {
		rules := make([]report.MaskingRule, 0, len(asArray))
		for _, entry := range asArray {
			rule, err := parseProtocolMapperEntry(entry)
			if err != nil {
				return nil, err
			}
			rules = append(rules, rule)
		}
		return rules, nil
	}

	var asObject map[string]legacyMaskingRule
	if err := json.Unmarshal(raw, &asObject); err != nil {
		return nil, fmt.Errorf("unrecognized field_masking_rules shape: %w", err)
	}
	rules := make([]report.MaskingRule, 0, len(asObject))
	for field, body := range asObject {
		enabled := true
		if body.Enabled != nil {
			enabled = *body.Enabled
		}
		rules = append(rules, report.MaskingRule{
			Field:          field,
			MaskingType:    report.MaskingType(body.MaskingType),
			AccessLevel:    report.AccessLevel(body.AccessLevel),
			MaskingPattern: body.MaskingPattern,
			Enabled:        enabled,
		})
	}
	return rules, nil
}

// parseProtocolMapperEntry parses "<fieldName>:<maskingType>:<accessLevel>:<enabled>".
func parseProtocolMapperEntry(entry string) (report.MaskingRule, error) {
	parts := strings.Split(entry, ":")
	if len(parts) < 3 {
		return report.MaskingRule{}, fmt.Errorf("malformed masking rule entry %q", entry)
	}
	rule := report.MaskingRule{
		Field:       parts[0],
		MaskingType: report.MaskingType(parts[1]),
		AccessLevel: report.AccessLevel(parts[2]),
		Enabled:     true,
	}
	if len(parts) >= 4 {
		rule.Enabled = parts[3] == "true"
	}
	return rule, nil
}
