// Copyright 2025 James Ross
package report

// MaskingType is the transform applied to a masked field's value (spec §3/§4.2).
type MaskingType string

const (
	MaskNone         MaskingType = "NONE"
	MaskHidden       MaskingType = "HIDDEN"
	MaskPartial      MaskingType = "PARTIAL_MASK"
	MaskHash         MaskingType = "HASH_MASK"
	MaskAnonymize    MaskingType = "ANONYMIZE"
	MaskAggregate    MaskingType = "AGGREGATE"
)

// AccessLevel gates whether a field is emitted at all.
type AccessLevel string

const (
	AccessFull   AccessLevel = "FULL_ACCESS"
	AccessMasked AccessLevel = "MASKED_ACCESS"
	AccessHidden AccessLevel = "HIDDEN_ACCESS"
)

// MaskingRule is a per-(role, reportType, field) transform (spec §3).
type MaskingRule struct {
	Field          string
	MaskingType    MaskingType
	AccessLevel    AccessLevel
	MaskingPattern string
	Enabled        bool
}

// RuleSet is the resolved set of masking rules for a (role, reportType) pair,
// indexed by field name.
type RuleSet map[string]MaskingRule
