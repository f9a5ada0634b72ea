// Package descriptor defines the task descriptor schema attached to bounties and the
// deterministic checks a verifier runs against a submission.
//
// A descriptor is discriminated by Type and SchemaVersion; each known kind enumerates
// the fields it requires.
package descriptor

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	jmespath "github.com/jmespath-community/go-jmespath"
)

// Type discriminates descriptor kinds.
type Type string

const (
	// TypeArtifacts requires specific artifact kinds to be present in the artifact index.
	TypeArtifacts Type = "proof.artifacts"
	// TypeManifest requires manifest fields (JMESPath expressions) and optionally artifacts.
	TypeManifest Type = "proof.manifest"
)

// ErrUnknownKind is returned for an unsupported (type, schema_version) pair.
var ErrUnknownKind = errors.New("unknown descriptor kind")

// ArtifactRequirement demands at least MinCount artifacts of Kind.
type ArtifactRequirement struct {
	Kind     string `json:"kind"      yaml:"kind"`
	MinCount int    `json:"min_count" yaml:"min_count"`
}

// UnmarshalJSON accepts either a bare kind string or an object.
func (r *ArtifactRequirement) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var kind string
		if err := json.Unmarshal(b, &kind); err != nil {
			return err
		}
		*r = ArtifactRequirement{Kind: kind, MinCount: 1}
		return nil
	}
	type plain ArtifactRequirement
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	if p.MinCount == 0 {
		p.MinCount = 1
	}
	*r = ArtifactRequirement(p)
	return nil
}

// Validate implements validation.Validatable.
func (r ArtifactRequirement) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Kind, validation.Required, validation.Length(1, 64)),
		validation.Field(&r.MinCount, validation.Min(1)),
	)
}

// Descriptor is the tagged task descriptor.
type Descriptor struct {
	Type              Type                  `json:"type"                         yaml:"type"`
	SchemaVersion     int                   `json:"schema_version"               yaml:"schema_version"`
	RequiredArtifacts []ArtifactRequirement `json:"required_artifacts,omitempty" yaml:"required_artifacts"`
	RequiredFields    []string              `json:"required_fields,omitempty"    yaml:"required_fields"`
	// MinQualityScore, when set, is the lowest gateway quality score that still passes.
	MinQualityScore *float64 `json:"min_quality_score,omitempty" yaml:"min_quality_score"`
	Instructions    string   `json:"instructions,omitempty"      yaml:"instructions"`
}

// Validate checks the discriminator and the per-kind required fields.
func (d Descriptor) Validate() error {
	if err := validation.ValidateStruct(&d,
		validation.Field(&d.Type, validation.Required, validation.In(TypeArtifacts, TypeManifest)),
		validation.Field(&d.SchemaVersion, validation.Required, validation.In(1)),
		validation.Field(&d.RequiredArtifacts),
		validation.Field(&d.RequiredFields, validation.Each(validation.By(validateExpression))),
		validation.Field(&d.MinQualityScore, validation.Min(0.0), validation.Max(1.0)),
	); err != nil {
		return err
	}

	switch d.Type {
	case TypeArtifacts:
		if len(d.RequiredArtifacts) == 0 {
			return validation.Errors{"required_artifacts": validation.ErrRequired}
		}
	case TypeManifest:
		if len(d.RequiredFields) == 0 {
			return validation.Errors{"required_fields": validation.ErrRequired}
		}
	default:
		return fmt.Errorf("%w: %s/v%d", ErrUnknownKind, d.Type, d.SchemaVersion)
	}
	return nil
}

func validateExpression(value any) error {
	expr, _ := value.(string)
	if strings.TrimSpace(expr) == "" {
		return errors.New("expression must not be blank")
	}
	if _, err := jmespath.Compile(expr); err != nil {
		return fmt.Errorf("invalid expression %q: %w", expr, err)
	}
	return nil
}

// Parse decodes and validates a descriptor. Unknown JSON fields are rejected.
func Parse(raw json.RawMessage) (Descriptor, error) {
	var d Descriptor
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&d); err != nil {
		return Descriptor{}, fmt.Errorf("decode descriptor: %w", err)
	}
	if err := d.Validate(); err != nil {
		return Descriptor{}, fmt.Errorf("invalid descriptor: %w", err)
	}
	return d, nil
}
