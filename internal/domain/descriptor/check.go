package descriptor

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	jmespath "github.com/jmespath-community/go-jmespath"
)

// Reason prefixes produced by Check.
const (
	ReasonMissingArtifacts = "missing_required_artifacts"
	ReasonMissingFields    = "missing_required_fields"
	ReasonInvalidManifest  = "invalid_manifest"
	ReasonSatisfied        = "descriptor_satisfied"
)

// Outcome is the result of checking a submission against a descriptor.
type Outcome struct {
	Satisfied bool
	Reason    string
	// Missing lists the unmet artifact kinds or field expressions, sorted.
	Missing []string
}

// Check evaluates the descriptor against the submission manifest and the kinds found
// in its artifact index. It is a pure function of its inputs.
func Check(d Descriptor, manifest json.RawMessage, artifactKinds []string) Outcome {
	counts := make(map[string]int, len(artifactKinds))
	for _, k := range artifactKinds {
		counts[strings.ToLower(strings.TrimSpace(k))]++
	}

	var missingKinds []string
	for _, req := range d.RequiredArtifacts {
		need := max(req.MinCount, 1)
		if counts[strings.ToLower(req.Kind)] < need {
			missingKinds = append(missingKinds, req.Kind)
		}
	}
	if len(missingKinds) > 0 {
		sort.Strings(missingKinds)
		return Outcome{
			Reason:  ReasonMissingArtifacts + ":" + strings.Join(missingKinds, ","),
			Missing: missingKinds,
		}
	}

	if len(d.RequiredFields) > 0 {
		var doc any
		if err := json.Unmarshal(manifest, &doc); err != nil {
			return Outcome{Reason: fmt.Sprintf("%s:%v", ReasonInvalidManifest, err)}
		}
		var missingFields []string
		for _, expr := range d.RequiredFields {
			v, err := jmespath.Search(expr, doc)
			if err != nil || isEmpty(v) {
				missingFields = append(missingFields, expr)
			}
		}
		if len(missingFields) > 0 {
			sort.Strings(missingFields)
			return Outcome{
				Reason:  ReasonMissingFields + ":" + strings.Join(missingFields, ","),
				Missing: missingFields,
			}
		}
	}

	return Outcome{Satisfied: true, Reason: ReasonSatisfied}
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	default:
		return false
	}
}
