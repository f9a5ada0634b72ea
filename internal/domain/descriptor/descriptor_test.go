package descriptor

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
		check   func(t *testing.T, d Descriptor)
	}{
		{
			name: "artifacts with bare kinds",
			raw:  `{"type":"proof.artifacts","schema_version":1,"required_artifacts":["video","screenshot"]}`,
			check: func(t *testing.T, d Descriptor) {
				require.Len(t, d.RequiredArtifacts, 2)
				assert.Equal(t, ArtifactRequirement{Kind: "video", MinCount: 1}, d.RequiredArtifacts[0])
			},
		},
		{
			name: "artifacts with counts",
			raw:  `{"type":"proof.artifacts","schema_version":1,"required_artifacts":[{"kind":"screenshot","min_count":3}]}`,
			check: func(t *testing.T, d Descriptor) {
				assert.Equal(t, 3, d.RequiredArtifacts[0].MinCount)
			},
		},
		{
			name: "manifest descriptor",
			raw:  `{"type":"proof.manifest","schema_version":1,"required_fields":["result.summary","steps[0]"]}`,
		},
		{name: "unknown type", raw: `{"type":"proof.vibes","schema_version":1}`, wantErr: true},
		{name: "unknown version", raw: `{"type":"proof.artifacts","schema_version":2,"required_artifacts":["video"]}`, wantErr: true},
		{name: "artifacts kind requires list", raw: `{"type":"proof.artifacts","schema_version":1}`, wantErr: true},
		{name: "manifest kind requires fields", raw: `{"type":"proof.manifest","schema_version":1}`, wantErr: true},
		{name: "bad expression", raw: `{"type":"proof.manifest","schema_version":1,"required_fields":["a[?"]}`, wantErr: true},
		{name: "unknown field", raw: `{"type":"proof.artifacts","schema_version":1,"required_artifacts":["video"],"extra":1}`, wantErr: true},
		{name: "empty kind", raw: `{"type":"proof.artifacts","schema_version":1,"required_artifacts":[""]}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := Parse(json.RawMessage(tt.raw))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.check != nil {
				tt.check(t, d)
			}
		})
	}
}

func TestCheck(t *testing.T) {
	videoDesc := Descriptor{
		Type:              TypeArtifacts,
		SchemaVersion:     1,
		RequiredArtifacts: []ArtifactRequirement{{Kind: "video", MinCount: 1}},
	}

	t.Run("missing video when only screenshot present", func(t *testing.T) {
		out := Check(videoDesc, json.RawMessage(`{}`), []string{"screenshot"})
		assert.False(t, out.Satisfied)
		assert.Contains(t, out.Reason, ReasonMissingArtifacts)
		assert.Contains(t, out.Reason, "video")
		assert.Equal(t, []string{"video"}, out.Missing)
	})

	t.Run("satisfied", func(t *testing.T) {
		out := Check(videoDesc, json.RawMessage(`{}`), []string{"screenshot", "VIDEO"})
		assert.True(t, out.Satisfied)
		assert.Equal(t, ReasonSatisfied, out.Reason)
	})

	t.Run("missing kinds reported sorted", func(t *testing.T) {
		d := Descriptor{Type: TypeArtifacts, SchemaVersion: 1, RequiredArtifacts: []ArtifactRequirement{
			{Kind: "video", MinCount: 1}, {Kind: "har", MinCount: 1}, {Kind: "screenshot", MinCount: 2},
		}}
		out := Check(d, nil, []string{"screenshot"})
		assert.Equal(t, "missing_required_artifacts:har,screenshot,video", out.Reason)
	})

	t.Run("deterministic across calls", func(t *testing.T) {
		a := Check(videoDesc, nil, []string{"log"})
		b := Check(videoDesc, nil, []string{"log"})
		assert.Equal(t, a, b)
	})

	t.Run("manifest fields", func(t *testing.T) {
		d := Descriptor{Type: TypeManifest, SchemaVersion: 1, RequiredFields: []string{"result.summary", "steps"}}
		out := Check(d, json.RawMessage(`{"result":{"summary":"done"},"steps":[]}`), nil)
		assert.False(t, out.Satisfied)
		assert.Equal(t, "missing_required_fields:steps", out.Reason)

		out = Check(d, json.RawMessage(`{"result":{"summary":"done"},"steps":[{"n":1}]}`), nil)
		assert.True(t, out.Satisfied)
	})

	t.Run("invalid manifest json", func(t *testing.T) {
		d := Descriptor{Type: TypeManifest, SchemaVersion: 1, RequiredFields: []string{"a"}}
		out := Check(d, json.RawMessage(`{`), nil)
		assert.False(t, out.Satisfied)
		assert.Contains(t, out.Reason, ReasonInvalidManifest)
	})
}

func TestParseCatalog(t *testing.T) {
	src := []byte(`
descriptors:
  web-recording:
    type: proof.artifacts
    schema_version: 1
    required_artifacts:
      - kind: video
      - kind: screenshot
        min_count: 2
  form-fill:
    type: proof.manifest
    schema_version: 1
    required_fields: ["form.submitted_at"]
`)
	c, err := ParseCatalog(src)
	require.NoError(t, err)
	assert.Equal(t, []string{"form-fill", "web-recording"}, c.Names())

	d, ok := c.Lookup("web-recording")
	require.True(t, ok)
	assert.Equal(t, 1, d.RequiredArtifacts[0].MinCount)
	assert.Equal(t, 2, d.RequiredArtifacts[1].MinCount)

	_, ok = c.Lookup("missing")
	assert.False(t, ok)

	_, err = ParseCatalog([]byte("descriptors:\n  bad:\n    type: proof.unknown\n    schema_version: 1\n"))
	require.Error(t, err)
}

func TestResolve(t *testing.T) {
	c, err := ParseCatalog([]byte("descriptors:\n  video-proof:\n    type: proof.artifacts\n    schema_version: 1\n    required_artifacts:\n      - kind: video\n"))
	require.NoError(t, err)

	d, err := Resolve(json.RawMessage(`{"ref":"video-proof"}`), c)
	require.NoError(t, err)
	assert.Equal(t, TypeArtifacts, d.Type)

	_, err = Resolve(json.RawMessage(`{"ref":"nope"}`), c)
	require.ErrorIs(t, err, ErrUnknownRef)

	d, err = Resolve(json.RawMessage(`{"type":"proof.artifacts","schema_version":1,"required_artifacts":["video"]}`), nil)
	require.NoError(t, err)
	assert.Equal(t, "video", d.RequiredArtifacts[0].Kind)
}
