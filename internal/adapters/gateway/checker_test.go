package gateway

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proofwork/proofwork/internal/domain/descriptor"
	"github.com/proofwork/proofwork/internal/domain/model"
)

const screenshotAndVideo = `{"type":"proof.artifacts","schema_version":1,"required_artifacts":["screenshot","video"]}`

func verifyRequest(desc string, artifacts ...model.Artifact) model.VerifyRequest {
	return model.VerifyRequest{
		VerificationID: "ver-1",
		SubmissionID:   "sub-1",
		AttemptNo:      1,
		JobSpec: model.JobSpec{
			Constraints:    json.RawMessage(`{}`),
			TaskDescriptor: json.RawMessage(desc),
		},
		Submission: model.SubmissionRef{
			SubmissionID:  "sub-1",
			Manifest:      json.RawMessage(`{"result":{"summary":"checked out"}}`),
			ArtifactIndex: artifacts,
		},
	}
}

func artifact(kind string) model.Artifact {
	return model.Artifact{Kind: kind, URL: "https://cdn.example.com/" + kind, SHA256: "ab12" + kind}
}

func TestChecker_MissingVideoFails(t *testing.T) {
	c := NewChecker(nil, nil)

	resp, err := c.Verify(context.Background(), verifyRequest(screenshotAndVideo, artifact("screenshot")))
	require.NoError(t, err)
	assert.Equal(t, string(model.VerdictFail), resp.Verdict)
	assert.Equal(t, "missing_required_artifacts:video", resp.Reason)

	rec, err := resp.Record()
	require.NoError(t, err, "checker output must satisfy the gateway contract")
	assert.InDelta(t, 0.5, *rec.Scorecard.R, 1e-9)
}

func TestChecker_SatisfiedDescriptorPasses(t *testing.T) {
	c := NewChecker(nil, nil)

	resp, err := c.Verify(context.Background(), verifyRequest(screenshotAndVideo, artifact("video"), artifact("screenshot")))
	require.NoError(t, err)
	assert.Equal(t, string(model.VerdictPass), resp.Verdict)
	assert.Equal(t, descriptor.ReasonSatisfied, resp.Reason)
	assert.InDelta(t, 1.0, resp.Scorecard.Quality(), 1e-9)

	var used []model.Artifact
	require.NoError(t, json.Unmarshal(resp.EvidenceArtifacts, &used))
	assert.Len(t, used, 2)
}

func TestChecker_ManifestFields(t *testing.T) {
	c := NewChecker(nil, nil)
	desc := `{"type":"proof.manifest","schema_version":1,"required_fields":["result.summary","result.url"]}`

	resp, err := c.Verify(context.Background(), verifyRequest(desc))
	require.NoError(t, err)
	assert.Equal(t, string(model.VerdictFail), resp.Verdict)
	assert.Equal(t, "missing_required_fields:result.url", resp.Reason)
}

func TestChecker_MinQualityScore(t *testing.T) {
	c := NewChecker(nil, nil)
	desc := `{"type":"proof.artifacts","schema_version":1,"required_artifacts":["video"],"min_quality_score":0.95}`
	noDigest := model.Artifact{Kind: "video", URL: "https://cdn.example.com/v.mp4"}

	resp, err := c.Verify(context.Background(), verifyRequest(desc, noDigest))
	require.NoError(t, err)
	assert.Equal(t, string(model.VerdictFail), resp.Verdict)
	assert.Contains(t, resp.Reason, ReasonQualityBelowMin)
}

func TestChecker_CatalogReference(t *testing.T) {
	catalog, err := descriptor.ParseCatalog([]byte(`
descriptors:
  video_proof:
    type: proof.artifacts
    schema_version: 1
    required_artifacts:
      - kind: video
        min_count: 1
`))
	require.NoError(t, err)
	c := NewChecker(catalog, nil)

	resp, err := c.Verify(context.Background(), verifyRequest(`{"ref":"video_proof"}`, artifact("video")))
	require.NoError(t, err)
	assert.Equal(t, string(model.VerdictPass), resp.Verdict)

	resp, err = c.Verify(context.Background(), verifyRequest(`{"ref":"nope"}`, artifact("video")))
	require.NoError(t, err)
	assert.Equal(t, string(model.VerdictFail), resp.Verdict)
	assert.Equal(t, ReasonInvalidDescriptor, resp.Reason)
}
