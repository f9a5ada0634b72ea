// Package devseed populates a development database with funded orgs and demo bounties.
package devseed

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/proofwork/proofwork/internal/data"
	"github.com/proofwork/proofwork/internal/domain/descriptor"
	"github.com/proofwork/proofwork/internal/domain/model"
	"github.com/proofwork/proofwork/internal/service"
)

// Services bundles the dependencies needed for development seeding.
type Services struct {
	billing  *data.BillingRepo
	bounties *service.BountyService
}

// NewServices constructs all required services for seeding using the provided DB.
// catalog may be nil when no descriptor catalog is configured.
func NewServices(db *sql.DB, catalog *descriptor.Catalog) (Services, error) {
	repos := data.NewRepositories(db, data.RepositoriesConfig{})
	bounties, err := service.NewBountyService(service.BountyServiceOptions{Repos: repos, Catalog: catalog})
	if err != nil {
		return Services{}, err
	}
	return Services{billing: repos.Billing, bounties: bounties}, nil
}

// Org is a development org and its opening deposit.
type Org struct {
	ID           string
	DepositCents int64
	Bounties     []model.PublishBountyRequest
}

// DefaultOrgs returns the orgs seeded by Run.
func DefaultOrgs() []Org {
	mobile := "mobile"
	return []Org{
		{
			ID:           "org-dev-acme",
			DepositCents: 500_000,
			Bounties: []model.PublishBountyRequest{
				{
					Title:          "Screenshot the pricing page",
					PayoutCents:    250,
					JobCount:       5,
					TaskDescriptor: json.RawMessage(`{"type":"proof.artifacts","schema_version":1,"required_artifacts":[{"kind":"screenshot"}]}`),
				},
				{
					Title:       "Record the signup flow on a phone",
					PayoutCents: 1_500,
					JobCount:    2,
					TaskDescriptor: json.RawMessage(`{"type":"proof.manifest","schema_version":1,` +
						`"required_artifacts":[{"kind":"video"}],"required_fields":["result.summary"],"min_quality_score":0.5}`),
					RequiredFingerprintClass: &mobile,
				},
			},
		},
		{ID: "org-dev-empty", DepositCents: 1_000},
	}
}

// Run seeds orgs that do not exist yet. Existing orgs are left alone, so running it
// twice does not double deposits or bounties.
func Run(ctx context.Context, svcs Services, orgs []Org, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	failures := 0
	for _, org := range orgs {
		seeded, err := seedOrg(ctx, svcs, org)
		if err != nil {
			logger.ErrorContext(ctx, "failed to seed org", "org_id", org.ID, "error", err)
			failures++
			continue
		}
		if !seeded {
			logger.InfoContext(ctx, "org already exists", "org_id", org.ID)
			continue
		}
		logger.InfoContext(ctx, "seeded org", "org_id", org.ID, "bounties", len(org.Bounties))
	}
	if failures > 0 {
		return fmt.Errorf("%d seed errors; check logs", failures)
	}
	return nil
}

func seedOrg(ctx context.Context, svcs Services, org Org) (bool, error) {
	_, err := svcs.billing.Get(ctx, org.ID)
	switch {
	case err == nil:
		return false, nil
	case !errors.Is(err, data.ErrBillingAccountNotFound):
		return false, err
	}

	if _, err := svcs.billing.Deposit(ctx, org.ID, org.DepositCents); err != nil {
		return false, fmt.Errorf("deposit: %w", err)
	}
	for _, req := range org.Bounties {
		req.OrgID = org.ID
		if _, err := svcs.bounties.Publish(ctx, req); err != nil {
			return false, fmt.Errorf("publish %q: %w", req.Title, err)
		}
	}
	return true, nil
}
