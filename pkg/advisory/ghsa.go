package advisory

import (
	"context"
	"strings"

	"github.com/google/go-github/v74/github"
	"golang.org/x/oauth2"

	"github.com/cratewatch/cratewatch/pkg/core"
	"github.com/cratewatch/cratewatch/pkg/errors"
	"github.com/cratewatch/cratewatch/pkg/shared/severity"
)

// GHSAFetcher pulls reviewed advisories for the Rust ecosystem from the
// GitHub Security Advisory database. It is the advisory-refresh
// collaborator: the scan core only ever sees the resulting records.
type GHSAFetcher struct {
	client   *github.Client
	logger   core.Logger
	maxPages int
}

// GHSAOption configures the fetcher.
type GHSAOption func(*GHSAFetcher)

// WithGHSALogger sets the logger.
func WithGHSALogger(logger core.Logger) GHSAOption {
	return func(f *GHSAFetcher) {
		f.logger = core.OrNop(logger)
	}
}

// WithGHSAMaxPages caps pagination. Zero means the default of 10.
func WithGHSAMaxPages(n int) GHSAOption {
	return func(f *GHSAFetcher) {
		if n > 0 {
			f.maxPages = n
		}
	}
}

// NewGHSAFetcher creates a fetcher. token may be empty for anonymous,
// heavily rate-limited access.
func NewGHSAFetcher(ctx context.Context, token string, opts ...GHSAOption) *GHSAFetcher {
	httpClient := oauth2.NewClient(ctx, nil)
	if token != "" {
		httpClient = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	}

	f := &GHSAFetcher{
		client:   github.NewClient(httpClient),
		logger:   &core.NopLogger{},
		maxPages: 10,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch lists reviewed Rust-ecosystem advisories and converts them to
// records. Records that cannot be converted (no package, no usable range)
// are skipped with a debug log rather than failing the refresh.
func (f *GHSAFetcher) Fetch(ctx context.Context) ([]*Record, error) {
	const op = "advisory.GHSAFetch"

	opts := &github.ListGlobalSecurityAdvisoriesOptions{
		Ecosystem: github.Ptr("rust"),
		Type:      github.Ptr("reviewed"),
	}

	var records []*Record
	for page := 0; page < f.maxPages; page++ {
		advisories, resp, err := f.client.SecurityAdvisories.ListGlobalSecurityAdvisories(ctx, opts)
		if err != nil {
			return nil, &errors.Error{Kind: errors.KindNetwork, Op: op, Message: "list global security advisories", Err: err}
		}

		for _, adv := range advisories {
			records = append(records, f.convert(adv)...)
		}

		if resp == nil || resp.After == "" {
			break
		}
		opts.ListCursorOptions.After = resp.After
	}

	f.logger.Info("fetched %d advisory records from GHSA", len(records))
	return records, nil
}

// convert maps one GHSA advisory to per-package records. A GHSA entry may
// cover several packages; each becomes its own record so the index stays
// strictly name-keyed.
func (f *GHSAFetcher) convert(adv *github.GlobalSecurityAdvisory) []*Record {
	var out []*Record
	for _, vuln := range adv.Vulnerabilities {
		name := vuln.GetPackage().GetName()
		rangeExpr := normalizeGHSARange(vuln.GetVulnerableVersionRange())
		if name == "" || rangeExpr == "" {
			f.logger.Debug("skipping GHSA vulnerability with no package or range in %s", adv.GetGHSAID())
			continue
		}

		r := &Record{
			ID:          adv.GetGHSAID(),
			Package:     name,
			Severity:    severity.FromString(adv.GetSeverity()),
			Description: adv.GetSummary(),
			Affected:    []string{rangeExpr},
			Patched:     vuln.GetFirstPatchedVersion(),
		}
		if cvss := adv.GetCVSS(); cvss != nil {
			if score := cvss.GetScore(); score != nil {
				r.CVSS = *score
			}
		}
		out = append(out, r)
	}
	return out
}

// normalizeGHSARange tidies GitHub's range spelling (">= 1.0.0, < 2.0.0")
// into our constraint syntax. The operators already match; only stray
// whitespace needs collapsing.
func normalizeGHSARange(s string) string {
	parts := strings.Split(s, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
