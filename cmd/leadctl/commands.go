package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/apexdeliver/backend/internal/attribution"
	"github.com/apexdeliver/backend/internal/config"
	"github.com/apexdeliver/backend/internal/model"
	"github.com/apexdeliver/backend/internal/reporter"
	"github.com/apexdeliver/backend/internal/repository"
	"github.com/apexdeliver/backend/internal/service"
	"github.com/apexdeliver/backend/pkg/auth"
	"github.com/apexdeliver/backend/pkg/crm"
	"github.com/spf13/cobra"
)

// app holds what the commands share. Fields are swapped in tests.
type app struct {
	out        io.Writer
	configPath string
	loadConfig func(path string) (*config.Config, error)
	scheduler  reporter.Scheduler
	now        func() time.Time
}

func newApp(out io.Writer) *app {
	return &app{
		out:        out,
		loadConfig: config.Load,
		scheduler:  reporter.TimerScheduler{},
		now:        time.Now,
	}
}

func (a *app) config() (*config.Config, error) {
	cfg, err := a.loadConfig(a.configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "leadctl",
		Short:         "Operate the lead submission pipeline",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.SetOut(a.out)
	root.SetErr(a.out)
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "path to leads.yaml (default ./leads.yaml if present)")

	submissionsCmd := &cobra.Command{
		Use:   "submissions",
		Short: "Inspect the submission log",
	}
	submissionsCmd.AddCommand(newSubmissionsListCmd(a), newSubmissionsStatsCmd(a))

	root.AddCommand(newSubmitCmd(a), newTokenCmd(a), submissionsCmd)
	return root
}

func newSubmitCmd(a *app) *cobra.Command {
	var (
		form     model.LeadForm
		referrer string
		pageURL  string
		utm      = map[string]*string{}
		noLog    bool
		wait     bool
	)
	for _, k := range []string{"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content"} {
		utm[k] = new(string)
	}

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit one lead through the pipeline",
		Example: `  leadctl submit --first-name Jane --last-name Doe --email jane@acme.com \
    --source newsletter --tag newsletter --consent`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.config()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			var repo repository.SubmissionRepository
			if !noLog {
				repo, err = repository.Open(ctx, cfg.Database.Driver, cfg.Database.URL)
				if err != nil {
					return fmt.Errorf("open submission log: %w", err)
				}
				defer repo.Close()
			}

			svc := service.NewLeadService(newCRMClient(cfg), repo, service.LeadServiceConfig{
				PolicyVersion:  cfg.Consent.PolicyVersion,
				UngatedSources: cfg.Consent.UngatedSources,
			})

			utmValues := url.Values{}
			for k, v := range utm {
				if *v != "" {
					utmValues.Set(k, *v)
				}
			}
			attr := attribution.NewCollector().Collect(attribution.Source{
				Referrer:  referrer,
				PageURL:   pageURL,
				UserAgent: "leadctl",
				Form:      utmValues,
			})

			redirected := make(chan struct{})
			tracked := reporter.NewForm(form.FormID, reporter.Config{
				RedirectPath:  cfg.Redirect.Path,
				RedirectDelay: cfg.Redirect.Delay,
			}, a.scheduler, func(*reporter.Form) { close(redirected) })

			if err := tracked.Begin(form.Values()); err != nil {
				return err
			}
			res, err := svc.Submit(ctx, &form, attr)
			if err != nil {
				rep := tracked.Fail(service.UserMessage(err))
				fmt.Fprintf(a.out, "state: %s\nmessage: %s\n", rep.State, rep.Message)
				var validErr *service.ValidationError
				if errors.As(err, &validErr) {
					printFields(a.out, "invalid", validErr.Fields)
				}
				return err
			}

			rep := tracked.Succeed()
			fmt.Fprintf(a.out, "state: %s\naction: %s\ncontact_id: %s\nsession_id: %s\ntags: %v\n",
				rep.State, res.Action, res.ContactID, res.SessionID, res.Tags)
			fmt.Fprintf(a.out, "redirect: %s in %s\n", rep.RedirectTo, rep.RedirectAfter)
			if !wait {
				tracked.CancelRedirect()
				return nil
			}
			select {
			case <-redirected:
				fmt.Fprintf(a.out, "redirected to %s\n", rep.RedirectTo)
			case <-ctx.Done():
				tracked.CancelRedirect()
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&form.FormID, "form-id", "leadctl", "form instance id")
	f.StringVar(&form.FirstName, "first-name", "", "first name (required)")
	f.StringVar(&form.LastName, "last-name", "", "last name (required)")
	f.StringVar(&form.Email, "email", "", "email address (required)")
	f.StringVar(&form.Phone, "phone", "", "phone number")
	f.StringVar(&form.Company, "company", "", "company name")
	f.StringVar(&form.Message, "message", "", "free-text message")
	f.StringVar(&form.Source, "source", "", "form source, e.g. newsletter")
	f.StringSliceVar(&form.Tags, "tag", nil, "tag to apply (repeatable or comma-separated)")
	f.StringToStringVar(&form.CustomFields, "field", nil, "custom field key=value")
	f.BoolVar(&form.Consent, "consent", false, "the lead consented to marketing email")
	f.StringVar(&form.PolicyVersion, "policy-version", "", "consent policy version (default from config)")
	f.StringVar(&referrer, "referrer", "", "referrer URL to record")
	f.StringVar(&pageURL, "page-url", "", "page URL to record; its utm_* query is used")
	for k, v := range utm {
		f.StringVar(v, k, "", k+" to record")
	}
	f.BoolVar(&noLog, "no-log", false, "do not write the submission log")
	f.BoolVar(&wait, "wait", false, "wait for the redirect delay before exiting")
	return cmd
}

func newCRMClient(cfg *config.Config) *crm.RealClient {
	return crm.NewClient(crm.Config{
		BaseURL:          cfg.CRM.BaseURL,
		APIKey:           cfg.CRM.APIKey,
		LocationID:       cfg.CRM.LocationID,
		Timeout:          cfg.CRM.Timeout,
		ConflictStatuses: cfg.CRM.ConflictStatuses,
	})
}

func printFields(w io.Writer, label string, fields map[string]string) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "%s: %s (%s)\n", label, k, fields[k])
	}
}

func newTokenCmd(a *app) *cobra.Command {
	var (
		operator string
		ttl      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an operator token for the admin API",
		Long: `Mint an operator token for the admin API.

Send it as "Authorization: Bearer <token>" or as the leads_session cookie.
The operator must also be listed in ADMIN_OPERATORS.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if operator == "" {
				return errors.New("--operator is required")
			}
			if ttl <= 0 {
				return errors.New("--ttl must be positive")
			}
			cfg, err := a.config()
			if err != nil {
				return err
			}
			secret := auth.SessionSecretBytes(cfg.Auth.SessionSecret)
			fmt.Fprintln(a.out, auth.CreateSessionToken(operator, a.now().Add(ttl), secret))
			return nil
		},
	}
	cmd.Flags().StringVar(&operator, "operator", "", "operator id, e.g. an email address")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func openLog(ctx context.Context, a *app) (repository.SubmissionRepository, error) {
	cfg, err := a.config()
	if err != nil {
		return nil, err
	}
	return repository.Open(ctx, cfg.Database.Driver, cfg.Database.URL)
}

func newSubmissionsListCmd(a *app) *cobra.Command {
	var (
		opts   model.SubmissionListOptions
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent submissions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			repo, err := openLog(cmd.Context(), a)
			if err != nil {
				return err
			}
			defer repo.Close()

			records, err := repo.List(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(a.out)
				enc.SetIndent("", "  ")
				return enc.Encode(records)
			}
			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CREATED\tOUTCOME\tACTION\tSOURCE\tCONTACT\tERROR")
			for _, r := range records {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					r.CreatedAt.Format(time.RFC3339), r.Outcome, r.Action, r.Source, r.ContactID, r.ErrorKind)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&opts.Outcome, "outcome", "", "filter by outcome (success, consent_denied, invalid, configuration_error, failed)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum rows")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "rows to skip")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newSubmissionsStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show submission counts per outcome",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			repo, err := openLog(cmd.Context(), a)
			if err != nil {
				return err
			}
			defer repo.Close()

			stats, err := repo.Stats(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "total: %d\ncreated: %d\nupdated: %d\n", stats.Total, stats.Created, stats.Updated)
			outcomes := make([]string, 0, len(stats.ByOutcome))
			for o := range stats.ByOutcome {
				outcomes = append(outcomes, string(o))
			}
			sort.Strings(outcomes)
			for _, o := range outcomes {
				fmt.Fprintf(a.out, "%s: %d\n", o, stats.ByOutcome[model.SubmissionOutcome(o)])
			}
			return nil
		},
	}
}
