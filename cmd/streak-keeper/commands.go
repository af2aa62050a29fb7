package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/hochfrequenz/streak-keeper/internal/backfill"
	"github.com/hochfrequenz/streak-keeper/internal/commitstore"
	"github.com/hochfrequenz/streak-keeper/internal/config"
	"github.com/hochfrequenz/streak-keeper/internal/domain"
	"github.com/hochfrequenz/streak-keeper/internal/planner"
	"github.com/hochfrequenz/streak-keeper/web/api"
)

// scheduleFlags are shared by schedule and plan
type scheduleFlags struct {
	url         string
	from        string
	to          string
	frequency   string
	days        []string
	windowStart string
	windowEnd   string
	times       []string
	messages    []string
	files       []string
}

func (f *scheduleFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.url, "url", "", "clone URL (default https://github.com/OWNER/NAME.git)")
	fs.StringVar(&f.from, "from", "", "first day of a range (YYYY-MM-DD)")
	fs.StringVar(&f.to, "to", "", "last day of a range (YYYY-MM-DD)")
	fs.StringVar(&f.frequency, "frequency", "", "daily, weekdays, weekends or custom")
	fs.StringSliceVar(&f.days, "days", nil, "weekdays for --frequency custom (mon,wed,fri)")
	fs.StringVar(&f.windowStart, "window-start", "", "active window start (HH:MM)")
	fs.StringVar(&f.windowEnd, "window-end", "", "active window end (HH:MM)")
	fs.StringSliceVar(&f.times, "times", nil, "fixed times of day (HH:MM), overrides the window")
	fs.StringArrayVarP(&f.messages, "message", "m", nil, "commit message template, repeatable ({date}, {random})")
	fs.StringSliceVar(&f.files, "file", nil, "files to append to (one is picked per commit)")
}

// request builds a service request from REPO [DATE...]
func (f *scheduleFlags) request(args []string) (backfill.ScheduleRequest, error) {
	req := backfill.ScheduleRequest{
		Repository:       args[0],
		RepositoryURL:    f.url,
		Frequency:        f.frequency,
		WindowStart:      f.windowStart,
		WindowEnd:        f.windowEnd,
		Times:            f.times,
		MessageTemplates: f.messages,
		Files:            f.files,
	}
	for _, raw := range args[1:] {
		d, err := parseDay(raw)
		if err != nil {
			return req, err
		}
		req.Days = append(req.Days, d)
	}
	if f.from != "" || f.to != "" {
		from, err := parseDay(f.from)
		if err != nil {
			return req, fmt.Errorf("--from: %w", err)
		}
		to, err := parseDay(f.to)
		if err != nil {
			return req, fmt.Errorf("--to: %w", err)
		}
		req.From, req.To = from, to
	}
	for _, raw := range f.days {
		wd, err := planner.ParseWeekday(raw)
		if err != nil {
			return req, err
		}
		req.CustomDays = append(req.CustomDays, wd)
	}
	if len(req.Days) == 0 && req.From.IsZero() {
		return req, errors.New("give one or more dates or a --from/--to range")
	}
	return req, nil
}

// parseDay reads a YYYY-MM-DD date in the local time zone
func parseDay(raw string) (time.Time, error) {
	d, err := time.ParseInLocation(time.DateOnly, raw, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", raw)
	}
	return d, nil
}

var (
	schedFlags scheduleFlags
	planFlags  scheduleFlags

	listLimit  int
	listStatus string
	listRepo   string
	listBatch  string

	scheduleOutput string
	listOutput     string
	showOutput     string

	cancelBatch bool

	servePort int
	serveHost string

	configForce bool
)

func init() {
	// schedule command
	scheduleCmd := &cobra.Command{
		Use:   "schedule OWNER/NAME [DATE...]",
		Short: "Plan and store backfill commits",
		Example: `  streak-keeper schedule octocat/notes 2026-03-02 2026-03-04
  streak-keeper schedule octocat/notes --from 2026-03-01 --to 2026-03-31 --frequency weekdays`,
		Args: cobra.MinimumNArgs(1),
		RunE: runSchedule,
	}
	schedFlags.register(scheduleCmd.Flags())
	scheduleCmd.Flags().StringVarP(&scheduleOutput, "output", "o", "table", "output format: table, json or yaml")
	rootCmd.AddCommand(scheduleCmd)

	// plan command
	planCmd := &cobra.Command{
		Use:   "plan OWNER/NAME [DATE...]",
		Short: "Preview the commits schedule would create",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runPlan,
	}
	planFlags.register(planCmd.Flags())
	rootCmd.AddCommand(planCmd)

	// list command
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List commit history, most recent first",
		RunE:  runList,
	}
	listCmd.Flags().IntVarP(&listLimit, "limit", "n", backfill.DefaultRecentLimit, "number of records to show")
	listCmd.Flags().StringVar(&listStatus, "status", "", "filter by status (pending, completed, failed)")
	listCmd.Flags().StringVar(&listRepo, "repo", "", "filter by repository")
	listCmd.Flags().StringVar(&listBatch, "batch", "", "filter by batch ID")
	listCmd.Flags().StringVarP(&listOutput, "output", "o", "table", "output format: table, json or yaml")
	rootCmd.AddCommand(listCmd)

	// show command
	showCmd := &cobra.Command{
		Use:   "show ID",
		Short: "Show one commit record",
		Args:  cobra.ExactArgs(1),
		RunE:  runShow,
	}
	showCmd.Flags().StringVarP(&showOutput, "output", "o", "yaml", "output format: table, json or yaml")
	rootCmd.AddCommand(showCmd)

	// cancel command
	cancelCmd := &cobra.Command{
		Use:   "cancel ID...",
		Short: "Cancel pending commits",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runCancel,
	}
	cancelCmd.Flags().BoolVar(&cancelBatch, "batch", false, "arguments are batch IDs")
	rootCmd.AddCommand(cancelCmd)

	// retry command
	retryCmd := &cobra.Command{
		Use:   "retry ID...",
		Short: "Move failed commits back to pending",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runRetry,
	}
	rootCmd.AddCommand(retryCmd)

	// run command
	runCmd := &cobra.Command{
		Use:   "run [ID...]",
		Short: "Execute due commits now, plus the given ones regardless of schedule",
		RunE:  runRun,
	}
	rootCmd.AddCommand(runCmd)

	// status command
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show counts per status and recent failures",
		RunE:  runStatus,
	}
	rootCmd.AddCommand(statusCmd)

	// serve command
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the dispatcher and the HTTP API",
		RunE:  runServe,
	}
	serveCmd.Flags().IntVar(&servePort, "port", 0, "port to listen on (overrides config)")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "host to bind (overrides config)")
	rootCmd.AddCommand(serveCmd)

	// config command
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	configInitCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file with defaults",
		RunE:  runConfigInit,
	}
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "overwrite an existing file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the configuration file in use",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), config.ResolvePath(configPath))
			return nil
		},
	})
	rootCmd.AddCommand(configCmd)
}

func runSchedule(cmd *cobra.Command, args []string) error {
	req, err := schedFlags.request(args)
	if err != nil {
		return err
	}
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.svc.Schedule(cmd.Context(), req)
	if err != nil {
		return err
	}
	if scheduleOutput == "table" {
		fmt.Fprintf(cmd.OutOrStdout(), "Scheduled %d commits (batch %s)\n\n", len(result.Records), result.BatchID)
	}
	return renderCommits(cmd.OutOrStdout(), scheduleOutput, result.Records)
}

func runPlan(cmd *cobra.Command, args []string) error {
	req, err := planFlags.request(args)
	if err != nil {
		return err
	}
	svc := backfill.NewService(backfill.Config{Planner: planner.New(nil), Settings: cfg, Logger: log})
	drafts, err := svc.Preview(req)
	if err != nil {
		return err
	}
	return renderDrafts(cmd.OutOrStdout(), drafts)
}

func runList(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	opts := commitstore.ListOptions{Limit: listLimit, Repository: listRepo, BatchID: listBatch}
	if listStatus != "" {
		st, err := domain.ParseCommitStatus(listStatus)
		if err != nil {
			return err
		}
		opts.Status = st
	}

	var recs []*domain.CommitRecord
	if opts.Status == "" && opts.Repository == "" && opts.BatchID == "" {
		recs, err = a.svc.ListRecentCommits(cmd.Context(), listLimit)
	} else {
		recs, err = a.svc.ListCommits(cmd.Context(), opts)
	}
	if err != nil {
		return err
	}
	return renderCommits(cmd.OutOrStdout(), listOutput, recs)
}

func runShow(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	rec, err := a.svc.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if showOutput == "table" {
		return renderCommits(cmd.OutOrStdout(), showOutput, []*domain.CommitRecord{rec})
	}
	return renderValue(cmd.OutOrStdout(), showOutput, toView(rec))
}

func runCancel(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	var errs []error
	for _, id := range args {
		if cancelBatch {
			n, err := a.svc.CancelBatch(cmd.Context(), id)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cancelled %d commits of batch %s\n", n, id)
			continue
		}
		if err := a.svc.CancelCommit(cmd.Context(), id); err != nil {
			errs = append(errs, err)
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Cancelled %s\n", id)
	}
	return errors.Join(errs...)
}

func runRetry(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	var errs []error
	for _, id := range args {
		rec, err := a.svc.RetryCommit(cmd.Context(), id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Retrying %s (scheduled %s)\n", id, rec.ScheduledAt.Format(time.RFC3339))
	}
	if len(errs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "Records run on the next dispatcher tick, or now with: streak-keeper run "+strings.Join(args, " "))
	}
	return errors.Join(errs...)
}

func runRun(cmd *cobra.Command, args []string) error {
	a, err := runningApp(nil)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	if err := a.dispatcher.Reload(ctx); err != nil {
		return err
	}
	for _, id := range args {
		if err := a.svc.RunNow(ctx, id); err != nil {
			return err
		}
	}

	var (
		mu     sync.Mutex
		failed int
	)
	out := cmd.OutOrStdout()
	unsubscribe := a.svc.Subscribe(func(ev backfill.Event) {
		mu.Lock()
		defer mu.Unlock()
		switch ev.Type {
		case backfill.EventCompleted:
			fmt.Fprintf(out, "✓ %s %s -> %s\n", shortID(ev.Commit.ID), ev.Commit.Repository, shortHash(ev.Commit.HashID))
		case backfill.EventFailed:
			failed++
			fmt.Fprintf(out, "✗ %s %s: %s\n", shortID(ev.Commit.ID), ev.Commit.Repository, ev.Commit.ErrorMessage)
		}
	})
	defer unsubscribe()

	n, err := a.dispatcher.RunOnce(ctx)
	if err != nil {
		return err
	}
	mu.Lock()
	defer mu.Unlock()
	fmt.Fprintf(out, "Executed %d commits, %d failed\n", n, failed)
	if failed > 0 {
		return fmt.Errorf("%d commits failed", failed)
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	sum, err := a.svc.Summary(cmd.Context())
	if err != nil {
		return err
	}
	return renderSummary(cmd.OutOrStdout(), sum)
}

func runServe(cmd *cobra.Command, args []string) error {
	path := config.ResolvePath(configPath)

	var watcher *config.Watcher
	if _, err := os.Stat(path); err == nil {
		watcher, err = config.NewWatcher(path, log)
		if err != nil {
			return err
		}
	} else {
		log.WithField("path", path).Info("No config file, using defaults without reload")
	}

	var settings backfill.SettingsProvider = cfg
	if watcher != nil {
		settings = watcher
	}
	a, err := runningApp(settings)
	if err != nil {
		return err
	}
	defer a.Close()

	host, port := cfg.Web.Host, cfg.Web.Port
	if serveHost != "" {
		host = serveHost
	}
	if servePort != 0 {
		port = servePort
	}
	addr := fmt.Sprintf("%s:%d", host, port)
	server := api.NewServer(a.svc, addr, log)

	g, ctx := errgroup.WithContext(cmd.Context())
	g.Go(func() error { return a.dispatcher.Run(ctx) })
	g.Go(func() error { return server.Start(ctx) })
	if watcher != nil {
		watcher.OnChange(func(c *config.Config) {
			log.WithField("window", c.Schedule.ActiveStart+"-"+c.Schedule.ActiveEnd).Info("Planning defaults reloaded")
		})
		g.Go(func() error { return watcher.Run(ctx) })
	}

	log.WithFields(logrus.Fields{
		"addr":     addr,
		"database": cfg.General.DatabaseDriver,
	}).Info("streak-keeper serving")
	return g.Wait()
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	path = config.ExpandPath(path)
	if _, err := os.Stat(path); err == nil && !configForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := config.Default().Save(path); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	return nil
}
