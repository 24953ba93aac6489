package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dj-oyu/proctor-client/internal/api"
	"github.com/dj-oyu/proctor-client/internal/capture"
	"github.com/dj-oyu/proctor-client/internal/journal"
	"github.com/dj-oyu/proctor-client/internal/logger"
	"github.com/dj-oyu/proctor-client/internal/metrics"
	"github.com/dj-oyu/proctor-client/internal/monitor"
	"github.com/dj-oyu/proctor-client/internal/nav"
	"github.com/dj-oyu/proctor-client/internal/overlay"
	"github.com/dj-oyu/proctor-client/internal/recorder"
	"github.com/dj-oyu/proctor-client/internal/scheduler"
	"github.com/dj-oyu/proctor-client/internal/views"
)

const shutdownTimeout = 5 * time.Second

func newTestsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tests",
		Short: "List your tests",
		RunE: func(cmd *cobra.Command, args []string) error {
			dash := views.NewDashboard(a.client, a.guard, a.router)
			if err := dash.Mount(cmd.Context()); err != nil {
				return signInError(noticeError(dash.Notice(), err))
			}
			printTests(cmd, dash.Tests())
			return nil
		},
	}
}

func printTests(cmd *cobra.Command, tests []api.TestRecord) {
	if len(tests) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No tests yet.")
		return
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tENDED\tSTATUS\tSUSPICIOUS")
	for _, t := range tests {
		ended := "-"
		if t.EndTime != nil && !t.EndTime.IsZero() {
			ended = t.EndTime.Local().Format(time.DateTime)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\n",
			t.ID, t.StartTime.Local().Format(time.DateTime), ended, t.Status, t.SuspiciousActivities)
	}
	_ = tw.Flush()
}

func newStartCmd(a *app) *cobra.Command {
	var resume int64
	var duration time.Duration

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a test and monitor it until it ends",
		Long: `Starts a new test (or re-enters an existing one with --resume), then
captures a frame every capture interval and submits it for analysis. The test
ends on Ctrl-C, when --duration elapses, or when the server rejects the token.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("duration") {
				duration = a.cfg.Session.Duration
			}
			return a.runTest(cmd, resume, duration)
		},
	}

	cmd.Flags().Int64Var(&resume, "resume", 0, "monitor an existing test instead of starting one")
	cmd.Flags().DurationVar(&duration, "duration", 0, "end the test after this long (0 runs until interrupted)")
	return cmd
}

func (a *app) runTest(cmd *cobra.Command, testID int64, duration time.Duration) error {
	ctx := cmd.Context()

	policy, err := scheduler.ParsePolicy(a.cfg.Capture.Policy)
	if err != nil {
		return err
	}

	if testID == 0 {
		dash := views.NewDashboard(a.client, a.guard, a.router)
		if err := dash.Mount(ctx); err != nil && isAuthFailure(err) {
			return signInError(err)
		}
		testID, err = dash.StartTest(ctx)
		if err != nil {
			return signInError(noticeError(dash.Notice(), err))
		}
	} else {
		a.router.Navigate(nav.Route{View: nav.ViewTestRoom, TestID: testID})
	}

	m := metrics.New()
	device := capture.NewDevice(a.frameSource())
	canvas := overlay.NewCanvas()

	deps := views.TestRoomDeps{
		Client:  a.client,
		Guard:   a.guard,
		Nav:     a.router,
		Camera:  device,
		Surface: canvas,
		Metrics: m,
	}

	var jr *journal.Journal
	if a.cfg.Journal.Path != "" {
		jr, err = journal.Open(a.cfg.Journal.Path)
		if err != nil {
			return err
		}
		defer jr.Close()
		deps.Journal = jr
	}

	var evidence *recorder.Recorder
	if a.cfg.Evidence.Dir != "" {
		evidence = recorder.NewRecorder(a.cfg.Evidence.Dir, canvas)
		defer evidence.Close()
		deps.Evidence = evidence
	}

	if a.cfg.Monitor.Addr != "" {
		mon := monitor.NewMonitor()
		deps.Observer = mon

		opts := monitor.Options{Frames: device, Canvas: canvas, Metrics: m}
		if jr != nil {
			opts.Journal = jr
		}
		if evidence != nil {
			opts.Evidence = evidence
		}
		stop := a.serveMonitor(mon, opts)
		defer stop()
	}

	room := views.NewTestRoom(views.TestRoomConfig{
		TestID:       testID,
		Interval:     a.cfg.Capture.Interval,
		Policy:       policy,
		AnalysisSize: overlay.Size{W: a.cfg.Capture.AnalysisWidth, H: a.cfg.Capture.AnalysisHeight},
	}, deps)

	if err := room.Mount(ctx); err != nil {
		return signInError(err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Monitoring test %d. Press Ctrl-C to end it.\n", testID)

	runErr := room.Run(ctx, duration)

	snap := room.Snapshot()
	count := 0
	if snap.Session != nil {
		count = snap.Session.SuspiciousCount
	}
	if !a.guard.Authenticated() {
		return signInError(api.ErrUnauthorized)
	}
	if runErr != nil {
		return noticeError(room.Notice(), runErr)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Test %d ended with %d suspicious activities.\n", testID, count)
	return nil
}

func (a *app) frameSource() capture.Source {
	if a.cfg.Capture.Source == "snapshot" {
		return capture.NewSnapshotSource(a.cfg.Capture.SnapshotURL, &http.Client{Timeout: a.cfg.Server.Timeout})
	}
	return capture.NewDirSource(a.cfg.Capture.Dir)
}

// serveMonitor starts the status server and returns its shutdown func.
func (a *app) serveMonitor(mon *monitor.Monitor, opts monitor.Options) func() {
	cfg := monitor.DefaultConfig()
	cfg.Addr = a.cfg.Monitor.Addr
	if a.cfg.Monitor.StatusInterval > 0 {
		cfg.StatusInterval = a.cfg.Monitor.StatusInterval
	}

	server := monitor.NewServer(cfg, mon, opts)
	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: server.Handler(),
	}

	go func() {
		logger.Info("Main", "Status monitor listening on %s", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Main", "Status monitor error: %v", err)
		}
	}()

	return func() {
		server.Close()
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			logger.Warn("Main", "Status monitor shutdown: %v", err)
		}
	}
}

func newEndCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "end <test-id>",
		Short: "End a test that is still in progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid test id %q", args[0])
			}
			if err := a.guard.Enter(nav.ViewTestRoom); err != nil {
				return signInError(err)
			}
			if err := a.client.EndTest(cmd.Context(), id); err != nil {
				if a.guard.HandleError(err) {
					return signInError(err)
				}
				return fmt.Errorf("%s: %w", views.NoticeEndTest, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Test %d ended.\n", id)
			return nil
		},
	}
}
