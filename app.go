package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/kwv/trajalign/traj"
)

const defaultHTTPPort = 8080

// App encapsulates the application state and dependencies
type App struct {
	Config     *traj.Config
	Store      *traj.ResultStore
	MQTTClient *traj.MQTTClient
	Publisher  *traj.Publisher

	// CLI options
	ConfigFile    string
	First         string
	Second        string
	Format        string
	TieBreak      string
	Verbose       bool
	HTTPPort      int
	Offset        *float64
	MaxDifference *float64
	Start         *int
	End           *int
}

// NewApp creates a new App instance
func NewApp() *App {
	return &App{
		Store: traj.NewResultStore(),
	}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.ConfigFile = opts.ConfigFile
	a.First = opts.First
	a.Second = opts.Second
	a.Format = opts.Format
	a.TieBreak = opts.TieBreak
	a.Verbose = opts.Verbose
	a.HTTPPort = opts.HTTPPort
	a.Offset = opts.Offset
	a.MaxDifference = opts.MaxDifference
	a.Start = opts.Start
	a.End = opts.End
}

// RunAssociate matches --first against --second and prints one line per
// match, "stampA stampB", or "stampA dataA... stampB dataB..." with --verbose
func (a *App) RunAssociate(out io.Writer) error {
	offset := 0.0
	if a.Offset != nil {
		offset = *a.Offset
	}
	maxDifference := traj.DefaultMaxDifference
	if a.MaxDifference != nil {
		maxDifference = *a.MaxDifference
	}
	tieBreak, err := traj.ParseTieBreak(a.TieBreak)
	if err != nil {
		return err
	}
	opts := traj.AssociateOptions{TieBreak: tieBreak}
	ctx := context.Background()

	switch cmp.Or(a.Format, traj.FormatList) {
	case traj.FormatList:
		first, err := traj.LoadFileList(ctx, a.First, a.Start, a.End)
		if err != nil {
			return err
		}
		second, err := traj.LoadFileList(ctx, a.Second, a.Start, a.End)
		if err != nil {
			return err
		}
		matches, err := traj.AssociateWith(first, second, offset, maxDifference, opts)
		if err != nil {
			return err
		}
		for _, m := range matches {
			if a.Verbose {
				fmt.Fprintf(out, "%s %s %s %s\n",
					m.First, strings.Join(first[m.First], " "),
					m.Second, strings.Join(second[m.Second], " "))
			} else {
				fmt.Fprintf(out, "%s %s\n", m.First, m.Second)
			}
		}

	case traj.FormatPose:
		first, err := traj.LoadTrajectory(ctx, a.First)
		if err != nil {
			return err
		}
		second, err := traj.LoadTrajectory(ctx, a.Second)
		if err != nil {
			return err
		}
		matches, err := traj.AssociateWith(first.Poses, second.Poses, offset, maxDifference, opts)
		if err != nil {
			return err
		}
		for _, m := range matches {
			if a.Verbose {
				fmt.Fprintf(out, "%s %s %s %s\n",
					m.First, formatFields(first.Poses[m.First]),
					m.Second, formatFields(second.Poses[m.Second]))
			} else {
				fmt.Fprintf(out, "%s %s\n", m.First, m.Second)
			}
		}

	default:
		return fmt.Errorf("unknown format %q (want %q or %q)", a.Format, traj.FormatList, traj.FormatPose)
	}
	return nil
}

func formatFields(rec traj.PoseRecord) string {
	fields := rec.Fields()
	parts := make([]string, len(fields))
	for i, v := range fields {
		parts[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return strings.Join(parts, " ")
}

// RunEvaluate evaluates every configured pair and prints a summary per pair
func (a *App) RunEvaluate(out io.Writer) error {
	if err := a.loadConfig(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	results, err := traj.EvaluateAll(ctx, a.Config.Pairs)
	if err != nil {
		return err
	}
	for _, ev := range results {
		a.Store.Put(ev)
		printSummary(out, ev)
	}
	return nil
}

func printSummary(out io.Writer, ev *traj.Evaluation) {
	s := ev.Summary
	fmt.Fprintf(out, "=== %s ===\n", ev.Pair)
	fmt.Fprintf(out, "First:  %s (%d entries", ev.First, ev.FirstCount)
	if len(ev.FirstSkipped) > 0 {
		fmt.Fprintf(out, ", %d skipped", len(ev.FirstSkipped))
	}
	fmt.Fprintln(out, ")")
	fmt.Fprintf(out, "Second: %s (%d entries", ev.Second, ev.SecondCount)
	if len(ev.SecondSkipped) > 0 {
		fmt.Fprintf(out, ", %d skipped", len(ev.SecondSkipped))
	}
	fmt.Fprintln(out, ")")
	fmt.Fprintf(out, "Offset: %g, max difference: %g, tie-break: %s\n", ev.Offset, ev.MaxDifference, ev.TieBreak)
	fmt.Fprintf(out, "Matched: %d/%d (%.1f%%), unmatched second: %d\n",
		s.Matched, ev.FirstCount, s.MatchedFraction*100, s.UnmatchedSecond)
	if s.Matched > 0 {
		fmt.Fprintf(out, "Time gap: mean %.6fs, max %.6fs\n", s.MeanGap, s.MaxGap)
		fmt.Fprintf(out, "Span: %.6f - %.6f\n", s.StartStamp, s.EndStamp)
	}
	fmt.Fprintln(out)
}

// loadConfig reads the config file and applies CLI overrides to every pair
func (a *App) loadConfig() error {
	config, err := traj.LoadConfig(a.ConfigFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w (looked at %s)", err, a.ConfigFile)
	}

	for i := range config.Pairs {
		pc := &config.Pairs[i]
		if a.Offset != nil {
			pc.Offset = *a.Offset
		}
		if a.MaxDifference != nil {
			v := *a.MaxDifference
			pc.MaxDifference = &v
		}
		if a.TieBreak != "" {
			pc.TieBreak = a.TieBreak
		}
	}
	if a.HTTPPort != 0 {
		config.HTTP.Port = a.HTTPPort
	}
	if err := config.Validate(); err != nil {
		return err
	}

	a.Config = config
	log.Printf("Loaded config from %s (%d pairs)", a.ConfigFile, len(config.Pairs))
	return nil
}

// evaluatePair evaluates one configured pair, stores the result and
// publishes it when MQTT is connected
func (a *App) evaluatePair(ctx context.Context, name string) (*traj.Evaluation, error) {
	if a.Config == nil {
		return nil, fmt.Errorf("%w %q", traj.ErrUnknownPair, name)
	}
	pc := a.Config.GetPair(name)
	if pc == nil {
		return nil, fmt.Errorf("%w %q", traj.ErrUnknownPair, name)
	}

	ev, err := traj.EvaluateContext(ctx, *pc)
	if err != nil {
		return nil, err
	}
	a.Store.Put(ev)
	log.Printf("Evaluated %s: %d/%d matched (run %s)", name, ev.Summary.Matched, ev.FirstCount, ev.RunID)

	if a.Publisher != nil {
		if err := a.Publisher.PublishEvaluation(ev); err != nil && !errors.Is(err, traj.ErrNotConnected) {
			log.Printf("Error publishing %s: %v", name, err)
		}
	}
	return ev, nil
}

// startMQTT attaches the client and publisher, then connects. Requests queued
// by the broker can be handled as soon as the connection is up, so both fields
// are set before it starts.
func (a *App) startMQTT(c *traj.MQTTClient) {
	a.MQTTClient = c
	a.Publisher = traj.NewPublisher(c.GetClient(), c.Prefix())
	log.Printf("MQTT publisher initialized, requests on %s", c.EvaluateTopic())
	c.Connect()
}

// RunService evaluates every pair, then serves results over HTTP and MQTT
// until SIGINT or SIGTERM
func (a *App) RunService() error {
	if err := a.loadConfig(); err != nil {
		return err
	}

	addr := fmt.Sprintf("0.0.0.0:%d", cmp.Or(a.Config.HTTP.Port, defaultHTTPPort))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("[HTTP] listening on %s: %w", addr, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.serve(ctx, ln)
}

// serve runs the service on ln until ctx is done. The config must be loaded.
func (a *App) serve(ctx context.Context, ln net.Listener) error {
	log.Println("Starting trajalign service...")

	mqttClient, err := traj.InitMQTT(a.Config, func(pair string) {
		if _, err := a.evaluatePair(ctx, pair); err != nil {
			log.Printf("Evaluation of %s failed: %v", pair, err)
		}
	})
	if err != nil {
		_ = ln.Close()
		return fmt.Errorf("failed to initialize MQTT: %w", err)
	}
	if mqttClient != nil {
		a.startMQTT(mqttClient)
	}

	for _, name := range a.Config.PairNames() {
		if _, err := a.evaluatePair(ctx, name); err != nil {
			log.Printf("Evaluation of %s failed: %v", name, err)
		}
	}

	if a.MQTTClient != nil {
		go a.publishWhenConnected(ctx, time.Second)
	}

	srv := &http.Server{
		Handler:           newHTTPServer(a.Store, a.Config, a.evaluatePair),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Printf("[HTTP] Starting server on %s", ln.Addr())
		errCh <- srv.Serve(ln)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("[HTTP] server error: %w", err)
		}
	}

	log.Println("Shutting down service...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[HTTP] Shutdown error: %v", err)
	}
	if a.MQTTClient != nil {
		a.MQTTClient.Disconnect()
	}
	log.Println("Service stopped")
	return serveErr
}

// publishWhenConnected publishes every stored result once the broker
// connection is up. Results evaluated before that were not delivered.
func (a *App) publishWhenConnected(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if !a.MQTTClient.IsConnected() {
			continue
		}
		for _, name := range a.Store.Names() {
			ev, _ := a.Store.Get(name)
			if err := a.Publisher.PublishEvaluation(ev); err != nil {
				log.Printf("Error publishing %s: %v", name, err)
			}
		}
		return
	}
}
