package commands

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/loomview/renderstate/pkg/config"
	"github.com/loomview/renderstate/pkg/engine"
	"github.com/loomview/renderstate/pkg/stores"
	"github.com/loomview/renderstate/pkg/telemetry"
)

func newSimulateCommand() *cobra.Command {
	var (
		frames        int
		nodes         int
		interval      time.Duration
		createLatency time.Duration
		failureRate   float64
		pressureAt    int
		pressureLevel string
		seed          int64
		serveMetrics  bool
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a scripted reconciliation session",
		Long: `Drive the engine through a scripted frame loop against a simulated
resource backend.

Each frame the simulator feeds the engine a small burst of tier intents
(selections, viewport changes, closes), optionally injects a memory
pressure signal, and runs one reconcile pass. The backend completes
creates and destroys asynchronously with configurable latency and
failure rate, so backoff, terminal failures and pressure trimming all
exercise the same paths a host browser would.`,
		Example: `  # Default session: 120 frames, 12 nodes
  renderstate simulate

  # Longer session with a flaky backend
  renderstate simulate --frames 600 --failure-rate 0.25

  # Inject critical pressure at frame 50 and serve metrics
  renderstate simulate --pressure-at 50 --pressure-level critical --serve-metrics`,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			telCfg := settings.TelemetryConfig()
			if verbose {
				telCfg.Logging.Level = "debug"
			}
			tel, err := telemetry.NewTelemetry(telCfg)
			if err != nil {
				return fmt.Errorf("failed to initialize telemetry: %w", err)
			}
			ctx := cmd.Context()
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := tel.Shutdown(shutdownCtx); err != nil {
					log.Warn().Err(err).Msg("Telemetry shutdown failed")
				}
			}()

			if serveMetrics {
				if err := tel.StartMetricsServer(); err != nil {
					return fmt.Errorf("failed to start metrics server: %w", err)
				}
			}

			backend := newSimBackend(createLatency, failureRate, seed)
			driver := engine.NewFrameDriver(settings.EngineConfig(), backend)
			backend.bind(driver.Outcomes())

			driver.AddObserver(tel.Metrics)
			driver.AddObserver(telemetry.NewFrameLogger(tel.Logger))
			driver.AddObserver(telemetry.NewEventBridge(tel.Events))
			driver.SetTracer(telemetry.NewDriverTracer(tel.Tracer))
			followUps := telemetry.NewFollowUpPublisher(tel.Events)

			// Carry the telemetry instance in the context so each frame
			// can open a frame span for the phase spans to nest under.
			ctx = tel.WithContext(ctx)

			var journal *stores.TransitionJournal
			if settings.Journal.Enabled {
				journal, err = stores.NewTransitionJournal(stores.JournalConfig{
					Path:         settings.Journal.Path,
					RetainFrames: settings.Journal.RetainFrames,
				})
				if err != nil {
					return fmt.Errorf("failed to create transition journal: %w", err)
				}
				if err := journal.Init(ctx); err != nil {
					return fmt.Errorf("failed to open transition journal: %w", err)
				}
				defer journal.Close()
				if err := journal.Migrate(ctx); err != nil {
					return fmt.Errorf("failed to migrate transition journal: %w", err)
				}
				driver.AddTransitionSink(journal)
			}

			sim := &simulator{
				driver:  driver,
				rng:     rand.New(rand.NewSource(seed)),
				nodes:   nodes,
				logger:  tel.Logger.NewComponentLogger("simulator"),
				publish: followUps,
			}

			log.Info().
				Int("frames", frames).
				Int("nodes", nodes).
				Dur("interval", interval).
				Float64("failure_rate", failureRate).
				Msg("Starting simulation")

			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			for frame := 1; frame <= frames; frame++ {
				select {
				case <-ctx.Done():
					log.Info().Int("frame", frame).Msg("Simulation interrupted")
					return nil
				case <-ticker.C:
				}

				sim.queueIntents(frame)
				if frame == pressureAt {
					sim.queuePressure(pressureLevel)
				}

				if err := sim.runFrame(ctx, uint64(frame)); err != nil {
					return fmt.Errorf("frame %d failed: %w", frame, err)
				}
			}

			sim.printSummary()
			return nil
		},
	}

	cmd.Flags().IntVar(&frames, "frames", 120, "number of frames to run")
	cmd.Flags().IntVar(&nodes, "nodes", 12, "number of content nodes in the scene")
	cmd.Flags().DurationVar(&interval, "interval", 16*time.Millisecond, "frame interval")
	cmd.Flags().DurationVar(&createLatency, "create-latency", 40*time.Millisecond, "simulated backend creation latency")
	cmd.Flags().Float64Var(&failureRate, "failure-rate", 0.0, "fraction of creations that fail")
	cmd.Flags().IntVar(&pressureAt, "pressure-at", 0, "frame at which to inject a pressure signal (0 disables)")
	cmd.Flags().StringVar(&pressureLevel, "pressure-level", "warning", "pressure level to inject (warning, critical)")
	cmd.Flags().Int64Var(&seed, "seed", 1, "random seed for the scripted workload")
	cmd.Flags().BoolVar(&serveMetrics, "serve-metrics", false, "serve Prometheus metrics during the run")

	return cmd
}

// simulator scripts a plausible browsing session: nodes get registered up
// front, then every frame a few of them are selected, scrolled into view or
// closed.
type simulator struct {
	driver  *engine.FrameDriver
	rng     *rand.Rand
	nodes   int
	logger  *telemetry.Logger
	publish *telemetry.FollowUpPublisher

	registered bool
	totals     struct {
		creates   int
		destroys  int
		failures  int
		followUps int
		rejected  int
	}
}

func (s *simulator) nodeID(i int) engine.NodeID {
	return engine.NodeID(fmt.Sprintf("node-%03d", i))
}

func (s *simulator) queueIntents(frame int) {
	intents := s.driver.Intents()

	if !s.registered {
		for i := 0; i < s.nodes; i++ {
			tier := engine.TierCold
			if i < 3 {
				tier = engine.TierActive
			}
			intents.Enqueue(engine.Intent{
				Kind:   engine.IntentRegisterNode,
				NodeID: s.nodeID(i),
				Tier:   tier,
				Cause:  engine.CauseUserSelect,
			})
		}
		s.registered = true
		return
	}

	// A couple of tier changes per frame keeps steady churn without
	// swamping the queue.
	for n := 0; n < 2; n++ {
		node := s.nodeID(s.rng.Intn(s.nodes))
		switch s.rng.Intn(5) {
		case 0:
			intents.Enqueue(engine.Intent{
				Kind:   engine.IntentSetDesiredTier,
				NodeID: node,
				Tier:   engine.TierActive,
				Cause:  engine.CauseUserSelect,
			})
		case 1:
			intents.Enqueue(engine.Intent{
				Kind:   engine.IntentSetDesiredTier,
				NodeID: node,
				Tier:   engine.TierActive,
				Cause:  engine.CauseViewportVisible,
			})
		case 2:
			intents.Enqueue(engine.Intent{
				Kind:   engine.IntentSetDesiredTier,
				NodeID: node,
				Tier:   engine.TierWarm,
				Cause:  engine.CauseSelectedPrewarm,
			})
		case 3:
			intents.Enqueue(engine.Intent{
				Kind:   engine.IntentSetDesiredTier,
				NodeID: node,
				Tier:   engine.TierCold,
				Cause:  engine.CauseExplicitClose,
			})
		case 4:
			intents.Enqueue(engine.Intent{
				Kind:   engine.IntentSetPinned,
				NodeID: node,
				Pinned: s.rng.Intn(2) == 0,
			})
		}
	}

	// Occasionally give a blocked node an explicit retry, the way a user
	// would press "reload" on a failed pane.
	if frame%40 == 0 {
		intents.Enqueue(engine.Intent{
			Kind:   engine.IntentRetryCreate,
			NodeID: s.nodeID(s.rng.Intn(s.nodes)),
		})
	}
}

func (s *simulator) queuePressure(level string) {
	severity := engine.PressureWarning
	if level == "critical" {
		severity = engine.PressureCritical
	}
	s.driver.Intents().Enqueue(engine.Intent{
		Kind:     engine.IntentMemoryPressure,
		Severity: severity,
	})
	s.logger.WithField("level", level).Warn("injecting memory pressure signal")
}

func (s *simulator) runFrame(ctx context.Context, frame uint64) error {
	fctx := telemetry.WithFrameContext(ctx, frame)
	result, err := s.driver.RunFrame(fctx)
	telemetry.EndFrameContext(fctx, err)
	if err != nil {
		return err
	}

	s.totals.creates += result.Report.CreatesIssued
	s.totals.destroys += result.Report.DestroysIssued
	s.totals.failures += result.Report.CreateFailures
	s.totals.followUps += len(result.FollowUps)
	s.totals.rejected += len(engine.RejectedIntents(result.Intents))

	if len(result.FollowUps) > 0 {
		s.publish.PublishFollowUps(result.Report.Frame, result.FollowUps)
	}
	return nil
}

func (s *simulator) printSummary() {
	active, warm, cold := s.driver.Store().Counts()
	fmt.Println("Simulation complete")
	fmt.Printf("  frames run:        %d\n", s.driver.Frame())
	fmt.Printf("  final tiers:       active=%d warm=%d cold=%d\n", active, warm, cold)
	fmt.Printf("  creates issued:    %d\n", s.totals.creates)
	fmt.Printf("  destroys issued:   %d\n", s.totals.destroys)
	fmt.Printf("  create failures:   %d\n", s.totals.failures)
	fmt.Printf("  follow-up intents: %d\n", s.totals.followUps)
	fmt.Printf("  rejected intents:  %d\n", s.totals.rejected)
}

// simBackend completes creates and destroys on goroutines after a fixed
// latency, failing a configurable fraction of creations.
type simBackend struct {
	latency     time.Duration
	failureRate float64
	rng         *rand.Rand
	outcomes    *engine.OutcomeQueue
	nextHandle  int
}

func newSimBackend(latency time.Duration, failureRate float64, seed int64) *simBackend {
	return &simBackend{
		latency:     latency,
		failureRate: failureRate,
		rng:         rand.New(rand.NewSource(seed + 1)),
	}
}

// bind attaches the driver's outcome queue. The driver owns the queue, so
// binding happens after construction.
func (b *simBackend) bind(outcomes *engine.OutcomeQueue) {
	b.outcomes = outcomes
}

func (b *simBackend) CreateResource(_ context.Context, nodeID engine.NodeID) error {
	fail := b.rng.Float64() < b.failureRate
	b.nextHandle++
	handle := engine.Handle(fmt.Sprintf("sim-%06d", b.nextHandle))

	go func() {
		time.Sleep(b.latency)
		outcome := engine.CreationOutcome{
			NodeID:      nodeID,
			CompletedAt: time.Now(),
		}
		if fail {
			outcome.Err = engine.NewCreationError("simulated backend failure", nil).WithNode(nodeID)
		} else {
			outcome.Handle = handle
		}
		b.outcomes.PushCreation(outcome)
	}()
	return nil
}

func (b *simBackend) DestroyResource(_ context.Context, handle engine.Handle) error {
	go func() {
		time.Sleep(b.latency / 2)
		b.outcomes.PushDestroy(engine.DestroyConfirmation{
			Handle:      handle,
			ConfirmedAt: time.Now(),
		})
	}()
	return nil
}
