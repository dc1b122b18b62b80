// Package telemetry provides observability instrumentation for the
// renderstate lifecycle engine.
//
// The telemetry package integrates structured logging (zerolog), distributed
// tracing (OpenTelemetry), metrics (Prometheus), and event publishing into a
// unified system for monitoring and debugging lifecycle reconciliation.
//
// # Architecture
//
// The telemetry system is built on four pillars:
//
//  1. Structured Logging - Context-aware logging with zerolog
//  2. Distributed Tracing - OpenTelemetry traces with multiple exporters
//  3. Metrics Collection - Prometheus metrics for operational insights
//  4. Event Publishing - Async event system for lifecycle notifications
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceName = "renderstate"
//	cfg.ServiceVersion = "1.0.0"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	if err := tel.StartMetricsServer(); err != nil {
//	    log.Fatal(err)
//	}
//
// # Engine integration
//
// The engine exposes FrameObserver for per-frame instrumentation. Metrics,
// FrameLogger, and EventBridge all implement it, so wiring is one call each:
//
//	driver.AddObserver(tel.Metrics)
//	driver.AddObserver(telemetry.NewFrameLogger(tel.Logger))
//	driver.AddObserver(telemetry.NewEventBridge(tel.Events))
//
// Component loggers carry node and frame context:
//
//	logger := tel.Logger.NewComponentLogger("reconciler")
//	logger = logger.WithNodeID("node-123").WithFrame(42)
//	logger.Info("resource creation issued")
//	logger.WithError(err).Error("creation failed")
package telemetry
