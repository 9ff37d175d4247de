// Package telemetry provides OpenTelemetry and Prometheus plumbing for test
// engines.
//
// An engine created with a collector URL exports spans and OTel metrics over
// OTLP; without one the providers are no-ops. Engine counters are Prometheus
// collectors and can be scraped through MetricsServer when a bind address is
// configured:
//
//	cfg, _ := telemetry.ConfigFromCollectorURL("http://localhost:4317")
//	tel, err := telemetry.New(ctx, cfg, logger)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(ctx)
//
//	srv := telemetry.NewMetricsServer("127.0.0.1:9464", prometheus.DefaultGatherer, logger)
//	go srv.Start(nil)
//
// Tests use NewTestTelemetry, which records spans and metrics in memory.
package telemetry
