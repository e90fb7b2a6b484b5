// Package telemetry provides OpenTelemetry instrumentation for rolloutd.
//
// # Usage
//
//	cfg := telemetry.NewDefaultConfig()
//	tel, err := telemetry.New(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(ctx)
//
// Components do not hold a *Telemetry. They use otel.Tracer and otel.Meter
// with their own instrumentation name, and New installs the providers
// globally.
//
// # Configuration
//
//	telemetry:
//	  enabled: true
//	  endpoint: "localhost:4317"
//	  protocol: grpc          # or http/protobuf
//	  service_name: "rolloutd"
//	  sampling:
//	    rate: 1.0
//	  metrics:
//	    enabled: true
//	    export_interval: 15s
//
// # Testing
//
//	tt := telemetry.NewTestTelemetry()
//	tt.Install(t)
//	// exercise code that creates spans
//	tt.AssertSpanExists(t, "canary.StartCanaryDeploy")
package telemetry
