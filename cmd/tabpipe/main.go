package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tabpipe/internal/config"
	"tabpipe/internal/dataset"
	"tabpipe/internal/metrics"
	"tabpipe/internal/metrics/datadog"
	"tabpipe/internal/metrics/prompush"
	"tabpipe/internal/pipeline"

	// register every sink kind with the factory; the document picks one
	// at run time.
	_ "tabpipe/internal/sink/all"
)

// main loads the pipeline document, lints it, optionally wires a metrics
// backend, and executes the run. The result is printed as JSON on stdout;
// everything else goes to stderr.
func main() {
	var (
		cfgPath        string
		metricsBackend string
		gatewayURL     string
		statsdAddr     string
		timeout        time.Duration
		validate       bool
	)
	flag.StringVar(&cfgPath, "config", "", "pipeline document (JSON) path")
	flag.StringVar(&metricsBackend, "metrics-backend", "", "metrics backend: nop, prompush, datadog (default $TABPIPE_METRICS_BACKEND or nop)")
	flag.StringVar(&gatewayURL, "pushgateway-url", "", "Pushgateway base URL (default $PUSHGATEWAY_URL or http://localhost:9091)")
	flag.StringVar(&statsdAddr, "statsd-addr", "", "DogStatsD address (default $TABPIPE_STATSD_ADDR or 127.0.0.1:8125)")
	flag.DurationVar(&timeout, "timeout", 0, "whole-run deadline (overrides runtime.timeout)")
	flag.BoolVar(&validate, "validate", false, "lint the document and exit")
	verbose := flag.Bool("v", false, "verbose logs")
	flag.Parse()

	if cfgPath == "" {
		fatalf("-config is required")
	}

	p, err := config.Load(cfgPath)
	if err != nil {
		fatalf("%v", err)
	}

	issues := config.ValidatePipeline(p)
	for _, iss := range issues {
		fmt.Fprintf(os.Stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if config.HasErrors(issues) {
		fatalf("configuration is invalid: %s", cfgPath)
	}
	if validate {
		log.Printf("configuration is valid: %s", cfgPath)
		return
	}

	setupMetrics(p, metricsBackend, gatewayURL, statsdAddr, *verbose)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if d := runTimeout(timeout, p.Runtime.Timeout); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	spec, err := buildSpec(ctx, p)
	if err != nil {
		fatalf("%v", err)
	}

	if *verbose {
		log.Printf("pipeline %q: source=%s sink=%s workers=%d chunk_rows=%d",
			p.Name, p.Source.Kind, p.Sink.Kind, p.Runtime.Workers, p.Runtime.ChunkRows)
	}

	res, err := pipeline.Run(ctx, spec)
	flushMetrics()
	if err != nil {
		log.Printf("run failed (%s): %v", dataset.Classify(err), err)
		os.Exit(1)
	}

	if *verbose {
		log.Printf("completed in %s: chunks=%d rows_in=%d rows_out=%d",
			res.Elapsed.Truncate(time.Millisecond), res.Chunks, res.RowsIn, res.RowsOut)
	}
	out, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		fatalf("encode result: %v", err)
	}
	fmt.Println(string(out))
}

// setupMetrics picks the backend: flag, then environment, then nop. Init
// failures log and fall back to nop rather than blocking the run.
func setupMetrics(p config.Pipeline, name, gatewayURL, statsdAddr string, verbose bool) {
	if name == "" {
		name = os.Getenv("TABPIPE_METRICS_BACKEND")
	}
	job := p.Name
	if job == "" {
		job = "tabpipe"
	}

	switch name {
	case "prompush":
		if gatewayURL == "" {
			gatewayURL = os.Getenv("PUSHGATEWAY_URL")
		}
		if gatewayURL == "" {
			gatewayURL = "http://localhost:9091"
		}
		b, err := prompush.NewBackend(job, gatewayURL)
		if err != nil {
			log.Printf("metrics: prompush init: %v; metrics disabled", err)
			return
		}
		log.Printf("metrics: backend=prompush url=%s job=%s", gatewayURL, job)
		metrics.SetBackend(b)

	case "datadog":
		if statsdAddr == "" {
			statsdAddr = os.Getenv("TABPIPE_STATSD_ADDR")
		}
		if statsdAddr == "" {
			statsdAddr = "127.0.0.1:8125"
		}
		b, err := datadog.NewBackend(datadog.Config{
			Addr:       statsdAddr,
			Namespace:  "tabpipe.",
			GlobalTags: []string{"job:" + job},
		})
		if err != nil {
			log.Printf("metrics: datadog init: %v; metrics disabled", err)
			return
		}
		log.Printf("metrics: backend=datadog addr=%s job=%s", statsdAddr, job)
		metrics.SetBackend(b)

	case "", "nop", "none":
		if verbose && name != "" {
			log.Printf("metrics: disabled")
		}

	default:
		log.Printf("metrics: unknown backend %q; metrics disabled", name)
	}
}

// flushMetrics runs after the pipeline whether it succeeded or not, so the
// run counter always reaches the backend.
func flushMetrics() {
	if err := metrics.Flush(); err != nil {
		log.Printf("metrics: flush: %v", err)
	}
}

// runTimeout resolves the run deadline: the flag wins over the document.
func runTimeout(flagTimeout time.Duration, doc string) time.Duration {
	if flagTimeout > 0 {
		return flagTimeout
	}
	if doc == "" {
		return 0
	}
	d, err := time.ParseDuration(doc)
	if err != nil {
		return 0
	}
	return d
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
