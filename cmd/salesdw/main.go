package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"salesdw/internal/config"
	"salesdw/internal/metrics"
	"salesdw/internal/metrics/datadog"
	"salesdw/internal/star"
	"salesdw/internal/storage"

	// register all backends with the storage factory; the config selects
	// which one to use at runtime.
	_ "salesdw/internal/storage/all"
)

// main loads the pipeline config, optionally initializes a metrics backend,
// and runs one warehouse load.
func main() {
	var (
		cfgPath           string
		metricsBackendFlg string
		metricsTagsFlg    string
		validate          bool
	)

	flag.StringVar(&cfgPath, "config", "configs/pipelines/sample.json", "pipeline config JSON path")
	flag.StringVar(&metricsBackendFlg, "metrics-backend", "none", "metrics backend to use (datadog, none)")
	flag.StringVar(&metricsTagsFlg, "metrics-tags", "", "extra metric tags as k:v,k:v (overrides env METRICS_TAGS)")
	flag.BoolVar(&validate, "validate", false, "validate the configuration and exit")
	verbose := flag.Bool("v", false, "enable verbose logs")

	flag.Parse()

	f, err := os.Open(cfgPath)
	if err != nil {
		fatalf("open config: %v", err)
	}
	defer f.Close()

	var p config.Pipeline
	if err := json.NewDecoder(f).Decode(&p); err != nil {
		fatalf("decode config: %v", err)
	}

	issues := config.ValidatePipeline(p)
	hasError := false
	for _, iss := range issues {
		fmt.Fprintf(os.Stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
		if iss.Severity == config.SeverityError {
			hasError = true
		}
	}
	if hasError {
		log.Printf("configuration is invalid: %v", cfgPath)
		os.Exit(1)
	}
	if validate {
		log.Printf("configuration is valid: %v", cfgPath)
		os.Exit(0)
	}

	// Metrics backend: flag, then env, then disabled.
	backendName := metricsBackendFlg
	if backendName == "" {
		backendName = os.Getenv("METRICS_BACKEND")
	}
	switch backendName {
	case "datadog":
		jobName := p.Job
		if jobName == "" {
			jobName = "salesdw_load"
		}
		tagsCSV := metricsTagsFlg
		if tagsCSV == "" {
			tagsCSV = os.Getenv("METRICS_TAGS")
		}

		b, err := datadog.NewBackend(context.Background(), datadog.Options{
			JobName: jobName,
			Tags:    datadog.ParseTagsCSV(tagsCSV),
		})
		if err != nil {
			log.Printf("metrics: failed to init datadog backend: %v; using nop", err)
		} else {
			log.Printf("metrics: backend=%v job_name=%v", backendName, jobName)
			metrics.SetBackend(b)
			defer func() {
				if err := b.Close(); err != nil {
					log.Printf("metrics: datadog close/flush error: %v", err)
				}
			}()
		}

	case "", "none":
		if *verbose {
			log.Printf("metrics: disabled (backend=%q)", backendName)
		}

	default:
		log.Printf("metrics: unknown backend %q; metrics disabled", backendName)
	}

	ctx := context.Background()
	start := time.Now()

	if *verbose {
		log.Printf("pipeline: source=%s parser=%s storage=%s", p.Source.Kind, p.Parser.Kind, p.Storage.Kind)
	}

	store, err := storage.New(ctx, storage.Config{Kind: p.Storage.Kind, DSN: p.Storage.DB.DSN})
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	defer store.Close()

	coord := &star.Coordinator{Store: store, Logger: log.Default()}
	rep, err := coord.Run(ctx, p)
	if rep != nil {
		log.Printf("%s", rep.Summary())
		for _, rej := range rep.Rejected {
			log.Printf("rejected line=%d reason=%q", rej.Line, rej.Reason)
		}
	}
	if err != nil {
		log.Fatalf("load: %v", err)
	}

	if *verbose {
		log.Printf("completed in %s", time.Since(start).Truncate(time.Millisecond))
	}
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
