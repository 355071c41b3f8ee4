package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"time"

	"ecexams-crawler/lib/configutil"
	"ecexams-crawler/lib/restyutil"
	"ecexams-crawler/lib/scrapers/ecexams"
	"ecexams-crawler/lib/serviceutil"
	"ecexams-crawler/lib/telemetry"
	"ecexams-crawler/services/crawler"
)

type Config struct {
	Port             int    `json:"port"`
	OutputRoot       string `json:"output_root"`
	DelayMs          int    `json:"delay_ms"`
	CloudflareBypass bool   `json:"cloudflare_bypass"`
}

// webDelay spaces archive requests a little tighter than the CLI default;
// browser sessions watch the log live.
const webDelay = time.Millisecond * 400

func main() {
	verbose := flag.Bool("v", false, "Enable verbose logging/instrumentation.")
	flag.Parse()

	ctx := serviceutil.SignalContext()

	telemetry.InitSlog(*verbose)
	tel, err := telemetry.SetupFromEnv(ctx, "ecexams-server")
	if err != nil {
		serviceutil.Fatal("setup telemetry", err)
	}
	go func() {
		<-ctx.Done()
		tel.Shutdown(context.Background())
	}()
	telemetry.InstrumentPerfStats(ctx)

	// the daemon boots fine with no config file; server.json5 only
	// overrides the defaults
	cfg, err := configutil.ReadConfig[Config]("server.json5")
	if errors.Is(err, os.ErrNotExist) {
		cfg = Config{}
	} else if err != nil {
		serviceutil.Fatal("read config", err)
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}

	options := ecexams.ClientOptions{
		Delay:            webDelay,
		CloudflareBypass: cfg.CloudflareBypass,
	}
	if cfg.DelayMs > 0 {
		options.Delay = time.Duration(cfg.DelayMs) * time.Millisecond
	}
	if *verbose {
		output, err := restyutil.NewFilesystemOutput(".dev/resty/ecexams")
		if err != nil {
			serviceutil.Fatal("prepare resty transcripts", err)
		}
		options.DebugOutput = output
	}

	srv := newServer(crawler.NewService(options), cfg.OutputRoot)

	go serviceutil.StartHttpServer(cfg.Port, srv.routes())
	<-ctx.Done()
}
