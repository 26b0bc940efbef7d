// dkimextract reads an mbox archive and, for every DKIM signature found in
// it, reconstructs the exact data that was signed. Signatures are grouped
// by signing identity (domain and selector), and groups with enough members
// are written out for offline analysis, like finding reused keys or weak
// signatures.
//
// No key material is needed or used.
package main

import (
	"context"
	"errors"
	"expvar"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"blitiri.com.ar/go/dkimextract/internal/config"
	"blitiri.com.ar/go/dkimextract/internal/mailbox"
	"blitiri.com.ar/go/dkimextract/internal/scan"
	"blitiri.com.ar/go/dkimextract/internal/scanlog"
	"blitiri.com.ar/go/log"
)

// Command-line flags.
var (
	configPath = flag.String("config", "",
		"configuration file (YAML); if empty, defaults are used")
	configOverrides = flag.String("config_overrides", "",
		"override configuration values (in YAML format)")
	maxMessages = flag.Int("max_messages", 0,
		"maximum number of messages to read (overrides the config)")
	monitoringAddr = flag.String("monitoring_address", "",
		"address for the monitoring HTTP server (overrides the config)")
	showVer = flag.Bool("version", false, "show version and exit")
)

// Build information, overridden at build time using
// -ldflags="-X main.version=blah".
var (
	version      = "undefined"
	sourceDateTs = "0"
)

var (
	versionVar = expvar.NewString("dkimextract/version")

	sourceDate      time.Time
	sourceDateVar   = expvar.NewString("dkimextract/sourceDateStr")
	sourceDateTsVar = expvar.NewInt("dkimextract/sourceDateTimestamp")
)

// Exit codes.
const (
	exitOK         = 0
	exitError      = 1
	exitUsage      = 2
	exitUnreadable = 3
)

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(),
		"Usage: %s [flags] <mbox_file> <output_dir>\n\n",
		filepath.Base(os.Args[0]))
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()
	log.Init()

	parseVersionInfo()
	if *showVer {
		fmt.Printf("dkimextract %s (source date: %s)\n", version, sourceDate)
		return
	}

	os.Exit(run(flag.Args()))
}

func run(args []string) int {
	if len(args) != 2 {
		usage()
		return exitUsage
	}
	mboxPath, outDir := args[0], args[1]

	conf, err := loadConfig()
	if err != nil {
		log.Errorf("Error loading config: %v", err)
		return exitUsage
	}
	config.LogConfig(conf)

	if err := initScanLog(conf.SkipLogPath); err != nil {
		log.Errorf("Error opening skip log: %v", err)
		return exitError
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()

	var monitoringDone chan struct{}
	if conf.MonitoringAddress != "" {
		monitoringDone = make(chan struct{})
		go launchMonitoringServer(conf, monitoringDone)
	}

	log.Infof("dkimextract starting (version %s): %q -> %q",
		version, mboxPath, outDir)
	summary, err := scan.Run(ctx, conf, mboxPath, outDir)
	code := exitCode(err)

	if summary != nil {
		log.Infof("Processed %d messages", summary.Messages)
		log.Infof("Summary: %v", summary)
	}
	if err != nil {
		log.Errorf("Error: %v", err)
	}

	// Keep the monitoring server up so the traces can be inspected, until
	// told to exit.
	if monitoringDone != nil && ctx.Err() == nil {
		log.Infof("Scan complete, monitoring server waiting for /exit")
		select {
		case <-monitoringDone:
		case <-ctx.Done():
		}
	}

	return code
}

func loadConfig() (*config.Config, error) {
	conf, err := config.Load(*configPath, *configOverrides)
	if err != nil {
		return nil, err
	}

	if *maxMessages < 0 {
		return nil, fmt.Errorf("%w: -max_messages must be positive",
			config.ErrInvalid)
	}
	if *maxMessages > 0 {
		conf.MaxMessages = *maxMessages
	}
	if *monitoringAddr != "" {
		conf.MonitoringAddress = *monitoringAddr
	}
	return conf, nil
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, mailbox.ErrUnreadable):
		return exitUnreadable
	default:
		return exitError
	}
}

func initScanLog(path string) error {
	var err error

	switch path {
	case "":
		// Keep the default, which discards everything.
	case "<syslog>":
		scanlog.Default, err = scanlog.NewSyslog()
	case "<stdout>":
		scanlog.Default = scanlog.New(os.Stdout)
	case "<stderr>":
		scanlog.Default = scanlog.New(os.Stderr)
	default:
		_ = os.MkdirAll(filepath.Dir(path), 0775)
		var f *os.File
		f, err = os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
		if err == nil {
			scanlog.Default = scanlog.New(f)
		}
	}

	return err
}

func parseVersionInfo() {
	versionVar.Set(version)

	sdts, err := strconv.ParseInt(sourceDateTs, 10, 0)
	if err != nil {
		panic(err)
	}

	sourceDate = time.Unix(sdts, 0)
	sourceDateVar.Set(sourceDate.Format("2006-01-02 15:04:05 -0700"))
	sourceDateTsVar.Set(sdts)
}
