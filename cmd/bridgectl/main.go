// Command bridgectl sends UDP fast-state polls to a bridge and prints
// the decoded reply. It also speaks the rest of the fast-path surface:
// broadcast discovery, fire-and-forget volume commands, a watch mode,
// and an optional local history of poll outcomes.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/rkdial/bridgectl/internal/probe"
	"github.com/rkdial/bridgectl/internal/version"
)

func main() {
	var (
		timeout     = flag.Duration("timeout", probe.DefaultTimeout, "Receive timeout for one poll")
		bridgeBase  = flag.String("bridge", "", "Bridge base URL, e.g. http://192.168.50.225:8088 (overrides host/port args)")
		watch       = flag.Bool("watch", false, "Poll repeatedly until interrupted")
		interval    = flag.Duration("interval", 2*time.Second, "Delay between polls in watch mode")
		discover    = flag.Bool("discover", false, "Find the bridge via UDP broadcast and exit")
		setVolume   = flag.String("set-volume", "", "Send a volume command with this value instead of polling")
		dbPath      = flag.String("db", "", "Record poll outcomes to this SQLite database")
		showHistory = flag.Bool("history", false, "Print recent recorded polls and exit (requires -db)")
		showVersion = flag.Bool("version", false, "Print version and exit")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] [host [port [zone]]]\n\n", os.Args[0])
		fmt.Fprintf(flag.CommandLine.Output(), "Defaults: host %s, port %d, empty zone.\n\nFlags:\n",
			probe.DefaultHost, probe.DefaultPort)
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Printf("bridgectl v%s (built %s)\n", version.Version, version.BuildTime)
		return
	}

	cfg := probe.Config{
		Host:    probe.DefaultHost,
		Port:    probe.DefaultPort,
		Timeout: *timeout,
	}
	args := flag.Args()
	if len(args) > 0 {
		cfg.Host = args[0]
	}
	if len(args) > 1 {
		port, err := strconv.Atoi(args[1])
		if err != nil || port <= 0 || port > 65535 {
			log.Fatalf("Bad port %q", args[1])
		}
		cfg.Port = port
	}
	if len(args) > 2 {
		cfg.Zone = args[2]
	}
	if *bridgeBase != "" {
		host, port, err := probe.ParseBridgeBase(*bridgeBase)
		if err != nil {
			log.Fatalf("Bad bridge base: %v", err)
		}
		cfg.Host, cfg.Port = host, port
	}

	app := &app{
		out:      os.Stdout,
		cfg:      cfg,
		interval: *interval,
	}
	if *dbPath != "" {
		if err := app.openHistory(*dbPath); err != nil {
			log.Fatalf("History database: %v", err)
		}
		defer app.closeHistory()
	}

	switch {
	case *showHistory:
		if *dbPath == "" {
			log.Fatal("-history requires -db")
		}
		if err := app.printHistory(20); err != nil {
			log.Fatalf("History: %v", err)
		}
	case *discover:
		if err := app.runDiscover(*timeout); err != nil {
			log.Fatalf("Discovery: %v", err)
		}
	case *setVolume != "":
		value, err := strconv.ParseFloat(*setVolume, 32)
		if err != nil {
			log.Fatalf("Bad volume %q", *setVolume)
		}
		if err := app.runSetVolume(float32(value)); err != nil {
			log.Fatalf("Volume command: %v", err)
		}
	case *watch:
		app.runWatch()
	default:
		if err := app.runPoll(); err != nil {
			log.Fatalf("Poll: %v", err)
		}
	}
}
