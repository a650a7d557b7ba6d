// Command marfs-fuse mounts a MarFS namespace read-only over FUSE and serves
// datastream metrics over HTTP.
package main

import (
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dmp265/marfs/internal/config"
	"github.com/dmp265/marfs/internal/fusefs"
)

func main() {
	config.LoadEnvFile(".env")
	cfgPath := flag.String("config", config.ConfigPathFromEnv("marfs.yaml"), "Topology file")
	nsPath := flag.String("ns", "/", "Namespace to mount")
	mountDir := flag.String("mount", config.MountFromEnv("/campaign"), "FUSE mount point")
	metricsAddr := flag.String("metrics", ":9090", "Metrics listen address (empty to disable)")
	allowOther := flag.Bool("allow-other", false, "Enable FUSE allow_other")
	initialize := flag.Bool("init", false, "Create namespaces and reference trees before mounting")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if problems, err := cfg.Verify(*initialize); err != nil {
		log.Fatalf("verify config: %v", err)
	} else if problems > 0 {
		log.Fatalf("topology has %d uncorrected problems (rerun with -init?)", problems)
	}
	ns, err := cfg.LookupNS(*nsPath)
	if err != nil {
		log.Fatalf("lookup namespace: %v", err)
	}

	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				log.Fatalf("metrics: %v", err)
			}
		}()
		log.Printf("metrics on %s/metrics", *metricsAddr)
	}

	server, err := fusefs.Mount(*mountDir, ns, *allowOther)
	if err != nil {
		log.Fatalf("mount: %v", err)
	}
	log.Printf("namespace %s mounted at %s", ns.IDStr, *mountDir)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Printf("unmounting")
	if err := server.Unmount(); err != nil {
		log.Printf("unmount: %v", err)
	}
}
