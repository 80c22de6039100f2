package main

import (
	"flag"
	"log"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rslabbox/gotftp"
)

func main() {
	var (
		addr          string
		sendRoot      string
		receiveRoot   string
		readOnly      bool
		overwrite     bool
		singlePort    bool
		metricsAddr   string
		maxBlockSize  int
		maxWindowSize int
		retryBudget   int
	)

	flag.StringVar(&addr, "addr", ":69", "listen address")
	flag.StringVar(&sendRoot, "send-root", ".", "root directory served for RRQ downloads")
	flag.StringVar(&receiveRoot, "receive-root", ".", "root directory used for WRQ uploads")
	flag.BoolVar(&readOnly, "read-only", false, "reject all WRQ uploads")
	flag.BoolVar(&overwrite, "overwrite", true, "allow WRQ to overwrite an existing file")
	flag.BoolVar(&singlePort, "single-port", false, "serve every transfer through the listening socket instead of per-transfer ephemeral ports")
	flag.StringVar(&metricsAddr, "metrics-addr", "", "address to serve Prometheus metrics on; empty disables metrics")
	flag.IntVar(&maxBlockSize, "max-blksize", 0, "cap on negotiated blksize, 0 for package default")
	flag.IntVar(&maxWindowSize, "max-windowsize", 0, "cap on negotiated windowsize, 0 for package default")
	flag.IntVar(&retryBudget, "retry-budget", 0, "retransmissions allowed before a transfer is abandoned, 0 for package default")
	flag.Parse()

	logger := gotftp.NewLogger(log.New(os.Stderr, "gotftp: ", log.LstdFlags), true)

	var registerer prometheus.Registerer
	if metricsAddr != "" {
		reg := prometheus.NewRegistry()
		registerer = reg
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				log.Println("metrics listener stopped:", err)
			}
		}()
	}

	cfg := gotftp.ServerConfig{
		ListenAddr:   addr,
		SendRoot:     sendRoot,
		ReceiveRoot:  receiveRoot,
		ReadOnly:     readOnly,
		Overwrite:    overwrite,
		OverwriteSet: true,
		SinglePort:   singlePort,
		Policy: gotftp.OptionPolicy{
			MaxBlockSize:  maxBlockSize,
			MaxWindowSize: maxWindowSize,
		},
		RetryBudget:       retryBudget,
		Logger:            logger,
		MetricsRegisterer: registerer,
	}

	s, err := gotftp.NewServer(cfg)
	if err != nil {
		log.Fatal("err:", err)
	}
	defer s.Close()

	if err := s.Run(); err != nil {
		log.Fatal("err:", err)
	}
}
