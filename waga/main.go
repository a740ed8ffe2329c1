package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/itohio/gowaga/pkg/config"
	"github.com/itohio/gowaga/pkg/sensor"
)

const idleInterval = time.Minute

func main() {
	var (
		portFlag   = flag.String("p", "", "Sensor bridge serial port override (e.g., /dev/ttyACM0)")
		configFlag = flag.String("config", "config.yaml", "Configuration file path")
		mockFlag   = flag.Bool("mock", false, "Use simulated sensor and link instead of hardware")
		listFlag   = flag.Bool("list", false, "List serial ports and exit")
	)
	flag.Parse()

	if *listFlag {
		if err := listPorts(); err != nil {
			log.Fatalf("Failed to list serial ports: %v", err)
		}
		return
	}

	// Load configuration
	cfg, err := config.Load(*configFlag)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Override serial port if provided via command line
	if *portFlag != "" {
		cfg.Sensor.Port = *portFlag
	}

	logger, err := newLogger(cfg.Log, os.Stderr)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	n := &node{cfg: cfg, log: logger, mock: *mockFlag}
	if err := n.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("telemetry stopped", "error", err)
		idle(ctx, logger, idleInterval)
	}

	logger.Info("node exited")
}

func listPorts() error {
	ports, err := sensor.SerialPorts()
	if err != nil {
		return err
	}

	for _, p := range ports {
		if p.Description != "" && p.Description != p.Name {
			fmt.Printf("%s (%s)\n", p.Name, p.Description)
		} else {
			fmt.Println(p.Name)
		}
	}

	return nil
}
