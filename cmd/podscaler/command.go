package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"code.cloudfoundry.org/lager/v3"
	flags "github.com/jessevdk/go-flags"

	"github.com/forgecloud/podscaler/core/config"
	"github.com/forgecloud/podscaler/core/inference"
	"github.com/forgecloud/podscaler/core/metrics"
	"github.com/forgecloud/podscaler/core/promptapi"
	"github.com/forgecloud/podscaler/core/provider"
	"github.com/forgecloud/podscaler/core/scheduler"
	"github.com/forgecloud/podscaler/core/sshexec"
	"github.com/forgecloud/podscaler/tracing"
)

// PodscalerCommand is the process entrypoint's flag tree: a version
// flag plus the one serve subcommand this binary ships.
type PodscalerCommand struct {
	Version func() `short:"v" long:"version" description:"Print the version of podscaler and exit"`

	Serve ServeCommand `command:"serve" description:"Run the pod lifecycle manager and work scheduler."`
}

// ServeCommand starts the scheduler and blocks until signaled. Every
// domain setting (retry budgets, pod bounds, provider credentials)
// comes from the environment, loaded through core/config.Load; only
// the observability exporters are flag-driven.
type ServeCommand struct {
	Metrics  tracing.MetricsConfig  `group:"Metrics" namespace:"metrics"`
	Sampling tracing.SamplingConfig `group:"Tracing" namespace:"tracing"`
}

func (cmd *ServeCommand) Execute(_ []string) error {
	logger := lager.NewLogger("podscaler")
	logger.RegisterSink(lager.NewWriterSink(os.Stdout, lager.INFO))

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg.Tracing.Sampling = cmd.Sampling

	if mp, shutdown, err := cmd.Metrics.MeterProvider(); err != nil {
		return fmt.Errorf("configuring metrics exporter: %w", err)
	} else if mp != nil {
		tracing.ConfigureMeterProvider(mp)
		defer shutdown(context.Background())
	}
	metrics.Init()

	if tp, shutdown, err := cfg.Tracing.TracerProvider(); err != nil {
		return fmt.Errorf("configuring trace exporter: %w", err)
	} else if tp != nil {
		tracing.ConfigureTracerProvider(tp)
		defer shutdown(context.Background())
	}

	privateKey, err := os.ReadFile(cfg.SSHPrivateKeyPath)
	if err != nil {
		return fmt.Errorf("reading ssh private key: %w", err)
	}
	sshClient, err := sshexec.NewClient(privateKey)
	if err != nil {
		return fmt.Errorf("building ssh client: %w", err)
	}
	defer sshClient.Close()

	providerClient := provider.NewHTTPClient(cfg.RunpodAPIKey)
	inferenceClient := inference.NewHTTPClient("workflows")

	sched := scheduler.New(cfg, logger, providerClient, inferenceClient, sshClient, cfg.OutputDirectory)
	api := promptapi.New(sched)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sched.Start(ctx)
	logger.Info("started", lager.Data{"min-pods": cfg.MinPods, "max-pods": cfg.MaxPods})

	<-ctx.Done()
	logger.Info("stopping")
	api.Stop(context.Background())

	return nil
}

func handleError(err error) {
	if err == nil {
		return
	}
	if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
		fmt.Println(err)
		os.Exit(0)
	}
	fmt.Fprintf(os.Stderr, "error: %s\n", err)
	os.Exit(1)
}
