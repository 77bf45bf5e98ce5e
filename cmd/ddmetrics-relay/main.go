package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ash2k/stager"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/atlassian/ddmetrics/pkg/flush"
	"github.com/atlassian/ddmetrics/pkg/loggers"
	"github.com/atlassian/ddmetrics/pkg/transport"
	"github.com/atlassian/ddmetrics/pkg/util"
)

const (
	// ParamVerbose enables verbose logging.
	ParamVerbose = "verbose"
	// ParamJSON makes logger log in JSON format.
	ParamJSON = "json"
	// ParamConfigPath provides file with configuration.
	ParamConfigPath = "config-path"
	// ParamVersion makes program output its version.
	ParamVersion = "version"
	// ParamInput is the file to read lines from, - for stdin.
	ParamInput = "input"
	// ParamBadLinesPerMinute limits how many unparsable lines are logged.
	ParamBadLinesPerMinute = "bad-lines-per-minute"
	// ParamShutdownTimeout bounds the final flush.
	ParamShutdownTimeout = "shutdown-timeout"

	defaultInput             = "-"
	defaultBadLinesPerMinute = 10.0
	defaultShutdownTimeout   = 30 * time.Second

	lineBufferSize = 1024
)

func main() {
	v, version, err := setupConfiguration(os.Args[0], os.Args[1:])
	if err != nil {
		if err == pflag.ErrHelp {
			return
		}
		logrus.Fatalf("Error while parsing configuration: %v", err)
	}
	if version {
		fmt.Printf("Version: %s - Commit: %s - Date: %s\n", getVersion(), GitCommit, BuildDate)
		return
	}
	if err := run(v); err != nil {
		logrus.Fatalf("%v", err)
	}
}

func run(v *viper.Viper) error {
	logger := logrus.StandardLogger().WithField("version", getVersion())
	logger.Info("Starting relay")

	in, err := openInput(v.GetString(ParamInput))
	if err != nil {
		return err
	}
	defer in.Close()

	pool := transport.NewPool(logger, v)
	coordinator := flush.NewFlushCoordinator()
	metricsLogger, err := loggers.NewFromViper(logger, v, pool, coordinator)
	if err != nil {
		return err
	}

	ctx, cancelFunc := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancelFunc()

	r := newRelay(logger, metricsLogger, v.GetFloat64(ParamBadLinesPerMinute))
	err = serve(ctx, in, r, coordinator, v.GetDuration(ParamShutdownTimeout))
	logger.Info("Shutting down")
	return err
}

// serve relays in until it is exhausted or ctx is done, then runs the exit
// flush.  The scanning goroutine may stay blocked on input after ctx is done,
// it is abandoned.
func serve(ctx context.Context, in io.Reader, r *relay, coordinator flush.Coordinator, shutdownTimeout time.Duration) error {
	lines := make(chan []byte, lineBufferSize)
	scanErr := make(chan error, 1)
	go func() {
		scanErr <- scanLines(in, lines)
		close(lines)
	}()

	stgr := stager.New()
	stage := stgr.NextStage()
	stage.StartWithContext(func(ctx context.Context) {
		if r.Run(ctx, lines) {
			coordinator.NotifyFlush()
		}
	})

	coordinator.WaitForFlush(ctx)
	stgr.Shutdown()

	flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	coordinator.Flush(flushCtx)

	select {
	case err := <-scanErr:
		if err != nil {
			return fmt.Errorf("reading input: %w", err)
		}
	default:
	}
	return nil
}

func openInput(path string) (io.ReadCloser, error) {
	if path == defaultInput {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening input: %w", err)
	}
	return f, nil
}

func setupConfiguration(name string, args []string) (*viper.Viper, bool, error) {
	v := viper.New()
	defer setupLogger(v) // Apply logging configuration in case of early exit
	util.InitViper(v, "")

	var version bool

	cmd := pflag.NewFlagSet(name, pflag.ContinueOnError)

	cmd.BoolVar(&version, ParamVersion, false, "Print the version and exit")
	cmd.Bool(ParamVerbose, false, "Verbose")
	cmd.Bool(ParamJSON, false, "Log in JSON format")
	cmd.String(ParamConfigPath, "", "Path to the configuration file")
	cmd.String(ParamInput, defaultInput, "File to read DogStatsD lines from, - for stdin")
	cmd.Float64(ParamBadLinesPerMinute, defaultBadLinesPerMinute, "Maximum number of unparsable lines logged per minute")
	cmd.Duration(ParamShutdownTimeout, defaultShutdownTimeout, "Time allowed for the final flush")

	loggers.AddFlags(cmd)

	cmd.VisitAll(func(flag *pflag.Flag) {
		if err := v.BindPFlag(flag.Name, flag); err != nil {
			panic(err) // Should never happen
		}
	})

	if err := cmd.Parse(args); err != nil {
		return nil, false, err
	}

	configPath := v.GetString(ParamConfigPath)
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, false, err
		}
	}

	return v, version, nil
}

func setupLogger(v *viper.Viper) {
	if v.GetBool(ParamVerbose) {
		logrus.SetLevel(logrus.DebugLevel)
	}
	if v.GetBool(ParamJSON) {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}
}
