package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/MrCodeEU/facelocker/pkg/config"
	"github.com/MrCodeEU/facelocker/pkg/logging"
	"github.com/MrCodeEU/facelocker/pkg/verify"
)

const version = "0.3.0"

// Exit codes read by the locker controller.
const (
	exitVerified = 0
	exitUnknown  = 1
	exitRetry    = 2
	exitSystem   = 3
)

// Verifier runs one verification.
type Verifier interface {
	Verify(ctx context.Context, identity string) verify.Outcome
}

func main() {
	os.Exit(run())
}

func run() int {
	configFile := flag.String("config", "", "path to configuration file")
	flag.Parse()

	identity := flag.Arg(0)
	if identity == "" {
		identity = os.Getenv("FACELOCKER_IDENTITY")
	}
	if identity == "" {
		fmt.Fprintln(os.Stderr, "Usage: facelocker-gate [-config file] <identity>")
		return exitSystem
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "FaceLocker: Could not read .env: %v\n", err)
	}

	var (
		cfg *config.Config
		err error
	)
	if *configFile != "" {
		cfg, err = config.Load(*configFile)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err == nil {
		cfg.ExpandPaths()
		err = cfg.Validate()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "FaceLocker: Configuration error: %v\n", err)
		return exitSystem
	}

	// Log to file only; the controller reads stderr.
	if err := logging.InitFileOnly(cfg.Logging.Level, cfg.Logging.File); err != nil {
		fmt.Fprintf(os.Stderr, "FaceLocker: Could not open log file: %v\n", err)
	}
	logging.Infof("FaceLocker gate v%s starting verification for: %s", version, identity)

	rt, err := verify.NewRuntime(cfg)
	if err != nil {
		logging.Errorf("Failed to initialize verifier: %v", err)
		fmt.Fprintln(os.Stderr, "FaceLocker: Initialization error")
		return exitSystem
	}
	defer rt.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(os.Stderr, "FaceLocker: Verifying %s (look at the camera and blink)...\n", identity)
	return runVerification(ctx, rt, identity, time.Now())
}

// runVerification verifies identity and maps the outcome to an exit code.
func runVerification(ctx context.Context, v Verifier, identity string, startTime time.Time) int {
	out := v.Verify(ctx, identity)

	if out.Verified {
		logging.Infof("Verification successful for %s (distance: %.4f, duration: %v)",
			identity, out.Distance, out.Duration)
		fmt.Fprintln(os.Stderr, "FaceLocker: Verified, unlocking")
		return exitVerified
	}

	logging.Warnf("Verification failed for %s: %s (duration: %v)",
		identity, out.Reason, time.Since(startTime))
	fmt.Fprintf(os.Stderr, "FaceLocker: %s\n", out.Message())
	return exitCode(out)
}

func exitCode(out verify.Outcome) int {
	switch {
	case out.Verified:
		return exitVerified
	case out.Reason == verify.ReasonUnknownFace:
		return exitUnknown
	case out.Reason.Retryable():
		return exitRetry
	default:
		return exitSystem
	}
}
