package main

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrCodeEU/facelocker/pkg/verify"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <identity>",
	Short: "Run one verification against an enrolled identity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runVerify(cmd.Context(), args[0])
	},
}

func runVerify(ctx context.Context, identity string) error {
	rt, err := verify.NewRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	fmt.Printf("Verifying '%s'. Look at the camera and blink when prompted...\n", identity)

	s := rt.NewSession(identity, nil)
	out, err := s.Start(ctx)
	if err != nil {
		return err
	}
	printOutcome(out)

	if !out.Verified {
		return fmt.Errorf("verification failed: %s", out.Reason)
	}
	return nil
}

func printOutcome(out verify.Outcome) {
	mark := "✗"
	if out.Verified {
		mark = "✓"
	}
	fmt.Printf("\n%s %s\n", mark, out.Message())
	fmt.Printf("  Session:  %s\n", out.SessionID)
	fmt.Printf("  Result:   %s (%s)\n", out.Phase, out.Reason)
	if !math.IsNaN(out.Distance) {
		fmt.Printf("  Distance: %.4f (threshold %.2f)\n", out.Distance, cfg.Recognition.DistanceThreshold)
	}
	fmt.Printf("  Duration: %s\n", out.Duration.Round(time.Millisecond))
}
