package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrCodeEU/facelocker/pkg/camera"
	"github.com/MrCodeEU/facelocker/pkg/gallery"
	"github.com/MrCodeEU/facelocker/pkg/logging"
	"github.com/MrCodeEU/facelocker/pkg/recognition"
	"github.com/MrCodeEU/facelocker/pkg/verify"
)

var posePrompts = []string{
	"Look straight at the camera.",
	"Turn your head slightly to the left.",
	"Turn your head slightly to the right.",
	"Tilt your head slightly up.",
	"Tilt your head slightly down.",
	"Move a little closer to the camera.",
	"Move a little further from the camera.",
	"Smile naturally.",
}

const captureInterval = time.Second

var (
	enrollFromDir string
	enrollAppend  bool
	enrollContact string
	enrollCount   int
)

var enrollCmd = &cobra.Command{
	Use:   "enroll <identity>",
	Short: "Enroll a face (guided capture or --from-dir)",
	Long: `Captures enrollment images from the camera while prompting for different
head poses, or imports JPEG files with --from-dir. Each image must contain a
clear face; at least gallery.quorum images are required.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runEnroll(cmd.Context(), args[0])
	},
}

func init() {
	enrollCmd.Flags().StringVar(&enrollFromDir, "from-dir", "", "import JPEG images from a directory instead of the camera")
	enrollCmd.Flags().BoolVar(&enrollAppend, "append", false, "keep existing images and add the new ones")
	enrollCmd.Flags().StringVar(&enrollContact, "contact", "", "email address alerted on unknown faces")
	enrollCmd.Flags().IntVar(&enrollCount, "count", 0, "number of images to capture (default gallery.max_images)")
}

func runEnroll(ctx context.Context, identity string) error {
	if err := gallery.ValidateIdentity(identity); err != nil {
		return err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("failed to create directories: %w", err)
	}

	rt, err := verify.NewRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.Recognizer.LoadModels(cfg.Recognition.ModelPath); err != nil {
		return fmt.Errorf("%w (run 'facelocker download-models' first)", err)
	}

	enroller := gallery.NewEnroller(rt.Store, recognition.NewExtractor(rt.Recognizer),
		recognition.EnrollOptions(cfg.Recognition), cfg.Gallery.MaxImages, cfg.Gallery.Quorum)

	logging.Infof("Starting enrollment for: %s", identity)

	var images [][]byte
	if enrollFromDir != "" {
		images, err = loadImagesFromDir(enrollFromDir)
		if err != nil {
			return err
		}
		fmt.Printf("Importing %d image(s) from %s\n", len(images), enrollFromDir)
	} else {
		count := enrollCount
		if count <= 0 {
			count = cfg.Gallery.MaxImages
		}
		images, err = captureGuided(ctx, camera.NewFFmpegSource(cfg.Camera), enroller, count)
		if err != nil {
			return err
		}
	}

	res, err := enroller.Enroll(ctx, identity, enrollContact, images, enrollAppend)
	for _, r := range res.Rejected {
		fmt.Printf("  ✗ image %d rejected: %v\n", r.Index+1, r.Err)
	}
	if err != nil {
		var ie *gallery.InsufficientEnrollmentError
		if errors.As(err, &ie) {
			return fmt.Errorf("only %d usable image(s), at least %d are required", ie.Count, ie.Quorum)
		}
		return err
	}

	fmt.Printf("\n✓ Enrolled '%s' with %d image(s) (%d new).\n", identity, res.Total, res.Accepted)
	if enrollContact == "" && cfg.Notify.Mode != "none" {
		fmt.Println("  No --contact given; unknown-face alerts use the contact already on file, if any.")
	}
	return nil
}

// captureGuided grabs count frames, one per pose prompt, and keeps those with
// a usable face.
func captureGuided(ctx context.Context, cam camera.Source, enroller *gallery.Enroller, count int) ([][]byte, error) {
	if err := cam.Open(ctx); err != nil {
		return nil, err
	}
	defer cam.Close()

	fmt.Println("Please ensure good lighting and face the camera.")
	fmt.Println()

	var images [][]byte
	for i := 0; i < count; i++ {
		fmt.Printf("[%d/%d] %s\n", i+1, count, posePrompt(i))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(captureInterval):
		}

		frame, err := cam.CurrentFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			fmt.Printf("      ✗ capture failed: %v\n", err)
			continue
		}
		if err := enroller.Check(ctx, frame.Data); err != nil {
			fmt.Printf("      ✗ %v\n", err)
			continue
		}
		fmt.Println("      ✓ captured")
		images = append(images, frame.Data)
	}
	return images, nil
}

func posePrompt(i int) string {
	return posePrompts[i%len(posePrompts)]
}

// loadImagesFromDir reads every .jpg/.jpeg file in dir in name order.
func loadImagesFromDir(dir string) ([][]byte, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read image directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	if len(names) == 0 {
		return nil, fmt.Errorf("no JPEG images found in %s", dir)
	}

	images := make([][]byte, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		images = append(images, data)
	}
	return images, nil
}
