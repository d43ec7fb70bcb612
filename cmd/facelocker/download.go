package main

import (
	"compress/bzip2"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrCodeEU/facelocker/pkg/logging"
	"github.com/MrCodeEU/facelocker/pkg/recognition"
)

var downloadCmd = &cobra.Command{
	Use:   "download-models [dir]",
	Short: "Download the dlib face models",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		modelDir := cfg.Recognition.ModelPath
		if len(args) > 0 {
			modelDir = args[0]
		}
		return downloadModels(modelDir, recognition.ModelFiles, httpClient)
	},
}

var httpClient = &http.Client{Timeout: 10 * time.Minute}

func downloadModels(modelDir string, models []recognition.Model, client *http.Client) error {
	logging.Infof("Downloading models to: %s", modelDir)

	if err := os.MkdirAll(modelDir, 0755); err != nil {
		return fmt.Errorf("failed to create model directory: %w", err)
	}

	for _, model := range models {
		targetPath := filepath.Join(modelDir, model.Name)
		if _, err := os.Stat(targetPath); err == nil {
			logging.Infof("Model %s already exists, skipping", model.Name)
			continue
		}

		logging.Infof("Downloading %s...", model.Name)
		if err := downloadAndExtract(client, model.URL, targetPath); err != nil {
			return fmt.Errorf("failed to download %s: %w", model.Name, err)
		}
		logging.Infof("Successfully downloaded %s", model.Name)
	}

	logging.Info("All models downloaded successfully!")
	return nil
}

// downloadAndExtract fetches a .bz2 file and writes it decompressed. A
// partial file is removed on failure so the next run retries it.
func downloadAndExtract(client *http.Client, url, targetPath string) (err error) {
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bad status: %s", resp.Status)
	}

	tmp := targetPath + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	defer func() {
		_ = out.Close()
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()

	if _, err = io.Copy(out, bzip2.NewReader(resp.Body)); err != nil {
		return err
	}
	if err = out.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, targetPath)
}
