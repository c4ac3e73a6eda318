package cli

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/wangyiting19871016-commits/fudaiai-sub001/internal/config"
	"github.com/wangyiting19871016-commits/fudaiai-sub001/internal/model"
	"github.com/wangyiting19871016-commits/fudaiai-sub001/internal/orchestrator"
	"github.com/wangyiting19871016-commits/fudaiai-sub001/internal/provider"
	"github.com/wangyiting19871016-commits/fudaiai-sub001/internal/store"
)

var (
	stageColor = color.New(color.FgCyan, color.Bold)
	okColor    = color.New(color.FgGreen, color.Bold)
	errColor   = color.New(color.FgRed, color.Bold)
)

func newRunCmd() *cobra.Command {
	var (
		image  string
		images []string
		text   string
		gender string
	)

	cmd := &cobra.Command{
		Use:   "run <mission-id>",
		Short: "Run a mission and print its result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			missionID := args[0]
			desc, err := model.Lookup(missionID)
			if err != nil {
				return err
			}

			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}

			watcher, err := config.NewWatcher(poolsPath, logger)
			if err != nil {
				return err
			}
			defer watcher.Close()
			watcher.Run(ctx)

			results, err := store.Open(cfg.Store.Path, cfg.Store.Capacity, logger)
			if err != nil {
				return err
			}
			defer results.Close()

			prov, err := buildProviders(ctx, cfg, desc)
			if err != nil {
				return err
			}

			input, err := buildInput(image, images, text, gender)
			if err != nil {
				return err
			}

			catalog := func() ([]model.WorkflowOption, model.TemplatePools) {
				pools := watcher.Pools()
				return pools.Workflows, pools.Templates
			}
			engine := orchestrator.New(cfg, catalog, prov, results, logger)

			g, ctx := errgroup.WithContext(ctx)
			done := make(chan struct{})
			g.Go(func() error {
				printProgress(engine.Events(), done)
				return nil
			})

			var res model.MissionResult
			g.Go(func() error {
				defer close(done)
				var err error
				res, err = engine.Run(ctx, missionID, input)
				return err
			})
			if err := g.Wait(); err != nil {
				errColor.Fprintf(os.Stderr, "mission failed: %v\n", err)
				return err
			}

			okColor.Fprintf(os.Stderr, "mission %s complete: %s\n", missionID, res.TaskID)
			return printJSON(cmd.OutOrStdout(), res)
		},
	}

	cmd.Flags().StringVar(&image, "image", "", "subject photo (file path, URL or data URI)")
	cmd.Flags().StringSliceVar(&images, "images", nil, "subject photos for multi-subject missions")
	cmd.Flags().StringVar(&text, "text", "", "user-provided text (greeting cards)")
	cmd.Flags().StringVar(&gender, "gender", "", "subject gender: male or female")
	return cmd
}

// buildProviders constructs only the capabilities the mission needs; a card
// draw must not demand generation credentials.
func buildProviders(ctx context.Context, cfg model.Config, desc model.MissionDescriptor) (orchestrator.Providers, error) {
	var prov orchestrator.Providers

	if desc.NeedsPublicUpload {
		if cfg.Providers.ImageHost.UploadURL == "" {
			return prov, fmt.Errorf("mission %s needs an image host; set providers.image_host.upload_url", desc.ID)
		}
		prov.Publisher = provider.NewImageHost(
			cfg.Providers.ImageHost.UploadURL,
			time.Duration(cfg.Providers.ImageHost.TimeoutSec)*time.Second,
		)
	}

	if desc.Kind != model.KindCard {
		access := os.Getenv(cfg.Providers.ImageAPI.AccessKeyEnv)
		secret := os.Getenv(cfg.Providers.ImageAPI.SecretKeyEnv)
		if access == "" || secret == "" {
			return prov, fmt.Errorf("mission %s needs generation credentials; set %s and %s",
				desc.ID, cfg.Providers.ImageAPI.AccessKeyEnv, cfg.Providers.ImageAPI.SecretKeyEnv)
		}
		prov.Images = provider.NewComfyClient(
			cfg.Providers.ImageAPI.BaseURL,
			access, secret,
			time.Duration(cfg.Providers.ImageAPI.TimeoutSec)*time.Second,
			provider.DefaultClassification(),
		)
	}

	if desc.NeedsFeatureExtraction || desc.NeedsCaption {
		gemini, err := provider.NewGeminiClient(ctx, cfg.Providers.Gemini.Model, cfg.Providers.Gemini.APIKeyEnv)
		if err != nil {
			return prov, err
		}
		prov.Vision = gemini
		prov.Text = gemini
	}
	return prov, nil
}

func buildInput(image string, images []string, text, gender string) (model.MissionInput, error) {
	input := model.MissionInput{Text: text}

	switch gender {
	case "", string(model.GenderMale), string(model.GenderFemale):
		input.Gender = model.Gender(gender)
	default:
		return input, fmt.Errorf("unknown gender %q", gender)
	}

	var err error
	if image != "" {
		if input.Image, err = loadImageArg(image); err != nil {
			return input, err
		}
	}
	for _, img := range images {
		loaded, err := loadImageArg(img)
		if err != nil {
			return input, err
		}
		input.Images = append(input.Images, loaded)
	}
	return input, nil
}

// loadImageArg accepts a URL or data URI as-is and inlines local files.
func loadImageArg(arg string) (string, error) {
	if strings.HasPrefix(arg, "http://") || strings.HasPrefix(arg, "https://") ||
		strings.HasPrefix(arg, "data:") {
		return arg, nil
	}
	data, err := os.ReadFile(arg)
	if err != nil {
		return "", fmt.Errorf("read image %s: %w", arg, err)
	}
	mimeType := mime.TypeByExtension(filepath.Ext(arg))
	if mimeType == "" {
		mimeType = "image/png"
	}
	return fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data)), nil
}

func printProgress(events <-chan model.ProgressEvent, done <-chan struct{}) {
	for {
		select {
		case ev := <-events:
			printEvent(ev)
		case <-done:
			for {
				select {
				case ev := <-events:
					printEvent(ev)
				default:
					return
				}
			}
		}
	}
}

func printEvent(ev model.ProgressEvent) {
	if ev.Err != "" {
		errColor.Fprintf(os.Stderr, "[%3d%%] %s: %s\n", ev.Percent, ev.Stage, ev.Err)
		return
	}
	stageColor.Fprintf(os.Stderr, "[%3d%%] %-10s", ev.Percent, ev.Stage)
	fmt.Fprintf(os.Stderr, " %s", ev.Message)
	if len(ev.ExtractedTags) > 0 {
		fmt.Fprintf(os.Stderr, " (%s)", strings.Join(ev.ExtractedTags, ", "))
	}
	fmt.Fprintln(os.Stderr)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
