package cli

import (
	"context"
	"fmt"

	"github.com/fehuapaya/scrapli/internal/config"
	"github.com/spf13/cobra"
)

var promptAcquire string

func init() {
	rootCmd.AddCommand(promptCmd)
	promptCmd.Flags().StringVar(&promptAcquire, "acquire", "", "privilege level to move to before reading the prompt")
}

var promptCmd = &cobra.Command{
	Use:   "prompt <device>",
	Short: "Show a device's prompt and the privilege level it maps to",
	Args:  cobra.ExactArgs(1),
	RunE:  runPrompt,
}

func runPrompt(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	dev, ok := cfg.Device(args[0])
	if !ok {
		return fmt.Errorf("device %q not in %s", args[0], configPath)
	}
	prompt, priv, err := fetchPrompt(cmd.Context(), dev, promptAcquire)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "prompt: %s\nlevel:  %s\n", prompt, priv)
	return nil
}

func fetchPrompt(ctx context.Context, dev config.Device, acquire string) (string, string, error) {
	d, err := newDriver(dev)
	if err != nil {
		return "", "", err
	}
	if err := openDriver(ctx, d); err != nil {
		return "", "", err
	}
	defer d.Close(context.WithoutCancel(ctx))

	if acquire != "" {
		if err := d.AcquirePriv(ctx, acquire); err != nil {
			return "", "", err
		}
	}
	prompt, err := d.GetPrompt(ctx)
	if err != nil {
		return "", "", err
	}
	priv, err := d.DeterminePriv(ctx)
	if err != nil {
		return prompt, "", err
	}
	return prompt, priv, nil
}
