package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/andresmejia3/focusedad/internal/identity"
	"github.com/andresmejia3/focusedad/internal/logging"
	"github.com/andresmejia3/focusedad/internal/utils"
)

var matchGallery string

var matchCmd = &cobra.Command{
	Use:   "match <image>",
	Short: "Identify the gallery characters visible in a single image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if err := applyFlags(cmd, Cfg); err != nil {
			return err
		}

		// Reject unreadable images before paying for an engine start
		res, err := utils.ImageResolution(args[0])
		if err != nil {
			utils.ShowError("Cannot read image", err, nil)
			return err
		}
		Log.Debug("matching image", zap.String("path", args[0]), zap.Int("width", res.Width), zap.Int("height", res.Height))

		engine := newEngine()
		defer engine.Close()

		m := identity.NewMatcher(engine, logging.WithComponent(Log, "identity"))
		m.DetectionThreshold = Cfg.DetectionThreshold
		m.MatchThreshold = Cfg.MatchThreshold
		if DB != nil {
			m.Cache = DB
		}

		result, err := m.Match(cmd.Context(), args[0], matchGallery)
		if err != nil {
			utils.ShowError("Matching failed", err, engine.Command())
			return err
		}
		if len(result.Matches) == 0 {
			if result.Reason != nil {
				fmt.Printf("No characters matched: %v\n", result.Reason)
			} else {
				fmt.Println("No characters matched.")
			}
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "NAME\tBOX\tCONFIDENCE\tDISTANCE")
		fmt.Fprintln(w, "----\t---\t----------\t--------")
		for _, match := range result.Matches {
			fmt.Fprintf(w, "%s\t%s\t%.3f\t%.3f\n", match.Name, match.Box, match.Confidence, match.Distance)
		}
		return w.Flush()
	},
}

func init() {
	f := matchCmd.Flags()
	f.StringVarP(&matchGallery, "characters", "c", "", "Directory of reference images, one character per file")
	f.Float64P("detection-threshold", "D", identity.DefaultDetectionThreshold, "Minimum face detection confidence")
	f.Float64P("threshold", "t", identity.DefaultMatchThreshold, "Maximum embedding distance for a match (lower is stricter)")
	matchCmd.MarkFlagRequired("characters")
	engineFlags(matchCmd)

	rootCmd.AddCommand(matchCmd)
}
