package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/focusedad/internal/config"
	"github.com/andresmejia3/focusedad/internal/logging"
	"github.com/andresmejia3/focusedad/internal/segment"
	"github.com/andresmejia3/focusedad/internal/types"
	"github.com/andresmejia3/focusedad/internal/utils"
)

var masksOpts struct {
	VideoPath string
	Boxes     []string
}

var masksCmd = &cobra.Command{
	Use:   "masks",
	Short: "Propagate boxes through a video and report per-frame mask coverage",
	Long: `Tracks each --box from the start frame through the whole video and prints
the fraction of the frame every object covers. Boxes are "x1,y1,x2,y2" in
pixels and are numbered from 1 in the order given.`,
	Example: `  focusedad masks -i clip.mp4 --box 10,20,200,300 --box 250,40,400,310`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if err := applyFlags(cmd, Cfg); err != nil {
			return err
		}
		regions, err := parseBoxFlags(masksOpts.Boxes)
		if err != nil {
			return err
		}

		engine := newEngine()
		defer engine.Close()

		p := segment.NewPropagator(engine, logging.WithComponent(Log, "segment"))
		segs, err := p.Propagate(cmd.Context(), masksOpts.VideoPath, regions, Cfg.StartFrame)
		if err != nil {
			utils.ShowError("Propagation failed", err, engine.Command())
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "FRAME\tOBJECT\tCOVERAGE")
		fmt.Fprintln(w, "-----\t------\t--------")
		for _, frame := range segs.FrameIDs() {
			for _, obj := range regions.ObjectIDs() {
				mask, ok := segs[frame][obj]
				if !ok {
					fmt.Fprintf(w, "%d\t%d\t-\n", frame, obj)
					continue
				}
				fmt.Fprintf(w, "%d\t%d\t%.2f%%\n", frame, obj, mask.Coverage()*100)
			}
		}
		return w.Flush()
	},
}

// parseBoxFlags turns repeated "x1,y1,x2,y2" flag values into validated regions.
func parseBoxFlags(values []string) (types.Regions, error) {
	raw := make([][]float64, len(values))
	for i, v := range values {
		parts := strings.Split(v, ",")
		coords := make([]float64, len(parts))
		for j, p := range parts {
			f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
			if err != nil {
				return nil, &types.ValidationError{Index: i, Reason: fmt.Sprintf("coordinate %q is not a number", p)}
			}
			coords[j] = f
		}
		raw[i] = coords
	}
	return segment.ParseBoxes(raw)
}

func init() {
	f := masksCmd.Flags()
	f.StringVarP(&masksOpts.VideoPath, "video", "i", "", "Input video file")
	f.StringArrayVarP(&masksOpts.Boxes, "box", "b", nil, "Region to track as x1,y1,x2,y2 (repeatable)")
	f.Int("start-frame", config.DefaultStartFrame, "Frame the boxes are drawn on")
	masksCmd.MarkFlagRequired("video")
	masksCmd.MarkFlagRequired("box")
	engineFlags(masksCmd)

	rootCmd.AddCommand(masksCmd)
}
