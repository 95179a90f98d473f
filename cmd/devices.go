package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"facecam/internal/camera"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "利用できるカメラを一覧表示",
	RunE:  runDevices,
}

func init() {
	rootCmd.AddCommand(devicesCmd)

	devicesCmd.Flags().Bool("json", false, "JSONで出力")
}

func runDevices(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	p, err := newPlatform(cfg)
	if err != nil {
		return err
	}

	devices := camera.NewProbe(p).ListVideoInputs(cmd.Context())
	out := cmd.OutOrStdout()

	if mustGetBool(cmd, "json") {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(devices)
	}

	if len(devices) == 0 {
		fmt.Fprintln(out, "カメラが見つかりません")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DEVICE ID\tLABEL\tFACING")
	for _, d := range devices {
		facing := string(d.FacingMode)
		if facing == "" {
			facing = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", d.DeviceID, d.Label, facing)
	}
	return w.Flush()
}
