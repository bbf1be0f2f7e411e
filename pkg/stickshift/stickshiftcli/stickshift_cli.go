package stickshiftcli

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/stickshift-dev/stickshift/pkg/stickshift"
)

func Main(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) error {
	cmd := NewRootCmd()
	cmd.SetArgs(args)
	cmd.SetIn(in)
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	return cmd.ExecuteContext(ctx)
}

type daemonProvider func() *stickshift.Daemon

func NewRootCmd() *cobra.Command {
	cfg := stickshift.Config{
		InputDevice: "/dev/input/js0",
	}
	rootCmd := &cobra.Command{
		Use:   "stickshift",
		Short: "Shift-layered joystick remapper",
		Long:  `StickShift exposes a virtual joystick device that remaps a real joystick through shift layers described in an XML map file.`,
	}
	var d *stickshift.Daemon
	daemonProvider := func() *stickshift.Daemon {
		return d
	}
	rootCmd.PersistentFlags().StringVarP(&cfg.InputDevice, "indev", "I", cfg.InputDevice, "real joystick device")
	rootCmd.PersistentFlags().StringVarP(&cfg.MapFile, "config", "c", "", "map file")
	rootCmd.PersistentFlags().StringVarP(&cfg.OutputDevice, "outdev", "O", "", "existing character device to take device numbers from")
	rootCmd.PersistentFlags().Uint32VarP(&cfg.DevMajor, "maj", "M", 0, "device major number")
	rootCmd.PersistentFlags().Uint32VarP(&cfg.DevMinor, "min", "m", 0, "device minor number")
	rootCmd.PersistentFlags().BoolVar(&cfg.Calibrated, "calibrated", false, "write calibration set on the virtual device back to the map file")
	rootCmd.MarkPersistentFlagRequired("config")
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		var err error
		d, err = stickshift.New(cfg)
		return err
	}
	rootCmd.AddCommand(NewRun(daemonProvider))
	return rootCmd
}

func NewRun(daemon daemonProvider) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the StickShift daemon",
		Long:  `Register the virtual joystick with the kernel and serve it until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return daemon().Run(cmd.Context())
		},
	}
}
