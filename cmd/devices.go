package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/TDG-AI/HA-TrueX/internal/pkg/logging"
	"github.com/TDG-AI/HA-TrueX/internal/pkg/registry"
)

var (
	_devicesAsJSON bool
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "Resolve the account and list its devices once",

	RunE: func(cmd *cobra.Command, args []string) error {
		if err := doDevices(); err != nil {
			return err
		}

		return nil
	},

	PreRunE: func(cmd *cobra.Command, args []string) error {
		return checkRequiredFlags("cube.api-url", "cube.client-id", "cube.client-secret",
			"cube.schema", "cube.username")
	},
}

func init() {
	devicesCmd.Flags().BoolVar(&_devicesAsJSON, "json", false, "Return device list as JSON")
	errPanic(viper.GetViper().BindPFlag("json", devicesCmd.Flags().Lookup("json")))

	rootCmd.AddCommand(devicesCmd)
}

// doDevices runs the setup sequence once and prints what it found; the
// quickest way to verify credentials and the account schema
func doDevices() error {
	client, err := buildClient()
	if err != nil {
		return err
	}
	defer client.Close()

	ctx := context.Background()

	if err := client.Bootstrap(ctx); err != nil {
		return err
	}

	user, err := client.ResolveUser(ctx, viper.GetString("cube.username"))
	if err != nil {
		return err
	}
	logging.Logger(nil).Infof("resolved uid %s", user.UID)

	reg := registry.New(client)
	if _, err := reg.LoadAll(ctx, user.UID); err != nil {
		return err
	}

	devices := reg.All()

	if viper.GetBool("json") {
		b, err := json.MarshalIndent(devices, "", "    ")
		if err != nil {
			return err
		}

		fmt.Println(string(b))
		return nil
	}

	for _, d := range devices {
		online := "offline"
		if d.Info.Online {
			online = "online"
		}
		fmt.Printf("%-24s  %-20s  %-12s  %-8s  %d capabilities\n",
			d.Info.ID, d.Info.Name, d.Spec.Kind(), online, len(d.Spec.Points))
	}

	return nil
}
