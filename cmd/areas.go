package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"disgb/internal/area"
	"disgb/internal/spatial"
)

var (
	areasOwnBroker string
	lookupLat      float64
	lookupLon      float64
	intersectWKT   string
)

var areasCmd = &cobra.Command{
	Use:   "areas",
	Short: "Inspect area descriptor files",
	Long:  `Validate area descriptor files and run spatial queries against them offline.`,
}

var areasValidateCmd = &cobra.Command{
	Use:   "validate <areas-file>",
	Short: "Validate an area descriptor",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", args[0], err)
		}
		entries, err := area.ReadDescriptor(data)
		if err != nil {
			return err
		}

		for i, entry := range entries {
			a, err := entry.BrokerArea()
			if err != nil {
				return &area.ConfigError{Index: i, Reason: "invalid broker area", Err: err}
			}
			cmd.Printf("  %s: %s\n", a.ResponsibleBroker, a.CoveredArea)
		}

		if areasOwnBroker != "" {
			manager, err := area.Load(entries, areasOwnBroker)
			if err != nil {
				return err
			}
			if !manager.HasOwnArea() {
				return fmt.Errorf("broker %s: %w", areasOwnBroker, area.ErrOwnAreaMissing)
			}
		}

		cmd.Printf("Area descriptor is valid: %d entries\n", len(entries))
		return nil
	},
}

var areasLookupCmd = &cobra.Command{
	Use:     "lookup <areas-file>",
	Short:   "Find the broker responsible for a location",
	Args:    cobra.ExactArgs(1),
	PreRunE: requireOwnBroker,
	RunE: func(cmd *cobra.Command, args []string) error {
		manager, err := area.LoadFile(args[0], areasOwnBroker)
		if err != nil {
			return err
		}

		loc := spatial.NewLocation(lookupLat, lookupLon)
		if err := loc.Validate(); err != nil {
			return err
		}

		if manager.OwnContains(loc) {
			cmd.Printf("%s is inside the own area of %s\n", loc, areasOwnBroker)
		}
		owner, ok := manager.FindOwnerOfLocation(loc)
		if !ok {
			cmd.Printf("No other broker is responsible for %s\n", loc)
			return nil
		}
		cmd.Printf("%s is owned by %s\n", loc, owner)
		return nil
	},
}

var areasIntersectCmd = &cobra.Command{
	Use:     "intersect <areas-file>",
	Short:   "List the brokers whose areas intersect a geofence",
	Args:    cobra.ExactArgs(1),
	PreRunE: requireOwnBroker,
	RunE: func(cmd *cobra.Command, args []string) error {
		manager, err := area.LoadFile(args[0], areasOwnBroker)
		if err != nil {
			return err
		}

		fence, err := spatial.ParseGeofence(intersectWKT)
		if err != nil {
			return fmt.Errorf("invalid geofence: %w", err)
		}

		brokers := manager.FindBrokersIntersecting(fence)
		cmd.Printf("%d other brokers intersect %s\n", len(brokers), fence)
		for _, b := range brokers {
			cmd.Printf("  - %s\n", b)
		}
		if manager.OwnIntersects(fence) {
			cmd.Printf("The own area of %s intersects as well\n", areasOwnBroker)
		}
		return nil
	},
}

// requireOwnBroker rejects queries that need to know which descriptor entry is the own one
func requireOwnBroker(cmd *cobra.Command, args []string) error {
	if areasOwnBroker == "" {
		return fmt.Errorf("--own is required for %s", cmd.Name())
	}
	return nil
}

func init() {
	areasCmd.PersistentFlags().StringVar(&areasOwnBroker, "own", "", "Broker id the descriptor is read for")

	areasLookupCmd.Flags().Float64Var(&lookupLat, "lat", 0, "Latitude in degrees")
	areasLookupCmd.Flags().Float64Var(&lookupLon, "lon", 0, "Longitude in degrees")
	areasLookupCmd.MarkFlagRequired("lat")
	areasLookupCmd.MarkFlagRequired("lon")

	areasIntersectCmd.Flags().StringVar(&intersectWKT, "wkt", "", "Geofence as WKT or BUFFER(POINT(lon lat), meters)")
	areasIntersectCmd.MarkFlagRequired("wkt")

	areasCmd.AddCommand(areasValidateCmd)
	areasCmd.AddCommand(areasLookupCmd)
	areasCmd.AddCommand(areasIntersectCmd)
}
