package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ppiankov/trustgate/internal/model"
)

var (
	pkgActor       string
	pkgMinMaturity string
	pkgBanReason   string
	pkgStatus      string
)

func init() {
	rootCmd.AddCommand(packageCmd)
	packageCmd.AddCommand(packageRequestCmd, packageApproveCmd, packageBanCmd, packageListCmd)
	packageCmd.PersistentFlags().StringVar(&pkgActor, "by", os.Getenv("USER"), "Operator or agent recorded on the registry entry")
	packageApproveCmd.Flags().StringVar(&pkgMinMaturity, "min-maturity", "", "Lowest tier allowed to use the package (default from policy)")
	packageBanCmd.Flags().StringVar(&pkgBanReason, "reason", "", "Ban reason (required)")
	packageBanCmd.MarkFlagRequired("reason")
	packageListCmd.Flags().StringVar(&pkgStatus, "status", "", "Filter by status (pending|active|banned)")
}

var packageCmd = &cobra.Command{
	Use:     "package",
	Aliases: []string{"pkg"},
	Short:   "Manage the package registry",
	Long: "Packages are addressed as name==version. Each version is an independent\n" +
		"registry entry moving pending -> active, or to banned from any state.\n" +
		"Use `trustgate can <agent> name==version --package` to check access.",
}

var packageRequestCmd = &cobra.Command{
	Use:   "request <name==version>",
	Short: "Register a package as pending approval",
	Args:  cobra.ExactArgs(1),
	RunE:  runPackageRequest,
}

var packageApproveCmd = &cobra.Command{
	Use:   "approve <name==version>",
	Short: "Activate a package for agents at or above a tier",
	Args:  cobra.ExactArgs(1),
	RunE:  runPackageApprove,
}

var packageBanCmd = &cobra.Command{
	Use:   "ban <name==version>",
	Short: "Ban a package version",
	Args:  cobra.ExactArgs(1),
	RunE:  runPackageBan,
}

var packageListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registry entries",
	Args:  cobra.NoArgs,
	RunE:  runPackageList,
}

func runPackageRequest(cmd *cobra.Command, args []string) error {
	name, ver, err := splitPackage(args[0])
	if err != nil {
		return err
	}
	ctx := context.Background()
	eng, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer eng.Close()

	entry, created, err := eng.Packages.RequestPackageApproval(ctx, name, ver, pkgActor)
	if err != nil {
		return err
	}
	if !created {
		fmt.Fprintf(os.Stderr, "%s already registered (%s)\n", entry.Key(), entry.Status)
	}
	return printJSON(cmd.OutOrStdout(), entry)
}

func runPackageApprove(cmd *cobra.Command, args []string) error {
	name, ver, err := splitPackage(args[0])
	if err != nil {
		return err
	}
	ctx := context.Background()
	eng, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer eng.Close()

	cfg, _ := eng.Governance.Policy()
	minLevel := cfg.PackageMinMaturity
	if pkgMinMaturity != "" {
		if minLevel, err = model.ParseLevel(pkgMinMaturity); err != nil {
			return err
		}
	}
	entry, err := eng.Packages.ApprovePackage(ctx, name, ver, minLevel, pkgActor)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), entry)
}

func runPackageBan(cmd *cobra.Command, args []string) error {
	name, ver, err := splitPackage(args[0])
	if err != nil {
		return err
	}
	ctx := context.Background()
	eng, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer eng.Close()

	entry, err := eng.Packages.BanPackage(ctx, name, ver, pkgBanReason, pkgActor)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), entry)
}

func runPackageList(cmd *cobra.Command, args []string) error {
	var status *model.PackageStatus
	if pkgStatus != "" {
		s := model.PackageStatus(pkgStatus)
		status = &s
	}
	ctx := context.Background()
	eng, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer eng.Close()

	entries, err := eng.Packages.ListPackages(ctx, status)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PACKAGE\tSTATUS\tMIN_MATURITY\tNOTE")
	for _, e := range entries {
		note := e.ApprovedBy
		if e.Status == model.PackageBanned {
			note = e.BanReason
		} else if e.Status == model.PackagePending {
			note = e.RequestedBy
		}
		fmt.Fprintf(tw, "%s==%s\t%s\t%s\t%s\n", e.Name, e.Version, e.Status, e.MinMaturity, note)
	}
	return tw.Flush()
}
