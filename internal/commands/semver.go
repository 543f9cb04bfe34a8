package commands

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
	"github.com/spf13/cobra"

	"evalgo.org/inventory/internal/inventory"
	"evalgo.org/inventory/models"
)

var (
	semverConstraint string
	semverFormat     string
)

var semverCmd = &cobra.Command{
	Use:   "semver",
	Short: "Compare image versions and compute upgrades",
}

var semverCompareCmd = &cobra.Command{
	Use:   "compare [a] [b]",
	Short: "Compare two image versions",
	Long: `Compare two image versions and print -1, 0 or 1.

A release sorts after all of its pre-releases, pre-releases compare
lexicographically.

Examples:
  inventory semver compare 1.2.0 1.10.0
  inventory semver compare 2.1.0-RC0 2.1.0`,
	Args: cobra.ExactArgs(2),
	RunE: runSemverCompare,
}

var semverUpgradesCmd = &cobra.Command{
	Use:   "upgrades [installed] [candidates...]",
	Short: "List the upgrades available from an installed version",
	Long: `Classify every candidate newer than the installed version as a MAJOR
or MINOR upgrade, highest version first.

Examples:
  inventory semver upgrades 1.0.0 1.0.1 1.1.0 2.0.0
  inventory semver upgrades 1.0.0 1.1.0 2.0.0 --constraint "<2.0.0"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSemverUpgrades,
}

func init() {
	semverCmd.AddCommand(semverCompareCmd)
	semverCmd.AddCommand(semverUpgradesCmd)

	semverUpgradesCmd.Flags().StringVar(&semverConstraint, "constraint", "", "only consider candidates matching a semver constraint, e.g. \"~1.2\"")
	semverUpgradesCmd.Flags().StringVar(&semverFormat, "format", formatTable, "output format (table, json)")
}

func runSemverCompare(cmd *cobra.Command, args []string) error {
	a, err := models.ParseVersion(args[0])
	if err != nil {
		return err
	}
	b, err := models.ParseVersion(args[1])
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), a.Compare(b))
	return nil
}

func runSemverUpgrades(cmd *cobra.Command, args []string) error {
	if err := checkFormat(semverFormat); err != nil {
		return err
	}

	installed, err := versionImage(args[0])
	if err != nil {
		return err
	}

	var constraint *semver.Constraints
	if semverConstraint != "" {
		constraint, err = semver.NewConstraint(semverConstraint)
		if err != nil {
			return fmt.Errorf("invalid constraint %q: %w", semverConstraint, err)
		}
	}

	candidates := make([]*models.Image, 0, len(args)-1)
	for _, arg := range args[1:] {
		img, err := versionImage(arg)
		if err != nil {
			return err
		}
		if constraint != nil && !matches(constraint, img.Version) {
			continue
		}
		candidates = append(candidates, img)
	}

	upgrades, err := inventory.ComputeAvailableUpgrades(installed, candidates)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if semverFormat == formatJSON {
		return printJSON(out, upgrades)
	}

	w := newTable(out, "VERSION\tUPGRADE")
	for _, u := range upgrades {
		fmt.Fprintf(w, "%s\t%s\n", u.ImageVersion, u.UpgradeType)
	}
	return w.Flush()
}

func matches(c *semver.Constraints, v models.Version) bool {
	sv, err := semver.NewVersion(v.String())
	if err != nil {
		return false
	}
	return c.Check(sv)
}

// versionImage wraps a bare version in a released image named after it.
func versionImage(s string) (*models.Image, error) {
	v, err := models.ParseVersion(s)
	if err != nil {
		return nil, err
	}
	return &models.Image{
		ID:      v.String(),
		Name:    v.String(),
		Version: v,
		State:   models.ImageStateRelease,
	}, nil
}
