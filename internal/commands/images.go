package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"evalgo.org/inventory/internal/inventory"
	"evalgo.org/inventory/internal/logging"
	"evalgo.org/inventory/internal/storage"
	"evalgo.org/inventory/models"
)

var (
	imagesLimit     int
	imagesRole      string
	imagesChipset   string
	imagesType      string
	imagesState     string
	imagesFilter    string
	imagesInstalled string
	imagesFormat    string
)

// openStore is replaced in tests.
var openStore = func(ctx context.Context, logger *zap.Logger) (storage.Store, error) {
	return storage.New(ctx, cfg, logger)
}

var imagesCmd = &cobra.Command{
	Use:   "images",
	Short: "Query the image catalog",
	Long:  `Query images and their deployment directly from the configured storage backend`,
}

var imagesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List images",
	Long: `List images with optional filtering.

Examples:
  inventory images list
  inventory images list --role LEAF --chipset TH3
  inventory images list --type LXC --state RELEASE --format json`,
	Args: cobra.NoArgs,
	RunE: runImagesList,
}

var imagesApplicableCmd = &cobra.Command{
	Use:   "applicable",
	Short: "List images applicable to a role and chipset",
	Long: `List the non-revoked images that fit an element, newest first.

Examples:
  inventory images applicable --role LEAF --chipset TH3
  inventory images applicable --role SPINE --type ONIE --installed 1.2.0`,
	Args: cobra.NoArgs,
	RunE: runImagesApplicable,
}

var imagesStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show image deployment statistics",
	Long:  `Display how many elements of each group have an image installed.`,
	Args:  cobra.NoArgs,
	RunE:  runImagesStats,
}

func init() {
	imagesCmd.AddCommand(imagesListCmd)
	imagesCmd.AddCommand(imagesApplicableCmd)
	imagesCmd.AddCommand(imagesStatsCmd)

	imagesCmd.PersistentFlags().StringVar(&imagesFormat, "format", formatTable, "output format (table, json)")

	imagesListCmd.Flags().IntVar(&imagesLimit, "limit", 100, "maximum results")
	imagesListCmd.Flags().StringVar(&imagesRole, "role", "", "filter by element role")
	imagesListCmd.Flags().StringVar(&imagesChipset, "chipset", "", "filter by platform chipset")
	imagesListCmd.Flags().StringVar(&imagesType, "type", "", "filter by image type")
	imagesListCmd.Flags().StringVar(&imagesState, "state", "", "filter by image state")
	imagesListCmd.Flags().StringVar(&imagesFilter, "filter", "", "filter by image name substring")

	imagesApplicableCmd.Flags().StringVar(&imagesRole, "role", "", "element role")
	imagesApplicableCmd.Flags().StringVar(&imagesChipset, "chipset", "", "platform chipset")
	imagesApplicableCmd.Flags().StringVar(&imagesType, "type", "", "image type")
	imagesApplicableCmd.Flags().StringVar(&imagesInstalled, "installed", "", "only list versions newer than this one")
}

// withService opens the storage backend for the duration of fn.
func withService(cmd *cobra.Command, fn func(ctx context.Context, svc *inventory.Service) error) error {
	if err := checkFormat(imagesFormat); err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx := commandContext(cmd)

	store, err := openStore(ctx, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	return fn(ctx, inventory.NewService(store, inventory.WithLogger(logger)))
}

func runImagesList(cmd *cobra.Command, args []string) error {
	q := models.ImageQuery{
		ElementRole:     imagesRole,
		PlatformChipset: imagesChipset,
		ImageType:       imagesType,
		Filter:          imagesFilter,
		Limit:           imagesLimit,
	}
	if imagesState != "" {
		state, err := models.ParseImageState(imagesState)
		if err != nil {
			return err
		}
		q.ImageState = state
	}

	return withService(cmd, func(ctx context.Context, svc *inventory.Service) error {
		images, err := svc.FindImages(ctx, q)
		if err != nil {
			return fmt.Errorf("failed to list images: %w", err)
		}
		return printImages(cmd, images)
	})
}

func runImagesApplicable(cmd *cobra.Command, args []string) error {
	q := inventory.ApplicabilityQuery{
		Role:      imagesRole,
		Chipset:   imagesChipset,
		ImageType: imagesType,
	}
	if imagesInstalled != "" {
		v, err := models.ParseVersion(imagesInstalled)
		if err != nil {
			return err
		}
		q.After = v
	}

	return withService(cmd, func(ctx context.Context, svc *inventory.Service) error {
		images, err := svc.ApplicableImages(ctx, q)
		if err != nil {
			return fmt.Errorf("failed to list applicable images: %w", err)
		}
		return printImages(cmd, images)
	})
}

func runImagesStats(cmd *cobra.Command, args []string) error {
	return withService(cmd, func(ctx context.Context, svc *inventory.Service) error {
		stats, err := svc.DeploymentStatistics(ctx)
		if err != nil {
			return fmt.Errorf("failed to compute statistics: %w", err)
		}

		out := cmd.OutOrStdout()
		if imagesFormat == formatJSON {
			return printJSON(out, stats)
		}

		w := newTable(out, "IMAGE\tGROUP\tELEMENTS")
		for _, s := range stats {
			fmt.Fprintf(w, "%s\t%s\t%d\n", s.ImageID, s.GroupID, s.Count)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(out, "\nTotal: %d image/group pairs\n", len(stats))
		return nil
	})
}

func printImages(cmd *cobra.Command, images []*models.Image) error {
	out := cmd.OutOrStdout()
	if imagesFormat == formatJSON {
		return printJSON(out, images)
	}

	w := newTable(out, "ID\tNAME\tTYPE\tVERSION\tSTATE\tROLE\tCHIPSET")
	for _, img := range images {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			img.ID, img.Name, img.ImageType, img.Version, img.State,
			orAny(img.ElementRole), orAny(img.PlatformChipset))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "\nTotal: %d images\n", len(images))
	return nil
}

func orAny(s string) string {
	if s == "" {
		return "*"
	}
	return s
}
