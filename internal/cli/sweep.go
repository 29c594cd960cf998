package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/eduquiz/rewards/internal/ratelimit"
)

func init() {
	rootCmd.AddCommand(sweepCmd)
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete expired rate-limit records once and exit",
	Long: `Run one retention sweep against the configured store. Useful for
deployments that schedule maintenance externally instead of using the
daemon's built-in cron.`,
	RunE: runSweep,
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	_, rl, cleanup, err := openStores(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	limiter := ratelimit.New(rl, cfg.RateLimit.LimiterConfig())
	n, err := limiter.Sweep(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "swept %d expired rate-limit records\n", n)
	return nil
}
