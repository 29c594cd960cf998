package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/eduquiz/rewards/internal/domain"
	"github.com/eduquiz/rewards/internal/ledger"
)

func init() {
	rootCmd.AddCommand(grantCmd)

	grantCmd.Flags().String("user", "", "Target user ID")
	grantCmd.Flags().Int64("gold", 0, "Gold to grant")
	grantCmd.Flags().Int64("exp", 0, "Experience to grant")
	grantCmd.Flags().String("reason", "", "Audit reason for the grant")
	grantCmd.Flags().String("actor", "", "Administrator performing the grant")
	grantCmd.MarkFlagRequired("user")
	grantCmd.MarkFlagRequired("reason")
	grantCmd.MarkFlagRequired("actor")
}

var grantCmd = &cobra.Command{
	Use:   "grant",
	Short: "Credit a user outside the event flow",
	Long: `Grant gold and/or experience directly. Every grant is audited with
the acting administrator and reason; amounts are bounded by config.`,
	RunE: runGrant,
}

func runGrant(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	user, _ := cmd.Flags().GetString("user")
	gold, _ := cmd.Flags().GetInt64("gold")
	exp, _ := cmd.Flags().GetInt64("exp")
	reason, _ := cmd.Flags().GetString("reason")
	actor, _ := cmd.Flags().GetString("actor")

	st, _, cleanup, err := openStores(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	svc := ledger.New(st, ledgerConfig(cfg), nil)
	result, err := svc.GrantAdminReward(cmd.Context(), user, domain.RewardAmount{Gold: gold, Exp: exp}, reason, actor)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "granted %d gold, %d exp to %s\n", result.Gold, result.Exp, user)
	if result.RankUp {
		fmt.Fprintf(os.Stdout, "rank up: %s → %s\n", result.PreviousRank, result.NewRank)
	}
	return nil
}
