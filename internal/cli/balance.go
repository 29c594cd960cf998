package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/eduquiz/rewards/internal/ledger"
)

func init() {
	rootCmd.AddCommand(balanceCmd)
}

var balanceCmd = &cobra.Command{
	Use:   "balance USER_ID",
	Short: "Show a user's gold, experience, and rank",
	Args:  cobra.ExactArgs(1),
	RunE:  runBalance,
}

func runBalance(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	st, _, cleanup, err := openStores(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	svc := ledger.New(st, ledgerConfig(cfg), nil)
	balance, err := svc.Balance(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "user:  %s\n", balance.UserID)
	fmt.Fprintf(os.Stdout, "gold:  %d\n", balance.Gold)
	fmt.Fprintf(os.Stdout, "exp:   %d\n", balance.Exp)
	fmt.Fprintf(os.Stdout, "rank:  %s\n", balance.Rank)
	return nil
}
