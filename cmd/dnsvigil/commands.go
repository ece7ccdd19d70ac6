package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dnsvigil/dnsvigil/internal/commands"
	"github.com/dnsvigil/dnsvigil/internal/config"
	"github.com/dnsvigil/dnsvigil/internal/logging"
	"github.com/dnsvigil/dnsvigil/internal/state"
	"github.com/dnsvigil/dnsvigil/internal/store"
)

// withService connects to the store and hands a command Service to fn.
func withService(fn func(ctx context.Context, svc *commands.Service) error) error {
	cfg := config.Load()
	logging.Init(logging.Config{Format: cfg.LogFormat, Level: "warn"})

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	st := store.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer st.Close()
	if err := st.Ping(ctx); err != nil {
		return fmt.Errorf("redis at %s is unreachable: %w", cfg.RedisAddr, err)
	}

	domains := config.NewDomainSource(cfg.Domains, cfg.DomainsFile)
	defer domains.Stop()
	svc := commands.NewService(state.NewRepo(st), domains.Domains)
	return fn(ctx, svc)
}

var domainsCmd = &cobra.Command{
	Use:   "domains",
	Short: "Manage the monitored domain lists",
}

var domainsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print static and dynamic domains",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(func(ctx context.Context, svc *commands.Service) error {
			list, err := svc.ListDomains(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Static (%d):\n", len(list.Static))
			for _, d := range list.Static {
				fmt.Printf("  %s\n", d)
			}
			fmt.Printf("Dynamic (%d):\n", len(list.Dynamic))
			for _, d := range list.Dynamic {
				fmt.Printf("  %s\n", d)
			}
			return nil
		})
	},
}

var domainsAddCmd = &cobra.Command{
	Use:   "add <domain>",
	Short: "Add a domain to the dynamic list",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(func(ctx context.Context, svc *commands.Service) error {
			res, err := svc.AddDynamic(ctx, args[0])
			if res == commands.AddInvalid && err != nil {
				return err
			}
			fmt.Println(res)
			return err
		})
	},
}

var domainsRemoveCmd = &cobra.Command{
	Use:   "remove <domain>",
	Short: "Remove a domain from the dynamic list and delete its state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(func(ctx context.Context, svc *commands.Service) error {
			res, err := svc.RemoveDynamic(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Println(res)
			return nil
		})
	},
}

var domainsRemoveSubtreeCmd = &cobra.Command{
	Use:   "remove-subtree <domain>",
	Short: "Remove a domain and everything underneath it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(func(ctx context.Context, svc *commands.Service) error {
			res, err := svc.RemoveSubtree(ctx, args[0])
			if err != nil {
				return err
			}
			for _, d := range res.Removed {
				fmt.Printf("removed  %s\n", d)
			}
			for _, d := range res.Refused {
				fmt.Printf("refused  %s (static)\n", d)
			}
			if len(res.Removed) == 0 && len(res.Refused) == 0 {
				fmt.Println("nothing matched")
			}
			return nil
		})
	},
}

var dampeningCmd = &cobra.Command{
	Use:   "dampening",
	Short: "Inspect or clear notification dampening",
}

var dampeningGetCmd = &cobra.Command{
	Use:   "get <domain>",
	Short: "Show the dampening state of a domain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(func(ctx context.Context, svc *commands.Service) error {
			report, err := svc.GetDampening(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Domain:            %s\n", report.Domain)
			if report.HasNotified {
				fmt.Printf("Last notification: %s\n", report.LastNotificationAt.UTC().Format(time.RFC3339))
			} else {
				fmt.Println("Last notification: never")
			}
			if report.Suppressed {
				fmt.Printf("Suppressed until:  %s\n", report.SuppressedUntil.UTC().Format(time.RFC3339))
			} else {
				fmt.Println("Suppressed:        no")
			}
			fmt.Printf("Changes last hour: %d\n", report.ChangesLastHour)
			return nil
		})
	},
}

var dampeningClearCmd = &cobra.Command{
	Use:   "clear <domain>",
	Short: "Clear dampening so the next change notifies immediately",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(func(ctx context.Context, svc *commands.Service) error {
			if err := svc.ClearDampening(ctx, args[0]); err != nil {
				return err
			}
			fmt.Println("cleared")
			return nil
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <domain>",
	Short: "Show the monitoring snapshot of a domain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(func(ctx context.Context, svc *commands.Service) error {
			report, err := svc.GetStatus(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Domain:  %s\n", report.Domain)
			fmt.Printf("State:   %s\n", report.State)
			fmt.Printf("IPs:     %s\n", state.Signature(report.LastIPs))
			fmt.Printf("Serial:  %s\n", report.LastSerial)
			fmt.Printf("Source:  static=%v dynamic=%v\n", report.Static, report.Dynamic)
			if len(report.History) > 0 {
				fmt.Println("History:")
				for _, obs := range report.History {
					fmt.Printf("  %s  %s\n", obs.At().UTC().Format(time.RFC3339), state.Signature(obs.IPs))
				}
			}
			return nil
		})
	},
}

func init() {
	domainsCmd.AddCommand(domainsListCmd)
	domainsCmd.AddCommand(domainsAddCmd)
	domainsCmd.AddCommand(domainsRemoveCmd)
	domainsCmd.AddCommand(domainsRemoveSubtreeCmd)
	dampeningCmd.AddCommand(dampeningGetCmd)
	dampeningCmd.AddCommand(dampeningClearCmd)
}
