package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cartpilot/api/schemas"
	"github.com/xkilldash9x/cartpilot/internal/agent"
	"github.com/xkilldash9x/cartpilot/internal/api"
	"github.com/xkilldash9x/cartpilot/internal/observability"
	"github.com/xkilldash9x/cartpilot/internal/workflow"
)

// shopOptions are the flags of the shop command.
type shopOptions struct {
	store        string
	pick         int
	checkout     bool
	shippingFile string
	headless     bool
	headlessSet  bool
}

// newShopCmd creates the `shop` command, which runs the workflow in process.
func newShopCmd(factory componentFactory) *cobra.Command {
	opts := shopOptions{pick: -1}

	shopCmd := &cobra.Command{
		Use:   "shop <intent>",
		Short: "Search the stores for an intent and optionally walk a pick to checkout",
		Long: `Plans the intent, searches the stores and prints the ranked products.
With --pick the chosen product is added to the cart; with --checkout the agent
continues to the checkout page and stops before payment.`,
		Args: cobra.MinimumNArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.checkout && opts.pick < 0 {
				return errors.New("--checkout requires --pick")
			}
			if opts.shippingFile != "" && !opts.checkout {
				return errors.New("--shipping-file requires --checkout")
			}
			if opts.store != "" {
				if _, ok := schemas.ParseStoreName(opts.store); !ok {
					return fmt.Errorf("unsupported store %q", opts.store)
				}
			}
			opts.headlessSet = cmd.Flags().Changed("headless")
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}

			var shipping schemas.ShippingFields
			if opts.shippingFile != "" {
				if shipping, err = loadShipping(opts.shippingFile); err != nil {
					return err
				}
			}

			comps, err := factory(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize components: %w", err)
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
				defer cancel()
				comps.Shutdown(shutdownCtx)
			}()

			return runShop(ctx, cmd.OutOrStdout(), comps.Agent, strings.Join(args, " "), opts, shipping)
		},
	}

	shopCmd.Flags().StringVar(&opts.store, "store", "", "Search only this store (amazon, ebay, walmart, generic).")
	shopCmd.Flags().IntVar(&opts.pick, "pick", -1, "Index of the product to add to the cart.")
	shopCmd.Flags().BoolVar(&opts.checkout, "checkout", false, "Continue the pick to the checkout page.")
	shopCmd.Flags().StringVar(&opts.shippingFile, "shipping-file", "", "YAML or JSON file with shipping fields to fill at checkout.")
	shopCmd.Flags().BoolVar(&opts.headless, "headless", true, "Run the browser headless. (Overrides config/env)")

	return shopCmd
}

// runShop drives discover, then choose and checkout when requested.
func runShop(ctx context.Context, out io.Writer, shopper api.Shopper, intent string, opts shopOptions, shipping schemas.ShippingFields) error {
	var headless *bool
	if opts.headlessSet {
		headless = &opts.headless
	}
	var hint schemas.StoreName
	if opts.store != "" {
		hint, _ = schemas.ParseStoreName(opts.store)
	}

	found, err := shopper.Discover(ctx, agent.DiscoverRequest{Intent: intent, StoreHint: hint, Headless: headless})
	if err != nil {
		return err
	}
	printDiscovery(out, found)

	if opts.pick < 0 {
		return nil
	}
	chosen, err := shopper.Choose(ctx, found.SessionID, agent.ChooseRequest{Selector: workflow.ByIndex(opts.pick), Headless: headless})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "\nChose %q: %s\n", chosen.Product.Title, chosen.Status)
	fmt.Fprintf(out, "Page: %s\n", chosen.PageURL)
	printEvidence(out, chosen.Artifact, chosen.Blocker)

	if !opts.checkout {
		return nil
	}
	done, err := shopper.Checkout(ctx, found.SessionID, agent.CheckoutRequest{Shipping: shipping, Headless: headless})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "\nCheckout: %s\n", done.Status)
	fmt.Fprintf(out, "URL: %s\n", done.CheckoutURL)
	if len(done.FilledFields) > 0 {
		names := make([]string, 0, len(done.FilledFields))
		for _, f := range done.FilledFields {
			names = append(names, string(f))
		}
		fmt.Fprintf(out, "Filled: %s\n", strings.Join(names, ", "))
	}
	printEvidence(out, done.Artifact, done.Blocker)
	fmt.Fprintln(out, done.Note)
	return nil
}

func printDiscovery(out io.Writer, res agent.DiscoverResult) {
	fmt.Fprintf(out, "Session %s\n", res.SessionID)
	fmt.Fprintf(out, "Query %q", res.Plan.Query)
	if res.Plan.Store != "" {
		fmt.Fprintf(out, " on %s", res.Plan.Store)
	}
	if res.Plan.MaxPrice != nil {
		fmt.Fprintf(out, " under %.2f", *res.Plan.MaxPrice)
	}
	fmt.Fprintln(out)

	if len(res.Products) == 0 {
		fmt.Fprintln(out, "No products found.")
		return
	}
	for _, p := range res.Products {
		price := "n/a"
		if p.Price != nil {
			price = fmt.Sprintf("%s%.2f", p.Currency, *p.Price)
		}
		fmt.Fprintf(out, "[%d] %-10s %s (%s)\n    %s\n", p.Index, price, p.Title, p.Store, p.URL)
	}
}

func printEvidence(out io.Writer, artifactPath string, blocker *schemas.Blocker) {
	if artifactPath != "" {
		fmt.Fprintf(out, "Screenshot: %s\n", artifactPath)
	}
	if blocker != nil {
		fmt.Fprintf(out, "Blocked (%s): %s\n", blocker.Kind, blocker.Reason)
	}
}

// loadShipping reads shipping fields from a YAML or JSON file. Keys may sit
// at the top level or under a "shipping" section.
func loadShipping(path string) (schemas.ShippingFields, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read shipping file: %w", err)
	}

	fields := make(schemas.ShippingFields)
	for _, f := range schemas.ShippingFieldOrder {
		key := string(f)
		switch {
		case v.IsSet("shipping." + key):
			fields[f] = v.GetString("shipping." + key)
		case v.IsSet(key):
			fields[f] = v.GetString(key)
		}
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("shipping file %s has no known fields", path)
	}
	observability.GetLogger().Debug("Shipping fields loaded.", zap.Int("fields", len(fields)))
	return fields, nil
}
