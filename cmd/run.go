// File: cmd/run.go
package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/vacbot/internal/browser"
	"github.com/xkilldash9x/vacbot/internal/config"
	"github.com/xkilldash9x/vacbot/internal/controller"
	"github.com/xkilldash9x/vacbot/internal/cowin"
	"github.com/xkilldash9x/vacbot/internal/notify"
	"github.com/xkilldash9x/vacbot/internal/observability"
	"github.com/xkilldash9x/vacbot/internal/poller"
)

const closeTimeout = 15 * time.Second

// runner is what the run command drives. *controller.Controller satisfies it.
type runner interface {
	Run(ctx context.Context) (*controller.Result, error)
	Close(ctx context.Context) error
}

// newRunner is swapped out in tests.
var newRunner = buildController

// newRunCmd creates and configures the `run` command.
func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Sign in, wait for an eligible slot and book it",
		Long: `Opens the self-registration site, types the phone number and waits for you
to enter the OTP in the browser window. Once signed in it polls the district
calendar until a slot opens, shows the captcha on the page and books as soon as
you have typed the answer.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := configFromContext(ctx)
			if err != nil {
				return err
			}
			if err := applyRunFlags(cmd, cfg); err != nil {
				return err
			}

			phone := cfg.Run().PhoneNumber
			if phone == "" {
				phone, err = promptPhone(cmd.InOrStdin(), cmd.OutOrStdout())
				if err != nil {
					return err
				}
				cfg.SetRunConfig(config.RunConfig{PhoneNumber: phone})
			}

			logger.Info("Starting booking run",
				zap.Int("district_id", cfg.Poller().DistrictID),
				zap.Bool("headless", cfg.Browser().Headless),
				zap.String("api_transport", cfg.API().Transport))

			r, err := newRunner(cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize booking components: %w", err)
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
				defer cancel()
				if err := r.Close(closeCtx); err != nil {
					logger.Warn("Failed to close browser cleanly", zap.Error(err))
				}
			}()

			res, runErr := r.Run(ctx)
			if res != nil {
				printResult(cmd.OutOrStdout(), res)
			}
			if runErr != nil {
				if errors.Is(runErr, context.Canceled) {
					logger.Warn("Booking run aborted by user signal")
				}
				return runErr
			}
			if res != nil && res.BookingErr != nil {
				return fmt.Errorf("booking was not accepted: %w", res.BookingErr)
			}
			return nil
		},
	}

	runCmd.Flags().StringP("phone", "p", "", "Mobile number registered on the site (prompted for when empty)")
	runCmd.Flags().IntP("district", "d", 0, "District id to poll (overrides poller.district_id)")
	runCmd.Flags().Bool("headless", false, "Run the browser without a window (overrides browser.headless)")
	runCmd.Flags().Duration("timeout", 0, "Bound on every page wait, including OTP and captcha entry (overrides browser.default_timeout)")

	return runCmd
}

// applyRunFlags copies explicitly set flags over the loaded configuration.
func applyRunFlags(cmd *cobra.Command, cfg config.Interface) error {
	flags := cmd.Flags()

	phone, _ := flags.GetString("phone")
	cfg.SetRunConfig(config.RunConfig{PhoneNumber: strings.TrimSpace(phone)})

	if flags.Changed("district") {
		id, _ := flags.GetInt("district")
		if id <= 0 {
			return fmt.Errorf("--district must be a positive integer")
		}
		cfg.SetPollerDistrictID(id)
	}
	if flags.Changed("headless") {
		headless, _ := flags.GetBool("headless")
		cfg.SetBrowserHeadless(headless)
	}
	if flags.Changed("timeout") {
		d, _ := flags.GetDuration("timeout")
		if d <= 0 {
			return fmt.Errorf("--timeout must be a positive duration")
		}
		cfg.SetBrowserDefaultTimeout(d)
	}
	return nil
}

// promptPhone reads a phone number from in.
func promptPhone(in io.Reader, out io.Writer) (string, error) {
	fmt.Fprint(out, "Enter the registered mobile number: ")
	scanner := bufio.NewScanner(in)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", fmt.Errorf("failed to read phone number: %w", err)
		}
		return "", controller.ErrNoPhoneNumber
	}
	phone := strings.TrimSpace(scanner.Text())
	if phone == "" {
		return "", controller.ErrNoPhoneNumber
	}
	return phone, nil
}

// buildController wires the launcher, API client, poller and notifiers.
func buildController(cfg config.Interface, logger *zap.Logger) (runner, error) {
	apiCfg := cfg.API()
	opts := cowin.Options{
		BaseURL:           apiCfg.BaseURL,
		Timeout:           apiCfg.Timeout,
		RequestsPerSecond: apiCfg.RequestsPerSecond,
		UserAgent:         apiCfg.UserAgent,
	}

	var onSurface func(browser.Surface)
	if strings.EqualFold(apiCfg.Transport, "page") {
		// API calls ride the signed-in tab, which follows the surface across restarts.
		pt := browser.NewPageTransport()
		opts.Transport = pt
		onSurface = func(s browser.Surface) { pt.Bind(s) }
	}

	client, err := cowin.NewClient(opts, logger)
	if err != nil {
		return nil, err
	}

	notifier, err := notify.FromConfig(cfg.Notify(), logger)
	if err != nil {
		return nil, err
	}

	ctrl, err := controller.New(cfg, controller.Deps{
		Launcher:  browser.NewChromeLauncher(cfg.Browser(), logger),
		API:       client,
		Finder:    poller.New(client, cfg.Poller(), logger),
		Notifier:  notifier,
		OnSurface: onSurface,
	}, logger)
	if err != nil {
		return nil, err
	}
	return ctrl, nil
}

func printResult(out io.Writer, res *controller.Result) {
	fmt.Fprintf(out, "\nRun %s finished in state %s after %d restart(s).\n", res.RunID, res.State, res.Restarts)
	if res.State == controller.StateFailed {
		fmt.Fprintf(out, "Failed while in %s.\n", res.FailedAt)
	}
	if res.Slot != nil {
		fmt.Fprintf(out, "Slot: %s (centre %d) on %s, session %s\n",
			res.Slot.CenterName, res.Slot.CenterID, res.Slot.Date, res.Slot.SessionID)
	}
	if res.Request != nil {
		fmt.Fprintf(out, "Requested time: %s for %d beneficiar(y/ies)\n", res.Request.Slot, len(res.Request.Beneficiaries))
	}
	switch {
	case res.BookingErr != nil:
		fmt.Fprintf(out, "Booking failed: %v\n", res.BookingErr)
	case res.ConfirmationNo != "":
		fmt.Fprintf(out, "Booked. Confirmation number: %s\n", res.ConfirmationNo)
	case res.State == controller.StateDone:
		fmt.Fprintln(out, "Booking submitted.")
	}
}
