package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"tasklist/config"
)

type options struct {
	count  int
	prefix string
	start  int
	output string
	ttl    time.Duration
}

func newRootCmd() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "gen-token [subject]",
		Short: "Print HS256 bearer tokens accepted by the tasks API",
		Long: `gen-token signs tokens with the tasks API secret (AUTH_JWT_SECRET or the
auth.jwt_secret key of CONFIG_FILE). The first token is printed; with --output
every generated token is also written as a JSON array.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.count < 1 {
				return errors.New("count must be at least 1")
			}
			if opts.start < 1 {
				return errors.New("start index must be at least 1")
			}
			if len(args) > 0 && opts.count > 1 {
				return errors.New("explicit subject cannot be provided when generating multiple tokens")
			}

			cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
			if err != nil {
				return err
			}

			tokens, err := generateTokens(cfg.Auth.JWTSecret, opts, args)
			if err != nil {
				return fmt.Errorf("generate token: %w", err)
			}
			if opts.output != "" {
				if err := writeTokens(opts.output, tokens); err != nil {
					return fmt.Errorf("write tokens: %w", err)
				}
			}
			fmt.Fprint(cmd.OutOrStdout(), tokens[0])
			return nil
		},
	}

	cmd.Flags().IntVar(&opts.count, "count", 1, "number of tokens to generate")
	cmd.Flags().StringVar(&opts.prefix, "prefix", "user", "prefix for generated subjects when count > 1")
	cmd.Flags().IntVar(&opts.start, "start", 1, "starting index for generated subjects when count > 1")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "file to write generated tokens as a JSON array")
	cmd.Flags().DurationVar(&opts.ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatal(err)
	}
}
