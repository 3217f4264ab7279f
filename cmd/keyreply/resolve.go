package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/memohai/keyreply/internal/logger"
	"github.com/memohai/keyreply/internal/reply"
	"github.com/memohai/keyreply/internal/settings"
	"github.com/memohai/keyreply/internal/storage"
)

type resolveOutput struct {
	Matched  bool            `json:"matched"`
	Decision *reply.Decision `json:"decision,omitempty"`
}

// newResolveCmd dry-runs a message against the stored settings. Nothing is sent and nothing is
// written, not even the defaults when the store is empty.
func newResolveCmd(configPath *string) *cobra.Command {
	var sender string
	cmd := &cobra.Command{
		Use:   "resolve [flags] <message text>",
		Short: "Show the reply a message would get, without sending it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(sender) == "" {
				return errors.New("--sender is required")
			}
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			log := logger.New(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
			backend, err := storage.Open(cmd.Context(), log, cfg.Store)
			if err != nil {
				return fmt.Errorf("open settings store: %w", err)
			}
			defer backend.Close()

			current, found, err := backend.Load(cmd.Context())
			if err != nil {
				return fmt.Errorf("load settings: %w", err)
			}
			if !found {
				current = settings.Default()
			}
			decision, ok := reply.Resolve(current, sender, strings.Join(args, " "))
			out := resolveOutput{Matched: ok}
			if ok {
				out.Decision = &decision
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetEscapeHTML(false)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().StringVarP(&sender, "sender", "s", "", "sender id as the transport reports it")
	return cmd
}
