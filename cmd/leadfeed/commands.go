package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	dossierdomain "leadpipeline_backend/internal/dossier/domain"
	"leadpipeline_backend/internal/dossier/render"
	feeddomain "leadpipeline_backend/internal/feed/domain"
	"leadpipeline_backend/internal/feed/parser"
	"leadpipeline_backend/internal/feed/schema"
	"leadpipeline_backend/internal/feed/transport"
	"leadpipeline_backend/platform/logger"
	"leadpipeline_backend/platform/metrics"
)

var (
	errRejected = errors.New("document rejected")
	errInvalid  = errors.New("document does not match schema")
)

type rootOptions struct {
	schemaDir string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "leadfeed",
		Short:         "Inspect lead feed documents and handover dossiers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.schemaDir, "schema-dir", os.Getenv("FEED_SCHEMA_DIR"),
		"Directory with schema overrides (defaults to the built-in definitions)")

	root.AddCommand(newParseCmd(opts), newValidateCmd(opts), newRenderCmd())
	return root
}

func (o *rootOptions) validator() *schema.Validator {
	return schema.NewValidator(schema.NewCache(schema.NewSource(o.schemaDir)))
}

func newParseCmd(opts *rootOptions) *cobra.Command {
	var (
		dealership string
		version    string
		region     string
		lenient    bool
	)
	cmd := &cobra.Command{
		Use:   "parse <file|->",
		Short: "Parse a lead document and print the result as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}

			p := parser.New(opts.validator(), parser.Config{
				DefaultVersion: version,
				StrictMode:     !lenient,
				PhoneRegion:    region,
			}, metrics.Noop(), logger.Discard())
			res := p.Parse(context.Background(), doc, feeddomain.DocumentMeta{
				DealershipRef:  dealership,
				SourceProvider: "cli",
			})

			if err := writeJSON(cmd.OutOrStdout(), transport.ToIngestResponse(res, uuid.Nil, uuid.Nil, false)); err != nil {
				return err
			}
			if !res.OK() {
				return fmt.Errorf("%w: %s", errRejected, res.Code())
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dealership, "dealership", "", "Dealership reference recorded on the lead")
	cmd.Flags().StringVar(&version, "version", "1.0", "Schema version used when the document declares none")
	cmd.Flags().StringVar(&region, "region", "US", "Default region for phone normalization")
	cmd.Flags().BoolVar(&lenient, "lenient", false, "Validate only declared required fields")
	return cmd
}

type validateOutput struct {
	Valid   bool                      `json:"valid"`
	Version string                    `json:"version"`
	Mode    string                    `json:"mode"`
	Errors  []transport.IssueResponse `json:"errors"`
}

func newValidateCmd(opts *rootOptions) *cobra.Command {
	var (
		version string
		lenient bool
	)
	cmd := &cobra.Command{
		Use:   "validate <file|->",
		Short: "Validate a lead document against a schema version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}

			mode := schema.Strict
			if lenient {
				mode = schema.Lenient
			}
			ok, issues := opts.validator().Validate(doc, version, mode)
			out := validateOutput{
				Valid:   ok,
				Version: version,
				Mode:    mode.String(),
				Errors:  transport.Issues(issues),
			}
			if err := writeJSON(cmd.OutOrStdout(), out); err != nil {
				return err
			}
			if !ok {
				return errInvalid
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&version, "version", "1.0", "Schema version to validate against")
	cmd.Flags().BoolVar(&lenient, "lenient", false, "Enforce only declared required fields")
	return cmd
}

func newRenderCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "render <dossier.json|->",
		Short: "Render a dossier as the handover email",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}

			var d dossierdomain.Dossier
			if err := json.Unmarshal(raw, &d); err != nil {
				return fmt.Errorf("decode dossier: %w", err)
			}
			if err := d.Validate(); err != nil {
				return err
			}
			email, err := render.Render(d)
			if err != nil {
				return fmt.Errorf("render dossier: %w", err)
			}

			w := cmd.OutOrStdout()
			switch format {
			case "html":
				_, err = io.WriteString(w, email.HTML)
			case "text":
				_, err = io.WriteString(w, email.Text)
			case "subject":
				_, err = fmt.Fprintln(w, email.Subject)
			default:
				return fmt.Errorf("unknown format %q (want html, text or subject)", format)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&format, "format", "text", "Output format: html, text or subject")
	return cmd
}

func readInput(cmd *cobra.Command, name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return data, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
