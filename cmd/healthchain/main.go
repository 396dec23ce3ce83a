package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dotimplement/healthchain-go/internal/config"
	"github.com/dotimplement/healthchain-go/internal/interop"
	"github.com/dotimplement/healthchain-go/internal/interop/cda"
	"github.com/dotimplement/healthchain-go/internal/interop/configstore"
	"github.com/dotimplement/healthchain-go/internal/interop/hl7v2"
	"github.com/dotimplement/healthchain-go/internal/interop/mapping"
	"github.com/dotimplement/healthchain-go/internal/interop/model"
	"github.com/dotimplement/healthchain-go/internal/interop/template"
	"github.com/dotimplement/healthchain-go/internal/service"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "healthchain",
		Short: "Healthcare document interoperability engine",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(convertCmd())
	rootCmd.AddCommand(documentsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" || os.Getenv("ENV") == "" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return logger
}

// buildEngine wires the store, templates, mapping tables, and format
// handlers into one engine.
func buildEngine(cfg *config.Config, logger zerolog.Logger) (*interop.Engine, error) {
	loader := configstore.NewLoader()
	store, err := loader.Load(cfg.ConfigDir, cfg.Env)
	if err != nil {
		return nil, err
	}

	cdaTable, err := mapping.LoadDir(filepath.Join(cfg.MappingsDir, "cda"))
	if err != nil {
		return nil, err
	}
	hl7Table, err := mapping.LoadDir(filepath.Join(cfg.MappingsDir, "hl7v2"))
	if err != nil {
		return nil, err
	}

	tmplOpts := []template.Option{
		template.WithFilter("mapCode", mapping.TemplateFilter(map[string]*mapping.Table{
			"cda":   cdaTable,
			"hl7v2": hl7Table,
		})),
	}
	if store.GetBool("templates", "reload_on_change") {
		tmplOpts = append(tmplOpts, template.WithReload())
	}
	registry, err := template.New(cfg.TemplatesDir, tmplOpts...)
	if err != nil {
		return nil, err
	}

	engine := interop.New(store, registry, interop.WithLogger(logger))
	engine.RegisterParser(interop.FormatCDA, cda.NewParser(cdaTable, cda.WithParserLogger(logger)))
	engine.RegisterGenerator(interop.FormatCDA, cda.NewGenerator(registry, cdaTable, cda.WithGeneratorLogger(logger)))
	engine.RegisterParser(interop.FormatHL7v2, hl7v2.NewParser(hl7Table, hl7v2.WithParserLogger(logger)))
	engine.RegisterGenerator(interop.FormatHL7v2, hl7v2.NewGenerator(registry, hl7Table, hl7v2.WithGeneratorLogger(logger)))
	return engine, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the conversion API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func runServer() error {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	engine, err := buildEngine(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build engine")
	}
	logger.Info().
		Str("env", cfg.Env).
		Str("config_dir", cfg.ConfigDir).
		Strs("documents", engine.Store().Documents()).
		Msg("engine ready")

	e := service.NewServer(service.NewHandler(engine, logger), logger)
	logger.Info().Str("port", cfg.Port).Msg("listening")
	if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func convertCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Convert a document between formats",
		Long: `Convert reads a document from --in (or stdin), lifts it into canonical
resources, and renders it in the target format. Either side may be "fhir",
in which case the canonical resources themselves are read or written as
JSON.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			from, _ := cmd.Flags().GetString("from")
			to, _ := cmd.Flags().GetString("to")
			document, _ := cmd.Flags().GetString("document")
			in, _ := cmd.Flags().GetString("in")
			out, _ := cmd.Flags().GetString("out")

			if from == "" || to == "" {
				return fmt.Errorf("--from and --to are required")
			}
			if to != "fhir" && document == "" {
				return fmt.Errorf("--document is required when --to is not fhir")
			}

			logger := newLogger()
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			engine, err := buildEngine(cfg, logger)
			if err != nil {
				return err
			}

			raw, err := readInput(in)
			if err != nil {
				return err
			}

			var resources []model.Resource
			if from == "fhir" {
				if err := json.Unmarshal([]byte(raw), &resources); err != nil {
					return fmt.Errorf("malformed resource JSON: %w", err)
				}
			} else {
				resources, err = engine.ToCanonical(raw, interop.Format(from))
				if err != nil {
					return err
				}
			}

			var rendered string
			if to == "fhir" {
				enc, err := json.MarshalIndent(resources, "", "  ")
				if err != nil {
					return err
				}
				rendered = string(enc) + "\n"
			} else {
				rendered, err = engine.FromCanonical(resources, interop.Format(to), document)
				if err != nil {
					return err
				}
			}
			return writeOutput(out, rendered)
		},
	}
	cmd.Flags().String("from", "", "Source format: cda, hl7v2, or fhir")
	cmd.Flags().String("to", "", "Target format: cda, hl7v2, or fhir")
	cmd.Flags().String("document", "", "Document definition name for generation")
	cmd.Flags().String("in", "", "Input file (default stdin)")
	cmd.Flags().String("out", "", "Output file (default stdout)")
	return cmd
}

func documentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "documents",
		Short: "List the loaded document definitions",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := zerolog.Nop()
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			engine, err := buildEngine(cfg, logger)
			if err != nil {
				return err
			}
			for _, name := range engine.Store().Documents() {
				doc, err := engine.Store().Document(name)
				if err != nil {
					return err
				}
				fmt.Printf("%-20s %-8s sections: %d\n", name, doc.Format, len(doc.Sections))
			}
			return nil
		},
	}
}

func readInput(path string) (string, error) {
	if path == "" {
		raw, err := io.ReadAll(os.Stdin)
		return string(raw), err
	}
	raw, err := os.ReadFile(path)
	return string(raw), err
}

func writeOutput(path, content string) error {
	if path == "" {
		_, err := fmt.Fprint(os.Stdout, content)
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}
