package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"pkt.systems/ledgerd"
)

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage ledgerd configuration files",
	}
	cmd.AddCommand(newConfigGenCommand())
	return cmd
}

func newConfigGenCommand() *cobra.Command {
	var outPath string
	var force bool
	var stdout bool
	defaultOutput := "$HOME/.ledgerd/" + ledgerd.DefaultConfigFileName
	if dir, err := ledgerd.DefaultConfigDir(); err == nil {
		defaultOutput = filepath.Join(dir, ledgerd.DefaultConfigFileName)
	}

	cmd := &cobra.Command{
		Use:   "gen",
		Short: "Generate a default ledgerd configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if stdout && outPath != "" {
				return fmt.Errorf("--stdout and --out are mutually exclusive")
			}
			data, err := defaultConfigYAML()
			if err != nil {
				return err
			}
			if stdout {
				_, err := cmd.OutOrStdout().Write(data)
				return err
			}
			if outPath == "" {
				dir, err := ledgerd.DefaultConfigDir()
				if err != nil {
					return fmt.Errorf("resolve config dir: %w", err)
				}
				outPath = filepath.Join(dir, ledgerd.DefaultConfigFileName)
			}
			if !force {
				if _, err := os.Stat(outPath); err == nil {
					return fmt.Errorf("%s already exists (use --force to overwrite)", outPath)
				}
			}
			if err := os.MkdirAll(filepath.Dir(outPath), 0o700); err != nil {
				return fmt.Errorf("create config dir: %w", err)
			}
			if err := os.WriteFile(outPath, data, 0o600); err != nil {
				return fmt.Errorf("write config: %w", err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", outPath)
			return err
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "output path (default "+defaultOutput+")")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cmd.Flags().BoolVar(&stdout, "stdout", false, "write to stdout instead of a file")
	return cmd
}

// configDefaults mirrors the serve flags; keys match flag names so viper
// picks them up unchanged.
type configDefaults struct {
	Listen                 string  `yaml:"listen"`
	BaseURL                string  `yaml:"base-url"`
	MCPPath                string  `yaml:"mcp-path"`
	BlobStore              string  `yaml:"blob-store"`
	Compression            string  `yaml:"compression"`
	ResourceIndex          string  `yaml:"resource-index"`
	PermissionStore        string  `yaml:"permission-store"`
	AuditSink              string  `yaml:"audit-sink"`
	BlobRetryAttempts      int     `yaml:"blob-retry-attempts"`
	BlobRetryBaseDelay     string  `yaml:"blob-retry-base-delay"`
	BlobRetryMaxDelay      string  `yaml:"blob-retry-max-delay"`
	BlobRetryMultiplier    float64 `yaml:"blob-retry-multiplier"`
	CredentialsFile        string  `yaml:"credentials-file"`
	CatalogFile            string  `yaml:"catalog-file"`
	TokenFile              string  `yaml:"token-file"`
	DevAuth                bool    `yaml:"dev-auth"`
	UpstreamTimeout        string  `yaml:"upstream-timeout"`
	SweepInterval          string  `yaml:"sweep-interval"`
	ShutdownTimeout        string  `yaml:"shutdown-timeout"`
	OTLPEndpoint           string  `yaml:"otlp-endpoint"`
	MetricsListen          string  `yaml:"metrics-listen"`
	PprofListen            string  `yaml:"pprof-listen"`
	EnableProfilingMetrics bool    `yaml:"enable-profiling-metrics"`
	LogLevel               string  `yaml:"log-level"`
}

func defaultConfigYAML() ([]byte, error) {
	tokenFile := ""
	credentialsFile := ""
	if dir, err := ledgerd.DefaultConfigDir(); err == nil {
		tokenFile = filepath.Join(dir, "tokens.yaml")
		credentialsFile = filepath.Join(dir, "credentials.yaml")
	}
	defaults := configDefaults{
		Listen:                 ledgerd.DefaultListen,
		BaseURL:                ledgerd.DefaultBaseURL,
		MCPPath:                ledgerd.DefaultMCPPath,
		BlobStore:              ledgerd.DefaultBlobStore,
		Compression:            ledgerd.DefaultCompression,
		ResourceIndex:          ledgerd.DefaultResourceIndex,
		PermissionStore:        ledgerd.DefaultPermissionStore,
		BlobRetryAttempts:      ledgerd.DefaultBlobRetryMaxAttempts,
		BlobRetryBaseDelay:     ledgerd.DefaultBlobRetryBaseDelay.String(),
		BlobRetryMaxDelay:      ledgerd.DefaultBlobRetryMaxDelay.String(),
		BlobRetryMultiplier:    ledgerd.DefaultBlobRetryMultiplier,
		CredentialsFile:        credentialsFile,
		TokenFile:              tokenFile,
		UpstreamTimeout:        ledgerd.DefaultUpstreamTimeout.String(),
		SweepInterval:          ledgerd.DefaultSweepInterval.String(),
		ShutdownTimeout:        ledgerd.DefaultShutdownTimeout.String(),
		MetricsListen:          ledgerd.DefaultMetricsListen,
		PprofListen:            ledgerd.DefaultPprofListen,
		EnableProfilingMetrics: false,
		LogLevel:               "info",
	}
	data, err := yaml.Marshal(defaults)
	if err != nil {
		return nil, fmt.Errorf("encode default config: %w", err)
	}
	header := []byte("# ledgerd configuration. Keys match the command line flags; LEDGERD_<FLAG> env vars override them.\n")
	return append(header, data...), nil
}
