package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/DavidPeltz/pinvault"
	"github.com/DavidPeltz/pinvault/audit"
	"github.com/DavidPeltz/pinvault/persist"
)

var (
	cfgFile     string
	recordsPath string
	password    string
	store       *pinvault.MemoryStore
	sink        pinvault.FileSink
	svc         pinvault.BackupService
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "pinvault",
	Short: "Maintenance tool for encrypted grid-record backups",
	Long: `A maintenance tool for the pinvault backup format. It creates, restores,
inspects and shares password-encrypted backups of 40-cell grid records.
Records live in a local JSON file; backups go to a local directory or an
S3-compatible object store.`,
	PersistentPreRunE: initializeService,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if svc != nil {
			return svc.Close()
		}
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.pinvault.yaml)")
	rootCmd.PersistentFlags().StringVarP(&recordsPath, "records", "r", "", "path to the records JSON file")
	rootCmd.PersistentFlags().StringVar(&password, "password", "", "backup password (or use PINVAULT_PASSWORD env var)")
	rootCmd.PersistentFlags().String("backups-path", "", "directory for backup files")
	rootCmd.PersistentFlags().String("backups-type", "", "backup destination type (file, s3)")

	bindFlagOrPanic("records.path", "records")
	bindFlagOrPanic("password", "password")
	bindFlagOrPanic("backups.path", "backups-path")
	bindFlagOrPanic("backups.type", "backups-type")

	// KDF flags
	rootCmd.PersistentFlags().String("kdf", "", "key derivation algorithm (pbkdf2-sha256, argon2id)")
	rootCmd.PersistentFlags().Uint32("kdf-rounds", 0, "key derivation cost (0 selects the default)")

	bindFlagOrPanic("kdf.algorithm", "kdf")
	bindFlagOrPanic("kdf.rounds", "kdf-rounds")

	// Audit flags
	rootCmd.PersistentFlags().Bool("audit", false, "enable audit logging")
	rootCmd.PersistentFlags().String("audit-type", "", "audit logger type (file, syslog)")
	rootCmd.PersistentFlags().String("audit-file", "", "audit log file path")

	bindFlagOrPanic("audit.enabled", "audit")
	bindFlagOrPanic("audit.type", "audit-type")
	bindFlagOrPanic("audit.options.file_path", "audit-file")

	// S3 flags (for direct CLI usage)
	rootCmd.PersistentFlags().String("s3-endpoint", "", "S3 endpoint URL")
	rootCmd.PersistentFlags().String("s3-region", "", "S3 region")
	rootCmd.PersistentFlags().String("s3-bucket", "", "S3 bucket name")
	rootCmd.PersistentFlags().String("s3-prefix", "", "S3 key prefix")
	rootCmd.PersistentFlags().String("s3-access-key", "", "S3 access key ID")
	rootCmd.PersistentFlags().String("s3-secret-key", "", "S3 secret access key")
	rootCmd.PersistentFlags().Bool("s3-use-ssl", true, "Use SSL for S3 connections")

	bindFlagOrPanic("s3.endpoint", "s3-endpoint")
	bindFlagOrPanic("s3.region", "s3-region")
	bindFlagOrPanic("s3.bucket", "s3-bucket")
	bindFlagOrPanic("s3.key_prefix", "s3-prefix")
	bindFlagOrPanic("s3.access_key_id", "s3-access-key")
	bindFlagOrPanic("s3.secret_access_key", "s3-secret-key")
	bindFlagOrPanic("s3.use_ssl", "s3-use-ssl")
}

func bindFlagOrPanic(configKey, flagName string) {
	if err := viper.BindPFlag(configKey, rootCmd.PersistentFlags().Lookup(flagName)); err != nil {
		panic(fmt.Sprintf("failed to bind %s flag: %v", flagName, err))
	}
}

func initConfig() {
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")

		viper.SetConfigType("yaml")
		viper.SetConfigName(".pinvault")
	}

	viper.SetEnvPrefix("PINVAULT")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "Error reading config file: %v\n", err)
		}
		// Config file not found is OK - defaults and env vars apply
	}
}

func setDefaults() {
	viper.SetDefault("records.path", "records.json")
	viper.SetDefault("backups.path", ".pinvault")
	viper.SetDefault("backups.type", "file")

	viper.SetDefault("kdf.algorithm", string(pinvault.KDFPBKDF2))
	viper.SetDefault("kdf.rounds", 0)

	viper.SetDefault("s3.region", "us-east-1")
	viper.SetDefault("s3.key_prefix", "pinvault/")
	viper.SetDefault("s3.use_ssl", true)

	viper.SetDefault("audit.enabled", false)
	viper.SetDefault("audit.type", "file")
	viper.SetDefault("audit.options.file_path", "audit.log")
	viper.SetDefault("audit.options.max_size", 100)
}

func initializeService(cmd *cobra.Command, args []string) error {
	if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
		return nil
	}

	recordsPath = viper.GetString("records.path")

	password = viper.GetString("password")
	if password == "" {
		password = os.Getenv("PINVAULT_PASSWORD")
	}

	var err error
	store, err = loadRecords(recordsPath)
	if err != nil {
		return fmt.Errorf("failed to load records: %w", err)
	}

	sink, err = createSink()
	if err != nil {
		return fmt.Errorf("failed to create backup sink: %w", err)
	}

	opts := pinvault.Options{
		KDFAlgorithm: pinvault.KDFAlgorithm(viper.GetString("kdf.algorithm")),
		KDFRounds:    viper.GetUint32("kdf.rounds"),
		Audit:        auditConfig(),
	}

	svc, err = pinvault.NewService(store, nil, sink, opts)
	if err != nil {
		return fmt.Errorf("failed to create backup service: %w", err)
	}

	return nil
}

func createSink() (pinvault.FileSink, error) {
	backupsPath := viper.GetString("backups.path")

	switch viper.GetString("backups.type") {
	case "file", "":
		return persist.NewFileSystemSink(newOsFS(), absPath(backupsPath))
	case "s3":
		return persist.NewS3Sink(persist.S3Config{
			Endpoint:        viper.GetString("s3.endpoint"),
			AccessKeyID:     viper.GetString("s3.access_key_id"),
			SecretAccessKey: viper.GetString("s3.secret_access_key"),
			UseSSL:          viper.GetBool("s3.use_ssl"),
			Region:          viper.GetString("s3.region"),
			Bucket:          viper.GetString("s3.bucket"),
			KeyPrefix:       viper.GetString("s3.key_prefix"),
		})
	default:
		return nil, fmt.Errorf("unknown backups type: %s", viper.GetString("backups.type"))
	}
}

func auditConfig() *audit.Config {
	if !viper.GetBool("audit.enabled") {
		return nil
	}
	return &audit.Config{
		Enabled: true,
		Type:    audit.ConfigType(viper.GetString("audit.type")),
		Options: map[string]interface{}{
			"file_path": viper.GetString("audit.options.file_path"),
			"max_size":  viper.GetInt("audit.options.max_size"),
		},
	}
}

func requirePassword() error {
	if password == "" {
		return fmt.Errorf("backup password is required. Use --password flag or PINVAULT_PASSWORD environment variable")
	}
	return nil
}

// loadRecords reads the records JSON file into a memory store. A
// missing file is an empty store, so first runs work without setup.
func loadRecords(path string) (*pinvault.MemoryStore, error) {
	store := pinvault.NewMemoryStore()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return store, nil
		}
		return nil, err
	}

	var records map[string]pinvault.Record
	if err = json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("malformed records file %s: %w", path, err)
	}

	for _, rec := range records {
		if _, err = store.Put(rec); err != nil {
			return nil, err
		}
	}
	return store, nil
}

// saveRecords writes the store back to the records JSON file.
func saveRecords(path string, store *pinvault.MemoryStore) error {
	records, err := store.GetAll()
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "." {
		if err = os.MkdirAll(dir, 0700); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0600)
}

func absPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}
