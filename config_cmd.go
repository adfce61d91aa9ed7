package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/x/editor"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dgnsrekt/insight-tts/internal/config"
)

var configCmd = &cobra.Command{
	Use:     "config",
	Hidden:  false,
	Short:   "Edit the insight-tts config file",
	Long:    paragraph(fmt.Sprintf("\n%s the insight-tts config file. We’ll use EDITOR to determine which editor to use. If the config file doesn't exist, it will be created.", keyword("Edit"))),
	Example: paragraph("insight-tts config\ninsight-tts config --config path/to/config.yml\ninsight-tts config show"),
	Args:    cobra.NoArgs,
	// A broken file must stay editable, so skip validation here.
	PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
	RunE: func(*cobra.Command, []string) error {
		path, err := configFilePath()
		if err != nil {
			return err
		}
		if err := config.EnsureFile(path); err != nil {
			return err
		}

		c, err := editor.Cmd("insight-tts", path)
		if err != nil {
			return fmt.Errorf("unable to set config file: %w", err)
		}
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		if err := c.Run(); err != nil {
			return fmt.Errorf("unable to run command: %w", err)
		}

		fmt.Println("Wrote config file to:", path)

		// Report problems right away instead of on the next run.
		if _, err := config.LoadFile(path); err != nil {
			return fmt.Errorf("the config file has errors: %w", err)
		}
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		if err := loadConfig(); err != nil {
			return err
		}
		out, err := cfg.YAML()
		if err != nil {
			return fmt.Errorf("unable to encode configuration: %w", err)
		}
		if configPath != "" {
			fmt.Println(faint("# " + configPath))
		}
		fmt.Print(string(out))
		return nil
	},
}

// configFilePath returns the --config path, the file viper would read, or
// the default location for a new file.
func configFilePath() (string, error) {
	if configFile != "" {
		return configFile, nil
	}

	dirs, err := config.SearchDirs()
	if err != nil {
		return "", err
	}
	v := config.NewViper()
	for _, d := range dirs {
		v.AddConfigPath(d)
	}
	if err := v.ReadInConfig(); err == nil {
		return v.ConfigFileUsed(), nil
	} else if !errors.As(err, new(viper.ConfigFileNotFoundError)) {
		// Unparsable files still get opened in the editor.
		if used := v.ConfigFileUsed(); used != "" {
			return used, nil
		}
	}

	if len(dirs) == 0 {
		return "", errors.New("could not find a configuration directory")
	}
	return filepath.Join(dirs[0], config.AppName+".yml"), nil
}

func init() {
	configCmd.AddCommand(configShowCmd)
}
