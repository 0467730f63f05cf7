package command

import (
	"cmp"
	"fmt"
	"os"

	"github.com/DefangLabs/startup-stack/pkg"
	"github.com/DefangLabs/startup-stack/pkg/term"
	"github.com/DefangLabs/startup-stack/pkg/types"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

// GLOBALS
var (
	colorMode  = ColorAuto
	configFile string
	doDebug    = false
	hasTty     = term.IsTerminal() && !pkg.GetenvBool("CI")
	region     string
	stackName  string
	stage      = types.DefaultStage

	config  types.Config
	usedCDK bool
)

const rcfile = ".startuprc"

// Environment variables for flags that were not given on the command line.
var flagEnv = map[string]string{
	"color":  "STARTUP_COLOR",
	"config": "STARTUP_CONFIG",
	"debug":  "STARTUP_DEBUG",
	"region": "STARTUP_REGION",
	"stack":  "STARTUP_STACK",
}

// readGlobals loads the .startuprc files of the stage into the environment
// and applies the STARTUP_* variables to the flags that were not set. The
// environment wins over .startuprc.<stage>, which wins over .startuprc.
func readGlobals(flags *pflag.FlagSet) error {
	base, err := godotenv.Read(rcfile)
	if err != nil {
		term.Debugf("could not load %s: %v", rcfile, err)
	}

	// .startuprc may pick the stage, which names the second file
	if f := flags.Lookup("stage"); f != nil && !f.Changed {
		stage = pkg.Getenv("STARTUP_STAGE", cmp.Or(base["STARTUP_STAGE"], stage))
	}

	stagefile := rcfile + "." + stage
	if err := godotenv.Load(stagefile); err != nil {
		term.Debugf("could not load %s: %v", stagefile, err)
	} else {
		term.Debugf("loaded globals from %s", stagefile)
	}
	for key, value := range base {
		if _, ok := os.LookupEnv(key); !ok {
			os.Setenv(key, value)
		}
	}

	for name, key := range flagEnv {
		f := flags.Lookup(name)
		if f == nil || f.Changed {
			continue
		}
		if value, ok := os.LookupEnv(key); ok {
			if err := f.Value.Set(value); err != nil {
				return fmt.Errorf("invalid %s: %w", key, err)
			}
		}
	}
	return nil
}

// loadConfig layers the configuration file and the stack flag over the stage defaults.
func loadConfig() (types.Config, error) {
	cfg := types.DefaultConfig(stage)
	if configFile != "" {
		f, err := os.Open(configFile)
		if err != nil {
			return cfg, err
		}
		defer f.Close()
		if cfg, err = cfg.Merge(f); err != nil {
			return cfg, fmt.Errorf("%s: %w", configFile, err)
		}
		term.Debug("Loaded configuration from", configFile)
	}
	if stackName != "" {
		cfg.StackName = stackName
	}
	if !pkg.IsValidStackName(cfg.StackName) {
		return cfg, fmt.Errorf("invalid stack name %q: use letters, digits and hyphens, starting with a letter", cfg.StackName)
	}
	return cfg, cfg.Validate()
}

// UsedCDK reports whether the CDK was started, so that main can stop it.
func UsedCDK() bool {
	return usedCDK
}
