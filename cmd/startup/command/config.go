package command

import (
	"github.com/DefangLabs/startup-stack/pkg/term"
	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"
)

var configCmd = &cobra.Command{
	Use:         "config",
	Annotations: configNeededAnnotation,
	Args:        cobra.NoArgs,
	Short:       "Print the resolved stack configuration as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := yaml.Marshal(config)
		if err != nil {
			return err
		}
		_, err = term.Print(string(out))
		return err
	},
}
