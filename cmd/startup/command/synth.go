package command

import (
	"bytes"
	"fmt"
	"os"

	"github.com/DefangLabs/startup-stack/pkg/clouds/aws/cdk"
	"github.com/DefangLabs/startup-stack/pkg/clouds/aws/cfn"
	"github.com/DefangLabs/startup-stack/pkg/term"
	"github.com/DefangLabs/startup-stack/pkg/types"
	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"
)

var synthCmd = &cobra.Command{
	Use:         "synth",
	Annotations: configNeededAnnotation,
	Args:        cobra.NoArgs,
	Short:       "Print the CloudFormation template of the stack",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine := Engine(cmd.Flag("engine").Value.String())
		format := Format(cmd.Flag("format").Value.String())
		output, _ := cmd.Flags().GetString("output")

		for _, w := range config.Warnings() {
			term.Warn(w)
		}

		body, err := synth(engine, format, config)
		if err != nil {
			return err
		}

		if output == "" {
			_, err = term.Print(string(body))
			return err
		}
		if err := os.WriteFile(output, body, 0644); err != nil {
			return err
		}
		term.Info("Template written to", output)
		return nil
	},
}

func synth(engine Engine, format Format, cfg types.Config) ([]byte, error) {
	switch engine {
	case EngineCfn:
		template, err := cfn.CreateTemplate(cfg)
		if err != nil {
			return nil, err
		}
		if format == FormatJSON {
			return template.JSON()
		}
		return template.YAML()

	case EngineCdk:
		outdir, err := os.MkdirTemp("", "startup-cdk-")
		if err != nil {
			return nil, err
		}
		defer os.RemoveAll(outdir)

		usedCDK = true
		body, err := cdk.Synth(cfg, region, outdir)
		if err != nil || format == FormatJSON {
			return body, err
		}
		return jsonToYAML(body)

	default:
		return nil, fmt.Errorf("unsupported engine: %q", engine)
	}
}

// jsonToYAML re-encodes a JSON document as YAML; JSON is valid YAML, so the
// YAML decoder reads it with key order preserved.
func jsonToYAML(body []byte) ([]byte, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(body, &doc); err != nil {
		return nil, err
	}
	clearStyle(&doc)

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// clearStyle drops the flow and quoting styles the decoder records for JSON
// input; the encoder still quotes strings that would not read back as strings.
func clearStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		clearStyle(c)
	}
}
