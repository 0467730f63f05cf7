package command

import (
	"fmt"
	"slices"

	"github.com/DefangLabs/startup-stack/pkg/clouds/aws/pulumi"
	"github.com/spf13/pflag"
)

type ColorMode string

const (
	// ColorNever disables color output.
	ColorNever ColorMode = "never"
	// ColorAuto enables color output only if the output is connected to a terminal.
	ColorAuto ColorMode = "auto"
	// ColorAlways enables color output.
	ColorAlways ColorMode = "always"
)

var allColorModes = []ColorMode{
	ColorNever,
	ColorAuto,
	ColorAlways,
}

var _ pflag.Value = (*ColorMode)(nil)

func (c ColorMode) String() string {
	return string(c)
}

func (c *ColorMode) Set(value string) error {
	for _, colorMode := range allColorModes {
		if colorMode.String() == value {
			*c = colorMode
			return nil
		}
	}
	return fmt.Errorf("invalid color: %q, not one of %v", value, allColorModes)
}

func (c ColorMode) Type() string {
	return "color-mode"
}

// Pulumi renders its progress itself; it must agree with our own output.
func (c ColorMode) pulumi() pulumi.Color {
	switch c {
	case ColorNever:
		return pulumi.ColorNever
	case ColorAlways:
		return pulumi.ColorAlways
	default:
		return pulumi.ColorAuto
	}
}

type Engine string

const (
	EngineCfn    Engine = "cfn"
	EngineCdk    Engine = "cdk"
	EnginePulumi Engine = "pulumi"
)

// engineFlag is an Engine restricted to what a command supports.
type engineFlag struct {
	engine  Engine
	allowed []Engine
}

var _ pflag.Value = (*engineFlag)(nil)

func newEngineFlag(allowed ...Engine) *engineFlag {
	return &engineFlag{engine: allowed[0], allowed: allowed}
}

func (e *engineFlag) String() string {
	return string(e.engine)
}

func (e *engineFlag) Set(value string) error {
	if !slices.Contains(e.allowed, Engine(value)) {
		return fmt.Errorf("invalid engine: %q, not one of %v", value, e.allowed)
	}
	e.engine = Engine(value)
	return nil
}

func (e *engineFlag) Type() string {
	return "engine"
}

type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

var allFormats = []Format{FormatYAML, FormatJSON}

var _ pflag.Value = (*Format)(nil)

func (f Format) String() string {
	return string(f)
}

func (f *Format) Set(value string) error {
	if !slices.Contains(allFormats, Format(value)) {
		return fmt.Errorf("invalid format: %q, not one of %v", value, allFormats)
	}
	*f = Format(value)
	return nil
}

func (f Format) Type() string {
	return "format"
}
