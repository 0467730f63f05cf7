package pulumi

type Color string

const (
	ColorAuto   Color = "auto"
	ColorAlways Color = "always"
	ColorNever  Color = "never"
	ColorRaw    Color = "raw"
)

type optupColor Color

type optdestroyColor Color
