package kmsd

import (
	_ "embed"
)

//go:embed VERSION
var Version string

//go:embed kmsd.toml
var DefaultConfig string
