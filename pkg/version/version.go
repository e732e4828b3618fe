package version

// Tag is set at build time via -ldflags.
var Tag = "dev"
