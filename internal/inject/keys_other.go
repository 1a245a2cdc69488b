//go:build !darwin

package inject

// Off macOS the command shortcuts map to Alt, which browsers and file
// managers use for back/forward.
const commandModifier = "alt"
