package inject

const commandModifier = "cmd"
