package version

// Current is the release version reported by "screener version".
const Current = "0.3.0"
