package version

// Version is set at build time with -ldflags "-X github.com/galamiram/spotauth/internal/version.Version=..."
var Version = "dev"
