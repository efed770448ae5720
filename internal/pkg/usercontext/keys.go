package usercontext

// Shared Locals keys used across controllers and middlewares
const (
	KeyIdentity = "IDENTITY"
	KeyAuthMode = "auth_mode"
)

// Auth modes recorded in Locals for logging
const (
	AuthModeBearer = "bearer"
	AuthModeDev    = "dev"
)
