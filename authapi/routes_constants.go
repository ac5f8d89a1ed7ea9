package authapi

// Gateway routes, relative to the configured base URL.
const (
	RouteLogin            = "/login"
	RouteRegister         = "/register"
	RouteLogout           = "/logout"
	RouteProfile          = "/profile"
	RouteRefresh          = "/refresh"
	RouteChangePassword   = "/change-password"
	RouteForgotPassword   = "/forgot-password"
	RouteResetPassword    = "/reset-password"
	RouteDeviceRegister   = "/devices/register/"
	RouteDeviceUnregister = "/devices/unregister/"
)

const RequestIDHeader = "X-Request-Id"
