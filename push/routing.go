package push

import "github.com/jrsteele09/membership-session/internal/utils"

// Authenticated surfaces reachable from a notification.
const (
	RouteLanding         = "/(authenticated)/(tabs)"
	RouteAppointments    = "/(authenticated)/appointments"
	RouteServiceSchedule = "/(authenticated)/service-schedule"
	RouteOffers          = "/(authenticated)/offers"
	RouteChat            = "/(authenticated)/chat"
	RouteReferrals       = "/(authenticated)/referrals"
)

// RouteFor picks the surface for a tapped notification. deepLink wins over type.
// An appointment without an id opens nothing.
func RouteFor(data map[string]any) string {
	if link := utils.StringField(data, "deepLink"); link != "" {
		return link
	}
	switch utils.StringField(data, "type") {
	case "":
		return ""
	case "appointment":
		if utils.StringField(data, "appointmentId") == "" {
			return ""
		}
		return RouteAppointments
	case "service_due":
		return RouteServiceSchedule
	case "offer":
		return RouteOffers
	case "chat":
		return RouteChat
	case "referral":
		return RouteReferrals
	default:
		return RouteLanding
	}
}
