package domain

// Route is an app navigation target.
type Route string

const (
	RouteLogin           Route = "/profile/login"
	RouteCompleteProfile Route = "/profile/complete-profile"
	RouteProducerHome    Route = "/producer/home/producer-shop"
	RouteRestaurantHome  Route = "/restaurant/home/restaurant-home"
)

// LandingResponse is returned by GET /v1/session/landing.
type LandingResponse struct {
	Redirect Route          `json:"redirect"`
	Profile  *ProfileStatus `json:"profile,omitempty"`
}
