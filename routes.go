package taskbag

// Route identifies the remote operation a request frame asks for.
type Route uint64

const (
	RouteInvalid Route = iota

	RouteIntroduce

	RoutePublish
	RouteTake
	RoutePeek
	RouteCount

	RouteSetConfiguration
	RouteConfiguration

	RouteTaskCursor
	RouteAdvanceTaskCursor

	routeCount
)

var routeNames = [...]string{
	RouteInvalid:           "Invalid",
	RouteIntroduce:         "Introduce",
	RoutePublish:           "Publish",
	RouteTake:              "Take",
	RoutePeek:              "Peek",
	RouteCount:             "Count",
	RouteSetConfiguration:  "SetConfiguration",
	RouteConfiguration:     "Configuration",
	RouteTaskCursor:        "TaskCursor",
	RouteAdvanceTaskCursor: "AdvanceTaskCursor",
}

func (r Route) String() string {
	if r >= routeCount {
		return routeNames[RouteInvalid]
	}
	return routeNames[r]
}

func (r Route) IsValid() bool {
	return r > RouteInvalid && r < routeCount
}

// IsMutating reports whether the route changes the state of the bag.
func (r Route) IsMutating() bool {
	switch r {
	case RoutePublish, RouteTake, RouteSetConfiguration, RouteAdvanceTaskCursor:
		return true
	default:
		return false
	}
}
