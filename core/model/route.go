package model

import (
	"fmt"
	"regexp"
)

const (
	SuffixPlus  = "+"
	SuffixMinus = "-"
)

// AccessoryValue is the position a turnout or signal is switched to.
type AccessoryValue string

const (
	AccessoryStraight AccessoryValue = "straight"
	AccessoryCurved   AccessoryValue = "curved"
	AccessoryGreen    AccessoryValue = "green"
	AccessoryRed      AccessoryValue = "red"
)

// RouteElement is one accessory setting applied when a route is set.
type RouteElement struct {
	TileID      string         `json:"tile_id"`
	Address     int            `json:"address"`
	DecoderType DecoderType    `json:"decoder_type,omitempty"`
	Value       AccessoryValue `json:"value"`
	Order       int            `json:"order"`
}

// Route is a directed path between two blocks.
type Route struct {
	ID         string         `json:"id"`
	FromTileID string         `json:"from_tile_id"`
	FromSuffix string         `json:"from_suffix"`
	ToTileID   string         `json:"to_tile_id"`
	ToSuffix   string         `json:"to_suffix"`
	Elements   []RouteElement `json:"elements,omitempty"`
	Locked     bool           `json:"locked"`
}

// RouteID formats the canonical identifier "[from<s>]->[to<s>]".
func RouteID(fromTileID, fromSuffix, toTileID, toSuffix string) string {
	return fmt.Sprintf("[%s%s]->[%s%s]", fromTileID, fromSuffix, toTileID, toSuffix)
}

var routeIDPattern = regexp.MustCompile(`^\[(.+)([+-])\]->\[(.+)([+-])\]$`)

// ParseRouteID splits a canonical route identifier into its parts.
func ParseRouteID(id string) (fromTileID, fromSuffix, toTileID, toSuffix string, err error) {
	m := routeIDPattern.FindStringSubmatch(id)
	if m == nil {
		return "", "", "", "", fmt.Errorf("malformed route id %q", id)
	}
	return m[1], m[2], m[3], m[4], nil
}

// NewRoute builds a route and derives its identifier.
func NewRoute(fromTileID, fromSuffix, toTileID, toSuffix string, elements ...RouteElement) Route {
	return Route{
		ID:         RouteID(fromTileID, fromSuffix, toTileID, toSuffix),
		FromTileID: fromTileID,
		FromSuffix: fromSuffix,
		ToTileID:   toTileID,
		ToSuffix:   toSuffix,
		Elements:   elements,
	}
}

// DepartureDirection is the direction a locomotive drives when leaving
// through the route's origin side.
func (r Route) DepartureDirection() Direction {
	if r.FromSuffix == SuffixMinus {
		return Backwards
	}
	return Forwards
}

// Clone returns a deep copy of r.
func (r Route) Clone() Route {
	if r.Elements != nil {
		r.Elements = append([]RouteElement(nil), r.Elements...)
	}
	return r
}
